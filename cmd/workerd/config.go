package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type config struct {
	host           string
	port           uint16
	serverCertPath string
	serverKeyPath  string
	caCertPath     string
	debug          bool
}

func defaultConfig() *config {
	return &config{
		host:           "localhost",
		port:           8443,
		serverCertPath: "certs/server.crt",
		serverKeyPath:  "certs/server.key",
		caCertPath:     "certs/ca.crt",
	}
}

// fileConfig mirrors config for the optional YAML config file. Pointer
// fields distinguish 'absent' from zero values.
type fileConfig struct {
	Host       *string `yaml:"host"`
	Port       *uint16 `yaml:"port"`
	ServerCert *string `yaml:"server_cert"`
	ServerKey  *string `yaml:"server_key"`
	CACert     *string `yaml:"ca_cert"`
	Debug      *bool   `yaml:"debug"`
}

// loadFile merges values from the YAML file at path into c. Flags set
// explicitly on the command line win over file values.
func (c *config) loadFile(path string, flags *pflag.FlagSet) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if file.Host != nil && !flags.Changed("host") {
		c.host = *file.Host
	}

	if file.Port != nil && !flags.Changed("port") {
		c.port = *file.Port
	}

	if file.ServerCert != nil && !flags.Changed("server-cert") {
		c.serverCertPath = *file.ServerCert
	}

	if file.ServerKey != nil && !flags.Changed("server-key") {
		c.serverKeyPath = *file.ServerKey
	}

	if file.CACert != nil && !flags.Changed("ca-cert") {
		c.caCertPath = *file.CACert
	}

	if file.Debug != nil && !flags.Changed("debug") {
		c.debug = *file.Debug
	}

	return nil
}

func (c *config) validate() error {
	if c.port == 0 {
		return errors.New("port cannot be 0")
	}

	if c.serverCertPath == "" {
		return errors.New("server-cert cannot be empty")
	}

	if _, err := os.Stat(c.serverCertPath); err != nil {
		return fmt.Errorf("failed to stat server-cert: %w", err)
	}

	if c.serverKeyPath == "" {
		return errors.New("server-key cannot be empty")
	}

	if _, err := os.Stat(c.serverKeyPath); err != nil {
		return fmt.Errorf("failed to stat server-key: %w", err)
	}

	if c.caCertPath == "" {
		return errors.New("ca-cert cannot be empty")
	}

	if _, err := os.Stat(c.caCertPath); err != nil {
		return fmt.Errorf("failed to stat ca-cert: %w", err)
	}

	return nil
}
