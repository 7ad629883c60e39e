// Package tlsconfig builds the TLS configuration for both sides of the
// mutually-authenticated connection between server and client.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Config holds the certificate material paths for one side of the
// connection. ServerName is only used on the client side to verify the
// server certificate.
type Config struct {
	CertPath   string
	KeyPath    string
	CACertPath string
	ServerName string
	Server     bool
}

// SetupTLS loads the certificate material referenced by config and returns a
// tls.Config enforcing TLS 1.3 and, on the server side, mandatory client
// certificate verification against the CA.
func SetupTLS(config *Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(config.CertPath, config.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	caCert, err := os.ReadFile(config.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate PEM")
	}

	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
	}

	if config.Server {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		tlsConfig.ClientCAs = caCertPool
	} else {
		tlsConfig.RootCAs = caCertPool
		tlsConfig.ServerName = config.ServerName
	}

	return tlsConfig, nil
}
