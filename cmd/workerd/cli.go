package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"cmdworker/internal/certgen"
	"cmdworker/internal/jobpool"
)

func rootCmd() *cobra.Command {
	cfg := defaultConfig()

	var configPath string

	c := &cobra.Command{
		Use:          "workerd",
		Short:        "HTTPS server for executing arbitrary commands on a remote host",
		Example:      "  workerd --debug",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.loadFile(configPath, cmd.Flags()); err != nil {
				return err
			}

			if err := cfg.validate(); err != nil {
				return err
			}

			return runServer(cmd, cfg)
		},
	}

	c.Flags().StringVar(&cfg.host, "host", cfg.host, "Host to bind")
	c.Flags().Uint16Var(&cfg.port, "port", cfg.port, "Port to bind")
	c.Flags().BoolVar(&cfg.debug, "debug", false, "Enable debug logs")

	c.Flags().
		StringVar(&cfg.serverCertPath, "server-cert", cfg.serverCertPath, "Path to server certificate")

	c.Flags().
		StringVar(&cfg.serverKeyPath, "server-key", cfg.serverKeyPath, "Path to server private key")

	c.Flags().
		StringVar(&cfg.caCertPath, "ca-cert", cfg.caCertPath, "Path to CA certificate for mTLS")

	c.Flags().
		StringVar(&configPath, "config", "", "Path to YAML config file (flags take precedence)")

	c.AddCommand(certsCmd())

	c.CompletionOptions.HiddenDefaultCmd = true

	return c
}

func certsCmd() *cobra.Command {
	var (
		outDir  string
		hosts   []string
		clients []string
	)

	c := &cobra.Command{
		Use:     "certs",
		Short:   "Generate a CA plus server and client certificates for mTLS",
		Example: "  workerd certs --out-dir certs --clients alice,bob",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := certgen.Generate(certgen.Request{
				Dir:     outDir,
				Hosts:   hosts,
				Clients: clients,
			}); err != nil {
				return err
			}

			fmt.Fprintf(
				cmd.OutOrStdout(),
				"wrote CA, server and client certificates for [%s] to %s\n",
				strings.Join(clients, ", "),
				outDir,
			)

			return nil
		},
	}

	c.Flags().StringVar(&outDir, "out-dir", "certs", "Directory to write certificate files to")

	c.Flags().
		StringSliceVar(&hosts, "hosts", []string{"localhost", "127.0.0.1"}, "Server certificate hostnames and IPs")

	c.Flags().
		StringSliceVar(&clients, "clients", []string{"client"}, "Client identities to mint certificates for")

	return c
}

func runServer(cmd *cobra.Command, cfg *config) error {
	logger := newLogger(cfg.debug)

	listener, err := net.Listen(
		"tcp",
		net.JoinHostPort(cfg.host, strconv.Itoa(int(cfg.port))),
	)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	registry := jobpool.NewRegistry()
	s := newServer(registry, logger, cfg)

	errCh := make(chan error, 1)

	go func() {
		errCh <- s.start(listener)
	}()

	logger.Info("server listening", "addr", listener.Addr().String())

	select {
	case <-cmd.Context().Done():
		logger.Info("shutting down")
		s.shutdown()
		registry.Shutdown()

		return nil
	case err := <-errCh:
		return err
	}
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}
