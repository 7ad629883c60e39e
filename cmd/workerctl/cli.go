package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type config struct {
	serverHostname string
	serverPort     string
	certPath       string
	keyPath        string
	caCertPath     string
}

type cli struct {
	client *client
}

func newCLI() *cli {
	return &cli{}
}

func (c *cli) rootCmd() *cobra.Command {
	cfg := &config{}

	command := &cobra.Command{
		Use:          "workerctl",
		Short:        "CLI for interacting with a workerd server",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cfg)
			if err != nil {
				return err
			}

			c.client = client

			return nil
		},
	}

	command.AddCommand(
		c.runCmd(),
		c.listCmd(),
		c.statusCmd(),
		c.outputCmd(),
		c.deleteCmd(),
	)

	command.CompletionOptions.HiddenDefaultCmd = true

	command.PersistentFlags().StringVar(
		&cfg.serverHostname,
		"server-hostname",
		"localhost",
		"Server hostname",
	)

	command.PersistentFlags().StringVar(
		&cfg.serverPort,
		"server-port",
		"8443",
		"Server port",
	)

	command.PersistentFlags().StringVar(
		&cfg.certPath,
		"cert-path",
		"certs/client.crt",
		"Path to client TLS certificate",
	)

	command.PersistentFlags().StringVar(
		&cfg.keyPath,
		"key-path",
		"certs/client.key",
		"Path to client TLS private key",
	)

	command.PersistentFlags().StringVar(
		&cfg.caCertPath,
		"ca-cert-path",
		"certs/ca.crt",
		"Path to CA certificate for mTLS",
	)

	return command
}

func (c *cli) runCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "run [flags] COMMAND [ARGS]",
		Short:   "Submit a new job",
		Example: "  workerctl run tail -f server.log",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.client.submitJob(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", id)

			return nil
		},
	}

	// Stop parsing args after the first positional so that flags meant for
	// the program being run are passed as-is, e.g. `-f` is an argument to
	// `tail`, not to `workerctl run`:
	//	`workerctl run tail -f server.log`
	command.Flags().SetInterspersed(false)

	return command
}

func (c *cli) listCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "list [flags]",
		Short:   "List jobs",
		Example: "  workerctl list",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := c.client.listJobs(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			fmt.Fprintf(w, "ID\tCOMMAND\t\n")
			for _, job := range jobs {
				fmt.Fprintf(
					w,
					"%d\t%s\t\n",
					job.ID,
					strings.Join(append([]string{job.Command}, job.Args...), " "),
				)
			}

			return w.Flush()
		},
	}

	return command
}

func (c *cli) statusCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "status [flags] JOB_ID",
		Short:   "Query status of a job",
		Example: "  workerctl status 42",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}

			status, err := c.client.jobStatus(cmd.Context(), id)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			fmt.Fprintf(w, "STATE\tEXIT CODE\tMESSAGE\t\n")
			fmt.Fprintf(
				w,
				"%s\t%d\t%s\t\n",
				status.State,
				status.ExitCode,
				status.Message,
			)

			return w.Flush()
		},
	}

	return command
}

func (c *cli) outputCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "output [flags] JOB_ID",
		Short:   "Fetch a snapshot of a job's captured output",
		Example: "  workerctl output 42",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}

			output, err := c.client.jobOutput(cmd.Context(), id)
			if err != nil {
				return err
			}

			cmd.OutOrStdout().Write([]byte(output.Stdout))
			cmd.ErrOrStderr().Write([]byte(output.Stderr))

			return nil
		},
	}

	return command
}

func (c *cli) deleteCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "delete [flags] JOB_ID",
		Short:   "Delete a job, killing its process if still running",
		Example: "  workerctl delete 42",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}

			return c.client.deleteJob(cmd.Context(), id)
		},
	}

	return command
}

func parseJobID(arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid job id '%s'", arg)
	}

	return id, nil
}
