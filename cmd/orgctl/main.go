// Package main is orgctl, the operator tool for orgstore. It inspects the
// registry and namespace backends directly and never goes through the HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	command := NewRootCommand()
	if err := command.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// RootOptions are flags shared by every subcommand
type RootOptions struct {
	ConfigPath string
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "orgctl [command]",
		Short:         "orgstore operator utilities",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", os.Getenv("CONFIG_PATH"), "Path to the orgstore config file")

	cmd.AddCommand(NewOrphansCommand(opts))
	cmd.AddCommand(NewMigrationCommand(opts))
	cmd.AddCommand(NewHashPasswordCommand())

	return cmd
}
