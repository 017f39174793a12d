package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/orgstore/orgstore/internal/app"
	"github.com/orgstore/orgstore/internal/config"
	"github.com/orgstore/orgstore/internal/services"
	"github.com/orgstore/orgstore/internal/telemetry"
)

// OrphansOptions configures the orphans command
type OrphansOptions struct {
	Root        *RootOptions
	DropOrphans bool
	JSON        bool
}

// orphanReconciler is satisfied by *services.Reconciler
type orphanReconciler interface {
	Scan(ctx context.Context) (*services.OrphanReport, error)
	DropUnreferenced(ctx context.Context, namespaces []string) ([]string, error)
}

func NewOrphansCommand(root *RootOptions) *cobra.Command {
	opts := &OrphansOptions{Root: root}

	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "Report namespaces and registry rows that no longer match",
		Long: `List namespaces that no registry row references, and organizations
whose namespace is not materialized. Both are left behind by operations
interrupted between their namespace and registry steps.

Nothing is changed unless --drop-orphans is given, which drops unreferenced
namespaces. Organizations with a missing namespace are only reported.

--drop-orphans needs locking.backend redis or postgres. The in-process
memory locker cannot see operations running in a server, so a namespace
being created there could be dropped mid-flight.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.Run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.DropOrphans, "drop-orphans", false, "Drop namespaces that no registry row references")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the report as JSON")

	return cmd
}

func (o *OrphansOptions) Run(ctx context.Context, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(o.Root.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	slog.SetDefault(telemetry.NewLogger(os.Stderr, cfg.Logging.Format, cfg.Logging.Level))
	if err := o.checkLocking(&cfg.Locking); err != nil {
		return err
	}

	backends, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer backends.Close(context.Background())

	return o.run(ctx, services.NewReconciler(backends.Registry, backends.Store, backends.Locker), out)
}

// checkLocking refuses to drop namespaces under a locker that is not shared
// with running servers.
func (o *OrphansOptions) checkLocking(cfg *config.LockingConfig) error {
	if !o.DropOrphans {
		return nil
	}
	switch cfg.Backend {
	case "redis", "postgres":
		return nil
	default:
		return fmt.Errorf("--drop-orphans requires locking.backend redis or postgres, got %q", cfg.Backend)
	}
}

func (o *OrphansOptions) run(ctx context.Context, r orphanReconciler, out io.Writer) error {
	report, err := r.Scan(ctx)
	if err != nil {
		return err
	}

	var dropped []string
	if o.DropOrphans && len(report.UnreferencedNamespaces) > 0 {
		dropped, err = r.DropUnreferenced(ctx, report.UnreferencedNamespaces)
		if err != nil {
			return err
		}
	}

	if o.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*services.OrphanReport
			Dropped []string `json:"dropped,omitempty"`
		}{report, dropped})
	}

	if report.Empty() {
		fmt.Fprintln(out, "No orphans found.")
		return nil
	}
	for _, ns := range report.UnreferencedNamespaces {
		fmt.Fprintf(out, "unreferenced namespace: %s\n", ns)
	}
	for _, name := range report.MissingNamespaces {
		fmt.Fprintf(out, "missing namespace for organization: %s\n", name)
	}
	for _, ns := range dropped {
		fmt.Fprintf(out, "dropped: %s\n", ns)
	}
	return nil
}
