package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/orgstore/orgstore/internal/config"
	"github.com/orgstore/orgstore/internal/db"
	"github.com/orgstore/orgstore/internal/telemetry"
)

// MigrationOptions configures the migration command
type MigrationOptions struct {
	Root     *RootOptions
	FixDirty bool
}

// migrationState is satisfied by the db package helpers bound to one handle
type migrationState interface {
	Version() (version uint, dirty bool, err error)
	ClearDirty() (version uint, err error)
}

type sqlMigrationState struct{ db *sql.DB }

func (s sqlMigrationState) Version() (uint, bool, error) { return db.GetMigrationVersion(s.db) }
func (s sqlMigrationState) ClearDirty() (uint, error)    { return db.ClearDirtyMigration(s.db) }

func NewMigrationCommand(root *RootOptions) *cobra.Command {
	opts := &MigrationOptions{Root: root}

	cmd := &cobra.Command{
		Use:   "migration",
		Short: "Show the registry schema version",
		Long: `Print the registry schema version and whether the last migration was
interrupted (dirty). A dirty schema blocks server startup.

With --fix-dirty the dirty flag is cleared so the next server start retries
the pending migration. Repair any half-applied statements first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.Run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.FixDirty, "fix-dirty", false, "Clear the dirty flag on the current schema version")

	return cmd
}

func (o *MigrationOptions) Run(ctx context.Context, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(o.Root.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	slog.SetDefault(telemetry.NewLogger(os.Stderr, cfg.Logging.Format, cfg.Logging.Level))

	database, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close()

	return o.run(sqlMigrationState{db: database}, out)
}

func (o *MigrationOptions) run(state migrationState, out io.Writer) error {
	version, dirty, err := state.Version()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "version: %d\ndirty: %v\n", version, dirty)

	if !dirty || !o.FixDirty {
		return nil
	}
	version, err = state.ClearDirty()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "cleared dirty flag on version %d\n", version)
	return nil
}
