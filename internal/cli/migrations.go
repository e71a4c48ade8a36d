package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sblgo/sbl/pkg/connection"
	"github.com/sblgo/sbl/pkg/constants"
	"github.com/sblgo/sbl/pkg/migration"
)

// MigrationsOptions holds flags of the migrations command.
type MigrationsOptions struct {
	Dir string
}

// MigrationResult is the output of the migrations subcommands.
type MigrationResult struct {
	Version int      `json:"version"`
	Applied int      `json:"applied,omitempty"`
	Changed bool     `json:"changed"`
	Created []string `json:"created,omitempty"`
}

// NewMigrationsCommand creates the migrations command.
func NewMigrationsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrationsOptions{}

	cmd := &cobra.Command{
		Use:   "migrations",
		Short: "Create and apply versioned migrations",
		Long: `Manage the migrations stored in surreal_migrations/up and
surreal_migrations/down, named 1.sql, 2.sql and so on.`,
	}
	cmd.PersistentFlags().StringVar(&opts.Dir, "dir", ".", "directory holding surreal_migrations")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply the next migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd, rootOpts, opts, func(ctx context.Context, r *migration.Runner) (MigrationResult, error) {
				changed, err := r.Increment(ctx)
				return MigrationResult{Version: r.Version(), Changed: changed}, err
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert the last applied migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd, rootOpts, opts, func(ctx context.Context, r *migration.Runner) (MigrationResult, error) {
				changed, err := r.Decrement(ctx)
				return MigrationResult{Version: r.Version(), Changed: changed}, err
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd, rootOpts, opts, func(ctx context.Context, r *migration.Runner) (MigrationResult, error) {
				applied, err := r.Run(ctx)
				return MigrationResult{Version: r.Version(), Applied: applied, Changed: applied > 0}, err
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create the migration directories or the next migration pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			created, err := migration.Create(opts.Dir)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to create migration files", err)
			}
			for _, path := range created {
				rootOpts.Log().Info("created", "path", path)
			}
			highest, err := migration.Highest(migration.Dir(opts.Dir, true))
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read migrations", err)
			}
			return rootOpts.formatter(cmd).Success(
				fmt.Sprintf("Created migration %d", highest),
				MigrationResult{Version: highest, Changed: len(created) > 0, Created: created},
			)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version recorded in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.Config(cmd)
			if err != nil {
				return err
			}
			store, err := migration.NewVersionStore(cfg)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid migration table", err)
			}
			version, err := store.Current(cmd.Context())
			if err != nil {
				return fmt.Errorf("read version: %w", err)
			}
			return rootOpts.formatter(cmd).Success(
				fmt.Sprintf("Current version: %d", version),
				MigrationResult{Version: version},
			)
		},
	})

	return cmd
}

type runnerFunc func(ctx context.Context, r *migration.Runner) (MigrationResult, error)

func withRunner(cmd *cobra.Command, rootOpts *RootOptions, opts *MigrationsOptions, fn runnerFunc) error {
	ctx := cmd.Context()
	log := rootOpts.Log()

	up, down, err := migration.LoadAll(opts.Dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load migrations", err)
	}

	cfg, err := rootOpts.Config(cmd)
	if err != nil {
		return err
	}
	store, err := migration.NewVersionStore(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid migration table", err)
	}

	conn, err := connection.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if err := conn.Close(context.WithoutCancel(ctx)); err != nil {
			log.Debug("failed to close connection", "error", err)
		}
	}()

	r, err := migration.NewRunner(ctx, up, down, conn, store, migration.WithLogger(log))
	if errors.Is(err, constants.ErrMismatchedMigrations) || errors.Is(err, constants.ErrVersionAhead) {
		return WrapExitError(ExitCommandError, "migrations do not match the database", err)
	}
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}

	res, err := fn(ctx, r)
	if err != nil {
		return fmt.Errorf("migration stopped at version %d: %w", r.Version(), err)
	}

	text := fmt.Sprintf("Current version: %d", res.Version)
	if !res.Changed {
		text += " (unchanged)"
	}
	return rootOpts.formatter(cmd).Success(text, res)
}
