package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/sblgo/sbl/pkg/connection"
	"github.com/sblgo/sbl/pkg/sqladapter"
)

// RunOptions holds flags of the run command.
type RunOptions struct {
	File string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run SurrealQL against the database",
	}

	sqlCmd := &cobra.Command{
		Use:   "sql",
		Short: "Run the statements of a .sql file as one query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSQL(cmd, rootOpts, opts)
		},
	}
	sqlCmd.Flags().StringVarP(&opts.File, "file", "f", "main.sql", "SQL file to run")
	cmd.AddCommand(sqlCmd)

	return cmd
}

func runSQL(cmd *cobra.Command, rootOpts *RootOptions, opts *RunOptions) error {
	ctx := cmd.Context()

	sql, err := sqladapter.FromFile(opts.File)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read sql file", err)
	}
	if sql == "" {
		return NewExitError(ExitCommandError, fmt.Sprintf("%s holds no statements", opts.File))
	}

	cfg, err := rootOpts.Config(cmd)
	if err != nil {
		return err
	}
	conn, err := connection.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if err := conn.Close(context.WithoutCancel(ctx)); err != nil {
			rootOpts.Log().Debug("failed to close connection", "error", err)
		}
	}()

	rootOpts.Log().Debug("running sql", "file", opts.File, "sql", sql)
	stmts, err := conn.Query(ctx, sql, nil)
	if err != nil {
		return err
	}

	return rootOpts.formatter(cmd).Success(formatStatements(stmts), stmts)
}

func formatStatements(stmts []connection.QueryResult[json.RawMessage]) string {
	var b strings.Builder
	for i, stmt := range stmts {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%d] %s %s: %s", i, stmt.Status, stmt.Time, stmt.Result)
	}
	return b.String()
}
