// Package migration applies ordered SurrealQL migrations and tracks the
// applied version in a table of the target database.
package migration

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/sblgo/sbl/pkg/connection"
	"github.com/sblgo/sbl/pkg/sqladapter"
)

// Executor runs one combined SQL request and reports every statement's result.
// *connection.Conn satisfies it; a pool can be adapted with ExecutorFunc.
type Executor interface {
	Query(ctx context.Context, sql string, vars map[string]any) ([]connection.QueryResult[json.RawMessage], error)
}

// ExecutorFunc adapts a function, such as (*pool.Pool).Statements, to Executor.
type ExecutorFunc func(ctx context.Context, sql string, vars map[string]any) ([]connection.QueryResult[json.RawMessage], error)

func (f ExecutorFunc) Query(ctx context.Context, sql string, vars map[string]any) ([]connection.QueryResult[json.RawMessage], error) {
	return f(ctx, sql, vars)
}

// Migration is one migration step holding normalized SQL.
// The zero value is an empty migration, which only moves the version.
type Migration struct {
	sql string
}

// FromText builds a migration from a block of SurrealQL.
func FromText(sql string) Migration {
	return Migration{sql: sqladapter.FromText(sql)}
}

// FromList builds a migration from a list of commands.
func FromList(cmds []string) Migration {
	return Migration{sql: sqladapter.FromList(cmds)}
}

// FromFile builds a migration from the contents of a .sql file.
func FromFile(path string) (Migration, error) {
	sql, err := sqladapter.FromFile(path)
	if err != nil {
		return Migration{}, err
	}
	return Migration{sql: sql}, nil
}

func (m Migration) SQL() string {
	return m.sql
}

func (m Migration) Empty() bool {
	return m.sql == ""
}

func (m Migration) String() string {
	return m.sql
}

// Apply sends the whole migration as a single query. Any failed statement is
// returned as a *connection.StatementError.
func (m Migration) Apply(ctx context.Context, exec Executor) error {
	if m.Empty() {
		return nil
	}
	_, err := exec.Query(ctx, m.sql, nil)
	return err
}
