package migration

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sblgo/sbl/pkg/connection"
	"github.com/sblgo/sbl/pkg/logger"
)

// VersionRow is one applied migration step as stored in the migration table.
type VersionRow struct {
	Version   int       `json:"version"`
	AppliedAt time.Time `json:"applied_at"`
}

// Querier is a one-shot connection used for a single version store call.
type Querier interface {
	Executor
	Close(ctx context.Context) error
}

// Opener opens the connection a version store call runs on.
type Opener func(ctx context.Context) (Querier, error)

// Store reports and moves the persisted version.
type Store interface {
	Current(ctx context.Context) (int, error)
	Bump(ctx context.Context) (int, error)
	Lower(ctx context.Context) (int, error)
}

// VersionStore keeps the applied version as rows of a dedicated table.
// Every call opens, uses and closes its own connection. Bump and Lower
// are separate round trips from the migration SQL they record.
type VersionStore struct {
	open   Opener
	table  string
	logger logger.Logger
}

var _ Store = (*VersionStore)(nil)

type StoreOption func(*VersionStore)

// WithOpener replaces the default opener, which calls connection.Open.
func WithOpener(open Opener) StoreOption {
	return func(s *VersionStore) {
		s.open = open
	}
}

func WithStoreLogger(l logger.Logger) StoreOption {
	return func(s *VersionStore) {
		s.logger = l
	}
}

// NewVersionStore returns a store for cfg.MigrationTable on the database cfg points at.
func NewVersionStore(cfg *connection.Config, opts ...StoreOption) (*VersionStore, error) {
	if err := connection.ValidateTableName(cfg.MigrationTable); err != nil {
		return nil, err
	}

	s := &VersionStore{
		table:  cfg.MigrationTable,
		logger: cfg.Log(),
		open: func(ctx context.Context) (Querier, error) {
			c, err := connection.Open(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *VersionStore) Table() string {
	return s.table
}

// All returns every stored row in ascending version order.
func (s *VersionStore) All(ctx context.Context) ([]VersionRow, error) {
	var rows []VersionRow
	err := s.withConn(ctx, func(q Querier) (err error) {
		rows, err = s.all(ctx, q)
		return err
	})
	return rows, err
}

// Current returns the highest stored version, or 0 when the table is empty.
func (s *VersionStore) Current(ctx context.Context) (int, error) {
	var version int
	err := s.withConn(ctx, func(q Querier) (err error) {
		version, err = s.current(ctx, q)
		return err
	})
	return version, err
}

// Bump records the next version and returns it.
func (s *VersionStore) Bump(ctx context.Context) (int, error) {
	var next int
	err := s.withConn(ctx, func(q Querier) error {
		version, err := s.current(ctx, q)
		if err != nil {
			return err
		}
		next = version + 1
		sql := fmt.Sprintf("CREATE %s:%d SET version = %d, applied_at = time::now();", s.table, next, next)
		if _, err := q.Query(ctx, sql, nil); err != nil {
			return fmt.Errorf("bump version to %d: %w", next, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Debug("version bumped", "table", s.table, "version", next)
	return next, nil
}

// Lower deletes the highest stored version and returns the new current one.
// It does nothing when no version is stored.
func (s *VersionStore) Lower(ctx context.Context) (int, error) {
	var prev int
	err := s.withConn(ctx, func(q Querier) error {
		version, err := s.current(ctx, q)
		if err != nil {
			return err
		}
		if version == 0 {
			return nil
		}
		prev = version - 1
		sql := fmt.Sprintf("DELETE %s:%d;", s.table, version)
		if _, err := q.Query(ctx, sql, nil); err != nil {
			return fmt.Errorf("lower version from %d: %w", version, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Debug("version lowered", "table", s.table, "version", prev)
	return prev, nil
}

func (s *VersionStore) all(ctx context.Context, q Querier) ([]VersionRow, error) {
	stmts, err := q.Query(ctx, fmt.Sprintf("SELECT * FROM %s;", s.table), nil)
	if err != nil {
		return nil, fmt.Errorf("read versions: %w", err)
	}
	rows, err := connection.DecodeFirst[[]VersionRow](stmts)
	if err != nil {
		return nil, fmt.Errorf("read versions: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Version < rows[j].Version })
	return rows, nil
}

func (s *VersionStore) current(ctx context.Context, q Querier) (int, error) {
	rows, err := s.all(ctx, q)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[len(rows)-1].Version, nil
}

func (s *VersionStore) withConn(ctx context.Context, fn func(Querier) error) error {
	q, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := q.Close(ctx); err != nil {
			s.logger.Debug("failed to close version store connection", "error", err)
		}
	}()
	return fn(q)
}
