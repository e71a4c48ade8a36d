package migration

import (
	"context"
	"fmt"
	"sync"

	"github.com/sblgo/sbl/pkg/constants"
	"github.com/sblgo/sbl/pkg/logger"
)

// Runner moves a database between migration versions.
//
// version is the number of up migrations applied. index starts at
// version-1 (0 for an empty database) and moves in lock-step with version,
// never dropping below 0. Steps are addressed by version: Increment applies
// up[version] and Decrement applies down[version-1].
type Runner struct {
	mu sync.Mutex

	up   []Migration
	down []Migration

	exec   Executor
	store  Store
	logger logger.Logger

	version int
	index   int
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger the runner reports each step to.
func WithLogger(l logger.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner reads the persisted version from store and positions the cursor on it.
func NewRunner(ctx context.Context, up, down []Migration, exec Executor, store Store, opts ...RunnerOption) (*Runner, error) {
	if len(up) != len(down) {
		return nil, fmt.Errorf("%w: %d up, %d down", constants.ErrMismatchedMigrations, len(up), len(down))
	}

	version, err := store.Current(ctx)
	if err != nil {
		return nil, err
	}
	if version > len(up) {
		return nil, fmt.Errorf("%w: version %d, %d migrations", constants.ErrVersionAhead, version, len(up))
	}

	r := &Runner{
		up:      up,
		down:    down,
		exec:    exec,
		store:   store,
		logger:  logger.Discard,
		version: version,
	}
	if version > 0 {
		r.index = version - 1
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Version is the number of applied migrations.
func (r *Runner) Version() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Index is the position of the last applied migration, 0 when none is.
func (r *Runner) Index() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index
}

// Len returns the number of defined migrations.
func (r *Runner) Len() int {
	return len(r.up)
}

// Run applies every pending up migration in order and returns how many were
// applied. It stops at the first failure; steps applied before it stay applied.
func (r *Runner) Run(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	applied := 0
	for r.version < len(r.up) {
		if err := r.stepUp(ctx); err != nil {
			return applied, err
		}
		applied++
	}
	r.logger.Info("migrations up to date", "version", r.version, "applied", applied)
	return applied, nil
}

// Increment applies the next up migration. It reports false without side
// effects when the newest migration is already applied.
func (r *Runner) Increment(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.version == len(r.up) {
		return false, nil
	}
	if err := r.stepUp(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Decrement reverts the last applied migration. It reports false without
// side effects when no migration is applied.
func (r *Runner) Decrement(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.version == 0 {
		return false, nil
	}

	target := r.version
	if err := r.down[target-1].Apply(ctx, r.exec); err != nil {
		return false, fmt.Errorf("apply down migration %d: %w", target, err)
	}

	persisted, err := r.store.Lower(ctx)
	if err != nil {
		r.logger.Error("down migration applied but version not lowered", "version", target, "error", err)
		return false, fmt.Errorf("lower version from %d: %w", target, err)
	}

	r.version--
	if r.index > 0 {
		r.index--
	}
	r.checkPersisted(persisted)
	r.logger.Info("migration reverted", "version", r.version)
	return true, nil
}

func (r *Runner) stepUp(ctx context.Context) error {
	target := r.version + 1
	m := r.up[r.version]
	if m.Empty() {
		r.logger.Debug("empty up migration", "version", target)
	}
	if err := m.Apply(ctx, r.exec); err != nil {
		return fmt.Errorf("apply up migration %d: %w", target, err)
	}

	persisted, err := r.store.Bump(ctx)
	if err != nil {
		r.logger.Error("up migration applied but version not recorded", "version", target, "error", err)
		return fmt.Errorf("bump version to %d: %w", target, err)
	}

	r.version++
	r.index++
	r.checkPersisted(persisted)
	r.logger.Info("migration applied", "version", r.version)
	return nil
}

func (r *Runner) checkPersisted(persisted int) {
	if persisted != r.version {
		r.logger.Warn("persisted version differs from runner", "runner", r.version, "persisted", persisted)
	}
}
