// Package upgrade reconciles the stored schema version of a table with the
// version its definition declares.
package upgrade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
	"github.com/rzpsarthak13/tablekeeper/internal/metrics"
	"github.com/rzpsarthak13/tablekeeper/internal/schema"
	"github.com/rzpsarthak13/tablekeeper/internal/table"
)

// VersionOptionSuffix is appended to the short name to form the option key
// the stored version lives under.
const VersionOptionSuffix = "_db_version"

// DefaultLockTimeout bounds how long Init waits for a concurrent upgrade.
const DefaultLockTimeout = 30 * time.Second

// Hook is notified of every upgrade attempt that ends in the ready or failed
// state.
type Hook func(ctx context.Context, event core.UpgradeEvent)

// Upgrader drives the version state machine of one table.
type Upgrader struct {
	table       *table.Table
	db          core.Database
	options     core.OptionStore
	locker      core.Locker
	lockTimeout time.Duration
	hooks       []Hook
	metrics     *metrics.Metrics
	logger      *slog.Logger

	initMu sync.Mutex

	mu        sync.RWMutex
	state     core.UpgradeState
	dbVersion int
	err       error
}

// Option configures an Upgrader.
type Option func(*Upgrader)

// WithLocker guards the upgrade critical section with l.
func WithLocker(l core.Locker) Option {
	return func(u *Upgrader) { u.locker = l }
}

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(u *Upgrader) { u.lockTimeout = d }
}

// WithHook registers h for upgrade outcomes.
func WithHook(h Hook) Option {
	return func(u *Upgrader) { u.hooks = append(u.hooks, h) }
}

// WithMetrics records outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(u *Upgrader) { u.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(u *Upgrader) { u.logger = l }
}

// New creates an upgrader in the unchecked state.
func New(t *table.Table, db core.Database, options core.OptionStore, opts ...Option) (*Upgrader, error) {
	if t == nil || db == nil || options == nil {
		return nil, fmt.Errorf("%w: table, database and option store are required", core.ErrConfiguration)
	}
	u := &Upgrader{
		table:       t,
		db:          db,
		options:     options,
		lockTimeout: DefaultLockTimeout,
		logger:      slog.Default(),
		state:       core.StateUnchecked,
	}
	for _, opt := range opts {
		opt(u)
	}
	u.logger = u.logger.With("table", t.Name(), "option", u.VersionOptionName())
	return u, nil
}

// Table returns the table being upgraded.
func (u *Upgrader) Table() *table.Table { return u.table }

// VersionOptionName returns the option key holding the stored version.
func (u *Upgrader) VersionOptionName() string {
	return u.table.ShortName() + VersionOptionSuffix
}

// State returns the current state.
func (u *Upgrader) State() core.UpgradeState {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state
}

// TableIsReady reports whether the state is ready.
func (u *Upgrader) TableIsReady() bool {
	return u.State() == core.StateReady
}

// DBVersion returns the last version read from or recorded in the option
// store, 0 if none.
func (u *Upgrader) DBVersion() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.dbVersion
}

// Err returns the reason of the failed state, nil otherwise.
func (u *Upgrader) Err() error {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.err
}

// Diagnostic renders the operator message for a table that is not ready.
// It is empty when the table is ready.
func (u *Upgrader) Diagnostic() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.state == core.StateReady {
		return ""
	}
	msg := fmt.Sprintf("Table %s is not ready (state %s, stored version %d, declared version %d). "+
		"The installed schema version is kept in the option %q.",
		u.table.Name(), u.state, u.dbVersion, u.table.Definition().Version(), u.VersionOptionName())
	if u.err != nil {
		msg += " Last error: " + u.err.Error()
	}
	return msg
}

// Init reconciles the stored and declared versions. It never returns an
// error: failures move the upgrader to the failed state and are reported
// through Err. Calling Init again re-checks the stored version.
func (u *Upgrader) Init(ctx context.Context) {
	u.initMu.Lock()
	defer u.initMu.Unlock()

	declared := u.table.Definition().Version()
	stored, err := u.readVersion(ctx)
	if err != nil {
		// A ready table stays ready when the re-check cannot be made.
		if u.TableIsReady() {
			u.metrics.QueryFailed(u.table.Name(), "read_version")
			u.logger.WarnContext(ctx, "could not re-check stored version", "version", u.DBVersion(), "error", err)
			return
		}
		u.fail(ctx, u.DBVersion(), err)
		return
	}

	switch {
	case stored == declared:
		u.setReady(stored)
	case stored > declared:
		u.fail(ctx, stored, fmt.Errorf("%w: stored %d, declared %d", core.ErrDowngrade, stored, declared))
	default:
		u.upgrade(ctx, stored, declared)
	}
}

func (u *Upgrader) upgrade(ctx context.Context, stored, declared int) {
	u.setState(core.StateUpgrading, stored, nil)
	u.logger.InfoContext(ctx, "upgrading table", "from", stored, "to", declared)

	if u.locker != nil {
		unlock, err := u.locker.Lock(ctx, u.lockName(), u.lockTimeout)
		if err != nil {
			u.fail(ctx, stored, fmt.Errorf("%w: %v", core.ErrSchemaUpgrade, err))
			return
		}
		defer func() {
			if err := unlock.Unlock(context.Background()); err != nil {
				u.logger.WarnContext(ctx, "failed to release upgrade lock", "error", err)
			}
		}()

		// Another worker may have finished while we waited.
		recheck, err := u.readVersion(ctx)
		if err != nil {
			u.fail(ctx, stored, err)
			return
		}
		stored = recheck
		if stored == declared {
			u.setReady(stored)
			return
		}
		if stored > declared {
			u.fail(ctx, stored, fmt.Errorf("%w: stored %d, declared %d", core.ErrDowngrade, stored, declared))
			return
		}
	}

	ddl, err := schema.ParseDDL(u.table.Definition().Schema())
	if err != nil {
		u.fail(ctx, stored, fmt.Errorf("%w: %v", core.ErrSchemaUpgrade, err))
		return
	}
	a := &applier{db: u.db, dialect: u.db.Dialect(), table: u.table.Name(), ddl: ddl}

	if u.db.Dialect().TransactionalDDL() {
		err = u.applyInTx(ctx, a, declared)
	} else {
		err = u.applyDirect(ctx, a, declared)
	}
	if err != nil {
		u.fail(ctx, stored, fmt.Errorf("%w: %v", core.ErrSchemaUpgrade, err))
		return
	}

	u.setReady(declared)
	u.logger.InfoContext(ctx, "table upgraded", "from", stored, "to", declared)
	u.notify(ctx, stored, declared, core.StateReady, nil)
}

// applyInTx runs the DDL in one transaction. The version write joins it
// when the option store can, otherwise it follows the commit.
func (u *Upgrader) applyInTx(ctx context.Context, a *applier, declared int) error {
	tx, err := u.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	stmts, err := a.apply(ctx, tx)
	if err != nil {
		return err
	}
	u.logger.DebugContext(ctx, "schema applied", "statements", len(stmts))

	txStore, inTx := u.options.(core.TxOptionStore)
	if inTx {
		if err := txStore.SetTx(ctx, tx, u.table.Scope(), u.VersionOptionName(), encodeVersion(declared)); err != nil {
			return fmt.Errorf("failed to record version: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upgrade: %w", err)
	}
	committed = true

	if !inTx {
		return u.writeVersion(ctx, declared)
	}
	return nil
}

// applyDirect runs each statement on its own; the lock is the only guard.
// The version is written after every statement succeeded.
func (u *Upgrader) applyDirect(ctx context.Context, a *applier, declared int) error {
	stmts, err := a.apply(ctx, u.db)
	if err != nil {
		return err
	}
	u.logger.DebugContext(ctx, "schema applied", "statements", len(stmts))
	return u.writeVersion(ctx, declared)
}

// DeleteTable drops the physical table and forgets the stored version. The
// upgrader returns to the unchecked state.
func (u *Upgrader) DeleteTable(ctx context.Context) error {
	u.initMu.Lock()
	defer u.initMu.Unlock()

	if u.locker != nil {
		unlock, err := u.locker.Lock(ctx, u.lockName(), u.lockTimeout)
		if err != nil {
			return err
		}
		defer func() {
			if err := unlock.Unlock(context.Background()); err != nil {
				u.logger.WarnContext(ctx, "failed to release upgrade lock", "error", err)
			}
		}()
	}

	if _, err := u.db.Exec(ctx, u.db.Dialect().DropTable(u.table.Name())); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", u.table.Name(), err)
	}
	if err := u.options.Delete(ctx, u.table.Scope(), u.VersionOptionName()); err != nil {
		return fmt.Errorf("failed to delete option %s: %w", u.VersionOptionName(), err)
	}
	u.setState(core.StateUnchecked, 0, nil)
	u.logger.InfoContext(ctx, "table deleted")
	return nil
}

// ResetTable removes every row, keeping the schema and stored version.
func (u *Upgrader) ResetTable(ctx context.Context) error {
	if !u.TableIsReady() {
		return fmt.Errorf("%w: %s", core.ErrTableNotReady, u.table.Name())
	}
	if _, err := u.db.Exec(ctx, u.db.Dialect().Truncate(u.table.Name())); err != nil {
		return fmt.Errorf("failed to empty table %s: %w", u.table.Name(), err)
	}
	u.logger.InfoContext(ctx, "table emptied")
	return nil
}

func (u *Upgrader) lockName() string {
	return "tablekeeper_upgrade_" + u.table.Name()
}

// StoredVersion reads the recorded version without changing the state. Zero
// means the table was never installed.
func (u *Upgrader) StoredVersion(ctx context.Context) (int, error) {
	return u.readVersion(ctx)
}

func (u *Upgrader) readVersion(ctx context.Context) (int, error) {
	raw, err := u.options.Get(ctx, u.table.Scope(), u.VersionOptionName())
	if errors.Is(err, core.ErrOptionNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read option %s: %w", u.VersionOptionName(), err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("%w: option %s holds %q", core.ErrConfiguration, u.VersionOptionName(), raw)
	}
	return v, nil
}

func (u *Upgrader) writeVersion(ctx context.Context, version int) error {
	if err := u.options.Set(ctx, u.table.Scope(), u.VersionOptionName(), encodeVersion(version)); err != nil {
		return fmt.Errorf("failed to record version: %w", err)
	}
	return nil
}

func encodeVersion(v int) []byte {
	return []byte(strconv.Itoa(v))
}

func (u *Upgrader) setState(state core.UpgradeState, version int, err error) {
	u.mu.Lock()
	u.state = state
	u.dbVersion = version
	u.err = err
	u.mu.Unlock()
}

func (u *Upgrader) setReady(version int) {
	u.setState(core.StateReady, version, nil)
	u.metrics.UpgradeOutcome(u.table.Name(), core.StateReady, version)
}

func (u *Upgrader) fail(ctx context.Context, stored int, err error) {
	u.setState(core.StateFailed, stored, err)
	u.logger.ErrorContext(ctx, "table upgrade failed", "stored", stored, "declared", u.table.Definition().Version(), "error", err)
	u.notify(ctx, stored, u.table.Definition().Version(), core.StateFailed, err)
}

func (u *Upgrader) notify(ctx context.Context, from, to int, state core.UpgradeState, err error) {
	if state == core.StateFailed {
		u.metrics.UpgradeOutcome(u.table.Name(), state, from)
	}
	event := core.UpgradeEvent{
		ID:          uuid.NewString(),
		Table:       u.table.Name(),
		OptionName:  u.VersionOptionName(),
		FromVersion: from,
		ToVersion:   to,
		State:       state,
		Timestamp:   time.Now().UTC(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	for _, h := range u.hooks {
		h(ctx, event)
	}
}
