package tablekeeper

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Trimmer keeps a table at most MaxRows rows by deleting its oldest items
// in the background. Deletions are rate limited to protect the database.
type Trimmer struct {
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	table   TrimTarget
	config  TrimmerConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

// TrimTarget is the part of a Handle the trimmer needs.
type TrimTarget interface {
	Name() string
	Ready() bool
	Count(ctx context.Context) (int64, error)
	DeleteOldestItem(ctx context.Context) (int64, error)
}

// TrimmerConfig contains configuration for a trimmer.
type TrimmerConfig struct {
	// MaxRows is the number of rows kept. Zero or less disables trimming.
	MaxRows int64

	// Interval is how often the row count is checked.
	Interval time.Duration

	// Rate is the maximum number of deletions per second.
	Rate int

	// Burst is the number of deletions allowed back to back.
	Burst int
}

// DefaultTrimmerConfig returns the defaults used for unset fields.
func DefaultTrimmerConfig() TrimmerConfig {
	return TrimmerConfig{
		Interval: time.Minute,
		Rate:     50,
		Burst:    10,
	}
}

// NewTrimmer creates a stopped trimmer for table.
func NewTrimmer(table TrimTarget, config TrimmerConfig, logger *slog.Logger) *Trimmer {
	defaults := DefaultTrimmerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Rate <= 0 {
		config.Rate = defaults.Rate
	}
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Trimmer{
		table:   table,
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.Rate), config.Burst),
		logger:  logger.With("component", "trimmer", "table", table.Name()),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start runs the trimmer in its own goroutine until Stop is called or ctx
// is done. Starting a running trimmer does nothing.
func (t *Trimmer) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = true
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	t.mu.Unlock()

	go t.run(ctx)
	t.logger.Info("trimmer started", "max_rows", t.config.MaxRows, "rate", t.config.Rate)
	return nil
}

// Stop stops the trimmer and waits for the current pass to finish.
func (t *Trimmer) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	t.mu.Unlock()

	close(t.stopCh)
	<-t.doneCh
	t.logger.Info("trimmer stopped")
	return nil
}

// IsRunning returns whether the trimmer goroutine is running.
func (t *Trimmer) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// GetConfig returns the trimmer configuration.
func (t *Trimmer) GetConfig() TrimmerConfig {
	return t.config
}

func (t *Trimmer) run(ctx context.Context) {
	defer close(t.doneCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := t.TrimOnce(ctx); err != nil && ctx.Err() == nil {
			t.logger.Warn("trim pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			// Stop also lands here through the cancel above.
			t.markStopped()
			return
		case <-ticker.C:
		}
	}
}

func (t *Trimmer) markStopped() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
}

// TrimOnce deletes the oldest rows until the table holds at most MaxRows
// and returns how many were removed. Tables that are not ready are left
// alone.
func (t *Trimmer) TrimOnce(ctx context.Context) (int64, error) {
	if t.config.MaxRows <= 0 || !t.table.Ready() {
		return 0, nil
	}

	count, err := t.table.Count(ctx)
	if err != nil {
		return 0, err
	}

	var removed int64
	for excess := count - t.config.MaxRows; excess > 0; excess-- {
		if err := t.limiter.Wait(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return removed, nil
			}
			return removed, err
		}
		n, err := t.table.DeleteOldestItem(ctx)
		if err != nil {
			return removed, err
		}
		if n == 0 {
			// Someone else emptied the table.
			break
		}
		removed += n
	}
	if removed > 0 {
		t.logger.Debug("table trimmed", "removed", removed, "max_rows", t.config.MaxRows)
	}
	return removed, nil
}

// TrimmerManager manages the trimmers of a client, one per table.
type TrimmerManager struct {
	mu       sync.RWMutex
	trimmers map[string]*Trimmer
}

// NewTrimmerManager creates an empty manager.
func NewTrimmerManager() *TrimmerManager {
	return &TrimmerManager{trimmers: make(map[string]*Trimmer)}
}

// Add registers trimmer under its table name, keeping an existing one.
func (tm *TrimmerManager) Add(trimmer *Trimmer) *Trimmer {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	name := trimmer.table.Name()
	if existing, ok := tm.trimmers[name]; ok {
		return existing
	}
	tm.trimmers[name] = trimmer
	return trimmer
}

// Get returns the trimmer of a table, or nil.
func (tm *TrimmerManager) Get(tableName string) *Trimmer {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.trimmers[tableName]
}

// StartAll starts every trimmer.
func (tm *TrimmerManager) StartAll(ctx context.Context) error {
	for _, trimmer := range tm.list() {
		if err := trimmer.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every trimmer.
func (tm *TrimmerManager) StopAll() error {
	for _, trimmer := range tm.list() {
		if err := trimmer.Stop(); err != nil {
			return err
		}
	}
	return nil
}

// Remove stops and forgets the trimmer of a table.
func (tm *TrimmerManager) Remove(tableName string) error {
	tm.mu.Lock()
	trimmer, ok := tm.trimmers[tableName]
	delete(tm.trimmers, tableName)
	tm.mu.Unlock()

	if !ok {
		return nil
	}
	return trimmer.Stop()
}

// Count returns the number of trimmers.
func (tm *TrimmerManager) Count() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return len(tm.trimmers)
}

func (tm *TrimmerManager) list() []*Trimmer {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	names := make([]string, 0, len(tm.trimmers))
	for name := range tm.trimmers {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Trimmer, 0, len(names))
	for _, name := range names {
		out = append(out, tm.trimmers[name])
	}
	return out
}
