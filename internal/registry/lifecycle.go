package registry

import (
	"context"
	"sync"
)

// LifecycleHook is notified when a registered table settles after Init.
// Hooks are called synchronously, in registration order.
type LifecycleHook interface {
	// OnReady is called when a table reached the ready state.
	OnReady(ctx context.Context, table *TableMetadata) error

	// OnFailed is called when a table ended in the failed state. The
	// upgrader's Diagnostic explains why.
	OnFailed(ctx context.Context, table *TableMetadata) error
}

// LifecycleHookFunc lets plain functions be used as hooks.
type LifecycleHookFunc struct {
	OnReadyFunc  func(ctx context.Context, table *TableMetadata) error
	OnFailedFunc func(ctx context.Context, table *TableMetadata) error
}

// OnReady calls OnReadyFunc if it's not nil.
func (f LifecycleHookFunc) OnReady(ctx context.Context, table *TableMetadata) error {
	if f.OnReadyFunc != nil {
		return f.OnReadyFunc(ctx, table)
	}
	return nil
}

// OnFailed calls OnFailedFunc if it's not nil.
func (f LifecycleHookFunc) OnFailed(ctx context.Context, table *TableMetadata) error {
	if f.OnFailedFunc != nil {
		return f.OnFailedFunc(ctx, table)
	}
	return nil
}

// LifecycleManager holds the hooks of a table registry.
type LifecycleManager struct {
	mu    sync.RWMutex
	hooks []LifecycleHook
}

// NewLifecycleManager creates a new lifecycle manager.
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{}
}

// RegisterHook appends hook.
func (lm *LifecycleManager) RegisterHook(hook LifecycleHook) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.hooks = append(lm.hooks, hook)
}

func (lm *LifecycleManager) snapshot() []LifecycleHook {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	hooks := make([]LifecycleHook, len(lm.hooks))
	copy(hooks, lm.hooks)
	return hooks
}

// ExecuteReadyHooks runs every OnReady hook, stopping at the first error.
func (lm *LifecycleManager) ExecuteReadyHooks(ctx context.Context, table *TableMetadata) error {
	for _, hook := range lm.snapshot() {
		if err := hook.OnReady(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteFailedHooks runs every OnFailed hook, stopping at the first error.
func (lm *LifecycleManager) ExecuteFailedHooks(ctx context.Context, table *TableMetadata) error {
	for _, hook := range lm.snapshot() {
		if err := hook.OnFailed(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

// HookCount returns the number of registered hooks.
func (lm *LifecycleManager) HookCount() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return len(lm.hooks)
}
