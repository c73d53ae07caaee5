package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
)

const publishTimeout = 10 * time.Second

// Hook adapts p to the upgrader's hook signature. Publishing failures are
// logged; they never change the outcome of an upgrade.
func Hook(p core.EventPublisher, logger *slog.Logger) func(context.Context, core.UpgradeEvent) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, event core.UpgradeEvent) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := p.Publish(ctx, &event); err != nil {
			logger.WarnContext(ctx, "failed to publish upgrade event",
				"table", event.Table, "state", event.State, "error", err)
		}
	}
}

// Discard drops every event.
type Discard struct{}

// Publish does nothing.
func (Discard) Publish(context.Context, *core.UpgradeEvent) error { return nil }

// Close does nothing.
func (Discard) Close() error { return nil }
