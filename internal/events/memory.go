package events

import (
	"context"
	"errors"
	"sync"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
)

// ErrBufferFull is returned when the memory publisher has no room left.
var ErrBufferFull = errors.New("event buffer is full")

// MemoryPublisher buffers events in a channel for in-process consumers.
type MemoryPublisher struct {
	events chan core.UpgradeEvent
	mu     sync.RWMutex
	closed bool
}

// NewMemoryPublisher creates a publisher holding up to bufferSize events.
func NewMemoryPublisher(bufferSize int) *MemoryPublisher {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &MemoryPublisher{events: make(chan core.UpgradeEvent, bufferSize)}
}

// Publish buffers a copy of event without blocking.
func (p *MemoryPublisher) Publish(ctx context.Context, event *core.UpgradeEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	if event == nil {
		return errors.New("event is required")
	}

	select {
	case p.events <- *event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBufferFull
	}
}

// Drain returns up to max buffered events in publication order without
// waiting. A non-positive max drains everything.
func (p *MemoryPublisher) Drain(max int) []core.UpgradeEvent {
	var out []core.UpgradeEvent
	for max <= 0 || len(out) < max {
		select {
		case e, ok := <-p.events:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
	return out
}

// Len returns the number of buffered events.
func (p *MemoryPublisher) Len() int {
	return len(p.events)
}

// Close stops accepting events. Buffered events can still be drained.
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.events)
	return nil
}
