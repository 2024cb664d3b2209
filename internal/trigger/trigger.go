// Package trigger provides the periodic trigger facility the scheduler
// uses to drive multi-tick jobs. Each armed trigger fires once after a
// first-fire delay and then at a fixed interval until disarmed.
package trigger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stacklok/crosspost-server/internal/entity"
)

// Callback is invoked on every trigger fire. Fires for one (site, kind)
// pair never overlap; the next fire waits for the callback to return.
type Callback func(ctx context.Context, siteID string, kind entity.Kind)

type key struct {
	siteID string
	kind   entity.Kind
}

type handle struct {
	stop chan struct{}
	done chan struct{}
}

// Manager owns the map from (site, kind) to an armed trigger handle, so
// arming and disarming are tracked state transitions instead of opaque
// scheduler calls.
type Manager struct {
	mu      sync.Mutex
	handles map[key]*handle

	baseCtx context.Context
}

// NewManager creates a trigger manager. baseCtx is the lifetime of all
// armed triggers; cancelling it stops every fire loop.
func NewManager(baseCtx context.Context) *Manager {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Manager{
		handles: make(map[key]*handle),
		baseCtx: baseCtx,
	}
}

// Arm schedules cb for (siteID, kind): first fire after firstDelay, then
// every interval. Returns false without side effects when a trigger is
// already armed for the pair.
func (m *Manager) Arm(
	siteID string,
	kind entity.Kind,
	firstDelay, interval time.Duration,
	cb Callback,
) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{siteID: siteID, kind: kind}
	if _, armed := m.handles[k]; armed {
		return false
	}

	h := &handle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	m.handles[k] = h

	go m.fireLoop(h, siteID, kind, firstDelay, interval, cb)

	slog.Info("Armed sync trigger",
		"site", siteID,
		"kind", kind,
		"first_fire", firstDelay,
		"interval", interval)
	return true
}

// IsArmed reports whether a trigger is armed for the pair.
func (m *Manager) IsArmed(siteID string, kind entity.Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, armed := m.handles[key{siteID: siteID, kind: kind}]
	return armed
}

// Disarm cancels the trigger for the pair. Safe to call from inside the
// trigger's own callback. Returns false when nothing was armed.
func (m *Manager) Disarm(siteID string, kind entity.Kind) bool {
	m.mu.Lock()
	h, armed := m.handles[key{siteID: siteID, kind: kind}]
	if armed {
		delete(m.handles, key{siteID: siteID, kind: kind})
	}
	m.mu.Unlock()

	if !armed {
		return false
	}

	close(h.stop)
	slog.Info("Disarmed sync trigger", "site", siteID, "kind", kind)
	return true
}

// Shutdown disarms every trigger and waits for in-flight callbacks.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.handles))
	for k, h := range m.handles {
		delete(m.handles, k)
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		close(h.stop)
	}
	for _, h := range handles {
		<-h.done
	}
}

func (m *Manager) fireLoop(
	h *handle,
	siteID string,
	kind entity.Kind,
	firstDelay, interval time.Duration,
	cb Callback,
) {
	defer close(h.done)

	timer := time.NewTimer(firstDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		cb(m.baseCtx, siteID, kind)
	case <-h.stop:
		return
	case <-m.baseCtx.Done():
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cb(m.baseCtx, siteID, kind)
		case <-h.stop:
			return
		case <-m.baseCtx.Done():
			return
		}
	}
}
