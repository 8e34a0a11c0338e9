package engine

import (
	"context"
	"sync"
)

// StartFunc creates a new engine Process.
type StartFunc func(ctx context.Context) (*Process, error)

// Manager lazily owns a single engine Process, grounded on
// internal/connmgr.ConnManager's lazy single-connection pattern: this
// tool only ever needs one engine connection at a time, started on
// first use and torn down once at shutdown.
type Manager struct {
	start StartFunc
	mu    sync.Mutex
	p     *Process
}

// NewManager creates a Manager using start to create the Process on
// first Get.
func NewManager(start StartFunc) *Manager {
	return &Manager{start: start}
}

// NewManagerFromConfig creates a Manager that starts the engine
// described by cfg.
func NewManagerFromConfig(cfg Config) *Manager {
	return NewManager(func(ctx context.Context) (*Process, error) {
		return Start(ctx, cfg)
	})
}

// Get returns the managed Process, starting it lazily on first call.
func (m *Manager) Get(ctx context.Context) (*Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.p != nil {
		return m.p, nil
	}
	p, err := m.start(ctx)
	if err != nil {
		return nil, err
	}
	m.p = p
	return m.p, nil
}

// Close tears down the managed Process, if one was ever started: closes
// the connection, kills a subprocess engine (a no-op in netcat mode),
// and waits for subprocess exit, mirroring finalize's
// stdin.close()-then-kill() pair.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.p == nil {
		return nil
	}
	err := m.p.Close()
	_ = m.p.Kill()
	_ = m.p.Wait()
	m.p = nil
	return err
}
