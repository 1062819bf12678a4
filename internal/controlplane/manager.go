package controlplane

import (
	"sync"

	"go.uber.org/zap"

	"github.com/sandboxkit/sandboxkit/internal/sandbox"
	"github.com/sandboxkit/sandboxkit/internal/store"
)

// Manager holds one Instance per sandbox id for the life of the
// process, the way the host process that fronts many sandboxes would.
// Manager itself holds no per-sandbox state beyond the registry lock;
// all mutable sandbox state lives on the Instance.
type Manager struct {
	provider sandbox.Provider
	log      *zap.SugaredLogger
	cfg      Config
	store    *store.Store

	mu        sync.Mutex
	instances map[string]*Instance
}

// NewManager constructs a Manager backed by provider, using cfg as the
// template for every Instance it creates. st may be nil to run without
// durable bookkeeping.
func NewManager(provider sandbox.Provider, cfg Config, log *zap.SugaredLogger, st *store.Store) *Manager {
	return &Manager{
		provider:  provider,
		log:       log,
		cfg:       cfg,
		store:     st,
		instances: make(map[string]*Instance),
	}
}

// Get returns the Instance for sandboxID, creating it on first use.
func (m *Manager) Get(sandboxID string) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if inst, ok := m.instances[sandboxID]; ok {
		return inst, nil
	}
	inst, err := New(sandboxID, m.provider, m.cfg, m.log, m.store)
	if err != nil {
		return nil, err
	}
	m.instances[sandboxID] = inst
	return inst, nil
}

// Forget drops the in-memory Instance for sandboxID without touching
// the underlying container; the next Get starts fresh control-plane
// bookkeeping (default session, hostname capture, idle timer) but the
// container itself is reattached, not recreated, on next use.
func (m *Manager) Forget(sandboxID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, sandboxID)
}
