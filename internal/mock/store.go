package mock

import (
	"context"
	"fmt"
	"sync"

	"portfolio_trader/internal/core"
	apperrors "portfolio_trader/pkg/errors"
)

// MockStore implements core.IPortfolioStore in memory. FailNextPersists makes
// the next N Persist calls fail, which exercises the engine's degraded path.
type MockStore struct {
	mu               sync.Mutex
	seq              int
	states           map[string]*core.RunState
	positions        map[string]map[string]*core.Position
	snapshots        map[string][]*core.AuditSnapshot
	persistCalls     int
	FailNextPersists int
}

func NewMockStore() *MockStore {
	return &MockStore{
		states:    make(map[string]*core.RunState),
		positions: make(map[string]map[string]*core.Position),
		snapshots: make(map[string][]*core.AuditSnapshot),
	}
}

// PersistCalls returns how many times Persist has been attempted.
func (m *MockStore) PersistCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistCalls
}

func (m *MockStore) CreatePortfolio(ctx context.Context, state *core.RunState) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	id := fmt.Sprintf("pf_mock%04d", m.seq)
	cp := *state
	cp.PortfolioID = id
	m.states[id] = &cp
	m.positions[id] = make(map[string]*core.Position)
	return id, nil
}

func (m *MockStore) LoadPortfolio(ctx context.Context, portfolioID string) (*core.RunState, map[string]*core.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[portfolioID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: portfolio %s", apperrors.ErrPersistence, portfolioID)
	}
	cp := *state
	positions := make(map[string]*core.Position, len(m.positions[portfolioID]))
	for id, p := range m.positions[portfolioID] {
		positions[id] = p.Clone()
	}
	return &cp, positions, nil
}

func (m *MockStore) Persist(ctx context.Context, state *core.RunState, positions map[string]*core.Position, snap *core.AuditSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.persistCalls++
	if m.FailNextPersists > 0 {
		m.FailNextPersists--
		return fmt.Errorf("%w: simulated write failure", apperrors.ErrPersistence)
	}

	cp := *state
	m.states[state.PortfolioID] = &cp
	stored := make(map[string]*core.Position, len(positions))
	for id, p := range positions {
		stored[id] = p.Clone()
	}
	m.positions[state.PortfolioID] = stored
	if snap != nil {
		snapCopy := *snap
		m.snapshots[state.PortfolioID] = append(m.snapshots[state.PortfolioID], &snapCopy)
	}
	return nil
}

func (m *MockStore) Snapshots(ctx context.Context, portfolioID string, limit int) ([]*core.AuditSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snaps := m.snapshots[portfolioID]
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[len(snaps)-limit:]
	}
	out := make([]*core.AuditSnapshot, len(snaps))
	copy(out, snaps)
	return out, nil
}

func (m *MockStore) Close() error { return nil }

var _ core.IPortfolioStore = (*MockStore)(nil)
