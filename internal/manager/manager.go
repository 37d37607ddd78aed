// Package manager owns the set of live strategy runners and routes lifecycle
// commands to them by id.
package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"portfolio_trader/internal/core"
	"portfolio_trader/internal/engine"
	"portfolio_trader/internal/executor"
	"portfolio_trader/internal/runner"
	"portfolio_trader/internal/strategy"
	"portfolio_trader/pkg/concurrency"
	apperrors "portfolio_trader/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RunSpec describes one strategy run to create.
type RunSpec struct {
	Name              string
	Strategy          string
	Parameters        map[string]interface{}
	AllocationUSD     decimal.Decimal
	RebalanceInterval time.Duration
	Paper             bool
	// PortfolioID resumes a persisted portfolio instead of funding a new one.
	PortfolioID string
}

// RunInfo is the externally visible description of one run.
type RunInfo struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Strategy    string        `json:"strategy"`
	PortfolioID string        `json:"portfolio_id"`
	State       runner.State  `json:"state"`
	Paper       bool          `json:"paper"`
	Run         core.RunState `json:"run"`
}

type managedRun struct {
	id     string
	spec   RunSpec
	engine *engine.Engine
	runner *runner.Runner
}

// Manager builds engines from run specs and tracks their runners under
// uuid handles.
type Manager struct {
	market     core.IMarketData
	gateway    core.IOrderGateway
	store      core.IPortfolioStore
	pool       *concurrency.WorkerPool
	logger     core.ILogger
	onSnapshot func(*core.AuditSnapshot)

	mu   sync.RWMutex
	runs map[string]*managedRun
}

// Options wires the shared collaborators every run uses.
type Options struct {
	MarketData core.IMarketData
	Gateway    core.IOrderGateway
	Store      core.IPortfolioStore
	Pool       *concurrency.WorkerPool
	Logger     core.ILogger
	// OnSnapshot receives audit snapshots from every managed engine.
	OnSnapshot func(*core.AuditSnapshot)
}

// New creates an empty manager.
func New(opts Options) *Manager {
	return &Manager{
		market:     opts.MarketData,
		gateway:    opts.Gateway,
		store:      opts.Store,
		pool:       opts.Pool,
		logger:     opts.Logger.WithField("component", "manager"),
		onSnapshot: opts.OnSnapshot,
		runs:       make(map[string]*managedRun),
	}
}

// Create builds the strategy, engine and runner for spec, starts the runner
// and returns its handle.
func (m *Manager) Create(ctx context.Context, spec RunSpec) (*RunInfo, error) {
	strat, err := strategy.New(spec.Strategy, spec.Parameters, m.market, m.logger)
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(ctx, engine.Options{
		PortfolioID:       spec.PortfolioID,
		Name:              spec.Name,
		AllocationUSD:     spec.AllocationUSD,
		RebalanceInterval: spec.RebalanceInterval,
		Paper:             spec.Paper,
		Strategy:          strat,
		Executor:          executor.New(m.gateway, m.pool, m.logger, spec.Paper),
		MarketData:        m.market,
		Store:             m.store,
		Logger:            m.logger,
		OnSnapshot:        m.onSnapshot,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build engine for %q: %w", spec.Name, err)
	}

	run := &managedRun{
		id:     uuid.NewString(),
		spec:   spec,
		engine: eng,
		runner: runner.New(eng, m.logger.WithField("run", spec.Name)),
	}

	m.mu.Lock()
	m.runs[run.id] = run
	m.mu.Unlock()

	run.runner.Start()
	m.logger.Info("Strategy run started",
		"id", run.id,
		"name", spec.Name,
		"strategy", spec.Strategy,
		"paper", spec.Paper)
	return m.info(run), nil
}

// Get returns one run's info.
func (m *Manager) Get(id string) (*RunInfo, error) {
	run, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return m.info(run), nil
}

// List returns every run, sorted by name then id for stable output.
func (m *Manager) List() []*RunInfo {
	m.mu.RLock()
	runs := make([]*managedRun, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}
	m.mu.RUnlock()

	infos := make([]*RunInfo, 0, len(runs))
	for _, run := range runs {
		infos = append(infos, m.info(run))
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Name != infos[j].Name {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Pause pauses one run.
func (m *Manager) Pause(id string) error {
	run, err := m.lookup(id)
	if err != nil {
		return err
	}
	run.runner.Pause()
	return nil
}

// Resume resumes one run.
func (m *Manager) Resume(id string) error {
	run, err := m.lookup(id)
	if err != nil {
		return err
	}
	run.runner.Resume()
	return nil
}

// Stop stops one run permanently. The entry stays listed so its final state
// remains inspectable.
func (m *Manager) Stop(id string) error {
	run, err := m.lookup(id)
	if err != nil {
		return err
	}
	run.runner.Stop()
	return nil
}

// Snapshots returns the persisted audit history of one run's portfolio.
func (m *Manager) Snapshots(ctx context.Context, id string, limit int) ([]*core.AuditSnapshot, error) {
	run, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return m.store.Snapshots(ctx, run.engine.State().PortfolioID, limit)
}

// StopAll stops every run, used during shutdown.
func (m *Manager) StopAll() {
	m.mu.RLock()
	runs := make([]*managedRun, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}
	m.mu.RUnlock()

	for _, run := range runs {
		run.runner.Stop()
	}
	m.logger.Info("All runs stopped", "count", len(runs))
}

func (m *Manager) lookup(id string) (*managedRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrRunnerNotFound, id)
	}
	return run, nil
}

func (m *Manager) info(run *managedRun) *RunInfo {
	return &RunInfo{
		ID:          run.id,
		Name:        run.spec.Name,
		Strategy:    run.spec.Strategy,
		PortfolioID: run.engine.State().PortfolioID,
		State:       run.runner.State(),
		Paper:       run.spec.Paper,
		Run:         *run.engine.State(),
	}
}
