// Package maintenance runs the background retention sweep across every
// tenant's revision history.
package maintenance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/revisions"
	"go.uber.org/zap"
)

var (
	errMissingTenantProvider = errors.New("tenant provider is required")
)

const (
	defaultInterval     = 24 * time.Hour
	defaultInitialDelay = 10 * time.Second
	defaultBatchSize    = 50
	defaultPassBudget   = 4 * time.Second

	fieldTenantID = "tenant_id"
	fieldNoteID   = "note_id"
)

// TenantProvider enumerates known tenants and resolves their revision
// services. Tenant discovery and database routing live outside the engine.
type TenantProvider interface {
	ListTenantIDs(ctx context.Context) ([]string, error)
	ServiceFor(ctx context.Context, tenantID string) (*revisions.Service, error)
}

// SweeperConfig describes the sweep schedule and its collaborators.
type SweeperConfig struct {
	Tenants      TenantProvider
	Interval     time.Duration
	InitialDelay time.Duration
	BatchSize    int
	PassBudget   time.Duration
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Sweeper walks all tenants on a recurring schedule, pruning each note's
// history under a wall-clock budget. Per-tenant locks and resume checkpoints
// are plain fields so separate sweepers never share state; both live only in
// process memory and reset on restart, which is safe because pruning is
// idempotent.
type Sweeper struct {
	tenants      TenantProvider
	interval     time.Duration
	initialDelay time.Duration
	batchSize    int
	passBudget   time.Duration
	clock        func() time.Time
	logger       *zap.Logger

	mu          sync.Mutex
	inProgress  map[string]bool
	checkpoints map[string]string

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	stopped bool
}

// NewSweeper validates the configuration and returns a sweeper. Start must be
// called to begin the schedule; RunPass can also be invoked directly.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Tenants == nil {
		return nil, errMissingTenantProvider
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	initialDelay := cfg.InitialDelay
	if initialDelay <= 0 {
		initialDelay = defaultInitialDelay
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	passBudget := cfg.PassBudget
	if passBudget <= 0 {
		passBudget = defaultPassBudget
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sweeper{
		tenants:      cfg.Tenants,
		interval:     interval,
		initialDelay: initialDelay,
		batchSize:    batchSize,
		passBudget:   passBudget,
		clock:        clock,
		logger:       logger,
		inProgress:   make(map[string]bool),
		checkpoints:  make(map[string]string),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}, nil
}

// Start begins the recurring schedule: one pass after the initial delay, then
// one per interval.
func (s *Sweeper) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.run()
}

// Stop ends the schedule. An in-flight pass finishes naturally; no new pass
// is scheduled afterwards.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
}

func (s *Sweeper) run() {
	defer close(s.doneCh)

	delay := time.NewTimer(s.initialDelay)
	defer delay.Stop()
	select {
	case <-delay.C:
	case <-s.stopCh:
		return
	}
	s.RunPass(context.Background())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.RunPass(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// RunPass sweeps every known tenant once. A failure in one tenant is logged
// and never blocks the others or the schedule.
func (s *Sweeper) RunPass(ctx context.Context) {
	tenantIDs, err := s.tenants.ListTenantIDs(ctx)
	if err != nil {
		s.logger.Error("maintenance pass could not list tenants", zap.Error(err))
		return
	}

	for _, tenantID := range tenantIDs {
		if err := s.sweepTenant(ctx, tenantID); err != nil {
			s.logger.Error("maintenance pass failed for tenant",
				zap.String(fieldTenantID, tenantID), zap.Error(err))
		}
	}
}

// sweepTenant runs one bounded-time pass for a tenant: resume from the
// checkpoint, prune batches of note ids until exhaustion or the budget
// elapses, then run orphan cleanup. The tenant flag is released even when the
// pass fails so maintenance is never locked out permanently.
func (s *Sweeper) sweepTenant(ctx context.Context, tenantID string) error {
	if !s.acquire(tenantID) {
		s.logger.Debug("maintenance pass already in progress for tenant",
			zap.String(fieldTenantID, tenantID))
		return nil
	}
	defer s.release(tenantID)

	service, err := s.tenants.ServiceFor(ctx, tenantID)
	if err != nil {
		return err
	}

	cursor := s.checkpoint(tenantID)
	startedAt := s.clock()

	for {
		noteIDs, err := service.NoteIDsWithRevisions(ctx, cursor, s.batchSize)
		if err != nil {
			return err
		}
		for _, rawNoteID := range noteIDs {
			noteID, err := revisions.NewNoteID(rawNoteID)
			if err != nil {
				s.logger.Warn("maintenance pass skipped malformed note id",
					zap.String(fieldTenantID, tenantID), zap.String(fieldNoteID, rawNoteID))
				continue
			}
			if _, err := service.Prune(ctx, noteID); err != nil {
				s.logger.Error("maintenance prune failed",
					zap.String(fieldTenantID, tenantID),
					zap.String(fieldNoteID, rawNoteID),
					zap.Error(err))
			}
		}
		if len(noteIDs) > 0 {
			cursor = noteIDs[len(noteIDs)-1]
		}

		if len(noteIDs) < s.batchSize {
			s.clearCheckpoint(tenantID)
			break
		}
		// The budget is advisory and only checked between batches; a slow
		// batch may overrun it slightly.
		if s.clock().Sub(startedAt) > s.passBudget {
			s.setCheckpoint(tenantID, cursor)
			break
		}
	}

	if _, err := service.CleanupOrphans(ctx); err != nil {
		return err
	}
	return nil
}

func (s *Sweeper) acquire(tenantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inProgress[tenantID] {
		return false
	}
	s.inProgress[tenantID] = true
	return true
}

func (s *Sweeper) release(tenantID string) {
	s.mu.Lock()
	delete(s.inProgress, tenantID)
	s.mu.Unlock()
}

func (s *Sweeper) checkpoint(tenantID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[tenantID]
}

func (s *Sweeper) setCheckpoint(tenantID, lastNoteID string) {
	s.mu.Lock()
	s.checkpoints[tenantID] = lastNoteID
	s.mu.Unlock()
}

func (s *Sweeper) clearCheckpoint(tenantID string) {
	s.mu.Lock()
	delete(s.checkpoints, tenantID)
	s.mu.Unlock()
}
