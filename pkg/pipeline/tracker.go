// pkg/pipeline/tracker.go
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smi-platform/smi-warehouse/pkg/model"
	"go.uber.org/zap"
)

// RunStore persists run lifecycle records and their quality checks.
type RunStore interface {
	CreateRun(ctx context.Context, run *model.PipelineRun) error
	UpdateRun(ctx context.Context, run *model.PipelineRun) error
	InsertQualityChecks(ctx context.Context, checks []model.QualityCheck) error
}

// RunTracker drives one run through its state machine and persists every
// transition. A tracker finalizes exactly once; later calls are rejected.
type RunTracker struct {
	store  RunStore
	logger *zap.Logger
	now    func() time.Time

	mu  sync.Mutex
	run model.PipelineRun
}

// NewRunTracker creates a pending run for the batch and persists it.
func NewRunTracker(ctx context.Context, store RunStore, batchID string, logger *zap.Logger) (*RunTracker, error) {
	t := &RunTracker{
		store:  store,
		logger: logger,
		now:    time.Now,
		run: model.PipelineRun{
			RunID:   uuid.New().String(),
			BatchID: batchID,
			Status:  model.RunStatusPending,
		},
	}
	t.run.StartedAt = t.now().UTC()

	if err := store.CreateRun(ctx, &t.run); err != nil {
		return nil, fmt.Errorf("failed to register run: %w", err)
	}

	logger.Info("Run registered",
		zap.String("runID", t.run.RunID),
		zap.String("batchID", batchID))
	return t, nil
}

// WithClock overrides the tracker clock. Only for tests.
func (t *RunTracker) WithClock(now func() time.Time) *RunTracker {
	t.now = now
	return t
}

// RunID returns the identifier of the tracked run.
func (t *RunTracker) RunID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.run.RunID
}

// Run returns a snapshot of the tracked run.
func (t *RunTracker) Run() model.PipelineRun {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.run
}

// Start moves the run from pending to running.
func (t *RunTracker) Start(ctx context.Context) error {
	return t.transition(ctx, model.RunStatusRunning, model.RunCounts{})
}

// Finalize moves the run to a terminal status with its final counts. The
// first terminal transition wins.
func (t *RunTracker) Finalize(ctx context.Context, status model.RunStatus, counts model.RunCounts) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	return t.transition(ctx, status, counts)
}

func (t *RunTracker) transition(ctx context.Context, next model.RunStatus, counts model.RunCounts) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.run.Status.CanTransitionTo(next) {
		return fmt.Errorf("illegal run transition %s -> %s", t.run.Status, next)
	}

	t.run.Status = next
	if next.IsTerminal() {
		t.run.CompletedAt = t.now().UTC()
		t.run.Duration = t.run.CompletedAt.Sub(t.run.StartedAt)
		t.run.Counts = counts
	}

	if err := t.store.UpdateRun(ctx, &t.run); err != nil {
		return fmt.Errorf("failed to persist run transition to %s: %w", next, err)
	}

	t.logger.Info("Run transitioned",
		zap.String("runID", t.run.RunID),
		zap.String("status", string(next)),
		zap.Int("processed", counts.Processed),
		zap.Int("failed", counts.Failed))
	return nil
}

// RecordChecks persists quality check outcomes for the run.
func (t *RunTracker) RecordChecks(ctx context.Context, checks []model.QualityCheck) error {
	if len(checks) == 0 {
		return nil
	}
	if err := t.store.InsertQualityChecks(ctx, checks); err != nil {
		return fmt.Errorf("failed to persist quality checks: %w", err)
	}
	return nil
}
