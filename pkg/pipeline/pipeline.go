// pkg/pipeline/pipeline.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/smi-platform/smi-warehouse/pkg/config"
	"github.com/smi-platform/smi-warehouse/pkg/dimension"
	"github.com/smi-platform/smi-warehouse/pkg/fact"
	"github.com/smi-platform/smi-warehouse/pkg/model"
	"github.com/smi-platform/smi-warehouse/pkg/normalizer"
	"github.com/smi-platform/smi-warehouse/pkg/quality"
	"github.com/smi-platform/smi-warehouse/pkg/source"
	"go.uber.org/zap"
)

// Warehouse is the full persistence surface the pipeline writes to. Both the
// PostgreSQL store and the in-memory store satisfy it.
type Warehouse interface {
	dimension.Store
	fact.Store
	RunStore
	quality.ReferenceReader

	InsertCleanedRecords(ctx context.Context, batchID string, records []model.CleanedRecord) error
}

// RunResult summarizes one completed pipeline run.
type RunResult struct {
	RunID   string
	BatchID string
	Status  model.RunStatus
	Counts  model.RunCounts
	Checks  []model.QualityCheck

	Duration time.Duration
}

// Pipeline executes one bronze-to-gold load: normalize the source records,
// retain the silver rows, resolve dimensions, upsert facts and evaluate the
// batch quality rules.
type Pipeline struct {
	cfg        config.PipelineConfig
	warehouse  Warehouse
	normalizer *normalizer.Normalizer
	resolver   *dimension.Resolver
	scorer     *quality.Scorer
	metrics    *Metrics
	logger     *zap.Logger
	retry      *RetryConfig
}

// NewPipeline wires a pipeline against a warehouse. metrics may be nil when
// no registry is exposed.
func NewPipeline(cfg config.PipelineConfig, wh Warehouse, metrics *Metrics, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		warehouse:  wh,
		normalizer: normalizer.NewNormalizer(logger),
		resolver:   dimension.NewResolver(wh, logger),
		scorer:     quality.NewScorer(cfg, logger),
		metrics:    metrics,
		logger:     logger,
		retry:      retryConfigFrom(cfg),
	}
}

// normalized pairs one cleaned row with the notes produced while cleaning it.
type normalized struct {
	rec   model.CleanedRecord
	notes []model.QualityNote
}

// Run processes every record of src as one batch. The batch identifier keys
// fact rows for idempotent replays. The returned result is non-nil whenever a
// run was registered, including failed runs.
func (p *Pipeline) Run(ctx context.Context, batchID string, src source.RecordStream) (*RunResult, error) {
	tracker, err := NewRunTracker(ctx, p.warehouse, batchID, p.logger)
	if err != nil {
		return nil, err
	}
	if err := tracker.Start(ctx); err != nil {
		return nil, err
	}

	logger := p.logger.With(
		zap.String("runID", tracker.RunID()),
		zap.String("batchID", batchID),
		zap.String("source", src.Name()),
	)
	errorHandler := NewErrorHandler(logger)

	result, runErr := p.execute(ctx, tracker, batchID, src, errorHandler, logger)
	if runErr != nil {
		p.finalize(ctx, tracker, result, model.RunStatusFailed)
		return result, runErr
	}

	status := model.RunStatusSuccess
	if result.Counts.Failed > 0 || anyCheckFailed(result.Checks) {
		status = model.RunStatusPartial
	}
	p.finalize(ctx, tracker, result, status)
	return result, nil
}

func (p *Pipeline) execute(ctx context.Context, tracker *RunTracker, batchID string, src source.RecordStream, errorHandler *ErrorHandler, logger *zap.Logger) (*RunResult, error) {
	result := &RunResult{
		RunID:   tracker.RunID(),
		BatchID: batchID,
	}

	raw, err := readAll(ctx, src)
	if err != nil {
		errorHandler.RecordError(NewErrorRecord(err, CategorizeError(err)))
		return result, fmt.Errorf("failed to read source %s: %w", src.Name(), err)
	}
	logger.Info("Source read", zap.Int("records", len(raw)))

	records := p.normalizeAll(ctx, raw)
	counts := model.RunCounts{Processed: len(records)}

	cleaned := make([]model.CleanedRecord, 0, len(records))
	flagged, complete, valid := 0, 0, 0
	scoreSum := 0.0
	for _, n := range records {
		cleaned = append(cleaned, n.rec)
		scoreSum += n.rec.DataQualityScore
		for _, note := range n.notes {
			logger.Debug("Cleaning note",
				zap.Int64("sequence", note.Sequence),
				zap.String("field", note.Field),
				zap.String("reason", note.Reason))
		}
		// A row is flagged when it carries anomalies or had invalid cells
		// repaired; both surface in the run report.
		if n.rec.HasAnomalies || !n.rec.IsValid {
			flagged++
		}
		if n.rec.IsComplete {
			complete++
		}
		if n.rec.IsValid {
			valid++
		}
	}
	counts.Flagged = flagged
	p.metrics.observeBatch(len(cleaned), complete, valid, flagged, scoreSum)

	err = RetryWithBackoff(ctx, p.retry, logger, "silver load", func(ctx context.Context) error {
		return p.warehouse.InsertCleanedRecords(ctx, batchID, cleaned)
	})
	if err != nil {
		err = &model.PersistenceError{Stage: "silver", Err: err}
		errorHandler.RecordError(NewErrorRecord(err, ErrorCategoryPersistence))
		return result, fmt.Errorf("failed to retain silver rows: %w", err)
	}

	upserter := fact.NewUpserter(p.warehouse, batchID, logger)
	for i := range cleaned {
		rec := &cleaned[i]
		if !rec.HasPeriod() || rec.GeoID == "" {
			// Kept in silver for audit, never aggregated.
			continue
		}
		if err := p.loadRecord(ctx, upserter, rec); err != nil {
			category := CategorizeError(err)
			errorHandler.RecordError(NewErrorRecord(err, category).WithRow(rec.Sequence, rec.GeoID))
			counts.Failed++
			if errorHandler.IsErrorThresholdExceeded() {
				result.Counts = counts
				return result, fmt.Errorf("error threshold exceeded while loading facts: %w", err)
			}
		}
	}

	var flush fact.UpsertResult
	err = RetryWithBackoff(ctx, p.retry, logger, "fact load", func(ctx context.Context) error {
		var flushErr error
		flush, flushErr = upserter.Flush(ctx)
		return flushErr
	})
	if err != nil {
		err = &model.PersistenceError{Stage: "gold", Err: err}
		errorHandler.RecordError(NewErrorRecord(err, ErrorCategoryPersistence))
		result.Counts = counts
		return result, fmt.Errorf("failed to load facts: %w", err)
	}
	counts.Inserted = flush.Inserted
	counts.Updated = flush.Updated

	checks := p.scorer.EvaluateRecords(tracker.RunID(), cleaned)
	referential, err := p.scorer.EvaluateReferential(ctx, tracker.RunID(), p.warehouse)
	if err != nil {
		logger.Warn("Referential check could not run", zap.Error(err))
	} else {
		checks = append(checks, referential)
	}
	if err := tracker.RecordChecks(ctx, checks); err != nil {
		errorHandler.RecordError(NewErrorRecord(err, ErrorCategoryPersistence))
		result.Counts = counts
		result.Checks = checks
		return result, err
	}

	result.Counts = counts
	result.Checks = checks
	return result, nil
}

// loadRecord resolves the dimension keys of one silver row and stages its
// measures on the upserter.
func (p *Pipeline) loadRecord(ctx context.Context, upserter *fact.Upserter, rec *model.CleanedRecord) error {
	geoKey, err := p.resolver.ResolveGeography(ctx, model.GeographyAttributes{
		Pays:               rec.Pays,
		Region:             rec.Region,
		Province:           rec.Province,
		DistrictSanitaire:  rec.DistrictSanitaire,
		Commune:            rec.Commune,
		FormationSanitaire: rec.FormationSanitaire,
		GeoID:              rec.GeoID,
	})
	if err != nil {
		return fmt.Errorf("failed to resolve geography: %w", err)
	}

	dateKey, err := p.resolver.ResolveTime(ctx, rec.PeriodeDate)
	if err != nil {
		return fmt.Errorf("failed to resolve period: %w", err)
	}

	byCause := map[string]int{
		model.CauseHemorragie:          rec.DecesHemorragie,
		model.CauseEclampsie:           rec.DecesEclampsie,
		model.CauseInfection:           rec.DecesInfection,
		model.CauseAutresComplications: rec.DecesAutresComplications,
		model.CauseCommunaute:          rec.DecesMaternelsCommunaute,
	}
	codes := []string{
		model.CauseHemorragie, model.CauseEclampsie, model.CauseInfection,
		model.CauseAutresComplications, model.CauseCommunaute,
	}

	// Resolve every key before staging anything: a row that fails resolution
	// must not leave a partial contribution on the upserter.
	causeKeys := make([]model.CauseKey, len(codes))
	for i, code := range codes {
		causeKey, err := p.resolver.ResolveCause(ctx, code)
		if err != nil {
			return fmt.Errorf("failed to resolve cause: %w", err)
		}
		causeKeys[i] = causeKey
	}
	for i, code := range codes {
		upserter.AddMaternal(fact.MaternalKey{Geo: geoKey, Date: dateKey, Cause: causeKeys[i]}, byCause[code])
	}

	facilityPeriod := fact.FacilityPeriodKey{Geo: geoKey, Date: dateKey}
	upserter.AddNeonatal(facilityPeriod, rec)
	upserter.AddIndicator(facilityPeriod, rec)
	return nil
}

// normalizeAll cleans the raw records on a worker pool and returns them in
// source order.
func (p *Pipeline) normalizeAll(ctx context.Context, raw []*model.RawRecord) []normalized {
	poolSize := p.cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}
	if poolSize > len(raw) {
		poolSize = len(raw)
	}
	if poolSize == 0 {
		return nil
	}

	jobQueue := make(chan *model.RawRecord, poolSize*2)
	resultQueue := make(chan normalized, poolSize*2)

	var wg sync.WaitGroup
	for i := 0; i < poolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range jobQueue {
				rec, notes := p.normalizer.Normalize(r)
				resultQueue <- normalized{rec: rec, notes: notes}
			}
		}()
	}

	go func() {
		defer close(jobQueue)
		for _, r := range raw {
			select {
			case <-ctx.Done():
				return
			case jobQueue <- r:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultQueue)
	}()

	out := make([]normalized, 0, len(raw))
	for n := range resultQueue {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].rec.Sequence < out[j].rec.Sequence })
	return out
}

func (p *Pipeline) finalize(ctx context.Context, tracker *RunTracker, result *RunResult, status model.RunStatus) {
	if result == nil {
		return
	}
	if err := tracker.Finalize(ctx, status, result.Counts); err != nil {
		p.logger.Error("Failed to finalize run",
			zap.String("runID", tracker.RunID()),
			zap.Error(err))
	}

	run := tracker.Run()
	result.Status = run.Status
	result.Duration = run.Duration
	p.metrics.observeRun(string(run.Status), run.Duration.Seconds(),
		result.Counts.Inserted, result.Counts.Updated, result.Counts.Failed)
}

// readAll drains a record stream.
func readAll(ctx context.Context, src source.RecordStream) ([]*model.RawRecord, error) {
	var out []*model.RawRecord
	for {
		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

func anyCheckFailed(checks []model.QualityCheck) bool {
	for _, c := range checks {
		if !c.Passed {
			return true
		}
	}
	return false
}
