// pkg/dimension/resolver.go
package dimension

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smi-platform/smi-warehouse/pkg/model"
)

// Store is the warehouse surface the resolver writes dimensions through.
// Implementations must make ExpireAndInsertGeography atomic: when two
// writers race on the same natural key, exactly one wins and the other
// receives model.ErrVersionConflict.
type Store interface {
	// CurrentGeography returns the current version for a natural key, or
	// model.ErrNotFound when the facility has never been seen.
	CurrentGeography(ctx context.Context, geoID string) (*model.GeographyDimensionRow, error)

	// InsertGeography inserts a first version (version 1, current). A
	// concurrent first insert for the same key yields
	// model.ErrVersionConflict. The stored row's key is written back.
	InsertGeography(ctx context.Context, row *model.GeographyDimensionRow) error

	// ExpireAndInsertGeography atomically expires the current version and
	// inserts its successor.
	ExpireAndInsertGeography(ctx context.Context, current *model.GeographyDimensionRow, next *model.GeographyDimensionRow) error

	// EnsureTime creates the time row if its key does not exist yet and
	// returns the key either way. Time rows are never mutated.
	EnsureTime(ctx context.Context, row model.TimeDimensionRow) (int, error)

	// CauseByCode looks up a cause in the seeded taxonomy, returning
	// model.ErrNotFound for codes outside it.
	CauseByCode(ctx context.Context, code string) (*model.CauseDimensionRow, error)
}

// Resolver maps cleaned-record attributes onto dimension keys, creating new
// geography versions (SCD Type 2) and calendar periods on demand.
type Resolver struct {
	store  Store
	logger *zap.Logger

	// Serializes resolution per natural key: the decide-then-write window
	// between reading the current version and writing its successor must
	// not be entered twice for one key.
	keysMu sync.Mutex
	keys   map[string]*sync.Mutex

	// Injected clock for deterministic tests.
	now func() time.Time
}

// NewResolver creates a Resolver over the given store.
func NewResolver(store Store, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:  store,
		logger: logger.Named("dimension-resolver"),
		keys:   make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

// WithClock overrides the resolver's clock. Test hook.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

func (r *Resolver) keyLock(geoID string) *sync.Mutex {
	r.keysMu.Lock()
	defer r.keysMu.Unlock()
	mu, ok := r.keys[geoID]
	if !ok {
		mu = &sync.Mutex{}
		r.keys[geoID] = mu
	}
	return mu
}

// ResolveGeography returns the surrogate key for a facility, inserting a
// first version for new facilities and versioning changed ones. The store's
// uniqueness check backstops the per-key lock; on a conflict the resolution
// is retried once.
func (r *Resolver) ResolveGeography(ctx context.Context, attrs model.GeographyAttributes) (model.GeographyKey, error) {
	if attrs.GeoID == "" {
		return 0, fmt.Errorf("geography attributes carry no natural key")
	}

	mu := r.keyLock(attrs.GeoID)
	mu.Lock()
	defer mu.Unlock()

	key, err := r.resolveGeographyLocked(ctx, attrs)
	if errors.Is(err, model.ErrVersionConflict) {
		r.logger.Warn("Geography version conflict, retrying",
			zap.String("geoID", attrs.GeoID))
		key, err = r.resolveGeographyLocked(ctx, attrs)
	}
	return key, err
}

func (r *Resolver) resolveGeographyLocked(ctx context.Context, attrs model.GeographyAttributes) (model.GeographyKey, error) {
	today := truncateToDay(r.now())

	current, err := r.store.CurrentGeography(ctx, attrs.GeoID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		row := &model.GeographyDimensionRow{
			GeographyAttributes: attrs,
			EffectiveDate:       today,
			ExpirationDate:      model.OpenEndedExpiration,
			IsCurrent:           true,
			Version:             1,
		}
		if err := r.store.InsertGeography(ctx, row); err != nil {
			return 0, err
		}
		r.logger.Debug("Created geography dimension",
			zap.String("geoID", attrs.GeoID),
			zap.Int64("geoKey", int64(row.GeoKey)))
		return row.GeoKey, nil

	case err != nil:
		return 0, fmt.Errorf("failed to look up geography %s: %w", attrs.GeoID, err)
	}

	if !geographyChanged(current.GeographyAttributes, attrs) {
		return current.GeoKey, nil
	}

	next := &model.GeographyDimensionRow{
		GeographyAttributes: attrs,
		EffectiveDate:       today,
		ExpirationDate:      model.OpenEndedExpiration,
		IsCurrent:           true,
		Version:             current.Version + 1,
	}
	if err := r.store.ExpireAndInsertGeography(ctx, current, next); err != nil {
		return 0, err
	}

	r.logger.Info("Geography attributes changed, new version created",
		zap.String("geoID", attrs.GeoID),
		zap.Int("version", next.Version))
	return next.GeoKey, nil
}

// ResolveTime returns the YYYYMMDD key for a date, creating the dim_temps
// row on first sight.
func (r *Resolver) ResolveTime(ctx context.Context, date time.Time) (int, error) {
	key, err := r.store.EnsureTime(ctx, BuildTimeRow(date))
	if err != nil {
		return 0, fmt.Errorf("failed to ensure time dimension for %s: %w",
			date.Format("2006-01-02"), err)
	}
	return key, nil
}

// ResolveCause looks up a code in the closed taxonomy. Unknown codes fail
// loudly: causes are controlled vocabulary, never invented at ingest time.
func (r *Resolver) ResolveCause(ctx context.Context, code string) (model.CauseKey, error) {
	row, err := r.store.CauseByCode(ctx, code)
	if errors.Is(err, model.ErrNotFound) {
		return 0, &model.UnknownCauseError{Code: code}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up cause %q: %w", code, err)
	}
	return row.CauseKey, nil
}

// geographyChanged reports whether any tracked attribute differs between the
// stored current version and the incoming attributes.
func geographyChanged(current, incoming model.GeographyAttributes) bool {
	return current != incoming
}

// ExpirationFor returns the expiration date a version receives when its
// successor becomes effective: the day before.
func ExpirationFor(effectiveDate time.Time) time.Time {
	return effectiveDate.AddDate(0, 0, -1)
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
