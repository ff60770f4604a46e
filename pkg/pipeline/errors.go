// pkg/pipeline/errors.go
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smi-platform/smi-warehouse/pkg/model"
	"go.uber.org/zap"
)

// ErrorCategory classifies errors raised while loading a batch
type ErrorCategory int

const (
	// Error categories with increasing severity
	ErrorCategoryNone ErrorCategory = iota
	ErrorCategoryWarning
	ErrorCategoryNormalization
	ErrorCategoryDimension
	ErrorCategoryFact
	ErrorCategoryPersistence
	ErrorCategoryCritical
)

// String returns a string representation of the error category
func (ec ErrorCategory) String() string {
	switch ec {
	case ErrorCategoryNone:
		return "None"
	case ErrorCategoryWarning:
		return "Warning"
	case ErrorCategoryNormalization:
		return "Normalization"
	case ErrorCategoryDimension:
		return "Dimension"
	case ErrorCategoryFact:
		return "Fact"
	case ErrorCategoryPersistence:
		return "Persistence"
	case ErrorCategoryCritical:
		return "Critical"
	default:
		return fmt.Sprintf("Unknown(%d)", ec)
	}
}

// ErrorRecord represents a single error raised while loading a batch
type ErrorRecord struct {
	Category  ErrorCategory
	Sequence  int64 // source sequence of the offending row, 0 when batch-level
	GeoID     string
	Error     error
	Message   string
	Timestamp time.Time
}

// NewErrorRecord creates a new error record with current timestamp
func NewErrorRecord(err error, category ErrorCategory) ErrorRecord {
	record := ErrorRecord{
		Category:  category,
		Error:     err,
		Timestamp: time.Now(),
	}
	if err != nil {
		record.Message = err.Error()
	}
	return record
}

// WithRow adds row information to the error record
func (r ErrorRecord) WithRow(sequence int64, geoID string) ErrorRecord {
	r.Sequence = sequence
	r.GeoID = geoID
	return r
}

// ErrorHandler collects row-level errors during a run and decides when the
// accumulated damage is bad enough to abort the batch.
type ErrorHandler struct {
	logger          *zap.Logger
	errorThresholds map[ErrorCategory]int
	errorCounts     map[ErrorCategory]int
	sampleErrors    map[ErrorCategory][]ErrorRecord
	mu              sync.Mutex
	maxSamples      int
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	// Default error thresholds by category
	return &ErrorHandler{
		logger: logger,
		errorThresholds: map[ErrorCategory]int{
			ErrorCategoryWarning:       1000,
			ErrorCategoryNormalization: 500,
			ErrorCategoryDimension:     100,
			ErrorCategoryFact:          100,
			ErrorCategoryPersistence:   10,
			ErrorCategoryCritical:      0,
		},
		errorCounts:  make(map[ErrorCategory]int),
		sampleErrors: make(map[ErrorCategory][]ErrorRecord),
		maxSamples:   5,
	}
}

// CategorizeError determines the category of an error
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}

	var unknownCause *model.UnknownCauseError
	var persistence *model.PersistenceError
	var sourceFormat *model.SourceFormatError

	switch {
	case errors.As(err, &unknownCause):
		return ErrorCategoryDimension
	case errors.Is(err, model.ErrVersionConflict):
		return ErrorCategoryDimension
	case errors.As(err, &persistence):
		return ErrorCategoryPersistence
	case errors.As(err, &sourceFormat):
		return ErrorCategoryCritical
	default:
		return ErrorCategoryFact
	}
}

// RecordError saves an error occurrence
func (eh *ErrorHandler) RecordError(record ErrorRecord) {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	eh.errorCounts[record.Category]++

	samples := eh.sampleErrors[record.Category]
	if len(samples) < eh.maxSamples {
		eh.sampleErrors[record.Category] = append(samples, record)
	}

	logLevel := zap.WarnLevel
	if record.Category >= ErrorCategoryPersistence {
		logLevel = zap.ErrorLevel
	}
	eh.logger.Log(logLevel, "Batch load error",
		zap.String("category", record.Category.String()),
		zap.Int64("sequence", record.Sequence),
		zap.String("geoID", record.GeoID),
		zap.String("error", record.Message))
}

// ErrorCount returns the total number of recorded errors across categories.
func (eh *ErrorHandler) ErrorCount() int {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	total := 0
	for _, count := range eh.errorCounts {
		total += count
	}
	return total
}

// GetErrorSummary generates an error summary report
func (eh *ErrorHandler) GetErrorSummary() map[ErrorCategory]int {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	summary := make(map[ErrorCategory]int)
	for category, count := range eh.errorCounts {
		summary[category] = count
	}
	return summary
}

// GetErrorSamples returns sample errors for each category
func (eh *ErrorHandler) GetErrorSamples() map[ErrorCategory][]ErrorRecord {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	samples := make(map[ErrorCategory][]ErrorRecord)
	for category, records := range eh.sampleErrors {
		categorySamples := make([]ErrorRecord, len(records))
		copy(categorySamples, records)
		samples[category] = categorySamples
	}
	return samples
}

// IsErrorThresholdExceeded checks if any error category has exceeded its
// threshold
func (eh *ErrorHandler) IsErrorThresholdExceeded() bool {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	for category, count := range eh.errorCounts {
		threshold, exists := eh.errorThresholds[category]
		if exists && count > threshold {
			return true
		}
	}
	return false
}
