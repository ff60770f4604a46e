// pkg/source/source.go
package source

import (
	"context"
	"io"

	"github.com/smi-platform/smi-warehouse/pkg/model"
)

// RecordStream yields raw bronze records one at a time. Next returns io.EOF
// when the stream is exhausted. The pipeline does not know or care how the
// stream was obtained; the scheduler wires one in.
type RecordStream interface {
	// Name identifies the stream for run reporting (file name, table name).
	Name() string

	Next(ctx context.Context) (*model.RawRecord, error)

	Close() error
}

// SliceSource replays an in-memory set of records. Used by tests and batch
// re-runs from captured input.
type SliceSource struct {
	name    string
	records []*model.RawRecord
	pos     int
}

// NewSliceSource creates a SliceSource over the given records.
func NewSliceSource(name string, records []*model.RawRecord) *SliceSource {
	return &SliceSource{name: name, records: records}
}

func (s *SliceSource) Name() string { return s.name }

func (s *SliceSource) Next(ctx context.Context) (*model.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}

func (s *SliceSource) Close() error { return nil }
