// Package sink turns extracted items into persisted records. Concrete sinks
// live in subpackages; this package holds the record encoding they share and
// a fan-out sink.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/gather-vision/internal/crawler"
	hashsha256 "github.com/JakeFAU/gather-vision/internal/hash/sha256"
)

// Record is the persisted form of one item.
type Record struct {
	Source     string          `json:"source"`
	Kind       string          `json:"kind"`
	Hash       string          `json:"hash"`
	Payload    json.RawMessage `json:"payload"`
	AcceptedAt time.Time       `json:"accepted_at"`
}

// Encoder builds Records. The hash covers source, kind and payload so the
// same item re-collected on a later run dedups in stores keyed by hash.
type Encoder struct {
	hasher crawler.Hasher
	clock  crawler.Clock
}

// NewEncoder returns an Encoder. Nil arguments fall back to SHA-256 and the wall clock.
func NewEncoder(hasher crawler.Hasher, clock crawler.Clock) *Encoder {
	if hasher == nil {
		hasher = hashsha256.New()
	}
	if clock == nil {
		clock = utcClock{}
	}
	return &Encoder{hasher: hasher, clock: clock}
}

// Encode marshals item into a Record.
func (e *Encoder) Encode(source string, item crawler.Item) (Record, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return Record{}, fmt.Errorf("encode %T item: %w", item, err)
	}
	kind := crawler.KindOf(item)
	digestInput := make([]byte, 0, len(source)+len(kind)+len(payload)+2)
	digestInput = append(digestInput, source...)
	digestInput = append(digestInput, 0)
	digestInput = append(digestInput, kind...)
	digestInput = append(digestInput, 0)
	digestInput = append(digestInput, payload...)
	hash, err := e.hasher.Hash(digestInput)
	if err != nil {
		return Record{}, fmt.Errorf("hash item: %w", err)
	}
	return Record{
		Source:     source,
		Kind:       kind,
		Hash:       hash,
		Payload:    payload,
		AcceptedAt: e.clock.Now(),
	}, nil
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// Discard accepts and drops every item. It backs dry runs.
type Discard struct{}

// Accept implements crawler.Sink.
func (Discard) Accept(context.Context, string, crawler.Item) error { return nil }

// Multi fans each item out to several sinks.
type Multi []crawler.Sink

// Accept delivers item to every sink and joins their errors. The joined error
// still matches crawler.ErrSinkFatal when any member failed fatally.
func (m Multi) Accept(ctx context.Context, source string, item crawler.Item) error {
	var errs []error
	for _, s := range m {
		if err := s.Accept(ctx, source, item); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FlushSource flushes members that buffer per source.
func (m Multi) FlushSource(ctx context.Context, source string) error {
	var errs []error
	for _, s := range m {
		if f, ok := s.(crawler.SourceFlusher); ok {
			if err := f.FlushSource(ctx, source); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RunRecorder is implemented by sinks that also keep a history of runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, result crawler.RunResult) error
}

// RunRow is the persisted summary of one run.
type RunRow struct {
	RunID      string
	Source     string
	State      string
	Stats      []byte
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewRunRow flattens a run result for storage.
func NewRunRow(result crawler.RunResult) (RunRow, error) {
	stats, err := json.Marshal(result.Stats)
	if err != nil {
		return RunRow{}, fmt.Errorf("encode run stats: %w", err)
	}
	row := RunRow{
		RunID:      result.RunID,
		Source:     result.Source,
		State:      string(result.State),
		Stats:      stats,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
	}
	if result.Err != nil {
		row.Error = result.Err.Error()
	}
	return row, nil
}
