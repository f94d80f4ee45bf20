// Package memory keeps accepted records in memory for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/gather-vision/internal/crawler"
	"github.com/JakeFAU/gather-vision/internal/metrics"
	"github.com/JakeFAU/gather-vision/internal/sink"
)

// Sink stores records grouped by source and drops repeated hashes.
type Sink struct {
	mu      sync.RWMutex
	encoder *sink.Encoder
	records map[string][]sink.Record
	seen    map[string]struct{}
}

// New returns a memory Sink.
func New(encoder *sink.Encoder) *Sink {
	if encoder == nil {
		encoder = sink.NewEncoder(nil, nil)
	}
	return &Sink{
		encoder: encoder,
		records: make(map[string][]sink.Record),
		seen:    make(map[string]struct{}),
	}
}

// Accept implements crawler.Sink.
func (s *Sink) Accept(_ context.Context, source string, item crawler.Item) error {
	rec, err := s.encoder.Encode(source, item)
	metrics.ObserveSinkWrite("memory", err)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[rec.Hash]; dup {
		return nil
	}
	s.seen[rec.Hash] = struct{}{}
	s.records[source] = append(s.records[source], rec)
	return nil
}

// Records returns a copy of the records accepted for source.
func (s *Sink) Records(source string) []sink.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]sink.Record, len(s.records[source]))
	copy(out, s.records[source])
	return out
}

// Len counts all stored records.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
