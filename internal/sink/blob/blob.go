// Package blob writes records as JSON Lines objects to a blob store.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/gather-vision/internal/crawler"
	"github.com/JakeFAU/gather-vision/internal/metrics"
	"github.com/JakeFAU/gather-vision/internal/sink"
)

// ContentType is set on every object the sink writes.
const ContentType = "application/x-ndjson"

// ObjectStore persists one object and returns its URI.
type ObjectStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Config controls object naming and batching.
type Config struct {
	Prefix string `mapstructure:"prefix"`
	// BatchSize flushes a source's buffer early once it holds this many records.
	BatchSize int `mapstructure:"batch_size"`
}

// BatchError reports a batch that could not be written. Every record in it is lost.
type BatchError struct {
	Path    string
	Records int
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("write %s (%d records): %v", e.Path, e.Records, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Lost reports the number of dropped records.
func (e *BatchError) Lost() int { return e.Records }

// Sink buffers records per source and writes them as numbered JSONL parts.
type Sink struct {
	store   ObjectStore
	encoder *sink.Encoder
	clock   crawler.Clock
	cfg     Config
	logger  *zap.Logger

	mu      sync.Mutex
	buffers map[string]*buffer
}

type buffer struct {
	records []sink.Record
	part    int
	stamp   string
}

// New builds a blob Sink over store.
func New(store ObjectStore, cfg Config, encoder *sink.Encoder, clock crawler.Clock, logger *zap.Logger) (*Sink, error) {
	if store == nil {
		return nil, fmt.Errorf("blob sink: object store is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if encoder == nil {
		encoder = sink.NewEncoder(nil, clock)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		return nil, fmt.Errorf("blob sink: clock is required")
	}
	return &Sink{
		store:   store,
		encoder: encoder,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
		buffers: make(map[string]*buffer),
	}, nil
}

// Accept implements crawler.Sink.
func (s *Sink) Accept(ctx context.Context, source string, item crawler.Item) error {
	rec, err := s.encoder.Encode(source, item)
	if err != nil {
		metrics.ObserveSinkWrite("blob", err)
		return err
	}
	s.mu.Lock()
	buf, ok := s.buffers[source]
	if !ok {
		buf = &buffer{stamp: s.clock.Now().UTC().Format("20060102T150405Z")}
		s.buffers[source] = buf
	}
	buf.records = append(buf.records, rec)
	var batch []sink.Record
	var objectPath string
	if len(buf.records) >= s.cfg.BatchSize {
		batch, objectPath = s.takeLocked(source, buf)
	}
	s.mu.Unlock()

	metrics.ObserveSinkWrite("blob", nil)
	if batch == nil {
		return nil
	}
	return s.write(ctx, objectPath, batch)
}

// FlushSource writes any buffered records for source and resets its part counter.
func (s *Sink) FlushSource(ctx context.Context, source string) error {
	s.mu.Lock()
	buf, ok := s.buffers[source]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.buffers, source)
	var batch []sink.Record
	var objectPath string
	if len(buf.records) > 0 {
		batch, objectPath = s.takeLocked(source, buf)
	}
	s.mu.Unlock()

	if batch == nil {
		return nil
	}
	return s.write(ctx, objectPath, batch)
}

func (s *Sink) takeLocked(source string, buf *buffer) ([]sink.Record, string) {
	buf.part++
	batch := buf.records
	buf.records = nil
	name := fmt.Sprintf("%s-%04d.jsonl", buf.stamp, buf.part)
	return batch, path.Join(s.cfg.Prefix, sourcePath(source), name)
}

func (s *Sink) write(ctx context.Context, objectPath string, batch []sink.Record) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, rec := range batch {
		if err := enc.Encode(rec); err != nil {
			return &BatchError{Path: objectPath, Records: len(batch), Err: fmt.Errorf("encode record: %w", err)}
		}
	}
	uri, err := s.store.PutObject(ctx, objectPath, ContentType, &body)
	if err != nil {
		metrics.ObserveSinkWrite("blob", err)
		return &BatchError{Path: objectPath, Records: len(batch), Err: err}
	}
	s.logger.Info("wrote records", zap.String("uri", uri), zap.Int("records", len(batch)))
	return nil
}

func sourcePath(source string) string {
	parts := strings.Split(source, "/")
	for i, p := range parts {
		parts[i] = strings.NewReplacer("..", "_", "\\", "_").Replace(p)
	}
	return path.Join(parts...)
}
