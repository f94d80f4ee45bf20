package crawler

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"
)

// Source is the extraction contract every data source implements.
//
// Seed must be lazy, finite and free of I/O; calling it twice yields the same
// targets. Extract is a pure function of the envelope and the source's own
// configuration. It yields Follow and Emit outputs in the order they should be
// processed. Yielding a *ParseFailure (or any non-fatal error) records it and
// ends that call; outputs yielded earlier are kept. Yielding an error wrapped
// by Fatal aborts the run.
type Source interface {
	Seed() iter.Seq[Target]
	Extract(env Envelope) iter.Seq2[Output, error]
}

// Validator is implemented by sources that can check their configuration before seeding.
type Validator interface {
	Validate() error
}

// Fetcher performs one request. Any returned error is treated as a FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, target Target) (Envelope, error)
}

// Sink receives extracted items. Errors wrapping ErrSinkFatal abort the run.
type Sink interface {
	Accept(ctx context.Context, source string, item Item) error
}

// SourceFlusher is implemented by sinks that buffer per source and need a flush at run end.
type SourceFlusher interface {
	FlushSource(ctx context.Context, source string) error
}

// RetryPolicy decides whether and when to retry a failed fetch.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Hasher computes digests for item deduplication in sinks.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}
