// Package crawler defines the frontier engine and the types shared across subsystems.
package crawler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Meta keys stamped by the engine on discovered targets.
const (
	MetaDepth  = "depth"
	MetaParent = "parent"
)

// Target is a request description waiting in (or popped from) the frontier.
type Target struct {
	URL     string         `json:"url"`
	Method  string         `json:"method"`
	Headers http.Header    `json:"headers,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// NewTarget returns a GET target for rawURL.
func NewTarget(rawURL string) Target {
	return Target{URL: rawURL, Method: http.MethodGet}
}

// WithMethod returns a copy of t using the given HTTP method.
func (t Target) WithMethod(method string) Target {
	t.Method = method
	return t
}

// WithMeta returns a copy of t with key set in its metadata. The receiver map is not mutated.
func (t Target) WithMeta(key string, value any) Target {
	meta := make(map[string]any, len(t.Meta)+1)
	for k, v := range t.Meta {
		meta[k] = v
	}
	meta[key] = value
	t.Meta = meta
	return t
}

// RequestMethod returns the upper-cased method, defaulting to GET.
func (t Target) RequestMethod() string {
	if strings.TrimSpace(t.Method) == "" {
		return http.MethodGet
	}
	return strings.ToUpper(t.Method)
}

// Key is the deduplication identity of the target: normalized URL plus method.
func (t Target) Key() (string, error) {
	normalized, err := NormalizeURL(t.URL)
	if err != nil {
		return "", err
	}
	return t.RequestMethod() + " " + normalized, nil
}

// Depth reports how many extract steps separate this target from a seed.
func (t Target) Depth() int {
	switch v := t.Meta[MetaDepth].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Envelope is the normalized view of one fetched response handed to Source.Extract.
type Envelope struct {
	RequestURL    string
	RequestMethod string
	ResponseURL   string
	Status        int
	Headers       http.Header
	Body          []byte
	// Data holds the decoded structured body: a JSON value or an *xmlquery.Node.
	Data any
	// Selector is set for HTML bodies.
	Selector  *goquery.Document
	Meta      map[string]any
	FetchedAt time.Time
	Duration  time.Duration
}

// Text returns the raw body as a string.
func (e Envelope) Text() string {
	return string(e.Body)
}

// DecodeJSON unmarshals the raw body into v.
func (e Envelope) DecodeJSON(v any) error {
	if err := json.Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("decode json body of %s: %w", e.ResponseURL, err)
	}
	return nil
}

// Item is an opaque extracted record. The engine counts items and forwards them to the sink.
type Item any

// Kinded is implemented by items that name their own variant.
type Kinded interface {
	Kind() string
}

// KindOf names the variant of an item for persistence.
func KindOf(item Item) string {
	if k, ok := item.(Kinded); ok {
		return k.Kind()
	}
	if item == nil {
		return "nil"
	}
	t := reflect.TypeOf(item)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.Kind().String()
	}
	return t.Name()
}

// Output is one value yielded by Source.Extract: either a new target or an item.
type Output struct {
	Target *Target
	Item   Item
}

// Follow wraps a target to be enqueued.
func Follow(t Target) Output {
	return Output{Target: &t}
}

// Emit wraps an extracted item.
func Emit(item Item) Output {
	return Output{Item: item}
}

// RunState is the lifecycle state of one engine run.
type RunState string

// Engine run states.
const (
	StateIdle      RunState = "idle"
	StateSeeding   RunState = "seeding"
	StateDraining  RunState = "draining"
	StateCompleted RunState = "completed"
	StateAborted   RunState = "aborted"
)

// Failure is one per-target error recorded during a run.
type Failure struct {
	URL   string `json:"url"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// Stats counts what happened during a run.
type Stats struct {
	Seeded       int       `json:"seeded"`
	Visited      int       `json:"visited"`
	Discovered   int       `json:"discovered"`
	Duplicates   int       `json:"duplicates"`
	DepthSkipped int       `json:"depth_skipped"`
	Denied       int       `json:"denied"`
	Items        int       `json:"items"`
	FetchErrors  int       `json:"fetch_errors"`
	ParseErrors  int       `json:"parse_errors"`
	SinkErrors   int       `json:"sink_errors"`
	Failures     []Failure `json:"failures,omitempty"`
	// Bound names the limit that ended the run early, if any.
	Bound string `json:"bound,omitempty"`
}

// RunResult is returned by Engine.Run.
type RunResult struct {
	Source     string
	RunID      string
	State      RunState
	Stats      Stats
	Visited    []string
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}
