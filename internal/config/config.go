// Package config loads and validates gather-vision configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/gather-vision/internal/crawler"
	collyfetcher "github.com/JakeFAU/gather-vision/internal/fetcher/colly"
	"github.com/JakeFAU/gather-vision/internal/fetcher/headless"
	"github.com/JakeFAU/gather-vision/internal/logging"
	"github.com/JakeFAU/gather-vision/internal/policy/ratelimit"
	"github.com/JakeFAU/gather-vision/internal/progress"
	"github.com/JakeFAU/gather-vision/internal/sink/blob"
	"github.com/JakeFAU/gather-vision/internal/sink/blob/gcs"
	"github.com/JakeFAU/gather-vision/internal/sink/blob/local"
	"github.com/JakeFAU/gather-vision/internal/sink/blob/s3"
	"github.com/JakeFAU/gather-vision/internal/sink/postgres"
	"github.com/JakeFAU/gather-vision/internal/sink/pubsub"
	"github.com/JakeFAU/gather-vision/internal/sink/sqlite"
)

// EnvPrefix is prepended to every environment override, e.g. GATHER_LOG_LEVEL.
const EnvPrefix = "GATHER"

// Fetcher modes.
const (
	FetchHTTP     = "http"
	FetchHeadless = "headless"
	// FetchAuto fetches over HTTP and re-renders script-shell pages headless.
	FetchAuto = "auto"
)

// Sink types.
const (
	SinkDiscard  = "discard"
	SinkMemory   = "memory"
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
	SinkBlob     = "blob"
	SinkPubSub   = "pubsub"
)

// Blob backends.
const (
	BlobLocal  = "local"
	BlobMemory = "memory"
	BlobGCS    = "gcs"
	BlobS3     = "s3"
)

var (
	sinkTypes    = []string{SinkDiscard, SinkMemory, SinkSQLite, SinkPostgres, SinkBlob, SinkPubSub}
	blobBackends = []string{BlobLocal, BlobMemory, BlobGCS, BlobS3}
)

// Config captures every configuration knob.
type Config struct {
	Log          logging.Config            `mapstructure:"log"`
	Engine       crawler.Config            `mapstructure:"engine"`
	Fetcher      FetcherConfig             `mapstructure:"fetcher"`
	Sink         SinkConfig                `mapstructure:"sink"`
	Progress     ProgressConfig            `mapstructure:"progress"`
	Orchestrator OrchestratorConfig        `mapstructure:"orchestrator"`
	Server       ServerConfig              `mapstructure:"server"`
	Sources      map[string]map[string]any `mapstructure:"sources"`
}

// FetcherConfig selects and tunes the fetch stack.
type FetcherConfig struct {
	Mode      string              `mapstructure:"mode"`
	HTTP      collyfetcher.Config `mapstructure:"http"`
	Headless  headless.Config     `mapstructure:"headless"`
	Retry     RetryConfig         `mapstructure:"retry"`
	RateLimit ratelimit.Config    `mapstructure:"rate_limit"`
	Cache     CacheConfig         `mapstructure:"cache"`
	Promote   PromoteConfig       `mapstructure:"promote"`
}

// PromoteConfig tunes when auto mode re-renders a page headless.
type PromoteConfig struct {
	MinTextBytes int `mapstructure:"min_text_bytes"`
}

// RetryConfig shapes the exponential retry policy. MaxAttempts of 1 disables retries.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// CacheConfig sizes the in-memory response cache; Size 0 disables it.
type CacheConfig struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// SinkConfig lists the sinks items fan out to.
type SinkConfig struct {
	Types    []string        `mapstructure:"types"`
	SQLite   sqlite.Config   `mapstructure:"sqlite"`
	Postgres postgres.Config `mapstructure:"postgres"`
	Blob     BlobConfig      `mapstructure:"blob"`
	PubSub   pubsub.Config   `mapstructure:"pubsub"`
}

// BlobConfig picks the object store behind the blob sink.
type BlobConfig struct {
	Backend string       `mapstructure:"backend"`
	Batch   blob.Config  `mapstructure:"batch"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
	S3      s3.Config    `mapstructure:"s3"`
}

// ProgressConfig tunes the progress hub and chooses its sinks.
type ProgressConfig struct {
	Hub        progress.Config `mapstructure:"hub"`
	Log        bool            `mapstructure:"log"`
	Prometheus bool            `mapstructure:"prometheus"`
}

// OrchestratorConfig bounds how many sources run at once.
type OrchestratorConfig struct {
	Parallelism int `mapstructure:"parallelism"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
}

// Load builds a Config from an optional file, a .env file and the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Sink.Types = splitList(cfg.Sink.Types)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	engine := crawler.DefaultConfig()
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("engine.concurrency", engine.Concurrency)
	v.SetDefault("engine.max_targets", engine.MaxTargets)
	v.SetDefault("engine.max_depth", engine.MaxDepth)
	v.SetDefault("engine.budget", engine.Budget)
	v.SetDefault("engine.fetch_timeout", engine.FetchTimeout)
	v.SetDefault("engine.drain_timeout", engine.DrainTimeout)
	v.SetDefault("engine.deny_domains", []string{})

	v.SetDefault("fetcher.mode", FetchHTTP)
	v.SetDefault("fetcher.http.user_agent", collyfetcher.DefaultUserAgent)
	v.SetDefault("fetcher.http.respect_robots", true)
	v.SetDefault("fetcher.http.timeout", 30*time.Second)
	v.SetDefault("fetcher.http.max_body_size", 0)
	v.SetDefault("fetcher.headless.max_parallel", 1)
	v.SetDefault("fetcher.headless.user_agent", collyfetcher.DefaultUserAgent)
	v.SetDefault("fetcher.headless.navigation_timeout", 45*time.Second)
	v.SetDefault("fetcher.headless.wait_selector", "body")
	v.SetDefault("fetcher.headless.settle", 500*time.Millisecond)
	v.SetDefault("fetcher.retry.max_attempts", 3)
	v.SetDefault("fetcher.retry.base_delay", 250*time.Millisecond)
	v.SetDefault("fetcher.retry.max_delay", 5*time.Second)
	v.SetDefault("fetcher.rate_limit.rps", 1.0)
	v.SetDefault("fetcher.rate_limit.burst", 1)
	v.SetDefault("fetcher.cache.size", 256)
	v.SetDefault("fetcher.cache.ttl", time.Hour)
	v.SetDefault("fetcher.promote.min_text_bytes", 2048)

	v.SetDefault("sink.types", []string{SinkSQLite})
	v.SetDefault("sink.sqlite.path", "gather-vision.db")
	v.SetDefault("sink.postgres.migrate", true)
	v.SetDefault("sink.blob.backend", BlobLocal)
	v.SetDefault("sink.blob.batch.prefix", "items")
	v.SetDefault("sink.blob.batch.batch_size", 1000)
	v.SetDefault("sink.blob.local.base_dir", "data")

	v.SetDefault("progress.hub.buffer_size", 1024)
	v.SetDefault("progress.hub.max_batch_events", 256)
	v.SetDefault("progress.hub.max_batch_wait", 500*time.Millisecond)
	v.SetDefault("progress.hub.sink_timeout", 5*time.Second)
	v.SetDefault("progress.log", true)
	v.SetDefault("progress.prometheus", true)

	v.SetDefault("orchestrator.parallelism", 1)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	switch c.Fetcher.Mode {
	case FetchHTTP:
	case FetchHeadless, FetchAuto:
		if c.Fetcher.Headless.MaxParallel < 0 {
			return fmt.Errorf("fetcher.headless.max_parallel must be >= 0")
		}
	default:
		return fmt.Errorf("fetcher.mode must be one of %s|%s|%s, got %q", FetchHTTP, FetchHeadless, FetchAuto, c.Fetcher.Mode)
	}
	if c.Fetcher.Retry.MaxAttempts < 1 {
		return fmt.Errorf("fetcher.retry.max_attempts must be >= 1")
	}
	if c.Fetcher.Cache.Size < 0 {
		return fmt.Errorf("fetcher.cache.size must be >= 0")
	}
	if c.Fetcher.RateLimit.DefaultRPS < 0 {
		return fmt.Errorf("fetcher.rate_limit.rps must be >= 0")
	}
	if err := c.Sink.validate(); err != nil {
		return err
	}
	if c.Orchestrator.Parallelism < 1 {
		return fmt.Errorf("orchestrator.parallelism must be >= 1")
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}

func (s SinkConfig) validate() error {
	if len(s.Types) == 0 {
		return fmt.Errorf("sink.types must list at least one sink")
	}
	for _, t := range s.Types {
		if !slices.Contains(sinkTypes, t) {
			return fmt.Errorf("sink.types: unknown sink %q (want one of %s)", t, strings.Join(sinkTypes, ", "))
		}
		switch t {
		case SinkSQLite:
			if s.SQLite.Path == "" {
				return fmt.Errorf("sink.sqlite.path is required")
			}
		case SinkPostgres:
			if s.Postgres.DSN == "" {
				return fmt.Errorf("sink.postgres.dsn is required")
			}
		case SinkBlob:
			if !slices.Contains(blobBackends, s.Blob.Backend) {
				return fmt.Errorf("sink.blob.backend must be one of %s", strings.Join(blobBackends, ", "))
			}
		case SinkPubSub:
			if s.PubSub.ProjectID == "" || s.PubSub.Topic == "" {
				return fmt.Errorf("sink.pubsub.project_id and sink.pubsub.topic are required")
			}
		}
	}
	return nil
}

// splitList accepts both YAML lists and comma-separated environment values.
func splitList(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
