package crawler

import (
	"fmt"
	"time"
)

// Config captures the knobs of one engine run. Zero values for the bounds mean unbounded.
type Config struct {
	// Concurrency is the maximum number of in-flight fetches.
	Concurrency int `mapstructure:"concurrency"`
	// MaxTargets caps the number of fetches in one run.
	MaxTargets int `mapstructure:"max_targets"`
	// MaxDepth drops discovered targets deeper than this many extract steps.
	MaxDepth int `mapstructure:"max_depth"`
	// Budget is the wall-clock budget after which no new fetches are issued.
	Budget       time.Duration `mapstructure:"budget"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	// DrainTimeout bounds how long a canceled run waits for in-flight fetches.
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	DenyDomains  []string      `mapstructure:"deny_domains"`
}

// DefaultConfig returns the engine defaults: sequential fetching and no bounds.
func DefaultConfig() Config {
	return Config{
		Concurrency:  1,
		FetchTimeout: 30 * time.Second,
		DrainTimeout: 5 * time.Second,
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("engine.concurrency must be > 0")
	}
	if c.MaxTargets < 0 {
		return fmt.Errorf("engine.max_targets must be >= 0")
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("engine.max_depth must be >= 0")
	}
	if c.Budget < 0 {
		return fmt.Errorf("engine.budget must be >= 0")
	}
	if c.FetchTimeout < 0 {
		return fmt.Errorf("engine.fetch_timeout must be >= 0")
	}
	if c.DrainTimeout < 0 {
		return fmt.Errorf("engine.drain_timeout must be >= 0")
	}
	return nil
}
