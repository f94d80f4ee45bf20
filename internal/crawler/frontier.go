package crawler

import (
	"fmt"
	"sync"
)

// Frontier is the FIFO of pending targets plus the set of every key ever enqueued.
// All operations are atomic, so concurrent pushes of one target insert it once
// and concurrent pops never return the same target twice.
type Frontier struct {
	mu      sync.Mutex
	pending []Target
	head    int
	visited map[string]struct{}
}

// NewFrontier returns an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{visited: make(map[string]struct{})}
}

// Push enqueues t unless its key was seen before. It reports whether t was added.
func (f *Frontier) Push(t Target) (bool, error) {
	key, err := t.Key()
	if err != nil {
		return false, fmt.Errorf("frontier key: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, seen := f.visited[key]; seen {
		return false, nil
	}
	f.visited[key] = struct{}{}
	f.pending = append(f.pending, t)
	return true, nil
}

// Pop removes the oldest pending target.
func (f *Frontier) Pop() (Target, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.head >= len(f.pending) {
		return Target{}, false
	}
	t := f.pending[f.head]
	f.pending[f.head] = Target{}
	f.head++
	// Compact once the consumed prefix dominates the slice.
	if f.head > 64 && f.head*2 > len(f.pending) {
		f.pending = append([]Target(nil), f.pending[f.head:]...)
		f.head = 0
	}
	return t, true
}

// Len returns the number of pending targets.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending) - f.head
}

// Seen reports whether t's key has ever been enqueued.
func (f *Frontier) Seen(t Target) bool {
	key, err := t.Key()
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.visited[key]
	return ok
}
