// Package progress carries run and fetch milestones from the engine to
// pluggable sinks. Events are batched by a non-blocking Hub on a background
// goroutine so a slow sink never stalls a crawl.
package progress
