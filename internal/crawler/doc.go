// Package crawler implements the frontier engine that turns a source's seed
// targets into fetched envelopes, discovered targets, and extracted items.
//
// A Source supplies seeds and an Extract function; the Engine owns the
// frontier, dedup, bounds, fetch window, and cancellation for one run. Fetch
// and sink capabilities are injected through the Fetcher and Sink interfaces.
package crawler
