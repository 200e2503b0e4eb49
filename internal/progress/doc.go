// Package progress turns run callbacks into events and fans them out to
// pluggable sinks. Events are batched on a background goroutine so workers
// never block on a slow sink.
package progress
