// Package sinks implements progress consumers: structured logging, Prometheus
// collectors, and publishing of working links. Each satisfies progress.Sink.
package sinks
