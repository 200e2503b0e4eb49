// Package api exposes an optional HTTP control surface for a running check:
// status, pause, resume, stop, and Prometheus metrics.
package api
