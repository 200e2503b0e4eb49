package memory

import (
	"context"
	"sync"
)

// ProcessedLog is a process-local processed-work log. It does not survive a
// restart.
type ProcessedLog struct {
	mu   sync.Mutex
	urls []string
}

// NewProcessedLog returns a log pre-populated with seed.
func NewProcessedLog(seed ...string) *ProcessedLog {
	return &ProcessedLog{urls: append([]string(nil), seed...)}
}

// Load returns a copy of the appended URLs.
func (l *ProcessedLog) Load(context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.urls...), nil
}

// Append records url.
func (l *ProcessedLog) Append(_ context.Context, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.urls = append(l.urls, url)
	return nil
}

// Close implements checker.ProcessedLog.
func (l *ProcessedLog) Close() error {
	return nil
}
