package local

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type syncWriter interface {
	io.Writer
	Sync() error
	Close() error
}

// ProcessedLog is an append-only file with one normalized URL per line. Each
// Append is flushed to disk before it returns.
type ProcessedLog struct {
	mu     sync.Mutex
	path   string
	file   syncWriter
	closed bool
}

// OpenProcessedLog opens (creating if needed) the log at path.
func OpenProcessedLog(path string) (*ProcessedLog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("processed log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create processed log directory: %w", err)
	}
	// #nosec G304 -- path comes from operator configuration.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open processed log: %w", err)
	}
	if err := trimTornTail(file); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("repair processed log: %w", err)
	}
	return &ProcessedLog{path: path, file: file}, nil
}

// trimTornTail cuts f back to its last newline so the next append starts on
// a fresh line.
func trimTornTail(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	buf := make([]byte, 4096)
	for end := size; end > 0; {
		n := min(int64(len(buf)), end)
		start := end - n
		if _, err := f.ReadAt(buf[:n], start); err != nil {
			return err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			cut := start + int64(i) + 1
			if cut == size {
				return nil
			}
			return f.Truncate(cut)
		}
		end = start
	}
	if size == 0 {
		return nil
	}
	return f.Truncate(0)
}

// Load reads every complete line. A trailing line without a newline is a
// torn write from a crash; it is cut off when the log is opened and ignored
// here.
func (l *ProcessedLog) Load(_ context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	// #nosec G304 -- same path the log was opened with.
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open processed log for read: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var urls []string
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read processed log: %w", err)
		}
		if u := strings.TrimSpace(line); u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

// Append writes url and fsyncs the file.
func (l *ProcessedLog) Append(_ context.Context, url string) error {
	if strings.ContainsAny(url, "\r\n") {
		return fmt.Errorf("url contains a line break")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("processed log is closed")
	}
	if _, err := io.WriteString(l.file, url+"\n"); err != nil {
		return fmt.Errorf("write processed log: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync processed log: %w", err)
	}
	return nil
}

// Close closes the underlying file. Further appends fail.
func (l *ProcessedLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close processed log: %w", err)
	}
	return nil
}
