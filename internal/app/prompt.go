package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/JakeFAU/linkcheck/internal/progress"
)

// TerminalPrompt asks on out whether a login challenge was solved and reads
// the answer from in. Only "y" or "yes" count as resolved. The Reporter
// serializes calls, so one question is open at a time.
func TerminalPrompt(in io.Reader, out io.Writer) progress.Prompt {
	lines := make(chan string)
	var start sync.Once
	reader := func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}

	return func(ctx context.Context, credentialID string) bool {
		start.Do(func() { go reader() })
		_, _ = fmt.Fprintf(out, "\nLogin challenge for %s. Solve it in the browser, then answer [y/N]: ", credentialID)
		select {
		case <-ctx.Done():
			return false
		case line, ok := <-lines:
			if !ok {
				return false
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y", "yes":
				return true
			default:
				return false
			}
		}
	}
}
