package credentials

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/linkcheck/internal/checker"
)

// ErrMalformedAccount is returned for account lines without an
// "identifier:secret" shape.
var ErrMalformedAccount = errors.New("malformed account entry")

// ParseAccounts reads "identifier:secret" lines. Blank lines and lines
// starting with "#" are ignored. Surrounding whitespace is trimmed; the secret
// may itself contain colons.
func ParseAccounts(r io.Reader) ([]checker.Credential, error) {
	scanner := bufio.NewScanner(r)
	var out []checker.Credential
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		cred, err := ParseAccount(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, cred)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan accounts: %w", err)
	}
	return out, nil
}

// ParseAccount parses a single "identifier:secret" entry.
func ParseAccount(entry string) (checker.Credential, error) {
	id, secret, ok := strings.Cut(strings.TrimSpace(entry), ":")
	id, secret = strings.TrimSpace(id), strings.TrimSpace(secret)
	if !ok || id == "" || secret == "" {
		return checker.Credential{}, ErrMalformedAccount
	}
	return checker.Credential{ID: id, Secret: secret}, nil
}

// Load merges accounts from path (if set) with inline entries.
func Load(path string, inline []string) ([]checker.Credential, error) {
	var out []checker.Credential
	if strings.TrimSpace(path) != "" {
		// #nosec G304 -- account file path comes from operator configuration.
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open accounts file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		parsed, err := ParseAccounts(f)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		out = append(out, parsed...)
	}
	for i, entry := range inline {
		cred, err := ParseAccount(entry)
		if err != nil {
			return nil, fmt.Errorf("inline account %d: %w", i+1, err)
		}
		out = append(out, cred)
	}
	return out, nil
}
