package checker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

const trailingPunctuation = `.,;:!?)]}>'"`

// DefaultTrackingParams are query parameters dropped during normalization.
// Entries ending in "*" match by prefix.
var DefaultTrackingParams = []string{
	"utm_*", "trk", "trkInfo", "trackingId", "refId", "lipi", "midToken", "midSig", "fbclid", "gclid",
}

// ExtractorConfig controls which URLs become tasks.
type ExtractorConfig struct {
	// TargetDomains limits extraction to these hosts and their subdomains.
	// Empty accepts every host.
	TargetDomains []string
	// TrackingParams overrides DefaultTrackingParams when non-nil.
	TrackingParams []string
}

// Extractor turns free-form input lines into normalized Tasks.
type Extractor struct {
	domains  []string
	exact    map[string]struct{}
	prefixes []string
}

// NewExtractor validates cfg and returns an Extractor.
func NewExtractor(cfg ExtractorConfig) (*Extractor, error) {
	params := cfg.TrackingParams
	if params == nil {
		params = DefaultTrackingParams
	}
	e := &Extractor{exact: make(map[string]struct{}, len(params))}
	for _, d := range cfg.TargetDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if strings.Contains(d, "/") {
			return nil, fmt.Errorf("target domain %q must be a bare host", d)
		}
		e.domains = append(e.domains, strings.TrimPrefix(d, "www."))
	}
	for _, p := range params {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
		case strings.HasSuffix(p, "*"):
			e.prefixes = append(e.prefixes, strings.ToLower(strings.TrimSuffix(p, "*")))
		default:
			e.exact[strings.ToLower(p)] = struct{}{}
		}
	}
	return e, nil
}

// Extract scans r line by line. Blank lines and lines starting with "#" are
// skipped; every matching URL on a line becomes a Task carrying the 1-based
// line number. Duplicates are preserved for the queue to collapse.
func (e *Extractor) Extract(r io.Reader) ([]Task, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var tasks []Task
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		for _, raw := range urlPattern.FindAllString(text, -1) {
			raw = strings.TrimRight(raw, trailingPunctuation)
			normalized, err := e.Normalize(raw)
			if err != nil {
				continue
			}
			tasks = append(tasks, Task{URL: normalized, LineNumber: line, Source: text})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan input: %w", err)
	}
	return tasks, nil
}

var errOffTarget = errors.New("url host is not a target domain")

// Normalize standardizes raw so equivalent links compare equal. It lowercases
// the scheme and host, removes default ports, fragments, and tracking
// parameters, and sorts the remaining query parameters.
func (e *Extractor) Normalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	if !e.onTarget(u.Hostname()) {
		return "", errOffTarget
	}
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for key := range q {
		if e.tracking(key) {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (e *Extractor) onTarget(host string) bool {
	if len(e.domains) == 0 {
		return true
	}
	host = strings.TrimPrefix(host, "www.")
	for _, d := range e.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (e *Extractor) tracking(key string) bool {
	key = strings.ToLower(key)
	if _, ok := e.exact[key]; ok {
		return true
	}
	for _, p := range e.prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}
