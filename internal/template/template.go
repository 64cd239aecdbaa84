// Package template maintains the channel-name → multicast-locator table that
// validated endpoints are expanded against.
//
// The table is refreshed best-effort from upstream channel lists and persisted
// as a flat "name,locator" text file. When the same locator appears under two
// different names, the first occurrence wins (upstreams are processed in
// configured order, lines in document order), so refresh output is
// deterministic.
package template

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JE668/get-m3u/internal/httpclient"
)

// Entry is one channel template row. Locator scheme is rtp or udp.
type Entry struct {
	Name    string
	Locator string
}

const maxLineSize = 1 << 20

// Store loads and refreshes the persisted template table.
type Store struct {
	Path      string
	Upstreams []string
	Client    *http.Client
	Timeout   time.Duration
	Log       *zap.SugaredLogger
}

func (s *Store) logger() *zap.SugaredLogger {
	if s.Log == nil {
		return zap.NewNop().Sugar()
	}
	return s.Log.Named("template")
}

// Load reads the persisted table. A missing file surfaces os.ErrNotExist so
// the assembler can skip gracefully instead of crashing.
func (s *Store) Load() ([]Entry, error) {
	f, err := os.Open(filepath.Clean(s.Path))
	if err != nil {
		return nil, fmt.Errorf("template table: %w", err)
	}
	defer f.Close()
	entries, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("template table: %w", err)
	}
	return entries, nil
}

// Refresh fetches every upstream, merges entries (dedup by locator,
// first-writer-wins) and rewrites the persisted table. A failed upstream is
// skipped; if all upstreams fail (or yield nothing) the previous table is
// retained unchanged. With no previous table either, Refresh returns an error
// the caller may treat as "skip assembly".
func (s *Store) Refresh(ctx context.Context) error {
	log := s.logger()
	client := s.Client
	if client == nil {
		client = httpclient.Default()
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	seen := make(map[string]struct{})
	var merged []Entry
	failures := 0
	for _, u := range s.Upstreams {
		entries, err := fetchUpstream(ctx, client, u, timeout)
		if err != nil {
			failures++
			log.Warnf("upstream %s: %v (skipped)", u, err)
			continue
		}
		for _, e := range entries {
			if _, dup := seen[e.Locator]; dup {
				continue
			}
			seen[e.Locator] = struct{}{}
			merged = append(merged, e)
		}
		log.Infof("upstream %s: %d entries", u, len(entries))
	}

	if len(merged) == 0 {
		if _, err := os.Stat(s.Path); err == nil {
			log.Warnf("all %d upstream(s) failed or empty; keeping existing table", len(s.Upstreams))
			return nil
		}
		return fmt.Errorf("template refresh: no upstream data and no existing table at %s", s.Path)
	}
	if err := s.write(merged); err != nil {
		return fmt.Errorf("template refresh: %w", err)
	}
	log.Infof("refreshed: %d entries (%d upstream failures)", len(merged), failures)
	return nil
}

func fetchUpstream(ctx context.Context, client *http.Client, url string, timeout time.Duration) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpclient.DoWithRetry(ctx, client, req, httpclient.DefaultRetryPolicy)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return parse(resp.Body)
}

// parse accepts both upstream document shapes: playlist style (#EXTINF
// metadata line followed by an rtp://-or-udp:// locator line) and the flat
// "name,locator" table this package itself persists.
func parse(r io.Reader) ([]Entry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, maxLineSize)
	var entries []Entry
	var pendingName string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#EXTINF") {
			if i := strings.LastIndex(line, ","); i >= 0 {
				pendingName = strings.TrimSpace(line[i+1:])
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if loc, ok := recognizedLocator(line); ok {
			if pendingName != "" {
				entries = append(entries, Entry{Name: pendingName, Locator: loc})
				pendingName = ""
			}
			continue
		}
		pendingName = ""
		if i := strings.Index(line, ","); i > 0 {
			name := strings.TrimSpace(line[:i])
			if loc, ok := recognizedLocator(line[i+1:]); ok && name != "" {
				entries = append(entries, Entry{Name: name, Locator: loc})
			}
		}
	}
	return entries, sc.Err()
}

// recognizedLocator validates the scheme and returns the trimmed locator.
func recognizedLocator(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "rtp://") || strings.HasPrefix(s, "udp://") {
		return s, true
	}
	return "", false
}

// Suffix returns the locator with its scheme prefix stripped.
func Suffix(locator string) string {
	if i := strings.Index(locator, "://"); i >= 0 {
		return locator[i+3:]
	}
	return locator
}

// write persists entries atomically (temp file + rename).
func (s *Store) write(entries []Entry) error {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.Name+","+e.Locator)
	}
	data := []byte(strings.Join(lines, "\n") + "\n")

	dir := filepath.Dir(filepath.Clean(s.Path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".template-*.txt.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return writeErr
		}
		return closeErr
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
