// Package playlist assembles validated endpoints and the channel template into
// concrete playable URLs, and persists the two playlist variants: the
// reference copy (full cross-product, never pruned) and the working copy
// (same initial content, later pruned in place by the stream prober).
package playlist

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JE668/get-m3u/internal/template"
)

// Entry is one assembled playlist row.
type Entry struct {
	Name string
	URL  string
}

// Line renders the persisted "name,url" form.
func (e Entry) Line() string { return e.Name + "," + e.URL }

// ParseLine is the inverse of Line. Lines without a comma are skipped by
// callers.
func ParseLine(line string) (Entry, bool) {
	i := strings.Index(line, ",")
	if i <= 0 {
		return Entry{}, false
	}
	return Entry{Name: strings.TrimSpace(line[:i]), URL: strings.TrimSpace(line[i+1:])}, true
}

// Assemble produces the full cross-product of validated endpoints and template
// entries: one row per (endpoint, channel) pair. The relay URL form is fixed:
// the endpoint proxies every multicast group under its /udp/ path, whatever
// scheme the locator was written with, so only the scheme prefix is stripped.
func Assemble(endpoints []string, entries []template.Entry) []Entry {
	out := make([]Entry, 0, len(endpoints)*len(entries))
	for _, ep := range endpoints {
		for _, t := range entries {
			out = append(out, Entry{
				Name: t.Name,
				URL:  "http://" + ep + "/udp/" + template.Suffix(t.Locator),
			})
		}
	}
	return out
}

// WriteBoth writes the reference copy and the initial working copy in one
// pass. With zero entries nothing is written: existing files are left as they
// are rather than truncated.
func WriteBoth(refPath, workPath string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	lines := Lines(entries)
	if err := writeLines(refPath, lines); err != nil {
		return fmt.Errorf("reference playlist: %w", err)
	}
	if err := writeLines(workPath, lines); err != nil {
		return fmt.Errorf("working playlist: %w", err)
	}
	return nil
}

// WriteWorking rewrites the working copy after stream-probe pruning. Unlike
// WriteBoth this does write an empty file: an all-failed probe legitimately
// empties the working copy while the reference copy keeps the full set.
func WriteWorking(path string, entries []Entry) error {
	sorted := Lines(entries)
	sort.Strings(sorted)
	if err := writeLines(path, sorted); err != nil {
		return fmt.Errorf("working playlist: %w", err)
	}
	return nil
}

// Load reads a persisted playlist file.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if e, ok := ParseLine(line); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Lines renders entries one per line, in input order.
func Lines(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Line())
	}
	return out
}

func writeLines(path string, lines []string) error {
	data := []byte(strings.Join(lines, "\n") + "\n")
	if len(lines) == 0 {
		data = nil
	}
	dir := filepath.Dir(filepath.Clean(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".playlist-*.txt.tmp")
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
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
