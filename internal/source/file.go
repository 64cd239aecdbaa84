package source

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
)

// FileSource re-feeds previously validated endpoints into the candidate pool,
// so every run re-validates last run's survivors alongside new discoveries.
// A missing file is the normal first-run case, not an error.
type FileSource struct {
	Path string
}

func (s *FileSource) Name() string { return "seed-file" }

func (s *FileSource) Discover(ctx context.Context) ([]string, error) {
	if s.Path == "" {
		return nil, ErrNotConfigured
	}
	f, err := os.Open(filepath.Clean(s.Path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}
