package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ScannerSource runs the external network scanner and collects the host:port
// matches it streams to stdout. The scanner's "found" lines are marked by a
// recognizable prefix; everything else on stdout is progress noise.
type ScannerSource struct {
	Path        string // scanner executable; empty = not configured
	Subnets     []string
	Ports       []int
	Concurrency int
	Timeout     time.Duration // per-connection timeout passed to the scanner
	RunTimeout  time.Duration // hard cap on the whole invocation
	LinePrefix  string        // default "OPEN "
}

func (s *ScannerSource) Name() string { return "scanner" }

func (s *ScannerSource) Discover(ctx context.Context) ([]string, error) {
	if s.Path == "" {
		return nil, ErrNotConfigured
	}
	if len(s.Subnets) == 0 || len(s.Ports) == 0 {
		return nil, fmt.Errorf("no target subnets/ports configured")
	}
	runTimeout := s.RunTimeout
	if runTimeout <= 0 {
		runTimeout = 10 * time.Minute
	}
	concurrency := s.Concurrency
	if concurrency <= 0 {
		concurrency = 500
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()
	args := []string{
		"-subnets", strings.Join(s.Subnets, ","),
		"-ports", joinInts(s.Ports),
		"-workers", strconv.Itoa(concurrency),
		"-timeout", timeout.String(),
	}
	cmd := exec.CommandContext(ctx, s.Path, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = nil
	runErr := cmd.Run()

	// Parse whatever the scanner managed to report, even on a non-zero exit
	// or timeout: partial output is still useful discovery data.
	found := s.parseOutput(stdout.Bytes())
	if runErr != nil && len(found) == 0 {
		return nil, fmt.Errorf("scanner: %w", runErr)
	}
	return found, runErr
}

func (s *ScannerSource) parseOutput(out []byte) []string {
	prefix := s.LinePrefix
	if prefix == "" {
		prefix = "OPEN "
	}
	var found []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		hp := strings.TrimSpace(strings.TrimPrefix(line, prefix))
		if hp != "" {
			found = append(found, hp)
		}
	}
	return found
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
