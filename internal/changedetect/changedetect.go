// Package changedetect decides whether a run's artifacts are novel enough to
// wake the downstream consumer.
//
// The comparison is against the previously *published* artifact (fetched via
// an injected PriorSource), not this run's scratch files. A persistent counter
// of consecutive unchanged runs guarantees a heartbeat trigger at least every
// third unchanged run.
package changedetect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JE668/get-m3u/internal/httpclient"
)

// ErrNotFound reports that no prior published version exists (e.g. first run).
var ErrNotFound = errors.New("prior version not found")

// PriorSource fetches the last published content of an artifact. Backends are
// injected so the detector stays independent of any particular history store.
type PriorSource interface {
	Prior(ctx context.Context, ref, name string) ([]byte, error)
}

// HTTPPriorSource fetches prior content from a raw-file base URL as
// base/ref/name (the shape raw repository hosts serve).
type HTTPPriorSource struct {
	BaseURL string
	Client  *http.Client
	Timeout time.Duration
}

func (s *HTTPPriorSource) Prior(ctx context.Context, ref, name string) ([]byte, error) {
	client := s.Client
	if client == nil {
		client = httpclient.Default()
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	url := strings.TrimSuffix(s.BaseURL, "/") + "/" + ref + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpclient.DoWithRetry(ctx, client, req, httpclient.DefaultRetryPolicy)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prior %s: HTTP %d", name, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Changed compares two artifact versions: both sides are split into lines,
// trimmed, blank lines dropped and the remainder sorted before an exact
// equality check.
func Changed(current, prior []byte) bool {
	return normalize(current) != normalize(prior)
}

func normalize(data []byte) string {
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// Counter persists the consecutive-unchanged count as a single integer file.
type Counter struct {
	Path string
}

// Load returns the persisted count. Absent or malformed file reads as 0: a
// corrupt counter must never crash the run.
func (c *Counter) Load() int {
	data, err := os.ReadFile(filepath.Clean(c.Path))
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (c *Counter) Store(n int) error {
	return os.WriteFile(c.Path, []byte(strconv.Itoa(n)+"\n"), 0o644)
}

// Decision is the gate's per-run outcome.
type Decision string

const (
	TriggerOnChange Decision = "trigger_on_change"
	TriggerForced   Decision = "trigger_forced"
	Skip            Decision = "skip"
)

// Triggers reports whether the decision invokes the notifier.
func (d Decision) Triggers() bool { return d != Skip }

// ForcedThreshold is the number of consecutive unchanged runs after which a
// heartbeat trigger fires anyway.
const ForcedThreshold = 3

// Gate applies the trigger transition function over the persistent counter.
type Gate struct {
	Counter   *Counter
	Threshold int // 0 = ForcedThreshold
	Log       *zap.SugaredLogger
}

// Decide maps "did the artifact change" to a trigger decision, updating the
// persisted counter first so a later notifier failure cannot corrupt gate
// state. changed=true resets the counter; the Nth consecutive unchanged run
// (N = threshold) forces a trigger and also resets.
func (g *Gate) Decide(changed bool) (Decision, error) {
	threshold := g.Threshold
	if threshold <= 0 {
		threshold = ForcedThreshold
	}
	log := g.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if changed {
		if err := g.Counter.Store(0); err != nil {
			return Skip, fmt.Errorf("persist counter: %w", err)
		}
		log.Infof("artifact changed; triggering downstream")
		return TriggerOnChange, nil
	}
	n := g.Counter.Load() + 1
	if n >= threshold {
		if err := g.Counter.Store(0); err != nil {
			return Skip, fmt.Errorf("persist counter: %w", err)
		}
		log.Infof("unchanged for %d runs; forcing heartbeat trigger", n)
		return TriggerForced, nil
	}
	if err := g.Counter.Store(n); err != nil {
		return Skip, fmt.Errorf("persist counter: %w", err)
	}
	log.Infof("unchanged (%d/%d); skipping trigger", n, threshold)
	return Skip, nil
}
