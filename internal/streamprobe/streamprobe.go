// Package streamprobe deep-probes assembled playlist URLs. Acceptance is a
// single criterion: an external media-inspection tool must report at least one
// decodable video stream within the timeout. Rich mode attaches latency,
// throughput and geolocation diagnostics, but they never affect acceptance.
package streamprobe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JE668/get-m3u/internal/httpclient"
	"github.com/JE668/get-m3u/internal/playlist"
)

// GeoInfoer supplies a "city | isp" diagnostic for a host. Satisfied by
// *geo.Filter; may be nil.
type GeoInfoer interface {
	Info(ctx context.Context, host string) string
}

// Result is the probe outcome for one playlist entry.
type Result struct {
	Keep       bool
	Name       string
	URL        string
	Resolution string
	LatencyMs  int64
	SpeedMbps  float64
	Geo        string
	Diag       string // one human-readable report line
}

// Prober runs the deep probe stage.
type Prober struct {
	// FFProbePath is the media-inspection executable, default "ffprobe".
	FFProbePath string
	// Timeout bounds one tool invocation.
	Timeout time.Duration
	// Concurrency bounds simultaneous probes. Rich mode holds each worker for
	// several seconds of active sampling, so callers configure fewer workers
	// there to bound aggregate outbound bandwidth.
	Concurrency int
	// Rich enables latency/throughput/geo measurement.
	Rich bool
	// SampleWindow is the rich-mode throughput sampling duration.
	SampleWindow time.Duration
	Client       *http.Client
	Geo          GeoInfoer
	Log          *zap.SugaredLogger
}

func (p *Prober) defaults() {
	if p.FFProbePath == "" {
		p.FFProbePath = "ffprobe"
	}
	if p.Timeout <= 0 {
		p.Timeout = 12 * time.Second
	}
	if p.Concurrency <= 0 {
		if p.Rich {
			p.Concurrency = 6
		} else {
			p.Concurrency = 15
		}
	}
	if p.SampleWindow <= 0 {
		p.SampleWindow = 2 * time.Second
	}
}

func (p *Prober) logger() *zap.SugaredLogger {
	if p.Log == nil {
		return zap.NewNop().Sugar()
	}
	return p.Log.Named("streamprobe")
}

// ProbeAll probes every entry with bounded concurrency and returns one Result
// per entry, completion order. Tool errors, timeouts and parse failures are
// per-entry "do not keep" outcomes, never pipeline errors.
func (p *Prober) ProbeAll(ctx context.Context, entries []playlist.Entry) []Result {
	p.defaults()
	if len(entries) == 0 {
		return nil
	}
	log := p.logger()
	var mu sync.Mutex
	results := make([]Result, 0, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Concurrency)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			r := p.probeOne(gctx, e)
			if r.Keep {
				log.Infof("%s", r.Diag)
			} else {
				log.Debugf("%s", r.Diag)
			}
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

func (p *Prober) probeOne(ctx context.Context, e playlist.Entry) Result {
	r := Result{Name: e.Name, URL: e.URL}

	if p.Rich {
		if ok := p.measure(ctx, &r); !ok {
			r.Diag = fmt.Sprintf("FAIL %s | connect error", e.Name)
			return r
		}
	}

	res, err := p.inspect(ctx, e.URL)
	if err != nil {
		r.Diag = fmt.Sprintf("FAIL %s | no decodable video stream (%v)", e.Name, err)
		return r
	}
	r.Resolution = res
	r.Keep = true

	if p.Rich && p.Geo != nil {
		r.Geo = p.Geo.Info(ctx, hostOf(e.URL))
	}
	r.Diag = diagLine(r)
	return r
}

// measure records time-to-first-response and sampled download throughput.
func (p *Prober) measure(ctx context.Context, r *Result) bool {
	client := p.Client
	if client == nil {
		client = httpclient.WithTimeout(p.Timeout)
	}
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return false
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	r.LatencyMs = time.Since(start).Milliseconds()

	var total int64
	buf := make([]byte, 256*1024)
	sampleStart := time.Now()
	for time.Since(sampleStart) < p.SampleWindow {
		n, err := resp.Body.Read(buf)
		total += int64(n)
		if err != nil {
			break
		}
	}
	elapsed := time.Since(sampleStart).Seconds()
	if elapsed > 0 {
		r.SpeedMbps = float64(total*8) / (elapsed * 1024 * 1024)
	}
	return true
}

// ffprobeOutput is the subset of the tool's JSON report we read.
type ffprobeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
}

// inspect invokes the media-inspection tool and returns the decoded
// resolution, or an error when the stream is not decodable.
func (p *Prober) inspect(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "v:0",
		"-probesize", "5000000",
		"-analyzeduration", "5000000",
		"-i", url,
	}
	out, err := exec.CommandContext(ctx, p.FFProbePath, args...).Output()
	if ctx.Err() != nil {
		return "", fmt.Errorf("timed out after %s", p.Timeout)
	}
	if err != nil {
		return "", fmt.Errorf("tool: %w", err)
	}
	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return "", fmt.Errorf("parse tool output: %w", err)
	}
	if len(parsed.Streams) == 0 {
		return "", fmt.Errorf("no video stream")
	}
	v := parsed.Streams[0]
	return fmt.Sprintf("%dx%d", v.Width, v.Height), nil
}

func diagLine(r Result) string {
	parts := []string{"OK " + r.Name, r.Resolution}
	if r.LatencyMs > 0 {
		parts = append(parts, fmt.Sprintf("latency:%dms", r.LatencyMs))
	}
	if r.SpeedMbps > 0 {
		parts = append(parts, fmt.Sprintf("speed:%.2fMbps", r.SpeedMbps))
	}
	if r.Geo != "" {
		parts = append(parts, r.Geo)
	}
	return strings.Join(parts, " | ")
}

// Kept returns the entries whose probes passed, re-sorted for deterministic
// persistence.
func Kept(results []Result) []playlist.Entry {
	var out []playlist.Entry
	for _, r := range results {
		if r.Keep {
			out = append(out, playlist.Entry{Name: r.Name, URL: r.URL})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Line() < out[j].Line() })
	return out
}

// WriteLog writes the probe report: timestamped header plus one sorted line
// per probed entry. Written even when every probe failed, so operators can
// see why.
func WriteLog(w io.Writer, results []Result) error {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, r.Diag)
	}
	sort.Strings(lines)
	if _, err := fmt.Fprintf(w, "probe report | %s\n%s\n", time.Now().Format("2006-01-02 15:04:05"), strings.Repeat("-", 60)); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}

func hostOf(rawURL string) string {
	s := strings.TrimPrefix(rawURL, "http://")
	s = strings.TrimPrefix(s, "https://")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return s
}
