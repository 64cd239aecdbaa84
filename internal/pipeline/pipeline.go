// Package pipeline wires the discovery, validation, assembly and publication
// stages into the single run the driver invokes. Every stage degrades rather
// than aborts: per-item failures become filter outcomes and an empty stage
// output ends the run cleanly with exit success.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JE668/get-m3u/internal/changedetect"
	"github.com/JE668/get-m3u/internal/config"
	"github.com/JE668/get-m3u/internal/geo"
	"github.com/JE668/get-m3u/internal/httpclient"
	"github.com/JE668/get-m3u/internal/liveness"
	"github.com/JE668/get-m3u/internal/metrics"
	"github.com/JE668/get-m3u/internal/notify"
	"github.com/JE668/get-m3u/internal/playlist"
	"github.com/JE668/get-m3u/internal/scanstore"
	"github.com/JE668/get-m3u/internal/source"
	"github.com/JE668/get-m3u/internal/streamprobe"
	"github.com/JE668/get-m3u/internal/template"
)

// Pipeline owns the stage components for one configured deployment.
type Pipeline struct {
	Cfg      *config.Config
	Client   *http.Client
	Sources  []source.Source
	Geo      *geo.Filter
	Template *template.Store
	Prober   *streamprobe.Prober
	Prior    changedetect.PriorSource
	Gate     *changedetect.Gate
	Notifier *notify.Notifier
	Store    *scanstore.Store
	Log      *zap.SugaredLogger
}

// New assembles a Pipeline from config. The scan knowledge base is optional:
// an open failure disables it with a warning and the run proceeds.
func New(cfg *config.Config, log *zap.SugaredLogger) *Pipeline {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	client := httpclient.Default()

	var store *scanstore.Store
	if cfg.ScanStore != "" {
		s, err := scanstore.Open(cfg.Path(cfg.ScanStore))
		if err != nil {
			log.Warnw("scan knowledge base unavailable", "path", cfg.ScanStore, "err", err)
		} else {
			store = s
		}
	}

	gf := geo.New(cfg.GeoAPI, cfg.Region, cfg.ISPAliases, cfg.GeoDelay, cfg.GeoTimeout, client, log)

	p := &Pipeline{
		Cfg:    cfg,
		Client: client,
		Geo:    gf,
		Template: &template.Store{
			Path:      cfg.Path(cfg.TemplateFile),
			Upstreams: cfg.TemplateUpstreams,
			Client:    client,
			Log:       log,
		},
		Prober: &streamprobe.Prober{
			FFProbePath: cfg.FFProbePath,
			Timeout:     cfg.StreamProbeTimeout,
			Concurrency: cfg.StreamProbeConcurrency,
			Rich:        cfg.StreamProbeRich,
			Client:      client,
			Geo:         gf,
			Log:         log,
		},
		Gate: &changedetect.Gate{
			Counter: &changedetect.Counter{Path: cfg.Path(cfg.CounterFile)},
			Log:     log,
		},
		Notifier: &notify.Notifier{
			URL:    cfg.NotifyURL,
			Token:  cfg.NotifyToken,
			Ref:    cfg.NotifyRef,
			Client: client,
			Log:    log,
		},
		Store: store,
		Log:   log.Named("pipeline"),
	}
	if cfg.PriorBase != "" {
		p.Prior = &changedetect.HTTPPriorSource{BaseURL: cfg.PriorBase, Client: client}
	}

	p.Sources = []source.Source{
		&source.FileSource{Path: cfg.Path(cfg.IPFile)},
		&source.SearchSource{URL: cfg.SearchURL, Cookie: cfg.SearchCookie, Client: client},
		&source.ScannerSource{
			Path:    cfg.ScannerPath,
			Subnets: cfg.Subnets,
			Ports:   cfg.Ports,
			Timeout: cfg.SweepTimeout,
		},
	}
	if cfg.SweepEnabled {
		p.Sources = append(p.Sources, &source.SweepSource{
			Subnets:     cfg.Subnets,
			Ports:       cfg.Ports,
			Concurrency: cfg.SweepConcurrency,
			Timeout:     cfg.SweepTimeout,
			Known:       knownTargets(store),
			Probe: func(ctx context.Context, hostport string, timeout time.Duration) bool {
				return liveness.Probe(ctx, hostport, client, timeout)
			},
			Log: log,
		})
	}
	return p
}

// knownTargets keeps the sweep's view nil when the store is disabled; a typed
// nil behind the interface would defeat its nil check.
func knownTargets(s *scanstore.Store) source.KnownTargets {
	if s == nil {
		return nil
	}
	return s
}

// Close releases the knowledge base handle.
func (p *Pipeline) Close() error {
	if p.Store != nil {
		return p.Store.Close()
	}
	return nil
}

// countedSource layers a per-source discovery counter over a Source.
type countedSource struct {
	source.Source
}

func (c countedSource) Discover(ctx context.Context) ([]string, error) {
	out, err := c.Source.Discover(ctx)
	metrics.CandidatesDiscovered.WithLabelValues(c.Name()).Add(float64(len(out)))
	return out, err
}

// Validate runs discovery through the liveness probe and persists the
// validated endpoint list. An empty result leaves the previous list on disk.
func (p *Pipeline) Validate(ctx context.Context) ([]string, error) {
	counted := make([]source.Source, len(p.Sources))
	for i, s := range p.Sources {
		counted[i] = countedSource{s}
	}
	candidates := source.DiscoverAll(ctx, counted, p.Log)
	p.Log.Infow("discovery complete", "candidates", len(candidates))
	if len(candidates) == 0 {
		return nil, nil
	}

	var matched []string
	for _, v := range p.Geo.FilterAll(ctx, candidates) {
		metrics.GeoVerdicts.WithLabelValues(string(v.Reason)).Inc()
		if v.Matched {
			matched = append(matched, v.Endpoint)
		}
	}
	p.Log.Infow("geo filter complete", "matched", len(matched), "rejected", len(candidates)-len(matched))
	if len(matched) == 0 {
		return nil, nil
	}

	alive := liveness.ProbeAll(ctx, matched, p.Client, p.Cfg.LivenessTimeout, p.Cfg.LivenessConcurrency, p.Log)
	metrics.LivenessProbes.WithLabelValues("alive").Add(float64(len(alive)))
	metrics.LivenessProbes.WithLabelValues("dead").Add(float64(len(matched) - len(alive)))
	p.Log.Infow("liveness probe complete", "alive", len(alive), "dead", len(matched)-len(alive))
	if len(alive) == 0 {
		return nil, nil
	}

	if err := writeLines(p.Cfg.Path(p.Cfg.IPFile), alive); err != nil {
		return nil, fmt.Errorf("persist validated endpoints: %w", err)
	}
	if err := p.Store.RecordEndpoints(alive); err != nil {
		p.Log.Warnw("knowledge base update failed", "err", err)
	}
	return alive, nil
}

// Run executes the full pipeline once.
func (p *Pipeline) Run(ctx context.Context) error {
	alive, err := p.Validate(ctx)
	if err != nil {
		metrics.PipelineRuns.WithLabelValues("error").Inc()
		return err
	}
	if len(alive) == 0 {
		p.Log.Infow("no validated endpoints this run; nothing to publish")
		metrics.PipelineRuns.WithLabelValues("empty").Inc()
		return nil
	}

	if err := p.assembleAndProbe(ctx, alive); err != nil {
		metrics.PipelineRuns.WithLabelValues("error").Inc()
		return err
	}

	// Publication is gated on the validated endpoint list, not the probe
	// survivors: a run whose deep probe culls everything still published new
	// reference data.
	decision, err := p.decide(ctx, alive)
	if err != nil {
		metrics.PipelineRuns.WithLabelValues("error").Inc()
		return err
	}
	metrics.TriggerDecisions.WithLabelValues(string(decision)).Inc()
	if decision.Triggers() {
		p.dispatch(ctx)
	}
	metrics.PipelineRuns.WithLabelValues("ok").Inc()
	return nil
}

// assembleAndProbe cross-multiplies endpoints with the channel template,
// writes both playlist copies, then prunes the working copy down to streams
// that actually decode. A missing template skips assembly with a warning.
func (p *Pipeline) assembleAndProbe(ctx context.Context, alive []string) error {
	entries, err := p.Template.Load()
	if errors.Is(err, os.ErrNotExist) && len(p.Cfg.TemplateUpstreams) > 0 {
		if rerr := p.Template.Refresh(ctx); rerr == nil {
			entries, err = p.Template.Load()
		}
	}
	if err != nil {
		p.Log.Warnw("channel template unavailable; skipping playlist assembly", "err", err)
		return nil
	}

	assembled := playlist.Assemble(alive, entries)
	refPath := p.Cfg.Path(p.Cfg.NoncheckFile)
	workPath := p.Cfg.Path(p.Cfg.M3UFile)
	if err := playlist.WriteBoth(refPath, workPath, assembled); err != nil {
		return fmt.Errorf("write playlists: %w", err)
	}
	p.Log.Infow("playlists assembled", "entries", len(assembled))
	if len(assembled) == 0 {
		return nil
	}

	results := p.Prober.ProbeAll(ctx, assembled)
	kept := streamprobe.Kept(results)
	metrics.StreamProbes.WithLabelValues("kept").Add(float64(len(kept)))
	metrics.StreamProbes.WithLabelValues("dropped").Add(float64(len(results) - len(kept)))
	p.Log.Infow("stream probe complete", "kept", len(kept), "dropped", len(results)-len(kept))

	if err := playlist.WriteWorking(workPath, kept); err != nil {
		return fmt.Errorf("prune working playlist: %w", err)
	}
	if err := p.writeProbeLog(results); err != nil {
		p.Log.Warnw("probe log write failed", "err", err)
	}
	return nil
}

func (p *Pipeline) writeProbeLog(results []streamprobe.Result) error {
	f, err := os.Create(p.Cfg.Path(p.Cfg.LogFile))
	if err != nil {
		return err
	}
	defer f.Close()
	return streamprobe.WriteLog(f, results)
}

// decide compares the validated list against the last published version and
// applies the trigger gate. Prior retrieval failing (first publication, prior
// host down) counts as changed so data is never silently withheld.
func (p *Pipeline) decide(ctx context.Context, alive []string) (changedetect.Decision, error) {
	changed := true
	if p.Prior != nil {
		current := []byte(strings.Join(alive, "\n") + "\n")
		name := filepath.ToSlash(p.Cfg.IPFile)
		prior, err := p.Prior.Prior(ctx, p.Cfg.NotifyRef, name)
		switch {
		case err == nil:
			changed = changedetect.Changed(current, prior)
		case errors.Is(err, changedetect.ErrNotFound):
			p.Log.Infow("no prior published version; treating as changed")
		default:
			p.Log.Warnw("prior version fetch failed; treating as changed", "err", err)
		}
	}
	return p.Gate.Decide(changed)
}

// dispatch fires the downstream trigger. Gate state is already persisted, so
// every failure mode here is log-only.
func (p *Pipeline) dispatch(ctx context.Context) {
	err := p.Notifier.Dispatch(ctx)
	switch {
	case err == nil:
		p.Log.Infow("downstream trigger dispatched", "ref", p.Cfg.NotifyRef)
	case errors.Is(err, notify.ErrNotConfigured):
		p.Log.Infow("notifier not configured; trigger decision recorded only")
	default:
		p.Log.Warnw("downstream trigger failed", "err", err)
	}
}

// ProbePlaylist re-probes an existing working playlist in place and rewrites
// the probe log. Used by the standalone probe subcommand.
func (p *Pipeline) ProbePlaylist(ctx context.Context) error {
	path := p.Cfg.Path(p.Cfg.M3UFile)
	entries, err := playlist.Load(path)
	if err != nil {
		return fmt.Errorf("load playlist: %w", err)
	}
	if len(entries) == 0 {
		p.Log.Infow("playlist empty; nothing to probe")
		return nil
	}
	results := p.Prober.ProbeAll(ctx, entries)
	kept := streamprobe.Kept(results)
	p.Log.Infow("stream probe complete", "kept", len(kept), "dropped", len(results)-len(kept))
	if err := playlist.WriteWorking(path, kept); err != nil {
		return fmt.Errorf("prune working playlist: %w", err)
	}
	return p.writeProbeLog(results)
}

// RefreshTemplate refetches the channel template from its upstreams.
func (p *Pipeline) RefreshTemplate(ctx context.Context) error {
	return p.Template.Refresh(ctx)
}

// writeLines persists one line per element via temp file + rename.
func writeLines(path string, lines []string) error {
	tmp := path + ".tmp"
	data := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(tmp, []byte(data), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
