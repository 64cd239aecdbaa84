// Package source provides the candidate discovery adapters. Each adapter is
// independent and failure-isolated: an adapter that errors contributes an
// empty result and the pipeline continues with whatever the others produced.
package source

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JE668/get-m3u/internal/endpoint"
)

// ErrNotConfigured reports a source whose credential or required setting is
// absent. Callers log it apart from transport failures so an operator can
// tell "not configured" from "broken".
var ErrNotConfigured = errors.New("source not configured")

// Source is one discovery mechanism producing raw host:port strings. The
// returned error is for observability only — the driver treats any error as
// an empty contribution, never as a pipeline abort.
type Source interface {
	Name() string
	Discover(ctx context.Context) ([]string, error)
}

// DiscoverAll runs every source, isolates failures and returns the merged
// deduplicated sorted candidate set.
func DiscoverAll(ctx context.Context, sources []Source, log *zap.SugaredLogger) []string {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("discover")
	var merged []string
	for _, s := range sources {
		found, err := s.Discover(ctx)
		switch {
		case errors.Is(err, ErrNotConfigured):
			log.Warnf("%s: not configured, skipping", s.Name())
		case err != nil && len(found) > 0:
			// A scanner killed mid-run still reports what it found.
			log.Warnf("%s: %v (keeping %d partial candidates)", s.Name(), err, len(found))
		case err != nil:
			log.Warnf("%s: %v (contributes nothing)", s.Name(), err)
		default:
			log.Infof("%s: %d raw candidates", s.Name(), len(found))
		}
		merged = append(merged, found...)
	}
	return endpoint.DedupSort(merged)
}
