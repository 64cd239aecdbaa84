// Package liveness checks that a geo-matched candidate actually serves the
// expected relay software by fingerprinting its status page.
package liveness

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JE668/get-m3u/internal/endpoint"
	"github.com/JE668/get-m3u/internal/httpclient"
)

// statusPaths are tried in order; the first 200 with a recognizable body wins.
var statusPaths = []string{"/stat", "/status", "/status/"}

// fingerprints identify a udpxy-style status page, case-insensitive.
var fingerprints = []string{"udpxy", "stat", "client", "active"}

const maxBodyBytes = 64 * 1024

// Probe reports whether hostport serves a recognizable relay status page.
// Every per-path failure (connect error, timeout, non-200, unrecognized body)
// just moves on to the next path; exhausting all paths yields false.
func Probe(ctx context.Context, hostport string, client *http.Client, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	if client == nil {
		client = httpclient.WithTimeout(timeout)
	}
	for _, path := range statusPaths {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		ok := attempt(attemptCtx, client, "http://"+hostport+path)
		cancel()
		if ok {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return false
}

func attempt(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return false
	}
	lower := strings.ToLower(string(body))
	for _, kw := range fingerprints {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ProbeAll probes candidates with bounded concurrency and returns the alive
// subset, sorted. Completion order is irrelevant; results are collected under
// a lock and re-sorted.
func ProbeAll(ctx context.Context, candidates []string, client *http.Client, timeout time.Duration, concurrency int, log *zap.SugaredLogger) []string {
	if len(candidates) == 0 {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 15
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("liveness")

	var mu sync.Mutex
	var alive []string
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, c := range candidates {
		c := c
		g.Go(func() error {
			if Probe(gctx, c, client, timeout) {
				log.Infof("online: %s", c)
				mu.Lock()
				alive = append(alive, c)
				mu.Unlock()
			} else {
				log.Debugf("offline: %s", c)
			}
			return nil
		})
	}
	g.Wait()
	return endpoint.DedupSort(alive)
}
