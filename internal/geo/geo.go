// Package geo classifies candidate endpoints by geolocation and network owner
// against a configured target region and ISP.
//
// The upstream lookup service enforces a request-rate ceiling; exceeding it
// makes every later lookup in the run fail, so candidates are checked
// sequentially with a mandatory inter-call delay. A per-run cache keyed by IP
// avoids repeat lookups when several candidate ports share a host.
package geo

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JE668/get-m3u/internal/endpoint"
	"github.com/JE668/get-m3u/internal/httpclient"
)

// Reason explains why a candidate did or did not match.
type Reason string

const (
	ReasonMatched        Reason = "matched"
	ReasonRegionMismatch Reason = "region_mismatch"
	ReasonISPMismatch    Reason = "isp_mismatch"
	ReasonLookupFailed   Reason = "lookup_failed"
	ReasonRateLimited    Reason = "rate_limited"
)

// Verdict is the outcome of checking one candidate. Derived per run, never
// persisted.
type Verdict struct {
	Endpoint string
	Matched  bool
	Region   string
	City     string
	ISP      string
	Reason   Reason
}

// lookup is the cached upstream response for one IP.
type lookup struct {
	ok         bool // transport + decode succeeded
	rateLimit  bool
	status     string
	regionName string
	city       string
	isp        string
	org        string
}

// Filter owns the lookup client, the pacing limiter and the per-run cache.
type Filter struct {
	baseURL string
	region  string
	aliases []string

	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter

	// The filter's own pass is sequential, but the stream prober calls Info
	// from its worker pool, so cache access must be locked.
	mu    sync.Mutex
	cache map[string]lookup

	log *zap.SugaredLogger
}

// New builds a Filter. baseURL is the lookup service root (e.g.
// http://ip-api.com/json); region is matched as a substring of the returned
// region name; aliases are case-insensitive substrings matched against the
// returned isp+org fields. delay is the minimum gap between lookup calls.
func New(baseURL, region string, aliases []string, delay, timeout time.Duration, client *http.Client, log *zap.SugaredLogger) *Filter {
	if client == nil {
		client = httpclient.Default()
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if delay <= 0 {
		delay = 1200 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	lowered := make([]string, len(aliases))
	for i, a := range aliases {
		lowered[i] = strings.ToLower(a)
	}
	return &Filter{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		region:  region,
		aliases: lowered,
		client:  client,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Every(delay), 1),
		cache:   make(map[string]lookup),
		log:     log.Named("geo"),
	}
}

// Check classifies one candidate. It never returns an error: lookup failures
// become Verdicts with a distinguishing Reason.
func (f *Filter) Check(ctx context.Context, hostport string) Verdict {
	v := Verdict{Endpoint: hostport}
	host := endpoint.Host(hostport)
	if host == "" {
		v.Reason = ReasonLookupFailed
		return v
	}
	lu := f.cachedLookup(ctx, host)
	v.Region, v.City, v.ISP = lu.regionName, lu.city, lu.isp
	switch {
	case lu.rateLimit:
		v.Reason = ReasonRateLimited
	case !lu.ok || lu.status != "success":
		v.Reason = ReasonLookupFailed
	case !strings.Contains(lu.regionName, f.region):
		v.Reason = ReasonRegionMismatch
	case !f.ispMatches(lu.isp, lu.org):
		v.Reason = ReasonISPMismatch
	default:
		v.Matched = true
		v.Reason = ReasonMatched
	}
	return v
}

// FilterAll checks candidates sequentially (the lookup service is paced, see
// package doc) and returns one verdict per candidate, in input order.
func (f *Filter) FilterAll(ctx context.Context, candidates []string) []Verdict {
	out := make([]Verdict, 0, len(candidates))
	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		v := f.Check(ctx, c)
		if v.Matched {
			f.log.Infof("matched: %s (%s | %s)", c, v.Region, v.ISP)
		} else {
			f.log.Debugf("rejected: %s reason=%s", c, v.Reason)
		}
		out = append(out, v)
	}
	return out
}

// Info returns a "city | isp" diagnostic string for a host, or "unknown"
// when the lookup fails. Shares the cache and pacing with Check; used by the
// stream prober's rich diagnostics.
func (f *Filter) Info(ctx context.Context, host string) string {
	if host == "" {
		return "unknown"
	}
	lu := f.cachedLookup(ctx, host)
	if !lu.ok || lu.status != "success" {
		return "unknown"
	}
	return lu.city + " | " + lu.isp
}

// cachedLookup returns the cached result for host, performing the upstream
// lookup on a miss. Two concurrent misses on the same host may both look it
// up; the limiter paces them and last-write-wins is harmless since both hold
// the same answer.
func (f *Filter) cachedLookup(ctx context.Context, host string) lookup {
	f.mu.Lock()
	lu, cached := f.cache[host]
	f.mu.Unlock()
	if cached {
		return lu
	}
	lu = f.lookupIP(ctx, host)
	f.mu.Lock()
	f.cache[host] = lu
	f.mu.Unlock()
	return lu
}

func (f *Filter) ispMatches(isp, org string) bool {
	owner := strings.ToLower(isp + org)
	for _, a := range f.aliases {
		if strings.Contains(owner, a) {
			return true
		}
	}
	return false
}

// apiResponse is the ip-api.com style lookup payload.
type apiResponse struct {
	Status     string `json:"status"`
	RegionName string `json:"regionName"`
	City       string `json:"city"`
	ISP        string `json:"isp"`
	Org        string `json:"org"`
}

func (f *Filter) lookupIP(ctx context.Context, ip string) lookup {
	if err := f.limiter.Wait(ctx); err != nil {
		return lookup{}
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/"+ip+"?lang=zh-CN", nil)
	if err != nil {
		return lookup{}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		f.log.Debugf("lookup %s: %v", ip, err)
		return lookup{}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		f.log.Warnf("lookup %s: rate limited by upstream", ip)
		return lookup{rateLimit: true}
	}
	if resp.StatusCode != http.StatusOK {
		f.log.Debugf("lookup %s: HTTP %d", ip, resp.StatusCode)
		return lookup{}
	}
	var r apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		f.log.Debugf("lookup %s: decode: %v", ip, err)
		return lookup{}
	}
	return lookup{
		ok:         true,
		status:     r.Status,
		regionName: r.RegionName,
		city:       r.City,
		isp:        r.ISP,
		org:        r.Org,
	}
}
