package source

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxSweepTargets caps one sweep so a typo'd /8 cannot turn a run into a
// days-long scan.
const maxSweepTargets = 1 << 20

// KnownTargets is the scanstore view the sweep consults: segments and ports
// where endpoints were found before. May be nil.
type KnownTargets interface {
	Segments() ([]string, error)
	Ports() ([]int, error)
}

// SweepSource brute-forces subnets × ports in-process. Because the target
// list is untrusted, every hit is fingerprint-probed before it is treated as
// a candidate — the probe is injected so this package stays independent of
// the liveness stage's package.
type SweepSource struct {
	Subnets     []string // CIDR blocks
	Ports       []int
	Concurrency int
	Timeout     time.Duration
	// Probe fingerprints one host:port within the timeout.
	Probe func(ctx context.Context, hostport string, timeout time.Duration) bool
	Known KnownTargets
	Log   *zap.SugaredLogger
}

func (s *SweepSource) Name() string { return "sweep" }

func (s *SweepSource) Discover(ctx context.Context) ([]string, error) {
	if s.Probe == nil {
		return nil, ErrNotConfigured
	}
	log := s.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("sweep")

	subnets, ports := s.targets()
	if len(subnets) == 0 || len(ports) == 0 {
		return nil, fmt.Errorf("no target subnets/ports configured")
	}
	concurrency := s.Concurrency
	if concurrency <= 0 {
		concurrency = 256
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	var hosts []string
	for _, cidr := range subnets {
		expanded, err := expandSubnet(cidr)
		if err != nil {
			log.Warnf("subnet %s: %v (skipped)", cidr, err)
			continue
		}
		hosts = append(hosts, expanded...)
	}
	total := len(hosts) * len(ports)
	if total > maxSweepTargets {
		return nil, fmt.Errorf("sweep space too large: %d targets (cap %d)", total, maxSweepTargets)
	}
	log.Infof("sweeping %d hosts × %d ports (%d targets, %d workers)", len(hosts), len(ports), total, concurrency)

	var mu sync.Mutex
	var found []string
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, host := range hosts {
		for _, port := range ports {
			hostport := net.JoinHostPort(host, strconv.Itoa(port))
			g.Go(func() error {
				if s.Probe(gctx, hostport, timeout) {
					mu.Lock()
					found = append(found, hostport)
					mu.Unlock()
				}
				return nil
			})
		}
	}
	g.Wait()
	return found, nil
}

// targets unions the configured subnets/ports with the knowledge base.
func (s *SweepSource) targets() (subnets []string, ports []int) {
	subnets = append(subnets, s.Subnets...)
	ports = append(ports, s.Ports...)
	if s.Known != nil {
		if segs, err := s.Known.Segments(); err == nil {
			subnets = append(subnets, segs...)
		}
		if known, err := s.Known.Ports(); err == nil {
			ports = append(ports, known...)
		}
	}
	return uniqueStrings(subnets), uniqueInts(ports)
}

// expandSubnet lists every host address in a CIDR block. The network and
// broadcast addresses are skipped for blocks wider than /31.
func expandSubnet(cidr string) ([]string, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}
	ip4 := ipnet.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("not an IPv4 block")
	}
	ones, bits := ipnet.Mask.Size()
	count := 1 << (bits - ones)
	base := binary.BigEndian.Uint32(ip4)

	var out []string
	for i := 0; i < count; i++ {
		if count > 2 && (i == 0 || i == count-1) {
			continue
		}
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], base+uint32(i))
		out = append(out, net.IP(buf[:]).String())
	}
	return out, nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func uniqueInts(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	var out []int
	for _, n := range in {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
