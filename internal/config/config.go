// Package config loads pipeline settings from environment variables (with an
// optional .env file) plus an optional YAML file for list-shaped values: scan
// subnets, scan ports, template upstream URLs and ISP name aliases.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every knob of the discovery → validation → assembly pipeline.
// All values come from GETM3U_* environment variables with documented
// defaults; FromFile values come from the YAML file at GETM3U_CONFIG.
type Config struct {
	// Discovery
	SearchURL    string // search-engine query URL returning text with embedded ip:port
	SearchCookie string // session credential; empty = search source not configured
	ScannerPath  string // external scanner executable; empty = disabled
	SweepEnabled bool   // in-process subnet×port sweep

	// Geo/ISP filter
	GeoAPI     string        // lookup base URL, e.g. http://ip-api.com/json
	Region     string        // target region substring, e.g. 广东
	ISPAliases []string      // case-insensitive substrings matched against isp+org
	GeoDelay   time.Duration // minimum delay between lookup calls
	GeoTimeout time.Duration

	// Liveness probe
	LivenessTimeout     time.Duration
	LivenessConcurrency int

	// Sweep
	SweepTimeout     time.Duration
	SweepConcurrency int

	// Stream probe
	FFProbePath            string
	StreamProbeTimeout     time.Duration
	StreamProbeConcurrency int
	StreamProbeRich        bool // also measure latency/throughput/geo per entry

	// Files (relative paths are resolved against DataDir)
	DataDir      string
	IPFile       string // validated endpoints, one host:port per line
	TemplateFile string // channel template, name,locator per line
	M3UFile      string // working playlist (pruned by stream probe)
	NoncheckFile string // reference playlist (never pruned)
	LogFile      string // stream probe report
	CounterFile  string // consecutive-unchanged trigger counter
	ScanStore    string // sqlite knowledge base; empty = disabled

	// Change detection / downstream trigger
	PriorBase   string // raw-content base URL for the prior published artifact
	NotifyURL   string // workflow-dispatch style webhook
	NotifyToken string // bearer credential; empty = notifier not configured
	NotifyRef   string

	// Observability
	MetricsAddr string // promhttp listen address; empty = disabled
	LogLevel    string

	// From YAML file only
	Subnets           []string // CIDR blocks for the sweep source
	Ports             []int    // ports for the sweep source
	TemplateUpstreams []string // upstream channel-list URLs for template refresh
}

// fileConfig is the YAML shape of GETM3U_CONFIG.
type fileConfig struct {
	Subnets           []string `yaml:"subnets"`
	Ports             []int    `yaml:"ports"`
	TemplateUpstreams []string `yaml:"template_upstreams"`
	ISPAliases        []string `yaml:"isp_aliases"`
}

// Load reads config from the environment. Call LoadEnvFile(".env") first to
// honour a .env file.
func Load() (*Config, error) {
	c := &Config{
		SearchURL:    os.Getenv("GETM3U_SEARCH_URL"),
		SearchCookie: os.Getenv("GETM3U_SEARCH_COOKIE"),
		ScannerPath:  os.Getenv("GETM3U_SCANNER"),
		SweepEnabled: getEnvBool("GETM3U_SWEEP_ENABLED", false),

		GeoAPI:     getEnv("GETM3U_GEO_API", "http://ip-api.com/json"),
		Region:     getEnv("GETM3U_REGION", "广东"),
		ISPAliases: getEnvList("GETM3U_ISP_ALIASES", []string{"电信", "telecom", "chinanet"}),
		GeoDelay:   getEnvDuration("GETM3U_GEO_DELAY", 1200*time.Millisecond),
		GeoTimeout: getEnvDuration("GETM3U_GEO_TIMEOUT", 8*time.Second),

		LivenessTimeout:     getEnvDuration("GETM3U_LIVENESS_TIMEOUT", 4*time.Second),
		LivenessConcurrency: getEnvInt("GETM3U_LIVENESS_CONCURRENCY", 15),

		SweepTimeout:     getEnvDuration("GETM3U_SWEEP_TIMEOUT", 2*time.Second),
		SweepConcurrency: getEnvInt("GETM3U_SWEEP_CONCURRENCY", 256),

		FFProbePath:            getEnv("GETM3U_FFPROBE", "ffprobe"),
		StreamProbeTimeout:     getEnvDuration("GETM3U_STREAMPROBE_TIMEOUT", 12*time.Second),
		StreamProbeConcurrency: getEnvInt("GETM3U_STREAMPROBE_CONCURRENCY", 0),
		StreamProbeRich:        getEnvBool("GETM3U_STREAMPROBE_RICH", false),

		DataDir:      getEnv("GETM3U_DATA_DIR", "."),
		IPFile:       getEnv("GETM3U_IP_FILE", "source-ip.txt"),
		TemplateFile: getEnv("GETM3U_TEMPLATE_FILE", filepath.Join("rtp", "广东电信.txt")),
		M3UFile:      getEnv("GETM3U_M3U_FILE", "source-m3u.txt"),
		NoncheckFile: getEnv("GETM3U_NONCHECK_FILE", "source-m3u-noncheck.txt"),
		LogFile:      getEnv("GETM3U_LOG_FILE", "log.txt"),
		CounterFile:  getEnv("GETM3U_COUNTER_FILE", ".trigger-count"),
		ScanStore:    os.Getenv("GETM3U_SCANSTORE"),

		PriorBase:   os.Getenv("GETM3U_PRIOR_BASE"),
		NotifyURL:   os.Getenv("GETM3U_NOTIFY_URL"),
		NotifyToken: os.Getenv("GETM3U_NOTIFY_TOKEN"),
		NotifyRef:   getEnv("GETM3U_NOTIFY_REF", "main"),

		MetricsAddr: os.Getenv("GETM3U_METRICS_ADDR"),
		LogLevel:    getEnv("GETM3U_LOG_LEVEL", "info"),
	}
	// Heavier per-entry work in rich mode, fewer workers (bounds outbound bandwidth).
	if c.StreamProbeConcurrency <= 0 {
		if c.StreamProbeRich {
			c.StreamProbeConcurrency = 6
		} else {
			c.StreamProbeConcurrency = 15
		}
	}
	if c.LivenessConcurrency <= 0 {
		c.LivenessConcurrency = 15
	}
	if c.SweepConcurrency <= 0 {
		c.SweepConcurrency = 256
	}
	if c.GeoDelay <= 0 {
		c.GeoDelay = 1200 * time.Millisecond
	}

	if path := os.Getenv("GETM3U_CONFIG"); path != "" {
		if err := c.mergeFile(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	return c, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}
	c.Subnets = fc.Subnets
	c.Ports = fc.Ports
	c.TemplateUpstreams = fc.TemplateUpstreams
	if len(fc.ISPAliases) > 0 {
		c.ISPAliases = fc.ISPAliases
	}
	return nil
}

// Path resolves name against DataDir unless it is already absolute.
func (c *Config) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir, name)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
