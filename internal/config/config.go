// Package config loads pggateway's configuration from the process
// environment and the two positional command-line arguments described in
// the gateway's external interface: <listen_addr> <listen_port>.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the fully resolved, defaulted configuration for one gateway
// process.
type Config struct {
	ListenHost string
	ListenPort int

	// Candidates is the ordered list of backend endpoints, in the order
	// they appeared in CANDIDATES. Scan order (and therefore primary
	// selection tie-breaking) follows this slice.
	Candidates []CandidateSpec

	Probe  ProbeConfig
	Tuning TuningConfig
}

// CandidateSpec is one parsed "host:port" entry from CANDIDATES.
type CandidateSpec struct {
	Host string
	Port int
}

func (c CandidateSpec) String() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ProbeConfig controls how the primary selector talks to candidates.
type ProbeConfig struct {
	Database       string
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	CheckEvery     time.Duration
}

// TuningConfig controls the gateway's worker pool and socket behavior.
type TuningConfig struct {
	NumThreads   int
	TCPKeepAlive bool
	MetricsHost  string
	MetricsPort  string
}

// Load builds a Config from positional args (listen_addr, listen_port) and
// the process environment. args is normally os.Args[1:].
func Load(args []string) (*Config, error) {
	cfg := &Config{}

	if err := loadListenAddr(cfg, args); err != nil {
		return nil, err
	}

	candidatesEnv, ok := os.LookupEnv("CANDIDATES")
	if !ok || strings.TrimSpace(candidatesEnv) == "" {
		return nil, fmt.Errorf("CANDIDATES environment variable is required")
	}
	candidates, err := parseCandidates(candidatesEnv)
	if err != nil {
		return nil, fmt.Errorf("parsing CANDIDATES: %w", err)
	}
	cfg.Candidates = candidates

	cfg.Probe = ProbeConfig{
		Database:       getEnvDefault("PGDATABASE", "postgres"),
		ConnectTimeout: durationFromMsEnv("CONNECT_TIMEOUT_MS", 800),
		QueryTimeout:   durationFromMsEnv("QUERY_TIMEOUT_MS", 500),
		CheckEvery:     durationFromSecEnv("CHECK_EVERY", 2),
	}

	numThreads, err := intFromEnv("NUM_THREADS", 1)
	if err != nil {
		return nil, fmt.Errorf("parsing NUM_THREADS: %w", err)
	}
	if numThreads < 1 {
		numThreads = 1
	}
	if numThreads > 64 {
		numThreads = 64
	}

	cfg.Tuning = TuningConfig{
		NumThreads:   numThreads,
		TCPKeepAlive: os.Getenv("TCP_KEEPALIVE") != "0",
		MetricsHost:  getEnvDefault("METRICS_HOST", "::"),
		MetricsPort:  getEnvDefault("METRICS_PORT", "9090"),
	}

	return cfg, nil
}

func loadListenAddr(cfg *Config, args []string) error {
	if len(args) >= 2 {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid listen_port argument %q: %w", args[1], err)
		}
		cfg.ListenHost = args[0]
		cfg.ListenPort = port
		return nil
	}

	host := getEnvDefault("LISTEN_HOST", "localhost")
	portStr := getEnvDefault("LISTEN_PORT", "5432")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid LISTEN_PORT %q: %w", portStr, err)
	}
	cfg.ListenHost = host
	cfg.ListenPort = port
	return nil
}

// parseCandidates parses a comma-separated host:port list. Leading spaces
// on each element are trimmed; malformed entries are rejected.
func parseCandidates(raw string) ([]CandidateSpec, error) {
	parts := strings.Split(raw, ",")
	candidates := make([]CandidateSpec, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimLeft(p, " ")
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("empty candidate entry in %q", raw)
		}
		host, portStr, err := splitHostPort(p)
		if err != nil {
			return nil, fmt.Errorf("malformed candidate %q: %w", p, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("malformed candidate %q: invalid port: %w", p, err)
		}
		candidates = append(candidates, CandidateSpec{Host: host, Port: port})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidates parsed from %q", raw)
	}
	return candidates, nil
}

// splitHostPort splits a "host:port" entry on the last colon, so IPv6
// literals without brackets are rejected rather than silently mis-split.
func splitHostPort(s string) (host, port string, err error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return "", "", fmt.Errorf("expected host:port")
	}
	if !strings.HasPrefix(s, "[") && strings.Contains(s[:idx], ":") {
		return "", "", fmt.Errorf("IPv6 literal must be bracketed")
	}
	return s[:idx], s[idx+1:], nil
}

func getEnvDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func intFromEnv(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func durationFromMsEnv(key string, defMs int) time.Duration {
	v, err := intFromEnv(key, defMs)
	if err != nil {
		v = defMs
	}
	return time.Duration(v) * time.Millisecond
}

func durationFromSecEnv(key string, defSec int) time.Duration {
	v, err := intFromEnv(key, defSec)
	if err != nil {
		v = defSec
	}
	return time.Duration(v) * time.Second
}
