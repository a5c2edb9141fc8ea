package config

import (
	"os"
	"testing"
	"time"
)

func withEnv(t *testing.T, kv map[string]string, fn func()) {
	t.Helper()
	for k, v := range kv {
		old, had := os.LookupEnv(k)
		os.Setenv(k, v)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			} else {
				os.Unsetenv(k)
			}
		})
	}
	fn()
}

func TestLoadPositionalArgs(t *testing.T) {
	withEnv(t, map[string]string{"CANDIDATES": "p1:5432,p2:5432"}, func() {
		cfg, err := Load([]string{"0.0.0.0", "6432"})
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.ListenHost != "0.0.0.0" || cfg.ListenPort != 6432 {
			t.Errorf("unexpected listen addr: %s:%d", cfg.ListenHost, cfg.ListenPort)
		}
	})
}

func TestLoadEnvFallback(t *testing.T) {
	withEnv(t, map[string]string{
		"CANDIDATES":  "p1:5432",
		"LISTEN_HOST": "example.test",
		"LISTEN_PORT": "9999",
	}, func() {
		cfg, err := Load(nil)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.ListenHost != "example.test" || cfg.ListenPort != 9999 {
			t.Errorf("unexpected listen addr: %s:%d", cfg.ListenHost, cfg.ListenPort)
		}
	})
}

func TestLoadDefaultListenAddr(t *testing.T) {
	withEnv(t, map[string]string{"CANDIDATES": "p1:5432"}, func() {
		os.Unsetenv("LISTEN_HOST")
		os.Unsetenv("LISTEN_PORT")
		cfg, err := Load(nil)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.ListenHost != "localhost" || cfg.ListenPort != 5432 {
			t.Errorf("expected default localhost:5432, got %s:%d", cfg.ListenHost, cfg.ListenPort)
		}
	})
}

func TestLoadMissingCandidates(t *testing.T) {
	os.Unsetenv("CANDIDATES")
	if _, err := Load([]string{"localhost", "6432"}); err == nil {
		t.Fatal("expected error when CANDIDATES is unset")
	}
}

func TestParseCandidates(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []CandidateSpec
		wantErr bool
	}{
		{
			name: "basic",
			raw:  "p1:5432,p2:5432",
			want: []CandidateSpec{{Host: "p1", Port: 5432}, {Host: "p2", Port: 5432}},
		},
		{
			name: "leading spaces trimmed",
			raw:  "p1:5432, p2:5433,  p3:5434",
			want: []CandidateSpec{{Host: "p1", Port: 5432}, {Host: "p2", Port: 5433}, {Host: "p3", Port: 5434}},
		},
		{name: "missing port", raw: "p1", wantErr: true},
		{name: "empty entry", raw: "p1:5432,,p2:5432", wantErr: true},
		{name: "non numeric port", raw: "p1:abc", wantErr: true},
		{name: "empty string", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCandidates(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCandidates(%q) err=%v, wantErr=%v", tt.raw, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d candidates, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("candidate %d: got %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	withEnv(t, map[string]string{"CANDIDATES": "p1:5432"}, func() {
		os.Unsetenv("PGDATABASE")
		os.Unsetenv("CONNECT_TIMEOUT_MS")
		os.Unsetenv("QUERY_TIMEOUT_MS")
		os.Unsetenv("CHECK_EVERY")
		os.Unsetenv("NUM_THREADS")
		os.Unsetenv("TCP_KEEPALIVE")
		os.Unsetenv("METRICS_HOST")
		os.Unsetenv("METRICS_PORT")

		cfg, err := Load([]string{"localhost", "6432"})
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Probe.Database != "postgres" {
			t.Errorf("expected default PGDATABASE postgres, got %s", cfg.Probe.Database)
		}
		if cfg.Probe.ConnectTimeout != 800*time.Millisecond {
			t.Errorf("expected default connect timeout 800ms, got %v", cfg.Probe.ConnectTimeout)
		}
		if cfg.Probe.QueryTimeout != 500*time.Millisecond {
			t.Errorf("expected default query timeout 500ms, got %v", cfg.Probe.QueryTimeout)
		}
		if cfg.Probe.CheckEvery != 2*time.Second {
			t.Errorf("expected default check interval 2s, got %v", cfg.Probe.CheckEvery)
		}
		if cfg.Tuning.NumThreads != 1 {
			t.Errorf("expected default num threads 1, got %d", cfg.Tuning.NumThreads)
		}
		if !cfg.Tuning.TCPKeepAlive {
			t.Error("expected keepalive enabled by default")
		}
		if cfg.Tuning.MetricsHost != "::" {
			t.Errorf("expected default metrics host ::, got %s", cfg.Tuning.MetricsHost)
		}
		if cfg.Tuning.MetricsPort != "9090" {
			t.Errorf("expected default metrics port 9090, got %s", cfg.Tuning.MetricsPort)
		}
	})
}

func TestLoadNumThreadsClamped(t *testing.T) {
	withEnv(t, map[string]string{"CANDIDATES": "p1:5432", "NUM_THREADS": "999"}, func() {
		cfg, err := Load([]string{"localhost", "6432"})
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Tuning.NumThreads != 64 {
			t.Errorf("expected clamp to 64, got %d", cfg.Tuning.NumThreads)
		}
	})

	withEnv(t, map[string]string{"CANDIDATES": "p1:5432", "NUM_THREADS": "0"}, func() {
		cfg, err := Load([]string{"localhost", "6432"})
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Tuning.NumThreads != 1 {
			t.Errorf("expected clamp to 1, got %d", cfg.Tuning.NumThreads)
		}
	})
}

func TestLoadTCPKeepAliveDisabled(t *testing.T) {
	withEnv(t, map[string]string{"CANDIDATES": "p1:5432", "TCP_KEEPALIVE": "0"}, func() {
		cfg, err := Load([]string{"localhost", "6432"})
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Tuning.TCPKeepAlive {
			t.Error("expected keepalive disabled")
		}
	})
}
