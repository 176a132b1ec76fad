package kernel

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/kernel-route/routekernel/internal/tier"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaselineDir = filepath.Join(t.TempDir(), "baselines")
	cfg.TelemetryDSN = "file:" + filepath.Join(t.TempDir(), "telemetry.sqlite")
	cfg.TemporalEnabled = false
	return cfg.withDefaults()
}

func TestNewAssemblesKernel(t *testing.T) {
	k, err := New(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	defer func() { _ = k.Close() }()

	if k.Router == nil || k.Feedback == nil || k.Gate == nil {
		t.Fatal("expected Router/Feedback/Gate to be wired")
	}
	if k.Baselines == nil || k.Telemetry == nil {
		t.Fatal("expected Baselines/Telemetry stores to be wired")
	}
}

func TestKernelRoute(t *testing.T) {
	k, err := New(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	defer func() { _ = k.Close() }()

	decision, err := k.Route(context.Background(), "summarize this document", "session-1", "")
	if err != nil {
		t.Fatalf("Route() returned error: %v", err)
	}
	if decision.ID == "" {
		t.Fatal("expected a non-empty decision ID")
	}
	if !tier.Valid(decision.ChosenTier) {
		t.Fatalf("expected a valid chosen tier, got %q", decision.ChosenTier)
	}
}

func TestKernelHTTPRouterServesHealthz(t *testing.T) {
	k, err := New(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	defer func() { _ = k.Close() }()

	srv := httptest.NewServer(k.HTTPRouter())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 from /healthz, got %d", resp.StatusCode)
	}
}

func TestConfigValidateRejectsZeroRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimitRPS = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate() to reject a zero rate limit")
	}
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig(\"\") returned error: %v", err)
	}
	if cfg.ListenAddr == "" {
		t.Fatal("expected a default ListenAddr")
	}
}
