package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", true)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if cfg.Worker.HeartbeatInterval != 30*time.Second {
		t.Fatalf("heartbeat_interval=%s want=30s", cfg.Worker.HeartbeatInterval)
	}
	if cfg.Worker.HeartbeatTTL != 60*time.Second {
		t.Fatalf("heartbeat_ttl=%s want=60s", cfg.Worker.HeartbeatTTL)
	}
	if cfg.Worker.ScanInterval != 300*time.Second {
		t.Fatalf("scan_interval=%s want=300s", cfg.Worker.ScanInterval)
	}
	if cfg.Supervisor.AssignmentTTL != 24*time.Hour {
		t.Fatalf("assignment_ttl=%s want=24h", cfg.Supervisor.AssignmentTTL)
	}
	if cfg.Queue.StopTimeout != 30*time.Second {
		t.Fatalf("stop_timeout=%s want=30s", cfg.Queue.StopTimeout)
	}
	if cfg.Supervisor.TerminateTimeout != 40*time.Second {
		t.Fatalf("terminate_timeout=%s want=40s", cfg.Supervisor.TerminateTimeout)
	}
	if cfg.Worker.StopTimeout != 5*time.Second {
		t.Fatalf("worker stop_timeout=%s want=5s", cfg.Worker.StopTimeout)
	}
	if cfg.Usage.WarningRatio != 0.80 || cfg.Usage.CriticalRatio != 0.95 {
		t.Fatalf("usage=%+v want 0.80/0.95", cfg.Usage)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `
supervisor:
  workers: 5
  user_ids: ["u1", "u2"]
providers:
  endpoints:
    - name: primary
      url: http://a
      priority: 1
      max_failures: 3
    - name: backup
      url: http://b
      priority: 2
      max_failures: 3
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("HARVEST_WORKER_SCAN_INTERVAL", "10s")

	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if cfg.Supervisor.Workers != 5 {
		t.Fatalf("workers=%d want=5", cfg.Supervisor.Workers)
	}
	if len(cfg.Supervisor.UserIDs) != 2 {
		t.Fatalf("user_ids=%v want 2 entries", cfg.Supervisor.UserIDs)
	}
	if len(cfg.Providers.Endpoints) != 2 || cfg.Providers.Endpoints[1].Name != "backup" {
		t.Fatalf("endpoints=%+v", cfg.Providers.Endpoints)
	}
	if cfg.Worker.ScanInterval != 10*time.Second {
		t.Fatalf("scan_interval=%s want=10s", cfg.Worker.ScanInterval)
	}
}

func TestLoad_RejectsTerminateShorterThanDrain(t *testing.T) {
	t.Setenv("HARVEST_SUPERVISOR_TERMINATE_TIMEOUT", "10s")
	if _, err := Load("", true); err == nil {
		t.Fatalf("terminate_timeout=10s accepted with 5s+30s drain")
	}

	t.Setenv("HARVEST_SUPERVISOR_TERMINATE_TIMEOUT", "35s")
	cfg, err := Load("", true)
	if err != nil {
		t.Fatalf("err=%v want terminate_timeout=35s accepted", err)
	}
	if cfg.Supervisor.TerminateTimeout != 35*time.Second {
		t.Fatalf("terminate_timeout=%s want=35s", cfg.Supervisor.TerminateTimeout)
	}
}
