package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"harvest/internal/config"
)

func TestNewConfig_StampsIdentity(t *testing.T) {
	zc := newConfig(config.LogConfig{Level: "debug", Encoding: "console"}, "worker", "worker_2")
	if zc.InitialFields["component"] != "worker" {
		t.Fatalf("component=%v want=worker", zc.InitialFields["component"])
	}
	if zc.InitialFields["worker_id"] != "worker_2" {
		t.Fatalf("worker_id=%v want=worker_2", zc.InitialFields["worker_id"])
	}
	if zc.Level.Level() != zapcore.DebugLevel {
		t.Fatalf("level=%v want=debug", zc.Level.Level())
	}
	if zc.Sampling != nil {
		t.Fatalf("sampling enabled without log.sampling")
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	zc := newConfig(config.LogConfig{Level: "loud", Sampling: true}, "supervisor", "")
	if zc.Encoding != "json" {
		t.Fatalf("encoding=%q want=json", zc.Encoding)
	}
	if zc.Level.Level() != zapcore.InfoLevel {
		t.Fatalf("level=%v want=info on unknown level", zc.Level.Level())
	}
	if _, ok := zc.InitialFields["supervisor_id"]; ok {
		t.Fatalf("empty id should not be stamped")
	}
	if zc.Sampling == nil || zc.Sampling.Initial != 100 {
		t.Fatalf("sampling=%+v want 100/100", zc.Sampling)
	}
}

func TestNew_Builds(t *testing.T) {
	l, err := New(config.LogConfig{Level: "info", Encoding: "json"}, "worker", "worker_0")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	_ = l.Sync()
}
