package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"harvest/internal/config"
)

// New builds the process logger. Every entry carries the component name and,
// when id is set, "<component>_id".
func New(cfg config.LogConfig, component, id string) (*zap.Logger, error) {
	return newConfig(cfg, component, id).Build()
}

func newConfig(cfg config.LogConfig, component, id string) zap.Config {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "json"
	}
	enc := zap.NewProductionEncoderConfig()
	if encoding == "console" {
		enc = zap.NewDevelopmentEncoderConfig()
	}

	fields := map[string]any{}
	if component != "" {
		fields["component"] = component
		if id != "" {
			fields[component+"_id"] = id
		}
	}

	zc := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		Encoding:          encoding,
		DisableCaller:     cfg.DisableCaller,
		DisableStacktrace: cfg.DisableStacktrace,
		EncoderConfig:     enc,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		InitialFields:     fields,
	}
	if cfg.Sampling {
		zc.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	}
	return zc
}
