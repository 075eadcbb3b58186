package logger

import (
	"io"
	"log/slog"
	"os"
)

var def *slog.Logger

// Init builds the process logger and installs it as the slog default.
func Init(cfg Config) *slog.Logger {
	def = New(cfg, os.Stdout)
	slog.SetDefault(def)
	return def
}

// New builds a logger writing to w without touching the slog default.
func New(cfg Config, w io.Writer) *slog.Logger {
	if cfg.Env == "" {
		cfg.Env = DetectEnv()
	}
	if cfg.Service == "" {
		cfg.Service = "smarttalk"
	}
	cfg.InstanceID = ensureInstanceID(cfg.InstanceID)

	if cfg.Backend == "" {
		if cfg.Env == EnvDev {
			cfg.Backend = BackendStd
		} else {
			cfg.Backend = BackendZap
		}
	}

	var h slog.Handler
	switch cfg.Backend {
	case BackendZap:
		h = newZapHandler(cfg, w)
	default:
		h = newStdHandler(cfg, w)
	}
	return slog.New(traceHandler{h.WithAttrs(commonAttr(cfg))})
}

func L() *slog.Logger {
	if def != nil {
		return def
	}
	return Init(Config{})
}
