// Package logsink builds the process logger from the log configuration.
package logsink

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/likelystudying/camera-framework/internal/capture"
	"github.com/likelystudying/camera-framework/internal/config"
)

// Sink is a configured logger plus whatever must be flushed on exit.
type Sink struct {
	// Logger is handed to the controller and every component.
	Logger capture.Logger
	// Slog is set when the slog backend is selected.
	Slog *slog.Logger

	closers []func() error
}

// New builds the logger described by cfg. Output goes to stderr unless
// cfg.File is set, in which case it rotates through lumberjack.
func New(cfg config.LogConfig) (*Sink, error) {
	return newSink(cfg, os.Stderr)
}

func newSink(cfg config.LogConfig, stderr io.Writer) (*Sink, error) {
	s := &Sink{}
	var out io.Writer = stderr
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		out = rotator
		s.closers = append(s.closers, rotator.Close)
	}

	switch cfg.Backend {
	case "", "slog":
		level, err := slogLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		opts := &slog.HandlerOptions{Level: level}
		var h slog.Handler
		if cfg.Format == "json" {
			h = slog.NewJSONHandler(out, opts)
		} else {
			h = slog.NewTextHandler(out, opts)
		}
		s.Slog = slog.New(h)
		s.Logger = s.Slog

	case "zap":
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("logsink: %w", err)
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		var enc zapcore.Encoder
		if cfg.Format == "json" {
			enc = zapcore.NewJSONEncoder(encCfg)
		} else {
			enc = zapcore.NewConsoleEncoder(encCfg)
		}
		core := zapcore.NewCore(enc, zapcore.AddSync(out), level)
		sugar := zap.New(core).Sugar()
		s.Logger = Zap(sugar)
		// Sync on a terminal reports EINVAL on Linux; nothing is lost.
		s.closers = append([]func() error{func() error { _ = sugar.Sync(); return nil }}, s.closers...)

	default:
		return nil, fmt.Errorf("logsink: unknown backend %q", cfg.Backend)
	}
	return s, nil
}

// Close flushes and releases the log file.
func (s *Sink) Close() error {
	var err error
	for _, c := range s.closers {
		err = multierr.Append(err, c())
	}
	s.closers = nil
	return err
}

func slogLevel(name string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("logsink: %w", err)
	}
	return l, nil
}

// zapLogger adapts a SugaredLogger to the key/value Logger interface.
type zapLogger struct {
	s *zap.SugaredLogger
}

// Zap wraps s so it can be passed wherever a Logger is accepted.
func Zap(s *zap.SugaredLogger) capture.Logger {
	return zapLogger{s: s}
}

func (z zapLogger) Debug(msg string, args ...any) { z.s.Debugw(msg, args...) }
func (z zapLogger) Info(msg string, args ...any)  { z.s.Infow(msg, args...) }
func (z zapLogger) Warn(msg string, args ...any)  { z.s.Warnw(msg, args...) }
func (z zapLogger) Error(msg string, args ...any) { z.s.Errorw(msg, args...) }
