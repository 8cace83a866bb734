package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nixlim/evalstats/internal/analytics"
	"github.com/nixlim/evalstats/internal/config"
	"github.com/nixlim/evalstats/internal/storage"
)

// app holds what every subcommand shares: parsed flags, the loaded
// configuration and the logger.
type app struct {
	configPath string
	format     string
	orgID      string

	cfg    config.Config
	logger *zap.Logger
	out    io.Writer
	errOut io.Writer

	registry *prometheus.Registry
}

func (a *app) loadConfig() error {
	var (
		res *config.LoadResult
		err error
	)
	if a.configPath != "" {
		res, err = config.LoadFrom(a.configPath)
	} else {
		res, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(a.errOut, "evalstats: config warning: %s\n", w)
	}
	a.cfg = res.Config

	switch a.format {
	case formatJSON, formatTable:
	default:
		return fmt.Errorf("unknown output format %q (want json or table)", a.format)
	}

	logger, err := newLogger(a.cfg.Log)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	zapCfg.OutputPaths = []string{"stderr"}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// openStore opens the configured store. Callers close it.
func (a *app) openStore() (*storage.DB, error) {
	db, err := storage.Open(a.cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage error: %w", err)
	}
	return db, nil
}

func (a *app) newService(db *storage.DB) (*analytics.Service, error) {
	opts := []analytics.Option{
		analytics.WithLogger(a.logger),
		analytics.WithWorkers(a.cfg.Stats.Workers),
		analytics.WithDefaultTop(a.cfg.Stats.DefaultTop),
		analytics.WithDefaultMonths(a.cfg.Stats.DefaultMonths),
	}
	if a.cfg.Stats.Instrument {
		a.registry = prometheus.NewRegistry()
		timer, err := analytics.NewPromTimer(a.registry, a.logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, analytics.WithTimer(timer))
	}
	return analytics.New(db, opts...), nil
}

// withService opens the store, runs fn and reports step timings when
// instrumentation is on.
func (a *app) withService(fn func(*analytics.Service) (any, error)) error {
	db, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	svc, err := a.newService(db)
	if err != nil {
		return err
	}
	result, err := fn(svc)
	if err != nil {
		return err
	}
	if err := render(a.out, a.format, result); err != nil {
		return err
	}
	if a.registry != nil {
		return renderTimings(a.errOut, a.registry)
	}
	return nil
}
