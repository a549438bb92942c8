package cmd

import (
	"fmt"

	"github.com/Iron-Ham/convoy/internal/conductor"
	"github.com/Iron-Ham/convoy/internal/config"
	"github.com/Iron-Ham/convoy/internal/event"
	"github.com/Iron-Ham/convoy/internal/logging"
	"github.com/Iron-Ham/convoy/internal/process"
	"github.com/Iron-Ham/convoy/internal/remote"
)

// runtime bundles what every command needs: the loaded configuration, the
// logger, the event bus and a running supervisor.
type runtime struct {
	cfg    *config.Config
	logger *logging.Logger
	events *event.Bus
	sup    *conductor.Supervisor
}

func newRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	sup, err := conductor.New(conductor.Config{
		ReadChunkSize: cfg.Process.ReadChunkSize,
		Logger:        logger,
	})
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("failed to start supervisor: %w", err)
	}

	return &runtime{
		cfg:    cfg,
		logger: logger,
		events: event.NewBus(logger),
		sup:    sup,
	}, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NewLogger(logging.Options{Level: logging.LevelWarn})
	}
	logger, err := logging.NewLogger(logging.Options{
		Dir:   cfg.Logging.LogDir(),
		Level: cfg.Logging.Level,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	return logger, nil
}

// processOptions returns the configured per-process defaults.
func (r *runtime) processOptions() process.Options {
	return process.Options{
		KillTimeout:      r.cfg.Process.KillTimeout,
		CompactThreshold: r.cfg.Process.CompactOutputThreshold,
		Logger:           r.logger,
		Events:           r.events,
	}
}

func (r *runtime) connection() remote.Params {
	return remote.FromConfig(r.cfg.Connection)
}

func (r *runtime) Close() error {
	err := r.sup.Close()
	if cerr := r.logger.Close(); err == nil {
		err = cerr
	}
	return err
}
