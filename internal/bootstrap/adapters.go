package bootstrap

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/target/clipscore/config"
	"github.com/target/clipscore/internal/adapters/jobrunner"
	"github.com/target/clipscore/internal/adapters/reaper"
	"github.com/target/clipscore/internal/core"
	"github.com/target/clipscore/internal/observability/statsd"
)

// WorkerConfig contains configuration for the job worker pool.
type WorkerConfig struct {
	Queue   core.JobQueue
	Runner  jobrunner.JobRunner
	Config  config.WorkerConfig
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// RunWorker runs the worker pool until ctx is cancelled.
func RunWorker(ctx context.Context, cfg WorkerConfig) error {
	runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
		Queue:       cfg.Queue,
		Runner:      cfg.Runner,
		Logger:      cfg.Logger,
		Concurrency: cfg.Config.Concurrency,
		JobTimeout:  cfg.Config.JobTimeout,
		PollWait:    cfg.Config.PollWait,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return err
	}
	return runner.Run(ctx)
}

// ReaperConfig contains configuration for the reaper service.
type ReaperConfig struct {
	DB      *sql.DB
	Queue   core.JobQueue
	Logger  *slog.Logger
	Config  config.ReaperConfig
	Metrics statsd.Sink
}

// RunReaper runs the recovery sweep until ctx is cancelled.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:      cfg.DB,
		Queue:   cfg.Queue,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return err
	}
	return runner.Run(ctx)
}
