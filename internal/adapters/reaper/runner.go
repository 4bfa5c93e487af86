// Package reaper provides adapters for running the job recovery sweep.
package reaper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/clipscore/config"
	"github.com/target/clipscore/internal/core"
	"github.com/target/clipscore/internal/data"
	"github.com/target/clipscore/internal/observability/statsd"
	"github.com/target/clipscore/internal/service"
)

// Runner wires the reaper service and runs its sweep loop.
type Runner struct {
	reaper *service.ReaperService
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB     *sql.DB
	Queue  core.JobQueue
	Config config.ReaperConfig
	Logger *slog.Logger

	// Repo overrides the Postgres-backed repository built from DB.
	Repo    core.ReaperRepository
	Metrics statsd.Sink
}

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	repo := opts.Repo
	if repo == nil {
		repo = data.NewJobRepo(opts.DB, data.RepoConfig{})
	}

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:    repo,
		Queue:   opts.Queue,
		Config:  opts.Config,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}

	return &Runner{reaper: reaper, logger: opts.Logger}, nil
}

func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil && opts.Repo == nil {
		return errors.New("database connection is required")
	}
	if opts.Queue == nil {
		return errors.New("job queue is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// Run starts the reaper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.reaper.Run(ctx)
}
