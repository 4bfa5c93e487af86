package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/target/clipscore/config"
	redisadapter "github.com/target/clipscore/internal/adapters/redis"
	"github.com/target/clipscore/internal/bootstrap"
	"github.com/target/clipscore/internal/data"
	"github.com/target/clipscore/internal/domain/model"
	"github.com/target/clipscore/internal/service"
)

func runJobStats(cmdCtx *commandContext, _ []string) error {
	return withInfra(cmdCtx, defaultCommandTimeout, false, func(ctx context.Context, in *infra) error {
		stats, err := data.NewJobRepo(in.DB, data.RepoConfig{Logger: cmdCtx.Logger}).Stats(ctx)
		if err != nil {
			return err
		}
		return printJobStats(cmdCtx.Out, stats)
	})
}

func printJobStats(w io.Writer, stats *model.JobStats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := []struct {
		status model.JobStatus
		count  int
	}{
		{model.JobStatusPending, stats.Pending},
		{model.JobStatusProcessing, stats.Processing},
		{model.JobStatusCompleted, stats.Completed},
		{model.JobStatusFailed, stats.Failed},
	}
	if _, err := fmt.Fprintln(tw, "STATUS\tCOUNT"); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(tw, "%s\t%d\n", r.status, r.count); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func runJobShow(cmdCtx *commandContext, args []string) error {
	id, err := parseJobIDArg("job-show", args)
	if err != nil {
		return err
	}
	return withInfra(cmdCtx, defaultCommandTimeout, false, func(ctx context.Context, in *infra) error {
		job, err := data.NewJobRepo(in.DB, data.RepoConfig{Logger: cmdCtx.Logger}).GetByID(ctx, id)
		if err != nil {
			return err
		}
		return printJob(cmdCtx.Out, job)
	})
}

func printJob(w io.Writer, job *model.Job) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(job)
}

func runJobRequeue(cmdCtx *commandContext, args []string) error {
	id, err := parseJobIDArg("job-requeue", args)
	if err != nil {
		return err
	}
	return withInfra(cmdCtx, defaultCommandTimeout, usesRedisQueue(cmdCtx), func(ctx context.Context, in *infra) error {
		repo := data.NewJobRepo(in.DB, data.RepoConfig{Logger: cmdCtx.Logger})
		job, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if job.Status != model.JobStatusPending {
			return fmt.Errorf("job %s is %s; only PENDING jobs can be re-dispatched", id, job.Status)
		}

		queue, pgQueue, err := bootstrap.NewJobQueue(&cmdCtx.Config, repo, in.Redis, cmdCtx.Logger)
		if err != nil {
			return err
		}
		if pgQueue != nil {
			defer pgQueue.Close()
		}
		if err := queue.Enqueue(ctx, id); err != nil {
			return fmt.Errorf("enqueue %s: %w", id, err)
		}
		return writef(cmdCtx.Out, "re-dispatched %s via %s queue\n", id, cmdCtx.Config.Queue.Backend)
	})
}

func runSweep(cmdCtx *commandContext, _ []string) error {
	return withInfra(cmdCtx, 5*time.Minute, usesRedisQueue(cmdCtx), func(ctx context.Context, in *infra) error {
		repo := data.NewJobRepo(in.DB, data.RepoConfig{Logger: cmdCtx.Logger})
		queue, pgQueue, err := bootstrap.NewJobQueue(&cmdCtx.Config, repo, in.Redis, cmdCtx.Logger)
		if err != nil {
			return err
		}
		if pgQueue != nil {
			defer pgQueue.Close()
		}

		reaper, err := service.NewReaperService(service.ReaperServiceOptions{
			Repo:   repo,
			Queue:  queue,
			Config: cmdCtx.Config.Reaper,
			Logger: cmdCtx.Logger,
		})
		if err != nil {
			return err
		}
		if err := reaper.Sweep(ctx); err != nil {
			return err
		}
		return writef(cmdCtx.Out, "sweep completed\n")
	})
}

var errRedisQueueOnly = errors.New("queue-depth requires QUEUE_BACKEND=redis")

func usesRedisQueue(cmdCtx *commandContext) bool {
	return cmdCtx.Config.Queue.Backend == config.QueueBackendRedis
}

func runQueueDepth(cmdCtx *commandContext, _ []string) error {
	if !usesRedisQueue(cmdCtx) {
		return errRedisQueueOnly
	}
	return withInfra(cmdCtx, defaultCommandTimeout, true, func(ctx context.Context, in *infra) error {
		q, err := redisadapter.NewJobQueue(redisadapter.JobQueueOptions{
			Client: in.Redis,
			Name:   cmdCtx.Config.Queue.Name,
			Logger: cmdCtx.Logger,
		})
		if err != nil {
			return err
		}
		ready, inflight, err := q.Depth(ctx)
		if err != nil {
			return err
		}
		return writef(cmdCtx.Out, "queue %s: ready=%d inflight=%d\n", cmdCtx.Config.Queue.Name, ready, inflight)
	})
}
