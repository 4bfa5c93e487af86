package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/clipscore/internal/bootstrap"
)

type infra struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

func (in *infra) Close() error {
	var closeErr error
	if in.DB != nil {
		if err := in.DB.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close db: %w", err))
		}
	}
	if in.Redis != nil {
		if err := in.Redis.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	return closeErr
}

// withInfra connects Postgres, plus Redis when wantRedis is set or the configuration
// requires it, and runs f under a signal-aware timeout.
func withInfra(
	cmdCtx *commandContext,
	timeout time.Duration,
	wantRedis bool,
	f func(context.Context, *infra) error,
) error {
	ctx, cancel := withSignals(cmdCtx.Ctx, timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	in := &infra{DB: db}
	defer func() {
		if cerr := in.Close(); cerr != nil {
			cmdCtx.Logger.Warn("close infrastructure failed", "error", cerr)
		}
	}()

	if wantRedis || cmdCtx.Config.NeedsRedis() {
		client, rerr := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
			RedisConfig: cmdCtx.Config.Redis,
			Logger:      cmdCtx.Logger,
		})
		if rerr != nil {
			return fmt.Errorf("connect redis: %w", rerr)
		}
		in.Redis = client
	}

	return f(ctx, in)
}
