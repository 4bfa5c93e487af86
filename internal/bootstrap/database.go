package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/target/clipscore/config"
	"github.com/target/clipscore/internal/migrate"
)

const (
	connectTimeout      = 5 * time.Second
	defaultMaxOpenConns = 20
)

// DatabaseConfig contains configuration for database connections.
type DatabaseConfig struct {
	DBConfig    config.DBConfig
	RedisConfig config.RedisConfig
	Logger      *slog.Logger
}

// postgresDSN renders the connection URL; url.URL escapes credentials.
func postgresDSN(cfg config.DBConfig) string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
	}
	q := u.Query()
	q.Set("sslmode", cfg.SSLMode)
	q.Set("application_name", "clipscore")
	u.RawQuery = q.Encode()
	return u.String()
}

// ConnectDB opens a pgx-backed *sql.DB and verifies it with a ping.
func ConnectDB(cfg DatabaseConfig) (*sql.DB, error) {
	connCfg, err := pgx.ParseConfig(postgresDSN(cfg.DBConfig))
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	db := stdlib.OpenDB(*connCfg)

	maxOpen := cfg.DBConfig.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(max(1, maxOpen/4))
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		if closeErr := db.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close database connection: %w", closeErr))
		}
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("database connected",
			"host", cfg.DBConfig.Host,
			"port", cfg.DBConfig.Port,
			"database", cfg.DBConfig.Name,
			"max_open_conns", maxOpen,
		)
	}

	return db, nil
}

// redisOptions maps the configured topology onto go-redis universal options.
// A redis:// or rediss:// URI in direct mode supplies credentials, TLS and DB.
func redisOptions(cfg config.RedisConfig) (*redis.UniversalOptions, error) {
	addrs := cfg.Addresses()
	opts := &redis.UniversalOptions{
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	switch {
	case cfg.UseSentinel:
		if len(addrs) == 0 {
			return nil, errors.New("redis sentinel configuration requires at least one sentinel node")
		}
		opts.Addrs = addrs
		opts.MasterName = cfg.SentinelMasterName
		opts.SentinelPassword = cfg.SentinelPassword
	case cfg.UseCluster:
		if len(addrs) == 0 {
			return nil, errors.New("redis cluster configuration requires at least one address")
		}
		opts.Addrs = addrs
		opts.IsClusterMode = true
		opts.DB = 0
	default:
		if len(addrs) == 0 {
			return nil, errors.New("redis direct configuration requires a URI")
		}
		uri := addrs[0]
		if !isRedisURL(uri) {
			opts.Addrs = []string{uri}
			break
		}
		parsed, err := redis.ParseURL(uri)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts.Addrs = []string{parsed.Addr}
		opts.Username = parsed.Username
		if parsed.Password != "" {
			opts.Password = parsed.Password
		}
		if parsed.DB != 0 {
			opts.DB = parsed.DB
		}
		opts.TLSConfig = parsed.TLSConfig
	}

	return opts, nil
}

// ConnectRedis builds a single, sentinel, or cluster client and verifies it with a ping.
//
//nolint:ireturn // the topology is chosen at runtime.
func ConnectRedis(cfg DatabaseConfig) (redis.UniversalClient, error) {
	opts, err := redisOptions(cfg.RedisConfig)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		if closeErr := client.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, fmt.Errorf("ping redis: %w", pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("redis connected",
			"addrs", strings.Join(opts.Addrs, ","),
			"sentinel", opts.MasterName != "" && cfg.RedisConfig.UseSentinel,
			"cluster", opts.IsClusterMode,
		)
	}

	return client, nil
}

func isRedisURL(value string) bool {
	return strings.HasPrefix(value, "redis://") || strings.HasPrefix(value, "rediss://")
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := migrate.RunWithLogger(ctx, db, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}

	return nil
}
