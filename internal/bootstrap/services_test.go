package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/clipscore/config"
	redisadapter "github.com/target/clipscore/internal/adapters/redis"
	"github.com/target/clipscore/internal/data"
	httpx "github.com/target/clipscore/internal/http"
	"github.com/target/clipscore/internal/observability/statsd"
)

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 0,
		},
		{
			name:  "http only",
			modes: []config.ServiceMode{config.ServiceModeHTTP},
			want:  1,
		},
		{
			name:  "worker and reaper",
			modes: []config.ServiceMode{config.ServiceModeWorker, config.ServiceModeReaper},
			want:  2,
		},
		{
			name:  "all services enabled",
			modes: config.ValidServiceModes(),
			want:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelCapacity(enabled); got != tt.want {
				t.Fatalf("errorChannelCapacity(%v) = %d, want %d", tt.modes, got, tt.want)
			}
			if got := errorChannelBufferSize(enabled); got != tt.want+1 {
				t.Fatalf("errorChannelBufferSize(%v) = %d, want %d", tt.modes, got, tt.want+1)
			}
		})
	}
}

func TestGetEnabledServicesStableOrder(t *testing.T) {
	cfg := &config.AppConfig{Services: "reaper, http,worker"}
	assert.Equal(t, []string{"http", "worker", "reaper"}, GetEnabledServices(cfg))

	cfg.Services = "bogus"
	assert.Empty(t, GetEnabledServices(cfg))
	assert.Empty(t, GetEnabledServices(nil))
}

func TestValidateServiceConfig(t *testing.T) {
	require.Error(t, ValidateServiceConfig(nil))
	require.Error(t, ValidateServiceConfig(&config.AppConfig{Services: ""}))
	require.Error(t, ValidateServiceConfig(&config.AppConfig{Services: "scheduler"}))

	cfg := &config.AppConfig{Services: "worker", Queue: config.QueueConfig{Backend: config.QueueBackendRedis}}
	require.EqualError(t, ValidateServiceConfig(cfg), "redis queue backend requires a redis address")

	cfg.Redis.URI = "localhost:6379"
	require.NoError(t, ValidateServiceConfig(cfg))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLogLevel("debug").String())
	assert.Equal(t, "WARN", parseLogLevel("warn").String())
	assert.Equal(t, "INFO", parseLogLevel("nonsense").String())
}

func TestBuildObservabilityDisabledUsesNop(t *testing.T) {
	obs := buildObservability(nil, config.ObservabilityConfig{})
	assert.IsType(t, statsd.Nop{}, obs.MetricsSink)
	assert.Nil(t, obs.MetricsClient)
}

func TestNewJobQueueSelectsBackend(t *testing.T) {
	repo := data.NewJobRepo(nil, data.RepoConfig{})

	cfg := &config.AppConfig{Queue: config.QueueConfig{Backend: config.QueueBackendPostgres}}
	q, pg, err := NewJobQueue(cfg, repo, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, pg)
	assert.Same(t, pg, q)
	pg.Close()

	cfg.Queue.Backend = config.QueueBackendRedis
	_, _, err = NewJobQueue(cfg, repo, nil, nil)
	require.Error(t, err)
}

func TestNewServicesWiresContainer(t *testing.T) {
	cfg := &config.AppConfig{Services: "http,worker,reaper"}
	cfg.HTTP.UploadsDir = t.TempDir()
	cfg.Sanitize()

	svc, err := NewServices(&ServiceDeps{
		Config: cfg,
		DB:     nil,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	assert.NotNil(t, svc.Jobs)
	assert.NotNil(t, svc.Runner)
	assert.NotNil(t, svc.Queue)
	assert.NotNil(t, svc.Hub)
	assert.Nil(t, svc.EventBus)
	assert.Empty(t, svc.Readiness)
}

func TestReadinessChecksFollowDependencies(t *testing.T) {
	assert.Empty(t, readinessChecks(nil, nil))

	checks := readinessChecks(nil, newUnreachableRedis(t))
	require.Contains(t, checks, "redis")
	assert.NotContains(t, checks, "postgres")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.Error(t, checks["redis"](ctx))
}

func TestBuildBackgroundServicesIncludesRelayOnlyWithBus(t *testing.T) {
	deps := &serviceStartupDeps{
		ctx:    context.Background(),
		cfg:    &ServiceOrchestrationConfig{Config: &config.AppConfig{}},
		logger: nil,
	}
	assert.Len(t, buildBackgroundServices(deps), 2)

	bus, err := redisadapter.NewJobEventBus(newUnreachableRedis(t), nil)
	require.NoError(t, err)
	deps.cfg.Services.EventBus = bus
	deps.cfg.Services.Hub = nil
	assert.Len(t, buildBackgroundServices(deps), 2)

	deps.cfg.Services.Hub = httpx.NewEventHub(nil)
	services := buildBackgroundServices(deps)
	require.Len(t, services, 3)
	assert.Equal(t, config.ServiceModeHTTP, services[2].mode)
}

func TestWaitForServiceReturnsWhenDone(t *testing.T) {
	done := make(chan struct{})
	close(done)

	start := time.Now()
	waitForService(done, "test", discardLogger())
	assert.Less(t, time.Since(start), time.Second)
}
