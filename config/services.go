package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the submission and status API.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker runs the job worker pool.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs the recovery sweep.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeWorker, ServiceModeReaper}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if strings.TrimSpace(servicesStr) == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeWorker, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: http, worker, reaper)", serviceName)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}
	return services, nil
}

// WorkerConfig contains job worker pool configuration.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"4"`

	// JobTimeout bounds one Run, covering every processor attempt and its backoff.
	JobTimeout time.Duration `env:"WORKER_JOB_TIMEOUT" envDefault:"20m"`

	// PollWait is how long a worker blocks waiting for a dispatch before re-polling.
	PollWait time.Duration `env:"WORKER_POLL_WAIT" envDefault:"30s"`

	// Lease is how long a claim stays valid without a heartbeat. Runners renew it every
	// Lease/3 while a job is in flight.
	Lease time.Duration `env:"WORKER_LEASE" envDefault:"2m"`
}

// minWorkerLease keeps the heartbeat interval above a second.
const minWorkerLease = 3 * time.Second

// HeartbeatInterval is how often a runner renews its claim.
func (w *WorkerConfig) HeartbeatInterval() time.Duration {
	return w.Lease / 3
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.JobTimeout < time.Second {
		w.JobTimeout = time.Second
	}
	if w.PollWait < 100*time.Millisecond {
		w.PollWait = 100 * time.Millisecond
	}
	if w.Lease < minWorkerLease {
		w.Lease = minWorkerLease
	}
}

// QueueBackend names a JobQueue implementation.
type QueueBackend string

const (
	// QueueBackendPostgres uses the jobs table and LISTEN/NOTIFY.
	QueueBackendPostgres QueueBackend = "postgres"
	// QueueBackendRedis uses Redis lists with an in-flight list for recovery.
	QueueBackendRedis QueueBackend = "redis"
)

// QueueConfig selects the durable dispatch queue.
type QueueConfig struct {
	Backend QueueBackend `env:"QUEUE_BACKEND" envDefault:"postgres"`
	// Name namespaces the Redis list keys.
	Name string `env:"QUEUE_NAME" envDefault:"jobs"`
}

// Sanitize applies guardrails to queue configuration values.
func (q *QueueConfig) Sanitize() {
	q.Backend = QueueBackend(strings.ToLower(strings.TrimSpace(string(q.Backend))))
	if q.Backend != QueueBackendRedis {
		q.Backend = QueueBackendPostgres
	}
	if q.Name = strings.TrimSpace(q.Name); q.Name == "" {
		q.Name = "jobs"
	}
}

// ReaperConfig contains recovery sweep configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`

	// LeaseGrace is how long past its lease expiry a PROCESSING job is left alone before
	// it is considered abandoned by a crashed runner. It absorbs clock skew between hosts.
	LeaseGrace time.Duration `env:"REAPER_LEASE_GRACE" envDefault:"30s"`

	// MaxRecoveries bounds how many times an abandoned job is returned to PENDING
	// before it is finalized FAILED.
	MaxRecoveries int `env:"REAPER_MAX_RECOVERIES" envDefault:"3"`

	// PendingResurfaceAge is how long a job may stay PENDING before it is re-enqueued.
	PendingResurfaceAge time.Duration `env:"REAPER_PENDING_RESURFACE_AGE" envDefault:"2m"`

	// BatchSize is the maximum number of rows to process per operation.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"500"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < 5*time.Second {
		r.Interval = 5 * time.Second
	}
	if r.LeaseGrace < 0 {
		r.LeaseGrace = 0
	}
	if r.MaxRecoveries < 0 {
		r.MaxRecoveries = 0
	}
	if r.PendingResurfaceAge < 10*time.Second {
		r.PendingResurfaceAge = 10 * time.Second
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
