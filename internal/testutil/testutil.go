package testutil

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"sync"
	"time"
)

// getEnvOrDefault returns environment variable value or default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envBool parses common truthy values from env vars.
func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

func requireDB() bool    { return envBool("TEST_REQUIRE_DB") || envBool("TEST_REQUIRE_INFRA") }
func requireRedis() bool { return envBool("TEST_REQUIRE_REDIS") || envBool("TEST_REQUIRE_INFRA") }

// TestTime returns a fixed time for testing.
func TestTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

// JobStateInfo is a compact view of a job row for debugging.
type JobStateInfo struct {
	ID            string
	OwnerID       string
	Status        string
	RecoveryCount int
	Error         *string
	ClaimedAt     *time.Time
}

// InspectJobStates returns every job in creation order.
func InspectJobStates(t TestingTB, db *sql.DB) []JobStateInfo {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := db.QueryContext(ctx, `
		SELECT id::text, owner_id, status, recovery_count, error, claimed_at
		FROM jobs
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		t.Fatalf("Failed to query job states: %v", err)
	}
	defer func() {
		if rerr := rows.Close(); rerr != nil {
			t.Logf("warning: failed to close job state rows: %v", rerr)
		}
	}()

	var jobs []JobStateInfo
	for rows.Next() {
		var job JobStateInfo
		if scanErr := rows.Scan(
			&job.ID,
			&job.OwnerID,
			&job.Status,
			&job.RecoveryCount,
			&job.Error,
			&job.ClaimedAt,
		); scanErr != nil {
			t.Fatalf("Failed to scan job state: %v", scanErr)
		}
		jobs = append(jobs, job)
	}
	if iterErr := rows.Err(); iterErr != nil {
		t.Fatalf("Error iterating over rows: %v", iterErr)
	}
	return jobs
}

// LogJobStates logs the current state of all jobs.
func LogJobStates(t TestingTB, db *sql.DB, message string) {
	t.Helper()

	t.Logf("=== %s ===", message)
	for i, job := range InspectJobStates(t, db) {
		t.Logf("Job %d: ID=%s, Owner=%s, Status=%s, Recoveries=%d, Error=%v",
			i+1, job.ID[:8], job.OwnerID, job.Status, job.RecoveryCount, job.Error)
	}
	t.Logf("=== End %s ===", message)
}

// RunConcurrent runs fns at the same time, releasing them together, and returns
// their errors in argument order.
func RunConcurrent(fns ...func() error) []error {
	start := make(chan struct{})
	errs := make([]error, len(fns))
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = fn()
		}()
	}
	close(start)
	wg.Wait()
	return errs
}

// Common pointer helper functions for tests.

// StringPtr returns a pointer to the given string value.
func StringPtr(s string) *string {
	return &s
}

// TimePtr returns a pointer to the given time value.
func TimePtr(t time.Time) *time.Time {
	return &t
}
