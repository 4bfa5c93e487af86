package processor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/clipscore/internal/core"
	"github.com/target/clipscore/internal/domain/job"
	"github.com/target/clipscore/internal/observability/statsd"
)

func writeArtifact(t *testing.T, content string) core.ProcessRequest {
	t.Helper()
	p := filepath.Join(t.TempDir(), "job-1.mp4")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return core.ProcessRequest{JobID: "job-1", Path: p, Filename: "job-1.mp4"}
}

func retryPolicy(t *testing.T, attempts int) *job.RetryPolicy {
	t.Helper()
	p, err := job.NewRetryPolicy(attempts, job.ConstantBackoff(time.Millisecond))
	require.NoError(t, err)
	return p
}

func TestClient_ProcessSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		file, header, err := r.FormFile("video")
		if !assert.NoError(t, err) {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "fake video bytes", string(data))
		assert.Equal(t, "job-1.mp4", header.Filename)
		assert.Equal(t, "100", r.FormValue("frames_per_video"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"pred_scores":[0.9],"mean_score":0.9}`)
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, FramesPerVideo: 100})
	require.NoError(t, err)

	payload, err := c.Process(context.Background(), writeArtifact(t, "fake video bytes"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"pred_scores":[0.9],"mean_score":0.9}`, string(payload))
}

func TestClient_RemoteErrorPrefersBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "{\n  \"error\": \"No video uploaded\"\n}\n")
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, Retry: retryPolicy(t, 3)})
	require.NoError(t, err)

	_, err = c.Process(context.Background(), writeArtifact(t, "x"))
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusBadRequest, remote.StatusCode)
	assert.Equal(t, `{"error":"No video uploaded"}`, FailureMessage(err))
}

func TestClient_RemoteErrorWithoutBody(t *testing.T) {
	err := &RemoteError{StatusCode: http.StatusBadGateway}
	assert.Equal(t, "processor returned status 502", FailureMessage(err))
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if calls.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"mean_score":0.1}`)
	}))
	defer srv.Close()

	rec := &statsd.Recorder{}
	c, err := NewClient(Config{URL: srv.URL, Retry: retryPolicy(t, 3), Metrics: rec})
	require.NoError(t, err)

	payload, err := c.Process(context.Background(), writeArtifact(t, "x"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"mean_score":0.1}`, string(payload))
	assert.Equal(t, int32(3), calls.Load())

	attempts := rec.Named("processor.attempts")
	require.Len(t, attempts, 1)
	assert.InDelta(t, 3, attempts[0].Value, 0)
	assert.Equal(t, "success", attempts[0].Tags["result"])
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		calls.Add(1)
		http.Error(w, "unsupported format", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, Retry: retryPolicy(t, 3)})
	require.NoError(t, err)

	_, err = c.Process(context.Background(), writeArtifact(t, "x"))
	require.Error(t, err)
	assert.Equal(t, "unsupported format", FailureMessage(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(Config{URL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.Process(context.Background(), writeArtifact(t, "x"))
	require.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsTransient(err))
}

func TestClient_InvalidJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = io.WriteString(w, "<html>ok</html>")
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL})
	require.NoError(t, err)

	_, err = c.Process(context.Background(), writeArtifact(t, "x"))
	require.ErrorIs(t, err, ErrInvalidResponse)
	assert.False(t, IsTransient(err))
}

func TestClient_MissingArtifact(t *testing.T) {
	c, err := NewClient(Config{URL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = c.Process(context.Background(), core.ProcessRequest{JobID: "j", Path: "/nonexistent/file.mp4"})
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, IsTransient(err))
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultURL, c.url)
	assert.Equal(t, defaultTimeout, c.timeout)
	assert.Equal(t, "video", c.fieldName)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"429", &RemoteError{StatusCode: http.StatusTooManyRequests}, true},
		{"500", &RemoteError{StatusCode: http.StatusInternalServerError}, true},
		{"404", &RemoteError{StatusCode: http.StatusNotFound}, false},
		{"timeout", ErrTimeout, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
