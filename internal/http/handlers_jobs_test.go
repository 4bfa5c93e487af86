package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/clipscore/internal/domain/model"
	"github.com/target/clipscore/internal/mocks"
	"github.com/target/clipscore/internal/mocks/memory"
	"github.com/target/clipscore/internal/service"
	"go.uber.org/mock/gomock"
)

type apiFixture struct {
	store     *memory.JobStore
	artifacts *memory.ArtifactStore
	queue     *memory.Queue
	handler   http.Handler
}

func newAPIFixture(t *testing.T, maxUpload int64) *apiFixture {
	t.Helper()
	f := &apiFixture{
		store:     memory.NewJobStore(),
		artifacts: memory.NewArtifactStore(),
		queue:     memory.NewQueue(16),
	}
	svc := service.MustNewJobService(service.JobServiceOptions{
		Repo:      f.store,
		Artifacts: f.artifacts,
		Queue:     f.queue,
	})
	f.handler = NewRouter(RouterServices{Jobs: svc, MaxUploadBytes: maxUpload})
	return f
}

func (f *apiFixture) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	body, ct := multipartBody(t, field, filename, content)
	r := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	r.Header.Set("Content-Type", ct)
	return r
}

func decodeError(t *testing.T, body io.Reader) map[string]string {
	t.Helper()
	var got map[string]string
	require.NoError(t, json.NewDecoder(body).Decode(&got))
	return got
}

func TestUpload_Success(t *testing.T) {
	f := newAPIFixture(t, 0)
	r := uploadRequest(t, "video", "clip.MP4", []byte("frames"))
	r.Header.Set(OwnerHeader, "alice")

	w := f.do(r)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	jobID := resp["jobId"]
	require.NotEmpty(t, jobID)

	job, err := f.store.GetByID(r.Context(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "alice", job.OwnerID)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, jobID+".mp4", job.InputRef)
	assert.Equal(t, []byte("frames"), f.artifacts.Content(job.InputRef))
	assert.Equal(t, 1, f.queue.Pending())
}

func TestUpload_DefaultsToGuestOwner(t *testing.T) {
	f := newAPIFixture(t, 0)
	w := f.do(uploadRequest(t, "video", "clip.webm", []byte("x")))
	require.Equal(t, http.StatusOK, w.Code)

	jobs, err := f.store.ListByOwner(t.Context(), model.JobListByOwnerOptions{OwnerID: model.GuestOwnerID, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestUpload_MissingVideo(t *testing.T) {
	tests := []struct {
		name string
		req  func(t *testing.T) *http.Request
	}{
		{
			name: "no file part",
			req:  func(t *testing.T) *http.Request { return uploadRequest(t, "", "", nil) },
		},
		{
			name: "wrong field name",
			req:  func(t *testing.T) *http.Request { return uploadRequest(t, "file", "clip.mp4", []byte("x")) },
		},
		{
			name: "not multipart",
			req: func(*testing.T) *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(`{}`))
				r.Header.Set("Content-Type", "application/json")
				return r
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, 0)
			w := f.do(tt.req(t))

			require.Equal(t, http.StatusBadRequest, w.Code)
			got := decodeError(t, w.Body)
			assert.Equal(t, "missing_video", got["error"])
			assert.Equal(t, "No video file provided", got["message"])
			assert.Equal(t, 0, f.store.Len())
			assert.Equal(t, 0, f.queue.Pending())
		})
	}
}

func TestUpload_CreateFailureRemovesArtifact(t *testing.T) {
	f := newAPIFixture(t, 0)
	f.store.CreateErr = errors.New("db down")

	w := f.do(uploadRequest(t, "video", "clip.mp4", []byte("x")))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	got := decodeError(t, w.Body)
	assert.Equal(t, "create_failed", got["error"])
	assert.Equal(t, "Failed to create job", got["message"])
	assert.Len(t, f.artifacts.Removed(), 1)
	assert.Equal(t, 0, f.queue.Pending())
}

func TestUpload_EnqueueFailureStillSucceeds(t *testing.T) {
	f := newAPIFixture(t, 0)
	f.queue.EnqueueErr = errors.New("queue unavailable")

	w := f.do(uploadRequest(t, "video", "clip.mp4", []byte("x")))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.store.Len())
}

func TestUpload_TooLarge(t *testing.T) {
	f := newAPIFixture(t, 1024)
	w := f.do(uploadRequest(t, "video", "clip.mp4", bytes.Repeat([]byte("a"), 4096)))

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "upload_too_large", decodeError(t, w.Body)["error"])
	assert.Equal(t, 0, f.store.Len())
}

func TestGetJob(t *testing.T) {
	f := newAPIFixture(t, 0)
	job, err := f.store.Create(t.Context(), &model.CreateJobRequest{OwnerID: "bob", InputRef: "a.mp4"})
	require.NoError(t, err)

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got model.Job
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, model.JobStatusPending, got.Status)
}

func TestGetJob_NotFound(t *testing.T) {
	f := newAPIFixture(t, 0)
	w := f.do(httptest.NewRequest(http.MethodGet, "/api/jobs/does-not-exist", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "job_not_found", decodeError(t, w.Body)["error"])
}

func TestGetJob_StoreErrorIs500(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	repo.EXPECT().GetByID(gomock.Any(), "job-1").Return(nil, errors.New("connection reset"))

	svc := service.MustNewJobService(service.JobServiceOptions{
		Repo:      repo,
		Artifacts: memory.NewArtifactStore(),
		Queue:     memory.NewQueue(1),
	})
	h := NewRouter(RouterServices{Jobs: svc})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/jobs/job-1", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	got := decodeError(t, w.Body)
	assert.Equal(t, "get_job_failed", got["error"])
	assert.NotContains(t, got["message"], "connection reset")
}

func TestListJobs_NewestFirstByOwner(t *testing.T) {
	f := newAPIFixture(t, 0)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	f.store.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	var ids []string
	for range 3 {
		job, err := f.store.Create(t.Context(), &model.CreateJobRequest{OwnerID: "carol", InputRef: "x.mp4"})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	_, err := f.store.Create(t.Context(), &model.CreateJobRequest{OwnerID: "dave", InputRef: "y.mp4"})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/jobs?limit=2", nil)
	r.Header.Set(OwnerHeader, "carol")
	w := f.do(r)
	require.Equal(t, http.StatusOK, w.Code)

	var got []model.Job
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, ids[2], got[0].ID)
	assert.Equal(t, ids[1], got[1].ID)

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/jobs?owner=dave", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "dave", got[0].OwnerID)
}

func TestListJobs_EmptyIsArray(t *testing.T) {
	f := newAPIFixture(t, 0)
	w := f.do(httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestStats(t *testing.T) {
	f := newAPIFixture(t, 0)
	for range 2 {
		_, err := f.store.Create(t.Context(), &model.CreateJobRequest{OwnerID: "guest", InputRef: "x.mp4"})
		require.NoError(t, err)
	}

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/jobs/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got model.JobStats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, model.JobStats{Pending: 2}, got)
}

func TestRecoverMiddleware(t *testing.T) {
	h := Recover(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
