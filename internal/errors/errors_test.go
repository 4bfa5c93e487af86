package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "error without cause",
			err:  &AppError{Code: ErrCodeNotFound, Message: "job not found"},
			want: "job not found",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeInternal,
				Message: "failed to create job",
				Cause:   errors.New("underlying error"),
			},
			want: "failed to create job: underlying error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrapf(cause, ErrCodeInternal, "save %s", "a.mp4")

	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is(Wrapf(...), cause) = false")
	}
	if err.Message != "save a.mp4" {
		t.Errorf("Message = %q", err.Message)
	}
	if Wrap(nil, ErrCodeInternal, "x") != nil {
		t.Errorf("Wrap(nil) should be nil")
	}
}

func TestPredicatesThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("service: %w", NotFoundf("job %s not found", "abc"))
	if !IsNotFound(wrapped) {
		t.Errorf("IsNotFound should see through fmt wrapping")
	}
	if IsConflict(wrapped) || IsValidation(wrapped) || IsInternal(wrapped) || IsTimeout(wrapped) {
		t.Errorf("unexpected predicate match for %v", wrapped)
	}
	if got := GetCode(errors.New("plain")); got != "" {
		t.Errorf("GetCode(plain) = %q, want empty", got)
	}
	if got := GetField(ValidationField("video", "No video file uploaded")); got != "video" {
		t.Errorf("GetField = %q, want video", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NotFound("x"), http.StatusNotFound},
		{Conflict("x"), http.StatusConflict},
		{Validation("x"), http.StatusBadRequest},
		{Unavailable("x"), http.StatusServiceUnavailable},
		{Internal("x"), http.StatusInternalServerError},
		{&AppError{Code: ErrCodeTimeout}, http.StatusGatewayTimeout},
		{&AppError{Code: ErrCodeCanceled}, 499},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
