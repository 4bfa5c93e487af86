package httpx

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/target/clipscore/internal/service"
)

// UploadField is the multipart field carrying the video.
const UploadField = "video"

// Upload handles POST /api/upload. The video part is streamed straight into the
// artifact store; the response carries the new job id.
func (h *JobHandlers) Upload(w http.ResponseWriter, r *http.Request) {
	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}

	part, err := videoPart(r)
	if err != nil {
		if isTooLarge(err) {
			writeTooLarge(w)
			return
		}
		h.logger().DebugContext(r.Context(), "upload without video part", "error", err)
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "missing_video", Err: service.ErrNoArtifact})
		return
	}
	defer part.Close()

	job, err := h.Svc.Submit(r.Context(), service.SubmitRequest{
		OwnerID:  ownerFromRequest(r),
		Filename: part.FileName(),
		Body:     part,
	})
	if err != nil {
		if isTooLarge(err) {
			writeTooLarge(w)
			return
		}
		h.logger().ErrorContext(r.Context(), "submit upload failed", "error", err)
		writeServiceError(w, "create_failed", err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"jobId": job.ID})
}

// videoPart advances the multipart stream to the first file part named UploadField.
func videoPart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errors.New("no video part")
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == UploadField && part.FileName() != "" {
			return part, nil
		}
		_ = part.Close()
	}
}

func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge)
}

func writeTooLarge(w http.ResponseWriter) {
	WriteError(w, ErrorParams{
		Code:    http.StatusRequestEntityTooLarge,
		ErrCode: "upload_too_large",
		Err:     errors.New("video exceeds the upload size limit"),
	})
}
