package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/MrWong99/fishtank/internal/coach"
	"github.com/MrWong99/fishtank/pkg/provider/stt"
)

// handleCoach handles POST /api/coach/analyses with a multipart "audio"
// file.
func (s *Server) handleCoach(w http.ResponseWriter, r *http.Request) {
	if s.coach == nil {
		writeError(w, http.StatusServiceUnavailable, "voice coach is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "recording too large")
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form with an audio file")
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, hdr, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeFailure(w, r, "coach", err)
		return
	}

	res, err := s.coach.Analyze(r.Context(), coach.Upload{
		Audio:       data,
		ContentType: hdr.Header.Get("Content-Type"),
		Filename:    hdr.Filename,
	})
	if err != nil {
		if errors.Is(err, stt.ErrEmptyAudio) {
			writeError(w, http.StatusBadRequest, "audio file is empty")
			return
		}
		writeFailure(w, r, "coach", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
