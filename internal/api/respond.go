package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/MikeSquared-Agency/sanctuary/internal/media"
	"github.com/MikeSquared-Agency/sanctuary/internal/processor"
	"github.com/MikeSquared-Agency/sanctuary/internal/recap"
	"github.com/MikeSquared-Agency/sanctuary/internal/story"
	"github.com/MikeSquared-Agency/sanctuary/internal/transcribe"
)

const maxBodyBytes = 2 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// refinementResponse is the 422 body for a step the gate refused.
type refinementResponse struct {
	Error   string        `json:"error"`
	Step    int           `json:"step"`
	Verdict story.Verdict `json:"verdict"`
}

// writeServiceError maps a service error to its status code. Anything
// unrecognised is logged and answered with fallback so upstream details do
// not leak.
func (s *Server) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	var refined *story.RefinementError
	switch {
	case errors.As(err, &refined):
		writeJSON(w, http.StatusUnprocessableEntity, refinementResponse{
			Error:   err.Error(),
			Step:    refined.Step,
			Verdict: refined.Verdict,
		})
	case errors.Is(err, story.ErrContentTooShort),
		errors.Is(err, story.ErrNeedsRefinement):
		writeError(w, http.StatusUnprocessableEntity, err.Error())

	case errors.Is(err, processor.ErrNotFound):
		writeError(w, http.StatusNotFound, "story not found")

	case errors.Is(err, processor.ErrLockInProgress),
		errors.Is(err, story.ErrLocked),
		errors.Is(err, story.ErrAlreadyLocked),
		errors.Is(err, story.ErrNotInPreamble),
		errors.Is(err, story.ErrAtFirstStep),
		errors.Is(err, story.ErrFinalStep),
		errors.Is(err, story.ErrNotFinalStep):
		writeError(w, http.StatusConflict, err.Error())

	case errors.Is(err, story.ErrInvalidBucket),
		errors.Is(err, story.ErrInvalidStep),
		errors.Is(err, story.ErrInvalidScores),
		errors.Is(err, processor.ErrEmptyDraft),
		errors.Is(err, processor.ErrEmptyPublishedText),
		errors.Is(err, transcribe.ErrNoAudio),
		errors.Is(err, transcribe.ErrInvalidAudio),
		errors.Is(err, transcribe.ErrAudioTooLarge),
		errors.Is(err, recap.ErrInvalidRecap),
		errors.Is(err, media.ErrNotImage),
		errors.Is(err, media.ErrEmptyImage),
		errors.Is(err, media.ErrImageTooLarge):
		writeError(w, http.StatusBadRequest, err.Error())

	default:
		s.logger.Error(fallback, "error", err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// decodeJSON reads a bounded JSON body into v, answering 400 itself on
// failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	return decode(w, r, limit, v, false)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	return decode(w, r, limit, v, true)
}

func decode(w http.ResponseWriter, r *http.Request, limit int64, v any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}
