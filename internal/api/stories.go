package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sanctuary/internal/auth"
	"github.com/MikeSquared-Agency/sanctuary/internal/media"
	"github.com/MikeSquared-Agency/sanctuary/internal/processor"
	"github.com/MikeSquared-Agency/sanctuary/internal/story"
)

func ownerFrom(r *http.Request) (auth.Owner, bool) {
	return auth.OwnerFrom(r.Context())
}

// storyTarget resolves the caller and the {id} path parameter. A malformed
// id is reported as not found, like any story the caller does not own.
func storyTarget(w http.ResponseWriter, r *http.Request) (auth.Owner, uuid.UUID, bool) {
	owner, ok := ownerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, auth.ErrMissingToken.Error())
		return auth.Owner{}, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "story not found")
		return auth.Owner{}, uuid.Nil, false
	}
	return owner, id, true
}

func (s *Server) listStories(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, auth.ErrMissingToken.Error())
		return
	}
	list, err := s.stories.ListSessions(r.Context(), owner.ID, story.Bucket(r.URL.Query().Get("bucket")))
	if err != nil {
		s.writeServiceError(w, err, "failed to list stories")
		return
	}
	if list == nil {
		list = []story.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stories": list})
}

func (s *Server) createStory(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, auth.ErrMissingToken.Error())
		return
	}
	var req processor.CreateRequest
	if !decodeJSON(w, r, maxBodyBytes, &req) {
		return
	}
	sess, err := s.stories.CreateSession(r.Context(), owner.ID, owner.Email, req)
	if err != nil {
		s.writeServiceError(w, err, "failed to create story")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) getStory(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := storyTarget(w, r)
	if !ok {
		return
	}
	sess, err := s.stories.GetSession(r.Context(), owner.ID, id)
	if err != nil {
		s.writeServiceError(w, err, "failed to load story")
		return
	}
	resp := storyResponse{Session: sess}
	if s.images != nil && sess.InspirationImageRef != "" {
		url, err := s.images.URL(r.Context(), sess.InspirationImageRef)
		if err != nil {
			s.logger.Warn("failed to sign image url", "story_id", sess.ID, "error", err)
		}
		resp.InspirationImageURL = url
	}
	writeJSON(w, http.StatusOK, resp)
}

// storyResponse adds a short-lived display link for the inspiration image.
type storyResponse struct {
	story.Session
	InspirationImageURL string `json:"inspirationImageUrl,omitempty"`
}

// saveDraft queues the write on the autosaver and answers 202, or writes
// immediately with ?sync=true.
func (s *Server) saveDraft(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := storyTarget(w, r)
	if !ok {
		return
	}
	var req processor.DraftRequest
	if !decodeJSON(w, r, maxBodyBytes, &req) {
		return
	}

	if r.URL.Query().Get("sync") == "true" {
		sess, err := s.stories.SaveDraft(r.Context(), owner.ID, id, req)
		if err != nil {
			s.writeServiceError(w, err, "failed to save draft")
			return
		}
		writeJSON(w, http.StatusOK, sess)
		return
	}

	if err := s.stories.ScheduleDraft(r.Context(), owner.ID, id, req); err != nil {
		s.writeServiceError(w, err, "failed to save draft")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) beginStory(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := storyTarget(w, r)
	if !ok {
		return
	}
	sess, err := s.stories.Begin(r.Context(), owner.ID, id)
	if err != nil {
		s.writeServiceError(w, err, "failed to begin story")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) previousStep(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := storyTarget(w, r)
	if !ok {
		return
	}
	sess, err := s.stories.Previous(r.Context(), owner.ID, id)
	if err != nil {
		s.writeServiceError(w, err, "failed to move back")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) advanceStory(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := storyTarget(w, r)
	if !ok {
		return
	}
	var req processor.AdvanceRequest
	if !decodeOptionalJSON(w, r, maxBodyBytes, &req) {
		return
	}
	res, err := s.stories.Advance(r.Context(), owner.ID, id, req)
	if err != nil {
		s.writeServiceError(w, err, "failed to advance story")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) lockStory(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := storyTarget(w, r)
	if !ok {
		return
	}
	var req processor.LockRequest
	if !decodeOptionalJSON(w, r, maxBodyBytes, &req) {
		return
	}
	res, err := s.stories.Lock(r.Context(), owner.ID, id, req)
	if err != nil {
		s.writeServiceError(w, err, "scoring failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := storyTarget(w, r)
	if !ok {
		return
	}
	reviews, err := s.stories.ListReviews(r.Context(), owner.ID, id)
	if err != nil {
		s.writeServiceError(w, err, "failed to list reviews")
		return
	}
	if reviews == nil {
		writeJSON(w, http.StatusOK, map[string]any{"reviews": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": reviews})
}

type createReviewRequest struct {
	PublishedText string `json:"publishedText"`
}

func (s *Server) createReview(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := storyTarget(w, r)
	if !ok {
		return
	}
	var req createReviewRequest
	if !decodeJSON(w, r, maxBodyBytes, &req) {
		return
	}
	rec, err := s.stories.ReviewPublished(r.Context(), owner.ID, id, req.PublishedText)
	if err != nil {
		s.writeServiceError(w, err, "analysis failed")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type imageResponse struct {
	Story story.Session `json:"story"`
	Image *media.Upload `json:"image"`
}

func (s *Server) uploadInspirationImage(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := storyTarget(w, r)
	if !ok {
		return
	}
	if s.images == nil {
		writeError(w, http.StatusServiceUnavailable, "image uploads are not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, media.MaxImageBytes+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, media.ErrImageTooLarge.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	// Ownership first so nothing is uploaded for a story the caller cannot edit.
	if _, err := s.stories.GetSession(r.Context(), owner.ID, id); err != nil {
		s.writeServiceError(w, err, "failed to upload image")
		return
	}

	up, err := s.images.Save(r.Context(), owner.ID, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		s.writeServiceError(w, err, "failed to upload image")
		return
	}
	sess, previous, err := s.stories.SetInspirationImage(r.Context(), owner.ID, id, up.Ref)
	if err != nil {
		if rmErr := s.images.Remove(r.Context(), up.Ref); rmErr != nil {
			s.logger.Warn("failed to remove orphaned image", "ref", up.Ref, "error", rmErr)
		}
		s.writeServiceError(w, err, "failed to upload image")
		return
	}
	if previous != "" && previous != up.Ref {
		if err := s.images.Remove(r.Context(), previous); err != nil {
			s.logger.Warn("failed to remove replaced image", "ref", previous, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, imageResponse{Story: sess, Image: up})
}
