package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/sanctuary/internal/hermes"
	"github.com/MikeSquared-Agency/sanctuary/internal/recap"
	"github.com/MikeSquared-Agency/sanctuary/internal/story"
	"github.com/MikeSquared-Agency/sanctuary/internal/transcribe"
)

// Base64 inflates by 4/3; leave room for the JSON envelope.
const maxAudioBodyBytes = transcribe.MaxAudioBytes/3*4 + 64<<10

type checkRequest struct {
	Text string `json:"text"`
	Step int    `json:"step"`
}

func (s *Server) checkAuthenticity(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !decodeJSON(w, r, maxBodyBytes, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	step := req.Step
	if step < story.FirstStep {
		step = story.FirstStep
	}
	if step > story.FinalStep {
		writeError(w, http.StatusBadRequest, "step must be between 1 and 12")
		return
	}
	writeJSON(w, http.StatusOK, s.analyzer.Check(r.Context(), req.Text, step))
}

type scoreRequest struct {
	Content story.Content `json:"content"`
}

func (s *Server) scoreStory(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if !decodeJSON(w, r, maxBodyBytes, &req) {
		return
	}
	if req.Content.IsBlank() {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	sc, err := s.analyzer.Score(r.Context(), req.Content)
	if err != nil {
		s.writeServiceError(w, err, "scoring failed")
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

type reviewRequest struct {
	OriginalContent story.Content `json:"originalContent"`
	PublishedText   string        `json:"publishedText"`
}

func (s *Server) reviewPublishedStory(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !decodeJSON(w, r, maxBodyBytes, &req) {
		return
	}
	if strings.TrimSpace(req.PublishedText) == "" {
		writeError(w, http.StatusBadRequest, "publishedText is required")
		return
	}
	rv, err := s.analyzer.ReviewPublished(r.Context(), req.OriginalContent, req.PublishedText)
	if err != nil {
		s.writeServiceError(w, err, "analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, rv)
}

type transcribeRequest struct {
	Audio    string `json:"audio"`
	MimeType string `json:"mimeType"`
}

func (s *Server) transcribeAudio(w http.ResponseWriter, r *http.Request) {
	if s.audio == nil {
		writeError(w, http.StatusServiceUnavailable, "transcription is not configured")
		return
	}
	var req transcribeRequest
	if !decodeJSON(w, r, maxAudioBodyBytes, &req) {
		return
	}
	audio, err := transcribe.DecodeAudio(req.Audio)
	if err != nil {
		s.writeServiceError(w, err, "transcription failed")
		return
	}
	text, err := s.audio.Transcribe(r.Context(), audio, req.MimeType)
	if errors.Is(err, transcribe.ErrNoSpeech) {
		writeJSON(w, http.StatusOK, map[string]string{"text": ""})
		return
	}
	if err != nil {
		s.writeServiceError(w, err, "transcription failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

type recapRequest struct {
	Email   string          `json:"email"`
	Scores  *story.ScoreSet `json:"scores"`
	Content story.Content   `json:"content"`
	Bucket  string          `json:"bucket"`
	Summary string          `json:"summary"`
}

func (s *Server) sendRecapEmail(w http.ResponseWriter, r *http.Request) {
	var req recapRequest
	if !decodeJSON(w, r, maxBodyBytes, &req) {
		return
	}
	if req.Scores == nil {
		writeError(w, http.StatusBadRequest, recap.ErrInvalidRecap.Error())
		return
	}
	bucket := story.BucketPersonal
	if req.Bucket != "" {
		b, err := story.ParseBucket(req.Bucket)
		if err != nil {
			s.writeServiceError(w, err, "failed to send recap")
			return
		}
		bucket = b
	}

	ev := hermes.RecapRequested{
		Email:       req.Email,
		Bucket:      bucket,
		Scores:      *req.Scores,
		Summary:     req.Summary,
		Content:     req.Content,
		RequestedAt: time.Now().UTC(),
	}
	if o, ok := ownerFrom(r); ok {
		ev.OwnerID = o.ID
	}
	id, err := s.recaps.Deliver(r.Context(), ev)
	if err != nil {
		s.writeServiceError(w, err, "failed to send recap")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}
