package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sanctuary/internal/analysis"
	"github.com/MikeSquared-Agency/sanctuary/internal/auth"
	"github.com/MikeSquared-Agency/sanctuary/internal/hermes"
	"github.com/MikeSquared-Agency/sanctuary/internal/media"
	"github.com/MikeSquared-Agency/sanctuary/internal/processor"
	"github.com/MikeSquared-Agency/sanctuary/internal/recap"
	"github.com/MikeSquared-Agency/sanctuary/internal/store"
	"github.com/MikeSquared-Agency/sanctuary/internal/story"
	"github.com/MikeSquared-Agency/sanctuary/internal/transcribe"
)

const (
	testSecret       = "test-jwt-secret"
	testServiceToken = "svc-token"
	testOwner        = "user-1"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStories returns canned results and records what it was called with.
type fakeStories struct {
	session   story.Session
	err       error
	advance   *processor.AdvanceResult
	lock      *processor.LockResult
	reviews   []store.ReviewRecord
	scheduled []processor.DraftRequest
	owner     string
	email     string
	bucket    story.Bucket
	imageRef  string
}

func (f *fakeStories) CreateSession(ctx context.Context, owner, email string, req processor.CreateRequest) (story.Session, error) {
	f.owner, f.email = owner, email
	if f.err != nil {
		return story.Session{}, f.err
	}
	s := f.session
	s.Bucket = req.Bucket
	return s, nil
}

func (f *fakeStories) GetSession(ctx context.Context, owner string, id uuid.UUID) (story.Session, error) {
	f.owner = owner
	return f.session, f.err
}

func (f *fakeStories) ListSessions(ctx context.Context, owner string, bucket story.Bucket) ([]story.Session, error) {
	f.owner, f.bucket = owner, bucket
	if f.err != nil {
		return nil, f.err
	}
	return []story.Session{f.session}, nil
}

func (f *fakeStories) SaveDraft(ctx context.Context, owner string, id uuid.UUID, req processor.DraftRequest) (story.Session, error) {
	return f.session, f.err
}

func (f *fakeStories) ScheduleDraft(ctx context.Context, owner string, id uuid.UUID, req processor.DraftRequest) error {
	if f.err != nil {
		return f.err
	}
	f.scheduled = append(f.scheduled, req)
	return nil
}

func (f *fakeStories) Begin(ctx context.Context, owner string, id uuid.UUID) (story.Session, error) {
	return f.session, f.err
}

func (f *fakeStories) Previous(ctx context.Context, owner string, id uuid.UUID) (story.Session, error) {
	return f.session, f.err
}

func (f *fakeStories) Advance(ctx context.Context, owner string, id uuid.UUID, req processor.AdvanceRequest) (*processor.AdvanceResult, error) {
	return f.advance, f.err
}

func (f *fakeStories) Lock(ctx context.Context, owner string, id uuid.UUID, req processor.LockRequest) (*processor.LockResult, error) {
	return f.lock, f.err
}

func (f *fakeStories) ReviewPublished(ctx context.Context, owner string, id uuid.UUID, publishedText string) (*store.ReviewRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &store.ReviewRecord{ID: uuid.New(), StoryID: id, PublishedText: publishedText, Review: *analysis.NeutralReview()}, nil
}

func (f *fakeStories) ListReviews(ctx context.Context, owner string, id uuid.UUID) ([]store.ReviewRecord, error) {
	return f.reviews, f.err
}

func (f *fakeStories) SetInspirationImage(ctx context.Context, owner string, id uuid.UUID, ref string) (story.Session, string, error) {
	prev := f.imageRef
	f.imageRef = ref
	s := f.session
	s.InspirationImageRef = ref
	return s, prev, f.err
}

type fakeAnalyzer struct {
	verdict   story.Verdict
	scorecard *analysis.Scorecard
	err       error
	lastStep  int
}

func (f *fakeAnalyzer) Check(ctx context.Context, text string, step int) story.Verdict {
	f.lastStep = step
	return f.verdict
}

func (f *fakeAnalyzer) Score(ctx context.Context, content story.Content) (*analysis.Scorecard, error) {
	return f.scorecard, f.err
}

func (f *fakeAnalyzer) ReviewPublished(ctx context.Context, original story.Content, published string) (*analysis.Review, error) {
	if f.err != nil {
		return nil, f.err
	}
	return analysis.NeutralReview(), nil
}

type fakeTranscriber struct {
	text string
	err  error
	mime string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	f.mime = mimeType
	return f.text, f.err
}

type fakeRecaps struct {
	got hermes.RecapRequested
	err error
}

func (f *fakeRecaps) Deliver(ctx context.Context, ev hermes.RecapRequested) (string, error) {
	f.got = ev
	if f.err != nil {
		return "", f.err
	}
	return "msg_123", nil
}

type fakeImages struct {
	saved   []string
	types   []string
	removed []string
}

func (f *fakeImages) Save(ctx context.Context, owner, filename, contentType string, r io.Reader) (*media.Upload, error) {
	data, _ := io.ReadAll(r)
	if len(data) == 0 {
		return nil, media.ErrEmptyImage
	}
	ref := owner + "/" + filename
	f.saved = append(f.saved, ref)
	f.types = append(f.types, contentType)
	return &media.Upload{Ref: ref, URL: "https://img.example/" + ref}, nil
}

func (f *fakeImages) URL(ctx context.Context, ref string) (string, error) {
	return "https://img.example/" + ref, nil
}

func (f *fakeImages) Remove(ctx context.Context, ref string) error {
	f.removed = append(f.removed, ref)
	return nil
}

type fakeReminders struct{ calls int }

func (f *fakeReminders) Send(ctx context.Context) (*recap.ReminderReport, error) {
	f.calls++
	return &recap.ReminderReport{Sent: 2, TotalUsers: 2, TotalDrafts: 3}, nil
}

type harness struct {
	srv       *Server
	stories   *fakeStories
	analyzer  *fakeAnalyzer
	audio     *fakeTranscriber
	recaps    *fakeRecaps
	images    *fakeImages
	reminders *fakeReminders
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	v, err := auth.NewVerifier(testSecret, discardLogger())
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	h := &harness{
		stories: &fakeStories{session: story.Session{
			ID:          uuid.New(),
			OwnerID:     testOwner,
			Bucket:      story.BucketPersonal,
			Status:      story.StatusDraft,
			CurrentStep: 1,
			Content:     story.Content{1: "The night the lights went out."},
		}},
		analyzer:  &fakeAnalyzer{},
		audio:     &fakeTranscriber{},
		recaps:    &fakeRecaps{},
		images:    &fakeImages{},
		reminders: &fakeReminders{},
	}
	h.srv = NewServer(0, Deps{
		Stories:      h.stories,
		Analyzer:     h.analyzer,
		Transcriber:  h.audio,
		Recaps:       h.recaps,
		Images:       h.images,
		Reminders:    h.reminders,
		Auth:         v.Middleware,
		ServiceToken: testServiceToken,
		Logger:       discardLogger(),
	})
	return h
}

func token(t *testing.T, sub, email string) string {
	t.Helper()
	claims := auth.Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token(t, testOwner, "writer@example.com"))
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	decodeBody(t, w, &body)
	msg, _ := body["error"].(string)
	return msg
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	decodeBody(t, w, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected prometheus exposition format")
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest("GET", "/nonexistent", nil)
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestPreflight(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest("OPTIONS", "/api/v1/check-authenticity", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "authorization, content-type, apikey")
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", w.Body.String())
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard origin, got %q", got)
	}
}

func TestAuthRequired(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest("GET", "/api/v1/stories", nil)
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/v1/stories", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w = httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with bad token, got %d", w.Code)
	}
}

func TestCheckAuthenticity(t *testing.T) {
	h := newHarness(t)
	h.analyzer.verdict = story.Verdict{NeedsRefinement: true, HookDetected: true, SoftNudge: "Say what happened."}

	w := h.do(t, "POST", "/api/v1/check-authenticity", map[string]any{"text": "Here's the thing nobody tells you"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var v map[string]any
	decodeBody(t, w, &v)
	if v["needsRefinement"] != true || v["hookDetected"] != true || v["softNudge"] != "Say what happened." {
		t.Errorf("unexpected verdict %v", v)
	}
	if h.analyzer.lastStep != 1 {
		t.Errorf("expected default step 1, got %d", h.analyzer.lastStep)
	}

	w = h.do(t, "POST", "/api/v1/check-authenticity", map[string]any{"text": "   "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for blank text, got %d", w.Code)
	}
}

func TestScoreStory(t *testing.T) {
	h := newHarness(t)
	h.analyzer.scorecard = &analysis.Scorecard{
		ScoreSet: story.ScoreSet{Authenticity: 80, Vulnerability: 70, Credibility: 75, CringeRisk: 10},
		Summary:  "Honest.",
	}

	w := h.do(t, "POST", "/api/v1/score-story", map[string]any{"content": map[string]string{"1": "a", "step2": "b"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]any
	decodeBody(t, w, &body)
	if body["authenticity"] != float64(80) || body["platformPlay"] != float64(0) || body["summary"] != "Honest." {
		t.Errorf("unexpected scorecard %v", body)
	}

	h.analyzer.err = fmt.Errorf("%w: upstream said 529 overloaded", analysis.ErrScoringFailed)
	w = h.do(t, "POST", "/api/v1/score-story", map[string]any{"content": map[string]string{"1": "a"}})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if msg := errorOf(t, w); strings.Contains(msg, "529") {
		t.Errorf("upstream detail leaked: %q", msg)
	}
}

func TestReviewPublishedStory(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, "POST", "/api/v1/review-published-story", map[string]any{
		"originalContent": map[string]string{"1": "original"},
		"publishedText":   "the linkedin version",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	decodeBody(t, w, &body)
	if body["fidelityScore"] != float64(50) {
		t.Errorf("expected neutral review, got %v", body)
	}

	w = h.do(t, "POST", "/api/v1/review-published-story", map[string]any{"publishedText": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}

	h.analyzer.err = analysis.ErrReviewFailed
	w = h.do(t, "POST", "/api/v1/review-published-story", map[string]any{"publishedText": "x"})
	if w.Code != http.StatusInternalServerError || errorOf(t, w) != "analysis failed" {
		t.Errorf("expected 500 analysis failed, got %d", w.Code)
	}
}

func TestTranscribeAudio(t *testing.T) {
	h := newHarness(t)
	h.audio.text = "I remember the smell of the workshop"

	w := h.do(t, "POST", "/api/v1/transcribe-audio", map[string]any{"audio": "data:audio/webm;base64,AAECAw==", "mimeType": "audio/ogg"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]string
	decodeBody(t, w, &body)
	if body["text"] != h.audio.text {
		t.Errorf("expected transcript, got %q", body["text"])
	}
	if h.audio.mime != "audio/ogg" {
		t.Errorf("expected mime passed through, got %q", h.audio.mime)
	}

	h.audio.err = transcribe.ErrNoSpeech
	w = h.do(t, "POST", "/api/v1/transcribe-audio", map[string]any{"audio": "AAECAw=="})
	if w.Code != http.StatusOK {
		t.Fatalf("no speech should still be 200, got %d", w.Code)
	}
	decodeBody(t, w, &body)
	if body["text"] != "" {
		t.Errorf("expected empty text, got %q", body["text"])
	}

	w = h.do(t, "POST", "/api/v1/transcribe-audio", map[string]any{"audio": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing audio, got %d", w.Code)
	}

	h.audio.err = errors.New("whisper returned 503")
	w = h.do(t, "POST", "/api/v1/transcribe-audio", map[string]any{"audio": "AAECAw=="})
	if w.Code != http.StatusInternalServerError || errorOf(t, w) != "transcription failed" {
		t.Errorf("expected generic 500, got %d", w.Code)
	}
}

func TestSendRecapEmail(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, "POST", "/api/v1/send-recap-email", map[string]any{
		"email":   "writer@example.com",
		"scores":  map[string]int{"authenticity": 80, "vulnerability": 60, "credibility": 70, "cringeRisk": 10, "platformPlay": 5},
		"content": map[string]string{"1": "moment"},
		"bucket":  "emotional",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]any
	decodeBody(t, w, &body)
	if body["success"] != true || body["id"] != "msg_123" {
		t.Errorf("unexpected body %v", body)
	}
	if h.recaps.got.Bucket != story.BucketIndustry || h.recaps.got.Scores.Authenticity != 80 {
		t.Errorf("unexpected event %+v", h.recaps.got)
	}

	w = h.do(t, "POST", "/api/v1/send-recap-email", map[string]any{"email": "writer@example.com"})
	if w.Code != http.StatusBadRequest || errorOf(t, w) != "email, scores, and content are required" {
		t.Errorf("expected 400 for missing scores, got %d", w.Code)
	}

	h.recaps.err = recap.ErrInvalidRecap
	w = h.do(t, "POST", "/api/v1/send-recap-email", map[string]any{"scores": map[string]int{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestListAndCreateStories(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, "GET", "/api/v1/stories?bucket=business", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list struct {
		Stories []story.Session `json:"stories"`
	}
	decodeBody(t, w, &list)
	if len(list.Stories) != 1 || h.stories.owner != testOwner || h.stories.bucket != story.BucketBusiness {
		t.Errorf("unexpected list call owner=%q bucket=%q n=%d", h.stories.owner, h.stories.bucket, len(list.Stories))
	}

	w = h.do(t, "POST", "/api/v1/stories", map[string]any{"bucket": "business", "content": map[string]string{"1": "x"}})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if h.stories.email != "writer@example.com" {
		t.Errorf("expected email from token, got %q", h.stories.email)
	}

	w = h.do(t, "POST", "/api/v1/stories", map[string]any{"bucket": "sales"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown bucket, got %d", w.Code)
	}

	h.stories.err = processor.ErrEmptyDraft
	w = h.do(t, "POST", "/api/v1/stories", map[string]any{"bucket": "personal"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty draft, got %d", w.Code)
	}
}

func TestGetStory(t *testing.T) {
	h := newHarness(t)
	h.stories.session.InspirationImageRef = "user-1/a.png"
	path := "/api/v1/stories/" + h.stories.session.ID.String()

	w := h.do(t, "GET", path, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	decodeBody(t, w, &body)
	if body["id"] != h.stories.session.ID.String() || body["inspirationImageUrl"] != "https://img.example/user-1/a.png" {
		t.Errorf("unexpected body %v", body)
	}
	if _, ok := body["scores"]; ok {
		t.Error("draft must not expose scores")
	}

	w = h.do(t, "GET", "/api/v1/stories/not-a-uuid", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for malformed id, got %d", w.Code)
	}

	h.stories.err = processor.ErrNotFound
	w = h.do(t, "GET", path, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestSaveDraft(t *testing.T) {
	h := newHarness(t)
	path := "/api/v1/stories/" + h.stories.session.ID.String() + "/draft"

	w := h.do(t, "PUT", path, map[string]any{"content": map[string]string{"2": "typing"}})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if len(h.stories.scheduled) != 1 || h.stories.scheduled[0].Content[2] != "typing" {
		t.Errorf("expected scheduled draft, got %+v", h.stories.scheduled)
	}

	w = h.do(t, "PUT", path+"?sync=true", map[string]any{"content": map[string]string{"2": "typing"}})
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for sync save, got %d", w.Code)
	}

	w = h.do(t, "PUT", path, map[string]any{"content": map[string]string{"13": "x"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for out of range step, got %d", w.Code)
	}

	h.stories.err = story.ErrLocked
	w = h.do(t, "PUT", path, map[string]any{"content": map[string]string{"2": "x"}})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for locked story, got %d", w.Code)
	}
}

func TestAdvanceStory(t *testing.T) {
	h := newHarness(t)
	path := "/api/v1/stories/" + h.stories.session.ID.String() + "/advance"
	next := h.stories.session
	next.CurrentStep = 2
	h.stories.advance = &processor.AdvanceResult{Session: next, Verdict: &story.Verdict{}}

	w := h.do(t, "POST", path, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with empty body, got %d: %s", w.Code, w.Body.String())
	}
	var res struct {
		Story story.Session `json:"story"`
	}
	decodeBody(t, w, &res)
	if res.Story.CurrentStep != 2 {
		t.Errorf("expected step 2, got %d", res.Story.CurrentStep)
	}

	h.stories.err = fmt.Errorf("%w: step 1", story.ErrContentTooShort)
	w = h.do(t, "POST", path, map[string]any{"content": "short"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for short content, got %d", w.Code)
	}

	h.stories.err = &story.RefinementError{Step: 1, Verdict: story.Verdict{NeedsRefinement: true, CTADetected: true, SoftNudge: "Drop the ask."}}
	w = h.do(t, "POST", path, map[string]any{})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for gate refusal, got %d", w.Code)
	}
	var refusal struct {
		Step    int           `json:"step"`
		Verdict story.Verdict `json:"verdict"`
	}
	decodeBody(t, w, &refusal)
	if refusal.Step != 1 || !refusal.Verdict.CTADetected || refusal.Verdict.SoftNudge != "Drop the ask." {
		t.Errorf("expected verdict feedback, got %+v", refusal)
	}

	h.stories.err = story.ErrFinalStep
	w = h.do(t, "POST", path, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 at final step, got %d", w.Code)
	}
}

func TestLockStory(t *testing.T) {
	h := newHarness(t)
	path := "/api/v1/stories/" + h.stories.session.ID.String() + "/lock"
	locked := h.stories.session
	locked.Status = story.StatusLocked
	locked.CurrentStep = 12
	locked.Scores = &story.ScoreSet{Authenticity: 90}
	h.stories.lock = &processor.LockResult{Outcome: processor.LockOutcomeAlreadyLocked, Session: locked}

	w := h.do(t, "POST", path, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	decodeBody(t, w, &body)
	if body["outcome"] != "already_locked" {
		t.Errorf("expected already_locked, got %v", body["outcome"])
	}

	h.stories.err = processor.ErrLockInProgress
	w = h.do(t, "POST", path, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 while a lock is in flight, got %d", w.Code)
	}

	h.stories.err = fmt.Errorf("%w: parse reply", analysis.ErrScoringFailed)
	w = h.do(t, "POST", path, nil)
	if w.Code != http.StatusInternalServerError || errorOf(t, w) != "scoring failed" {
		t.Errorf("expected 500 scoring failed, got %d", w.Code)
	}
}

func TestReviews(t *testing.T) {
	h := newHarness(t)
	path := "/api/v1/stories/" + h.stories.session.ID.String() + "/reviews"

	w := h.do(t, "GET", path, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"reviews":[]`) {
		t.Errorf("expected empty list, got %s", w.Body.String())
	}

	w = h.do(t, "POST", path, map[string]any{"publishedText": "posted version"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	var rec map[string]any
	decodeBody(t, w, &rec)
	if rec["publishedText"] != "posted version" {
		t.Errorf("unexpected record %v", rec)
	}
	if _, ok := rec["ownerId"]; ok {
		t.Error("owner id must not be exposed")
	}

	h.stories.err = processor.ErrEmptyPublishedText
	w = h.do(t, "POST", path, map[string]any{"publishedText": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestUploadInspirationImage(t *testing.T) {
	h := newHarness(t)
	h.stories.imageRef = "user-1/old.png"
	path := "/api/v1/stories/" + h.stories.session.ID.String() + "/inspiration-image"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "shop.png")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	part.Write([]byte("\x89PNG\r\n\x1a\nfake"))
	mw.Close()

	req := httptest.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token(t, testOwner, ""))
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body imageResponse
	decodeBody(t, w, &body)
	if body.Image == nil || body.Image.Ref != "user-1/shop.png" || body.Story.InspirationImageRef != "user-1/shop.png" {
		t.Errorf("unexpected response %+v", body)
	}
	if len(h.images.types) != 1 || h.images.types[0] != "application/octet-stream" {
		t.Errorf("expected the part's declared type passed through, got %v", h.images.types)
	}
	if len(h.images.removed) != 1 || h.images.removed[0] != "user-1/old.png" {
		t.Errorf("expected replaced image removed, got %v", h.images.removed)
	}

	w = h.do(t, "POST", path, map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without multipart file, got %d", w.Code)
	}
}

func TestSendReminders(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest("POST", "/api/v1/reminders/send", nil)
	req.Header.Set("Authorization", "Bearer "+testServiceToken)
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var report recap.ReminderReport
	decodeBody(t, w, &report)
	if report.Sent != 2 || report.TotalDrafts != 3 || h.reminders.calls != 1 {
		t.Errorf("unexpected report %+v", report)
	}

	// A user token is not the service token.
	w = h.do(t, "POST", "/api/v1/reminders/send", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for user token, got %d", w.Code)
	}
}
