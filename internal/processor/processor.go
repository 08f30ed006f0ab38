package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sanctuary/internal/analysis"
	"github.com/MikeSquared-Agency/sanctuary/internal/inflight"
	"github.com/MikeSquared-Agency/sanctuary/internal/metrics"
	"github.com/MikeSquared-Agency/sanctuary/internal/store"
	"github.com/MikeSquared-Agency/sanctuary/internal/story"
)

var (
	ErrNotFound           = store.ErrNotFound
	ErrLockInProgress     = errors.New("lock already in progress")
	ErrEmptyDraft         = errors.New("story has no content")
	ErrEmptyPublishedText = errors.New("published text is required")
)

const defaultLockTTL = 2 * time.Minute

// Repository persists sessions and reviews.
type Repository interface {
	CreateSession(ctx context.Context, s story.Session) error
	GetSession(ctx context.Context, owner string, id uuid.UUID) (story.Session, error)
	ListSessions(ctx context.Context, owner string, bucket story.Bucket) ([]story.Session, error)
	UpdateDraft(ctx context.Context, s story.Session) error
	LockSession(ctx context.Context, s story.Session) (bool, error)
	InsertReview(ctx context.Context, r store.ReviewRecord) error
	ListReviews(ctx context.Context, owner string, storyID uuid.UUID) ([]store.ReviewRecord, error)
}

// Analyzer is the LLM-backed judgement the wizard relies on.
type Analyzer interface {
	Check(ctx context.Context, text string, step int) story.Verdict
	Score(ctx context.Context, content story.Content) (*analysis.Scorecard, error)
	ReviewPublished(ctx context.Context, original story.Content, published string) (*analysis.Review, error)
}

// Notifier receives locked sessions for the recap mail. It must not block
// on delivery.
type Notifier interface {
	RecapLocked(ctx context.Context, s story.Session, summary string)
}

type Config struct {
	// PreambleBuckets start at the inspiration step instead of step 1.
	PreambleBuckets []story.Bucket
	LockTTL         time.Duration
	AutosaveDelay   time.Duration
}

// Service drives story sessions through the wizard.
type Service struct {
	repo     Repository
	analyzer Analyzer
	notifier Notifier
	guard    inflight.Guard
	autosave *Autosaver
	logger   *slog.Logger

	preamble map[story.Bucket]bool
	lockTTL  time.Duration
	now      func() time.Time
}

func New(repo Repository, a Analyzer, n Notifier, g inflight.Guard, cfg Config, logger *slog.Logger) *Service {
	if g == nil {
		g = inflight.NewMemoryGuard()
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	pre := make(map[story.Bucket]bool, len(cfg.PreambleBuckets))
	for _, b := range cfg.PreambleBuckets {
		pre[b] = true
	}
	p := &Service{
		repo:     repo,
		analyzer: a,
		notifier: n,
		guard:    g,
		logger:   logger,
		preamble: pre,
		lockTTL:  ttl,
		now:      func() time.Time { return time.Now().UTC() },
	}
	p.autosave = NewAutosaver(p, cfg.AutosaveDelay, logger)
	return p
}

type CreateRequest struct {
	Bucket              story.Bucket  `json:"bucket"`
	Content             story.Content `json:"content"`
	InspirationText     string        `json:"inspirationText"`
	InspirationImageRef string        `json:"inspirationImageRef"`
}

// DraftRequest is a partial draft write: only the listed steps change, and
// nil inspiration fields are left alone.
type DraftRequest struct {
	Content             story.Content `json:"content"`
	InspirationText     *string       `json:"inspirationText,omitempty"`
	InspirationImageRef *string       `json:"inspirationImageRef,omitempty"`
}

func (r DraftRequest) empty() bool {
	return len(r.Content) == 0 && r.InspirationText == nil && r.InspirationImageRef == nil
}

// merge folds a newer request into r; later values win.
func (r DraftRequest) merge(newer DraftRequest) DraftRequest {
	out := DraftRequest{Content: r.Content.Clone(), InspirationText: r.InspirationText, InspirationImageRef: r.InspirationImageRef}
	if out.Content == nil {
		out.Content = story.Content{}
	}
	for k, v := range newer.Content {
		out.Content[k] = v
	}
	if newer.InspirationText != nil {
		out.InspirationText = newer.InspirationText
	}
	if newer.InspirationImageRef != nil {
		out.InspirationImageRef = newer.InspirationImageRef
	}
	return out
}

type AdvanceRequest struct {
	// Content, when set, replaces the current step's text before advancing.
	Content  *string `json:"content,omitempty"`
	Override bool    `json:"override"`
}

type AdvanceResult struct {
	Session story.Session  `json:"story"`
	Verdict *story.Verdict `json:"verdict,omitempty"`
	Nudge   *story.Nudge   `json:"nudge,omitempty"`
}

type LockRequest struct {
	// Content, when set, replaces step 12 before locking.
	Content *string `json:"content,omitempty"`
}

type LockOutcome string

const (
	LockOutcomeLocked        LockOutcome = "locked"
	LockOutcomeAlreadyLocked LockOutcome = "already_locked"
)

type LockResult struct {
	Outcome      LockOutcome   `json:"outcome"`
	Session      story.Session `json:"story"`
	Summary      string        `json:"summary,omitempty"`
	HookDetected bool          `json:"hookDetected"`
	CTADetected  bool          `json:"ctaDetected"`
}

// CreateSession persists a new draft. Drafts with no text at all are
// refused so abandoned wizards leave nothing behind.
func (p *Service) CreateSession(ctx context.Context, owner, email string, req CreateRequest) (story.Session, error) {
	bucket, err := story.ParseBucket(string(req.Bucket))
	if err != nil {
		return story.Session{}, err
	}
	if req.Content.IsBlank() && strings.TrimSpace(req.InspirationText) == "" && req.InspirationImageRef == "" {
		return story.Session{}, ErrEmptyDraft
	}

	now := p.now()
	s := story.New(owner, email, bucket, p.preamble[bucket], now)
	s.ID = uuid.New()
	s.InspirationText = req.InspirationText
	s.InspirationImageRef = req.InspirationImageRef
	for _, step := range req.Content.Steps() {
		if s, _, err = story.Apply(s, story.Edit{Step: step, Text: req.Content.Text(step)}, now); err != nil {
			return story.Session{}, err
		}
	}

	if err := p.repo.CreateSession(ctx, s); err != nil {
		return story.Session{}, fmt.Errorf("create story: %w", err)
	}
	p.logger.Info("story created", "story_id", s.ID, "bucket", s.Bucket, "preamble", s.Preamble)
	return s, nil
}

func (p *Service) GetSession(ctx context.Context, owner string, id uuid.UUID) (story.Session, error) {
	return p.repo.GetSession(ctx, owner, id)
}

func (p *Service) ListSessions(ctx context.Context, owner string, bucket story.Bucket) ([]story.Session, error) {
	if bucket != "" {
		b, err := story.ParseBucket(string(bucket))
		if err != nil {
			return nil, err
		}
		bucket = b
	}
	return p.repo.ListSessions(ctx, owner, bucket)
}

// SaveDraft applies a partial draft write immediately.
func (p *Service) SaveDraft(ctx context.Context, owner string, id uuid.UUID, req DraftRequest) (story.Session, error) {
	s, err := p.repo.GetSession(ctx, owner, id)
	if err != nil {
		return story.Session{}, err
	}
	now := p.now()
	for _, step := range req.Content.Steps() {
		if s, _, err = story.Apply(s, story.Edit{Step: step, Text: req.Content.Text(step)}, now); err != nil {
			return story.Session{}, err
		}
	}
	if req.InspirationText != nil || req.InspirationImageRef != nil {
		ev := story.EditInspiration{Text: s.InspirationText, ImageRef: s.InspirationImageRef}
		if req.InspirationText != nil {
			ev.Text = *req.InspirationText
		}
		if req.InspirationImageRef != nil {
			ev.ImageRef = *req.InspirationImageRef
		}
		if s, _, err = story.Apply(s, ev, now); err != nil {
			return story.Session{}, err
		}
	}
	if err := p.persist(ctx, s); err != nil {
		return story.Session{}, err
	}
	return s, nil
}

// ScheduleDraft checks the story is an editable draft and queues req on the
// debounced autosaver.
func (p *Service) ScheduleDraft(ctx context.Context, owner string, id uuid.UUID, req DraftRequest) error {
	s, err := p.repo.GetSession(ctx, owner, id)
	if err != nil {
		return err
	}
	if s.Locked() {
		return story.ErrLocked
	}
	for _, step := range req.Content.Steps() {
		if step < story.FirstStep || step > story.FinalStep {
			return fmt.Errorf("%w: %d", story.ErrInvalidStep, step)
		}
	}
	p.autosave.Schedule(owner, id, req)
	return nil
}

// FlushDrafts writes every queued draft; call it on shutdown.
func (p *Service) FlushDrafts(ctx context.Context) {
	p.autosave.Flush(ctx)
}

// flushPending writes any debounced draft for the story so the caller reads
// what the writer last sent. A story that is already locked is left to the
// caller to report.
func (p *Service) flushPending(ctx context.Context, owner string, id uuid.UUID) error {
	err := p.autosave.FlushKey(ctx, owner, id)
	if err == nil || errors.Is(err, story.ErrLocked) {
		return nil
	}
	return fmt.Errorf("save pending draft: %w", err)
}

// Begin leaves the inspiration preamble.
func (p *Service) Begin(ctx context.Context, owner string, id uuid.UUID) (story.Session, error) {
	return p.transition(ctx, owner, id, story.Begin{})
}

// Previous moves back one step without any checks.
func (p *Service) Previous(ctx context.Context, owner string, id uuid.UUID) (story.Session, error) {
	return p.transition(ctx, owner, id, story.Previous{})
}

func (p *Service) transition(ctx context.Context, owner string, id uuid.UUID, ev story.Event) (story.Session, error) {
	if err := p.flushPending(ctx, owner, id); err != nil {
		return story.Session{}, err
	}
	s, err := p.repo.GetSession(ctx, owner, id)
	if err != nil {
		return story.Session{}, err
	}
	next, _, err := story.Apply(s, ev, p.now())
	if err != nil {
		return story.Session{}, err
	}
	if err := p.persist(ctx, next); err != nil {
		return story.Session{}, err
	}
	return next, nil
}

// Advance leaves the current step. The detector only runs once the length
// rule passes; step 1 verdicts may refuse the move, later ones only nudge.
func (p *Service) Advance(ctx context.Context, owner string, id uuid.UUID, req AdvanceRequest) (*AdvanceResult, error) {
	if err := p.flushPending(ctx, owner, id); err != nil {
		return nil, err
	}
	s, err := p.repo.GetSession(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	now := p.now()

	edited := false
	if req.Content != nil && s.CurrentStep >= story.FirstStep && !s.Locked() {
		if s, _, err = story.Apply(s, story.Edit{Step: s.CurrentStep, Text: *req.Content}, now); err != nil {
			return nil, err
		}
		edited = true
	}

	if err := story.CheckAdvance(s); err != nil {
		p.keepEdit(ctx, s, edited)
		return nil, err
	}

	var verdict story.Verdict
	step := s.CurrentStep
	if step >= story.FirstStep {
		verdict = p.analyzer.Check(ctx, s.Content.Text(step), step)
	}

	next, effects, err := story.Apply(s, story.Next{Verdict: verdict, Override: req.Override}, now)
	if err != nil {
		p.keepEdit(ctx, s, edited)
		return nil, err
	}
	if err := p.persist(ctx, next); err != nil {
		return nil, err
	}

	res := &AdvanceResult{Session: next}
	if step >= story.FirstStep {
		res.Verdict = &verdict
	}
	if n, ok := story.NudgeIn(effects); ok {
		res.Nudge = &n
	}
	p.logger.Info("story advanced",
		"story_id", next.ID,
		"from", step,
		"to", next.CurrentStep,
		"flagged", verdict.Flagged(),
		"override", req.Override,
	)
	return res, nil
}

// keepEdit persists text typed alongside a refused advance so it is not lost.
func (p *Service) keepEdit(ctx context.Context, s story.Session, edited bool) {
	if !edited {
		return
	}
	if err := p.persist(ctx, s); err != nil {
		p.logger.Warn("failed to save edit after refused advance", "story_id", s.ID, "error", err)
	}
}

// Lock scores and finalises a story. A second call returns the stored result
// with outcome already_locked and triggers neither scoring nor mail.
func (p *Service) Lock(ctx context.Context, owner string, id uuid.UUID, req LockRequest) (*LockResult, error) {
	release, err := p.guard.Acquire(ctx, "lock:"+id.String(), p.lockTTL)
	switch {
	case errors.Is(err, inflight.ErrBusy):
		metrics.StoryLocks.WithLabelValues("in_progress").Inc()
		return nil, ErrLockInProgress
	case err != nil:
		// The conditional update below still prevents a double lock.
		p.logger.Warn("lock guard unavailable, continuing without it", "story_id", id, "error", err)
		release = func() {}
	}
	defer release()

	if err := p.flushPending(ctx, owner, id); err != nil {
		return nil, err
	}
	s, err := p.repo.GetSession(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if s.Locked() {
		metrics.StoryLocks.WithLabelValues(string(LockOutcomeAlreadyLocked)).Inc()
		return &LockResult{Outcome: LockOutcomeAlreadyLocked, Session: s}, nil
	}

	now := p.now()
	edited := false
	if req.Content != nil {
		if s, _, err = story.Apply(s, story.Edit{Step: story.FinalStep, Text: *req.Content}, now); err != nil {
			return nil, err
		}
		edited = true
	}
	if err := story.CheckLockable(s); err != nil {
		p.keepEdit(ctx, s, edited)
		return nil, err
	}

	sc, err := p.analyzer.Score(ctx, s.Content)
	if err != nil {
		metrics.StoryLocks.WithLabelValues("scoring_failed").Inc()
		p.keepEdit(ctx, s, edited)
		return nil, err
	}

	next, effects, err := story.Apply(s, story.Lock{Scores: sc.ScoreSet, Summary: sc.Summary}, now)
	if err != nil {
		return nil, err
	}

	ok, err := p.repo.LockSession(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("lock story: %w", err)
	}
	if !ok {
		current, err := p.repo.GetSession(ctx, owner, id)
		if err != nil {
			return nil, err
		}
		metrics.StoryLocks.WithLabelValues(string(LockOutcomeAlreadyLocked)).Inc()
		return &LockResult{Outcome: LockOutcomeAlreadyLocked, Session: current}, nil
	}

	metrics.StoryLocks.WithLabelValues(string(LockOutcomeLocked)).Inc()
	p.logger.Info("story locked",
		"story_id", next.ID,
		"authenticity", sc.Authenticity,
		"vulnerability", sc.Vulnerability,
	)

	if r, ok := story.RecapIn(effects); ok && p.notifier != nil {
		p.notifier.RecapLocked(ctx, next, r.Summary)
	}

	return &LockResult{
		Outcome:      LockOutcomeLocked,
		Session:      next,
		Summary:      sc.Summary,
		HookDetected: sc.HookDetected,
		CTADetected:  sc.CTADetected,
	}, nil
}

// ReviewPublished scores a published rewrite against the story and stores
// the result as a new review. Locked and draft stories both qualify.
func (p *Service) ReviewPublished(ctx context.Context, owner string, id uuid.UUID, publishedText string) (*store.ReviewRecord, error) {
	if strings.TrimSpace(publishedText) == "" {
		return nil, ErrEmptyPublishedText
	}
	s, err := p.repo.GetSession(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	rv, err := p.analyzer.ReviewPublished(ctx, s.Content, publishedText)
	if err != nil {
		return nil, err
	}

	rec := store.ReviewRecord{
		ID:            uuid.New(),
		StoryID:       s.ID,
		OwnerID:       owner,
		PublishedText: publishedText,
		Review:        *rv,
		CreatedAt:     p.now(),
	}
	if err := p.repo.InsertReview(ctx, rec); err != nil {
		return nil, fmt.Errorf("store review: %w", err)
	}
	p.logger.Info("published story reviewed", "story_id", s.ID, "review_id", rec.ID, "fidelity", rv.FidelityScore)
	return &rec, nil
}

func (p *Service) ListReviews(ctx context.Context, owner string, id uuid.UUID) ([]store.ReviewRecord, error) {
	if _, err := p.repo.GetSession(ctx, owner, id); err != nil {
		return nil, err
	}
	return p.repo.ListReviews(ctx, owner, id)
}

// SetInspirationImage records an uploaded image on a draft and returns the
// ref it replaced.
func (p *Service) SetInspirationImage(ctx context.Context, owner string, id uuid.UUID, ref string) (story.Session, string, error) {
	s, err := p.repo.GetSession(ctx, owner, id)
	if err != nil {
		return story.Session{}, "", err
	}
	previous := s.InspirationImageRef
	next, _, err := story.Apply(s, story.EditInspiration{Text: s.InspirationText, ImageRef: ref}, p.now())
	if err != nil {
		return story.Session{}, "", err
	}
	if err := p.persist(ctx, next); err != nil {
		return story.Session{}, "", err
	}
	return next, previous, nil
}

func (p *Service) persist(ctx context.Context, s story.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := p.repo.UpdateDraft(ctx, s); err != nil {
		if errors.Is(err, store.ErrNotDraft) {
			return story.ErrLocked
		}
		return fmt.Errorf("save story: %w", err)
	}
	return nil
}
