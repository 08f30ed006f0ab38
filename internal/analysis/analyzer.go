package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/sanctuary/internal/llm"
	"github.com/MikeSquared-Agency/sanctuary/internal/metrics"
	"github.com/MikeSquared-Agency/sanctuary/internal/story"
)

var (
	// ErrScoringFailed means no trustworthy scores could be produced.
	ErrScoringFailed = errors.New("scoring failed")
	// ErrReviewFailed means the fidelity review could not reach the model.
	ErrReviewFailed = errors.New("analysis failed")
)

const defaultTimeout = 45 * time.Second

type Analyzer struct {
	llm     llm.Completer
	logger  *slog.Logger
	timeout time.Duration
}

func New(c llm.Completer, logger *slog.Logger) *Analyzer {
	return &Analyzer{llm: c, logger: logger, timeout: defaultTimeout}
}

// IsBlockingStep reports whether the detector verdict for step may refuse
// the transition. Only the first step is gated; later steps are coached.
func IsBlockingStep(step int) bool {
	return step <= story.FirstStep
}

// Check runs the gate (step 1) or coach (later steps) detector. It never
// fails: any transport or parse problem yields the permissive default.
func (a *Analyzer) Check(ctx context.Context, text string, step int) story.Verdict {
	blocking := IsBlockingStep(step)
	kind := "coach"
	p := CoachPrompt(text, step)
	if blocking {
		kind = "gate"
		p = GatePrompt(text)
	}

	raw, err := a.complete(ctx, p)
	if err != nil {
		a.logger.Warn("detector unavailable, failing open", "step", step, "error", err)
		metrics.GateVerdicts.WithLabelValues(kind, "fail_open").Inc()
		return FailOpen(blocking)
	}

	v, err := ParseVerdict(raw)
	if err != nil {
		a.logger.Warn("failed to parse detector response, failing open",
			"step", step,
			"error", err,
			"raw", raw,
		)
		metrics.GateVerdicts.WithLabelValues(kind, "fail_open").Inc()
		return FailOpen(blocking)
	}
	v.Blocking = blocking

	outcome := "pass"
	if v.NeedsRefinement {
		outcome = "refine"
	}
	metrics.GateVerdicts.WithLabelValues(kind, outcome).Inc()
	return v
}

// Score produces the lock-time scorecard. Unlike Check it fails closed.
func (a *Analyzer) Score(ctx context.Context, content story.Content) (*Scorecard, error) {
	if content.IsBlank() {
		return nil, fmt.Errorf("%w: story is empty", ErrScoringFailed)
	}
	a.logger.Info("scoring story", "steps", len(content))

	raw, err := a.complete(ctx, ScorePrompt(content))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScoringFailed, err)
	}
	sc, err := ParseScorecard(raw)
	if err != nil {
		a.logger.Error("failed to parse scoring response", "error", err, "raw", raw)
		return nil, fmt.Errorf("%w: %w", ErrScoringFailed, err)
	}

	a.logger.Info("story scored",
		"authenticity", sc.Authenticity,
		"vulnerability", sc.Vulnerability,
		"hook", sc.HookDetected,
		"cta", sc.CTADetected,
	)
	return sc, nil
}

// ReviewPublished compares a published rewrite against the original steps.
// Transport failures are errors; unparseable replies degrade to NeutralReview.
func (a *Analyzer) ReviewPublished(ctx context.Context, original story.Content, published string) (*Review, error) {
	raw, err := a.complete(ctx, FidelityPrompt(original, published))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReviewFailed, err)
	}
	rv, err := ParseReview(raw)
	if err != nil {
		a.logger.Warn("failed to parse review response, using neutral defaults", "error", err, "raw", raw)
		return NeutralReview(), nil
	}
	return rv, nil
}

func (a *Analyzer) complete(ctx context.Context, p Prompt) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	raw, err := a.llm.Complete(ctx, p.Request())
	metrics.LLMDuration.WithLabelValues(string(p.Task)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMRequests.WithLabelValues(string(p.Task), "error").Inc()
		a.logger.Error("completion failed", "task", p.Task, "error", err)
		return "", err
	}
	metrics.LLMRequests.WithLabelValues(string(p.Task), "ok").Inc()
	return raw, nil
}
