package story

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrLocked          = errors.New("story is locked")
	ErrAlreadyLocked   = errors.New("story already locked")
	ErrContentTooShort = errors.New("step content too short")
	ErrNeedsRefinement = errors.New("step needs refinement")
	ErrFinalStep       = errors.New("already at final step")
	ErrNotFinalStep    = errors.New("story is not at the final step")
	ErrAtFirstStep     = errors.New("already at first step")
	ErrNotInPreamble   = errors.New("story is not in the preamble")
)

// Verdict is the outcome of the gate/coach detector for one step.
type Verdict struct {
	NeedsRefinement bool   `json:"needsRefinement"`
	HookDetected    bool   `json:"hookDetected"`
	CTADetected     bool   `json:"ctaDetected"`
	SoftNudge       string `json:"softNudge,omitempty"`
	// Blocking is set when the verdict is allowed to stop the transition.
	Blocking bool `json:"-"`
}

// Flagged reports whether the detector found anything worth surfacing.
func (v Verdict) Flagged() bool {
	return v.NeedsRefinement || v.HookDetected || v.CTADetected
}

// RefinementError carries the gate verdict that refused a transition.
type RefinementError struct {
	Step    int
	Verdict Verdict
}

func (e *RefinementError) Error() string {
	if e.Verdict.SoftNudge != "" {
		return fmt.Sprintf("step %d needs refinement: %s", e.Step, e.Verdict.SoftNudge)
	}
	return fmt.Sprintf("step %d needs refinement", e.Step)
}

func (e *RefinementError) Is(target error) bool { return target == ErrNeedsRefinement }

// Event is an input to Apply.
type Event interface{ event() }

// Begin leaves the inspiration preamble.
type Begin struct{}

// Edit replaces the text of one step.
type Edit struct {
	Step int
	Text string
}

// EditInspiration replaces the preamble fields. They are never scored.
type EditInspiration struct {
	Text     string
	ImageRef string
}

// Next moves forward one step. Verdict is the detector result for the
// current step; Override advances even when a blocking verdict refused it.
type Next struct {
	Verdict  Verdict
	Override bool
}

// Previous moves back one step.
type Previous struct{}

// Lock finishes the story with its scores.
type Lock struct {
	Scores  ScoreSet
	Summary string
}

func (Begin) event()           {}
func (Edit) event()            {}
func (EditInspiration) event() {}
func (Next) event()            {}
func (Previous) event()        {}
func (Lock) event()            {}

// Effect is work the caller performs after a successful transition.
type Effect interface{ effect() }

// Persist asks the caller to write the session.
type Persist struct{}

// Nudge is a non-blocking advisory for the writer.
type Nudge struct {
	Step         int    `json:"step"`
	Message      string `json:"message"`
	HookDetected bool   `json:"hookDetected"`
	CTADetected  bool   `json:"ctaDetected"`
}

// DispatchRecap asks for the best-effort recap mail.
type DispatchRecap struct {
	Summary string
}

func (Persist) effect()       {}
func (Nudge) effect()         {}
func (DispatchRecap) effect() {}

const defaultNudge = "This might be worth another look. Can you dig a little deeper?"

// Apply runs one transition. It never mutates s; on error the returned
// session is s unchanged.
func Apply(s Session, ev Event, now time.Time) (Session, []Effect, error) {
	if s.Locked() {
		if _, ok := ev.(Lock); ok {
			return s, nil, ErrAlreadyLocked
		}
		return s, nil, ErrLocked
	}

	next := s.clone()
	effects := []Effect{Persist{}}

	switch e := ev.(type) {
	case Begin:
		if !s.Preamble || s.CurrentStep != PreambleStep {
			return s, nil, ErrNotInPreamble
		}
		next.CurrentStep = FirstStep

	case Edit:
		if e.Step < FirstStep || e.Step > FinalStep {
			return s, nil, fmt.Errorf("%w: %d", ErrInvalidStep, e.Step)
		}
		next.Content[e.Step] = e.Text
		if e.Step == FirstStep {
			next.Title = titleFrom(e.Text)
		}

	case EditInspiration:
		next.InspirationText = e.Text
		next.InspirationImageRef = e.ImageRef

	case Next:
		if s.CurrentStep == PreambleStep {
			next.CurrentStep = FirstStep
			break
		}
		if s.CurrentStep >= FinalStep {
			return s, nil, ErrFinalStep
		}
		if !s.Content.Sufficient(s.CurrentStep) {
			return s, nil, fmt.Errorf("%w: step %d", ErrContentTooShort, s.CurrentStep)
		}
		v := e.Verdict
		if v.Blocking && v.NeedsRefinement && !e.Override {
			return s, nil, &RefinementError{Step: s.CurrentStep, Verdict: v}
		}
		if v.Flagged() {
			effects = append(effects, nudgeFor(s.CurrentStep, v))
		}
		next.CurrentStep++

	case Previous:
		if s.CurrentStep <= s.MinStep() {
			return s, nil, ErrAtFirstStep
		}
		next.CurrentStep--

	case Lock:
		if err := CheckLockable(s); err != nil {
			return s, nil, err
		}
		if err := e.Scores.Validate(); err != nil {
			return s, nil, err
		}
		scores := e.Scores
		next.Scores = &scores
		next.Status = StatusLocked
		effects = append(effects, DispatchRecap{Summary: e.Summary})

	default:
		return s, nil, fmt.Errorf("unknown event %T", ev)
	}

	next.UpdatedAt = now
	return next, effects, nil
}

// CheckAdvance reports whether the current step may be left, without
// consulting the detector. Callers use it to skip detector calls that could
// not change the outcome.
func CheckAdvance(s Session) error {
	if s.Locked() {
		return ErrLocked
	}
	if s.CurrentStep == PreambleStep {
		return nil
	}
	if s.CurrentStep >= FinalStep {
		return ErrFinalStep
	}
	if !s.Content.Sufficient(s.CurrentStep) {
		return fmt.Errorf("%w: step %d", ErrContentTooShort, s.CurrentStep)
	}
	return nil
}

// CheckLockable reports whether s satisfies every lock precondition other
// than scoring.
func CheckLockable(s Session) error {
	if s.Locked() {
		return ErrAlreadyLocked
	}
	if s.CurrentStep != FinalStep {
		return ErrNotFinalStep
	}
	if !s.Content.Sufficient(FinalStep) {
		return fmt.Errorf("%w: step %d", ErrContentTooShort, FinalStep)
	}
	return nil
}

func nudgeFor(step int, v Verdict) Nudge {
	msg := strings.TrimSpace(v.SoftNudge)
	if msg == "" {
		msg = defaultNudge
	}
	return Nudge{Step: step, Message: msg, HookDetected: v.HookDetected, CTADetected: v.CTADetected}
}

// NudgeIn returns the first nudge effect, if any.
func NudgeIn(effects []Effect) (Nudge, bool) {
	for _, e := range effects {
		if n, ok := e.(Nudge); ok {
			return n, true
		}
	}
	return Nudge{}, false
}

// RecapIn returns the recap effect, if any.
func RecapIn(effects []Effect) (DispatchRecap, bool) {
	for _, e := range effects {
		if r, ok := e.(DispatchRecap); ok {
			return r, true
		}
	}
	return DispatchRecap{}, false
}
