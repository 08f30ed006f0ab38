package story

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Bucket is the top-level category a story is filed under. It is chosen once
// at creation and never changes.
type Bucket string

const (
	BucketPersonal Bucket = "personal"
	BucketBusiness Bucket = "business"
	BucketIndustry Bucket = "industry"
)

// legacyIndustry is the id older clients stored for the INDUSTRY bucket.
const legacyIndustry = "emotional"

// ErrInvalidBucket is returned by ParseBucket for unknown values.
var ErrInvalidBucket = errors.New("invalid bucket")

// Buckets lists every valid bucket in display order.
func Buckets() []Bucket {
	return []Bucket{BucketPersonal, BucketBusiness, BucketIndustry}
}

// ParseBucket normalises s into a Bucket.
func ParseBucket(s string) (Bucket, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == legacyIndustry {
		return BucketIndustry, nil
	}
	for _, b := range Buckets() {
		if string(b) == v {
			return b, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidBucket, s)
}

// UnmarshalText accepts the same values as ParseBucket.
func (b *Bucket) UnmarshalText(text []byte) error {
	v, err := ParseBucket(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Label is the upper-case form used in mail subjects and headings.
func (b Bucket) Label() string {
	if b == "" {
		return strings.ToUpper(string(BucketPersonal))
	}
	return strings.ToUpper(string(b))
}

type Status string

const (
	StatusDraft  Status = "draft"
	StatusLocked Status = "locked"
)

const (
	// PreambleStep is the optional inspiration step before the wizard proper.
	PreambleStep = 0
	FirstStep    = 1
	FinalStep    = 12
	// MinContentLength is exclusive: a step needs more than this many
	// characters after trimming before the wizard moves past it.
	MinContentLength = 10
	titleLength      = 100
)

// ScoreSet holds the five bounded dimensions a locked story is scored on.
type ScoreSet struct {
	Authenticity  int `json:"authenticity"`
	Vulnerability int `json:"vulnerability"`
	Credibility   int `json:"credibility"`
	// CringeRisk is higher-is-worse.
	CringeRisk int `json:"cringeRisk"`
	// PlatformPlay is higher-is-worse.
	PlatformPlay int `json:"platformPlay"`
}

// ErrInvalidScores reports a score outside [0,100].
var ErrInvalidScores = errors.New("invalid scores")

// Validate checks every dimension is within [0,100].
func (s ScoreSet) Validate() error {
	for _, f := range []struct {
		name  string
		value int
	}{
		{"authenticity", s.Authenticity},
		{"vulnerability", s.Vulnerability},
		{"credibility", s.Credibility},
		{"cringeRisk", s.CringeRisk},
		{"platformPlay", s.PlatformPlay},
	} {
		if f.value < 0 || f.value > 100 {
			return fmt.Errorf("%w: %s=%d", ErrInvalidScores, f.name, f.value)
		}
	}
	return nil
}

// Session is one story moving through the wizard.
type Session struct {
	ID                  uuid.UUID `json:"id"`
	OwnerID             string    `json:"ownerId"`
	OwnerEmail          string    `json:"-"`
	Title               string    `json:"title"`
	Bucket              Bucket    `json:"bucket"`
	Status              Status    `json:"status"`
	Preamble            bool      `json:"preamble"`
	CurrentStep         int       `json:"currentStep"`
	Content             Content   `json:"content"`
	InspirationText     string    `json:"inspirationText,omitempty"`
	InspirationImageRef string    `json:"inspirationImageRef,omitempty"`
	Scores              *ScoreSet `json:"scores,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// New returns an unpersisted draft positioned at its first step.
func New(ownerID, ownerEmail string, bucket Bucket, preamble bool, now time.Time) Session {
	s := Session{
		OwnerID:    ownerID,
		OwnerEmail: ownerEmail,
		Bucket:     bucket,
		Status:     StatusDraft,
		Preamble:   preamble,
		Content:    Content{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.CurrentStep = s.MinStep()
	return s
}

// MinStep is the lowest step the session can navigate back to.
func (s Session) MinStep() int {
	if s.Preamble {
		return PreambleStep
	}
	return FirstStep
}

func (s Session) Locked() bool { return s.Status == StatusLocked }

// ErrInvariant reports a session whose persisted fields contradict each other.
var ErrInvariant = errors.New("session invariant violated")

// Validate checks the structural invariants of a session.
func (s Session) Validate() error {
	switch s.Status {
	case StatusDraft:
		if s.Scores != nil {
			return fmt.Errorf("%w: draft has scores", ErrInvariant)
		}
	case StatusLocked:
		if s.Scores == nil {
			return fmt.Errorf("%w: locked without scores", ErrInvariant)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvariant, s.Status)
	}
	if s.CurrentStep < s.MinStep() || s.CurrentStep > FinalStep {
		return fmt.Errorf("%w: step %d out of range", ErrInvariant, s.CurrentStep)
	}
	return nil
}

func (s Session) clone() Session {
	out := s
	out.Content = s.Content.Clone()
	if s.Scores != nil {
		scores := *s.Scores
		out.Scores = &scores
	}
	return out
}

func titleFrom(text string) string {
	t := strings.TrimSpace(text)
	r := []rune(t)
	if len(r) > titleLength {
		return string(r[:titleLength])
	}
	return t
}
