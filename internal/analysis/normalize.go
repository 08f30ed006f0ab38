package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/MikeSquared-Agency/sanctuary/internal/story"
)

// ErrMalformed reports a reply that parsed as JSON but broke the contract.
var ErrMalformed = errors.New("malformed analysis response")

const (
	hookAuthenticityCap = 40
	ctaVulnerabilityCap = 30
)

type rawVerdict struct {
	NeedsRefinement *bool  `json:"needsRefinement"`
	HookDetected    bool   `json:"hookDetected"`
	CTADetected     bool   `json:"ctaDetected"`
	SoftNudge       string `json:"softNudge"`
	// Older gate prompts answered {isAuthentic, reason}.
	IsAuthentic *bool           `json:"isAuthentic"`
	Reason      *string         `json:"reason"`
	Error       json.RawMessage `json:"error"`
}

// ParseVerdict decodes a gate/coach reply.
func ParseVerdict(raw string) (story.Verdict, error) {
	body, err := ExtractJSON(raw)
	if err != nil {
		return story.Verdict{}, err
	}
	var r rawVerdict
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return story.Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	if hasError(r.Error) {
		return story.Verdict{}, fmt.Errorf("%w: error field present", ErrMalformed)
	}

	v := story.Verdict{
		HookDetected: r.HookDetected,
		CTADetected:  r.CTADetected,
		SoftNudge:    strings.TrimSpace(r.SoftNudge),
	}
	switch {
	case r.NeedsRefinement != nil:
		v.NeedsRefinement = *r.NeedsRefinement
	case r.IsAuthentic != nil:
		v.NeedsRefinement = !*r.IsAuthentic
		if v.SoftNudge == "" && r.Reason != nil {
			v.SoftNudge = strings.TrimSpace(*r.Reason)
		}
	default:
		return story.Verdict{}, fmt.Errorf("%w: needsRefinement missing", ErrMalformed)
	}
	return v, nil
}

type rawScores struct {
	Authenticity  *float64 `json:"authenticity"`
	Vulnerability *float64 `json:"vulnerability"`
	Credibility   *float64 `json:"credibility"`
	CringeRisk    *float64 `json:"cringeRisk"`
	PlatformPlay  *float64 `json:"platformPlay"`
}

func (r rawScores) scoreSet() (story.ScoreSet, error) {
	var s story.ScoreSet
	var err error
	if s.Authenticity, err = bounded("authenticity", r.Authenticity); err != nil {
		return s, err
	}
	if s.Vulnerability, err = bounded("vulnerability", r.Vulnerability); err != nil {
		return s, err
	}
	if s.Credibility, err = bounded("credibility", r.Credibility); err != nil {
		return s, err
	}
	if s.CringeRisk, err = bounded("cringeRisk", r.CringeRisk); err != nil {
		return s, err
	}
	// Older score shapes had no platformPlay.
	if r.PlatformPlay != nil {
		if s.PlatformPlay, err = bounded("platformPlay", r.PlatformPlay); err != nil {
			return s, err
		}
	}
	return s, nil
}

type rawScorecard struct {
	rawScores
	HookDetected bool            `json:"hookDetected"`
	CTADetected  bool            `json:"ctaDetected"`
	Summary      string          `json:"summary"`
	Error        json.RawMessage `json:"error"`
}

// ParseScorecard decodes a scoring reply. Missing or out-of-range scores are
// errors; they are never clamped into range.
func ParseScorecard(raw string) (*Scorecard, error) {
	body, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var r rawScorecard
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	if hasError(r.Error) {
		return nil, fmt.Errorf("%w: error field present", ErrMalformed)
	}
	scores, err := r.scoreSet()
	if err != nil {
		return nil, err
	}
	sc := &Scorecard{
		ScoreSet:     scores,
		HookDetected: r.HookDetected,
		CTADetected:  r.CTADetected,
		Summary:      strings.TrimSpace(r.Summary),
	}
	sc.ScoreSet = ApplyViolationCaps(sc.ScoreSet, sc.HookDetected, sc.CTADetected)
	return sc, nil
}

type rawReview struct {
	rawScores
	FidelityScore           *float64        `json:"fidelityScore"`
	HookExamples            []string        `json:"hookExamples"`
	CTAExamples             []string        `json:"ctaExamples"`
	MarketingExamples       []string        `json:"marketingExamples"`
	CredibilityRiskExamples []string        `json:"credibilityRiskExamples"`
	Summary                 string          `json:"summary"`
	Error                   json.RawMessage `json:"error"`
}

// ParseReview decodes a fidelity review reply.
func ParseReview(raw string) (*Review, error) {
	body, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var r rawReview
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("decode review: %w", err)
	}
	if hasError(r.Error) {
		return nil, fmt.Errorf("%w: error field present", ErrMalformed)
	}
	scores, err := r.scoreSet()
	if err != nil {
		return nil, err
	}
	fidelity, err := bounded("fidelityScore", r.FidelityScore)
	if err != nil {
		return nil, err
	}
	rv := &Review{
		ScoreSet:                scores,
		FidelityScore:           fidelity,
		HookExamples:            quotes(r.HookExamples),
		CTAExamples:             quotes(r.CTAExamples),
		MarketingExamples:       quotes(r.MarketingExamples),
		CredibilityRiskExamples: quotes(r.CredibilityRiskExamples),
		Summary:                 strings.TrimSpace(r.Summary),
	}
	rv.ScoreSet = ApplyViolationCaps(rv.ScoreSet, len(rv.HookExamples) > 0, len(rv.CTAExamples) > 0)
	return rv, nil
}

// ApplyViolationCaps enforces the hard ceilings the prompts promise: a hook
// caps authenticity, a call to action caps vulnerability.
func ApplyViolationCaps(s story.ScoreSet, hook, cta bool) story.ScoreSet {
	if hook && s.Authenticity > hookAuthenticityCap {
		s.Authenticity = hookAuthenticityCap
	}
	if cta && s.Vulnerability > ctaVulnerabilityCap {
		s.Vulnerability = ctaVulnerabilityCap
	}
	return s
}

func bounded(name string, v *float64) (int, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: %s missing", ErrMalformed, name)
	}
	if math.IsNaN(*v) || *v < 0 || *v > 100 {
		return 0, fmt.Errorf("%w: %s=%v out of range", ErrMalformed, name, *v)
	}
	return int(math.Round(*v)), nil
}

func quotes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, q := range in {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}

func hasError(raw json.RawMessage) bool {
	v := strings.TrimSpace(string(raw))
	return v != "" && v != "null" && v != `""` && v != "false"
}
