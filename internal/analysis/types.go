package analysis

import "github.com/MikeSquared-Agency/sanctuary/internal/story"

// Scorecard is the full-story scoring result. Summary is reported to the
// caller but never persisted with the scores.
type Scorecard struct {
	story.ScoreSet
	HookDetected bool   `json:"hookDetected"`
	CTADetected  bool   `json:"ctaDetected"`
	Summary      string `json:"summary"`
}

// Review is a published-text fidelity review.
type Review struct {
	story.ScoreSet
	FidelityScore           int      `json:"fidelityScore"`
	HookExamples            []string `json:"hookExamples"`
	CTAExamples             []string `json:"ctaExamples"`
	MarketingExamples       []string `json:"marketingExamples"`
	CredibilityRiskExamples []string `json:"credibilityRiskExamples"`
	Summary                 string   `json:"summary"`
	// Fallback is set when the model reply could not be parsed and the
	// neutral defaults were returned instead.
	Fallback bool `json:"fallback,omitempty"`
}

// NeutralReview is what a review degrades to when the reply is unusable.
func NeutralReview() *Review {
	return &Review{
		ScoreSet: story.ScoreSet{
			Authenticity:  50,
			Vulnerability: 50,
			Credibility:   50,
			CringeRisk:    50,
			PlatformPlay:  50,
		},
		FidelityScore:           50,
		HookExamples:            []string{},
		CTAExamples:             []string{},
		MarketingExamples:       []string{},
		CredibilityRiskExamples: []string{},
		Summary:                 "Unable to analyze published story",
		Fallback:                true,
	}
}

// FailOpen is the verdict used whenever the detector cannot answer.
func FailOpen(blocking bool) story.Verdict {
	return story.Verdict{Blocking: blocking}
}
