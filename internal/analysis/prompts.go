package analysis

import (
	"fmt"

	"github.com/MikeSquared-Agency/sanctuary/internal/llm"
	"github.com/MikeSquared-Agency/sanctuary/internal/story"
)

// Task names one of the analysis prompts.
type Task string

const (
	TaskGate     Task = "gatekeeping"
	TaskCoach    Task = "coaching"
	TaskScore    Task = "scoring"
	TaskFidelity Task = "fidelity"
)

const defaultTemperature = 0.3

// Prompt is the fully rendered instruction block for one task.
type Prompt struct {
	Task        Task
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

func (p Prompt) Request() llm.Request {
	return llm.Request{
		System:      p.System,
		User:        p.User,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	}
}

// GatePrompt builds the blocking authenticity check run before leaving step 1.
func GatePrompt(text string) Prompt {
	return Prompt{
		Task:        TaskGate,
		System:      gateSystemPrompt,
		User:        fmt.Sprintf("Analyze this text for authenticity:\n\n%q", text),
		MaxTokens:   300,
		Temperature: defaultTemperature,
	}
}

// CoachPrompt builds the advisory check for a later step.
func CoachPrompt(text string, step int) Prompt {
	title := StepTitle(step)
	return Prompt{
		Task:        TaskCoach,
		System:      coachSystemPrompt,
		User:        fmt.Sprintf("Step %d (%s). The writer answered:\n\n%q", step, title, text),
		MaxTokens:   300,
		Temperature: defaultTemperature,
	}
}

// ScorePrompt builds the full-story scoring request.
func ScorePrompt(content story.Content) Prompt {
	return Prompt{
		Task:        TaskScore,
		System:      scoreSystemPrompt,
		User:        "Score this story:\n\n" + content.Narrative(),
		MaxTokens:   300,
		Temperature: defaultTemperature,
	}
}

// FidelityPrompt compares a published rewrite with the original steps.
func FidelityPrompt(original story.Content, published string) Prompt {
	return Prompt{
		Task:   TaskFidelity,
		System: fidelitySystemPrompt,
		User: fmt.Sprintf("ORIGINAL STORY (12-step truth process):\n\n%s\n\n---\n\nPUBLISHED VERSION:\n\n%s",
			original.Narrative(), published),
		MaxTokens:   600,
		Temperature: defaultTemperature,
	}
}

var stepTitles = [...]string{
	"THE MOMENT",
	"THE CONTEXT",
	"WHAT HAPPENED",
	"THE FEELING",
	"THE THOUGHT",
	"THE ACTION",
	"THE CONSEQUENCE",
	"THE REALIZATION",
	"THE COST",
	"THE GIFT",
	"THE TRUTH",
	"THE MESSAGE",
}

// StepTitle returns the wizard heading for step, or "STEP n" when unknown.
func StepTitle(step int) string {
	if step >= story.FirstStep && step <= story.FinalStep {
		return stepTitles[step-1]
	}
	return fmt.Sprintf("STEP %d", step)
}

const detectionCategories = `DETECT these patterns:
- Marketing buzzwords: "leverage", "synergy", "thought leader", "game-changer", "unlock", "empower"
- Engagement hooks: lines engineered to stop the scroll ("I almost died that day", "What happened next changed everything", "Here's what nobody tells you", "Want to know the secret?")
- Calls to action: "Share this if...", "Drop a comment", "Follow me for more", "DM me", "Link in bio", promoting a product, course, newsletter or profile
- Performative vulnerability: "I failed... but now I'm successful", humble brags, failure staged as setup for a success story
- Content templates: "3 things I learned", lists optimised for engagement, hashtags, emoji clusters
- Generic platitudes and passive voice that distances from emotion ("Mistakes were made", "Follow your passion")

ALLOW these:
- Raw, unpolished language and lowercase, conversational tone
- Specific details and sensory memories
- Admissions without redemption arcs
- Incomplete thoughts, genuine confusion or uncertainty`

const gateSystemPrompt = `You are a truth detector. Your job is to identify when text sounds like marketing, content, or performance rather than genuine human truth.

` + detectionCategories + `

Set needsRefinement to true only when the text reads like content rather than truth.
Set hookDetected when an engagement hook is present and ctaDetected when a call to action is present.
When needsRefinement is true, softNudge is one short, kind sentence telling the writer what to look at again.

Respond with JSON only:
{ "needsRefinement": boolean, "hookDetected": boolean, "ctaDetected": boolean, "softNudge": "string or empty" }`

const coachSystemPrompt = `You are a gentle story coach. The writer is partway through a 12-step truth process and has just answered one step. You never block them; you only point out when the answer drifts into performance.

` + detectionCategories + `

Set needsRefinement to true when the answer would be stronger with another pass.
Set hookDetected when an engagement hook is present and ctaDetected when a call to action is present.
softNudge is one short, kind question that helps the writer dig deeper. Leave it empty when the answer is fine.

Respond with JSON only:
{ "needsRefinement": boolean, "hookDetected": boolean, "ctaDetected": boolean, "softNudge": "string or empty" }`

const scoringCriteria = `1. AUTHENTICITY (0-100):
   - High: Specific details, sensory language, admits uncertainty, lowercase/raw tone
   - Low: Generic statements, polished language, sounds rehearsed, clichés
   - PENALTY: If hooks are detected, cap authenticity at 40 maximum.

2. VULNERABILITY (0-100):
   - High: Shares actual emotions, admits mistakes without justification, reveals internal conflict
   - Low: Surface-level sharing, always has an answer, distances from emotion
   - PENALTY: If CTAs are detected, cap vulnerability at 30 maximum.

3. CREDIBILITY (0-100):
   - High: Consistent timeline, specific names/places/dates, logical cause-effect
   - Low: Vague details, timeline jumps, claims without evidence
   - PENALTY: Hooks and CTAs each reduce credibility by 20 points.

4. CRINGE RISK (0-100, higher = worse):
   - High: Humble brags, forced lessons, "journey" language, trying too hard
   - Low: Natural voice, earned insights, proportional emotion
   - PENALTY: Any hook adds +25. Any CTA adds +30. Both together = at least 85.

5. PLATFORM PLAY (0-100, higher = worse):
   - High: Revenue or achievement flexing, engagement bait, fake authority, rhetorical questions designed to prompt replies, affiliate links, formatting for engagement
   - Low: No engagement tactics, genuine story without agenda
   - PENALTY: Platform play reduces authenticity and vulnerability by up to 30 points each.`

const scoreSystemPrompt = `You are a story analyst for The Sanctuary, a platform for raw, unfiltered personal stories. Score this story on 5 dimensions from 0-100.

HOOKS (severely penalize): attention-grabbing openings, clickbait teasing, manufactured suspense, provocative questions aimed at an audience.
CALLS TO ACTION (severely penalize): telling the reader what to do, promoting a product or profile, asking for engagement, "DM me", "Link in bio", advice that is really a pitch.

SCORING CRITERIA:

` + scoringCriteria + `

Every score MUST be an integer between 0 and 100.

Return JSON only:
{
  "authenticity": number,
  "vulnerability": number,
  "credibility": number,
  "cringeRisk": number,
  "platformPlay": number,
  "hookDetected": boolean,
  "ctaDetected": boolean,
  "summary": "One sentence overall assessment"
}`

const fidelitySystemPrompt = `You are a story fidelity analyst for The Sanctuary. Users build stories through a 12-step truth process, lock them with scores, then publish externally. Compare the published version against the original truth and determine what survived.

Score the PUBLISHED version on the same 5 dimensions (0-100 each), then assess fidelity.

` + scoringCriteria + `

FIDELITY ASSESSMENT (fidelityScore 0-100, higher = more faithful):
- Did the core truth survive publication?
- Were key details preserved or softened/removed?
- Was the emotional honesty maintained or polished away?
- Were hooks, CTAs, or marketing language added that weren't in the original?

FLAG SPECIFIC TEXT quoted exactly from the published version:
- hookExamples: attention hooks
- ctaExamples: calls to action
- marketingExamples: marketing jargon or corporate speak
- credibilityRiskExamples: claims that diverge from or embellish the original

Return JSON only:
{
  "authenticity": number,
  "vulnerability": number,
  "credibility": number,
  "cringeRisk": number,
  "platformPlay": number,
  "fidelityScore": number,
  "hookExamples": ["string"],
  "ctaExamples": ["string"],
  "marketingExamples": ["string"],
  "credibilityRiskExamples": ["string"],
  "summary": "2-3 sentence assessment of how the truth fared in publication"
}`
