// Package recap renders and delivers the post-lock recap mail and the
// unfinished-draft reminders.
package recap

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"

	"github.com/MikeSquared-Agency/sanctuary/internal/analysis"
	"github.com/MikeSquared-Agency/sanctuary/internal/story"
)

// Message is a rendered e-mail.
type Message struct {
	Subject string
	HTML    string
}

// Recap is everything the recap mail shows.
type Recap struct {
	Bucket  story.Bucket
	Scores  story.ScoreSet
	Summary string
	Content story.Content
}

type scoreRow struct {
	Label string
	Value int
	Color string
}

type outlineRow struct {
	Title string
	Text  string
}

type draftRow struct {
	Title    string
	Bucket   string
	Progress string
}

const (
	colorGood = "#44ff88"
	colorMid  = "#ffaa00"
	colorBad  = "#ff4444"
)

// barColor grades a score. Inverted dimensions (cringe risk, platform play)
// are better when low.
func barColor(value int, invert bool) string {
	switch {
	case value > 60:
		if invert {
			return colorBad
		}
		return colorGood
	case value > 30:
		return colorMid
	default:
		if invert {
			return colorGood
		}
		return colorBad
	}
}

func scoreRows(s story.ScoreSet) []scoreRow {
	return []scoreRow{
		{"Authenticity", s.Authenticity, barColor(s.Authenticity, false)},
		{"Vulnerability", s.Vulnerability, barColor(s.Vulnerability, false)},
		{"Credibility", s.Credibility, barColor(s.Credibility, false)},
		{"Cringe Risk", s.CringeRisk, barColor(s.CringeRisk, true)},
		{"Platform Play", s.PlatformPlay, barColor(s.PlatformPlay, true)},
	}
}

func outlineRows(c story.Content) []outlineRow {
	steps := c.Steps()
	rows := make([]outlineRow, 0, len(steps))
	for _, n := range steps {
		rows = append(rows, outlineRow{Title: analysis.StepTitle(n), Text: c.Text(n)})
	}
	return rows
}

// RecapSubject is the subject line of the lock recap.
func RecapSubject(b story.Bucket) string {
	return fmt.Sprintf("Your %s Story — Locked & Scored", b.Label())
}

// Render builds the recap mail for a freshly locked story.
func Render(r Recap) (Message, error) {
	var buf bytes.Buffer
	err := recapTmpl.Execute(&buf, map[string]any{
		"Bucket":  r.Bucket.Label(),
		"Summary": r.Summary,
		"Scores":  scoreRows(r.Scores),
		"Outline": outlineRows(r.Content),
	})
	if err != nil {
		return Message{}, fmt.Errorf("render recap: %w", err)
	}
	return Message{Subject: RecapSubject(r.Bucket), HTML: buf.String()}, nil
}

// ReminderSubject pluralises the unfinished-draft count.
func ReminderSubject(n int) string {
	if n == 1 {
		return "You have 1 unfinished story"
	}
	return fmt.Sprintf("You have %d unfinished stories", n)
}

// RenderReminder builds one owner's reminder listing their drafts, most
// recently touched first.
func RenderReminder(drafts []story.Session, appURL string) (Message, error) {
	sorted := make([]story.Session, len(drafts))
	copy(sorted, drafts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
	})

	rows := make([]draftRow, 0, len(sorted))
	for _, s := range sorted {
		title := s.Title
		if title == "" {
			title = "Untitled Story"
		}
		progress := fmt.Sprintf("Step %d of %d", s.CurrentStep, story.FinalStep)
		if s.CurrentStep == story.PreambleStep {
			progress = "Inspiration"
		}
		rows = append(rows, draftRow{Title: title, Bucket: s.Bucket.Label(), Progress: progress})
	}

	noun := "stories"
	if len(rows) == 1 {
		noun = "story"
	}

	var buf bytes.Buffer
	err := reminderTmpl.Execute(&buf, map[string]any{
		"Count":  len(rows),
		"Noun":   noun,
		"Drafts": rows,
		"AppURL": appURL,
	})
	if err != nil {
		return Message{}, fmt.Errorf("render reminder: %w", err)
	}
	return Message{Subject: ReminderSubject(len(rows)), HTML: buf.String()}, nil
}

var recapTmpl = template.Must(template.New("recap").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="margin:0;padding:0;background:#0a0a0a;color:#fff;">
  <div style="max-width:600px;margin:0 auto;padding:40px 20px;">
    <div style="text-align:center;margin-bottom:32px;">
      <h1 style="font-family:monospace;font-size:24px;letter-spacing:4px;color:#fff;margin:0;">THE SANCTUARY</h1>
      <p style="font-family:monospace;font-size:12px;color:#666;margin:8px 0 0;">DISRUPTUR STORY OS</p>
    </div>
    <div style="background:#111;border:1px solid #333;border-radius:8px;padding:24px;margin-bottom:24px;">
      <h2 style="font-family:monospace;font-size:14px;color:#888;margin:0 0 4px;text-transform:uppercase;">Story Locked</h2>
      <p style="font-family:monospace;font-size:18px;color:#fff;margin:0 0 16px;text-transform:uppercase;">{{.Bucket}} STORY</p>
      {{- if .Summary}}
      <p style="font-family:Georgia,serif;font-size:15px;color:#aaa;margin:0;line-height:1.5;font-style:italic;">&ldquo;{{.Summary}}&rdquo;</p>
      {{- end}}
    </div>
    <div style="background:#111;border:1px solid #333;border-radius:8px;padding:24px;margin-bottom:24px;">
      <h2 style="font-family:monospace;font-size:14px;color:#888;margin:0 0 16px;text-transform:uppercase;">Score Breakdown</h2>
      <table style="width:100%;border-collapse:collapse;">
      {{- range .Scores}}
        <tr>
          <td style="padding:8px 0;font-family:monospace;font-size:13px;color:#888;text-transform:uppercase;">{{.Label}}</td>
          <td style="padding:8px 0;width:60%;">
            <div style="background:#222;border-radius:4px;height:20px;width:100%;">
              <div style="background:{{.Color}};border-radius:4px;height:20px;width:{{.Value}}%;"></div>
            </div>
          </td>
          <td style="padding:8px 8px;font-family:monospace;font-size:14px;color:#fff;text-align:right;font-weight:bold;">{{.Value}}</td>
        </tr>
      {{- end}}
      </table>
    </div>
    <div style="background:#111;border:1px solid #333;border-radius:8px;padding:24px;margin-bottom:24px;">
      <h2 style="font-family:monospace;font-size:14px;color:#888;margin:0 0 16px;text-transform:uppercase;">Your Story Outline</h2>
      <table style="width:100%;border-collapse:collapse;">
      {{- range .Outline}}
        <tr>
          <td style="padding:12px 16px;font-family:monospace;font-size:12px;color:#888;text-transform:uppercase;vertical-align:top;width:140px;border-bottom:1px solid #222;">{{.Title}}</td>
          <td style="padding:12px 16px;font-family:Georgia,serif;font-size:15px;color:#ccc;line-height:1.6;border-bottom:1px solid #222;">{{.Text}}</td>
        </tr>
      {{- end}}
      </table>
    </div>
    <div style="text-align:center;padding:24px 0;">
      <p style="font-family:monospace;font-size:11px;color:#444;">This story is now locked. Your truth has been recorded.</p>
    </div>
  </div>
</body>
</html>
`))

var reminderTmpl = template.Must(template.New("reminder").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="margin:0;padding:0;background:#0a0a0a;color:#fff;">
  <div style="max-width:600px;margin:0 auto;padding:40px 20px;">
    <div style="text-align:center;margin-bottom:32px;">
      <h1 style="font-family:monospace;font-size:24px;letter-spacing:4px;color:#fff;margin:0;">THE SANCTUARY</h1>
      <p style="font-family:monospace;font-size:12px;color:#666;margin:8px 0 0;">DISRUPTUR STORY OS</p>
    </div>
    <div style="background:#111;border:1px solid #333;border-radius:8px;padding:24px;margin-bottom:24px;">
      <h2 style="font-family:monospace;font-size:14px;color:#888;margin:0 0 4px;text-transform:uppercase;">Unfinished Business</h2>
      <p style="font-family:Georgia,serif;font-size:18px;color:#fff;margin:0 0 8px;">You have <strong>{{.Count}}</strong> unfinished {{.Noun}}.</p>
      <p style="font-family:Georgia,serif;font-size:15px;color:#aaa;margin:0;line-height:1.5;">Your stories are waiting. The truth doesn't finish itself.</p>
    </div>
    <div style="background:#111;border:1px solid #333;border-radius:8px;padding:24px;margin-bottom:24px;">
      <h2 style="font-family:monospace;font-size:14px;color:#888;margin:0 0 16px;text-transform:uppercase;">Your Drafts</h2>
      <table style="width:100%;border-collapse:collapse;">
        <tr>
          <th style="padding:8px 16px;font-family:monospace;font-size:11px;color:#666;text-transform:uppercase;text-align:left;border-bottom:1px solid #333;">Title</th>
          <th style="padding:8px 16px;font-family:monospace;font-size:11px;color:#666;text-transform:uppercase;text-align:left;border-bottom:1px solid #333;">Bucket</th>
          <th style="padding:8px 16px;font-family:monospace;font-size:11px;color:#666;text-transform:uppercase;text-align:left;border-bottom:1px solid #333;">Progress</th>
        </tr>
      {{- range .Drafts}}
        <tr>
          <td style="padding:12px 16px;font-family:Georgia,serif;font-size:15px;color:#ccc;line-height:1.6;border-bottom:1px solid #222;">{{.Title}}</td>
          <td style="padding:12px 16px;font-family:monospace;font-size:12px;color:#888;text-transform:uppercase;border-bottom:1px solid #222;">{{.Bucket}}</td>
          <td style="padding:12px 16px;font-family:monospace;font-size:12px;color:#888;border-bottom:1px solid #222;white-space:nowrap;">{{.Progress}}</td>
        </tr>
      {{- end}}
      </table>
    </div>
    {{- if .AppURL}}
    <div style="text-align:center;margin-bottom:24px;">
      <a href="{{.AppURL}}" style="display:inline-block;padding:14px 32px;background:#fff;color:#0a0a0a;font-family:monospace;font-size:14px;font-weight:bold;text-decoration:none;border-radius:6px;letter-spacing:2px;text-transform:uppercase;">Continue Writing</a>
    </div>
    {{- end}}
    <div style="text-align:center;padding:24px 0;">
      <p style="font-family:monospace;font-size:11px;color:#444;">Your drafts are safe. Pick up where you left off.</p>
    </div>
  </div>
</body>
</html>
`))
