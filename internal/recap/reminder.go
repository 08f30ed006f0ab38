package recap

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/sanctuary/internal/metrics"
	"github.com/MikeSquared-Agency/sanctuary/internal/story"
)

const defaultReminderConcurrency = 4

// DraftLister loads drafts last touched before a cutoff.
type DraftLister interface {
	ListStaleDrafts(ctx context.Context, before time.Time) ([]story.Session, error)
}

// ReminderReport summarises one reminder run.
type ReminderReport struct {
	Sent        int      `json:"sent"`
	TotalUsers  int      `json:"totalUsers"`
	TotalDrafts int      `json:"totalDrafts"`
	Errors      []string `json:"errors,omitempty"`
}

type Reminder struct {
	drafts      DraftLister
	sender      Sender
	appURL      string
	staleAfter  time.Duration
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

func NewReminder(drafts DraftLister, sender Sender, appURL string, staleAfter time.Duration, logger *slog.Logger) *Reminder {
	return &Reminder{
		drafts:      drafts,
		sender:      sender,
		appURL:      appURL,
		staleAfter:  staleAfter,
		concurrency: defaultReminderConcurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// Send mails every owner with stale drafts one reminder listing them.
// Per-owner failures are collected in the report; only a failure to load
// drafts is returned as an error.
func (r *Reminder) Send(ctx context.Context) (*ReminderReport, error) {
	cutoff := r.now().Add(-r.staleAfter)
	drafts, err := r.drafts.ListStaleDrafts(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}

	byOwner := make(map[string][]story.Session)
	for _, d := range drafts {
		byOwner[d.OwnerID] = append(byOwner[d.OwnerID], d)
	}
	owners := make([]string, 0, len(byOwner))
	for o := range byOwner {
		owners = append(owners, o)
	}
	sort.Strings(owners)

	report := &ReminderReport{TotalUsers: len(owners), TotalDrafts: len(drafts)}
	if len(drafts) == 0 {
		r.logger.Info("no stale drafts, nothing to send")
		return report, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, owner := range owners {
		stories := byOwner[owner]
		g.Go(func() error {
			err := r.remind(gctx, owner, stories)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors = append(report.Errors, err.Error())
				return nil
			}
			report.Sent++
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Errors)
	r.logger.Info("reminders sent",
		"sent", report.Sent,
		"users", report.TotalUsers,
		"drafts", report.TotalDrafts,
		"errors", len(report.Errors),
	)
	return report, nil
}

func (r *Reminder) remind(ctx context.Context, owner string, stories []story.Session) error {
	email := ""
	for _, s := range stories {
		if s.OwnerEmail != "" {
			email = s.OwnerEmail
			break
		}
	}
	if email == "" {
		metrics.RecapEmails.WithLabelValues("reminder", "skipped").Inc()
		return fmt.Errorf("could not find email for user %s", owner)
	}

	msg, err := RenderReminder(stories, r.appURL)
	if err != nil {
		metrics.RecapEmails.WithLabelValues("reminder", "error").Inc()
		return err
	}
	if _, err := r.sender.Send(ctx, email, msg); err != nil {
		metrics.RecapEmails.WithLabelValues("reminder", "error").Inc()
		r.logger.Error("reminder failed", "owner", owner, "error", err)
		return fmt.Errorf("failed to send to user %s: %w", owner, err)
	}
	metrics.RecapEmails.WithLabelValues("reminder", "sent").Inc()
	return nil
}
