package recap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/sanctuary/internal/hermes"
	"github.com/MikeSquared-Agency/sanctuary/internal/metrics"
	"github.com/MikeSquared-Agency/sanctuary/internal/story"
)

// ErrInvalidRecap is returned for a recap request missing its recipient,
// scores or content.
var ErrInvalidRecap = errors.New("email, scores, and content are required")

const deliverTimeout = 30 * time.Second

// Publisher is the async transport the dispatcher enqueues onto.
type Publisher interface {
	Publish(subject string, data any) error
}

// Dispatcher queues recap mails after a lock and delivers them on the
// worker side. Enqueueing never fails the caller.
type Dispatcher struct {
	pub    Publisher
	sender Sender
	logger *slog.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewDispatcher returns a dispatcher. With a nil publisher recaps are sent
// from a background goroutine in this process instead of through the queue.
func NewDispatcher(pub Publisher, sender Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{pub: pub, sender: sender, logger: logger, now: time.Now}
}

// RecapLocked enqueues the recap for a freshly locked session.
func (d *Dispatcher) RecapLocked(ctx context.Context, s story.Session, summary string) {
	if s.Scores == nil {
		d.logger.Warn("recap requested for unscored story", "story_id", s.ID)
		return
	}
	if s.OwnerEmail == "" {
		d.logger.Warn("no email on file, skipping recap", "story_id", s.ID, "owner", s.OwnerID)
		metrics.RecapEmails.WithLabelValues("recap", "skipped").Inc()
		return
	}

	ev := hermes.RecapRequested{
		StoryID:     s.ID.String(),
		OwnerID:     s.OwnerID,
		Email:       s.OwnerEmail,
		Bucket:      s.Bucket,
		Scores:      *s.Scores,
		Summary:     summary,
		Content:     s.Content.Clone(),
		RequestedAt: d.now(),
	}

	if d.pub == nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
			defer cancel()
			if _, err := d.Deliver(ctx, ev); err != nil {
				d.logger.Error("recap delivery failed", "story_id", ev.StoryID, "error", err)
			}
		}()
		return
	}

	if err := d.pub.Publish(hermes.SubjectRecapRequested, ev); err != nil {
		d.logger.Error("failed to enqueue recap", "story_id", ev.StoryID, "error", err)
		metrics.RecapEmails.WithLabelValues("recap", "enqueue_failed").Inc()
		return
	}
	d.logger.Info("recap enqueued", "story_id", ev.StoryID)
}

// HandleRecap is the queue subscriber. Failures are logged and counted.
func (d *Dispatcher) HandleRecap(subject string, data []byte) {
	var ev hermes.RecapRequested
	if err := json.Unmarshal(data, &ev); err != nil {
		d.logger.Error("invalid recap event", "subject", subject, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if _, err := d.Deliver(ctx, ev); err != nil {
		d.logger.Error("recap delivery failed", "story_id", ev.StoryID, "error", err)
	}
}

// Deliver renders and sends one recap synchronously.
func (d *Dispatcher) Deliver(ctx context.Context, ev hermes.RecapRequested) (string, error) {
	if strings.TrimSpace(ev.Email) == "" || ev.Content.IsBlank() {
		return "", ErrInvalidRecap
	}
	if err := ev.Scores.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRecap, err)
	}
	bucket := ev.Bucket
	if bucket == "" {
		bucket = story.BucketPersonal
	}

	msg, err := Render(Recap{Bucket: bucket, Scores: ev.Scores, Summary: ev.Summary, Content: ev.Content})
	if err != nil {
		metrics.RecapEmails.WithLabelValues("recap", "error").Inc()
		return "", err
	}
	id, err := d.sender.Send(ctx, ev.Email, msg)
	if err != nil {
		metrics.RecapEmails.WithLabelValues("recap", "error").Inc()
		return "", fmt.Errorf("send recap: %w", err)
	}
	metrics.RecapEmails.WithLabelValues("recap", "sent").Inc()
	d.logger.Info("recap sent", "story_id", ev.StoryID, "message_id", id)
	return id, nil
}

// Wait blocks until in-process deliveries started without a publisher finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
