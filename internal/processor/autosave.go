package processor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sanctuary/internal/story"
)

const (
	DefaultAutosaveDelay = time.Second
	autosaveTimeout      = 10 * time.Second
)

type saveFunc func(ctx context.Context, owner string, id uuid.UUID, req DraftRequest) (story.Session, error)

type pendingDraft struct {
	owner string
	id    uuid.UUID
	req   DraftRequest
	gen   uint64
	timer *time.Timer
}

// Autosaver coalesces rapid draft writes per story and saves once the
// writer has been quiet for the delay. A crash may drop the last pending
// write.
type Autosaver struct {
	save   saveFunc
	delay  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingDraft
	// running holds a channel per story whose timer-driven save is underway;
	// it is closed when that save returns.
	running map[string]chan struct{}
	wg      sync.WaitGroup
}

func NewAutosaver(svc *Service, delay time.Duration, logger *slog.Logger) *Autosaver {
	return newAutosaver(svc.SaveDraft, delay, logger)
}

func newAutosaver(save saveFunc, delay time.Duration, logger *slog.Logger) *Autosaver {
	if delay <= 0 {
		delay = DefaultAutosaveDelay
	}
	return &Autosaver{save: save, delay: delay, logger: logger, pending: make(map[string]*pendingDraft), running: make(map[string]chan struct{})}
}

// Schedule queues req, merging it into any write still waiting for the
// same story, and restarts the quiet period.
func (a *Autosaver) Schedule(owner string, id uuid.UUID, req DraftRequest) {
	key := draftKey(owner, id)

	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pending[key]
	if !ok {
		p = &pendingDraft{owner: owner, id: id}
		a.pending[key] = p
	} else {
		p.timer.Stop()
	}
	p.req = p.req.merge(req)
	p.gen++
	gen := p.gen
	p.timer = time.AfterFunc(a.delay, func() { a.fire(key, gen) })
}

// Pending reports how many stories have unsaved writes.
func (a *Autosaver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func (a *Autosaver) fire(key string, gen uint64) {
	a.mu.Lock()
	p, ok := a.pending[key]
	if !ok || p.gen != gen {
		a.mu.Unlock()
		return
	}
	delete(a.pending, key)
	done := make(chan struct{})
	a.running[key] = done
	a.wg.Add(1)
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.running, key)
		a.mu.Unlock()
		close(done)
		a.wg.Done()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), autosaveTimeout)
	defer cancel()
	_ = a.write(ctx, p)
}

func (a *Autosaver) write(ctx context.Context, p *pendingDraft) error {
	if p.req.empty() {
		return nil
	}
	if _, err := a.save(ctx, p.owner, p.id, p.req); err != nil {
		a.logger.Warn("autosave failed", "story_id", p.id, "error", err)
		return err
	}
	a.logger.Debug("autosaved draft", "story_id", p.id, "steps", len(p.req.Content))
	return nil
}

// FlushKey saves the write waiting for one story now, after any save of
// that story already underway has finished. It returns the save error, if
// any.
func (a *Autosaver) FlushKey(ctx context.Context, owner string, id uuid.UUID) error {
	key := draftKey(owner, id)

	a.mu.Lock()
	p, ok := a.pending[key]
	if ok {
		p.timer.Stop()
		delete(a.pending, key)
	}
	done := a.running[key]
	a.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if !ok {
		return nil
	}
	return a.write(ctx, p)
}

func draftKey(owner string, id uuid.UUID) string {
	return owner + "/" + id.String()
}

// Flush saves every pending write now and waits for in-flight saves.
func (a *Autosaver) Flush(ctx context.Context) {
	a.mu.Lock()
	drained := make([]*pendingDraft, 0, len(a.pending))
	for key, p := range a.pending {
		p.timer.Stop()
		drained = append(drained, p)
		delete(a.pending, key)
	}
	a.mu.Unlock()

	for _, p := range drained {
		_ = a.write(ctx, p)
	}
	a.wg.Wait()
}
