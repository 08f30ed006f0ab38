package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sanctuary/internal/story"
)

type recordedSave struct {
	id  uuid.UUID
	req DraftRequest
}

type saveRecorder struct {
	mu    sync.Mutex
	saves []recordedSave
	err   error
	done  chan struct{}
}

func (r *saveRecorder) save(ctx context.Context, owner string, id uuid.UUID, req DraftRequest) (story.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, recordedSave{id: id, req: req})
	if r.done != nil {
		close(r.done)
		r.done = nil
	}
	return story.Session{}, r.err
}

func (r *saveRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

func TestAutosaver_MergesPendingWrites(t *testing.T) {
	rec := &saveRecorder{}
	a := newAutosaver(rec.save, time.Hour, discardLogger())
	id := uuid.New()
	title := "the harbour"

	a.Schedule(owner, id, DraftRequest{Content: story.Content{1: "first", 2: "second"}})
	a.Schedule(owner, id, DraftRequest{Content: story.Content{2: "second, revised"}})
	a.Schedule(owner, id, DraftRequest{InspirationText: &title})

	if a.Pending() != 1 {
		t.Fatalf("expected 1 pending story, got %d", a.Pending())
	}
	a.Flush(context.Background())

	if rec.count() != 1 {
		t.Fatalf("expected one save, got %d", rec.count())
	}
	got := rec.saves[0].req
	if got.Content[1] != "first" || got.Content[2] != "second, revised" {
		t.Errorf("expected merged content, got %v", got.Content)
	}
	if got.InspirationText == nil || *got.InspirationText != title {
		t.Errorf("expected inspiration text carried through, got %v", got.InspirationText)
	}
	if a.Pending() != 0 {
		t.Errorf("expected nothing pending after flush, got %d", a.Pending())
	}
}

func TestAutosaver_SeparateStoriesSaveSeparately(t *testing.T) {
	rec := &saveRecorder{}
	a := newAutosaver(rec.save, time.Hour, discardLogger())

	a.Schedule(owner, uuid.New(), DraftRequest{Content: story.Content{1: "a"}})
	a.Schedule(owner, uuid.New(), DraftRequest{Content: story.Content{1: "b"}})
	a.Schedule("user-2", uuid.New(), DraftRequest{Content: story.Content{1: "c"}})
	a.Flush(context.Background())

	if rec.count() != 3 {
		t.Errorf("expected 3 saves, got %d", rec.count())
	}
}

func TestAutosaver_FiresAfterQuietPeriod(t *testing.T) {
	rec := &saveRecorder{done: make(chan struct{})}
	done := rec.done
	a := newAutosaver(rec.save, 10*time.Millisecond, discardLogger())

	a.Schedule(owner, uuid.New(), DraftRequest{Content: story.Content{3: "typed"}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("autosave never fired")
	}
	a.Flush(context.Background())
	if rec.count() != 1 {
		t.Errorf("expected one save, got %d", rec.count())
	}
}

func TestAutosaver_EmptyRequestIsNotWritten(t *testing.T) {
	rec := &saveRecorder{}
	a := newAutosaver(rec.save, time.Hour, discardLogger())

	a.Schedule(owner, uuid.New(), DraftRequest{})
	a.Flush(context.Background())

	if rec.count() != 0 {
		t.Errorf("expected no saves, got %d", rec.count())
	}
}

func TestAutosaver_SaveErrorIsDropped(t *testing.T) {
	rec := &saveRecorder{err: errors.New("db down")}
	a := newAutosaver(rec.save, time.Hour, discardLogger())

	a.Schedule(owner, uuid.New(), DraftRequest{Content: story.Content{1: "x"}})
	a.Flush(context.Background())

	if rec.count() != 1 || a.Pending() != 0 {
		t.Errorf("failed save should be attempted once and dropped, got %d saves %d pending", rec.count(), a.Pending())
	}
}

func TestDraftRequestMergeDoesNotAlias(t *testing.T) {
	base := DraftRequest{Content: story.Content{1: "a"}}
	merged := base.merge(DraftRequest{Content: story.Content{1: "b"}})
	if base.Content[1] != "a" {
		t.Errorf("merge mutated the receiver: %v", base.Content)
	}
	if merged.Content[1] != "b" {
		t.Errorf("expected newer value, got %q", merged.Content[1])
	}
}

func TestAutosaver_FlushKeySavesOneStory(t *testing.T) {
	rec := &saveRecorder{}
	a := newAutosaver(rec.save, time.Hour, discardLogger())
	target, other := uuid.New(), uuid.New()

	a.Schedule(owner, target, DraftRequest{Content: story.Content{5: "the phone rang"}})
	a.Schedule(owner, other, DraftRequest{Content: story.Content{1: "elsewhere"}})

	if err := a.FlushKey(context.Background(), owner, target); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.count() != 1 || rec.saves[0].id != target {
		t.Fatalf("expected only the target story saved, got %+v", rec.saves)
	}
	if a.Pending() != 1 {
		t.Errorf("other story should still be pending, got %d", a.Pending())
	}

	if err := a.FlushKey(context.Background(), owner, target); err != nil {
		t.Errorf("nothing pending should be a no-op, got %v", err)
	}
	if rec.count() != 1 {
		t.Errorf("expected no second save, got %d", rec.count())
	}
}

func TestAutosaver_FlushKeyReturnsSaveError(t *testing.T) {
	rec := &saveRecorder{err: story.ErrLocked}
	a := newAutosaver(rec.save, time.Hour, discardLogger())
	id := uuid.New()

	a.Schedule(owner, id, DraftRequest{Content: story.Content{2: "late"}})
	if err := a.FlushKey(context.Background(), owner, id); !errors.Is(err, story.ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}
}

func TestAutosaver_FlushKeyWaitsForRunningSave(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	save := func(ctx context.Context, owner string, id uuid.UUID, req DraftRequest) (story.Session, error) {
		close(started)
		<-release
		return story.Session{}, nil
	}
	a := newAutosaver(save, time.Millisecond, discardLogger())
	id := uuid.New()

	a.Schedule(owner, id, DraftRequest{Content: story.Content{3: "typing"}})
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for autosave to start")
	}

	flushed := make(chan error, 1)
	go func() { flushed <- a.FlushKey(context.Background(), owner, id) }()

	select {
	case err := <-flushed:
		t.Fatalf("flush returned before the running save finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-flushed:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for flush")
	}
}
