package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/sanctuary/internal/story"
)

const storyColumns = `id, user_id, owner_email, title, bucket, status, has_preamble, current_step,
	content_json, scores_json, inspiration_text, inspiration_image_ref, created_at, updated_at`

// CreateSession inserts a new draft.
func (s *Store) CreateSession(ctx context.Context, sess story.Session) error {
	content, err := json.Marshal(sess.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO stories (`+storyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL, $10, $11, $12, $13)`,
		sess.ID, sess.OwnerID, sess.OwnerEmail, sess.Title, string(sess.Bucket), string(sess.Status),
		sess.Preamble, sess.CurrentStep, content, sess.InspirationText, sess.InspirationImageRef,
		sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert story: %w", err)
	}
	return nil
}

// GetSession loads one story owned by owner.
func (s *Store) GetSession(ctx context.Context, owner string, id uuid.UUID) (story.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+storyColumns+`
		FROM stories
		WHERE id = $1 AND user_id = $2`,
		id, owner,
	)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return story.Session{}, ErrNotFound
	}
	if err != nil {
		return story.Session{}, fmt.Errorf("get story: %w", err)
	}
	return sess, nil
}

// ListSessions returns owner's stories, most recently updated first. An empty
// bucket lists every bucket.
func (s *Store) ListSessions(ctx context.Context, owner string, bucket story.Bucket) ([]story.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+storyColumns+`
		FROM stories
		WHERE user_id = $1 AND ($2 = '' OR bucket = $2 OR ($2 = 'industry' AND bucket = 'emotional'))
		ORDER BY updated_at DESC`,
		owner, string(bucket),
	)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	return collectSessions(rows)
}

// ListStaleDrafts returns every draft not touched since before, across owners.
func (s *Store) ListStaleDrafts(ctx context.Context, before time.Time) ([]story.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+storyColumns+`
		FROM stories
		WHERE status = 'draft' AND updated_at < $1
		ORDER BY user_id, updated_at DESC`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale drafts: %w", err)
	}
	return collectSessions(rows)
}

// UpdateDraft writes the mutable fields of a draft. It refuses to touch a
// story that has been locked in the meantime.
func (s *Store) UpdateDraft(ctx context.Context, sess story.Session) error {
	content, err := json.Marshal(sess.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE stories
		SET title = $3, current_step = $4, content_json = $5,
			inspiration_text = $6, inspiration_image_ref = $7, updated_at = $8
		WHERE id = $1 AND user_id = $2 AND status = 'draft'`,
		sess.ID, sess.OwnerID, sess.Title, sess.CurrentStep, content,
		sess.InspirationText, sess.InspirationImageRef, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update draft: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotDraft
	}
	return nil
}

// LockSession stores scores and flips status in one conditional update.
// It reports false when the story was no longer a draft.
func (s *Store) LockSession(ctx context.Context, sess story.Session) (bool, error) {
	if sess.Scores == nil {
		return false, fmt.Errorf("lock story %s: no scores", sess.ID)
	}
	content, err := json.Marshal(sess.Content)
	if err != nil {
		return false, fmt.Errorf("marshal content: %w", err)
	}
	scores, err := json.Marshal(sess.Scores)
	if err != nil {
		return false, fmt.Errorf("marshal scores: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE stories
		SET status = 'locked', scores_json = $3, content_json = $4, title = $5, updated_at = $6
		WHERE id = $1 AND user_id = $2 AND status = 'draft'`,
		sess.ID, sess.OwnerID, scores, content, sess.Title, sess.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("lock story: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func collectSessions(rows pgx.Rows) ([]story.Session, error) {
	defer rows.Close()
	var out []story.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}
	return out, nil
}

func scanSession(row pgx.Row) (story.Session, error) {
	var (
		sess          story.Session
		bucket        string
		status        string
		content       []byte
		scores        []byte
		ownerEmail    *string
		title         *string
		inspiration   *string
		inspirationID *string
	)
	err := row.Scan(
		&sess.ID, &sess.OwnerID, &ownerEmail, &title, &bucket, &status, &sess.Preamble, &sess.CurrentStep,
		&content, &scores, &inspiration, &inspirationID, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return story.Session{}, err
	}

	if sess.Bucket, err = story.ParseBucket(bucket); err != nil {
		return story.Session{}, err
	}
	sess.Status = story.Status(status)
	sess.OwnerEmail = deref(ownerEmail)
	sess.Title = deref(title)
	sess.InspirationText = deref(inspiration)
	sess.InspirationImageRef = deref(inspirationID)

	sess.Content = story.Content{}
	if len(content) > 0 {
		if err := json.Unmarshal(content, &sess.Content); err != nil {
			return story.Session{}, fmt.Errorf("decode content: %w", err)
		}
	}
	if len(scores) > 0 && string(scores) != "null" {
		var sc story.ScoreSet
		if err := json.Unmarshal(scores, &sc); err != nil {
			return story.Session{}, fmt.Errorf("decode scores: %w", err)
		}
		sess.Scores = &sc
	}
	return sess, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
