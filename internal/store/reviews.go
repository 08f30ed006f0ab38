package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sanctuary/internal/analysis"
)

// ReviewRecord is one stored fidelity review of a published rewrite.
type ReviewRecord struct {
	ID            uuid.UUID       `json:"id"`
	StoryID       uuid.UUID       `json:"storyId"`
	OwnerID       string          `json:"-"`
	PublishedText string          `json:"publishedText"`
	Review        analysis.Review `json:"review"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// InsertReview appends a review. Reviews are never updated.
func (s *Store) InsertReview(ctx context.Context, r ReviewRecord) error {
	body, err := json.Marshal(r.Review)
	if err != nil {
		return fmt.Errorf("marshal review: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO story_reviews (id, story_id, user_id, published_text, review_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.StoryID, r.OwnerID, r.PublishedText, body, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// ListReviews returns a story's reviews newest first.
func (s *Store) ListReviews(ctx context.Context, owner string, storyID uuid.UUID) ([]ReviewRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, story_id, user_id, published_text, review_json, created_at
		FROM story_reviews
		WHERE story_id = $1 AND user_id = $2
		ORDER BY created_at DESC, id DESC`,
		storyID, owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var out []ReviewRecord
	for rows.Next() {
		var (
			r    ReviewRecord
			body []byte
		)
		if err := rows.Scan(&r.ID, &r.StoryID, &r.OwnerID, &r.PublishedText, &body, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		if err := json.Unmarshal(body, &r.Review); err != nil {
			return nil, fmt.Errorf("decode review %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return out, nil
}
