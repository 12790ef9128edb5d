package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/maheshrc27/postscheduler/internal/models"
)

type PublishedPostRepository interface {
	GetByID(ctx context.Context, id int64) (*models.PublishedPost, error)
	ListPublishedSince(ctx context.Context, since time.Time, limit int) ([]*models.PublishedPost, error)
	UpdateEngagement(ctx context.Context, id int64, e models.Engagement) error
}

type publishedPostRepository struct {
	db *sqlx.DB
}

func NewPublishedPostRepository(db *sqlx.DB) PublishedPostRepository {
	return &publishedPostRepository{db: db}
}

// insertPublishedPost runs inside the transaction that links the scheduled post.
func insertPublishedPost(ctx context.Context, tx *sqlx.Tx, p *models.PublishedPost) error {
	query := `
		INSERT INTO published_posts (account_id, external_id, caption, kind, status, published_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	if p.Status == "" {
		p.Status = models.PublishedStatusPublished
	}

	err := tx.QueryRowxContext(ctx, query,
		p.AccountID,
		p.ExternalID,
		p.Caption,
		p.Kind,
		p.Status,
		p.PublishedAt,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting published post %s: %w", p.ExternalID, err)
	}
	return nil
}

func (r *publishedPostRepository) GetByID(ctx context.Context, id int64) (*models.PublishedPost, error) {
	query := `SELECT * FROM published_posts WHERE id = $1`

	var p models.PublishedPost
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching published post %d: %w", id, err)
	}
	return &p, nil
}

func (r *publishedPostRepository) ListPublishedSince(ctx context.Context, since time.Time, limit int) ([]*models.PublishedPost, error) {
	query := `
		SELECT * FROM published_posts
		WHERE status = $1 AND published_at >= $2
		ORDER BY published_at DESC
		LIMIT $3
	`

	posts := []*models.PublishedPost{}
	if err := r.db.SelectContext(ctx, &posts, query, models.PublishedStatusPublished, since, limit); err != nil {
		return nil, fmt.Errorf("listing published posts: %w", err)
	}
	return posts, nil
}

func (r *publishedPostRepository) UpdateEngagement(ctx context.Context, id int64, e models.Engagement) error {
	query := `
		UPDATE published_posts
		SET likes = $1,
			comments = $2,
			shares = $3,
			impressions = $4,
			reach = $5,
			updated_at = NOW()
		WHERE id = $6
	`
	if _, err := r.db.ExecContext(ctx, query, e.Likes, e.Comments, e.Shares, e.Impressions, e.Reach, id); err != nil {
		return fmt.Errorf("updating engagement of published post %d: %w", id, err)
	}
	return nil
}
