package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/maheshrc27/postscheduler/internal/models"
)

// ErrStaleStatus is returned when a conditional write finds the record no longer in the expected status.
var ErrStaleStatus = errors.New("scheduled post status changed concurrently")

type ScheduledPostRepository interface {
	Create(ctx context.Context, post *models.ScheduledPost) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.ScheduledPost, error)
	List(ctx context.Context, filter models.ScheduledPostFilter) ([]*models.ScheduledPost, error)
	Stats(ctx context.Context, accountID int64) (*models.ScheduledPostStats, error)

	// Claim moves a record from PENDING to PROCESSING in a single conditional write.
	// It reports false when another execution already moved the record.
	Claim(ctx context.Context, id int64) (bool, error)
	// Save writes every mutable field of post, but only while the stored status equals expected.
	// A status change outside the lifecycle table fails with *models.ErrNoTransition before any write.
	Save(ctx context.Context, post *models.ScheduledPost, expected models.Status) (bool, error)
	// MarkPublished stores the PublishedPost and links it to a PROCESSING record in one transaction.
	MarkPublished(ctx context.Context, id int64, published *models.PublishedPost) error

	ListByStatusUpdatedBefore(ctx context.Context, status models.Status, cutoff time.Time, limit int) ([]*models.ScheduledPost, error)
	ListRetryableFailed(ctx context.Context, limit int) ([]*models.ScheduledPost, error)
	CancelPastDue(ctx context.Context, cutoff time.Time, reason string, limit int) ([]*models.ScheduledPost, error)
	DeleteExhaustedFailedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Remove(ctx context.Context, id int64) error
}

type scheduledPostRepository struct {
	db *sqlx.DB
}

func NewScheduledPostRepository(db *sqlx.DB) ScheduledPostRepository {
	return &scheduledPostRepository{db: db}
}

const scheduledPostColumns = `id, account_id, caption, tags, kind, media_refs, location_id, location_name,
	scheduled_for, status, retry_count, max_retries, last_error, dispatch_handle,
	published_post_id, published_post_external_id, published_at, created_at, updated_at`

func (r *scheduledPostRepository) Create(ctx context.Context, post *models.ScheduledPost) (int64, error) {
	query := `
		INSERT INTO scheduled_posts (account_id, caption, tags, kind, media_refs, location_id, location_name,
			scheduled_for, status, retry_count, max_retries, dispatch_handle)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`

	row := r.db.QueryRowxContext(ctx, query,
		post.AccountID,
		post.Caption,
		post.Tags,
		post.Kind,
		post.MediaRefs,
		post.LocationID,
		post.LocationName,
		post.ScheduledFor,
		post.Status,
		post.RetryCount,
		post.MaxRetries,
		post.DispatchHandle,
	)
	if err := row.Scan(&post.ID, &post.CreatedAt, &post.UpdatedAt); err != nil {
		return 0, fmt.Errorf("inserting scheduled post: %w", err)
	}

	return post.ID, nil
}

func (r *scheduledPostRepository) GetByID(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	query := `SELECT ` + scheduledPostColumns + ` FROM scheduled_posts WHERE id = $1`

	var post models.ScheduledPost
	if err := r.db.GetContext(ctx, &post, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching scheduled post %d: %w", id, err)
	}

	return &post, nil
}

func (r *scheduledPostRepository) List(ctx context.Context, filter models.ScheduledPostFilter) ([]*models.ScheduledPost, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.AccountID != 0 {
		where = append(where, "account_id = "+arg(filter.AccountID))
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(filter.Status))
	}
	if !filter.From.IsZero() {
		where = append(where, "scheduled_for >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "scheduled_for < "+arg(filter.To))
	}

	query := `SELECT ` + scheduledPostColumns + ` FROM scheduled_posts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY scheduled_for ASC, id ASC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT " + arg(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	posts := []*models.ScheduledPost{}
	if err := r.db.SelectContext(ctx, &posts, query, args...); err != nil {
		return nil, fmt.Errorf("listing scheduled posts: %w", err)
	}
	return posts, nil
}

func (r *scheduledPostRepository) Stats(ctx context.Context, accountID int64) (*models.ScheduledPostStats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'processing') AS processing,
			COUNT(*) FILTER (WHERE status = 'published') AS published,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled
		FROM scheduled_posts
		WHERE ($1::BIGINT = 0 OR account_id = $1)
	`

	var stats models.ScheduledPostStats
	if err := r.db.GetContext(ctx, &stats, query, accountID); err != nil {
		return nil, fmt.Errorf("counting scheduled posts: %w", err)
	}
	return &stats, nil
}

func (r *scheduledPostRepository) Claim(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET status = $1,
			updated_at = NOW()
		WHERE id = $2 AND status = $3
	`
	res, err := r.db.ExecContext(ctx, query, models.StatusProcessing, id, models.StatusPending)
	if err != nil {
		return false, fmt.Errorf("claiming scheduled post %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming scheduled post %d: %w", id, err)
	}
	return affected == 1, nil
}

func (r *scheduledPostRepository) Save(ctx context.Context, post *models.ScheduledPost, expected models.Status) (bool, error) {
	if err := models.CheckTransition(expected, post.Status); err != nil {
		return false, fmt.Errorf("saving scheduled post %d: %w", post.ID, err)
	}

	query := `
		UPDATE scheduled_posts
		SET caption = $1,
			tags = $2,
			media_refs = $3,
			location_id = $4,
			location_name = $5,
			scheduled_for = $6,
			status = $7,
			retry_count = $8,
			max_retries = $9,
			last_error = $10,
			dispatch_handle = $11,
			updated_at = NOW()
		WHERE id = $12 AND status = $13
		RETURNING updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		post.Caption,
		post.Tags,
		post.MediaRefs,
		post.LocationID,
		post.LocationName,
		post.ScheduledFor,
		post.Status,
		post.RetryCount,
		post.MaxRetries,
		post.LastError,
		post.DispatchHandle,
		post.ID,
		expected,
	).Scan(&post.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("saving scheduled post %d: %w", post.ID, err)
	}
	return true, nil
}

func (r *scheduledPostRepository) MarkPublished(ctx context.Context, id int64, published *models.PublishedPost) (err error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("starting publish transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = insertPublishedPost(ctx, tx, published); err != nil {
		return err
	}

	query := `
		UPDATE scheduled_posts
		SET status = $1,
			published_post_id = $2,
			published_post_external_id = $3,
			published_at = $4,
			last_error = NULL,
			dispatch_handle = NULL,
			updated_at = NOW()
		WHERE id = $5 AND status = $6
	`
	res, err := tx.ExecContext(ctx, query,
		models.StatusPublished,
		published.ID,
		published.ExternalID,
		published.PublishedAt,
		id,
		models.StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("linking published post to %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("linking published post to %d: %w", id, err)
	}
	if affected != 1 {
		err = ErrStaleStatus
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing publish of %d: %w", id, err)
	}
	return nil
}

func (r *scheduledPostRepository) ListByStatusUpdatedBefore(ctx context.Context, status models.Status, cutoff time.Time, limit int) ([]*models.ScheduledPost, error) {
	query := `SELECT ` + scheduledPostColumns + `
		FROM scheduled_posts
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`

	posts := []*models.ScheduledPost{}
	if err := r.db.SelectContext(ctx, &posts, query, status, cutoff, limit); err != nil {
		return nil, fmt.Errorf("listing %s posts updated before %s: %w", status, cutoff.Format(time.RFC3339), err)
	}
	return posts, nil
}

func (r *scheduledPostRepository) ListRetryableFailed(ctx context.Context, limit int) ([]*models.ScheduledPost, error) {
	query := `SELECT ` + scheduledPostColumns + `
		FROM scheduled_posts
		WHERE status = $1 AND retry_count < max_retries
		ORDER BY updated_at ASC
		LIMIT $2`

	posts := []*models.ScheduledPost{}
	if err := r.db.SelectContext(ctx, &posts, query, models.StatusFailed, limit); err != nil {
		return nil, fmt.Errorf("listing retryable failed posts: %w", err)
	}
	return posts, nil
}

func (r *scheduledPostRepository) CancelPastDue(ctx context.Context, cutoff time.Time, reason string, limit int) ([]*models.ScheduledPost, error) {
	query := `
		UPDATE scheduled_posts
		SET status = $1,
			last_error = $2,
			updated_at = NOW()
		WHERE id IN (
			SELECT id FROM scheduled_posts
			WHERE status = $3 AND scheduled_for < $4
			ORDER BY scheduled_for ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		) AND status = $3
		RETURNING ` + scheduledPostColumns

	posts := []*models.ScheduledPost{}
	if err := r.db.SelectContext(ctx, &posts, query, models.StatusCancelled, reason, models.StatusPending, cutoff, limit); err != nil {
		return nil, fmt.Errorf("cancelling past-due posts: %w", err)
	}
	return posts, nil
}

func (r *scheduledPostRepository) DeleteExhaustedFailedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM scheduled_posts
		WHERE status = $1 AND retry_count >= max_retries AND updated_at < $2
	`
	res, err := r.db.ExecContext(ctx, query, models.StatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging failed posts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purging failed posts: %w", err)
	}
	return n, nil
}

func (r *scheduledPostRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM scheduled_posts WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("removing scheduled post %d: %w", id, err)
	}
	return nil
}
