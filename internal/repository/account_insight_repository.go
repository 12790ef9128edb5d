package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/maheshrc27/postscheduler/internal/models"
)

type AccountInsightRepository interface {
	// Upsert stores each day, replacing the counters of days already stored.
	Upsert(ctx context.Context, rows []*models.AccountInsight) error
	ListByAccount(ctx context.Context, accountID int64, since time.Time) ([]*models.AccountInsight, error)
}

type accountInsightRepository struct {
	db *sqlx.DB
}

func NewAccountInsightRepository(db *sqlx.DB) AccountInsightRepository {
	return &accountInsightRepository{db: db}
}

func (r *accountInsightRepository) Upsert(ctx context.Context, rows []*models.AccountInsight) (err error) {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("starting insights transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
		INSERT INTO account_insights (account_id, date, impressions, reach, profile_views, website_clicks)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, date) DO UPDATE
		SET impressions = EXCLUDED.impressions,
			reach = EXCLUDED.reach,
			profile_views = EXCLUDED.profile_views,
			website_clicks = EXCLUDED.website_clicks,
			updated_at = NOW()
	`
	for _, row := range rows {
		if _, err = tx.ExecContext(ctx, query,
			row.AccountID,
			row.Date.UTC().Format(time.DateOnly),
			row.Impressions,
			row.Reach,
			row.ProfileViews,
			row.WebsiteClicks,
		); err != nil {
			return fmt.Errorf("storing insights of account %d for %s: %w", row.AccountID, row.Date.Format(time.DateOnly), err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing account insights: %w", err)
	}
	return nil
}

func (r *accountInsightRepository) ListByAccount(ctx context.Context, accountID int64, since time.Time) ([]*models.AccountInsight, error) {
	query := `
		SELECT * FROM account_insights
		WHERE account_id = $1 AND date >= $2
		ORDER BY date ASC
	`

	rows := []*models.AccountInsight{}
	if err := r.db.SelectContext(ctx, &rows, query, accountID, since.UTC().Format(time.DateOnly)); err != nil {
		return nil, fmt.Errorf("listing insights of account %d: %w", accountID, err)
	}
	return rows, nil
}
