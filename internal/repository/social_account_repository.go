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

var ErrAccountOwnedElsewhere = errors.New("social account is connected to another user")

type SocialAccountRepository interface {
	Create(ctx context.Context, sa *models.SocialAccount) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.SocialAccount, error)
	ListActive(ctx context.Context) ([]*models.SocialAccount, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
	CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error)
	SetActive(ctx context.Context, id int64, active bool) error
	UpdateToken(ctx context.Context, id int64, accessToken string, expiresAt time.Time) error
}

type socialAccountRepository struct {
	db *sqlx.DB
}

func NewSocialAccountRepository(db *sqlx.DB) SocialAccountRepository {
	return &socialAccountRepository{db: db}
}

// Create stores a connected account. Reconnecting an account the same user already owns
// refreshes its credential and reactivates it.
func (r *socialAccountRepository) Create(ctx context.Context, sa *models.SocialAccount) (int64, error) {
	query := `
		INSERT INTO social_accounts (user_id, external_account_id, username, access_token, token_expires_at, is_active, is_business)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (external_account_id) DO UPDATE
		SET username = EXCLUDED.username,
			access_token = EXCLUDED.access_token,
			token_expires_at = EXCLUDED.token_expires_at,
			is_active = EXCLUDED.is_active,
			is_business = EXCLUDED.is_business,
			updated_at = NOW()
		WHERE social_accounts.user_id = EXCLUDED.user_id
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		sa.UserID,
		sa.ExternalAccountID,
		sa.Username,
		sa.AccessToken,
		sa.TokenExpiresAt,
		sa.IsActive,
		sa.IsBusiness,
	).Scan(&sa.ID, &sa.CreatedAt, &sa.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrAccountOwnedElsewhere
	}
	if err != nil {
		return 0, fmt.Errorf("inserting social account: %w", err)
	}
	return sa.ID, nil
}

func (r *socialAccountRepository) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	query := `SELECT * FROM social_accounts WHERE id = $1`

	var sa models.SocialAccount
	if err := r.db.GetContext(ctx, &sa, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching social account %d: %w", id, err)
	}
	return &sa, nil
}

func (r *socialAccountRepository) ListActive(ctx context.Context) ([]*models.SocialAccount, error) {
	query := `SELECT * FROM social_accounts WHERE is_active ORDER BY id`

	accounts := []*models.SocialAccount{}
	if err := r.db.SelectContext(ctx, &accounts, query); err != nil {
		return nil, fmt.Errorf("listing active social accounts: %w", err)
	}
	return accounts, nil
}

func (r *socialAccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	query := `SELECT * FROM social_accounts WHERE user_id = $1 ORDER BY id`

	accounts := []*models.SocialAccount{}
	if err := r.db.SelectContext(ctx, &accounts, query, userID); err != nil {
		return nil, fmt.Errorf("listing social accounts of user %d: %w", userID, err)
	}
	return accounts, nil
}

func (r *socialAccountRepository) CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error) {
	query := "SELECT 1 FROM social_accounts WHERE id = $1 AND user_id = $2"

	var result int
	err := r.db.QueryRowxContext(ctx, query, accountID, userID).Scan(&result)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("checking owner of social account %d: %w", accountID, err)
	}

	return result == 1, nil
}

func (r *socialAccountRepository) SetActive(ctx context.Context, id int64, active bool) error {
	query := `
		UPDATE social_accounts
		SET is_active = $1,
			updated_at = NOW()
		WHERE id = $2
	`
	if _, err := r.db.ExecContext(ctx, query, active, id); err != nil {
		return fmt.Errorf("setting social account %d active=%t: %w", id, active, err)
	}
	return nil
}

func (r *socialAccountRepository) UpdateToken(ctx context.Context, id int64, accessToken string, expiresAt time.Time) error {
	query := `
		UPDATE social_accounts
		SET access_token = $1,
			token_expires_at = $2,
			updated_at = NOW()
		WHERE id = $3
	`
	if _, err := r.db.ExecContext(ctx, query, accessToken, expiresAt, id); err != nil {
		return fmt.Errorf("updating token of social account %d: %w", id, err)
	}
	return nil
}
