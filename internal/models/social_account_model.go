package models

import (
	"time"
)

type SocialAccount struct {
	ID                int64      `db:"id" json:"id"`
	UserID            int64      `db:"user_id" json:"user_id"`
	ExternalAccountID string     `db:"external_account_id" json:"external_account_id"`
	Username          string     `db:"username" json:"username"`
	AccessToken       string     `db:"access_token" json:"-"`
	TokenExpiresAt    *time.Time `db:"token_expires_at" json:"token_expires_at,omitempty"`
	IsActive          bool       `db:"is_active" json:"is_active"`
	IsBusiness        bool       `db:"is_business" json:"is_business"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}
