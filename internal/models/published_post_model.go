package models

import "time"

type PublishedStatus string

const (
	PublishedStatusPublished PublishedStatus = "published"
	PublishedStatusArchived  PublishedStatus = "archived"
)

type PublishedPost struct {
	ID          int64           `db:"id" json:"id"`
	AccountID   int64           `db:"account_id" json:"account_id"`
	ExternalID  string          `db:"external_id" json:"external_id"`
	Caption     *string         `db:"caption" json:"caption,omitempty"`
	Kind        Kind            `db:"kind" json:"kind"`
	Status      PublishedStatus `db:"status" json:"status"`
	Likes       int64           `db:"likes" json:"likes"`
	Comments    int64           `db:"comments" json:"comments"`
	Shares      int64           `db:"shares" json:"shares"`
	Impressions int64           `db:"impressions" json:"impressions"`
	Reach       int64           `db:"reach" json:"reach"`
	PublishedAt time.Time       `db:"published_at" json:"published_at"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Engagement holds the counters the insights sync writes back onto a PublishedPost.
type Engagement struct {
	Likes       int64
	Comments    int64
	Shares      int64
	Impressions int64
	Reach       int64
}
