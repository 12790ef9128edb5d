package models

import "time"

// AccountInsight is one UTC day of account-level reach for a connected account.
type AccountInsight struct {
	AccountID     int64     `db:"account_id" json:"account_id"`
	Date          time.Time `db:"date" json:"date"`
	Impressions   int64     `db:"impressions" json:"impressions"`
	Reach         int64     `db:"reach" json:"reach"`
	ProfileViews  int64     `db:"profile_views" json:"profile_views"`
	WebsiteClicks int64     `db:"website_clicks" json:"website_clicks"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
