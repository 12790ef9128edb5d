package transfer

import (
	"time"

	"github.com/maheshrc27/postscheduler/internal/models"
)

type ScheduledPostCreation struct {
	AccountID    int64       `json:"account_id"`
	Caption      *string     `json:"caption"`
	Tags         []string    `json:"tags"`
	Kind         models.Kind `json:"kind"`
	MediaRefs    []string    `json:"media_refs"`
	LocationID   *string     `json:"location_id"`
	LocationName *string     `json:"location_name"`
	ScheduledFor time.Time   `json:"scheduled_for"`
	MaxRetries   *int        `json:"max_retries"`
}

// ScheduledPostUpdate carries content edits. Nil fields are left unchanged.
type ScheduledPostUpdate struct {
	Caption      *string   `json:"caption"`
	Tags         *[]string `json:"tags"`
	MediaRefs    *[]string `json:"media_refs"`
	LocationID   *string   `json:"location_id"`
	LocationName *string   `json:"location_name"`
}

type Reschedule struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

type CalendarDay struct {
	Date  string                  `json:"date"`
	Posts []*models.ScheduledPost `json:"posts"`
}
