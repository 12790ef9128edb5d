package models

import (
	"time"

	"github.com/lib/pq"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusPublished, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type Kind string

const (
	KindFeed  Kind = "feed"
	KindStory Kind = "story"
	KindReel  Kind = "reel"
)

// MaxCarouselItems is the Graph API limit for children of a carousel container.
const MaxCarouselItems = 10

const DefaultMaxRetries = 3

func (k Kind) Valid() bool {
	switch k {
	case KindFeed, KindStory, KindReel:
		return true
	}
	return false
}

// RequiresMedia reports whether a post of this kind can only be published with media attached.
// The content API has no text-only publish for any kind.
func (k Kind) RequiresMedia() bool {
	return k.Valid()
}

// MediaLimit is the maximum number of media references a post of this kind may carry.
func (k Kind) MediaLimit() int {
	if k == KindFeed {
		return MaxCarouselItems
	}
	return 1
}

type ScheduledPost struct {
	ID           int64          `db:"id" json:"id"`
	AccountID    int64          `db:"account_id" json:"account_id"`
	Caption      *string        `db:"caption" json:"caption,omitempty"`
	Tags         pq.StringArray `db:"tags" json:"tags"`
	Kind         Kind           `db:"kind" json:"kind"`
	MediaRefs    pq.StringArray `db:"media_refs" json:"media_refs"`
	LocationID   *string        `db:"location_id" json:"location_id,omitempty"`
	LocationName *string        `db:"location_name" json:"location_name,omitempty"`
	ScheduledFor time.Time      `db:"scheduled_for" json:"scheduled_for"`
	Status       Status         `db:"status" json:"status"`
	RetryCount   int            `db:"retry_count" json:"retry_count"`
	MaxRetries   int            `db:"max_retries" json:"max_retries"`
	LastError    *string        `db:"last_error" json:"last_error,omitempty"`

	DispatchHandle *string `db:"dispatch_handle" json:"dispatch_handle,omitempty"`

	PublishedPostID         *int64     `db:"published_post_id" json:"published_post_id,omitempty"`
	PublishedPostExternalID *string    `db:"published_post_external_id" json:"published_post_external_id,omitempty"`
	PublishedAt             *time.Time `db:"published_at" json:"published_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (p *ScheduledPost) RetriesExhausted() bool {
	return p.RetryCount >= p.MaxRetries
}

// Terminal reports whether no automatic transition can leave the current status.
func (p *ScheduledPost) Terminal() bool {
	switch p.Status {
	case StatusPublished, StatusCancelled:
		return true
	case StatusFailed:
		return p.RetriesExhausted()
	}
	return false
}

// FullCaption joins the caption and the tag list the way it is sent to the content API.
func (p *ScheduledPost) FullCaption() string {
	caption := ""
	if p.Caption != nil {
		caption = *p.Caption
	}
	for _, tag := range p.Tags {
		if tag == "" {
			continue
		}
		if tag[0] != '#' {
			tag = "#" + tag
		}
		if caption != "" {
			caption += " "
		}
		caption += tag
	}
	return caption
}

// ScheduledPostFilter narrows read-side listings. Zero values mean "no filter".
type ScheduledPostFilter struct {
	AccountID int64
	Status    Status
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

type ScheduledPostStats struct {
	Total      int `db:"total" json:"total_scheduled"`
	Pending    int `db:"pending" json:"pending"`
	Processing int `db:"processing" json:"processing"`
	Published  int `db:"published" json:"published"`
	Failed     int `db:"failed" json:"failed"`
	Cancelled  int `db:"cancelled" json:"cancelled"`
}
