package instagram

import (
	"context"
	"time"

	"github.com/maheshrc27/postscheduler/internal/models"
)

// Client is the subset of the Instagram Graph API the publisher and the jobs depend on.
// Every call takes the decrypted access token of the account it acts for.
type Client interface {
	// UploadMedia creates a media container for a fetchable URL and returns the container id.
	UploadMedia(ctx context.Context, token string, media Media) (string, error)
	// PublishMedia publishes a finished container and returns the external post id.
	PublishMedia(ctx context.Context, token, creationID string) (string, error)
	// CreateCarouselPost groups uploaded children into a carousel container and publishes it.
	CreateCarouselPost(ctx context.Context, token string, children []string, caption, locationID string) (string, error)
	// ValidateToken reports false when the API rejects the token. Transport failures are returned as errors.
	ValidateToken(ctx context.Context, token string) (bool, error)
	GetAccountInsights(ctx context.Context, token string, period Period, since, until time.Time) ([]DailyMetrics, error)
	GetMediaInsights(ctx context.Context, token, externalPostID string) (Metrics, error)
}

// Media describes one container. Caption and LocationID are ignored for carousel items;
// the carousel container carries them instead.
type Media struct {
	URL          string
	Kind         models.Kind
	CarouselItem bool
	Caption      string
	LocationID   string
}

type Period string

const (
	PeriodDay      Period = "day"
	PeriodWeek     Period = "week"
	PeriodDays28   Period = "days_28"
	PeriodLifetime Period = "lifetime"
)

type DailyMetrics struct {
	Date time.Time
	Metrics
}
