package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/maheshrc27/postscheduler/internal/instagram"
	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/pkg/utils"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type fakeLock struct {
	mu       sync.Mutex
	held     map[string]bool
	err      error
	released int
}

func (l *fakeLock) Acquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		l.released++
	}, true, nil
}

type fakeClient struct {
	mu sync.Mutex

	// tokens maps a decrypted token to its validity. Unknown tokens fail with validateErr.
	tokens      map[string]bool
	validateErr error

	refreshErr error
	refreshed  []string

	metrics    map[string]instagram.Metrics
	insightErr map[string]error
	requested  []string

	// daily and dailyErr are keyed by token.
	daily          map[string][]instagram.DailyMetrics
	dailyErr       map[string]error
	dailyRequested []string
}

func (f *fakeClient) UploadMedia(context.Context, string, instagram.Media) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeClient) PublishMedia(context.Context, string, string) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeClient) CreateCarouselPost(context.Context, string, []string, string, string) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeClient) ValidateToken(_ context.Context, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	valid, ok := f.tokens[token]
	if !ok {
		return false, f.validateErr
	}
	return valid, nil
}

func (f *fakeClient) RefreshLongLivedToken(_ context.Context, token string) (instagram.LongLivedToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return instagram.LongLivedToken{}, f.refreshErr
	}
	f.refreshed = append(f.refreshed, token)
	return instagram.LongLivedToken{AccessToken: token + "-refreshed", ExpiresIn: 60 * 24 * 3600}, nil
}

func (f *fakeClient) GetAccountInsights(_ context.Context, token string, _ instagram.Period, _, _ time.Time) ([]instagram.DailyMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dailyRequested = append(f.dailyRequested, token)
	if err := f.dailyErr[token]; err != nil {
		return nil, err
	}
	return f.daily[token], nil
}

func (f *fakeClient) GetMediaInsights(_ context.Context, _ string, externalID string) (instagram.Metrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, externalID)
	if err := f.insightErr[externalID]; err != nil {
		return instagram.Metrics{}, err
	}
	return f.metrics[externalID], nil
}

func sealToken(t *testing.T, token string) string {
	t.Helper()
	sealed, err := utils.Encrypt([]byte(token), []byte(testSecret))
	require.NoError(t, err)
	return sealed
}

func strPtr(s string) *string { return &s }

func post(status models.Status, scheduledFor, updatedAt time.Time, retry, maxRetries int) *models.ScheduledPost {
	return &models.ScheduledPost{
		AccountID:    1,
		Kind:         models.KindFeed,
		MediaRefs:    []string{"a.jpg"},
		ScheduledFor: scheduledFor,
		Status:       status,
		RetryCount:   retry,
		MaxRetries:   maxRetries,
		CreatedAt:    updatedAt,
		UpdatedAt:    updatedAt,
	}
}
