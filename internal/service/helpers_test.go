package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	config "github.com/maheshrc27/postscheduler/configs"
	"github.com/maheshrc27/postscheduler/internal/instagram"
	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/queue/queuetest"
	"github.com/maheshrc27/postscheduler/internal/repository/repotest"
	"github.com/maheshrc27/postscheduler/pkg/utils"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeClient struct {
	mu sync.Mutex

	invalidToken bool
	validateErr  error
	// publishErr, when set, fails the nth publish attempt (1-based).
	publishErr func(n int) error
	// block makes uploads wait for the context to expire.
	block bool

	attempts  int
	uploads   []instagram.Media
	carousels [][]string
	published []string
	captions  []string
}

func (f *fakeClient) UploadMedia(ctx context.Context, _ string, media instagram.Media) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, media)
	if !media.CarouselItem {
		f.captions = append(f.captions, media.Caption)
	}
	return fmt.Sprintf("container-%d", len(f.uploads)), nil
}

func (f *fakeClient) PublishMedia(_ context.Context, _ string, creationID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.publishErr != nil {
		if err := f.publishErr(f.attempts); err != nil {
			return "", err
		}
	}
	f.published = append(f.published, creationID)
	return "ext-" + creationID, nil
}

func (f *fakeClient) CreateCarouselPost(ctx context.Context, token string, children []string, caption, _ string) (string, error) {
	f.mu.Lock()
	f.carousels = append(f.carousels, append([]string(nil), children...))
	f.captions = append(f.captions, caption)
	f.mu.Unlock()
	return f.PublishMedia(ctx, token, "carousel")
}

func (f *fakeClient) ValidateToken(_ context.Context, token string) (bool, error) {
	if f.validateErr != nil {
		return false, f.validateErr
	}
	return !f.invalidToken && token == "ig-token", nil
}

func (f *fakeClient) GetAccountInsights(context.Context, string, instagram.Period, time.Time, time.Time) ([]instagram.DailyMetrics, error) {
	return nil, nil
}

func (f *fakeClient) GetMediaInsights(context.Context, string, string) (instagram.Metrics, error) {
	return instagram.Metrics{}, nil
}

func (f *fakeClient) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type testEnv struct {
	store   *repotest.Store
	disp    *queuetest.Dispatcher
	client  *fakeClient
	clock   *clock
	sched   *schedulingService
	pub     *publisherService
	account *models.SocialAccount
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clk := &clock{t: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	store := repotest.NewStore()
	store.SetNow(clk.Now)
	disp := &queuetest.Dispatcher{}
	client := &fakeClient{}

	token, err := utils.Encrypt([]byte("ig-token"), []byte(testSecret))
	require.NoError(t, err)
	account := store.PutAccount(&models.SocialAccount{
		UserID:            1,
		ExternalAccountID: "17841400000",
		Username:          "acme",
		AccessToken:       token,
		IsActive:          true,
		IsBusiness:        true,
	})

	cfg := testSchedulerConfig()

	sched := NewSchedulingService(cfg, store.ScheduledPosts(), store.SocialAccounts(), disp, zerolog.Nop()).(*schedulingService)
	sched.now = clk.Now

	media := &mediaResolver{baseURL: "https://media.example.com"}
	pub := NewPublisherService(cfg, testSecret, store.ScheduledPosts(), store.SocialAccounts(), disp, client, media, zerolog.Nop()).(*publisherService)
	pub.now = clk.Now

	return &testEnv{
		store:   store,
		disp:    disp,
		client:  client,
		clock:   clk,
		sched:   sched,
		pub:     pub,
		account: account,
	}
}

func testSchedulerConfig() config.Scheduler {
	return config.Scheduler{
		DefaultMaxRetries: 3,
		RetryBackoff:      5 * time.Minute,
		PublishTimeout:    time.Second,
	}
}

func strPtr(s string) *string { return &s }
