package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/maheshrc27/postscheduler/internal/instagram"
	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/repository"
	"github.com/maheshrc27/postscheduler/internal/transfer"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertPublishedLink(t *testing.T, p *models.ScheduledPost) {
	t.Helper()
	assert.Equal(t, p.Status == models.StatusPublished, p.PublishedPostID != nil, "published_post_id must be set iff PUBLISHED")
	assert.LessOrEqual(t, p.RetryCount, p.MaxRetries)
}

func TestOnSignal_PublishesSingleMedia(t *testing.T) {
	env := newTestEnv(t)
	post := env.create(t, transfer.ScheduledPostCreation{
		Caption: strPtr("launch"),
		Tags:    []string{"go"},
	})
	env.clock.Advance(time.Hour)

	require.NoError(t, env.pub.OnSignal(context.Background(), post.ID))

	got := env.store.Post(post.ID)
	assert.Equal(t, models.StatusPublished, got.Status)
	require.NotNil(t, got.PublishedPostID)
	assert.Equal(t, "ext-container-1", *got.PublishedPostExternalID)
	assert.Nil(t, got.DispatchHandle)
	assertPublishedLink(t, got)

	published := env.store.Published(*got.PublishedPostID)
	require.NotNil(t, published)
	assert.Equal(t, "ext-container-1", published.ExternalID)
	assert.Equal(t, "launch #go", *published.Caption)
	assert.Zero(t, published.Likes)

	require.Len(t, env.client.uploads, 1)
	assert.Equal(t, "https://media.example.com/uploads/photo.jpg", env.client.uploads[0].URL)
	assert.False(t, env.client.uploads[0].CarouselItem)
	assert.Equal(t, []string{"launch #go"}, env.client.captions)
}

func TestOnSignal_PublishesCarousel(t *testing.T) {
	env := newTestEnv(t)
	post := env.create(t, transfer.ScheduledPostCreation{
		MediaRefs: []string{"a.jpg", "https://cdn.example.com/b.jpg", "c.mp4"},
	})
	env.clock.Advance(time.Hour)

	require.NoError(t, env.pub.OnSignal(context.Background(), post.ID))

	assert.Equal(t, models.StatusPublished, env.store.Post(post.ID).Status)
	require.Len(t, env.client.carousels, 1)
	assert.Equal(t, []string{"container-1", "container-2", "container-3"}, env.client.carousels[0])
	for _, u := range env.client.uploads {
		assert.True(t, u.CarouselItem)
	}
	assert.Equal(t, "https://cdn.example.com/b.jpg", env.client.uploads[1].URL)
}

func TestOnSignal_IgnoresNonPendingAndUnknown(t *testing.T) {
	env := newTestEnv(t)
	pid := int64(1)
	post := env.store.Put(&models.ScheduledPost{
		AccountID:       env.account.ID,
		Kind:            models.KindFeed,
		MediaRefs:       []string{"a.jpg"},
		Status:          models.StatusPublished,
		PublishedPostID: &pid,
		ScheduledFor:    env.clock.Now(),
	})

	require.NoError(t, env.pub.OnSignal(context.Background(), post.ID))
	require.NoError(t, env.pub.OnSignal(context.Background(), 12345))
	assert.Zero(t, env.client.publishCount())
	assert.Equal(t, models.StatusPublished, env.store.Post(post.ID).Status)
}

func TestOnSignal_IgnoresEarlySignal(t *testing.T) {
	env := newTestEnv(t)
	post := env.create(t, transfer.ScheduledPostCreation{})

	require.NoError(t, env.pub.OnSignal(context.Background(), post.ID))

	assert.Equal(t, models.StatusPending, env.store.Post(post.ID).Status)
	assert.Zero(t, env.client.publishCount())
}

// barrierPosts holds every GetByID until all expected readers have loaded the record.
type barrierPosts struct {
	repository.ScheduledPostRepository
	wg *sync.WaitGroup
}

func (b barrierPosts) GetByID(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	p, err := b.ScheduledPostRepository.GetByID(ctx, id)
	b.wg.Done()
	b.wg.Wait()
	return p, err
}

func TestOnSignal_ConcurrentClaim(t *testing.T) {
	env := newTestEnv(t)
	post := env.create(t, transfer.ScheduledPostCreation{})
	env.clock.Advance(time.Hour)

	var readers sync.WaitGroup
	readers.Add(2)
	posts := barrierPosts{ScheduledPostRepository: env.store.ScheduledPosts(), wg: &readers}

	newExecutor := func() *publisherService {
		p := NewPublisherService(testSchedulerConfig(), testSecret, posts, env.store.SocialAccounts(), env.disp, env.client, env.pub.media, zerolog.Nop()).(*publisherService)
		p.now = env.clock.Now
		return p
	}
	a, b := newExecutor(), newExecutor()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, exec := range []*publisherService{a, b} {
		wg.Add(1)
		go func(i int, exec *publisherService) {
			defer wg.Done()
			errs[i] = exec.OnSignal(context.Background(), post.ID)
		}(i, exec)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, env.client.publishCount())
	assert.Equal(t, models.StatusPublished, env.store.Post(post.ID).Status)
}

func TestOnSignal_RetriesUntilExhausted(t *testing.T) {
	env := newTestEnv(t)
	env.client.publishErr = func(n int) error { return fmt.Errorf("media rejected #%d", n) }

	post := env.create(t, transfer.ScheduledPostCreation{MediaRefs: []string{"uploads/one.jpg"}})
	assert.Equal(t, models.StatusPending, post.Status)
	assert.Zero(t, post.RetryCount)
	handles := map[string]bool{*post.DispatchHandle: true}

	env.clock.Advance(time.Hour)
	for attempt := 1; attempt <= 2; attempt++ {
		require.NoError(t, env.pub.OnSignal(context.Background(), post.ID))

		got := env.store.Post(post.ID)
		assert.Equal(t, models.StatusPending, got.Status)
		assert.Equal(t, attempt, got.RetryCount)
		assert.Contains(t, *got.LastError, fmt.Sprintf("media rejected #%d", attempt))
		assert.Contains(t, *got.LastError, string(CodePublishFailed))

		retryAt := env.clock.Now().Add(5 * time.Minute)
		assert.True(t, retryAt.Equal(got.ScheduledFor))
		assert.True(t, retryAt.Equal(env.disp.Last().NotBefore))
		require.NotNil(t, got.DispatchHandle)
		handles[*got.DispatchHandle] = true
		assertPublishedLink(t, got)

		env.clock.Advance(5 * time.Minute)
	}

	require.NoError(t, env.pub.OnSignal(context.Background(), post.ID))
	got := env.store.Post(post.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.Contains(t, *got.LastError, "media rejected #3")
	assert.Nil(t, got.DispatchHandle)
	assert.True(t, got.Terminal())
	assertPublishedLink(t, got)
	assert.Equal(t, 3, env.disp.Count(), "no dispatch after the last failure")

	// a stale signal for the failed record does nothing
	require.NoError(t, env.pub.OnSignal(context.Background(), post.ID))
	assert.Equal(t, 3, env.disp.Count())

	republished, err := env.sched.Republish(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, republished.Status)
	assert.Zero(t, republished.RetryCount)
	assert.Nil(t, republished.LastError)
	require.NotNil(t, republished.DispatchHandle)
	assert.False(t, handles[*republished.DispatchHandle], "republish must issue a new handle")

	env.client.publishErr = nil
	require.NoError(t, env.pub.OnSignal(context.Background(), post.ID))
	assert.Equal(t, models.StatusPublished, env.store.Post(post.ID).Status)
}

func TestOnSignal_RateLimitHintSetsBackoff(t *testing.T) {
	env := newTestEnv(t)
	env.client.publishErr = func(int) error { return &instagram.RateLimitError{RetryAfter: 15 * time.Minute, Message: "slow down"} }

	post := env.create(t, transfer.ScheduledPostCreation{})
	env.clock.Advance(time.Hour)
	require.NoError(t, env.pub.OnSignal(context.Background(), post.ID))

	got := env.store.Post(post.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.True(t, env.clock.Now().Add(15*time.Minute).Equal(got.ScheduledFor))
}

func TestOnSignal_AccountUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		setup func(env *testEnv)
	}{
		{
			name: "inactive account",
			setup: func(env *testEnv) {
				_ = env.store.SocialAccounts().SetActive(context.Background(), env.account.ID, false)
			},
		},
		{
			name:  "rejected token",
			setup: func(env *testEnv) { env.client.invalidToken = true },
		},
		{
			name:  "validation call fails",
			setup: func(env *testEnv) { env.client.validateErr = errors.New("connection reset") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			post := env.create(t, transfer.ScheduledPostCreation{})
			env.clock.Advance(time.Hour)
			tt.setup(env)

			require.NoError(t, env.pub.OnSignal(context.Background(), post.ID))

			got := env.store.Post(post.ID)
			assert.Equal(t, models.StatusPending, got.Status)
			assert.Equal(t, 1, got.RetryCount)
			assert.Contains(t, *got.LastError, string(CodeAccountUnavailable))
			assert.Zero(t, env.client.publishCount())
		})
	}
}

func TestOnSignal_NoResolvableMedia(t *testing.T) {
	env := newTestEnv(t)
	env.pub.media = &mediaResolver{}
	post := env.create(t, transfer.ScheduledPostCreation{MediaRefs: []string{"uploads/a.jpg"}})
	env.clock.Advance(time.Hour)

	require.NoError(t, env.pub.OnSignal(context.Background(), post.ID))

	got := env.store.Post(post.ID)
	assert.Contains(t, *got.LastError, string(CodeExecMediaRequired))
	assert.Equal(t, 1, got.RetryCount)
}

func TestOnSignal_Timeout(t *testing.T) {
	env := newTestEnv(t)
	env.pub.timeout = 20 * time.Millisecond
	env.client.block = true
	post := env.create(t, transfer.ScheduledPostCreation{})
	env.clock.Advance(time.Hour)

	require.NoError(t, env.pub.OnSignal(context.Background(), post.ID))

	got := env.store.Post(post.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Contains(t, *got.LastError, string(CodePublishFailed))
	assert.Contains(t, *got.LastError, "timed out")
}

func TestOnSignal_RetryDispatchFailureLeavesRetryableFailed(t *testing.T) {
	env := newTestEnv(t)
	env.client.publishErr = func(int) error { return errors.New("server error") }
	post := env.create(t, transfer.ScheduledPostCreation{})
	env.clock.Advance(time.Hour)
	env.disp.DispatchErr = errors.New("redis unavailable")

	require.NoError(t, env.pub.OnSignal(context.Background(), post.ID))

	got := env.store.Post(post.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.False(t, got.Terminal())
	assert.Nil(t, got.DispatchHandle)
}

func TestOnSignal_StoreErrorBeforeClaimIsReturned(t *testing.T) {
	env := newTestEnv(t)
	post := env.create(t, transfer.ScheduledPostCreation{})
	env.clock.Advance(time.Hour)
	env.store.Err = errors.New("connection refused")

	err := env.pub.OnSignal(context.Background(), post.ID)
	require.Error(t, err)

	env.store.Err = nil
	assert.Equal(t, models.StatusPending, env.store.Post(post.ID).Status)
}

type failingMarkPublished struct {
	repository.ScheduledPostRepository
}

func (failingMarkPublished) MarkPublished(context.Context, int64, *models.PublishedPost) error {
	return errors.New("connection reset by peer")
}

func TestOnSignal_RecordFailureAfterPublishLeavesProcessing(t *testing.T) {
	env := newTestEnv(t)
	post := env.create(t, transfer.ScheduledPostCreation{})
	env.clock.Advance(time.Hour)
	env.pub.posts = failingMarkPublished{env.store.ScheduledPosts()}

	require.NoError(t, env.pub.OnSignal(context.Background(), post.ID))

	got := env.store.Post(post.ID)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Nil(t, got.LastError)
	assert.Nil(t, got.PublishedPostID)
	assert.Equal(t, 1, env.client.publishCount())
	assert.Equal(t, 1, env.disp.Count(), "no retry is dispatched for content that is already live")

	// a redelivered signal finds the record PROCESSING and does not publish again
	require.NoError(t, env.pub.OnSignal(context.Background(), post.ID))
	assert.Equal(t, 1, env.client.publishCount())
}
