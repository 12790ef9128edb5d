package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	config "github.com/maheshrc27/postscheduler/configs"
	"github.com/maheshrc27/postscheduler/internal/instagram"
	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/queue"
	"github.com/maheshrc27/postscheduler/internal/repository"
	"github.com/maheshrc27/postscheduler/pkg/utils"
	"github.com/rs/zerolog"
)

// signalSkew tolerates clock drift between the dispatcher and this process.
// Signals arriving earlier than that before scheduled_for belong to a superseded handle.
const signalSkew = time.Minute

type PublisherService interface {
	OnSignal(ctx context.Context, scheduledPostID int64) error
}

type publisherService struct {
	posts      repository.ScheduledPostRepository
	accounts   repository.SocialAccountRepository
	dispatcher queue.Dispatcher
	client     instagram.Client
	media      MediaResolver
	secretKey  []byte
	backoff    time.Duration
	timeout    time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

func NewPublisherService(
	cfg config.Scheduler,
	secretKey string,
	posts repository.ScheduledPostRepository,
	accounts repository.SocialAccountRepository,
	dispatcher queue.Dispatcher,
	client instagram.Client,
	media MediaResolver,
	log zerolog.Logger) PublisherService {
	return &publisherService{
		posts:      posts,
		accounts:   accounts,
		dispatcher: dispatcher,
		client:     client,
		media:      media,
		secretKey:  []byte(secretKey),
		backoff:    cfg.RetryBackoff,
		timeout:    cfg.PublishTimeout,
		now:        time.Now,
		log:        log.With().Str("component", "publisher").Logger(),
	}
}

// OnSignal runs one publish attempt. It returns an error only when the store could not be
// read or claimed, so the dispatcher delivers the signal again.
func (s *publisherService) OnSignal(ctx context.Context, id int64) error {
	log := s.log.With().Int64("scheduled_post_id", id).Logger()

	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("loading scheduled post %d: %w", id, err)
	}
	if post == nil {
		log.Warn().Msg("signal for unknown scheduled post")
		return nil
	}
	if post.Status != models.StatusPending {
		log.Info().Str("status", string(post.Status)).Msg("ignoring signal, post is not pending")
		return nil
	}
	if post.ScheduledFor.After(s.now().Add(signalSkew)) {
		log.Info().Time("scheduled_for", post.ScheduledFor).Msg("ignoring early signal from a replaced dispatch")
		return nil
	}

	claimed, err := s.posts.Claim(ctx, id)
	if err != nil {
		return fmt.Errorf("claiming scheduled post %d: %w", id, err)
	}
	if !claimed {
		log.Info().Msg("post already claimed by another execution")
		return nil
	}
	post.Status = models.StatusProcessing

	published, execErr := s.publish(ctx, post)
	if execErr != nil {
		s.fail(ctx, post, execErr, log)
		return nil
	}

	if err := s.posts.MarkPublished(ctx, id, published); err != nil {
		// the content is live; the record stays PROCESSING until the stuck pass picks it up
		log.Error().Err(err).Str("external_id", published.ExternalID).Msg("published but could not record result")
		return nil
	}

	log.Info().
		Str("external_id", published.ExternalID).
		Int64("published_post_id", published.ID).
		Msg("post published")
	return nil
}

func (s *publisherService) publish(ctx context.Context, post *models.ScheduledPost) (*models.PublishedPost, *ExecutionError) {
	account, err := s.accounts.GetByID(ctx, post.AccountID)
	if err != nil {
		return nil, &ExecutionError{Code: CodeAccountUnavailable, Err: err}
	}
	if account == nil || !account.IsActive {
		return nil, &ExecutionError{Code: CodeAccountUnavailable, Err: fmt.Errorf("account %d is missing or inactive", post.AccountID)}
	}

	token, err := utils.Decrypt(account.AccessToken, s.secretKey)
	if err != nil {
		return nil, &ExecutionError{Code: CodeAccountUnavailable, Err: fmt.Errorf("decrypting access token: %w", err)}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	valid, err := s.client.ValidateToken(callCtx, token)
	if err != nil {
		return nil, s.executionError(callCtx, CodeAccountUnavailable, err)
	}
	if !valid {
		return nil, &ExecutionError{Code: CodeAccountUnavailable, Err: instagram.ErrInvalidToken}
	}

	urls, err := s.media.Resolve(callCtx, post.MediaRefs)
	if err != nil {
		return nil, s.executionError(callCtx, CodePublishFailed, err)
	}
	if len(urls) == 0 {
		return nil, &ExecutionError{Code: CodeExecMediaRequired, Err: errors.New("no publishable media")}
	}

	externalID, err := s.upload(callCtx, token, post, urls)
	if err != nil {
		return nil, s.executionError(callCtx, CodePublishFailed, err)
	}

	caption := post.FullCaption()
	return &models.PublishedPost{
		AccountID:   post.AccountID,
		ExternalID:  externalID,
		Caption:     &caption,
		Kind:        post.Kind,
		Status:      models.PublishedStatusPublished,
		PublishedAt: s.now().UTC(),
	}, nil
}

// upload publishes a single media directly and anything longer as a carousel.
func (s *publisherService) upload(ctx context.Context, token string, post *models.ScheduledPost, urls []string) (string, error) {
	caption := post.FullCaption()
	location := ""
	if post.LocationID != nil {
		location = *post.LocationID
	}

	if len(urls) == 1 {
		containerID, err := s.client.UploadMedia(ctx, token, instagram.Media{
			URL:        urls[0],
			Kind:       post.Kind,
			Caption:    caption,
			LocationID: location,
		})
		if err != nil {
			return "", fmt.Errorf("uploading media: %w", err)
		}
		return s.client.PublishMedia(ctx, token, containerID)
	}

	children := make([]string, 0, len(urls))
	for i, u := range urls {
		id, err := s.client.UploadMedia(ctx, token, instagram.Media{URL: u, Kind: post.Kind, CarouselItem: true})
		if err != nil {
			return "", fmt.Errorf("uploading carousel item %d: %w", i+1, err)
		}
		children = append(children, id)
	}
	return s.client.CreateCarouselPost(ctx, token, children, caption, location)
}

func (s *publisherService) executionError(callCtx context.Context, code ExecutionCode, err error) *ExecutionError {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &ExecutionError{Code: CodePublishFailed, Err: fmt.Errorf("timed out after %s: %w", s.timeout, err)}
	}
	retryAfter, _ := instagram.IsRateLimit(err)
	return &ExecutionError{Code: code, Err: err, RetryAfter: retryAfter}
}

// fail records a failed attempt in one conditional write: back to PENDING with a new
// dispatch while retries remain, FAILED once they are exhausted.
func (s *publisherService) fail(ctx context.Context, post *models.ScheduledPost, execErr *ExecutionError, log zerolog.Logger) {
	msg := execErr.Error()
	post.LastError = &msg
	if post.RetryCount < post.MaxRetries {
		post.RetryCount++
	}
	post.DispatchHandle = nil

	log = log.With().Str("code", string(execErr.Code)).Int("retry_count", post.RetryCount).Logger()

	if post.RetriesExhausted() {
		post.Status = models.StatusFailed
		s.save(ctx, post, log)
		log.Error().Str("last_error", msg).Msg("publish failed, retries exhausted")
		return
	}

	delay := s.backoff
	if execErr.RetryAfter > 0 {
		delay = execErr.RetryAfter
	}
	retryAt := s.now().Add(delay).UTC()

	handle, err := queue.DispatchPublish(ctx, s.dispatcher, post.ID, retryAt)
	if err != nil {
		// left FAILED with retries remaining; the sweeper re-dispatches it
		post.Status = models.StatusFailed
		s.save(ctx, post, log)
		log.Error().Err(err).Msg("publish failed and retry could not be dispatched")
		return
	}

	post.Status = models.StatusPending
	post.ScheduledFor = retryAt
	post.DispatchHandle = &handle
	if !s.save(ctx, post, log) {
		cancelDispatch(ctx, s.dispatcher, log, handle)
		return
	}
	log.Warn().Str("last_error", msg).Time("retry_at", retryAt).Msg("publish failed, retry scheduled")
}

func (s *publisherService) save(ctx context.Context, post *models.ScheduledPost, log zerolog.Logger) bool {
	ok, err := s.posts.Save(ctx, post, models.StatusProcessing)
	if err != nil {
		log.Error().Err(err).Msg("could not record publish failure")
		return false
	}
	if !ok {
		log.Warn().Msg("post left processing before the failure was recorded")
	}
	return ok
}
