package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	config "github.com/maheshrc27/postscheduler/configs"
	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/queue"
	"github.com/maheshrc27/postscheduler/internal/repository"
	"github.com/maheshrc27/postscheduler/internal/transfer"
	"github.com/rs/zerolog"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
	calendarLimit    = 1000
	maxRetriesLimit  = 10
)

type SchedulingService interface {
	Create(ctx context.Context, in transfer.ScheduledPostCreation) (*models.ScheduledPost, error)
	Update(ctx context.Context, id int64, in transfer.ScheduledPostUpdate) (*models.ScheduledPost, error)
	Reschedule(ctx context.Context, id int64, newTime time.Time) (*models.ScheduledPost, error)
	Cancel(ctx context.Context, id int64) (*models.ScheduledPost, error)
	ExecuteNow(ctx context.Context, id int64) (*models.ScheduledPost, error)
	Republish(ctx context.Context, id int64) (*models.ScheduledPost, error)

	Get(ctx context.Context, id int64) (*models.ScheduledPost, error)
	List(ctx context.Context, filter models.ScheduledPostFilter) ([]*models.ScheduledPost, error)
	Stats(ctx context.Context, accountID int64) (*models.ScheduledPostStats, error)
	Calendar(ctx context.Context, accountID int64, year int, month time.Month) ([]transfer.CalendarDay, error)
}

type schedulingService struct {
	posts      repository.ScheduledPostRepository
	accounts   repository.SocialAccountRepository
	dispatcher queue.Dispatcher
	maxRetries int
	now        func() time.Time
	log        zerolog.Logger
}

func NewSchedulingService(
	cfg config.Scheduler,
	posts repository.ScheduledPostRepository,
	accounts repository.SocialAccountRepository,
	dispatcher queue.Dispatcher,
	log zerolog.Logger) SchedulingService {
	return &schedulingService{
		posts:      posts,
		accounts:   accounts,
		dispatcher: dispatcher,
		maxRetries: cfg.DefaultMaxRetries,
		now:        time.Now,
		log:        log.With().Str("component", "scheduler").Logger(),
	}
}

func (s *schedulingService) Create(ctx context.Context, in transfer.ScheduledPostCreation) (*models.ScheduledPost, error) {
	if !in.Kind.Valid() {
		return nil, newValidationError(CodeInvalidKind, "unknown post kind '%s'", in.Kind)
	}

	account, err := s.accounts.GetByID(ctx, in.AccountID)
	if err != nil {
		return nil, fmt.Errorf("loading account %d: %w", in.AccountID, err)
	}
	if account == nil {
		return nil, newValidationError(CodeNotFound, "account %d does not exist", in.AccountID)
	}
	if !account.IsActive {
		return nil, newValidationError(CodeInactiveAccount, "account %d is not active", in.AccountID)
	}

	if !in.ScheduledFor.After(s.now()) {
		return nil, newValidationError(CodeInvalidScheduleTime, "scheduled time must be in the future")
	}

	media := cleanRefs(in.MediaRefs)
	if err := validateMedia(in.Kind, media); err != nil {
		return nil, err
	}

	maxRetries := s.maxRetries
	if in.MaxRetries != nil {
		if *in.MaxRetries < 0 || *in.MaxRetries > maxRetriesLimit {
			return nil, newValidationError(CodeInvalidRequest, "max_retries must be between 0 and %d", maxRetriesLimit)
		}
		maxRetries = *in.MaxRetries
	}

	post := &models.ScheduledPost{
		AccountID:    in.AccountID,
		Caption:      in.Caption,
		Tags:         cleanRefs(in.Tags),
		Kind:         in.Kind,
		MediaRefs:    media,
		LocationID:   in.LocationID,
		LocationName: in.LocationName,
		ScheduledFor: in.ScheduledFor.UTC(),
		Status:       models.StatusPending,
		RetryCount:   0,
		MaxRetries:   maxRetries,
	}

	if _, err := s.posts.Create(ctx, post); err != nil {
		return nil, err
	}
	log := s.log.With().Int64("scheduled_post_id", post.ID).Logger()

	handle, err := queue.DispatchPublish(ctx, s.dispatcher, post.ID, post.ScheduledFor)
	if err != nil {
		s.rollbackCreate(ctx, post.ID, log)
		return nil, fmt.Errorf("dispatching publish signal for %d: %w", post.ID, err)
	}

	post.DispatchHandle = &handle
	ok, err := s.posts.Save(ctx, post, models.StatusPending)
	if err != nil || !ok {
		cancelDispatch(ctx, s.dispatcher, log, handle)
		s.rollbackCreate(ctx, post.ID, log)
		if err == nil {
			err = repository.ErrStaleStatus
		}
		return nil, fmt.Errorf("storing dispatch handle for %d: %w", post.ID, err)
	}

	log.Info().
		Int64("account_id", post.AccountID).
		Time("scheduled_for", post.ScheduledFor).
		Str("handle", handle).
		Msg("post scheduled")
	return post, nil
}

func (s *schedulingService) rollbackCreate(ctx context.Context, id int64, log zerolog.Logger) {
	if err := s.posts.Remove(ctx, id); err != nil {
		log.Error().Err(err).Msg("failed to roll back scheduled post")
	}
}

func (s *schedulingService) Update(ctx context.Context, id int64, in transfer.ScheduledPostUpdate) (*models.ScheduledPost, error) {
	post, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Status != models.StatusPending && post.Status != models.StatusFailed {
		return nil, &StateConflictError{Op: "update", Status: post.Status}
	}

	if in.Caption != nil {
		post.Caption = in.Caption
	}
	if in.Tags != nil {
		post.Tags = cleanRefs(*in.Tags)
	}
	if in.MediaRefs != nil {
		media := cleanRefs(*in.MediaRefs)
		if err := validateMedia(post.Kind, media); err != nil {
			return nil, err
		}
		post.MediaRefs = media
	}
	if in.LocationID != nil {
		post.LocationID = in.LocationID
	}
	if in.LocationName != nil {
		post.LocationName = in.LocationName
	}

	ok, err := s.posts.Save(ctx, post, post.Status)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.conflict(ctx, "update", id)
	}
	return post, nil
}

func (s *schedulingService) Reschedule(ctx context.Context, id int64, newTime time.Time) (*models.ScheduledPost, error) {
	post, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	from := post.Status
	if from != models.StatusPending && from != models.StatusFailed {
		return nil, &StateConflictError{Op: "reschedule", Status: from}
	}
	if !newTime.After(s.now()) {
		return nil, newValidationError(CodeInvalidScheduleTime, "scheduled time must be in the future")
	}
	post.ScheduledFor = newTime.UTC()
	post.Status = models.StatusPending
	if from == models.StatusFailed {
		// a fresh schedule gets a fresh retry budget
		post.RetryCount = 0
		post.LastError = nil
	}

	return s.redispatch(ctx, "reschedule", post, from, post.ScheduledFor)
}

func (s *schedulingService) Cancel(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	post, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	from := post.Status
	if err := models.CheckTransition(from, models.StatusCancelled); err != nil {
		return nil, &StateConflictError{Op: "cancel", Status: from}
	}

	previous := post.DispatchHandle
	post.Status = models.StatusCancelled
	post.DispatchHandle = nil

	ok, err := s.posts.Save(ctx, post, from)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.conflict(ctx, "cancel", id)
	}

	if previous != nil {
		cancelDispatch(ctx, s.dispatcher, s.log.With().Int64("scheduled_post_id", id).Logger(), *previous)
	}
	s.log.Info().Int64("scheduled_post_id", id).Str("from", string(from)).Msg("post cancelled")
	return post, nil
}

func (s *schedulingService) ExecuteNow(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	post, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Status != models.StatusPending {
		return nil, &StateConflictError{Op: "execute", Status: post.Status}
	}

	// PROCESSING is left to the executor; only the timing changes here
	post.ScheduledFor = s.now().UTC()
	return s.redispatch(ctx, "execute", post, models.StatusPending, post.ScheduledFor)
}

func (s *schedulingService) Republish(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	post, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Status != models.StatusFailed {
		return nil, &StateConflictError{Op: "republish", Status: post.Status}
	}

	post.Status = models.StatusPending
	post.RetryCount = 0
	post.LastError = nil
	post.ScheduledFor = s.now().UTC()

	return s.redispatch(ctx, "republish", post, models.StatusFailed, post.ScheduledFor)
}

// redispatch requests a new publish signal, stores it on post while the status is still
// expected, and withdraws the handle it replaces.
func (s *schedulingService) redispatch(ctx context.Context, op string, post *models.ScheduledPost, expected models.Status, notBefore time.Time) (*models.ScheduledPost, error) {
	log := s.log.With().Int64("scheduled_post_id", post.ID).Str("op", op).Logger()
	previous := post.DispatchHandle

	handle, err := queue.DispatchPublish(ctx, s.dispatcher, post.ID, notBefore)
	if err != nil {
		return nil, fmt.Errorf("dispatching publish signal for %d: %w", post.ID, err)
	}
	post.DispatchHandle = &handle

	ok, err := s.posts.Save(ctx, post, expected)
	if err != nil {
		cancelDispatch(ctx, s.dispatcher, log, handle)
		return nil, err
	}
	if !ok {
		cancelDispatch(ctx, s.dispatcher, log, handle)
		return nil, s.conflict(ctx, op, post.ID)
	}

	if previous != nil {
		cancelDispatch(ctx, s.dispatcher, log, *previous)
	}
	log.Info().Time("scheduled_for", post.ScheduledFor).Str("handle", handle).Msg("publish signal replaced")
	return post, nil
}

func (s *schedulingService) Get(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	return s.load(ctx, id)
}

func (s *schedulingService) List(ctx context.Context, filter models.ScheduledPostFilter) ([]*models.ScheduledPost, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, newValidationError(CodeInvalidStatus, "unknown status '%s'", filter.Status)
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.posts.List(ctx, filter)
}

func (s *schedulingService) Stats(ctx context.Context, accountID int64) (*models.ScheduledPostStats, error) {
	return s.posts.Stats(ctx, accountID)
}

func (s *schedulingService) Calendar(ctx context.Context, accountID int64, year int, month time.Month) ([]transfer.CalendarDay, error) {
	if month < time.January || month > time.December {
		return nil, newValidationError(CodeInvalidRequest, "month must be between 1 and 12")
	}
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)

	posts, err := s.posts.List(ctx, models.ScheduledPostFilter{
		AccountID: accountID,
		From:      from,
		To:        from.AddDate(0, 1, 0),
		Limit:     calendarLimit,
	})
	if err != nil {
		return nil, err
	}

	days := []transfer.CalendarDay{}
	for _, p := range posts {
		date := p.ScheduledFor.UTC().Format(time.DateOnly)
		if n := len(days); n > 0 && days[n-1].Date == date {
			days[n-1].Posts = append(days[n-1].Posts, p)
			continue
		}
		days = append(days, transfer.CalendarDay{Date: date, Posts: []*models.ScheduledPost{p}})
	}
	return days, nil
}

func (s *schedulingService) load(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, newValidationError(CodeNotFound, "scheduled post %d does not exist", id)
	}
	return post, nil
}

// conflict reports a conditional write that lost to a concurrent status change.
func (s *schedulingService) conflict(ctx context.Context, op string, id int64) error {
	current, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	return &StateConflictError{Op: op, Status: current.Status}
}

func cancelDispatch(ctx context.Context, d queue.Dispatcher, log zerolog.Logger, handle string) {
	if err := d.Cancel(ctx, handle); err != nil {
		log.Warn().Err(err).Str("handle", handle).Msg("could not cancel dispatch handle")
	}
}

func validateMedia(kind models.Kind, media []string) error {
	if kind.RequiresMedia() && len(media) == 0 {
		return newValidationError(CodeMediaRequired, "a %s post needs at least one media reference", kind)
	}
	if limit := kind.MediaLimit(); len(media) > limit {
		return newValidationError(CodeMediaLimit, "a %s post takes at most %d media references", kind, limit)
	}
	return nil
}

func cleanRefs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
