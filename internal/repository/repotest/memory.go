// Package repotest provides in-memory repositories with the same conditional-write
// semantics as the Postgres implementations.
package repotest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/repository"
)

type Store struct {
	mu        sync.Mutex
	now       func() time.Time
	nextID    int64
	posts     map[int64]*models.ScheduledPost
	published map[int64]*models.PublishedPost
	accounts  map[int64]*models.SocialAccount
	insights  map[insightKey]*models.AccountInsight

	// Err, when set, is returned by every call.
	Err error
}

func NewStore() *Store {
	return &Store{
		now:       time.Now,
		posts:     map[int64]*models.ScheduledPost{},
		published: map[int64]*models.PublishedPost{},
		accounts:  map[int64]*models.SocialAccount{},
		insights:  map[insightKey]*models.AccountInsight{},
	}
}

func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) fail() error {
	return s.Err
}

// Put stores a copy of post as is, keeping its timestamps. It assigns an id when post has none.
func (s *Store) Put(post *models.ScheduledPost) *models.ScheduledPost {
	s.mu.Lock()
	defer s.mu.Unlock()
	if post.ID == 0 {
		post.ID = s.id()
	} else if post.ID > s.nextID {
		s.nextID = post.ID
	}
	cp := clonePost(post)
	s.posts[post.ID] = cp
	return clonePost(cp)
}

func (s *Store) PutAccount(a *models.SocialAccount) *models.SocialAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.id()
	}
	cp := *a
	s.accounts[a.ID] = &cp
	return a
}

func (s *Store) PutPublished(p *models.PublishedPost) *models.PublishedPost {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	}
	cp := *p
	s.published[p.ID] = &cp
	return p
}

// Post returns a copy of the stored post, or nil.
func (s *Store) Post(id int64) *models.ScheduledPost {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil
	}
	return clonePost(p)
}

func (s *Store) Published(id int64) *models.PublishedPost {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.published[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (s *Store) PostCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

func clonePost(p *models.ScheduledPost) *models.ScheduledPost {
	cp := *p
	cp.Tags = append([]string(nil), p.Tags...)
	cp.MediaRefs = append([]string(nil), p.MediaRefs...)
	return &cp
}

// ScheduledPosts returns the store as a repository.ScheduledPostRepository.
func (s *Store) ScheduledPosts() repository.ScheduledPostRepository { return scheduledPosts{s} }

func (s *Store) PublishedPosts() repository.PublishedPostRepository { return publishedPosts{s} }

func (s *Store) SocialAccounts() repository.SocialAccountRepository { return socialAccounts{s} }

func (s *Store) AccountInsights() repository.AccountInsightRepository { return accountInsights{s} }

type scheduledPosts struct{ s *Store }

func (r scheduledPosts) Create(_ context.Context, post *models.ScheduledPost) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return 0, err
	}
	post.ID = s.id()
	post.CreatedAt = s.now()
	post.UpdatedAt = post.CreatedAt
	s.posts[post.ID] = clonePost(post)
	return post.ID, nil
}

func (r scheduledPosts) GetByID(_ context.Context, id int64) (*models.ScheduledPost, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	p, ok := s.posts[id]
	if !ok {
		return nil, nil
	}
	return clonePost(p), nil
}

func (r scheduledPosts) List(_ context.Context, f models.ScheduledPostFilter) ([]*models.ScheduledPost, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	out := []*models.ScheduledPost{}
	for _, p := range s.posts {
		if f.AccountID != 0 && p.AccountID != f.AccountID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && p.ScheduledFor.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !p.ScheduledFor.Before(f.To) {
			continue
		}
		out = append(out, clonePost(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledFor.Equal(out[j].ScheduledFor) {
			return out[i].ID < out[j].ID
		}
		return out[i].ScheduledFor.Before(out[j].ScheduledFor)
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []*models.ScheduledPost{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r scheduledPosts) Stats(_ context.Context, accountID int64) (*models.ScheduledPostStats, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	var st models.ScheduledPostStats
	for _, p := range s.posts {
		if accountID != 0 && p.AccountID != accountID {
			continue
		}
		st.Total++
		switch p.Status {
		case models.StatusPending:
			st.Pending++
		case models.StatusProcessing:
			st.Processing++
		case models.StatusPublished:
			st.Published++
		case models.StatusFailed:
			st.Failed++
		case models.StatusCancelled:
			st.Cancelled++
		}
	}
	return &st, nil
}

func (r scheduledPosts) Claim(_ context.Context, id int64) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return false, err
	}
	p, ok := s.posts[id]
	if !ok || p.Status != models.StatusPending {
		return false, nil
	}
	p.Status = models.StatusProcessing
	p.UpdatedAt = s.now()
	return true, nil
}

func (r scheduledPosts) Save(_ context.Context, post *models.ScheduledPost, expected models.Status) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return false, err
	}
	if err := models.CheckTransition(expected, post.Status); err != nil {
		return false, err
	}
	cur, ok := s.posts[post.ID]
	if !ok || cur.Status != expected {
		return false, nil
	}
	if post.RetryCount > post.MaxRetries {
		return false, errors.New("retry_count_bounded violated")
	}
	if post.Status == models.StatusPublished {
		return false, errors.New("published_link violated")
	}

	next := clonePost(cur)
	next.Caption = post.Caption
	next.Tags = append([]string(nil), post.Tags...)
	next.MediaRefs = append([]string(nil), post.MediaRefs...)
	next.LocationID = post.LocationID
	next.LocationName = post.LocationName
	next.ScheduledFor = post.ScheduledFor
	next.Status = post.Status
	next.RetryCount = post.RetryCount
	next.MaxRetries = post.MaxRetries
	next.LastError = post.LastError
	next.DispatchHandle = post.DispatchHandle
	next.UpdatedAt = s.now()
	s.posts[post.ID] = next

	post.UpdatedAt = next.UpdatedAt
	return true, nil
}

func (r scheduledPosts) MarkPublished(_ context.Context, id int64, published *models.PublishedPost) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	cur, ok := s.posts[id]
	if !ok || cur.Status != models.StatusProcessing {
		return repository.ErrStaleStatus
	}

	published.ID = s.id()
	if published.Status == "" {
		published.Status = models.PublishedStatusPublished
	}
	published.CreatedAt = s.now()
	published.UpdatedAt = published.CreatedAt
	cp := *published
	s.published[published.ID] = &cp

	pid, ext, at := published.ID, published.ExternalID, published.PublishedAt
	cur.Status = models.StatusPublished
	cur.PublishedPostID = &pid
	cur.PublishedPostExternalID = &ext
	cur.PublishedAt = &at
	cur.LastError = nil
	cur.DispatchHandle = nil
	cur.UpdatedAt = s.now()
	return nil
}

func (r scheduledPosts) ListByStatusUpdatedBefore(_ context.Context, status models.Status, cutoff time.Time, limit int) ([]*models.ScheduledPost, error) {
	return r.s.filter(func(p *models.ScheduledPost) bool {
		return p.Status == status && p.UpdatedAt.Before(cutoff)
	}, limit)
}

func (r scheduledPosts) ListRetryableFailed(_ context.Context, limit int) ([]*models.ScheduledPost, error) {
	return r.s.filter(func(p *models.ScheduledPost) bool {
		return p.Status == models.StatusFailed && p.RetryCount < p.MaxRetries
	}, limit)
}

func (r scheduledPosts) CancelPastDue(_ context.Context, cutoff time.Time, reason string, limit int) ([]*models.ScheduledPost, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	out := []*models.ScheduledPost{}
	for _, id := range s.sortedIDs() {
		p := s.posts[id]
		if p.Status != models.StatusPending || !p.ScheduledFor.Before(cutoff) {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		msg := reason
		p.Status = models.StatusCancelled
		p.LastError = &msg
		p.UpdatedAt = s.now()
		out = append(out, clonePost(p))
	}
	return out, nil
}

func (r scheduledPosts) DeleteExhaustedFailedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return 0, err
	}
	var n int64
	for id, p := range s.posts {
		if p.Status == models.StatusFailed && p.RetryCount >= p.MaxRetries && p.UpdatedAt.Before(cutoff) {
			delete(s.posts, id)
			n++
		}
	}
	return n, nil
}

func (r scheduledPosts) Remove(_ context.Context, id int64) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	delete(s.posts, id)
	return nil
}

func (s *Store) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.posts))
	for id := range s.posts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Store) filter(match func(*models.ScheduledPost) bool, limit int) ([]*models.ScheduledPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	out := []*models.ScheduledPost{}
	for _, id := range s.sortedIDs() {
		p := s.posts[id]
		if !match(p) {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, clonePost(p))
	}
	return out, nil
}

type publishedPosts struct{ s *Store }

func (r publishedPosts) GetByID(_ context.Context, id int64) (*models.PublishedPost, error) {
	if err := r.s.fail(); err != nil {
		return nil, err
	}
	return r.s.Published(id), nil
}

func (r publishedPosts) ListPublishedSince(_ context.Context, since time.Time, limit int) ([]*models.PublishedPost, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	out := []*models.PublishedPost{}
	for _, p := range s.published {
		if p.Status == models.PublishedStatusPublished && !p.PublishedAt.Before(since) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r publishedPosts) UpdateEngagement(_ context.Context, id int64, e models.Engagement) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	p, ok := s.published[id]
	if !ok {
		return nil
	}
	p.Likes, p.Comments, p.Shares, p.Impressions, p.Reach = e.Likes, e.Comments, e.Shares, e.Impressions, e.Reach
	p.UpdatedAt = s.now()
	return nil
}

type socialAccounts struct{ s *Store }

func (r socialAccounts) Create(_ context.Context, sa *models.SocialAccount) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return 0, err
	}
	for _, a := range s.accounts {
		if a.ExternalAccountID == "" || a.ExternalAccountID != sa.ExternalAccountID {
			continue
		}
		if a.UserID != sa.UserID {
			return 0, repository.ErrAccountOwnedElsewhere
		}
		a.Username, a.AccessToken, a.TokenExpiresAt = sa.Username, sa.AccessToken, sa.TokenExpiresAt
		a.IsActive, a.IsBusiness = sa.IsActive, sa.IsBusiness
		a.UpdatedAt = s.now()
		sa.ID, sa.CreatedAt, sa.UpdatedAt = a.ID, a.CreatedAt, a.UpdatedAt
		return sa.ID, nil
	}

	sa.ID = s.id()
	sa.CreatedAt = s.now()
	sa.UpdatedAt = sa.CreatedAt
	cp := *sa
	s.accounts[sa.ID] = &cp
	return sa.ID, nil
}

func (r socialAccounts) GetByID(_ context.Context, id int64) (*models.SocialAccount, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	a, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r socialAccounts) ListActive(_ context.Context) ([]*models.SocialAccount, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	out := []*models.SocialAccount{}
	for _, a := range s.accounts {
		if a.IsActive {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r socialAccounts) ListByUserID(_ context.Context, userID int64) ([]*models.SocialAccount, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	out := []*models.SocialAccount{}
	for _, a := range s.accounts {
		if a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r socialAccounts) CheckByUserID(_ context.Context, accountID, userID int64) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return false, err
	}
	a, ok := s.accounts[accountID]
	return ok && a.UserID == userID, nil
}

func (r socialAccounts) SetActive(_ context.Context, id int64, active bool) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	if a, ok := s.accounts[id]; ok {
		a.IsActive = active
		a.UpdatedAt = s.now()
	}
	return nil
}

func (r socialAccounts) UpdateToken(_ context.Context, id int64, accessToken string, expiresAt time.Time) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	if a, ok := s.accounts[id]; ok {
		a.AccessToken = accessToken
		a.TokenExpiresAt = &expiresAt
		a.UpdatedAt = s.now()
	}
	return nil
}

type insightKey struct {
	accountID int64
	date      string
}

type accountInsights struct{ s *Store }

func (r accountInsights) Upsert(_ context.Context, rows []*models.AccountInsight) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	for _, row := range rows {
		cp := *row
		day := row.Date.UTC()
		cp.Date = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		cp.UpdatedAt = s.now()
		s.insights[insightKey{row.AccountID, cp.Date.Format(time.DateOnly)}] = &cp
	}
	return nil
}

func (r accountInsights) ListByAccount(_ context.Context, accountID int64, since time.Time) ([]*models.AccountInsight, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	from := since.UTC().Format(time.DateOnly)
	out := []*models.AccountInsight{}
	for key, row := range s.insights {
		if key.accountID == accountID && key.date >= from {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
