package job

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maheshrc27/postscheduler/internal/instagram"
	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/repository"
	"github.com/maheshrc27/postscheduler/pkg/utils"
	"github.com/rs/zerolog"
)

// TokenClient is the part of the content API the token job calls.
type TokenClient interface {
	ValidateToken(ctx context.Context, token string) (bool, error)
	RefreshLongLivedToken(ctx context.Context, token string) (instagram.LongLivedToken, error)
}

type TokenRefreshReport struct {
	Checked     int
	Refreshed   int
	Deactivated int
	Failed      int
}

// TokenRefreshJob deactivates accounts whose token the content API rejects
// and extends tokens that are close to expiring.
type TokenRefreshJob struct {
	accounts      repository.SocialAccountRepository
	client        TokenClient
	secretKey     []byte
	concurrency   int
	refreshWithin time.Duration
	callTimeout   time.Duration
	now           func() time.Time
	log           zerolog.Logger
}

func NewTokenRefreshJob(
	accounts repository.SocialAccountRepository,
	client TokenClient,
	secretKey string,
	log zerolog.Logger) *TokenRefreshJob {
	return &TokenRefreshJob{
		accounts:      accounts,
		client:        client,
		secretKey:     []byte(secretKey),
		concurrency:   10,
		refreshWithin: 7 * 24 * time.Hour,
		callTimeout:   30 * time.Second,
		now:           time.Now,
		log:           log.With().Str("job", "token_refresh").Logger(),
	}
}

// RefreshTokens is the cron entry point.
func (j *TokenRefreshJob) RefreshTokens() {
	report, err := j.Run(context.Background())
	if err != nil {
		j.log.Error().Err(err).Msg("token refresh did not run")
		return
	}
	j.log.Info().
		Int("checked", report.Checked).
		Int("refreshed", report.Refreshed).
		Int("deactivated", report.Deactivated).
		Int("failed", report.Failed).
		Msg("token refresh finished")
}

type tokenOutcome int

const (
	tokenKept tokenOutcome = iota
	tokenRefreshed
	tokenDeactivated
	tokenFailed
)

func (j *TokenRefreshJob) Run(ctx context.Context) (*TokenRefreshReport, error) {
	accounts, err := j.accounts.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	var (
		wg       sync.WaitGroup
		outcomes [4]atomic.Int64
	)
	semaphore := make(chan struct{}, j.concurrency)

	for _, acc := range accounts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.SocialAccount) {
			defer wg.Done()
			defer func() { <-semaphore }()
			outcomes[j.process(ctx, acc)].Add(1)
		}(acc)
	}
	wg.Wait()

	return &TokenRefreshReport{
		Checked:     len(accounts),
		Refreshed:   int(outcomes[tokenRefreshed].Load()),
		Deactivated: int(outcomes[tokenDeactivated].Load()),
		Failed:      int(outcomes[tokenFailed].Load()),
	}, nil
}

func (j *TokenRefreshJob) process(ctx context.Context, acc *models.SocialAccount) tokenOutcome {
	log := j.log.With().Int64("account_id", acc.ID).Logger()
	now := j.now()

	if acc.TokenExpiresAt != nil && !acc.TokenExpiresAt.After(now) {
		return j.deactivate(ctx, acc, log, "token expired")
	}
	token, err := utils.Decrypt(acc.AccessToken, j.secretKey)
	if err != nil {
		return j.deactivate(ctx, acc, log, "token unreadable")
	}

	valid, err := j.validate(ctx, token)
	if err != nil {
		log.Warn().Err(err).Msg("could not validate token")
		return tokenFailed
	}
	if !valid {
		return j.deactivate(ctx, acc, log, "token rejected")
	}

	if acc.TokenExpiresAt == nil || acc.TokenExpiresAt.After(now.Add(j.refreshWithin)) {
		return tokenKept
	}
	if err := j.refresh(ctx, acc, token, now); err != nil {
		log.Warn().Err(err).Msg("could not refresh token")
		return tokenFailed
	}
	log.Info().Msg("token refreshed")
	return tokenRefreshed
}

func (j *TokenRefreshJob) validate(ctx context.Context, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, j.callTimeout)
	defer cancel()
	return j.client.ValidateToken(ctx, token)
}

func (j *TokenRefreshJob) refresh(ctx context.Context, acc *models.SocialAccount, token string, now time.Time) error {
	callCtx, cancel := context.WithTimeout(ctx, j.callTimeout)
	defer cancel()
	fresh, err := j.client.RefreshLongLivedToken(callCtx, token)
	if err != nil {
		return err
	}

	sealed, err := utils.Encrypt([]byte(fresh.AccessToken), j.secretKey)
	if err != nil {
		return err
	}
	return j.accounts.UpdateToken(ctx, acc.ID, sealed, now.Add(time.Duration(fresh.ExpiresIn)*time.Second))
}

func (j *TokenRefreshJob) deactivate(ctx context.Context, acc *models.SocialAccount, log zerolog.Logger, reason string) tokenOutcome {
	if err := j.accounts.SetActive(ctx, acc.ID, false); err != nil {
		log.Error().Err(err).Msg("could not deactivate account")
		return tokenFailed
	}
	log.Warn().Str("username", acc.Username).Str("reason", reason).Msg("account deactivated")
	return tokenDeactivated
}
