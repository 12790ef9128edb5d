package job

import (
	"context"
	"errors"
	"time"

	config "github.com/maheshrc27/postscheduler/configs"
	"github.com/maheshrc27/postscheduler/internal/instagram"
	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/repository"
	"github.com/maheshrc27/postscheduler/pkg/utils"
	"github.com/rs/zerolog"
)

const insightsBatchLimit = 1000

type InsightsSyncReport struct {
	Updated int
	Skipped int
	Failed  int

	AccountsUpdated int
	AccountsFailed  int
}

// InsightsSyncJob refreshes the engagement counters of recently published posts
// and the daily account insights of every active account.
type InsightsSyncJob struct {
	window        time.Duration
	accountWindow time.Duration
	published     repository.PublishedPostRepository
	accounts      repository.SocialAccountRepository
	insights      repository.AccountInsightRepository
	client      instagram.Client
	secretKey   []byte
	callTimeout time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

func NewInsightsSyncJob(
	cfg config.Jobs,
	secretKey string,
	published repository.PublishedPostRepository,
	accounts repository.SocialAccountRepository,
	insights repository.AccountInsightRepository,
	client instagram.Client,
	log zerolog.Logger) *InsightsSyncJob {
	return &InsightsSyncJob{
		window:        cfg.InsightsWindow,
		accountWindow: cfg.AccountInsightsWindow,
		published:     published,
		accounts:      accounts,
		insights:      insights,
		client:        client,
		secretKey:     []byte(secretKey),
		callTimeout:   30 * time.Second,
		now:           time.Now,
		log:           log.With().Str("job", "insights_sync").Logger(),
	}
}

func (j *InsightsSyncJob) RunScheduled() {
	report, err := j.Run(context.Background())
	if err != nil {
		j.log.Error().Err(err).Msg("insights sync did not run")
		return
	}
	j.log.Info().
		Int("updated", report.Updated).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Int("accounts_updated", report.AccountsUpdated).
		Int("accounts_failed", report.AccountsFailed).
		Msg("insights sync finished")
}

func (j *InsightsSyncJob) Run(ctx context.Context) (*InsightsSyncReport, error) {
	posts, err := j.published.ListPublishedSince(ctx, j.now().Add(-j.window), insightsBatchLimit)
	if err != nil {
		return nil, err
	}

	byAccount := map[int64][]*models.PublishedPost{}
	var order []int64
	for _, p := range posts {
		if _, ok := byAccount[p.AccountID]; !ok {
			order = append(order, p.AccountID)
		}
		byAccount[p.AccountID] = append(byAccount[p.AccountID], p)
	}

	report := &InsightsSyncReport{}
	halted := map[int64]bool{}
	for _, accountID := range order {
		if !j.syncAccount(ctx, accountID, byAccount[accountID], report) {
			halted[accountID] = true
		}
	}

	if err := j.syncAccountInsights(ctx, halted, report); err != nil {
		return report, err
	}
	return report, nil
}

// syncAccountInsights stores the daily account metrics of every active account,
// leaving out accounts that were rate limited or rejected during the media pass.
func (j *InsightsSyncJob) syncAccountInsights(ctx context.Context, halted map[int64]bool, report *InsightsSyncReport) error {
	if j.accountWindow <= 0 {
		return nil
	}
	accounts, err := j.accounts.ListActive(ctx)
	if err != nil {
		return err
	}

	until := j.now().UTC()
	since := until.Add(-j.accountWindow)
	for _, acc := range accounts {
		if halted[acc.ID] {
			continue
		}
		log := j.log.With().Int64("account_id", acc.ID).Logger()

		token, err := utils.Decrypt(acc.AccessToken, j.secretKey)
		if err != nil {
			log.Warn().Err(err).Msg("could not decrypt access token")
			report.AccountsFailed++
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, j.callTimeout)
		days, err := j.client.GetAccountInsights(callCtx, token, instagram.PeriodDay, since, until)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("could not read account insights")
			report.AccountsFailed++
			continue
		}

		rows := make([]*models.AccountInsight, 0, len(days))
		for _, d := range days {
			rows = append(rows, &models.AccountInsight{
				AccountID:     acc.ID,
				Date:          d.Date,
				Impressions:   d.Impressions,
				Reach:         d.Reach,
				ProfileViews:  d.ProfileViews,
				WebsiteClicks: d.WebsiteClicks,
			})
		}
		if err := j.insights.Upsert(ctx, rows); err != nil {
			log.Error().Err(err).Msg("could not store account insights")
			report.AccountsFailed++
			continue
		}
		report.AccountsUpdated++
	}
	return nil
}

// syncAccount reports false when the account stopped answering for this run.
func (j *InsightsSyncJob) syncAccount(ctx context.Context, accountID int64, posts []*models.PublishedPost, report *InsightsSyncReport) bool {
	log := j.log.With().Int64("account_id", accountID).Logger()

	account, err := j.accounts.GetByID(ctx, accountID)
	if err != nil {
		log.Error().Err(err).Msg("could not load account")
		report.Failed += len(posts)
		return true
	}
	if account == nil || !account.IsActive {
		report.Skipped += len(posts)
		return true
	}
	token, err := utils.Decrypt(account.AccessToken, j.secretKey)
	if err != nil {
		log.Warn().Err(err).Msg("could not decrypt access token")
		report.Skipped += len(posts)
		return true
	}

	for i, p := range posts {
		metrics, err := j.fetch(ctx, token, p.ExternalID)
		if retryAfter, limited := instagram.IsRateLimit(err); limited {
			log.Warn().Dur("retry_after", retryAfter).Msg("rate limited, leaving the rest of the account for the next run")
			report.Skipped += len(posts) - i
			return false
		}
		if errors.Is(err, instagram.ErrInvalidToken) {
			log.Warn().Msg("token rejected while reading insights")
			report.Skipped += len(posts) - i
			return false
		}
		if err != nil {
			log.Warn().Err(err).Int64("published_post_id", p.ID).Msg("could not read media insights")
			report.Failed++
			continue
		}

		if err := j.published.UpdateEngagement(ctx, p.ID, engagement(metrics)); err != nil {
			log.Error().Err(err).Int64("published_post_id", p.ID).Msg("could not store engagement")
			report.Failed++
			continue
		}
		report.Updated++
	}
	return true
}

func (j *InsightsSyncJob) fetch(ctx context.Context, token, externalID string) (instagram.Metrics, error) {
	ctx, cancel := context.WithTimeout(ctx, j.callTimeout)
	defer cancel()
	return j.client.GetMediaInsights(ctx, token, externalID)
}

func engagement(m instagram.Metrics) models.Engagement {
	return models.Engagement{
		Likes:       m.Likes,
		Comments:    m.Comments,
		Shares:      m.Shares,
		Impressions: m.Impressions,
		Reach:       m.Reach,
	}
}
