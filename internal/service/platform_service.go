package service

import (
	"context"
	"errors"
	"fmt"

	config "github.com/maheshrc27/postscheduler/configs"
	"github.com/maheshrc27/postscheduler/internal/instagram"
	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/repository"
	"github.com/maheshrc27/postscheduler/pkg/utils"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

var ErrConnectFailed = errors.New("could not connect instagram account")

type PlatformService interface {
	// GetAuthURL returns the Instagram consent page. state is echoed back to the callback.
	GetAuthURL(state string) string
	// Connect completes the OAuth flow for userID and stores the account with a sealed long-lived token.
	Connect(ctx context.Context, userID int64, code string) (*models.SocialAccount, error)
}

// AccountAPI is the part of the content API used while connecting an account.
type AccountAPI interface {
	ExchangeLongLivedToken(ctx context.Context, clientSecret, shortLived string) (instagram.LongLivedToken, error)
	GetProfile(ctx context.Context, token string) (instagram.Profile, error)
}

type platformService struct {
	oauth     *oauth2.Config
	secretKey []byte
	api       AccountAPI
	accounts  repository.SocialAccountRepository
	log       zerolog.Logger
}

func NewPlatformService(cfg config.Config, api AccountAPI, accounts repository.SocialAccountRepository, log zerolog.Logger) PlatformService {
	return &platformService{
		oauth: &oauth2.Config{
			ClientID:     cfg.Instagram.ClientID,
			ClientSecret: cfg.Instagram.ClientSecret,
			RedirectURL:  cfg.Instagram.RedirectURI,
			Scopes:       []string{"instagram_business_basic", "instagram_business_content_publish", "instagram_business_manage_insights"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.Instagram.AuthURL,
				TokenURL:  cfg.Instagram.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		secretKey: []byte(cfg.SecretKey),
		api:       api,
		accounts:  accounts,
		log:       log.With().Str("component", "platform").Logger(),
	}
}

func (s *platformService) GetAuthURL(state string) string {
	return s.oauth.AuthCodeURL(state)
}

func (s *platformService) Connect(ctx context.Context, userID int64, code string) (*models.SocialAccount, error) {
	if userID == 0 || code == "" {
		return nil, newValidationError(CodeInvalidAuthorization, "missing user or authorization code")
	}
	log := s.log.With().Int64("user_id", userID).Logger()

	short, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		log.Warn().Err(err).Msg("authorization code exchange failed")
		return nil, errors.Join(ErrConnectFailed, err)
	}

	long, err := s.api.ExchangeLongLivedToken(ctx, s.oauth.ClientSecret, short.AccessToken)
	if err != nil {
		log.Warn().Err(err).Msg("long-lived token exchange failed")
		return nil, errors.Join(ErrConnectFailed, err)
	}

	profile, err := s.api.GetProfile(ctx, long.AccessToken)
	if err != nil {
		return nil, errors.Join(ErrConnectFailed, err)
	}

	sealed, err := utils.Encrypt([]byte(long.AccessToken), s.secretKey)
	if err != nil {
		return nil, fmt.Errorf("sealing access token: %w", err)
	}

	expiresAt := GetExpiresAt(long.ExpiresIn)
	account := &models.SocialAccount{
		UserID:            userID,
		ExternalAccountID: profile.UserID,
		Username:          profile.Username,
		AccessToken:       sealed,
		TokenExpiresAt:    &expiresAt,
		IsActive:          true,
		IsBusiness:        profile.Business(),
	}
	if _, err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrAccountOwnedElsewhere) {
			return nil, newValidationError(CodeAccountTaken, "instagram account %s is connected to another user", profile.Username)
		}
		return nil, err
	}

	log.Info().Int64("account_id", account.ID).Str("username", account.Username).Msg("instagram account connected")
	return account, nil
}
