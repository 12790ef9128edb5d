package instagram

import (
	"context"
	"net/http"
	"net/url"
)

type Profile struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	AccountType string `json:"account_type"`
}

// Business reports whether the profile may publish through the content publishing API.
func (p Profile) Business() bool {
	return p.AccountType == "BUSINESS" || p.AccountType == "MEDIA_CREATOR"
}

type LongLivedToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *GraphClient) GetProfile(ctx context.Context, token string) (Profile, error) {
	var p Profile
	err := c.do(ctx, token, http.MethodGet, "/me?fields=user_id,username,account_type", nil, &p)
	return p, err
}

// ExchangeLongLivedToken trades a short-lived login token for one valid about sixty days.
func (c *GraphClient) ExchangeLongLivedToken(ctx context.Context, clientSecret, shortLived string) (LongLivedToken, error) {
	q := url.Values{}
	q.Set("grant_type", "ig_exchange_token")
	q.Set("client_secret", clientSecret)

	var t LongLivedToken
	err := c.do(ctx, shortLived, http.MethodGet, "/access_token?"+q.Encode(), nil, &t)
	return t, err
}

// RefreshLongLivedToken extends a long-lived token that is at least a day old and not yet expired.
func (c *GraphClient) RefreshLongLivedToken(ctx context.Context, token string) (LongLivedToken, error) {
	var t LongLivedToken
	err := c.do(ctx, token, http.MethodGet, "/refresh_access_token?grant_type=ig_refresh_token", nil, &t)
	return t, err
}
