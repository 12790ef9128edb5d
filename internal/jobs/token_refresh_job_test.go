package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/repository/repotest"
	"github.com/maheshrc27/postscheduler/pkg/utils"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenJob(store *repotest.Store, client TokenClient) *TokenRefreshJob {
	j := NewTokenRefreshJob(store.SocialAccounts(), client, testSecret, zerolog.Nop())
	j.now = func() time.Time { return testNow }
	return j
}

func loadAccount(t *testing.T, store *repotest.Store, id int64) *models.SocialAccount {
	t.Helper()
	a, err := store.SocialAccounts().GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

func TestTokenRefreshJob_Run(t *testing.T) {
	store := repotest.NewStore()
	expired := testNow.Add(-time.Hour)
	farOff := testNow.Add(40 * 24 * time.Hour)
	soon := testNow.Add(2 * 24 * time.Hour)

	good := store.PutAccount(&models.SocialAccount{UserID: 1, Username: "good", AccessToken: sealToken(t, "good-token"), TokenExpiresAt: &farOff, IsActive: true})
	expiring := store.PutAccount(&models.SocialAccount{UserID: 1, Username: "expiring", AccessToken: sealToken(t, "good-token"), TokenExpiresAt: &soon, IsActive: true})
	revoked := store.PutAccount(&models.SocialAccount{UserID: 1, Username: "revoked", AccessToken: sealToken(t, "revoked-token"), IsActive: true})
	flaky := store.PutAccount(&models.SocialAccount{UserID: 2, Username: "flaky", AccessToken: sealToken(t, "flaky-token"), IsActive: true})
	garbled := store.PutAccount(&models.SocialAccount{UserID: 2, Username: "garbled", AccessToken: "not-a-ciphertext", IsActive: true})
	lapsed := store.PutAccount(&models.SocialAccount{UserID: 3, Username: "lapsed", AccessToken: sealToken(t, "good-token"), TokenExpiresAt: &expired, IsActive: true})
	store.PutAccount(&models.SocialAccount{UserID: 3, Username: "inactive", AccessToken: sealToken(t, "revoked-token")})

	client := &fakeClient{
		tokens:      map[string]bool{"good-token": true, "revoked-token": false},
		validateErr: errors.New("connection reset"),
	}

	report, err := newTokenJob(store, client).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, report.Checked)
	assert.Equal(t, 1, report.Refreshed)
	assert.Equal(t, 3, report.Deactivated)
	assert.Equal(t, 1, report.Failed)

	assert.True(t, loadAccount(t, store, good.ID).IsActive)
	assert.False(t, loadAccount(t, store, revoked.ID).IsActive)
	assert.True(t, loadAccount(t, store, flaky.ID).IsActive, "transport errors must not deactivate")
	assert.False(t, loadAccount(t, store, garbled.ID).IsActive)
	assert.False(t, loadAccount(t, store, lapsed.ID).IsActive)

	refreshed := loadAccount(t, store, expiring.ID)
	assert.True(t, refreshed.IsActive)
	require.NotNil(t, refreshed.TokenExpiresAt)
	assert.True(t, refreshed.TokenExpiresAt.Equal(testNow.Add(60*24*time.Hour)))
	token, err := utils.Decrypt(refreshed.AccessToken, []byte(testSecret))
	require.NoError(t, err)
	assert.Equal(t, "good-token-refreshed", token)
	assert.Equal(t, []string{"good-token"}, client.refreshed)
}

func TestTokenRefreshJob_RefreshFailureKeepsAccount(t *testing.T) {
	store := repotest.NewStore()
	soon := testNow.Add(24 * time.Hour)
	acc := store.PutAccount(&models.SocialAccount{UserID: 1, AccessToken: sealToken(t, "good-token"), TokenExpiresAt: &soon, IsActive: true})

	client := &fakeClient{tokens: map[string]bool{"good-token": true}, refreshErr: errors.New("bad gateway")}
	report, err := newTokenJob(store, client).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	got := loadAccount(t, store, acc.ID)
	assert.True(t, got.IsActive)
	assert.True(t, got.TokenExpiresAt.Equal(soon))
}

func TestTokenRefreshJob_ListError(t *testing.T) {
	store := repotest.NewStore()
	store.Err = errors.New("db down")

	_, err := newTokenJob(store, &fakeClient{}).Run(context.Background())
	assert.Error(t, err)
}
