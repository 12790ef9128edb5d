package instagram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	config "github.com/maheshrc27/postscheduler/configs"
	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *GraphClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := NewGraphClient(config.Instagram{GraphURL: srv.URL, Timeout: 5 * time.Second}, zerolog.Nop())
	c.pollInterval = time.Millisecond
	return c
}

func TestUploadMedia_Image(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/me/media", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "https://cdn.example.com/a.jpg", r.PostForm.Get("image_url"))
		assert.Empty(t, r.PostForm.Get("media_type"))
		assert.Equal(t, "true", r.PostForm.Get("is_carousel_item"))
		assert.Empty(t, r.PostForm.Get("caption"))
		_, _ = w.Write([]byte(`{"id":"c1"}`))
	})

	id, err := c.UploadMedia(context.Background(), "tok", Media{
		URL:          "https://cdn.example.com/a.jpg",
		Kind:         models.KindFeed,
		CarouselItem: true,
		Caption:      "ignored on children",
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", id)
}

func TestUploadMedia_ReelWaitsForContainer(t *testing.T) {
	var polls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/me/media":
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "REELS", r.PostForm.Get("media_type"))
			assert.Equal(t, "https://cdn.example.com/clip.mp4?sig=1", r.PostForm.Get("video_url"))
			_, _ = w.Write([]byte(`{"id":"v1"}`))
		case "/v1":
			if polls.Add(1) < 2 {
				_, _ = w.Write([]byte(`{"status_code":"IN_PROGRESS"}`))
				return
			}
			_, _ = w.Write([]byte(`{"status_code":"FINISHED"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	id, err := c.UploadMedia(context.Background(), "tok", Media{URL: "https://cdn.example.com/clip.mp4?sig=1", Kind: models.KindReel})
	require.NoError(t, err)
	assert.Equal(t, "v1", id)
	assert.Equal(t, int32(2), polls.Load())
}

func TestSingleMediaCaptionOnContainer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		switch r.URL.Path {
		case "/me/media":
			assert.Equal(t, "hello #tag", r.PostForm.Get("caption"))
			assert.Equal(t, "loc1", r.PostForm.Get("location_id"))
			assert.Empty(t, r.PostForm.Get("is_carousel_item"))
			_, _ = w.Write([]byte(`{"id":"c1"}`))
		case "/me/media_publish":
			assert.Equal(t, "c1", r.PostForm.Get("creation_id"))
			assert.Empty(t, r.PostForm.Get("caption"))
			_, _ = w.Write([]byte(`{"id":"178901"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	containerID, err := c.UploadMedia(context.Background(), "tok", Media{
		URL:        "https://cdn.example.com/a.jpg",
		Kind:       models.KindFeed,
		Caption:    "hello #tag",
		LocationID: "loc1",
	})
	require.NoError(t, err)

	id, err := c.PublishMedia(context.Background(), "tok", containerID)
	require.NoError(t, err)
	assert.Equal(t, "178901", id)
}

func TestConfiguredTimeoutApplies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		_, _ = w.Write([]byte(`{"id":"17841"}`))
	}))
	t.Cleanup(srv.Close)

	c := NewGraphClient(config.Instagram{GraphURL: srv.URL, Timeout: 100 * time.Millisecond}, zerolog.Nop())

	start := time.Now()
	ok, err := c.ValidateToken(context.Background(), "tok")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCreateCarouselPost(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		switch r.URL.Path {
		case "/me/media":
			assert.Equal(t, "CAROUSEL", r.PostForm.Get("media_type"))
			assert.Equal(t, "a,b", r.PostForm.Get("children"))
			assert.Equal(t, "hello #go", r.PostForm.Get("caption"))
			assert.Equal(t, "loc1", r.PostForm.Get("location_id"))
			_, _ = w.Write([]byte(`{"id":"container"}`))
		case "/me/media_publish":
			assert.Equal(t, "container", r.PostForm.Get("creation_id"))
			_, _ = w.Write([]byte(`{"id":"178900"}`))
		}
	})

	id, err := c.CreateCarouselPost(context.Background(), "tok", []string{"a", "b"}, "hello #go", "loc1")
	require.NoError(t, err)
	assert.Equal(t, "178900", id)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header string
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "http 429 with retry-after",
			status: http.StatusTooManyRequests,
			header: "120",
			body:   `{"error":{"message":"slow down","code":4}}`,
			check: func(t *testing.T, err error) {
				after, ok := IsRateLimit(err)
				assert.True(t, ok)
				assert.Equal(t, 2*time.Minute, after)
			},
		},
		{
			name:   "graph throttling code",
			status: http.StatusBadRequest,
			body:   `{"error":{"message":"app limit","code":32}}`,
			check: func(t *testing.T, err error) {
				after, ok := IsRateLimit(err)
				assert.True(t, ok)
				assert.Zero(t, after)
			},
		},
		{
			name:   "expired token",
			status: http.StatusBadRequest,
			body:   `{"error":{"message":"Session has expired","code":190}}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrInvalidToken)
			},
		},
		{
			name:   "other api error",
			status: http.StatusBadRequest,
			body:   `{"error":{"message":"Invalid parameter","code":100,"error_subcode":2207026}}`,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, 100, apiErr.Code)
				assert.Equal(t, 2207026, apiErr.Subcode)
				assert.Contains(t, err.Error(), "Invalid parameter")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.PublishMedia(context.Background(), "tok", "c1")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestValidateToken(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/me", r.URL.Path)
			_, _ = w.Write([]byte(`{"id":"17841"}`))
		})
		ok, err := c.ValidateToken(context.Background(), "tok")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("rejected", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad token","code":190}}`))
		})
		ok, err := c.ValidateToken(context.Background(), "tok")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("server error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		ok, err := c.ValidateToken(context.Background(), "tok")
		require.Error(t, err)
		assert.False(t, ok)
	})
}

func TestGetMediaInsights(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/178900/insights", r.URL.Path)
		assert.Equal(t, mediaMetrics, r.URL.Query().Get("metric"))
		_, _ = w.Write([]byte(`{"data":[
			{"name":"reach","period":"lifetime","values":[{"value":40}]},
			{"name":"likes","period":"lifetime","values":[{"value":7}]},
			{"name":"comments","total_value":{"value":3}},
			{"name":"video_views","period":"lifetime","values":[{"value":99}]}
		]}`))
	})

	m, err := c.GetMediaInsights(context.Background(), "tok", "178900")
	require.NoError(t, err)
	assert.Equal(t, Metrics{Reach: 40, Likes: 7, Comments: 3}, m)
}

func TestGetAccountInsights(t *testing.T) {
	since := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(48 * time.Hour)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "day", q.Get("period"))
		assert.Equal(t, "1790812800", q.Get("since"))
		_, _ = w.Write([]byte(`{"data":[
			{"name":"reach","period":"day","values":[
				{"value":10,"end_time":"2026-10-02T07:00:00+0000"},
				{"value":12,"end_time":"2026-10-01T07:00:00+0000"}
			]},
			{"name":"profile_views","period":"day","values":[
				{"value":5,"end_time":"2026-10-01T07:00:00+0000"}
			]}
		]}`))
	})

	days, err := c.GetAccountInsights(context.Background(), "tok", PeriodDay, since, until)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, since, days[0].Date)
	assert.Equal(t, int64(12), days[0].Reach)
	assert.Equal(t, int64(5), days[0].ProfileViews)
	assert.Equal(t, int64(10), days[1].Reach)
}

func TestMetricsSetRejectsUnknownNames(t *testing.T) {
	var m Metrics
	assert.True(t, m.Set("shares", 4))
	assert.False(t, m.Set("follower_count", 4))
	assert.Equal(t, Metrics{Shares: 4}, m)
}

func TestIsVideo(t *testing.T) {
	assert.True(t, isVideo("https://cdn.example.com/x/clip.MP4"))
	assert.True(t, isVideo("media/clip.mov"))
	assert.False(t, isVideo("https://cdn.example.com/x/photo.jpg"))
	assert.False(t, isVideo("no-extension"))
}

func TestAccountConnectionCalls(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/access_token":
			assert.Equal(t, "ig_exchange_token", r.URL.Query().Get("grant_type"))
			assert.Equal(t, "shh", r.URL.Query().Get("client_secret"))
			assert.Equal(t, "Bearer short", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"access_token":"long","token_type":"bearer","expires_in":5183944}`))
		case "/refresh_access_token":
			assert.Equal(t, "ig_refresh_token", r.URL.Query().Get("grant_type"))
			assert.Equal(t, "Bearer long", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"access_token":"longer","token_type":"bearer","expires_in":5184000}`))
		case "/me":
			assert.Equal(t, "Bearer long", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"user_id":"1784","username":"acme","account_type":"BUSINESS"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	tok, err := c.ExchangeLongLivedToken(context.Background(), "shh", "short")
	require.NoError(t, err)
	assert.Equal(t, "long", tok.AccessToken)
	assert.Equal(t, 5183944, tok.ExpiresIn)

	p, err := c.GetProfile(context.Background(), tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "1784", p.UserID)
	assert.True(t, p.Business())
	assert.False(t, Profile{AccountType: "PERSONAL"}.Business())

	refreshed, err := c.RefreshLongLivedToken(context.Background(), "long")
	require.NoError(t, err)
	assert.Equal(t, "longer", refreshed.AccessToken)
}
