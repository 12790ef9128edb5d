package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/h2non/filetype"
	config "github.com/maheshrc27/postscheduler/configs"
	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 1 << 20

// GraphClient talks to the Instagram Graph API over HTTPS with a bearer token per call.
type GraphClient struct {
	baseURL      string
	httpClient   *http.Client
	limiter      *rate.Limiter
	pollInterval time.Duration
	log          zerolog.Logger
}

func NewGraphClient(cfg config.Instagram, log zerolog.Logger) *GraphClient {
	limit, burst := rate.Inf, 1
	if cfg.RatePerSec > 0 {
		limit, burst = rate.Limit(cfg.RatePerSec), cfg.RatePerSec
	}

	return &GraphClient{
		baseURL:      strings.TrimRight(cfg.GraphURL, "/"),
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		limiter:      rate.NewLimiter(limit, burst),
		pollInterval: 3 * time.Second,
		log:          log.With().Str("component", "instagram").Logger(),
	}
}

func (c *GraphClient) UploadMedia(ctx context.Context, token string, media Media) (string, error) {
	video := isVideo(media.URL)

	form := url.Values{}
	switch {
	case media.Kind == models.KindStory:
		form.Set("media_type", "STORIES")
	case media.Kind == models.KindReel:
		form.Set("media_type", "REELS")
	case video && media.CarouselItem:
		form.Set("media_type", "VIDEO")
	case video:
		// single feed videos are only accepted as reels
		form.Set("media_type", "REELS")
	}
	if video {
		form.Set("video_url", media.URL)
	} else {
		form.Set("image_url", media.URL)
	}
	if media.CarouselItem {
		form.Set("is_carousel_item", "true")
	}
	if !media.CarouselItem {
		if media.Caption != "" {
			form.Set("caption", media.Caption)
		}
		if media.LocationID != "" {
			form.Set("location_id", media.LocationID)
		}
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, token, http.MethodPost, "/me/media", form, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", errors.New("instagram: no container id returned")
	}

	if video {
		if err := c.waitForContainer(ctx, token, result.ID); err != nil {
			return "", err
		}
	}
	return result.ID, nil
}

func (c *GraphClient) PublishMedia(ctx context.Context, token, creationID string) (string, error) {
	form := url.Values{}
	form.Set("creation_id", creationID)

	var result struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, token, http.MethodPost, "/me/media_publish", form, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", errors.New("instagram: no media id returned from publish")
	}
	return result.ID, nil
}

func (c *GraphClient) CreateCarouselPost(ctx context.Context, token string, children []string, caption, locationID string) (string, error) {
	if len(children) == 0 {
		return "", errors.New("instagram: carousel needs at least one child")
	}

	form := url.Values{}
	form.Set("media_type", "CAROUSEL")
	form.Set("children", strings.Join(children, ","))
	if caption != "" {
		form.Set("caption", caption)
	}
	if locationID != "" {
		form.Set("location_id", locationID)
	}

	var container struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, token, http.MethodPost, "/me/media", form, &container); err != nil {
		return "", fmt.Errorf("creating carousel container: %w", err)
	}
	if container.ID == "" {
		return "", errors.New("instagram: no carousel container id returned")
	}

	return c.PublishMedia(ctx, token, container.ID)
}

func (c *GraphClient) ValidateToken(ctx context.Context, token string) (bool, error) {
	var me struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, token, http.MethodGet, "/me?fields=id", nil, &me)
	if errors.Is(err, ErrInvalidToken) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return me.ID != "", nil
}

type insightsResponse struct {
	Data []struct {
		Name   string `json:"name"`
		Period string `json:"period"`
		Values []struct {
			Value   json.RawMessage `json:"value"`
			EndTime string          `json:"end_time"`
		} `json:"values"`
		TotalValue *struct {
			Value json.RawMessage `json:"value"`
		} `json:"total_value"`
	} `json:"data"`
}

func (c *GraphClient) GetMediaInsights(ctx context.Context, token, externalPostID string) (Metrics, error) {
	var resp insightsResponse
	p := "/" + url.PathEscape(externalPostID) + "/insights?metric=" + mediaMetrics
	if err := c.do(ctx, token, http.MethodGet, p, nil, &resp); err != nil {
		return Metrics{}, err
	}

	var m Metrics
	for _, d := range resp.Data {
		var raw json.RawMessage
		switch {
		case d.TotalValue != nil:
			raw = d.TotalValue.Value
		case len(d.Values) > 0:
			raw = d.Values[len(d.Values)-1].Value
		default:
			continue
		}
		v, ok := parseCount(raw)
		if !ok {
			continue
		}
		if !m.Set(d.Name, v) {
			c.log.Debug().Str("metric", d.Name).Msg("ignoring unknown media metric")
		}
	}
	return m, nil
}

const insightsTimeLayout = "2006-01-02T15:04:05-0700"

func (c *GraphClient) GetAccountInsights(ctx context.Context, token string, period Period, since, until time.Time) ([]DailyMetrics, error) {
	q := url.Values{}
	q.Set("metric", accountMetrics)
	q.Set("period", string(period))
	if !since.IsZero() {
		q.Set("since", strconv.FormatInt(since.Unix(), 10))
	}
	if !until.IsZero() {
		q.Set("until", strconv.FormatInt(until.Unix(), 10))
	}

	var resp insightsResponse
	if err := c.do(ctx, token, http.MethodGet, "/me/insights?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	byDay := map[time.Time]*DailyMetrics{}
	for _, d := range resp.Data {
		if _, known := metricFields[d.Name]; !known {
			c.log.Debug().Str("metric", d.Name).Msg("ignoring unknown account metric")
			continue
		}
		for _, val := range d.Values {
			end, err := time.Parse(insightsTimeLayout, val.EndTime)
			if err != nil {
				continue
			}
			v, ok := parseCount(val.Value)
			if !ok {
				continue
			}
			day := end.UTC().Truncate(24 * time.Hour)
			dm, ok := byDay[day]
			if !ok {
				dm = &DailyMetrics{Date: day}
				byDay[day] = dm
			}
			dm.Set(d.Name, v)
		}
	}

	out := make([]DailyMetrics, 0, len(byDay))
	for _, dm := range byDay {
		out = append(out, *dm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (c *GraphClient) waitForContainer(ctx context.Context, token, containerID string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var status struct {
			StatusCode string `json:"status_code"`
			Status     string `json:"status"`
		}
		p := "/" + url.PathEscape(containerID) + "?fields=status_code,status"
		if err := c.do(ctx, token, http.MethodGet, p, nil, &status); err != nil {
			return fmt.Errorf("checking container %s: %w", containerID, err)
		}

		switch status.StatusCode {
		case "FINISHED":
			return nil
		case "ERROR", "EXPIRED":
			return &APIError{StatusCode: http.StatusOK, Message: fmt.Sprintf("container %s %s: %s", containerID, status.StatusCode, status.Status)}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for container %s: %w", containerID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *GraphClient) do(ctx context.Context, token, method, p string, form url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("instagram: waiting for rate limiter: %w", err)
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+p, body)
	if err != nil {
		return fmt.Errorf("instagram: building request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.authorized(token).Do(req)
	if err != nil {
		return fmt.Errorf("instagram: %s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("instagram: reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var graphErr graphErrorResponse
		_ = json.Unmarshal(raw, &graphErr)
		return classify(resp.StatusCode, resp.Header, graphErr, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("instagram: decoding response: %w", err)
	}
	return nil
}

// authorized wraps the shared transport with the bearer token and keeps the configured timeout.
func (c *GraphClient) authorized(token string) *http.Client {
	return &http.Client{
		Timeout: c.httpClient.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   c.httpClient.Transport,
		},
	}
}

func isVideo(ref string) bool {
	p := ref
	if u, err := url.Parse(ref); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if ext == "" {
		return false
	}
	return filetype.GetType(ext).MIME.Type == "video"
}

func parseCount(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}
