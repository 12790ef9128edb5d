package instagram

// Metrics holds the insight counters the service understands.
type Metrics struct {
	Impressions   int64
	Reach         int64
	Likes         int64
	Comments      int64
	Shares        int64
	Saved         int64
	ProfileViews  int64
	WebsiteClicks int64
}

// metricFields maps Graph insight names onto Metrics fields.
// Names outside this table are dropped when a response is decoded.
var metricFields = map[string]func(*Metrics) *int64{
	"impressions":    func(m *Metrics) *int64 { return &m.Impressions },
	"reach":          func(m *Metrics) *int64 { return &m.Reach },
	"likes":          func(m *Metrics) *int64 { return &m.Likes },
	"comments":       func(m *Metrics) *int64 { return &m.Comments },
	"shares":         func(m *Metrics) *int64 { return &m.Shares },
	"saved":          func(m *Metrics) *int64 { return &m.Saved },
	"profile_views":  func(m *Metrics) *int64 { return &m.ProfileViews },
	"website_clicks": func(m *Metrics) *int64 { return &m.WebsiteClicks },
}

const (
	mediaMetrics   = "impressions,reach,likes,comments,shares,saved"
	accountMetrics = "impressions,reach,profile_views,website_clicks"
)

// Set stores value under the Graph metric name. It reports false for unknown names.
func (m *Metrics) Set(name string, value int64) bool {
	field, ok := metricFields[name]
	if !ok {
		return false
	}
	*field(m) = value
	return true
}
