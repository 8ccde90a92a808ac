package models

// WinningMetric decides an A/B test.
type WinningMetric string

const (
	WinByOpens       WinningMetric = "opens"
	WinByClicks      WinningMetric = "clicks"
	WinByConversions WinningMetric = "conversions"
)

// ABVariant is one content alternative in an A/B test.
type ABVariant struct {
	Name    string `json:"name"`
	Subject string `json:"subject,omitempty"`
	Content string `json:"content"`
}

// ABTestConfig configures the two-phase A/B send: a test cohort of
// TestSizePercent of the audience is split evenly across the variants, and
// after TestDurationHours the variant with the best WinningMetric goes to
// the remainder.
type ABTestConfig struct {
	Enabled           bool          `json:"enabled"`
	Variants          []ABVariant   `json:"variants"`
	TestSizePercent   int           `json:"test_size"`
	WinningMetric     WinningMetric `json:"winning_metric"`
	TestDurationHours int           `json:"test_duration_hours"`
}

// CampaignSettings holds behavior flags and sender identity.
type CampaignSettings struct {
	TrackOpens      bool   `json:"track_opens"`
	TrackClicks     bool   `json:"track_clicks"`
	UnsubscribeLink bool   `json:"unsubscribe_link"`
	FromName        string `json:"from_name,omitempty"`
	FromEmail       string `json:"from_email,omitempty"`
	ReplyTo         string `json:"reply_to,omitempty"`
	// TestMode routes every send exclusively to TestRecipients (or the
	// requesting actor's own address when empty) and never advances the
	// campaign lifecycle.
	TestMode       bool          `json:"test_mode"`
	TestRecipients []string      `json:"test_recipients,omitempty"`
	ABTest         *ABTestConfig `json:"ab_testing,omitempty"`
}
