package models

import "time"

// EventKind classifies a per-recipient engagement event.
type EventKind string

const (
	EventSent         EventKind = "sent"
	EventDelivered    EventKind = "delivered"
	EventOpened       EventKind = "opened"
	EventClicked      EventKind = "clicked"
	EventBounced      EventKind = "bounced"
	EventUnsubscribed EventKind = "unsubscribed"
	EventComplained   EventKind = "complained"
	EventConverted    EventKind = "converted"
)

// EngagementEvent is one raw delivery/engagement fact reported back by the
// delivery provider or tracking pixels.
type EngagementEvent struct {
	ID          string    `json:"id"`
	CampaignID  string    `json:"campaign_id"`
	RecipientID string    `json:"recipient_id"`
	Kind        EventKind `json:"kind"`
	Device      string    `json:"device,omitempty"`
	Location    string    `json:"location,omitempty"`
	LinkURL     string    `json:"link_url,omitempty"`
	// ConversionValue and ServiceID accompany "converted" events.
	ConversionValue float64   `json:"conversion_value,omitempty"`
	ServiceID       string    `json:"service_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// CampaignMetrics holds the monotonic counters and their derived rates.
// Rates are computed at read time from the exact counts, never stored.
type CampaignMetrics struct {
	Recipients   int `json:"recipients"`
	Sent         int `json:"sent"`
	Delivered    int `json:"delivered"`
	Opened       int `json:"opened"`
	Clicked      int `json:"clicked"`
	Bounced      int `json:"bounced"`
	Unsubscribed int `json:"unsubscribed"`
	Complained   int `json:"complained"`

	OpenRate       float64 `json:"open_rate"`
	ClickRate      float64 `json:"click_rate"`
	BounceRate     float64 `json:"bounce_rate"`
	ConversionRate float64 `json:"conversion_rate,omitempty"`
	Revenue        float64 `json:"revenue,omitempty"`
}

// TimelineBucket is one granularity bucket of the engagement timeline.
type TimelineBucket struct {
	Timestamp   time.Time `json:"timestamp"`
	Opens       int       `json:"opens"`
	Clicks      int       `json:"clicks"`
	Conversions int       `json:"conversions"`
}

// BreakdownEntry is a group-by-count projection (devices, locations).
type BreakdownEntry struct {
	Label      string  `json:"label"`
	Opens      int     `json:"opens"`
	Clicks     int     `json:"clicks"`
	Percentage float64 `json:"percentage"`
}

// LinkStat counts clicks per tracked link.
type LinkStat struct {
	URL          string `json:"url"`
	Clicks       int    `json:"clicks"`
	UniqueClicks int    `json:"unique_clicks"`
}

// ServiceConversion attributes conversions to a booked service.
type ServiceConversion struct {
	ServiceID   string  `json:"service_id"`
	Conversions int     `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

// ConversionStats summarizes conversion outcomes.
type ConversionStats struct {
	Total       int                 `json:"total_conversions"`
	Value       float64             `json:"conversion_value"`
	TopServices []ServiceConversion `json:"top_converting_services,omitempty"`
}

// CampaignAnalytics is the full read-side analytics view of a campaign.
type CampaignAnalytics struct {
	CampaignID string           `json:"campaign_id"`
	Metrics    CampaignMetrics  `json:"metrics"`
	Timeline   []TimelineBucket `json:"timeline"`
	Devices    []BreakdownEntry `json:"devices,omitempty"`
	Locations  []BreakdownEntry `json:"locations,omitempty"`
	Links      []LinkStat       `json:"most_clicked_links,omitempty"`
	// PeakEngagementTime is the timeline bucket with the highest combined
	// opens and clicks. Nil when no engagement was recorded.
	PeakEngagementTime *time.Time      `json:"peak_engagement_time,omitempty"`
	Conversions        ConversionStats `json:"conversions"`
}
