package models

import "time"

// CampaignType is the delivery channel of a campaign.
type CampaignType string

const (
	TypeEmail CampaignType = "email"
	TypeSMS   CampaignType = "sms"
	TypePush  CampaignType = "push"
)

// CampaignStatus is the lifecycle state of a campaign. Transitions between
// statuses are validated by the campaign package's state machine.
type CampaignStatus string

const (
	StatusDraft     CampaignStatus = "draft"
	StatusScheduled CampaignStatus = "scheduled"
	StatusSending   CampaignStatus = "sending"
	StatusSent      CampaignStatus = "sent"
	StatusFailed    CampaignStatus = "failed"
	StatusPaused    CampaignStatus = "paused"
)

// ABPhase tracks the two-phase A/B send. Empty when A/B testing is off.
type ABPhase string

const (
	ABPhaseTesting ABPhase = "testing"
	ABPhaseDecided ABPhase = "decided"
)

// Campaign is the aggregate root. It is exclusively owned by one salon;
// every operation checks the actor's salon against SalonID first.
type Campaign struct {
	ID          string         `json:"id"`
	SalonID     string         `json:"salon_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Type        CampaignType   `json:"type"`
	Status      CampaignStatus `json:"status"`
	Subject     string         `json:"subject,omitempty"`
	Content     string         `json:"content"`
	HTMLContent string         `json:"html_content,omitempty"`
	TemplateID  string         `json:"template_id,omitempty"`

	Audience AudienceConfig   `json:"audience"`
	Schedule ScheduleConfig   `json:"schedule"`
	Settings CampaignSettings `json:"settings"`

	ABPhase ABPhase `json:"ab_phase,omitempty"`

	CreatedBy   string     `json:"created_by"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`

	// Metrics is read-only, populated from recorded engagement events once
	// sending has started. Campaign edits never touch it.
	Metrics *CampaignMetrics `json:"metrics,omitempty"`

	// Version guards concurrent mutations: every update and status
	// transition is a compare-and-swap on this counter.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CampaignData is the mutable portion of a campaign supplied by the
// composition flow.
type CampaignData struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Type        CampaignType     `json:"type"`
	Subject     string           `json:"subject,omitempty"`
	Content     string           `json:"content"`
	HTMLContent string           `json:"html_content,omitempty"`
	TemplateID  string           `json:"template_id,omitempty"`
	Audience    AudienceConfig   `json:"audience"`
	Schedule    ScheduleConfig   `json:"schedule"`
	Settings    CampaignSettings `json:"settings"`
}

// CampaignSortField enumerates the supported list sort keys.
type CampaignSortField string

const (
	SortByName        CampaignSortField = "name"
	SortByCreatedAt   CampaignSortField = "created_at"
	SortByScheduledAt CampaignSortField = "scheduled_at"
	SortBySentAt      CampaignSortField = "sent_at"
	SortByStatus      CampaignSortField = "status"
)

// CampaignFilter selects campaigns for listing.
type CampaignFilter struct {
	Type     CampaignType
	Status   CampaignStatus
	Search   string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
	SortBy   CampaignSortField
	SortDesc bool
}

// CampaignPage is one page of a campaign listing.
type CampaignPage struct {
	Campaigns []Campaign `json:"data"`
	Total     int        `json:"total"`
	Page      int        `json:"page"`
	PageSize  int        `json:"page_size"`
}

// CampaignStats is the per-salon dashboard rollup.
type CampaignStats struct {
	TotalCampaigns   int     `json:"total_campaigns"`
	ActiveCampaigns  int     `json:"active_campaigns"`
	TotalSent        int     `json:"total_sent"`
	AverageOpenRate  float64 `json:"average_open_rate"`
	AverageClickRate float64 `json:"average_click_rate"`
	TotalRevenue     float64 `json:"total_revenue_generated"`
}
