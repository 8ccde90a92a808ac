package models

import "time"

// TemplateVariable declares a substitution slot in a template.
type TemplateVariable struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Type     string `json:"type"` // text, number, date
	Required bool   `json:"required"`
	Default  string `json:"default_value,omitempty"`
}

// CampaignTemplate is a reusable content seed. Selecting one pre-populates
// a draft but does not constrain it afterward. System templates have an
// empty SalonID and are read-only to tenants.
type CampaignTemplate struct {
	ID          string             `json:"id"`
	SalonID     string             `json:"salon_id,omitempty"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Type        CampaignType       `json:"type"`
	Category    string             `json:"category"`
	Subject     string             `json:"subject,omitempty"`
	Content     string             `json:"content"`
	HTMLContent string             `json:"html_content,omitempty"`
	Variables   []TemplateVariable `json:"variables,omitempty"`
	IsActive    bool               `json:"is_active"`
	IsSystem    bool               `json:"is_system"`
	UsageCount  int                `json:"usage_count"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// TemplateFilter selects templates for listing.
type TemplateFilter struct {
	Type     CampaignType
	Category string
	Search   string
	Page     int
	PageSize int
}

// TemplatePage is one page of a template listing.
type TemplatePage struct {
	Templates []CampaignTemplate `json:"data"`
	Total     int                `json:"total"`
	Page      int                `json:"page"`
	PageSize  int                `json:"page_size"`
}
