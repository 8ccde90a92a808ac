package models

import "time"

// AudienceType selects how the recipient set is built.
type AudienceType string

const (
	AudienceAll     AudienceType = "all"
	AudienceSegment AudienceType = "segment"
	AudienceCustom  AudienceType = "custom"
)

// AudienceFilters narrows the candidate customer set. Nil pointer fields
// mean "no constraint". Filters intersect: each active filter reduces the
// set further.
type AudienceFilters struct {
	AgeMin       *int     `json:"age_min,omitempty"`
	AgeMax       *int     `json:"age_max,omitempty"`
	Genders      []string `json:"genders,omitempty"`
	Locations    []string `json:"locations,omitempty"`
	MinVisits    *int     `json:"min_visits,omitempty"`
	MaxVisits    *int     `json:"max_visits,omitempty"`
	MinSpent     *float64 `json:"min_spent,omitempty"`
	MaxSpent     *float64 `json:"max_spent,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	LoyaltyTiers []string `json:"loyalty_tiers,omitempty"`
	// VisitedWithinDays keeps only customers whose last visit is at most
	// this many days old.
	VisitedWithinDays *int `json:"visited_within_days,omitempty"`
}

// AudienceConfig describes who a campaign targets.
type AudienceConfig struct {
	Type     AudienceType     `json:"type"`
	Filters  *AudienceFilters `json:"filters,omitempty"`
	Segments []string         `json:"segments,omitempty"`
	// CustomList holds explicit addresses (emails or phone numbers
	// depending on the campaign type).
	CustomList []string `json:"custom_list,omitempty"`
	// EstimatedReach is a cache recomputed whenever the inputs change.
	// It is never trusted at send time; resolve() recomputes the real set.
	EstimatedReach *int `json:"estimated_reach,omitempty"`
}

// SegmentBreakdown is one segment's share of an audience estimate.
type SegmentBreakdown struct {
	SegmentID  string  `json:"segment_id"`
	Name       string  `json:"name"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// CustomerPreview is the trimmed customer view shown while composing.
type CustomerPreview struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	VisitCount int        `json:"visit_count"`
	TotalSpent float64    `json:"total_spent"`
	LastVisit  *time.Time `json:"last_visit,omitempty"`
}

// AudiencePreview is the live estimate returned during composition.
type AudiencePreview struct {
	TotalCount int                `json:"total_count"`
	Segments   []SegmentBreakdown `json:"segments,omitempty"`
	Sample     []CustomerPreview  `json:"preview_customers,omitempty"`
}

// Recipient is one resolved, contactable member of a campaign audience.
// Address is an email or a phone number depending on the channel.
type Recipient struct {
	CustomerID string `json:"customer_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Address    string `json:"address"`
}
