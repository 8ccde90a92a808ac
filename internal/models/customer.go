package models

import "time"

// Customer is the salon's customer record as seen by the campaign core.
// The CRM owns the full record; only the fields audience targeting needs
// are surfaced here.
type Customer struct {
	ID          string     `json:"id"`
	SalonID     string     `json:"salon_id"`
	Name        string     `json:"name"`
	Email       string     `json:"email,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	Gender      string     `json:"gender,omitempty"`
	Age         int        `json:"age,omitempty"`
	Location    string     `json:"location,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	LoyaltyTier string     `json:"loyalty_tier,omitempty"`
	VisitCount  int        `json:"visit_count"`
	TotalSpent  float64    `json:"total_spent"`
	LastVisit   *time.Time `json:"last_visit,omitempty"`
	EmailOptIn  bool       `json:"email_opt_in"`
	SMSOptIn    bool       `json:"sms_opt_in"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Segment is a named, predefined customer cohort (e.g. "VIP Customers").
type Segment struct {
	ID          string    `json:"id"`
	SalonID     string    `json:"salon_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
