package models

import "time"

// ScheduleType selects when a campaign goes out.
type ScheduleType string

const (
	ScheduleImmediate ScheduleType = "immediate"
	ScheduleAt        ScheduleType = "scheduled"
	ScheduleRecurring ScheduleType = "recurring"
)

// Frequency is the recurrence unit for recurring schedules.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// RecurringRule describes a recurring schedule.
type RecurringRule struct {
	Frequency Frequency `json:"frequency"`
	// Interval is the step between occurrences in frequency units (every
	// N days/weeks/months). Minimum 1.
	Interval int `json:"interval"`
	// DaysOfWeek applies to weekly rules (0 = Sunday).
	DaysOfWeek []time.Weekday `json:"days_of_week,omitempty"`
	// DayOfMonth applies to monthly rules; clamped to the last valid day
	// when the month is shorter.
	DayOfMonth int        `json:"day_of_month,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
}

// ScheduleConfig describes a campaign's timing.
type ScheduleConfig struct {
	Type      ScheduleType   `json:"type"`
	SendAt    *time.Time     `json:"send_at,omitempty"`
	Timezone  string         `json:"timezone,omitempty"`
	Recurring *RecurringRule `json:"recurring,omitempty"`
	// BatchSize, when set, splits each dispatch window into ordered chunks
	// with BatchDelayMinutes between them.
	BatchSize         int `json:"batch_size,omitempty"`
	BatchDelayMinutes int `json:"batch_delay_minutes,omitempty"`
}
