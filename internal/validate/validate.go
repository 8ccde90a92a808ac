// Package validate holds the shared rule definitions used both for
// interactive per-step validation during campaign composition and for the
// pre-send gate that guards the sending/scheduled transitions.
package validate

import (
	"fmt"
	"net/mail"
	"sort"
	"strings"

	"github.com/salonkit/campaignd/internal/models"
)

// Step identifies one page of the composition flow.
type Step int

const (
	StepBasics Step = iota
	StepContent
	StepAudience
	StepSchedule
	StepSettings
)

const stepCount = 5

// smsSegmentLength is the single-segment SMS limit used for advisories.
const smsSegmentLength = 160

// CheckStep runs only the rules relevant to one composition step and
// returns a field -> message map. An empty map means the step is valid.
func CheckStep(step Step, data models.CampaignData) map[string]string {
	errs := map[string]string{}

	switch step {
	case StepBasics:
		if strings.TrimSpace(data.Name) == "" {
			errs["name"] = "campaign name is required"
		}
		switch data.Type {
		case models.TypeEmail, models.TypeSMS, models.TypePush:
		case "":
			errs["type"] = "campaign type is required"
		default:
			errs["type"] = fmt.Sprintf("unknown campaign type %q", data.Type)
		}

	case StepContent:
		if strings.TrimSpace(data.Content) == "" {
			errs["content"] = "campaign content is required"
		}
		if data.Type == models.TypeEmail && strings.TrimSpace(data.Subject) == "" {
			errs["subject"] = "email subject is required"
		}

	case StepAudience:
		checkAudience(data.Audience, errs)

	case StepSchedule:
		checkSchedule(data.Schedule, errs)

	case StepSettings:
		checkSettings(data.Type, data.Settings, errs)
	}

	return errs
}

// CheckDraft runs every step's rules and merges the results.
func CheckDraft(data models.CampaignData) map[string]string {
	errs := map[string]string{}
	for step := Step(0); step < stepCount; step++ {
		for k, v := range CheckStep(step, data) {
			errs[k] = v
		}
	}
	return errs
}

func checkAudience(a models.AudienceConfig, errs map[string]string) {
	switch a.Type {
	case models.AudienceAll:
	case models.AudienceSegment:
		if len(a.Segments) == 0 {
			errs["audience.segments"] = "select at least one segment"
		}
	case models.AudienceCustom:
		if len(a.CustomList) == 0 {
			errs["audience.custom_list"] = "custom recipient list is empty"
		}
	case "":
		errs["audience.type"] = "audience selection is required"
	default:
		errs["audience.type"] = fmt.Sprintf("unknown audience type %q", a.Type)
	}
}

func checkSchedule(s models.ScheduleConfig, errs map[string]string) {
	switch s.Type {
	case models.ScheduleImmediate:
	case models.ScheduleAt:
		if s.SendAt == nil {
			errs["schedule.send_at"] = "send time is required"
		}
		if s.Timezone == "" {
			errs["schedule.timezone"] = "timezone is required"
		}
	case models.ScheduleRecurring:
		r := s.Recurring
		if r == nil {
			errs["schedule.recurring"] = "recurrence rule is required"
			return
		}
		switch r.Frequency {
		case models.FrequencyDaily:
		case models.FrequencyWeekly:
			if len(r.DaysOfWeek) == 0 {
				errs["schedule.recurring.days_of_week"] = "select at least one weekday"
			}
		case models.FrequencyMonthly:
			if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
				errs["schedule.recurring.day_of_month"] = "day of month must be between 1 and 31"
			}
		default:
			errs["schedule.recurring.frequency"] = fmt.Sprintf("unknown frequency %q", r.Frequency)
		}
		if r.Interval < 1 {
			errs["schedule.recurring.interval"] = "interval must be at least 1"
		}
	case "":
		errs["schedule.type"] = "schedule configuration is required"
	default:
		errs["schedule.type"] = fmt.Sprintf("unknown schedule type %q", s.Type)
	}

	if s.BatchSize < 0 {
		errs["schedule.batch_size"] = "batch size cannot be negative"
	}
	if s.BatchSize > 0 && s.BatchDelayMinutes < 0 {
		errs["schedule.batch_delay_minutes"] = "batch delay cannot be negative"
	}
}

func checkSettings(typ models.CampaignType, s models.CampaignSettings, errs map[string]string) {
	if typ == models.TypeEmail {
		if s.FromEmail == "" {
			errs["settings.from_email"] = "sender address is required for email campaigns"
		} else if _, err := mail.ParseAddress(s.FromEmail); err != nil {
			errs["settings.from_email"] = "sender address is not a valid email"
		}
	}

	if ab := s.ABTest; ab != nil && ab.Enabled {
		if len(ab.Variants) < 2 {
			errs["settings.ab_testing.variants"] = "A/B testing needs at least two variants"
		}
		if ab.TestSizePercent < 1 || ab.TestSizePercent > 50 {
			errs["settings.ab_testing.test_size"] = "test size must be between 1 and 50 percent"
		}
		switch ab.WinningMetric {
		case models.WinByOpens, models.WinByClicks, models.WinByConversions:
		default:
			errs["settings.ab_testing.winning_metric"] = "winning metric must be opens, clicks or conversions"
		}
		if ab.TestDurationHours < 1 {
			errs["settings.ab_testing.test_duration_hours"] = "test duration must be at least one hour"
		}
	}
}

// Report is the result of the pre-send gate. Blockers must be empty before
// a campaign may enter sending or scheduled; warnings are advisories only.
type Report struct {
	Blockers []string `json:"blockers,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// OK reports whether the campaign may proceed to send.
func (r Report) OK() bool { return len(r.Blockers) == 0 }

// PreSend re-runs every step's rules and adds the cross-cutting checks.
// estimatedReach is the freshly computed audience size, not the cached one.
func PreSend(data models.CampaignData, estimatedReach, minContentLength int) Report {
	var rep Report

	fieldErrs := CheckDraft(data)
	keys := make([]string, 0, len(fieldErrs))
	for k := range fieldErrs {
		keys = append(keys, k)
	}
	// Deterministic blocker order for stable API responses.
	sort.Strings(keys)
	for _, k := range keys {
		rep.Blockers = append(rep.Blockers, fieldErrs[k])
	}

	if data.Type == models.TypePush {
		rep.Blockers = append(rep.Blockers, "push campaigns have no configured delivery channel")
	}

	if estimatedReach <= 0 {
		rep.Blockers = append(rep.Blockers, "audience has no contactable recipients")
	}

	if n := len(strings.TrimSpace(data.Content)); n > 0 && n < minContentLength {
		rep.Blockers = append(rep.Blockers, fmt.Sprintf("content is shorter than the %d character minimum", minContentLength))
	}

	if data.Type == models.TypeEmail && !data.Settings.UnsubscribeLink {
		rep.Blockers = append(rep.Blockers, "email campaigns must include an unsubscribe link")
	}

	if !data.Settings.TrackOpens && !data.Settings.TrackClicks {
		rep.Warnings = append(rep.Warnings, "tracking is disabled; engagement metrics will be empty")
	}
	if data.Settings.ABTest == nil || !data.Settings.ABTest.Enabled {
		rep.Warnings = append(rep.Warnings, "no A/B test configured")
	}
	if data.Type == models.TypeSMS && len(data.Content) > smsSegmentLength {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("SMS content exceeds %d characters and will be split into multiple segments", smsSegmentLength))
	}

	return rep
}
