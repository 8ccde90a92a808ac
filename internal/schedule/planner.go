// Package schedule turns schedule configurations into concrete dispatch
// plans and runs them.
package schedule

import (
	"fmt"
	"time"

	"github.com/salonkit/campaignd/internal/campaign"
	"github.com/salonkit/campaignd/internal/models"
)

// Window is one timed chunk of a dispatch plan.
type Window struct {
	At time.Time
	// Occurrence numbers the recurrence instance this window belongs to,
	// starting at 0. All batches of one occurrence share it.
	Occurrence int
	// Batch numbers the chunk within its occurrence.
	Batch int
	From  int // index into the recipient slice, inclusive
	To    int // exclusive
}

// Plan is the fully expanded dispatch timetable for one campaign.
type Plan struct {
	Windows []Window
}

// Options caps recurrence expansion for rules without an end date.
type Options struct {
	// Horizon is the maximum number of occurrences expanded for an
	// open-ended recurring rule.
	Horizon int
	// DefaultTimezone applies when the schedule names none.
	DefaultTimezone string
	// DefaultBatchSize batches dispatch when the schedule sets no batch
	// size of its own. Zero leaves unbatched schedules unbatched.
	DefaultBatchSize int
	// DefaultBatchDelayMinutes spaces batches created by DefaultBatchSize.
	DefaultBatchDelayMinutes int
}

// Build expands a schedule into dispatch windows over recipientCount
// recipients. Immediate schedules produce windows starting at now;
// one-shot schedules start at the configured send time, which must not be
// in the past.
func Build(s models.ScheduleConfig, recipientCount int, now time.Time, opts Options) (*Plan, error) {
	if opts.Horizon < 1 {
		opts.Horizon = 1
	}

	loc, err := location(s, opts)
	if err != nil {
		return nil, err
	}

	var starts []time.Time
	switch s.Type {
	case models.ScheduleImmediate:
		starts = []time.Time{now}

	case models.ScheduleAt:
		if s.SendAt == nil {
			return nil, fmt.Errorf("scheduled send has no send time")
		}
		at := s.SendAt.In(loc)
		if at.Before(now) {
			return nil, campaign.ErrScheduleInPast
		}
		starts = []time.Time{at}

	case models.ScheduleRecurring:
		if s.Recurring == nil {
			return nil, fmt.Errorf("recurring schedule has no rule")
		}
		starts, err = expand(*s.Recurring, s.SendAt, now, loc, opts.Horizon)
		if err != nil {
			return nil, err
		}
		if len(starts) == 0 {
			return nil, campaign.ErrScheduleInPast
		}

	default:
		return nil, fmt.Errorf("unknown schedule type %q", s.Type)
	}

	plan := &Plan{}
	for occ, start := range starts {
		plan.Windows = append(plan.Windows, batches(start, occ, recipientCount, s, opts)...)
	}
	return plan, nil
}

func location(s models.ScheduleConfig, opts Options) (*time.Location, error) {
	name := s.Timezone
	if name == "" {
		name = opts.DefaultTimezone
	}
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// batches splits one occurrence into size-limited windows, each delayed by
// the configured gap from the previous.
func batches(start time.Time, occurrence, recipientCount int, s models.ScheduleConfig, opts Options) []Window {
	size := s.BatchSize
	delayMinutes := s.BatchDelayMinutes
	if size <= 0 {
		size = opts.DefaultBatchSize
		delayMinutes = opts.DefaultBatchDelayMinutes
	}
	if size <= 0 || size >= recipientCount {
		return []Window{{At: start, Occurrence: occurrence, From: 0, To: recipientCount}}
	}

	delay := time.Duration(delayMinutes) * time.Minute
	var out []Window
	for i, from := 0, 0; from < recipientCount; i, from = i+1, from+size {
		to := from + size
		if to > recipientCount {
			to = recipientCount
		}
		out = append(out, Window{
			At:         start.Add(time.Duration(i) * delay),
			Occurrence: occurrence,
			Batch:      i,
			From:       from,
			To:         to,
		})
	}
	return out
}

// expand lists the future occurrence times of a recurring rule. The anchor
// (first candidate) is the configured send time, or now when absent.
// Occurrences are capped by the rule's end date or the horizon.
func expand(r models.RecurringRule, sendAt *time.Time, now time.Time, loc *time.Location, horizon int) ([]time.Time, error) {
	interval := r.Interval
	if interval < 1 {
		interval = 1
	}

	anchor := now.In(loc)
	if sendAt != nil {
		anchor = sendAt.In(loc)
	}

	ended := func(t time.Time) bool {
		return r.EndDate != nil && t.After(*r.EndDate)
	}

	var out []time.Time
	switch r.Frequency {
	case models.FrequencyDaily:
		t := anchor
		for !t.After(now) {
			t = t.AddDate(0, 0, interval)
		}
		for len(out) < horizon && !ended(t) {
			out = append(out, t)
			t = t.AddDate(0, 0, interval)
		}

	case models.FrequencyWeekly:
		if len(r.DaysOfWeek) == 0 {
			return nil, fmt.Errorf("weekly rule has no weekdays")
		}
		wanted := map[time.Weekday]bool{}
		for _, d := range r.DaysOfWeek {
			wanted[d] = true
		}
		// Walk day by day from the anchor; interval skips whole weeks.
		weekStart := anchor.AddDate(0, 0, -int(anchor.Weekday()))
		for t := anchor; len(out) < horizon; t = t.AddDate(0, 0, 1) {
			if ended(t) {
				break
			}
			if !wanted[t.Weekday()] || !t.After(now) {
				continue
			}
			weeks := daysBetween(weekStart, t) / 7
			if weeks%interval != 0 {
				continue
			}
			out = append(out, t)
		}

	case models.FrequencyMonthly:
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return nil, fmt.Errorf("monthly rule day %d out of range", r.DayOfMonth)
		}
		year, month := anchor.Year(), anchor.Month()
		for len(out) < horizon {
			t := monthlyOccurrence(year, month, r.DayOfMonth, anchor, loc)
			if ended(t) {
				break
			}
			if t.After(now) {
				out = append(out, t)
			}
			month += time.Month(interval)
			for month > 12 {
				month -= 12
				year++
			}
		}

	default:
		return nil, fmt.Errorf("unknown frequency %q", r.Frequency)
	}

	return out, nil
}

// daysBetween counts calendar days from a to b. Wall-clock arithmetic
// would come up an hour short across a DST transition and mis-bucket the
// following week.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua) / (24 * time.Hour))
}

// monthlyOccurrence places the rule day in a month, clamping day 29-31 to
// the month's last day, at the anchor's time of day.
func monthlyOccurrence(year int, month time.Month, day int, anchor time.Time, loc *time.Location) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	if day > last {
		day = last
	}
	return time.Date(year, month, day,
		anchor.Hour(), anchor.Minute(), anchor.Second(), 0, loc)
}
