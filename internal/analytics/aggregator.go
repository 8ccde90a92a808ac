// Package analytics is the read side of campaign engagement. Raw events go
// in; rates, timelines and breakdowns come out, always derived from exact
// counts at read time.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/salonkit/campaignd/internal/models"
	"github.com/salonkit/campaignd/internal/repository"
)

// Granularity selects the timeline bucket width.
type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
)

const topServicesLimit = 5

// EventSource is the event store the aggregator reads.
type EventSource interface {
	Insert(ctx context.Context, e *models.EngagementEvent) error
	CountsByKind(ctx context.Context, campaignID string) (map[models.EventKind]int, error)
	ListBetween(ctx context.Context, campaignID string, from, to time.Time) ([]models.EngagementEvent, error)
	Breakdown(ctx context.Context, campaignID, dimension string) ([]models.BreakdownEntry, error)
	Links(ctx context.Context, campaignID string) ([]models.LinkStat, error)
	Conversions(ctx context.Context, campaignID string, topN int) (*models.ConversionStats, error)
}

// RecipientSource reports how many recipients a campaign was dispatched to.
type RecipientSource interface {
	CountRecipients(ctx context.Context, campaignID string) (int, error)
}

// Aggregator folds raw engagement events into campaign analytics.
type Aggregator struct {
	events     EventSource
	dispatches RecipientSource
	logger     *slog.Logger
}

func NewAggregator(events EventSource, dispatches RecipientSource, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		events:     events,
		dispatches: dispatches,
		logger:     logger.With("component", "analytics"),
	}
}

var validKinds = map[models.EventKind]bool{
	models.EventSent:         true,
	models.EventDelivered:    true,
	models.EventOpened:       true,
	models.EventClicked:      true,
	models.EventBounced:      true,
	models.EventUnsubscribed: true,
	models.EventComplained:   true,
	models.EventConverted:    true,
}

// RecordEvent stores one engagement event.
func (a *Aggregator) RecordEvent(ctx context.Context, e *models.EngagementEvent) error {
	if !validKinds[e.Kind] {
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.CampaignID == "" {
		return fmt.Errorf("event has no campaign id")
	}
	if err := a.events.Insert(ctx, e); err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Metrics returns the counter block with rates computed from the exact
// counts. Open and click rates are per delivered message; a campaign with
// no deliveries has all-zero rates rather than a division error.
func (a *Aggregator) Metrics(ctx context.Context, campaignID string) (*models.CampaignMetrics, error) {
	counts, err := a.events.CountsByKind(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign metrics: %w", err)
	}
	recipients, err := a.dispatches.CountRecipients(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign recipients: %w", err)
	}
	conv, err := a.events.Conversions(ctx, campaignID, topServicesLimit)
	if err != nil {
		return nil, fmt.Errorf("campaign conversions: %w", err)
	}

	m := &models.CampaignMetrics{
		Recipients:   recipients,
		Sent:         counts[models.EventSent],
		Delivered:    counts[models.EventDelivered],
		Opened:       counts[models.EventOpened],
		Clicked:      counts[models.EventClicked],
		Bounced:      counts[models.EventBounced],
		Unsubscribed: counts[models.EventUnsubscribed],
		Complained:   counts[models.EventComplained],
		Revenue:      conv.Value,
	}
	if m.Delivered > 0 {
		m.OpenRate = rate(m.Opened, m.Delivered)
		m.ClickRate = rate(m.Clicked, m.Delivered)
		m.ConversionRate = rate(conv.Total, m.Delivered)
	}
	if m.Sent > 0 {
		m.BounceRate = rate(m.Bounced, m.Sent)
	}
	return m, nil
}

// Summarize builds the full analytics view over a time range.
func (a *Aggregator) Summarize(ctx context.Context, campaignID string, from, to time.Time, g Granularity) (*models.CampaignAnalytics, error) {
	metrics, err := a.Metrics(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	out := &models.CampaignAnalytics{
		CampaignID: campaignID,
		Metrics:    *metrics,
	}

	events, err := a.events.ListBetween(ctx, campaignID, from, to)
	if err != nil {
		return nil, fmt.Errorf("campaign timeline: %w", err)
	}
	out.Timeline = bucketize(events, g)
	out.PeakEngagementTime = peak(out.Timeline)

	if out.Devices, err = a.events.Breakdown(ctx, campaignID, "device"); err != nil {
		return nil, err
	}
	if out.Locations, err = a.events.Breakdown(ctx, campaignID, "location"); err != nil {
		return nil, err
	}
	if out.Links, err = a.events.Links(ctx, campaignID); err != nil {
		return nil, err
	}

	conv, err := a.events.Conversions(ctx, campaignID, topServicesLimit)
	if err != nil {
		return nil, err
	}
	out.Conversions = *conv

	return out, nil
}

func rate(part, whole int) float64 {
	return float64(part) / float64(whole) * 100
}

// bucketize folds events into contiguous time buckets. Buckets with no
// events are omitted.
func bucketize(events []models.EngagementEvent, g Granularity) []models.TimelineBucket {
	var out []models.TimelineBucket
	index := map[time.Time]int{}

	for _, e := range events {
		key := truncate(e.Timestamp, g)
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, models.TimelineBucket{Timestamp: key})
		}
		switch e.Kind {
		case models.EventOpened:
			out[i].Opens++
		case models.EventClicked:
			out[i].Clicks++
		case models.EventConverted:
			out[i].Conversions++
		}
	}
	return out
}

func truncate(t time.Time, g Granularity) time.Time {
	t = t.UTC()
	if g == GranularityDay {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(time.Hour)
}

// peak returns the timestamp of the bucket with the most combined opens and
// clicks, or nil when nothing was recorded. Ties go to the earlier bucket.
func peak(timeline []models.TimelineBucket) *time.Time {
	best := -1
	var at time.Time
	for _, b := range timeline {
		engagement := b.Opens + b.Clicks
		if engagement > best {
			best = engagement
			at = b.Timestamp
		}
	}
	if best <= 0 {
		return nil
	}
	return &at
}

var _ EventSource = (*repository.EventRepository)(nil)
var _ RecipientSource = (*repository.DispatchRepository)(nil)
