package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/salonkit/campaignd/internal/models"
)

// EventRepository stores raw engagement events. Rates and rollups are
// derived at read time; nothing here mutates counters.
type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Insert records one engagement event, assigning its id and timestamp when
// missing.
func (r *EventRepository) Insert(ctx context.Context, e *models.EngagementEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_events (id, campaign_id, recipient_id, kind, device, location,
			link_url, conversion_value, service_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CampaignID, e.RecipientID, e.Kind, e.Device, e.Location,
		e.LinkURL, e.ConversionValue, e.ServiceID, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// CountsByKind returns the per-kind event totals for a campaign.
func (r *EventRepository) CountsByKind(ctx context.Context, campaignID string) (map[models.EventKind]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM campaign_events
		WHERE campaign_id = ? GROUP BY kind`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := map[models.EventKind]int{}
	for rows.Next() {
		var kind models.EventKind
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// ListBetween returns a campaign's opened, clicked and converted events in a
// time range, ordered by timestamp. The aggregator buckets them in Go.
func (r *EventRepository) ListBetween(ctx context.Context, campaignID string, from, to time.Time) ([]models.EngagementEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, recipient_id, kind, device, location, link_url,
			conversion_value, service_id, timestamp
		FROM campaign_events
		WHERE campaign_id = ? AND timestamp >= ? AND timestamp <= ?
			AND kind IN ('opened', 'clicked', 'converted')
		ORDER BY timestamp`, campaignID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []models.EngagementEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// breakdownColumns whitelists the group-by dimensions.
var breakdownColumns = map[string]string{
	"device":   "device",
	"location": "location",
}

// Breakdown groups opens and clicks by one dimension (device or location).
func (r *EventRepository) Breakdown(ctx context.Context, campaignID, dimension string) ([]models.BreakdownEntry, error) {
	col, ok := breakdownColumns[dimension]
	if !ok {
		return nil, fmt.Errorf("unknown breakdown dimension %q", dimension)
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT COALESCE(%s, ''),
			SUM(CASE WHEN kind = 'opened' THEN 1 ELSE 0 END),
			SUM(CASE WHEN kind = 'clicked' THEN 1 ELSE 0 END)
		FROM campaign_events
		WHERE campaign_id = ? AND kind IN ('opened', 'clicked') AND COALESCE(%s, '') != ''
		GROUP BY %s
		ORDER BY 2 DESC, 1 ASC`, col, col, col), campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute %s breakdown: %w", dimension, err)
	}
	defer rows.Close()

	var out []models.BreakdownEntry
	var total int
	for rows.Next() {
		var e models.BreakdownEntry
		if err := rows.Scan(&e.Label, &e.Opens, &e.Clicks); err != nil {
			return nil, err
		}
		total += e.Opens + e.Clicks
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if total > 0 {
		for i := range out {
			out[i].Percentage = float64(out[i].Opens+out[i].Clicks) / float64(total) * 100
		}
	}
	return out, nil
}

// Links returns the click counts per tracked URL, most clicked first.
func (r *EventRepository) Links(ctx context.Context, campaignID string) ([]models.LinkStat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT link_url, COUNT(*), COUNT(DISTINCT recipient_id)
		FROM campaign_events
		WHERE campaign_id = ? AND kind = 'clicked' AND COALESCE(link_url, '') != ''
		GROUP BY link_url
		ORDER BY 2 DESC, 1 ASC`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute link stats: %w", err)
	}
	defer rows.Close()

	var out []models.LinkStat
	for rows.Next() {
		var l models.LinkStat
		if err := rows.Scan(&l.URL, &l.Clicks, &l.UniqueClicks); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Conversions summarizes converted events and the top converting services.
func (r *EventRepository) Conversions(ctx context.Context, campaignID string, topN int) (*models.ConversionStats, error) {
	st := &models.ConversionStats{}
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(conversion_value), 0)
		FROM campaign_events
		WHERE campaign_id = ? AND kind = 'converted'`, campaignID,
	).Scan(&st.Total, &st.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to compute conversion stats: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT service_id, COUNT(*), COALESCE(SUM(conversion_value), 0)
		FROM campaign_events
		WHERE campaign_id = ? AND kind = 'converted' AND COALESCE(service_id, '') != ''
		GROUP BY service_id
		ORDER BY 3 DESC, 1 ASC
		LIMIT ?`, campaignID, topN)
	if err != nil {
		return nil, fmt.Errorf("failed to compute top services: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s models.ServiceConversion
		if err := rows.Scan(&s.ServiceID, &s.Conversions, &s.Revenue); err != nil {
			return nil, err
		}
		st.TopServices = append(st.TopServices, s)
	}
	return st, rows.Err()
}

// VariantCounts tallies one event kind per A/B variant by joining events
// back to the dispatch log of the test cohort.
func (r *EventRepository) VariantCounts(ctx context.Context, campaignID string, kind models.EventKind) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT d.variant, COUNT(*)
		FROM campaign_events e
		JOIN dispatch_log d ON d.campaign_id = e.campaign_id AND d.recipient_id = e.recipient_id
		WHERE e.campaign_id = ? AND e.kind = ? AND d.variant != ''
		GROUP BY d.variant`, campaignID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to count events per variant: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var variant string
		var n int
		if err := rows.Scan(&variant, &n); err != nil {
			return nil, err
		}
		counts[variant] = n
	}
	return counts, rows.Err()
}

func scanEvent(row rowScanner) (*models.EngagementEvent, error) {
	e := &models.EngagementEvent{}
	var device, location, linkURL, serviceID sql.NullString
	err := row.Scan(&e.ID, &e.CampaignID, &e.RecipientID, &e.Kind, &device, &location,
		&linkURL, &e.ConversionValue, &serviceID, &e.Timestamp)
	if err != nil {
		return nil, err
	}
	e.Device = device.String
	e.Location = location.String
	e.LinkURL = linkURL.String
	e.ServiceID = serviceID.String
	return e, nil
}
