package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/salonkit/campaignd/internal/campaign"
	"github.com/salonkit/campaignd/internal/models"
)

// CampaignRepository persists campaigns in sqlite. Embedded value objects
// (audience, schedule, settings) are stored as JSON columns.
type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, salon_id, name, description, type, status, subject, content, html_content,
	template_id, audience, schedule, settings, ab_phase, created_by, scheduled_at, sent_at,
	version, created_at, updated_at`

// Create inserts a new campaign, assigning id, version and timestamps.
func (r *CampaignRepository) Create(ctx context.Context, c *models.Campaign) error {
	c.ID = uuid.New().String()
	c.Version = 1
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt

	audience, schedule, settings, err := marshalEmbedded(c)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO campaigns (`+campaignColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SalonID, c.Name, c.Description, c.Type, c.Status, c.Subject, c.Content, c.HTMLContent,
		c.TemplateID, audience, schedule, settings, c.ABPhase, c.CreatedBy, c.ScheduledAt, c.SentAt,
		c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign by id, or nil, nil when it does not exist.
func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)

	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Update writes a campaign back with a compare-and-swap on version. A lost
// race yields campaign.ErrConcurrentModification and the record stays
// untouched.
func (r *CampaignRepository) Update(ctx context.Context, c *models.Campaign) error {
	audience, schedule, settings, err := marshalEmbedded(c)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET name = ?, description = ?, type = ?, status = ?, subject = ?, content = ?,
			html_content = ?, template_id = ?, audience = ?, schedule = ?, settings = ?,
			ab_phase = ?, scheduled_at = ?, sent_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		c.Name, c.Description, c.Type, c.Status, c.Subject, c.Content,
		c.HTMLContent, c.TemplateID, audience, schedule, settings,
		c.ABPhase, c.ScheduledAt, c.SentAt, now,
		c.ID, c.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return campaign.ErrConcurrentModification
	}
	c.Version++
	c.UpdatedAt = now
	return nil
}

// Delete removes a campaign.
func (r *CampaignRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM campaigns WHERE id = ?", id)
	return err
}

// sortColumns whitelists the list sort keys.
var sortColumns = map[models.CampaignSortField]string{
	models.SortByName:        "name",
	models.SortByCreatedAt:   "created_at",
	models.SortByScheduledAt: "scheduled_at",
	models.SortBySentAt:      "sent_at",
	models.SortByStatus:      "status",
}

// List returns one page of a salon's campaigns with filtering and a
// deterministic sort (requested column, then id as tie-break).
func (r *CampaignRepository) List(ctx context.Context, salonID string, f models.CampaignFilter) (*models.CampaignPage, error) {
	where := "WHERE salon_id = ?"
	args := []any{salonID}

	if f.Type != "" {
		where += " AND type = ?"
		args = append(args, f.Type)
	}
	if f.Status != "" {
		where += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.Search != "" {
		where += " AND (name LIKE ? OR description LIKE ? OR subject LIKE ?)"
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern, pattern)
	}
	if f.From != nil {
		where += " AND created_at >= ?"
		args = append(args, f.From)
	}
	if f.To != nil {
		where += " AND created_at <= ?"
		args = append(args, f.To)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM campaigns "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count campaigns: %w", err)
	}

	col, ok := sortColumns[f.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}

	query := fmt.Sprintf(
		"SELECT "+campaignColumns+" FROM campaigns %s ORDER BY %s %s, id ASC LIMIT ? OFFSET ?",
		where, col, dir,
	)
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	page := &models.CampaignPage{Total: total, Page: f.Page, PageSize: f.PageSize}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		page.Campaigns = append(page.Campaigns, *c)
	}
	return page, rows.Err()
}

// Stats computes the salon dashboard rollup from campaigns and recorded
// engagement events.
func (r *CampaignRepository) Stats(ctx context.Context, salonID string) (*models.CampaignStats, error) {
	st := &models.CampaignStats{}

	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM campaigns WHERE salon_id = ?),
			(SELECT COUNT(*) FROM campaigns WHERE salon_id = ? AND status IN ('scheduled', 'sending')),
			(SELECT COUNT(*) FROM campaign_events e JOIN campaigns c ON e.campaign_id = c.id
				WHERE c.salon_id = ? AND e.kind = 'sent')`,
		salonID, salonID, salonID,
	).Scan(&st.TotalCampaigns, &st.ActiveCampaigns, &st.TotalSent)
	if err != nil {
		return nil, fmt.Errorf("failed to compute campaign stats: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT
			SUM(CASE WHEN e.kind = 'delivered' THEN 1 ELSE 0 END),
			SUM(CASE WHEN e.kind = 'opened' THEN 1 ELSE 0 END),
			SUM(CASE WHEN e.kind = 'clicked' THEN 1 ELSE 0 END),
			SUM(CASE WHEN e.kind = 'converted' THEN e.conversion_value ELSE 0 END)
		FROM campaign_events e
		JOIN campaigns c ON e.campaign_id = c.id
		WHERE c.salon_id = ?
		GROUP BY e.campaign_id`, salonID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute engagement stats: %w", err)
	}
	defer rows.Close()

	var withDelivery int
	var openSum, clickSum float64
	for rows.Next() {
		var delivered, opened, clicked int
		var revenue float64
		if err := rows.Scan(&delivered, &opened, &clicked, &revenue); err != nil {
			return nil, err
		}
		st.TotalRevenue += revenue
		if delivered > 0 {
			withDelivery++
			openSum += float64(opened) / float64(delivered) * 100
			clickSum += float64(clicked) / float64(delivered) * 100
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if withDelivery > 0 {
		st.AverageOpenRate = openSum / float64(withDelivery)
		st.AverageClickRate = clickSum / float64(withDelivery)
	}
	return st, nil
}

func marshalEmbedded(c *models.Campaign) (audience, schedule, settings []byte, err error) {
	if audience, err = json.Marshal(c.Audience); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal audience: %w", err)
	}
	if schedule, err = json.Marshal(c.Schedule); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal schedule: %w", err)
	}
	if settings, err = json.Marshal(c.Settings); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	return audience, schedule, settings, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	c := &models.Campaign{}
	var description, subject, htmlContent, templateID sql.NullString
	var audience, schedule, settings []byte
	var scheduledAt, sentAt sql.NullTime

	err := row.Scan(
		&c.ID, &c.SalonID, &c.Name, &description, &c.Type, &c.Status, &subject, &c.Content, &htmlContent,
		&templateID, &audience, &schedule, &settings, &c.ABPhase, &c.CreatedBy, &scheduledAt, &sentAt,
		&c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Description = description.String
	c.Subject = subject.String
	c.HTMLContent = htmlContent.String
	c.TemplateID = templateID.String
	if scheduledAt.Valid {
		t := scheduledAt.Time
		c.ScheduledAt = &t
	}
	if sentAt.Valid {
		t := sentAt.Time
		c.SentAt = &t
	}

	if err := json.Unmarshal(audience, &c.Audience); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audience: %w", err)
	}
	if err := json.Unmarshal(schedule, &c.Schedule); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schedule: %w", err)
	}
	if err := json.Unmarshal(settings, &c.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	return c, nil
}
