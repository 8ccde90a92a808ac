package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/salonkit/campaignd/internal/models"
)

// TemplateRepository persists campaign templates. System templates carry an
// empty salon_id and are visible to every tenant.
type TemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateColumns = `id, salon_id, name, description, type, category, subject, content,
	html_content, variables, is_active, is_system, usage_count, created_at, updated_at`

// GetByID returns a template by id, or nil, nil when it does not exist.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.CampaignTemplate, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+templateColumns+` FROM campaign_templates WHERE id = ?`, id)

	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// List returns one page of templates visible to a salon: its own plus the
// active system catalog.
func (r *TemplateRepository) List(ctx context.Context, salonID string, f models.TemplateFilter) (*models.TemplatePage, error) {
	where := "WHERE (salon_id = ? OR (is_system = 1 AND is_active = 1))"
	args := []any{salonID}

	if f.Type != "" {
		where += " AND type = ?"
		args = append(args, f.Type)
	}
	if f.Category != "" {
		where += " AND category = ?"
		args = append(args, f.Category)
	}
	if f.Search != "" {
		where += " AND (name LIKE ? OR description LIKE ?)"
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM campaign_templates "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count templates: %w", err)
	}

	query := "SELECT " + templateColumns + " FROM campaign_templates " + where +
		" ORDER BY usage_count DESC, name ASC, id ASC LIMIT ? OFFSET ?"
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	page := &models.TemplatePage{Total: total, Page: f.Page, PageSize: f.PageSize}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		page.Templates = append(page.Templates, *t)
	}
	return page, rows.Err()
}

// Save inserts or updates a tenant template.
func (r *TemplateRepository) Save(ctx context.Context, t *models.CampaignTemplate) error {
	variables, err := json.Marshal(t.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal template variables: %w", err)
	}

	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = uuid.New().String()
		t.CreatedAt = now
		t.UpdatedAt = now
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO campaign_templates (`+templateColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.SalonID, t.Name, t.Description, t.Type, t.Category, t.Subject, t.Content,
			t.HTMLContent, variables, t.IsActive, t.IsSystem, t.UsageCount, t.CreatedAt, t.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create template: %w", err)
		}
		return nil
	}

	t.UpdatedAt = now
	_, err = r.db.ExecContext(ctx, `
		UPDATE campaign_templates
		SET name = ?, description = ?, type = ?, category = ?, subject = ?, content = ?,
			html_content = ?, variables = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, t.Description, t.Type, t.Category, t.Subject, t.Content,
		t.HTMLContent, variables, t.IsActive, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	return nil
}

// Delete removes a template.
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM campaign_templates WHERE id = ?", id)
	return err
}

// IncrementUsage bumps the template usage counter.
func (r *TemplateRepository) IncrementUsage(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE campaign_templates SET usage_count = usage_count + 1 WHERE id = ?", id)
	return err
}

func scanTemplate(row rowScanner) (*models.CampaignTemplate, error) {
	t := &models.CampaignTemplate{}
	var description, subject, htmlContent sql.NullString
	var variables []byte

	err := row.Scan(
		&t.ID, &t.SalonID, &t.Name, &description, &t.Type, &t.Category, &subject, &t.Content,
		&htmlContent, &variables, &t.IsActive, &t.IsSystem, &t.UsageCount, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Description = description.String
	t.Subject = subject.String
	t.HTMLContent = htmlContent.String
	if len(variables) > 0 {
		if err := json.Unmarshal(variables, &t.Variables); err != nil {
			return nil, fmt.Errorf("failed to unmarshal template variables: %w", err)
		}
	}
	return t, nil
}
