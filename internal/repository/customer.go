package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/salonkit/campaignd/internal/models"
)

// CustomerQuery describes one audience predicate. Channel decides which
// contact field must be present and which opt-in applies; the query and the
// count share the exact same WHERE clause so estimates never drift from the
// resolved set.
type CustomerQuery struct {
	SalonID    string
	Channel    models.CampaignType
	Filters    *models.AudienceFilters
	SegmentIDs []string
}

// CustomerRepository reads the CRM-owned customer and segment tables.
type CustomerRepository struct {
	db *sql.DB
}

func NewCustomerRepository(db *sql.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (q CustomerQuery) build() (string, []any) {
	where := []string{"c.salon_id = ?", "c.active = 1"}
	args := []any{q.SalonID}

	switch q.Channel {
	case models.TypeSMS:
		where = append(where, "c.phone IS NOT NULL", "c.phone != ''", "c.sms_opt_in = 1")
	default:
		where = append(where, "c.email IS NOT NULL", "c.email != ''", "c.email_opt_in = 1")
	}

	if len(q.SegmentIDs) > 0 {
		where = append(where, fmt.Sprintf(
			"c.id IN (SELECT customer_id FROM segment_members WHERE segment_id IN (%s))",
			placeholders(len(q.SegmentIDs))))
		for _, id := range q.SegmentIDs {
			args = append(args, id)
		}
	}

	if f := q.Filters; f != nil {
		if f.AgeMin != nil {
			where = append(where, "c.age >= ?")
			args = append(args, *f.AgeMin)
		}
		if f.AgeMax != nil {
			where = append(where, "c.age <= ?")
			args = append(args, *f.AgeMax)
		}
		if len(f.Genders) > 0 {
			where = append(where, fmt.Sprintf("c.gender IN (%s)", placeholders(len(f.Genders))))
			for _, g := range f.Genders {
				args = append(args, g)
			}
		}
		if len(f.Locations) > 0 {
			where = append(where, fmt.Sprintf("c.location IN (%s)", placeholders(len(f.Locations))))
			for _, l := range f.Locations {
				args = append(args, l)
			}
		}
		if f.MinVisits != nil {
			where = append(where, "c.visit_count >= ?")
			args = append(args, *f.MinVisits)
		}
		if f.MaxVisits != nil {
			where = append(where, "c.visit_count <= ?")
			args = append(args, *f.MaxVisits)
		}
		if f.MinSpent != nil {
			where = append(where, "c.total_spent >= ?")
			args = append(args, *f.MinSpent)
		}
		if f.MaxSpent != nil {
			where = append(where, "c.total_spent <= ?")
			args = append(args, *f.MaxSpent)
		}
		if len(f.LoyaltyTiers) > 0 {
			where = append(where, fmt.Sprintf("c.loyalty_tier IN (%s)", placeholders(len(f.LoyaltyTiers))))
			for _, t := range f.LoyaltyTiers {
				args = append(args, t)
			}
		}
		// Tags are stored as a JSON string array; matching the quoted tag
		// keeps "vip" from matching "vip-gold".
		for _, tag := range f.Tags {
			where = append(where, "c.tags LIKE ?")
			args = append(args, `%"`+tag+`"%`)
		}
		if f.VisitedWithinDays != nil {
			where = append(where, fmt.Sprintf(
				"c.last_visit >= datetime('now', '-%d days')", *f.VisitedWithinDays))
		}
	}

	return strings.Join(where, " AND "), args
}

// Count returns how many customers match the predicate.
func (r *CustomerRepository) Count(ctx context.Context, q CustomerQuery) (int, error) {
	where, args := q.build()
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM customers c WHERE "+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count customers: %w", err)
	}
	return n, nil
}

// Query returns every customer matching the predicate, ordered by id for
// deterministic batching.
func (r *CustomerRepository) Query(ctx context.Context, q CustomerQuery) ([]models.Customer, error) {
	where, args := q.build()
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.salon_id, c.name, c.email, c.phone, c.visit_count, c.total_spent, c.last_visit
		FROM customers c WHERE `+where+` ORDER BY c.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var out []models.Customer
	for rows.Next() {
		c, err := scanCustomerContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Sample returns up to limit matching customers for the composition preview.
func (r *CustomerRepository) Sample(ctx context.Context, q CustomerQuery, limit int) ([]models.Customer, error) {
	where, args := q.build()
	args = append(args, limit)
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.salon_id, c.name, c.email, c.phone, c.visit_count, c.total_spent, c.last_visit
		FROM customers c WHERE `+where+` ORDER BY c.id LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to sample customers: %w", err)
	}
	defer rows.Close()

	var out []models.Customer
	for rows.Next() {
		c, err := scanCustomerContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SegmentCounts returns, per segment, how many of its members match the
// rest of the predicate.
func (r *CustomerRepository) SegmentCounts(ctx context.Context, q CustomerQuery) (map[string]int, error) {
	counts := make(map[string]int, len(q.SegmentIDs))
	for _, segID := range q.SegmentIDs {
		single := q
		single.SegmentIDs = []string{segID}
		n, err := r.Count(ctx, single)
		if err != nil {
			return nil, err
		}
		counts[segID] = n
	}
	return counts, nil
}

// GetSegments returns the named segments by id, scoped to the salon.
func (r *CustomerRepository) GetSegments(ctx context.Context, salonID string, ids []string) ([]models.Segment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := []any{salonID}
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, salon_id, name, description, created_at FROM segments
		WHERE salon_id = ? AND id IN (%s) ORDER BY name`, placeholders(len(ids))), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get segments: %w", err)
	}
	defer rows.Close()

	var out []models.Segment
	for rows.Next() {
		var s models.Segment
		var description sql.NullString
		if err := rows.Scan(&s.ID, &s.SalonID, &s.Name, &description, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Description = description.String
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanCustomerContact(row rowScanner) (*models.Customer, error) {
	c := &models.Customer{}
	var email, phone sql.NullString
	var lastVisit sql.NullTime
	err := row.Scan(&c.ID, &c.SalonID, &c.Name, &email, &phone, &c.VisitCount, &c.TotalSpent, &lastVisit)
	if err != nil {
		return nil, err
	}
	c.Email = email.String
	c.Phone = phone.String
	if lastVisit.Valid {
		t := lastVisit.Time
		c.LastVisit = &t
	}
	return c, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
