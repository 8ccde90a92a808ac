package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/salonkit/campaignd/internal/db"
	"github.com/salonkit/campaignd/internal/models"
)

// setupTestDB creates an in-memory SQLite database with all migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	for _, m := range db.Migrations {
		if _, err := conn.Exec(m); err != nil {
			t.Fatalf("migration failed: %v", err)
		}
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

func seedCustomer(t *testing.T, conn *sql.DB, c models.Customer) string {
	t.Helper()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	tags, err := json.Marshal(c.Tags)
	if err != nil {
		t.Fatalf("failed to marshal tags: %v", err)
	}
	_, err = conn.Exec(`
		INSERT INTO customers (id, salon_id, name, email, phone, gender, age, location, tags,
			loyalty_tier, visit_count, total_spent, last_visit, email_opt_in, sms_opt_in, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SalonID, c.Name, c.Email, c.Phone, c.Gender, c.Age, c.Location, tags,
		c.LoyaltyTier, c.VisitCount, c.TotalSpent, c.LastVisit, c.EmailOptIn, c.SMSOptIn, c.Active,
	)
	if err != nil {
		t.Fatalf("failed to seed customer: %v", err)
	}
	return c.ID
}

func seedSegment(t *testing.T, conn *sql.DB, salonID, name string, memberIDs ...string) string {
	t.Helper()

	id := uuid.New().String()
	if _, err := conn.Exec(
		"INSERT INTO segments (id, salon_id, name) VALUES (?, ?, ?)", id, salonID, name); err != nil {
		t.Fatalf("failed to seed segment: %v", err)
	}
	for _, m := range memberIDs {
		if _, err := conn.Exec(
			"INSERT INTO segment_members (segment_id, customer_id) VALUES (?, ?)", id, m); err != nil {
			t.Fatalf("failed to seed segment member: %v", err)
		}
	}
	return id
}

func seedCampaign(t *testing.T, conn *sql.DB, c *models.Campaign) *models.Campaign {
	t.Helper()

	if c.Type == "" {
		c.Type = models.TypeEmail
	}
	if c.Status == "" {
		c.Status = models.StatusDraft
	}
	if c.SalonID == "" {
		c.SalonID = "salon-1"
	}
	if c.Name == "" {
		c.Name = "Test Campaign"
	}
	if c.Content == "" {
		c.Content = "Hello from the salon"
	}
	if c.CreatedBy == "" {
		c.CreatedBy = "user-1"
	}
	if c.Audience.Type == "" {
		c.Audience.Type = models.AudienceAll
	}
	if c.Schedule.Type == "" {
		c.Schedule.Type = models.ScheduleImmediate
	}

	repo := NewCampaignRepository(conn)
	if err := repo.Create(context.Background(), c); err != nil {
		t.Fatalf("failed to seed campaign: %v", err)
	}
	return c
}
