package repository

import (
	"context"
	"testing"
	"time"

	"github.com/salonkit/campaignd/internal/models"
)

func intPtr(n int) *int          { return &n }
func floatPtr(f float64) *float64 { return &f }

func TestCustomerRepository_Count_Channel(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewCustomerRepository(conn)
	ctx := context.Background()

	seedCustomer(t, conn, models.Customer{SalonID: "salon-1", Name: "Ann", Email: "ann@example.com", EmailOptIn: true, SMSOptIn: true, Active: true})
	seedCustomer(t, conn, models.Customer{SalonID: "salon-1", Name: "Ben", Email: "ben@example.com", EmailOptIn: false, Active: true})
	seedCustomer(t, conn, models.Customer{SalonID: "salon-1", Name: "Cleo", Phone: "+15550100", SMSOptIn: true, Active: true})
	seedCustomer(t, conn, models.Customer{SalonID: "salon-1", Name: "Dora", Email: "dora@example.com", EmailOptIn: true, Active: false})
	seedCustomer(t, conn, models.Customer{SalonID: "salon-2", Name: "Eve", Email: "eve@example.com", EmailOptIn: true, Active: true})

	// Email channel: contactable, opted in, active, same salon.
	n, err := repo.Count(ctx, CustomerQuery{SalonID: "salon-1", Channel: models.TypeEmail})
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() email = %d, want 1", n)
	}

	// SMS channel swaps the contact field and opt-in.
	n, err = repo.Count(ctx, CustomerQuery{SalonID: "salon-1", Channel: models.TypeSMS})
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() sms = %d, want 1", n)
	}
}

func TestCustomerRepository_Filters(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewCustomerRepository(conn)
	ctx := context.Background()

	recent := time.Now().UTC().Add(-24 * time.Hour)
	old := time.Now().UTC().Add(-90 * 24 * time.Hour)

	seedCustomer(t, conn, models.Customer{
		SalonID: "salon-1", Name: "Ann", Email: "ann@example.com", EmailOptIn: true, Active: true,
		Age: 30, Gender: "female", Location: "downtown", VisitCount: 12, TotalSpent: 800,
		Tags: []string{"vip"}, LoyaltyTier: "gold", LastVisit: &recent,
	})
	seedCustomer(t, conn, models.Customer{
		SalonID: "salon-1", Name: "Ben", Email: "ben@example.com", EmailOptIn: true, Active: true,
		Age: 55, Gender: "male", Location: "uptown", VisitCount: 2, TotalSpent: 90,
		Tags: []string{"vip-gold"}, LoyaltyTier: "bronze", LastVisit: &old,
	})

	cases := []struct {
		name    string
		filters models.AudienceFilters
		want    int
	}{
		{"age range", models.AudienceFilters{AgeMin: intPtr(25), AgeMax: intPtr(40)}, 1},
		{"gender", models.AudienceFilters{Genders: []string{"female"}}, 1},
		{"location", models.AudienceFilters{Locations: []string{"downtown", "midtown"}}, 1},
		{"visits", models.AudienceFilters{MinVisits: intPtr(10)}, 1},
		{"spend", models.AudienceFilters{MinSpent: floatPtr(100), MaxSpent: floatPtr(1000)}, 1},
		{"exact tag match", models.AudienceFilters{Tags: []string{"vip"}}, 1},
		{"loyalty tier", models.AudienceFilters{LoyaltyTiers: []string{"gold"}}, 1},
		{"recency", models.AudienceFilters{VisitedWithinDays: intPtr(7)}, 1},
		{"intersection", models.AudienceFilters{Genders: []string{"female"}, MinVisits: intPtr(20)}, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := tc.filters
			n, err := repo.Count(ctx, CustomerQuery{SalonID: "salon-1", Channel: models.TypeEmail, Filters: &f})
			if err != nil {
				t.Fatalf("Count() error = %v", err)
			}
			if n != tc.want {
				t.Errorf("Count() = %d, want %d", n, tc.want)
			}
		})
	}
}

func TestCustomerRepository_Segments(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewCustomerRepository(conn)
	ctx := context.Background()

	ann := seedCustomer(t, conn, models.Customer{SalonID: "salon-1", Name: "Ann", Email: "ann@example.com", EmailOptIn: true, Active: true})
	ben := seedCustomer(t, conn, models.Customer{SalonID: "salon-1", Name: "Ben", Email: "ben@example.com", EmailOptIn: true, Active: true})
	seedCustomer(t, conn, models.Customer{SalonID: "salon-1", Name: "Cleo", Email: "cleo@example.com", EmailOptIn: true, Active: true})

	vip := seedSegment(t, conn, "salon-1", "VIP Customers", ann)
	regulars := seedSegment(t, conn, "salon-1", "Regulars", ann, ben)

	q := CustomerQuery{SalonID: "salon-1", Channel: models.TypeEmail, SegmentIDs: []string{vip, regulars}}

	// Union of members, deduplicated.
	n, err := repo.Count(ctx, q)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}

	counts, err := repo.SegmentCounts(ctx, q)
	if err != nil {
		t.Fatalf("SegmentCounts() error = %v", err)
	}
	if counts[vip] != 1 {
		t.Errorf("SegmentCounts()[vip] = %d, want 1", counts[vip])
	}
	if counts[regulars] != 2 {
		t.Errorf("SegmentCounts()[regulars] = %d, want 2", counts[regulars])
	}

	segs, err := repo.GetSegments(ctx, "salon-1", []string{vip, regulars})
	if err != nil {
		t.Fatalf("GetSegments() error = %v", err)
	}
	if len(segs) != 2 {
		t.Errorf("GetSegments() returned %d segments, want 2", len(segs))
	}
}

func TestCustomerRepository_QueryAndSample(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewCustomerRepository(conn)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		seedCustomer(t, conn, models.Customer{
			SalonID: "salon-1", Name: "Customer", Email: "c@example.com",
			EmailOptIn: true, Active: true,
		})
	}

	q := CustomerQuery{SalonID: "salon-1", Channel: models.TypeEmail}

	all, err := repo.Query(ctx, q)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(all) != 8 {
		t.Errorf("Query() returned %d customers, want 8", len(all))
	}

	sample, err := repo.Sample(ctx, q, 5)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if len(sample) != 5 {
		t.Errorf("Sample() returned %d customers, want 5", len(sample))
	}
}
