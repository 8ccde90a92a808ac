// Package audience turns an audience configuration into recipients. The
// estimate and the resolved set run the exact same predicate so the preview
// number never disagrees with who actually receives the campaign.
package audience

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/salonkit/campaignd/internal/models"
	"github.com/salonkit/campaignd/internal/repository"
)

// sampleSize is how many customers the composition preview shows.
const sampleSize = 5

// CustomerSource is the CRM read model the resolver queries.
type CustomerSource interface {
	Count(ctx context.Context, q repository.CustomerQuery) (int, error)
	Query(ctx context.Context, q repository.CustomerQuery) ([]models.Customer, error)
	Sample(ctx context.Context, q repository.CustomerQuery, limit int) ([]models.Customer, error)
	SegmentCounts(ctx context.Context, q repository.CustomerQuery) (map[string]int, error)
	GetSegments(ctx context.Context, salonID string, ids []string) ([]models.Segment, error)
}

// Resolver computes audience estimates and materializes recipient sets.
type Resolver struct {
	customers CustomerSource
	logger    *slog.Logger
}

func NewResolver(customers CustomerSource, logger *slog.Logger) *Resolver {
	return &Resolver{
		customers: customers,
		logger:    logger.With("component", "audience"),
	}
}

func query(salonID string, channel models.CampaignType, cfg models.AudienceConfig) repository.CustomerQuery {
	q := repository.CustomerQuery{
		SalonID: salonID,
		Channel: channel,
		Filters: cfg.Filters,
	}
	if cfg.Type == models.AudienceSegment {
		q.SegmentIDs = cfg.Segments
	}
	return q
}

// Estimate returns the live audience preview for the composition flow:
// exact total, per-segment breakdown, and a small customer sample. The
// count comes from the same predicate Resolve uses, never from heuristics.
func (r *Resolver) Estimate(ctx context.Context, salonID string, channel models.CampaignType, cfg models.AudienceConfig) (*models.AudiencePreview, error) {
	if cfg.Type == models.AudienceCustom {
		addrs := normalizeCustomList(channel, cfg.CustomList)
		return &models.AudiencePreview{TotalCount: len(addrs)}, nil
	}

	q := query(salonID, channel, cfg)

	total, err := r.customers.Count(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("estimate audience: %w", err)
	}

	preview := &models.AudiencePreview{TotalCount: total}

	if cfg.Type == models.AudienceSegment && len(cfg.Segments) > 0 {
		counts, err := r.customers.SegmentCounts(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("estimate segments: %w", err)
		}
		segments, err := r.customers.GetSegments(ctx, salonID, cfg.Segments)
		if err != nil {
			return nil, fmt.Errorf("load segments: %w", err)
		}
		for _, seg := range segments {
			b := models.SegmentBreakdown{SegmentID: seg.ID, Name: seg.Name, Count: counts[seg.ID]}
			if total > 0 {
				b.Percentage = float64(b.Count) / float64(total) * 100
			}
			preview.Segments = append(preview.Segments, b)
		}
	}

	sample, err := r.customers.Sample(ctx, q, sampleSize)
	if err != nil {
		return nil, fmt.Errorf("sample audience: %w", err)
	}
	for _, c := range sample {
		preview.Sample = append(preview.Sample, models.CustomerPreview{
			ID:         c.ID,
			Name:       c.Name,
			Email:      c.Email,
			Phone:      c.Phone,
			VisitCount: c.VisitCount,
			TotalSpent: c.TotalSpent,
			LastVisit:  c.LastVisit,
		})
	}
	return preview, nil
}

// Resolve materializes the full recipient set at send time. Recipients are
// deduplicated by contact address; two customer records sharing an address
// receive one message.
func (r *Resolver) Resolve(ctx context.Context, salonID string, channel models.CampaignType, cfg models.AudienceConfig) ([]models.Recipient, error) {
	if cfg.Type == models.AudienceCustom {
		addrs := normalizeCustomList(channel, cfg.CustomList)
		recipients := make([]models.Recipient, 0, len(addrs))
		for _, a := range addrs {
			recipients = append(recipients, models.Recipient{Address: a})
		}
		return recipients, nil
	}

	customers, err := r.customers.Query(ctx, query(salonID, channel, cfg))
	if err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}

	seen := make(map[string]struct{}, len(customers))
	recipients := make([]models.Recipient, 0, len(customers))
	for _, c := range customers {
		addr := c.Email
		if channel == models.TypeSMS {
			addr = c.Phone
		}
		key := strings.ToLower(strings.TrimSpace(addr))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		recipients = append(recipients, models.Recipient{
			CustomerID: c.ID,
			Name:       c.Name,
			Address:    addr,
		})
	}

	r.logger.Debug("audience resolved",
		"salon_id", salonID, "type", cfg.Type, "recipients", len(recipients))
	return recipients, nil
}

// normalizeCustomList trims, validates and deduplicates an explicit address
// list. Malformed entries are dropped rather than failing the whole list.
func normalizeCustomList(channel models.CampaignType, list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, raw := range list {
		addr := strings.TrimSpace(raw)
		if addr == "" {
			continue
		}
		if channel == models.TypeSMS {
			if !validPhone(addr) {
				continue
			}
		} else {
			if _, err := mail.ParseAddress(addr); err != nil {
				continue
			}
			addr = strings.ToLower(addr)
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

func validPhone(s string) bool {
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= 7
}
