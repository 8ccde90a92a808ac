package campaign

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/salonkit/campaignd/internal/models"
)

// Sentinel errors for the campaign core. Handlers map these onto HTTP
// status codes; the core itself never talks HTTP.
var (
	ErrAuthenticationRequired  = errors.New("authentication required")
	ErrNoTenantContext         = errors.New("no salon context")
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	// ErrCrossTenantAccess means the campaign exists but belongs to a
	// different salon than the actor's. Deliberately distinct from
	// ErrNotFound so callers can audit cross-tenant probes.
	ErrCrossTenantAccess      = errors.New("campaign belongs to a different salon")
	ErrNotFound               = errors.New("not found")
	ErrAlreadySending         = errors.New("campaign is already being sent")
	ErrAlreadySent            = errors.New("campaign already sent")
	ErrDeleteWhileSending     = errors.New("cannot delete a campaign that is currently sending")
	ErrScheduleInPast         = errors.New("resolved dispatch time is in the past")
	ErrConcurrentModification = errors.New("campaign was modified concurrently, retry")
)

// InvalidTransitionError reports a status change the state machine rejects.
type InvalidTransitionError struct {
	From models.CampaignStatus
	To   models.CampaignStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition campaign from %s to %s", e.From, e.To)
}

// ValidationError carries field-level messages for the composition UI.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// DispatchError reports one recipient's failed send. It is accumulated in
// the send summary, never escalated to abort the batch.
type DispatchError struct {
	Recipient string
	Reason    string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s failed: %s", e.Recipient, e.Reason)
}
