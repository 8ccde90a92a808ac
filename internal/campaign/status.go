package campaign

import "github.com/salonkit/campaignd/internal/models"

// transitions is the campaign lifecycle state machine. A status may only
// move to one of the listed targets; everything else is rejected.
var transitions = map[models.CampaignStatus][]models.CampaignStatus{
	models.StatusDraft:     {models.StatusScheduled, models.StatusSending},
	models.StatusScheduled: {models.StatusDraft, models.StatusPaused, models.StatusSending, models.StatusSent},
	models.StatusSending:   {models.StatusSent, models.StatusFailed, models.StatusPaused},
	models.StatusSent:      {},
	models.StatusFailed:    {models.StatusDraft, models.StatusScheduled},
	models.StatusPaused:    {models.StatusScheduled, models.StatusSending, models.StatusDraft},
}

// CanTransition reports whether from -> to is a valid lifecycle move.
func CanTransition(from, to models.CampaignStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an InvalidTransitionError for moves outside
// the lifecycle table.
func ValidateTransition(from, to models.CampaignStatus) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// IsTerminal reports whether the status has no outbound transitions.
func IsTerminal(s models.CampaignStatus) bool {
	return len(transitions[s]) == 0
}
