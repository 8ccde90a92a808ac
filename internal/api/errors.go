package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/salonkit/campaignd/internal/campaign"
	"github.com/salonkit/campaignd/internal/orchestrator"
	"github.com/salonkit/campaignd/internal/validate"
)

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
	// Fields carries per-field messages for validation failures.
	Fields map[string]string `json:"fields,omitempty"`
	// Blockers and Warnings carry the pre-send report when a send was
	// stopped by the validation gate.
	Blockers []string `json:"blockers,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

// writeError maps core errors onto HTTP status codes. The core packages
// never talk HTTP; this is the single place where the taxonomy lives.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var validationErr *campaign.ValidationError
	var transitionErr *campaign.InvalidTransitionError
	var blockedErr *orchestrator.BlockedError
	var report validate.Report

	switch {
	case errors.As(err, &blockedErr):
		report = blockedErr.Report
		s.sendJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:    "campaign cannot be sent",
			Blockers: report.Blockers,
			Warnings: report.Warnings,
		})
	case errors.As(err, &validationErr):
		s.sendJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "validation failed",
			Fields: validationErr.Fields,
		})
	case errors.As(err, &transitionErr):
		s.sendError(w, http.StatusConflict, transitionErr.Error())
	case errors.Is(err, campaign.ErrAuthenticationRequired),
		errors.Is(err, campaign.ErrNoTenantContext):
		s.sendError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, campaign.ErrInsufficientPermissions),
		errors.Is(err, campaign.ErrCrossTenantAccess):
		s.sendError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, campaign.ErrNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, campaign.ErrAlreadySending),
		errors.Is(err, campaign.ErrAlreadySent),
		errors.Is(err, campaign.ErrDeleteWhileSending),
		errors.Is(err, campaign.ErrConcurrentModification):
		s.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, campaign.ErrScheduleInPast):
		s.sendError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("internal error", "error", err)
		s.sendError(w, http.StatusInternalServerError, "internal server error")
	}
}
