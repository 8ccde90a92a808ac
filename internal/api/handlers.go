package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/salonkit/campaignd/internal/models"
	"github.com/salonkit/campaignd/internal/validate"
)

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var data models.CampaignData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := s.service.Create(r.Context(), actorFrom(r), data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, c)
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.CampaignFilter{
		Type:   models.CampaignType(q.Get("type")),
		Status: models.CampaignStatus(q.Get("status")),
		Search: q.Get("search"),
		SortBy: models.CampaignSortField(q.Get("sort_by")),
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PageSize, _ = strconv.Atoi(q.Get("page_size"))
	f.SortDesc = q.Get("sort_desc") == "true"
	if from, err := time.Parse(time.RFC3339, q.Get("from")); err == nil {
		f.From = &from
	}
	if to, err := time.Parse(time.RFC3339, q.Get("to")); err == nil {
		f.To = &to
	}

	page, err := s.service.List(r.Context(), actorFrom(r), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, page)
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.service.Get(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Attach live metrics once sending has started; drafts have none.
	switch c.Status {
	case models.StatusSending, models.StatusSent, models.StatusPaused, models.StatusFailed:
		m, err := s.aggregator.Metrics(r.Context(), c.ID)
		if err != nil {
			s.logger.Warn("failed to load campaign metrics", "campaign_id", c.ID, "error", err)
		} else {
			c.Metrics = m
		}
	}

	s.sendJSON(w, http.StatusOK, c)
}

// handleUpdateCampaign handles PUT /api/v1/campaigns/{id}
func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var data models.CampaignData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := s.service.Update(r.Context(), actorFrom(r), chi.URLParam(r, "id"), data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handleDeleteCampaign handles DELETE /api/v1/campaigns/{id}
func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDuplicateCampaign handles POST /api/v1/campaigns/{id}/duplicate
func (s *Server) handleDuplicateCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.service.Duplicate(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, c)
}

// handleCampaignStats handles GET /api/v1/campaigns/stats
func (s *Server) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context(), actorFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}

// ValidateResponse is the response for POST /api/v1/campaigns/validate
type ValidateResponse struct {
	Valid  bool              `json:"valid"`
	Errors map[string]string `json:"errors,omitempty"`
}

// handleValidate handles POST /api/v1/campaigns/validate. With a step query
// parameter only that composition step's rules run; without one the whole
// draft is checked.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var data models.CampaignData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var errs map[string]string
	if raw := r.URL.Query().Get("step"); raw != "" {
		step, err := strconv.Atoi(raw)
		if err != nil || step < 0 || step > int(validate.StepSettings) {
			s.sendError(w, http.StatusBadRequest, "step must be between 0 and 4")
			return
		}
		errs = validate.CheckStep(validate.Step(step), data)
	} else {
		errs = validate.CheckDraft(data)
	}

	s.sendJSON(w, http.StatusOK, ValidateResponse{
		Valid:  len(errs) == 0,
		Errors: errs,
	})
}

// handleSendCampaign handles POST /api/v1/campaigns/{id}/send
func (s *Server) handleSendCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.orchestrator.Send(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusAccepted, c)
}

// TestRequest is the request body for POST /api/v1/campaigns/{id}/test
type TestRequest struct {
	Recipients []string `json:"recipients,omitempty"`
}

// handleTestCampaign handles POST /api/v1/campaigns/{id}/test
func (s *Server) handleTestCampaign(w http.ResponseWriter, r *http.Request) {
	var req TestRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := s.orchestrator.Test(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.Recipients)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, result)
}

// ScheduleRequest is the request body for POST /api/v1/campaigns/{id}/schedule
type ScheduleRequest struct {
	Schedule *models.ScheduleConfig `json:"schedule,omitempty"`
}

// handleScheduleCampaign handles POST /api/v1/campaigns/{id}/schedule. An
// optional schedule in the body replaces the campaign's before the send
// pipeline runs; with no body the stored schedule is used as-is.
func (s *Server) handleScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	actor := actorFrom(r)
	id := chi.URLParam(r, "id")

	if req.Schedule != nil {
		c, err := s.service.Get(r.Context(), actor, id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		data := models.CampaignData{
			Name:        c.Name,
			Description: c.Description,
			Type:        c.Type,
			Subject:     c.Subject,
			Content:     c.Content,
			HTMLContent: c.HTMLContent,
			TemplateID:  c.TemplateID,
			Audience:    c.Audience,
			Schedule:    *req.Schedule,
			Settings:    c.Settings,
		}
		if _, err := s.service.Update(r.Context(), actor, id, data); err != nil {
			s.writeError(w, err)
			return
		}
	}

	c, err := s.orchestrator.Send(r.Context(), actor, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusAccepted, c)
}

// handlePauseCampaign handles POST /api/v1/campaigns/{id}/pause
func (s *Server) handlePauseCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.orchestrator.Pause(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}
