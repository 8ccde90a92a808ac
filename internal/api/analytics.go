package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/salonkit/campaignd/internal/analytics"
	"github.com/salonkit/campaignd/internal/metrics"
	"github.com/salonkit/campaignd/internal/models"
)

// handleCampaignAnalytics handles GET /api/v1/campaigns/{id}/analytics
func (s *Server) handleCampaignAnalytics(w http.ResponseWriter, r *http.Request) {
	// Ownership check happens through the service before any event data is
	// exposed.
	c, err := s.service.Get(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	q := r.URL.Query()
	to := time.Now().UTC()
	from := c.CreatedAt
	if t, err := time.Parse(time.RFC3339, q.Get("from")); err == nil {
		from = t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("to")); err == nil {
		to = t
	}
	granularity := analytics.GranularityDay
	if q.Get("granularity") == "hour" {
		granularity = analytics.GranularityHour
	}

	summary, err := s.aggregator.Summarize(r.Context(), c.ID, from, to, granularity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, summary)
}

// handleRecordEvent handles POST /api/v1/campaigns/{id}/events. Delivery
// providers and tracking endpoints report engagement facts here.
func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	c, err := s.service.Get(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var event models.EngagementEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	event.CampaignID = c.ID

	if err := s.aggregator.RecordEvent(r.Context(), &event); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	metrics.IncEventsRecorded(string(event.Kind))

	s.sendJSON(w, http.StatusAccepted, event)
}

// PreviewRequest is the request body for POST /api/v1/audience/preview
type PreviewRequest struct {
	Type     models.CampaignType   `json:"type"`
	Audience models.AudienceConfig `json:"audience"`
}

// handleAudiencePreview handles POST /api/v1/audience/preview
func (s *Server) handleAudiencePreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		req.Type = models.TypeEmail
	}

	preview, err := s.resolver.Estimate(r.Context(), actorFrom(r).SalonID, req.Type, req.Audience)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, preview)
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Uptime  string       `json:"uptime"`
	Tasks   *TasksHealth `json:"tasks,omitempty"`
}

// TasksHealth reports the durable task store backlog.
type TasksHealth struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: Version,
		Uptime:  time.Since(s.startTime).String(),
	}
	if s.tasks != nil {
		if stats, err := s.tasks.Stats(r.Context()); err == nil {
			resp.Tasks = &TasksHealth{Pending: int(stats.Pending), Running: int(stats.Running)}
		}
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// Version is stamped by the build; the default marks dev builds.
var Version = "0.1.0-dev"
