package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/salonkit/campaignd/internal/models"
)

// handleListTemplates handles GET /api/v1/templates
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.TemplateFilter{
		Type:     models.CampaignType(q.Get("type")),
		Category: q.Get("category"),
		Search:   q.Get("search"),
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	page, err := s.service.ListTemplates(r.Context(), actorFrom(r), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, page)
}

// handleGetTemplate handles GET /api/v1/templates/{id}
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.service.GetTemplate(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, t)
}

// handleSaveTemplate handles POST /api/v1/templates
func (s *Server) handleSaveTemplate(w http.ResponseWriter, r *http.Request) {
	var t models.CampaignTemplate
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t.ID = ""

	saved, err := s.service.SaveTemplate(r.Context(), actorFrom(r), &t)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, saved)
}

// handleUpdateTemplate handles PUT /api/v1/templates/{id}
func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var t models.CampaignTemplate
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t.ID = chi.URLParam(r, "id")

	saved, err := s.service.SaveTemplate(r.Context(), actorFrom(r), &t)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, saved)
}

// handleDeleteTemplate handles DELETE /api/v1/templates/{id}
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTemplate(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
