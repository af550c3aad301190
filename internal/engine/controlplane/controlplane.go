// Package controlplane exposes the HTTP API for managing campaigns: CRUD,
// lifecycle transitions (pause/resume/cancel), template preview rendering,
// and distribution-report retrieval. It is a thin adapter over
// statesync.Synchronizer, humanize, and report.Builder — no business logic
// beyond request parsing and status mapping lives here.
package controlplane

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harborwave/humanizer/internal/domain"
	"github.com/harborwave/humanizer/internal/engine/errs"
	"github.com/harborwave/humanizer/internal/engine/gateway"
	"github.com/harborwave/humanizer/internal/engine/humanize"
	"github.com/harborwave/humanizer/internal/engine/report"
	"github.com/harborwave/humanizer/internal/engine/seam"
	"github.com/harborwave/humanizer/internal/engine/statesync"
	"github.com/harborwave/humanizer/internal/pkg/httputil"
)

// Server is the control-plane HTTP API.
type Server struct {
	sync      *statesync.Synchronizer
	reports   *report.Builder
	processor *humanize.Processor
	router    chi.Router
}

// NewServer builds the chi-routed control plane API, including permissive
// CORS for browser-based dashboards, consistent with the teacher's API
// gateway setup.
func NewServer(sync *statesync.Synchronizer, reports *report.Builder, webhooks *gateway.WebhookHandler) *Server {
	s := &Server{
		sync:      sync,
		reports:   reports,
		processor: humanize.NewProcessor(seam.NewSystemRandom(time.Now().UnixNano()), 0),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { httputil.OK(w, map[string]string{"status": "ok"}) })
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/campaigns", func(r chi.Router) {
		r.Get("/", s.listCampaigns)
		r.Post("/", s.createCampaign)
		r.Get("/{id}", s.getCampaign)
		r.Patch("/{id}", s.updateCampaign)
		r.Delete("/{id}", s.deleteCampaign)
		r.Post("/{id}/pause", s.transition(domain.CampaignPaused))
		r.Post("/{id}/resume", s.transition(domain.CampaignScheduled))
		r.Post("/{id}/cancel", s.transition(domain.CampaignCancelled))
		r.Get("/{id}/report", s.distributionReport)
		r.Get("/{id}/stats", s.campaignStats)
		r.Get("/{id}/export", s.exportCampaign)
	})

	r.Post("/v1/templates/validate", s.validateTemplate)
	r.Post("/v1/templates/preview", s.previewTemplate)

	if webhooks != nil {
		webhooks.Routes(r)
	}

	s.router = r
	return s
}

func (s *Server) Router() chi.Router { return s.router }

type createCampaignRequest struct {
	AccountID   string                       `json:"account_id"`
	Name        string                       `json:"name"`
	TemplateRaw string                       `json:"template_raw"`
	Pacing      domain.Pacing                `json:"pacing"`
	StartsAt    *time.Time                   `json:"starts_at,omitempty"`
	Recipients  []createCampaignRecipient    `json:"recipients"`
}

type createCampaignRecipient struct {
	Address   string            `json:"address"`
	Variables map[string]string `json:"variables,omitempty"`
}

func (s *Server) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Name == "" || req.TemplateRaw == "" {
		httputil.BadRequest(w, "name and template_raw are required")
		return
	}
	if tmpl := humanize.Parse(req.TemplateRaw); !tmpl.IsValid {
		httputil.BadRequest(w, fmt.Sprintf("invalid template: %v", tmpl.Errors))
		return
	}

	recipients := make([]domain.Recipient, len(req.Recipients))
	for i, rec := range req.Recipients {
		recipients[i] = domain.Recipient{Index: i, Address: rec.Address, PerRecipientVariables: rec.Variables}
	}

	status := domain.CampaignScheduled
	c := &domain.Campaign{
		ID:          uuid.New().String(),
		AccountID:   req.AccountID,
		Name:        req.Name,
		TemplateRaw: req.TemplateRaw,
		Pacing:      req.Pacing,
		Status:      status,
		StartsAt:    req.StartsAt,
	}

	id, err := s.sync.Create(r.Context(), c, recipients)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	c.ID = id
	httputil.Created(w, c)
}

func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	accountID := r.URL.Query().Get("account_id")
	c, err := s.sync.Get(r.Context(), accountID, id)
	if err != nil {
		respondErr(w, err)
		return
	}
	httputil.OK(w, c)
}

func (s *Server) listCampaigns(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	campaigns, total, err := s.sync.List(r.Context(), accountID, statesync.ListFilter{
		Status: domain.CampaignStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"campaigns": campaigns, "total": total})
}

type updateCampaignRequest struct {
	Name        *string        `json:"name,omitempty"`
	TemplateRaw *string        `json:"template_raw,omitempty"`
	StartsAt    *time.Time     `json:"starts_at,omitempty"`
	Pacing      *domain.Pacing `json:"pacing,omitempty"`
}

func (s *Server) updateCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	accountID := r.URL.Query().Get("account_id")
	var req updateCampaignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	err := s.sync.Update(r.Context(), accountID, id, statesync.UpdateFields{
		Name: req.Name, TemplateRaw: req.TemplateRaw, StartsAt: req.StartsAt, Pacing: req.Pacing,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	httputil.NoContent(w)
}

func (s *Server) deleteCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	accountID := r.URL.Query().Get("account_id")
	if err := s.sync.Delete(r.Context(), accountID, id); err != nil {
		respondErr(w, err)
		return
	}
	httputil.NoContent(w)
}

func (s *Server) transition(to domain.CampaignStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		accountID := r.URL.Query().Get("account_id")
		if err := s.sync.Transition(r.Context(), accountID, id, to); err != nil {
			respondErr(w, err)
			return
		}
		httputil.NoContent(w)
	}
}

func (s *Server) distributionReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rep, err := s.reports.Build(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, rep)
}

func (s *Server) campaignStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stats, err := s.reports.Stats(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, stats)
}

func (s *Server) exportCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	out, err := s.reports.Export(r.Context(), id, format)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.Write(out)
}

type validateTemplateRequest struct {
	TemplateRaw string `json:"template_raw"`
}

func (s *Server) validateTemplate(w http.ResponseWriter, r *http.Request) {
	var req validateTemplateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	tmpl := humanize.Parse(req.TemplateRaw)
	httputil.OK(w, tmpl)
}

type previewRequest struct {
	TemplateRaw string            `json:"template_raw"`
	Variables   map[string]string `json:"variables,omitempty"`
	Samples     int               `json:"samples,omitempty"`
}

func (s *Server) previewTemplate(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Samples <= 0 {
		req.Samples = 1
	}

	previews := s.processor.Preview(req.TemplateRaw, req.Variables, req.Samples)
	if len(previews) > 0 && !previews[0].Success {
		httputil.BadRequest(w, fmt.Sprintf("invalid template: %v", previews[0].Errors))
		return
	}

	data, _ := json.Marshal(map[string]any{"previews": previews})
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func respondErr(w http.ResponseWriter, err error) {
	switch err {
	case errs.ErrNotFound:
		httputil.NotFound(w, err.Error())
	case errs.ErrInvalidTransition, errs.ErrAlreadyTerminal, errs.ErrNoRecipients:
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
