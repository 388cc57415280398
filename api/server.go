package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hexascan/api/handlers"
	"hexascan/config"
	"hexascan/core/alerts"
	"hexascan/core/escalation"
	"hexascan/core/rbac"
	"hexascan/core/store"
	"hexascan/core/utils"
)

// BackgroundWorker is anything the process starts alongside the HTTP server
// and stops on shutdown.
type BackgroundWorker interface {
	Start()
	StopWithContext(ctx context.Context) error
}

type ServerDeps struct {
	Sites         store.SitesStore
	Escalations   store.EscalationStore
	Settings      store.SettingsStore
	EscalationSvc *escalation.Service
	Gate          *alerts.Gate
	Trigger       *alerts.Trigger
	Policy        *rbac.Policy
}

type Server struct {
	cfg    *config.AppConfig
	logger *utils.Logger

	sites         store.SitesStore
	escalations   store.EscalationStore
	settings      store.SettingsStore
	escalationSvc *escalation.Service
	gate          *alerts.Gate
	trigger       *alerts.Trigger
	policy        *rbac.Policy

	router chi.Router
}

func NewServer(cfg *config.AppConfig, deps ServerDeps, logger *utils.Logger) *Server {
	s := &Server{
		cfg:           cfg,
		logger:        logger,
		sites:         deps.Sites,
		escalations:   deps.Escalations,
		settings:      deps.Settings,
		escalationSvc: deps.EscalationSvc,
		gate:          deps.Gate,
		trigger:       deps.Trigger,
		policy:        deps.Policy,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	public := handlers.NewPublicEscalationHandler(s.escalationSvc, s.logger)
	org := handlers.NewOrgEscalationHandler(s.escalations, s.settings, s.escalationSvc, s.gate, s.logger)
	sites := handlers.NewSitesHandler(s.sites, s.logger)
	agent := handlers.NewAgentHandler(s.sites, s.trigger, s.logger)

	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Use(s.jsonMiddleware)

		// Token-bearer endpoints: the URL token is the whole credential.
		apiRouter.Route("/public/escalations/{token}", func(pub chi.Router) {
			pub.Get("/", public.View)
			pub.Post("/view", public.RecordView)
			pub.Post("/reports", public.AddReport)
			pub.Post("/status", public.UpdateStatus)
		})

		apiRouter.Group(func(orgRouter chi.Router) {
			orgRouter.Use(s.withOrg)
			orgRouter.With(s.requirePermission(rbac.PermIssuesView)).Get("/escalations", org.List)
			orgRouter.With(s.requirePermission(rbac.PermIssuesView)).Get("/escalations/{public_id}", org.Get)
			orgRouter.With(s.requirePermission(rbac.PermSettingsView)).Get("/escalation-settings", org.GetSettings)
			orgRouter.With(s.requirePermission(rbac.PermSettingsManage)).Put("/escalation-settings", org.UpdateSettings)
			orgRouter.With(s.requirePermission(rbac.PermCooldownsClear)).Post("/alert-cooldowns/clear", org.ClearCooldowns)
			orgRouter.With(s.requirePermission(rbac.PermSitesManage)).Post("/sites", sites.Create)
			orgRouter.With(s.requirePermission(rbac.PermIssuesView)).Get("/sites/{id}", sites.Get)
			orgRouter.With(s.requirePermission(rbac.PermSitesManage)).Put("/sites/{id}/contacts", sites.UpdateContacts)
			orgRouter.With(s.requirePermission(rbac.PermSitesManage)).Post("/sites/{id}/tasks", sites.CreateTask)
		})

		apiRouter.Group(func(agentRouter chi.Router) {
			agentRouter.Use(s.withAgentAuth)
			agentRouter.Post("/agent/results", agent.SubmitResult)
		})
	})
	return r
}
