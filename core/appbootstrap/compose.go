package appbootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hexascan/api"
	"hexascan/config"
	"hexascan/core/alerts"
	"hexascan/core/escalation"
	"hexascan/core/rbac"
	"hexascan/core/store"
	"hexascan/core/utils"
)

type runtimeComposition struct {
	serverDeps api.ServerDeps
	workers    []api.BackgroundWorker
}

func composeRuntime(cfg *config.AppConfig, db *store.DB, logger *utils.Logger) (*runtimeComposition, error) {
	sites := store.NewSitesStore(db)
	escalations := store.NewEscalationStore(db)
	cooldowns := store.NewCooldownStore(db)
	settings := store.NewSettingsStore(db)

	if err := settings.EnsureSettings(context.Background(), store.EscalationSettings{
		WindowMs:        int64(cfg.Escalation.WindowMs),
		TokenExpiryMs:   int64(cfg.Escalation.TokenExpiryMs),
		CooldownSeconds: cfg.Escalation.CooldownSeconds,
		SweepEnabled:    cfg.Sweeper.Enabled,
	}); err != nil {
		return nil, err
	}

	policy, err := rbac.NewPolicy()
	if err != nil {
		return nil, err
	}

	codec := escalation.NewTokenCodec(cfg.Escalation.SigningSecret)
	sender := escalation.NewHTTPMailSender(cfg.Mail)
	notifier := escalation.NewNotifier(sender, codec, sites, cfg.PublicURL, logger)
	escalationSvc := escalation.NewService(escalations, settings, notifier, codec, logger)
	sweeper := escalation.NewSweeper(escalationSvc, escalations, cfg.Sweeper.Interval(), logger)
	gate := alerts.NewGate(cooldowns, logger)
	trigger := alerts.NewTrigger(sites, escalationSvc, escalations, gate, nil, logger)

	return &runtimeComposition{
		serverDeps: api.ServerDeps{
			Sites:         sites,
			Escalations:   escalations,
			Settings:      settings,
			EscalationSvc: escalationSvc,
			Gate:          gate,
			Trigger:       trigger,
			Policy:        policy,
		},
		workers: []api.BackgroundWorker{sweeper},
	}, nil
}

// Run boots the full process: database, migrations, services, workers and
// the HTTP server. Blocks until SIGINT/SIGTERM, then drains.
func Run(cfg *config.AppConfig, logger *utils.Logger) error {
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		return err
	}

	comp, err := composeRuntime(cfg, db, logger)
	if err != nil {
		return err
	}
	server := api.NewServer(cfg, comp.serverDeps, logger)

	for _, worker := range comp.workers {
		worker.Start()
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Printf("shutting down on %s", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, worker := range comp.workers {
		if err := worker.StopWithContext(shutdownCtx); err != nil {
			logger.Errorf("worker stop: %v", err)
		}
	}
	return httpServer.Shutdown(shutdownCtx)
}
