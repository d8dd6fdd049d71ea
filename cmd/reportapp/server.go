package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"reportapp/internal/api"
	"reportapp/internal/client"
	"reportapp/internal/config"
	"reportapp/internal/data"
	"reportapp/internal/logger"
	"reportapp/internal/service"
	"reportapp/internal/ui"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

// serve wires the app database, services and both routers, then blocks
// until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	if err := logger.Init(logger.Options{
		Dir:        cfg.LogDir,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   cfg.LogCompress,
	}); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	logger.Info.Println("Starting ReportApp...")

	db, err := data.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}
	defer db.Close()

	box, err := service.NewSecretBox(cfg.AppKey)
	if err != nil {
		return fmt.Errorf("failed to init crypto service: %w", err)
	}

	users := data.NewUserRepo(db)
	defs := data.NewDefinitionRepo(db)
	reportLogs := data.NewReportLogRepo(db)
	importLogs := data.NewImportLogRepo(db)
	settings := data.NewFileSettingsStore(cfg.SettingsPath, box)

	runtime := service.NewRuntime(settings)
	auth := service.NewAuthService(users, service.NewTokenService(cfg.JWTSecret, cfg.TokenTTL))
	seeded, err := auth.EnsureAdmin(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	}
	if seeded {
		logger.Info.Println("Created default admin user; the password must be changed on first login")
	}

	backend := api.NewHandler(api.Services{
		Auth:                  auth,
		Executor:              service.NewReportExecutor(runtime, defs, reportLogs),
		Runtime:               runtime,
		Importer:              service.NewImporter(runtime, importLogs),
		PowerBI:               service.NewPowerBIService(data.NewPowerBIRepo(db), cfg.PBIXDir),
		Dashboard:             service.NewDashboardService(users, importLogs, reportLogs, runtime),
		Settings:              settings,
		Defs:                  defs,
		ImportLogs:            importLogs,
		AdminSettingsPassword: cfg.AdminSettingsPassword,
		AppDBPath:             cfg.DBPath,
	})

	web, err := ui.NewHandler(ui.Options{
		Backend:  ui.ClientBackend(client.New(cfg.APIURL)),
		Sessions: ui.NewSessionStore(cfg.AppKey, cfg.TokenTTL),
		Refresh:  cfg.DashboardRefresh,
	})
	if err != nil {
		return fmt.Errorf("failed to init UI: %w", err)
	}

	r := chi.NewRouter()
	r.Mount("/api", backend.Routes())
	r.With(api.LoggingMiddleware).Mount("/", web.Routes())

	eg, egctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
		BaseContext: func(net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		logger.Info.Printf("Server listening on port %d (API at %s)", cfg.Port, cfg.APIURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egctx.Done()
		logger.Info.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		logger.Error.Printf("Server stopped: %v", err)
		return err
	}
	logger.Info.Println("Server stopped")
	return nil
}
