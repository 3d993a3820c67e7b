package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/echoes-blog/echoes/docs"
	"github.com/echoes-blog/echoes/internal/audit"
	"github.com/echoes-blog/echoes/internal/capability"
	"github.com/echoes-blog/echoes/internal/config"
	"github.com/echoes-blog/echoes/internal/extension"
	"github.com/echoes-blog/echoes/internal/httpclient"
	"github.com/echoes-blog/echoes/internal/messaging"
	mw "github.com/echoes-blog/echoes/internal/middleware"
	"github.com/echoes-blog/echoes/internal/module"
	"github.com/echoes-blog/echoes/internal/plugin"
	"github.com/echoes-blog/echoes/internal/settings"
	"github.com/echoes-blog/echoes/internal/setup"
	"github.com/echoes-blog/echoes/internal/theme"
	"github.com/echoes-blog/echoes/internal/ws"
	"github.com/echoes-blog/echoes/plugins/credit"
	"github.com/echoes-blog/echoes/plugins/readingtime"
	"github.com/echoes-blog/echoes/themes/echoes"
)

type app struct {
	cfg     *config.Config
	log     logrus.FieldLogger
	manager *module.Manager
	engine  *plugin.Engine
	hub     *ws.Hub
	setup   *setup.Service
	audit   *audit.Store
}

func newApp(cfg *config.Config, client *httpclient.Client, broker messaging.Broker, log logrus.FieldLogger) (*app, error) {
	themes := theme.NewRegistry(theme.Options{CacheTTL: cfg.ModuleCacheTTL, Logger: log})
	if _, err := echoes.Register(themes); err != nil {
		return nil, err
	}
	if cfg.ThemesDir != "" {
		names, err := themes.RegisterDir(cfg.ThemesDir)
		if err != nil {
			log.WithError(err).Warn("some themes could not be registered")
		}
		log.WithField("themes", names).Info("registered themes from disk")
	}

	caps := capability.NewRegistry(log)
	exts := extension.NewRegistry(log)

	manager := module.New(module.Deps{
		HTTP:         client,
		Modules:      themes,
		Capabilities: caps,
		Extensions:   exts,
		Broker:       broker,
		Logger:       log,
	})

	engine := plugin.NewEngine(plugin.EngineOptions{
		Capabilities: caps,
		Extensions:   exts,
		Store:        plugin.NewStore(client),
		Broker:       broker,
		Host: &plugin.Host{
			HTTP:      client,
			Messenger: plugin.NewMessenger(broker, log),
			Logger:    log,
		},
		Logger: log,
	})
	for _, p := range []plugin.Plugin{credit.New(), readingtime.New()} {
		if err := engine.Register(p); err != nil {
			return nil, fmt.Errorf("failed to register plugin %s: %w", p.ID(), err)
		}
	}

	return &app{
		cfg:     cfg,
		log:     log,
		manager: manager,
		engine:  engine,
		hub:     ws.NewHub(log),
		setup:   setup.NewService(client, manager, log),
		audit:   audit.NewStore(audit.DefaultCapacity),
	}, nil
}

// router builds the HTTP surface. ctx bounds the rate limiter's cleanup
// goroutine.
func (a *app) router(ctx context.Context) *mux.Router {
	r := mux.NewRouter()
	r.Use(mw.RequestLogger(a.log))
	r.Use(mw.RateLimitMiddleware(ctx, a.cfg.RateLimitRPS, a.cfg.RateLimitBurst))

	writeGuard := mw.WriteGuard(a.cfg.AdminToken)

	r.HandleFunc("/healthz", healthzHandler).Methods("GET")
	docs.NewHandler(a.cfg.SiteURL()).RegisterRoutes(r)
	setup.NewHandlers(a.setup, writeGuard).RegisterRoutes(r)
	ws.NewWSHandler(a.hub, splitOrigins(a.cfg.AllowedOrigins)).RegisterRoutes(r)

	// Management API, closed until the install is finished.
	protected := r.PathPrefix("").Subrouter()
	protected.Use(setup.GuardMiddleware(a.setup))
	protected.Use(audit.Middleware(a.audit, a.log))

	siteHandlers := module.NewHandlers(a.manager, writeGuard)
	siteHandlers.RegisterRoutes(protected)
	settings.NewHandlers(a.manager, writeGuard).RegisterRoutes(protected)
	audit.NewHandlers(a.audit).RegisterRoutes(protected)

	// Management routes first so /{id}/enable is not shadowed by the
	// plugin's own subrouter.
	plugin.NewHandlers(a.engine, writeGuard).RegisterRoutes(protected)
	a.engine.RegisterAllRoutes(protected)

	siteHandlers.RegisterSite(r)
	return r
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func corsMiddleware(allowedOrigins string, next http.Handler) http.Handler {
	origins := make(map[string]bool)
	for _, o := range splitOrigins(allowedOrigins) {
		origins[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origins[origin] || origins["*"] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
