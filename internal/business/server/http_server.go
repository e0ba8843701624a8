package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-relay/internal/config"
	"github.com/openkcm/auth-relay/internal/cookiepolicy"
	"github.com/openkcm/auth-relay/internal/gatekeeper"
	"github.com/openkcm/auth-relay/internal/handoff"
	"github.com/openkcm/auth-relay/internal/middleware/tenantctx"
	"github.com/openkcm/auth-relay/internal/proxy"
	"github.com/openkcm/auth-relay/internal/serviceerr"
	"github.com/openkcm/auth-relay/internal/session"
	"github.com/openkcm/auth-relay/internal/tenant"
	"github.com/openkcm/auth-relay/pkg/fingerprint"
)

// Services are the components the HTTP surface is built from.
type Services struct {
	Resolver    tenant.Resolver
	Policy      *cookiepolicy.Policy
	Handoff     *handoff.Service
	Logouter    Logouter
	Refresher   session.Refresher
	Credentials session.CredentialSource
	Gatekeeper  *gatekeeper.Gatekeeper

	// API serves the API prefix. Nil answers with a bad gateway.
	API http.Handler
	// App serves everything the gatekeeper lets through. Nil answers with
	// not found.
	App http.Handler
}

func newRouter(cfg *config.Config, svc *Services) http.Handler {
	auth := &authHandlers{
		handoff:     svc.Handoff,
		logouter:    svc.Logouter,
		refresher:   svc.Refresher,
		credentials: svc.Credentials,
		policy:      svc.Policy,
	}

	api := svc.API
	if api == nil {
		api = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			proxy.WriteError(w, serviceerr.ErrBackendUnreachable.With("API upstream is not configured"))
		})
	}

	app := svc.App
	if app == nil {
		app = http.NotFoundHandler()
	}

	apiPrefix := cfg.Upstreams.APIPrefix
	if apiPrefix == "" {
		apiPrefix = "/api/"
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(newTraceMiddleware(cfg))
	r.Use(fingerprint.Middleware)
	r.Use(tenantctx.Middleware(svc.Resolver))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", auth.login)
		r.Get("/callback", auth.callback)
		r.Get("/set-base-session", auth.setBaseSession)
		r.Post("/refresh", auth.refresh)
		r.Post("/logout", auth.logout)
		r.Get("/session", auth.session)
	})

	r.Handle(strings.TrimSuffix(apiPrefix, "/")+"/*", api)
	r.Handle("/*", svc.Gatekeeper.Middleware(app))

	return r
}

// createHTTPServer creates the public http server using the given config
func createHTTPServer(_ context.Context, cfg *config.Config, svc *Services) *http.Server {
	return &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: newRouter(cfg, svc),
	}
}

// StartHTTPServer starts the HTTP server using the given config.
func StartHTTPServer(ctx context.Context, cfg *config.Config, svc *Services) error {
	if err := initMeters(ctx, cfg); err != nil {
		return err
	}

	server := createHTTPServer(ctx, cfg, svc)

	slogctx.Info(ctx, "Starting a listener", "address", server.Addr)

	// Parse network if the address if provided in the format of network://address.
	// Otherwise use tcp network by default.
	network := "tcp"
	if idx := strings.IndexRune(server.Addr, ':'); idx != -1 && len(server.Addr) > idx+3 && server.Addr[idx:idx+3] == "://" {
		network = server.Addr[:idx]
		server.Addr = server.Addr[idx+3:]
	}

	listener, err := new(net.ListenConfig).Listen(ctx, network, server.Addr)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create a listener")
	}

	slogctx.Info(ctx, "A listener started", "address", listener.Addr().String())

	go func() {
		slogctx.Info(ctx, "Serving an HTTP server", "address", listener.Addr().String())
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve an HTTP server", "error", err)
		}

		slogctx.Info(ctx, "Stopped an HTTP server")
	}()

	<-ctx.Done()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed shutting down HTTP server")
	}

	slogctx.Info(ctx, "Completed graceful shutdown of HTTP server")

	return nil
}
