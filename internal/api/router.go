// Package api wires the federation core's HTTP surface: the Webmention
// Engine, WebSub Hub, IndieAuth Server, and Micropub Endpoint, sharing one
// chi.Mux and one ambient middleware stack (SPEC_FULL.md section 6, 9, 11).
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	apimiddleware "github.com/robida/federation/internal/api/middleware"
	"github.com/robida/federation/internal/config"
	"github.com/robida/federation/internal/indieauth"
	"github.com/robida/federation/internal/micropub"
	"github.com/robida/federation/internal/store"
	"github.com/robida/federation/internal/webmention"
	"github.com/robida/federation/internal/websub"
)

// Version is the API version string advertised by /health.
const Version = "0.1.0"

// Deps collects every component NewRouter mounts. Built once at startup
// in cmd/federationd/main.go.
type Deps struct {
	Cfg        *config.Config
	Pool       *store.Pool
	Auth       *indieauth.Server
	Webmention *webmention.Engine
	WebSub     *websub.Hub
	Micropub   *micropub.Endpoint
}

// NewRouter builds the chi.Mux serving every endpoint in section 6's wire
// contract, wrapped in the ambient middleware stack: request ID, real IP,
// panic recovery, CORS, structured request logging, a request body limit,
// security headers, and per-IP rate limiting on the three routes an
// anonymous caller can reach without a bearer token (POST /webmention,
// GET /auth, POST /token; section 11).
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Location", "Link"},
		AllowCredentials: false,
		MaxAge:           int(12 * time.Hour / time.Second),
	}))
	r.Use(apimiddleware.Logging)
	r.Use(apimiddleware.BodyLimit(1 << 20))
	r.Use(federationHeaders(d.Cfg))

	r.Get("/health", healthHandler)
	r.Get("/health/ready", healthReadyHandler(d.Pool))

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(30, time.Minute))
		r.Post("/webmention", d.Webmention.ReceiveHandler)
		r.Get("/auth", d.Auth.AuthorizeHandler)
		r.Post("/token", d.Auth.TokenHandler)
	})
	r.Get("/webmention/{uuid}", d.Webmention.StatusHandler)

	r.Get("/auth/login", d.Auth.LoginHandler)
	r.Post("/auth/login", d.Auth.LoginHandler)
	r.Post("/introspect", d.Auth.IntrospectHandler)
	r.Post("/revoke", d.Auth.RevokeHandler)
	r.Get("/revoke", d.Auth.RevokeHandler)
	r.Get("/userinfo", d.Auth.UserinfoHandler)
	r.Get("/.well-known/oauth-authorization-server", d.Auth.MetadataHandler)

	r.Post("/websub", d.WebSub.SubscribeHandler)
	r.Post("/websub/publish", d.WebSub.PublishHandler)

	r.Group(func(r chi.Router) {
		r.Use(d.Auth.RequireScope(""))
		r.Get("/micropub", d.Micropub.QueryHandler)
		r.Post("/micropub", d.Micropub.PostHandler)
	})

	return r
}

// NewTargetResolver builds a webmention.TargetResolver backed by r's
// compiled route tree, grounded in section 9's design note to "expose a
// small in-app URL-matching function ... rather than coupling to any
// specific router". Matches path only: the target's scheme and host are
// not compared with this server's origin, here or in the Webmention Engine.
func NewTargetResolver(r *chi.Mux) webmention.TargetResolver {
	return func(target string) bool {
		u, err := parseTargetPath(target)
		if err != nil {
			return false
		}
		rctx := chi.NewRouteContext()
		return r.Match(rctx, http.MethodGet, u)
	}
}

func parseTargetPath(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	return u.Path, nil
}

func federationHeaders(cfg *config.Config) func(http.Handler) http.Handler {
	base := cfg.ServerName
	linkHeader := fmt.Sprintf(`<%s/auth>; rel="authorization_endpoint", <%s/token>; rel="token_endpoint", <%s/.well-known/oauth-authorization-server>; rel="indieauth-metadata", <%s/micropub>; rel="micropub", <%s/websub>; rel="hub"`,
		base, base, base, base, base)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Link", linkHeader)
			w.Header().Set("X-Robots-Tag", "noai, noimageai")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeHealthJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

func healthReadyHandler(pool *store.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool == nil || pool.Ping(r.Context()) != nil {
			writeHealthJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeHealthJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeHealthJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
