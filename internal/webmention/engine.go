package webmention

import (
	"log/slog"
	"net/http"

	"github.com/robida/federation/internal/config"
	"github.com/robida/federation/internal/store"
)

// TargetResolver reports whether target resolves to a route this
// application serves. Wired at startup from the chi route tree (section
// 9's design note on reusing the router for URL matching).
type TargetResolver func(target string) bool

// Engine wires the receive and send halves of the Webmention Engine
// (section 4.4) over the shared Post Store, Incoming/Outgoing
// repositories, and Trusted Domains.
type Engine struct {
	cfg      *config.Config
	posts    *store.PostRepository
	incoming *store.IncomingWebmentionRepository
	outgoing *store.OutgoingWebmentionRepository
	trusted  *store.TrustedDomainRepository
	client   *http.Client
	resolve  TargetResolver
	logger   *slog.Logger
}

// New builds an Engine. client is the shared rate-limited outbound HTTP
// client (internal/httpx); resolve is the application's route-matching
// predicate.
func New(cfg *config.Config, posts *store.PostRepository, incoming *store.IncomingWebmentionRepository,
	outgoing *store.OutgoingWebmentionRepository, trusted *store.TrustedDomainRepository,
	client *http.Client, resolve TargetResolver, logger *slog.Logger) *Engine {
	return &Engine{
		cfg: cfg, posts: posts, incoming: incoming, outgoing: outgoing,
		trusted: trusted, client: client, resolve: resolve, logger: logger,
	}
}
