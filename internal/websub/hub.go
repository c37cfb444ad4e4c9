// Package websub implements the WebSub Hub described in SPEC_FULL.md
// section 4.5: publish/subscribe fanout with challenge-echo validation,
// lease management, and HMAC-signed content distribution.
package websub

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/robida/federation/internal/config"
	"github.com/robida/federation/internal/store"
)

// FeedFetcher is the narrow collaborator the Hub depends on to render a
// topic's current content for a publish fanout. The renderer itself is an
// external collaborator out of this spec's scope (section 1); the Hub's
// responsibility stops at calling this interface and signing/delivering
// whatever it returns.
type FeedFetcher interface {
	// Fetch renders topic's content incrementally since the given RFC3339
	// cursor, returning the response Content-Type and body to distribute.
	Fetch(topic, since string) (contentType string, body []byte, err error)
}

// Hub wires subscription validation and publish fanout over the
// Subscription repository and a FeedFetcher.
type Hub struct {
	cfg    *config.Config
	subs   *store.SubscriptionRepository
	feed   FeedFetcher
	client *http.Client
	logger *slog.Logger
}

// New builds a Hub. client should already carry the WebSub delivery
// client's transport-level retry wrapper (section 4.5 step 4).
func New(cfg *config.Config, subs *store.SubscriptionRepository, feed FeedFetcher, client *http.Client, logger *slog.Logger) *Hub {
	return &Hub{cfg: cfg, subs: subs, feed: feed, client: client, logger: logger}
}

// acceptsTopic reports whether topic is within this site's feed scope
// (section 4.5: "a topic URL is accepted iff it begins with this site's
// feed URL").
func (h *Hub) acceptsTopic(topic string) bool {
	return strings.HasPrefix(topic, h.cfg.FeedURL())
}
