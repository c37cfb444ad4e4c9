// Package micropub implements the Micropub Endpoint described in
// SPEC_FULL.md section 4.6: accepts the create/update/delete/undelete
// protocol and translates it into Post Store operations.
package micropub

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/robida/federation/internal/indieauth"
	"github.com/robida/federation/internal/store"
)

// MediaStore is the narrow collaborator Create's file-part handling
// depends on; the Media store itself is an external collaborator out of
// this spec's scope (section 4.6).
type MediaStore interface {
	Save(r io.Reader, filename string) (url string, err error)
}

// Endpoint wires Micropub requests to the Post Store. Scope enforcement
// happens two ways: the router mounts indieauth.Server.RequireScope in
// front of every Micropub route for the bearer-token check itself, and
// requireScope below reads the validated token back out of the request
// context to pick the specific scope each action needs.
type Endpoint struct {
	posts   *store.PostRepository
	media   MediaStore
	baseURL string
	logger  *slog.Logger
}

// New builds an Endpoint. baseURL is this site's origin, used to build
// the media endpoint URL advertised by q=config.
func New(posts *store.PostRepository, media MediaStore, baseURL string, logger *slog.Logger) *Endpoint {
	return &Endpoint{posts: posts, media: media, baseURL: baseURL, logger: logger}
}

func requireScope(ctx context.Context, required string) bool {
	tok := indieauth.TokenFromContext(ctx)
	if tok == nil {
		return false
	}
	for _, scope := range strings.Fields(tok.Scope) {
		if scope == required {
			return true
		}
	}
	return false
}

func newMediaID() string {
	return uuid.New().String()
}
