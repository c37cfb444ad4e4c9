package webmention

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/robida/federation/internal/store"
)

// ErrInvalidScheme is returned when source's scheme is neither http nor
// https (section 4.4.1 step 1).
var ErrInvalidScheme = errors.New("invalid_scheme")

// ErrInvalidTarget is returned when target does not resolve to a route
// this application serves (section 4.4.1 step 1).
var ErrInvalidTarget = errors.New("invalid_target")

// ErrVouchRequired is returned when the hub requires vouch and none was
// supplied (section 4.4.1 step 2, HTTP 449).
var ErrVouchRequired = errors.New("vouch_required")

func verify(source, target string, resolve TargetResolver) error {
	u, err := url.Parse(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidScheme
	}
	if resolve != nil && !resolve(target) {
		return ErrInvalidTarget
	}
	return nil
}

// Receive runs section 4.4.1's synchronous verification and persistence,
// then launches the background validation workflow. The returned
// Webmention's UUID is what the caller should expose in the Location
// header of the 201 response.
func (e *Engine) Receive(ctx context.Context, source, target string, vouch *string) (*store.Webmention, error) {
	if err := verify(source, target, e.resolve); err != nil {
		return nil, err
	}
	if e.cfg.RequireVouch && (vouch == nil || *vouch == "") {
		return nil, ErrVouchRequired
	}

	wm, err := e.incoming.Receive(ctx, source, target, vouch)
	if err != nil {
		return nil, fmt.Errorf("receive webmention: %w", err)
	}

	go e.validate(context.Background(), wm)

	return wm, nil
}

// validate runs the background state machine documented in section
// 4.4.1: received -> processing -> {success | pending_moderation | failure}.
// Each transition is persisted before the next step is attempted. The
// synthesized Post carries the webmention's own uuid as its `uid`
// property, so a later failure transition can find and soft-delete it.
func (e *Engine) validate(ctx context.Context, wm *store.Webmention) {
	fail := func(message string) {
		_ = e.incoming.Transition(ctx, wm.UUID, store.StatusFailure, message, nil)
		if err := e.posts.Delete(ctx, wm.UUID); err != nil && !errors.Is(err, store.ErrPostNotFound) {
			e.logger.Warn("webmention: soft-delete on failure", "uuid", wm.UUID, "error", err)
		}
	}

	var vouch string
	if wm.Vouch != nil {
		vouch = *wm.Vouch
	}

	if err := verify(wm.Source, wm.Target, e.resolve); err != nil {
		fail(err.Error())
		return
	}

	if err := e.incoming.Transition(ctx, wm.UUID, store.StatusProcessing, "", nil); err != nil {
		e.logger.Error("webmention: persist processing transition", "uuid", wm.UUID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wm.Source, nil)
	if err != nil {
		fail("malformed source URL")
		return
	}
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")
	resp, err := e.client.Do(req)
	if err != nil {
		fail(fmt.Sprintf("fetch source: %v", err))
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		fail(fmt.Sprintf("read source body: %v", err))
		return
	}
	if !linksBackBytes(resp, body, wm.Target, false) {
		fail("source no longer links to target")
		return
	}

	entry := SynthesizeEntry(resp, body, wm.Source, wm.Target)
	entry.Set("uid", wm.UUID.String())

	trustedByDomain, err := e.isDomainTrusted(ctx, wm.Source)
	if err != nil {
		e.logger.Warn("webmention: trusted-domain lookup failed", "source", wm.Source, "error", err)
	}
	vouchOK := trustedByDomain || IsVouchValid(ctx, e.client, e.trusted, vouch, wm.Source)

	if !vouchOK {
		entry.Set("visibility", "private")
		if _, err := e.posts.Upsert(ctx, entry, wm.Source); err != nil {
			e.logger.Error("webmention: upsert pending-moderation entry", "uuid", wm.UUID, "error", err)
		}
		_ = e.incoming.Transition(ctx, wm.UUID, store.StatusPendingModeration,
			"awaiting moderation: source is neither a trusted domain nor vouched for", nil)
		return
	}

	if _, err := e.posts.Upsert(ctx, entry, wm.Source); err != nil {
		e.logger.Error("webmention: upsert entry", "uuid", wm.UUID, "error", err)
	}
	_ = e.incoming.Transition(ctx, wm.UUID, store.StatusSuccess, "", entry)

	go e.SendSalmention(context.Background(), wm.Target)
}

func (e *Engine) isDomainTrusted(ctx context.Context, source string) (bool, error) {
	u, err := url.Parse(source)
	if err != nil || u.Hostname() == "" {
		return false, nil
	}
	return e.trusted.IsTrusted(ctx, u.Hostname())
}

// linksBackBytes is LinksBack with a body already read (the receive
// workflow needs the bytes again for h-entry synthesis, so it reads the
// response once and reuses it here).
func linksBackBytes(resp *http.Response, body []byte, target string, domainOnly bool) bool {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "html"):
		return linksBackHTML(body, target, domainOnly)
	case strings.Contains(contentType, "json"):
		return linksBackJSON(body, target, domainOnly)
	default:
		return linksBackText(string(body), target, domainOnly)
	}
}
