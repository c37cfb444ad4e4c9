package webmention

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	wmclient "willnorris.com/go/webmention"

	"github.com/robida/federation/internal/mf2"
	"github.com/robida/federation/internal/store"
)

// pollRetries, pollInterval, and pollBackoff are the defaults named in
// section 4.4.2's "Polling" subsection.
const (
	pollRetries  = 10
	pollInterval = 1 * time.Minute
	pollBackoff  = 2.0
)

// ComputeTargets returns the union of URLs referenced by old and new
// (section 4.4.2: "the union is ... because a target that was present in
// the old entry may need to receive a deletion notification"), excluding
// the entry's own location.
func ComputeTargets(old, new *store.Post) []string {
	seen := map[string]bool{}
	var out []string
	add := func(p *store.Post) {
		if p == nil {
			return
		}
		for _, u := range mf2.ExtractURLs(&p.Content) {
			if u == p.Location || seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, u)
		}
	}
	add(old)
	add(new)
	return out
}

// HandleEntryCreated, HandleEntryUpdated, and HandleEntryDeleted are the
// events.Handler functions wired to the Event Bus (section 4.4.2:
// "Triggers: EntryCreated, EntryUpdated, EntryDeleted ... for the site
// owner only"). Disabled entirely in development.
func (e *Engine) HandleEntryCreated(ctx context.Context, post *store.Post) {
	if !e.shouldSend(post.Author) {
		return
	}
	e.Send(ctx, post.Location, ComputeTargets(nil, post))
}

func (e *Engine) HandleEntryUpdated(ctx context.Context, old, new *store.Post) {
	if !e.shouldSend(new.Author) {
		return
	}
	e.Send(ctx, new.Location, ComputeTargets(old, new))
}

func (e *Engine) HandleEntryDeleted(ctx context.Context, old *store.Post) {
	if !e.shouldSend(old.Author) {
		return
	}
	e.Send(ctx, old.Location, ComputeTargets(old, nil))
}

func (e *Engine) shouldSend(author string) bool {
	return !e.cfg.IsDevelopment() && author == e.cfg.ServerName
}

// Send queues an Outgoing Webmention for every target and runs the
// delivery state machine for each, concurrently.
func (e *Engine) Send(ctx context.Context, source string, targets []string) {
	for _, target := range targets {
		target := target
		go e.deliver(ctx, source, target, "")
	}
}

// SendSalmention re-sends the webmentions of the Post at source, per
// section 4.4.3: "look up the Post at source ... call the send workflow
// with new = old = that post."
func (e *Engine) SendSalmention(ctx context.Context, source string) {
	post, err := e.posts.GetByLocation(ctx, source)
	if err != nil {
		return
	}
	e.Send(ctx, source, ComputeTargets(post, post))
}

// deliver runs the per-target delivery state machine of section 4.4.2
// steps 1-2, including the 449/find-vouch retry loop.
func (e *Engine) deliver(ctx context.Context, source, target, vouch string) {
	if host := hostOf(target); host != "" {
		if err := e.trusted.Upsert(ctx, host); err != nil {
			e.logger.Warn("webmention: upsert trusted domain", "host", host, "error", err)
		}
	}

	wm, err := e.outgoing.Queue(ctx, source, target)
	if err != nil {
		e.logger.Error("webmention: queue outgoing", "source", source, "target", target, "error", err)
		return
	}

	e.attempt(ctx, wm, source, target, vouch)
}

func (e *Engine) attempt(ctx context.Context, wm *store.Webmention, source, target, vouch string) {
	endpoint, err := e.discoverEndpoint(ctx, target)
	if err != nil || endpoint == "" {
		_ = e.outgoing.Transition(ctx, wm.UUID, store.StatusNoEndpoint, "no webmention endpoint advertised", nil)
		return
	}

	form := url.Values{"source": {source}, "target": {target}}
	if vouch != "" {
		form.Set("vouch", vouch)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		_ = e.outgoing.Transition(ctx, wm.UUID, store.StatusFailure, err.Error(), nil)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Webmention")

	resp, err := e.client.Do(req)
	if err != nil {
		_ = e.outgoing.Transition(ctx, wm.UUID, store.StatusFailure, err.Error(), nil)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		e.recordSuccess(ctx, wm, "successfully sent", vouch)
	case http.StatusAccepted:
		e.recordSuccess(ctx, wm, "accepted", vouch)
	case http.StatusCreated:
		location := resp.Header.Get("Location")
		if location != "" {
			location = resolveRef(endpoint, location)
		}
		e.poll(ctx, wm, location, vouch)
	case 449:
		if vouch != "" {
			e.recordFailure(ctx, wm, "vouch was rejected", true)
			return
		}
		if found := e.findVouch(ctx, target, source); found != "" {
			e.attempt(ctx, wm, source, target, found)
			return
		}
		e.recordFailure(ctx, wm, "no vouch URL was found", false)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		e.recordFailure(ctx, wm, string(body), vouch != "")
	}
}

func (e *Engine) recordSuccess(ctx context.Context, wm *store.Webmention, message, vouch string) {
	var v *string
	if vouch != "" {
		v = &vouch
	}
	_ = e.outgoing.Transition(ctx, wm.UUID, store.StatusSuccess, message, v)
}

func (e *Engine) recordFailure(ctx context.Context, wm *store.Webmention, message string, clearVouch bool) {
	var v *string
	if clearVouch {
		empty := ""
		v = &empty
	}
	_ = e.outgoing.Transition(ctx, wm.UUID, store.StatusFailure, message, v)
}

// poll implements section 4.4.2's retry-and-backoff polling of a 201
// Location, emitting intermediate processing transitions.
func (e *Engine) poll(ctx context.Context, wm *store.Webmention, location, vouch string) {
	if location == "" {
		e.recordFailure(ctx, wm, "201 response carried no Location to poll", false)
		return
	}
	_ = e.outgoing.Transition(ctx, wm.UUID, store.StatusProcessing, "polling delivery status", nil)

	interval := pollInterval
	for retry := 0; retry < pollRetries; retry++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		interval = time.Duration(float64(pollInterval) * pow(pollBackoff, float64(retry+1)))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			continue
		}
		resp, err := e.client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			e.recordSuccess(ctx, wm, "delivery confirmed", vouch)
			return
		}
	}
	e.recordFailure(ctx, wm, "polling exhausted retries", false)
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}

// discoverEndpoint implements section 4.4.2 step 1 via the willnorris.com
// webmention client: HEAD target, follow redirects, honor a Link header,
// and fall back to scanning the HTML body for a <link>/<a rel=webmention>.
func (e *Engine) discoverEndpoint(ctx context.Context, target string) (string, error) {
	c := wmclient.New(e.client)
	endpoint, err := c.DiscoverEndpoint(target)
	if err != nil {
		return "", fmt.Errorf("discover webmention endpoint: %w", err)
	}
	return endpoint, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func resolveRef(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
