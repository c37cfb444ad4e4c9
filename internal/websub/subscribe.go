package websub

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/robida/federation/internal/store"
)

const challengeRandomBytes = 32

// generateChallenge returns a random URL-safe challenge token: 32 bytes
// from crypto/rand, base64url-encoded without padding.
func generateChallenge() string {
	b := make([]byte, challengeRandomBytes)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// SubscribeRequest is the parsed form of a hub.mode=subscribe request.
type SubscribeRequest struct {
	Topic        string
	Callback     string
	LeaseSeconds int
	Secret       *string
}

// ParseSubscribeRequest extracts the named hub.* parameters, ignoring any
// others (section 4.5: "Unknown hub.* parameters MUST be ignored").
func ParseSubscribeRequest(form url.Values) SubscribeRequest {
	req := SubscribeRequest{
		Topic:    form.Get("hub.topic"),
		Callback: form.Get("hub.callback"),
	}
	if lease, err := strconv.Atoi(form.Get("hub.lease_seconds")); err == nil {
		req.LeaseSeconds = lease
	}
	if secret := form.Get("hub.secret"); secret != "" {
		req.Secret = &secret
	}
	return req
}

func (req SubscribeRequest) lease() time.Duration {
	requested := time.Duration(req.LeaseSeconds) * time.Second
	if requested <= 0 || requested > store.MaxLease {
		return store.MaxLease
	}
	return requested
}

// Subscribe runs the background subscribe workflow of section 4.5 steps
// 1-4: compute the lease, issue a challenge, confirm it against the
// callback, and upsert the subscription on success. Errors are logged,
// never surfaced to the original HTTP caller, which has already received
// its 202.
func (h *Hub) Subscribe(ctx context.Context, req SubscribeRequest) {
	if !h.acceptsTopic(req.Topic) {
		h.logger.Warn("websub: subscribe rejected, topic out of scope", "topic", req.Topic)
		return
	}

	challenge := generateChallenge()
	if err := h.confirmChallenge(ctx, req.Callback, "subscribe", req.Topic, challenge, req.lease()); err != nil {
		h.logger.Warn("websub: subscribe challenge failed", "callback", req.Callback, "topic", req.Topic, "error", err)
		return
	}

	expiresAt := time.Now().UTC().Add(req.lease())
	if err := h.subs.Upsert(ctx, req.Callback, req.Topic, expiresAt, req.Secret); err != nil {
		h.logger.Error("websub: upsert subscription", "callback", req.Callback, "topic", req.Topic, "error", err)
	}
}

// Unsubscribe runs the challenge-echo workflow of section 4.5's
// "Unsubscribe workflow", deleting the subscription on confirmation.
func (h *Hub) Unsubscribe(ctx context.Context, req SubscribeRequest) {
	challenge := generateChallenge()
	if err := h.confirmChallenge(ctx, req.Callback, "unsubscribe", req.Topic, challenge, 0); err != nil {
		h.logger.Warn("websub: unsubscribe challenge failed", "callback", req.Callback, "topic", req.Topic, "error", err)
		return
	}
	if err := h.subs.Delete(ctx, req.Callback, req.Topic); err != nil {
		h.logger.Error("websub: delete subscription", "callback", req.Callback, "topic", req.Topic, "error", err)
	}
}

func (h *Hub) confirmChallenge(ctx context.Context, callback, mode, topic, challenge string, lease time.Duration) error {
	u, err := url.Parse(callback)
	if err != nil {
		return fmt.Errorf("parse callback: %w", err)
	}
	q := u.Query()
	q.Set("hub.mode", mode)
	q.Set("hub.topic", topic)
	q.Set("hub.challenge", challenge)
	if lease > 0 {
		q.Set("hub.lease_seconds", strconv.Itoa(int(lease.Seconds())))
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build challenge request: %w", err)
	}
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("fetch callback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("read callback response: %w", err)
	}
	if string(body) != challenge {
		return fmt.Errorf("callback did not echo challenge")
	}
	return nil
}
