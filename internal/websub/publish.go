package websub

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"
)

// Publish runs the background publish fanout of section 4.5's "Publish
// workflow" for every topic url in urls, concurrently.
func (h *Hub) Publish(ctx context.Context, urls []string) {
	for _, topic := range urls {
		topic := topic
		go h.publishOne(ctx, topic)
	}
}

func (h *Hub) publishOne(ctx context.Context, topic string) {
	start := time.Now().UTC()

	subs, err := h.subs.ListActive(ctx, topic)
	if err != nil {
		h.logger.Error("websub: list active subscriptions", "topic", topic, "error", err)
		return
	}

	for _, sub := range subs {
		contentType, body, err := h.feed.Fetch(topic, sub.LastDeliveryAt.Format(time.RFC3339))
		if err != nil {
			h.logger.Warn("websub: fetch topic for delivery", "topic", topic, "callback", sub.Callback, "error", err)
			continue
		}
		if err := h.deliver(ctx, sub.Callback, topic, contentType, body, sub.Secret); err != nil {
			h.logger.Warn("websub: deliver", "topic", topic, "callback", sub.Callback, "error", err)
			continue
		}
		if err := h.subs.MarkDelivered(ctx, sub.Callback, topic, start); err != nil {
			h.logger.Error("websub: mark delivered", "topic", topic, "callback", sub.Callback, "error", err)
		}
	}
}

func (h *Hub) deliver(ctx context.Context, callback, topic, contentType string, body []byte, secret *string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callback, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Link", fmt.Sprintf(`<%s>; rel="hub", <%s>; rel="self"`, h.cfg.HubURL(), topic))
	if secret != nil && *secret != "" {
		req.Header.Set("X-Hub-Signature", "sha1="+signHMACSHA1(*secret, body))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned %d", resp.StatusCode)
	}
	return nil
}

// signHMACSHA1 computes the lowercase-hex HMAC-SHA1 signature named in
// section 8's testable property 6.
func signHMACSHA1(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
