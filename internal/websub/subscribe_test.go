package websub

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robida/federation/internal/config"
	"github.com/robida/federation/internal/store"
)

type stubFeed struct {
	contentType string
	body        []byte
	err         error
}

func (s stubFeed) Fetch(topic, since string) (string, []byte, error) {
	return s.contentType, s.body, s.err
}

func newTestHub(t *testing.T, client *http.Client, feed FeedFetcher) *Hub {
	t.Helper()
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := store.NewPool(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	cfg := &config.Config{ServerName: "https://example.com"}
	subs := store.NewSubscriptionRepository(pool)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return New(cfg, subs, feed, client, logger)
}

func TestParseSubscribeRequest_IgnoresUnknownParams(t *testing.T) {
	form := url.Values{
		"hub.topic":    {"https://example.com/feed"},
		"hub.callback": {"https://sub.example/cb"},
		"hub.unknown":  {"whatever"},
	}
	req := ParseSubscribeRequest(form)
	assert.Equal(t, "https://example.com/feed", req.Topic)
	assert.Equal(t, "https://sub.example/cb", req.Callback)
}

func TestSubscribeRequest_Lease_DefaultsToMax(t *testing.T) {
	req := SubscribeRequest{}
	assert.Equal(t, store.MaxLease, req.lease())
}

func TestSubscribeRequest_Lease_CappedAtMax(t *testing.T) {
	req := SubscribeRequest{LeaseSeconds: int((1000 * 24 * time.Hour).Seconds())}
	assert.Equal(t, store.MaxLease, req.lease())
}

func TestSubscribeRequest_Lease_HonorsRequested(t *testing.T) {
	req := SubscribeRequest{LeaseSeconds: 3600}
	assert.Equal(t, time.Hour, req.lease())
}

func TestSubscribe_ChallengeEchoed_CreatesSubscription(t *testing.T) {
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Query().Get("hub.challenge")))
	}))
	t.Cleanup(callback.Close)

	h := newTestHub(t, callback.Client(), stubFeed{})
	req := SubscribeRequest{Topic: "https://example.com/feed", Callback: callback.URL}

	h.Subscribe(context.Background(), req)

	active, err := h.subs.ListActive(context.Background(), req.Topic)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, callback.URL, active[0].Callback)
}

func TestSubscribe_ChallengeNotEchoed_NoSubscriptionCreated(t *testing.T) {
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("wrong-challenge"))
	}))
	t.Cleanup(callback.Close)

	h := newTestHub(t, callback.Client(), stubFeed{})
	req := SubscribeRequest{Topic: "https://example.com/feed", Callback: callback.URL}

	h.Subscribe(context.Background(), req)

	active, err := h.subs.ListActive(context.Background(), req.Topic)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSubscribe_TopicOutOfScope_Rejected(t *testing.T) {
	h := newTestHub(t, http.DefaultClient, stubFeed{})
	req := SubscribeRequest{Topic: "https://other.example/feed", Callback: "https://sub.example/cb"}

	h.Subscribe(context.Background(), req)

	active, err := h.subs.ListActive(context.Background(), req.Topic)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestUnsubscribe_ChallengeEchoed_DeletesSubscription(t *testing.T) {
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Query().Get("hub.challenge")))
	}))
	t.Cleanup(callback.Close)

	h := newTestHub(t, callback.Client(), stubFeed{})
	topic := "https://example.com/feed"
	require.NoError(t, h.subs.Upsert(context.Background(), callback.URL, topic, time.Now().Add(time.Hour), nil))

	h.Unsubscribe(context.Background(), SubscribeRequest{Topic: topic, Callback: callback.URL})

	active, err := h.subs.ListActive(context.Background(), topic)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestAcceptsTopic(t *testing.T) {
	h := &Hub{cfg: &config.Config{ServerName: "https://example.com"}}
	assert.True(t, h.acceptsTopic("https://example.com/feed"))
	assert.True(t, h.acceptsTopic("https://example.com/feed/page/2"))
	assert.False(t, h.acceptsTopic("https://other.example/feed"))
}
