package webmention

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robida/federation/internal/config"
	"github.com/robida/federation/internal/store"
)

// Note: these tests exercise the full receive workflow against a running
// PostgreSQL database. Set DATABASE_URL to run them.

func newTestEngine(t *testing.T, client *http.Client, resolve TargetResolver) *Engine {
	t.Helper()
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := store.NewPool(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	cfg := &config.Config{Environment: "production", RequireVouch: false}
	posts := store.NewPostRepository(pool)
	incoming := store.NewIncomingWebmentionRepository(pool)
	outgoing := store.NewOutgoingWebmentionRepository(pool)
	trusted := store.NewTrustedDomainRepository(pool)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	return New(cfg, posts, incoming, outgoing, trusted, client, resolve, logger)
}

func TestReceive_ValidSourceLinksBack_Success(t *testing.T) {
	const targetPath = "/post/target"

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><div class="h-entry"><p class="p-name">reply</p>
			<a class="u-in-reply-to" href="http://127.0.0.1` + targetPath + `">target</a></div></body></html>`))
	}))
	t.Cleanup(source.Close)

	resolve := func(target string) bool { return true }
	e := newTestEngine(t, source.Client(), resolve)

	target := "http://127.0.0.1" + targetPath
	wm, err := e.Receive(context.Background(), source.URL, target, nil)
	require.NoError(t, err)
	assert.Equal(t, store.StatusReceived, wm.Status)

	require.Eventually(t, func() bool {
		got, err := e.incoming.Get(context.Background(), wm.UUID)
		return err == nil && (got.Status == store.StatusSuccess || got.Status == store.StatusPendingModeration)
	}, 5*time.Second, 50*time.Millisecond)
}

func TestReceive_InvalidScheme_Rejected(t *testing.T) {
	e := newTestEngine(t, http.DefaultClient, func(string) bool { return true })
	_, err := e.Receive(context.Background(), "ftp://source.example/post/1", "https://target.example/post/1", nil)
	assert.ErrorIs(t, err, ErrInvalidScheme)
}

func TestReceive_UnresolvableTarget_Rejected(t *testing.T) {
	e := newTestEngine(t, http.DefaultClient, func(string) bool { return false })
	_, err := e.Receive(context.Background(), "https://source.example/post/1", "https://target.example/post/1", nil)
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestReceive_RequireVouchAndMissing_Rejected(t *testing.T) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	e := newTestEngine(t, http.DefaultClient, func(string) bool { return true })
	e.cfg.RequireVouch = true

	_, err := e.Receive(context.Background(), "https://source.example/post/1", "https://target.example/post/1", nil)
	assert.ErrorIs(t, err, ErrVouchRequired)
}
