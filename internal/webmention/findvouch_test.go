package webmention

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindVouch_CrawlDiscoversConfirmingSource(t *testing.T) {
	e := newTestEngine(t, http.DefaultClient, func(string) bool { return true })

	// carol.example previously sent a successful incoming webmention, so
	// her source URL seeds the host -> [sources] mapping used by the crawl.
	carolSource := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<a href="http://source.example/post/1">confirmed</a>`))
	}))
	t.Cleanup(carolSource.Close)

	wm, err := e.incoming.Receive(context.Background(), carolSource.URL, "http://target.example/previous", nil)
	require.NoError(t, err)
	require.NoError(t, e.incoming.Transition(context.Background(), wm.UUID, "success", "", nil))

	var targetServer *httptest.Server
	targetServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<a href="/about">about</a><a href="` + carolSource.URL + `">carol</a>`))
	}))
	t.Cleanup(targetServer.Close)

	e.client = carolSource.Client()

	// Both test servers listen on 127.0.0.1; the target site is addressed
	// as localhost so that carol's link counts as external to it.
	targetURL := strings.Replace(targetServer.URL, "127.0.0.1", "localhost", 1)
	vouch := e.findVouch(context.Background(), targetURL, "http://source.example/post/1")
	assert.Equal(t, carolSource.URL, vouch)
}

func TestFindVouch_NoSuccessfulHistory_ReturnsEmpty(t *testing.T) {
	e := newTestEngine(t, http.DefaultClient, func(string) bool { return true })
	vouch := e.findVouch(context.Background(), "http://target.example", "http://source.example/post/1")
	assert.Empty(t, vouch)
}
