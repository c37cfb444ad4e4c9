package websub

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignHMACSHA1(t *testing.T) {
	mac := hmac.New(sha1.New, []byte("secret"))
	mac.Write([]byte("body"))
	want := hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, signHMACSHA1("secret", []byte("body")))
}

func TestPublish_DeliversSignedBodyWithLinkHeader(t *testing.T) {
	var mu sync.Mutex
	var gotSignature, gotLink, gotBody string
	done := make(chan struct{})

	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(body)
		mu.Lock()
		gotSignature = r.Header.Get("X-Hub-Signature")
		gotLink = r.Header.Get("Link")
		gotBody = string(body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		close(done)
	}))
	t.Cleanup(callback.Close)

	secret := "shared-secret"
	topic := "https://example.com/feed"
	h := newTestHub(t, callback.Client(), stubFeed{contentType: "application/json", body: []byte("content")})
	require.NoError(t, h.subs.Upsert(context.Background(), callback.URL, topic, time.Now().Add(time.Hour), &secret))

	h.Publish(context.Background(), []string{topic})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("delivery did not complete in time")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "sha1="+signHMACSHA1(secret, []byte("content")), gotSignature)
	assert.Contains(t, gotLink, `rel="hub"`)
	assert.Contains(t, gotLink, `rel="self"`)
	assert.Equal(t, "content", gotBody)
}

func TestPublish_NoActiveSubscriptions_NoDelivery(t *testing.T) {
	h := newTestHub(t, http.DefaultClient, stubFeed{})
	h.Publish(context.Background(), []string{"https://example.com/feed/never-subscribed"})
}
