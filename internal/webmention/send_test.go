package webmention

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/robida/federation/internal/mf2"
	"github.com/robida/federation/internal/store"
)

func TestComputeTargets_UnionExcludesOwnLocation(t *testing.T) {
	old := &store.Post{Location: "https://me.example/post/1", Content: *mf2.New("h-entry")}
	old.Content.Set("in-reply-to", "https://alice.example/post/1")
	old.Content.Set("url", "https://me.example/post/1")

	newer := &store.Post{Location: "https://me.example/post/1", Content: *mf2.New("h-entry")}
	newer.Content.Set("in-reply-to", "https://alice.example/post/1")
	newer.Content.Add("mention-of", "https://bob.example/post/2")
	newer.Content.Set("url", "https://me.example/post/1")

	targets := ComputeTargets(old, newer)
	assert.ElementsMatch(t, []string{"https://alice.example/post/1", "https://bob.example/post/2"}, targets)
}

func TestComputeTargets_DeletedEntryStillNotifiesOldTargets(t *testing.T) {
	old := &store.Post{Location: "https://me.example/post/1", Content: *mf2.New("h-entry")}
	old.Content.Set("in-reply-to", "https://alice.example/post/1")

	targets := ComputeTargets(old, nil)
	assert.Equal(t, []string{"https://alice.example/post/1"}, targets)
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "example.com", hostOf("https://example.com/post/1"))
	assert.Equal(t, "", hostOf("://not a url"))
}

func TestResolveRef_RelativeLocation(t *testing.T) {
	assert.Equal(t, "https://example.com/webmention/status/42",
		resolveRef("https://example.com/webmention", "/webmention/status/42"))
}

func TestResolveRef_AbsoluteLocationUnchanged(t *testing.T) {
	assert.Equal(t, "https://other.example/status/1",
		resolveRef("https://example.com/webmention", "https://other.example/status/1"))
}

func TestPow(t *testing.T) {
	assert.Equal(t, 1.0, pow(2.0, 0))
	assert.Equal(t, 2.0, pow(2.0, 1))
	assert.Equal(t, 8.0, pow(2.0, 3))
}
