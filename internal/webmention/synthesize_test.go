package webmention

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeEntry_HTML(t *testing.T) {
	body := []byte(`<html><body>
		<div class="h-entry">
			<p class="p-name">Nice post!</p>
			<a class="u-in-reply-to" href="https://target.example/post/1">in reply to</a>
		</div>
	</body></html>`)
	resp := newResponse(200, "text/html", "")

	entry := SynthesizeEntry(resp, body, "https://source.example/reply/1", "https://target.example/post/1")
	require.NotNil(t, entry)
	assert.Contains(t, entry.Type, "h-entry")
	assert.Equal(t, "Nice post!", entry.FirstString("name"))
}

func TestSynthesizeEntry_HTMLFallsBackToMinimal(t *testing.T) {
	body := []byte(`<html><body><p>no microformats here</p></body></html>`)
	resp := newResponse(200, "text/html", "")

	entry := SynthesizeEntry(resp, body, "https://source.example/reply/1", "https://target.example/post/1")
	require.NotNil(t, entry)
	assert.Equal(t, "https://source.example/reply/1", entry.FirstString("url"))
}

func TestSynthesizeEntry_JSON(t *testing.T) {
	body := []byte(`{"type":["h-entry"],"properties":{"in-reply-to":["https://target.example/post/1"],"content":[{"value":"hi"}]}}`)
	resp := newResponse(200, "application/json", "")

	entry := SynthesizeEntry(resp, body, "https://source.example/reply/1", "https://target.example/post/1")
	require.NotNil(t, entry)
	assert.Contains(t, entry.Type, "h-entry")
}

func TestSynthesizeEntry_JSONTree(t *testing.T) {
	body := []byte(`{"items":[
		{"type":["h-entry"],"properties":{"in-reply-to":["https://other.example/post/9"]}},
		{"type":["h-entry"],"properties":{"in-reply-to":["https://target.example/post/1"]}}
	]}`)
	resp := newResponse(200, "application/json", "")

	entry := SynthesizeEntry(resp, body, "https://source.example/reply/1", "https://target.example/post/1")
	require.NotNil(t, entry)
	urls := entry.Properties["in-reply-to"]
	require.Len(t, urls, 1)
	assert.Equal(t, "https://target.example/post/1", urls[0])
}

func TestSynthesizeEntry_DefaultFallback(t *testing.T) {
	resp := &http.Response{StatusCode: 200, Header: http.Header{"Content-Type": []string{"text/plain"}}}
	entry := SynthesizeEntry(resp, []byte("plain text body"), "https://source.example/note/1", "https://target.example/post/1")
	require.NotNil(t, entry)
	assert.Equal(t, "https://source.example/note/1", entry.FirstString("url"))
}
