package webmention

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newResponse(status int, contentType, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{contentType}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestLinksBack_HTML_ExactMatch(t *testing.T) {
	resp := newResponse(200, "text/html", `<html><body><a href="https://target.example/post/1">reply</a></body></html>`)
	assert.True(t, LinksBack(resp, "https://target.example/post/1", false))
}

func TestLinksBack_HTML_NoMatch(t *testing.T) {
	resp := newResponse(200, "text/html", `<html><body><a href="https://other.example/post/1">reply</a></body></html>`)
	assert.False(t, LinksBack(resp, "https://target.example/post/1", false))
}

func TestLinksBack_HTML_DomainOnly(t *testing.T) {
	resp := newResponse(200, "text/html", `<html><body><a href="https://target.example/post/99">reply</a></body></html>`)
	assert.True(t, LinksBack(resp, "https://target.example/post/1", true))
}

func TestLinksBack_JSON_NestedString(t *testing.T) {
	resp := newResponse(200, "application/json", `{"properties":{"in-reply-to":["https://target.example/post/1"]}}`)
	assert.True(t, LinksBack(resp, "https://target.example/post/1", false))
}

func TestLinksBack_TextFallback(t *testing.T) {
	resp := newResponse(200, "text/plain", `see https://target.example/post/1 for context`)
	assert.True(t, LinksBack(resp, "https://target.example/post/1", false))
}

func TestLinksBack_ErrorStatusNeverLinksBack(t *testing.T) {
	resp := newResponse(404, "text/html", `<a href="https://target.example/post/1">reply</a>`)
	assert.False(t, LinksBack(resp, "https://target.example/post/1", false))
}

func TestUrlMatches_TrailingSlashIgnored(t *testing.T) {
	assert.True(t, urlMatches("https://target.example/post/1/", "https://target.example/post/1", false))
}
