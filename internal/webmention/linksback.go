// Package webmention implements the Webmention Engine described in
// SPEC_FULL.md section 4.4: a receive half that validates and synthesizes
// incoming mentions, and a send half that discovers endpoints and delivers
// outgoing ones, sharing the Post Store and a URL-matching library.
package webmention

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>]+`)

// LinksBack reports whether resp's body contains a link to target: on
// HTML, any element with an href/src equal to (or, under domainOnly,
// sharing a host with) target; on JSON, the same predicate applied to
// every string leaf of the decoded value tree; otherwise a conservative
// URL-regex scan of the raw body. Error responses never link back
// (section 4.4.1, "Linksback predicate").
func LinksBack(resp *http.Response, target string, domainOnly bool) bool {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return false
	}
	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "html"):
		return linksBackHTML(body, target, domainOnly)
	case strings.Contains(contentType, "json"):
		return linksBackJSON(body, target, domainOnly)
	default:
		return linksBackText(string(body), target, domainOnly)
	}
}

func linksBackHTML(body []byte, target string, domainOnly bool) bool {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return false
	}
	found := false
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found || n == nil {
			return
		}
		if n.Type == html.ElementNode {
			for _, attr := range n.Attr {
				if attr.Key != "href" && attr.Key != "src" {
					continue
				}
				if urlMatches(attr.Val, target, domainOnly) {
					found = true
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
			if found {
				return
			}
		}
	}
	walk(doc)
	return found
}

func linksBackJSON(body []byte, target string, domainOnly bool) bool {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return linksBackText(string(body), target, domainOnly)
	}
	found := false
	var walk func(any)
	walk = func(v any) {
		if found {
			return
		}
		switch val := v.(type) {
		case string:
			if urlMatches(val, target, domainOnly) {
				found = true
			}
		case map[string]any:
			for _, nested := range val {
				walk(nested)
				if found {
					return
				}
			}
		case []any:
			for _, nested := range val {
				walk(nested)
				if found {
					return
				}
			}
		}
	}
	walk(v)
	return found
}

func linksBackText(body, target string, domainOnly bool) bool {
	for _, m := range urlPattern.FindAllString(body, -1) {
		if urlMatches(m, target, domainOnly) {
			return true
		}
	}
	return false
}

func urlMatches(candidate, target string, domainOnly bool) bool {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return false
	}
	if !domainOnly {
		return strings.TrimSuffix(candidate, "/") == strings.TrimSuffix(target, "/")
	}
	cu, err1 := url.Parse(candidate)
	tu, err2 := url.Parse(target)
	if err1 != nil || err2 != nil {
		return false
	}
	return cu.Hostname() == tu.Hostname()
}
