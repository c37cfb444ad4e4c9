package webmention

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/net/html"
)

// findVouchCrawlLimit bounds the number of pages the BFS will visit before
// giving up, independent of the early-exhaustion rule in section 4.4.2.
const findVouchCrawlLimit = 200

// findVouch implements section 4.4.2's "Find vouch": crawl target's site
// breadth-first from its root and from target itself, restricted to
// internal links; at each page, check whether an external link's host is
// among the hosts that have ever sent a successful incoming webmention to
// this site (any target); if so, re-fetch one of that host's sources and confirm it still
// links back to source at domain granularity. The first such confirmed
// source URL is the vouch.
func (e *Engine) findVouch(ctx context.Context, target, source string) string {
	byHost, err := e.successfulSourcesByHost(ctx)
	if err != nil || len(byHost) == 0 {
		return ""
	}

	targetURL, err := url.Parse(target)
	if err != nil || targetURL.Hostname() == "" {
		return ""
	}
	root := &url.URL{Scheme: targetURL.Scheme, Host: targetURL.Host, Path: "/"}

	visited := map[string]bool{}
	queue := []string{root.String(), target}

	for len(queue) > 0 && len(byHost) > 0 && len(visited) < findVouchCrawlLimit {
		page := queue[0]
		queue = queue[1:]
		if visited[page] {
			continue
		}
		visited[page] = true

		internal, external := e.fetchLinks(ctx, page, targetURL.Hostname())
		for _, link := range internal {
			if !visited[link] {
				queue = append(queue, link)
			}
		}

		for _, link := range external {
			host := hostOf(link)
			candidates, ok := byHost[host]
			if !ok {
				continue
			}
			delete(byHost, host)
			if vouch := e.confirmVouchCandidate(ctx, candidates, source); vouch != "" {
				return vouch
			}
		}
	}

	return ""
}

// successfulSourcesByHost builds the host -> [source URLs] mapping named
// in section 4.4.2 from every successful incoming webmention on record.
func (e *Engine) successfulSourcesByHost(ctx context.Context) (map[string][]string, error) {
	webmentions, err := e.incoming.ListSuccessful(ctx, 500)
	if err != nil {
		return nil, err
	}
	byHost := map[string][]string{}
	for _, wm := range webmentions {
		host := hostOf(wm.Source)
		if host == "" {
			continue
		}
		byHost[host] = append(byHost[host], wm.Source)
	}
	return byHost, nil
}

// confirmVouchCandidate re-fetches each candidate source URL in turn and
// returns the first one that still links back to source at domain
// granularity.
func (e *Engine) confirmVouchCandidate(ctx context.Context, candidates []string, source string) string {
	for _, candidate := range candidates {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate, nil)
		if err != nil {
			continue
		}
		resp, err := e.client.Do(req)
		if err != nil {
			continue
		}
		linksBack := LinksBack(resp, source, true)
		resp.Body.Close()
		if linksBack {
			return candidate
		}
	}
	return ""
}

// fetchLinks fetches page and splits its outgoing links into those on
// host (to keep crawling) and those off it (candidates for a vouch).
func (e *Engine) fetchLinks(ctx context.Context, page, host string) (internal, external []string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, page, nil)
	if err != nil {
		return nil, nil
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil
	}

	base, err := url.Parse(page)
	if err != nil {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, nil
	}

	for _, raw := range extractHrefs(body) {
		ref, err := url.Parse(raw)
		if err != nil {
			continue
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			continue
		}
		resolved.Fragment = ""
		if resolved.Hostname() == host {
			internal = append(internal, resolved.String())
		} else {
			external = append(external, resolved.String())
		}
	}
	return internal, external
}

func extractHrefs(body []byte) []string {
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	var hrefs []string
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return hrefs
		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			if token.Data != "a" {
				continue
			}
			for _, attr := range token.Attr {
				if attr.Key == "href" {
					hrefs = append(hrefs, attr.Val)
				}
			}
		}
	}
}
