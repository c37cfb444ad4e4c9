package indieauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"willnorris.com/go/microformats"
)

// ClientInfo is what the authorization endpoint learns about client_id by
// dereferencing it (section 4.3: "extract an h-app/h-x-app card and the set
// of allowed redirect_uris").
type ClientInfo struct {
	ClientID     string
	Name         string
	Logo         string
	URL          string
	RedirectURIs []string
}

// FetchClientInfo GETs clientID and extracts its h-app/h-x-app card plus
// every redirect_uri advertised via the Link header or an HTML <link>/<a>
// element, per section 4.3.
func FetchClientInfo(ctx context.Context, client *http.Client, clientID string) (*ClientInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, clientID, nil)
	if err != nil {
		return nil, fmt.Errorf("indieauth: build client_id request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("indieauth: fetch client_id: %w", err)
	}
	defer resp.Body.Close()

	info := &ClientInfo{ClientID: clientID}
	info.RedirectURIs = append(info.RedirectURIs, parseLinkHeaderRedirectURIs(resp.Header, clientID)...)

	base, err := url.Parse(clientID)
	if err != nil {
		return info, nil
	}

	data := microformats.Parse(resp.Body, base)
	if data == nil {
		return info, nil
	}

	for _, rel := range data.Rels["redirect_uri"] {
		info.RedirectURIs = append(info.RedirectURIs, rel)
	}

	for _, item := range data.Items {
		if hasType(item.Type, "h-app") || hasType(item.Type, "h-x-app") {
			info.Name = firstString(item.Properties["name"])
			info.Logo = firstString(item.Properties["logo"])
			info.URL = firstString(item.Properties["url"])
			break
		}
	}

	return info, nil
}

// AllowsRedirect reports whether redirectURI is permitted for this client:
// it must share scheme/host/port with client_id, or appear in the set of
// discovered redirect_uris (section 4.3).
func (c *ClientInfo) AllowsRedirect(redirectURI string) bool {
	if sameOrigin(c.ClientID, redirectURI) {
		return true
	}
	for _, allowed := range c.RedirectURIs {
		if allowed == redirectURI {
			return true
		}
	}
	return false
}

func sameOrigin(a, b string) bool {
	ua, err1 := url.Parse(a)
	ub, err2 := url.Parse(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return ua.Scheme == ub.Scheme && ua.Host == ub.Host
}

func hasType(types []string, want string) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

func firstString(values []interface{}) string {
	if len(values) == 0 {
		return ""
	}
	s, _ := values[0].(string)
	return s
}

var linkHeaderRedirectURI = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="?redirect_uri"?`)

// parseLinkHeaderRedirectURIs extracts every rel="redirect_uri" target from
// the response's Link headers, resolved against base.
func parseLinkHeaderRedirectURIs(header http.Header, base string) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}
	var out []string
	for _, line := range header.Values("Link") {
		for _, part := range strings.Split(line, ",") {
			m := linkHeaderRedirectURI.FindStringSubmatch(part)
			if m == nil {
				continue
			}
			ref, err := url.Parse(strings.TrimSpace(m[1]))
			if err != nil {
				continue
			}
			out = append(out, baseURL.ResolveReference(ref).String())
		}
	}
	return out
}
