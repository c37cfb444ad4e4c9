package webmention

import (
	"context"
	"net/http"
	"net/url"

	"github.com/robida/federation/internal/store"
)

// IsVouchValid reports whether vouch satisfies the validity rule in
// section 4.4.1: its host must be a Trusted Domain, and fetching it must
// link back to source at domain granularity.
func IsVouchValid(ctx context.Context, client *http.Client, trusted *store.TrustedDomainRepository, vouch, source string) bool {
	if vouch == "" {
		return false
	}
	u, err := url.Parse(vouch)
	if err != nil || u.Hostname() == "" {
		return false
	}
	ok, err := trusted.IsTrusted(ctx, u.Hostname())
	if err != nil || !ok {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vouch, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return LinksBack(resp, source, true)
}
