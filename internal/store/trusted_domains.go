package store

import (
	"context"
	"fmt"
)

// TrustedDomainRepository tracks hosts the hub accepts webmentions from
// without moderation, or uses to bootstrap vouch validation (section 3).
type TrustedDomainRepository struct{ pool *Pool }

func NewTrustedDomainRepository(pool *Pool) *TrustedDomainRepository {
	return &TrustedDomainRepository{pool: pool}
}

// Upsert inserts domain if absent. Called automatically whenever an
// outgoing webmention is queued to a host (section 4.4.2: "this is how
// outbound contacts become vouch-eligible").
func (r *TrustedDomainRepository) Upsert(ctx context.Context, domain string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO trusted_domains (domain) VALUES ($1)
		ON CONFLICT (domain) DO NOTHING`, domain)
	if err != nil {
		return fmt.Errorf("upsert trusted domain: %w", err)
	}
	return nil
}

// IsTrusted reports whether domain has been inserted as a Trusted Domain.
func (r *TrustedDomainRepository) IsTrusted(ctx context.Context, domain string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM trusted_domains WHERE domain = $1)`, domain).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check trusted domain: %w", err)
	}
	return exists, nil
}
