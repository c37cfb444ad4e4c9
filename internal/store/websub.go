package store

import (
	"context"
	"fmt"
	"time"
)

// MaxLease is the hub policy bound on subscription lifetime (section 3:
// "WebSub expires_at is bounded above by a hub policy (design default:
// 365 days)").
const MaxLease = 365 * 24 * time.Hour

// Subscription is a WebSub callback's standing interest in a topic
// (section 3).
type Subscription struct {
	Callback       string
	Topic          string
	ExpiresAt      time.Time
	Secret         *string
	LastDeliveryAt time.Time
}

// SubscriptionRepository persists WebSub subscriptions (section 4.5).
type SubscriptionRepository struct{ pool *Pool }

func NewSubscriptionRepository(pool *Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool}
}

// Upsert creates or renews the (callback, topic) row after a validated
// subscribe (section 4.5 step 4).
func (r *SubscriptionRepository) Upsert(ctx context.Context, callback, topic string, expiresAt time.Time, secret *string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO websub_subscriptions (callback, topic, expires_at, secret, last_delivery_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (callback, topic) DO UPDATE SET
			expires_at = EXCLUDED.expires_at,
			secret = EXCLUDED.secret,
			last_delivery_at = now()`,
		callback, topic, expiresAt, secret)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// Delete removes the (callback, topic) row after a validated unsubscribe.
func (r *SubscriptionRepository) Delete(ctx context.Context, callback, topic string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM websub_subscriptions WHERE callback = $1 AND topic = $2`, callback, topic)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// ListActive returns unexpired subscriptions for topic (section 4.5
// publish step 1: "Selects active subscriptions whose topic is in the
// posted set and whose expires_at > now").
func (r *SubscriptionRepository) ListActive(ctx context.Context, topic string) ([]*Subscription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT callback, topic, expires_at, secret, last_delivery_at
		FROM websub_subscriptions WHERE topic = $1 AND expires_at > now()`, topic)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(&s.Callback, &s.Topic, &s.ExpiresAt, &s.Secret, &s.LastDeliveryAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// MarkDelivered sets last_delivery_at to the fanout task's start time.
// SPEC_FULL.md's preserved open question: this is start time, not end
// time, which can under-report the true delivery gap on a slow fanout —
// callers must pass the task's own start timestamp, not time.Now() at
// the call site, to get this right.
func (r *SubscriptionRepository) MarkDelivered(ctx context.Context, callback, topic string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE websub_subscriptions SET last_delivery_at = $3
		WHERE callback = $1 AND topic = $2`, callback, topic, at)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// DeleteExpired removes subscriptions whose lease has passed. Used by the
// supplemental lease sweeper (section 4.5 supplemental); observationally
// a no-op since ListActive already excludes expired rows, but it keeps
// the table from growing without bound.
func (r *SubscriptionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM websub_subscriptions WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired subscriptions: %w", err)
	}
	return tag.RowsAffected(), nil
}
