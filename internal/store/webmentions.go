package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/robida/federation/internal/mf2"
)

// Webmention status values, per SPEC_FULL.md section 3.
const (
	StatusReceived          = "received"
	StatusProcessing        = "processing"
	StatusSuccess           = "success"
	StatusFailure           = "failure"
	StatusPendingModeration = "pending_moderation"
	StatusNoEndpoint        = "no_endpoint"
)

// Webmention is the shared shape of an Incoming or Outgoing Webmention row.
type Webmention struct {
	UUID           uuid.UUID
	Source         string
	Target         string
	Vouch          *string
	Status         string
	Message        string
	Content        *mf2.Object
	CreatedAt      time.Time
	LastModifiedAt time.Time
}

const webmentionColumns = "uuid, source, target, vouch, status, message, content, created_at, last_modified_at"

func scanWebmention(row pgx.Row) (*Webmention, error) {
	var w Webmention
	var content *mf2.Object
	err := row.Scan(&w.UUID, &w.Source, &w.Target, &w.Vouch, &w.Status, &w.Message, &content, &w.CreatedAt, &w.LastModifiedAt)
	if err != nil {
		if isNoRowsError(err) {
			return nil, ErrWebmentionNotFound
		}
		return nil, fmt.Errorf("scan webmention: %w", err)
	}
	w.Content = content
	return &w, nil
}

// IncomingWebmentionRepository persists the receive-side workflow's status
// transitions (section 4.4.1), each one a durable boundary the background
// validation task commits before attempting the next step.
type IncomingWebmentionRepository struct{ pool *Pool }

func NewIncomingWebmentionRepository(pool *Pool) *IncomingWebmentionRepository {
	return &IncomingWebmentionRepository{pool: pool}
}

// Receive inserts the webmention with status "received", or on conflict
// with an existing (source, target) row updates vouch/status/message and
// bumps last_modified_at, per section 4.4.1 step 3.
func (r *IncomingWebmentionRepository) Receive(ctx context.Context, source, target string, vouch *string) (*Webmention, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO incoming_webmentions (uuid, source, target, vouch, status, message, created_at, last_modified_at)
		VALUES (gen_random_uuid(), $1, $2, $3, '`+StatusReceived+`', '', now(), now())
		ON CONFLICT (source, target) DO UPDATE SET
			vouch = EXCLUDED.vouch,
			status = '`+StatusReceived+`',
			message = '',
			last_modified_at = now()
		RETURNING `+webmentionColumns, source, target, vouch)
	return scanWebmention(row)
}

// Get returns the Incoming Webmention by uuid, or ErrWebmentionNotFound.
func (r *IncomingWebmentionRepository) Get(ctx context.Context, id uuid.UUID) (*Webmention, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+webmentionColumns+` FROM incoming_webmentions WHERE uuid = $1`, id)
	return scanWebmention(row)
}

// Transition persists the next (status, message, content?) tuple emitted
// by the validation workflow's state machine (section 4.4.1).
func (r *IncomingWebmentionRepository) Transition(ctx context.Context, id uuid.UUID, status, message string, content *mf2.Object) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE incoming_webmentions
		SET status = $2, message = $3, content = $4, last_modified_at = now()
		WHERE uuid = $1`, id, status, message, content)
	if err != nil {
		return fmt.Errorf("transition incoming webmention: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWebmentionNotFound
	}
	return nil
}

// ListSuccessful returns successful incoming webmentions ordered by
// recency, used by the send workflow's vouch-discovery crawl (section
// 4.4.2, "Find vouch") to build the host -> [source URLs] mapping.
func (r *IncomingWebmentionRepository) ListSuccessful(ctx context.Context, limit int) ([]*Webmention, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+webmentionColumns+` FROM incoming_webmentions
		WHERE status = '`+StatusSuccess+`'
		ORDER BY last_modified_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list successful incoming webmentions: %w", err)
	}
	defer rows.Close()

	var out []*Webmention
	for rows.Next() {
		w, err := scanWebmention(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// OutgoingWebmentionRepository persists the send-side delivery state
// machine (section 4.4.2).
type OutgoingWebmentionRepository struct{ pool *Pool }

func NewOutgoingWebmentionRepository(pool *Pool) *OutgoingWebmentionRepository {
	return &OutgoingWebmentionRepository{pool: pool}
}

// Queue upserts an Outgoing Webmention keyed on (source, target), with
// status "processing" for a fresh row, or status/message reset for a
// retriggered one (section 4.4.2 "For each target, queue...").
func (r *OutgoingWebmentionRepository) Queue(ctx context.Context, source, target string) (*Webmention, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO outgoing_webmentions (uuid, source, target, status, message, created_at, last_modified_at)
		VALUES (gen_random_uuid(), $1, $2, '`+StatusProcessing+`', '', now(), now())
		ON CONFLICT (source, target) DO UPDATE SET
			status = '`+StatusProcessing+`',
			message = '',
			last_modified_at = now()
		RETURNING `+webmentionColumns, source, target)
	return scanWebmention(row)
}

// Transition persists a delivery-state-machine transition, optionally
// recording or clearing the vouch that was used (section 4.4.2: "the
// vouch that worked ... is recorded"; "on a terminal failure following a
// vouch attempt, the vouch is cleared").
func (r *OutgoingWebmentionRepository) Transition(ctx context.Context, id uuid.UUID, status, message string, vouch *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE outgoing_webmentions
		SET status = $2, message = $3, vouch = $4, last_modified_at = now()
		WHERE uuid = $1`, id, status, message, vouch)
	if err != nil {
		return fmt.Errorf("transition outgoing webmention: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWebmentionNotFound
	}
	return nil
}

// ListStale returns Outgoing Webmention rows stuck in "processing" past
// olderThan, for the supplemental send sweeper (section 4.4.3 supplemental)
// to restart after a process restart lost their in-flight HTTP attempt.
func (r *OutgoingWebmentionRepository) ListStale(ctx context.Context, olderThan time.Duration) ([]*Webmention, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+webmentionColumns+` FROM outgoing_webmentions
		WHERE status = '`+StatusProcessing+`' AND last_modified_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("list stale outgoing webmentions: %w", err)
	}
	defer rows.Close()

	var out []*Webmention
	for rows.Next() {
		w, err := scanWebmention(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
