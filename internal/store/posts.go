package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/robida/federation/internal/mf2"
)

const postColumns = "uuid, author, location, content, read, deleted, created_at, last_modified_at"

// EventPublisher is the narrow collaborator PostRepository notifies after
// every mutation (section 4.2, 4.6: "every mutation passes through Post
// Store upsert/delete, which publishes the corresponding Event"). The
// events package depends on store for the Post type, so PostRepository
// depends only on this interface rather than importing events directly,
// which would cycle. *events.Bus satisfies it as-is.
type EventPublisher interface {
	Publish(event any)
}

// PostRepository is the Post Store's CRUD surface, per SPEC_FULL.md section 4.1.
type PostRepository struct {
	pool   *Pool
	events EventPublisher
}

// NewPostRepository builds a PostRepository over the shared pool. Event
// publishing is off until SetEvents is called.
func NewPostRepository(pool *Pool) *PostRepository {
	return &PostRepository{pool: pool}
}

// SetEvents wires pub as the repository's EventPublisher. Mutations before
// this call publish nothing; tests that don't care about the Event Bus can
// leave it unset.
func (r *PostRepository) SetEvents(pub EventPublisher) {
	r.events = pub
}

func (r *PostRepository) publish(event any) {
	if r.events != nil {
		r.events.Publish(event)
	}
}

func scanPost(row pgx.Row) (*Post, error) {
	var p Post
	err := row.Scan(&p.UUID, &p.Author, &p.Location, &p.Content, &p.Read, &p.Deleted, &p.CreatedAt, &p.LastModifiedAt)
	if err != nil {
		if isNoRowsError(err) {
			return nil, ErrPostNotFound
		}
		if isInvalidUUIDError(err) {
			return nil, ErrPostNotFound
		}
		return nil, fmt.Errorf("scan post: %w", err)
	}
	return &p, nil
}

func derivePostTime(content *mf2.Object, key string, fallback time.Time) time.Time {
	v, ok := content.First(key).(string)
	if !ok || v == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return fallback
	}
	return t
}

func deriveAuthor(content *mf2.Object) string {
	if author, ok := content.First("author").(map[string]any); ok {
		if props, ok := author["properties"].(map[string]any); ok {
			if urls, ok := props["url"].([]any); ok && len(urls) > 0 {
				if s, ok := urls[0].(string); ok {
					return s
				}
			}
		}
	}
	if s, ok := content.First("author").(string); ok && s != "" {
		return s
	}
	return content.FirstString("url")
}

// Upsert derives uuid, created_at, last_modified_at, and author from
// content per SPEC_FULL.md section 4.1, inserts or updates the Post row
// and its index record in one transaction, clears deleted/read, and
// returns the resulting Post. location is the canonical public URL for
// owner-authored posts, or the remote source URL for synthesized entries.
func (r *PostRepository) Upsert(ctx context.Context, content *mf2.Object, location string) (*Post, error) {
	if !content.Valid() {
		return nil, fmt.Errorf("upsert: content is not a valid microformats-2 object")
	}

	id, ok := content.First("uid").(string)
	var postID uuid.UUID
	var err error
	if ok && id != "" {
		postID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("upsert: invalid uid %q: %w", id, err)
		}
	} else {
		postID = uuid.New()
		content.Set("uid", postID.String())
	}

	now := time.Now().UTC()
	createdAt := derivePostTime(content, "published", now)
	lastModified := derivePostTime(content, "updated", createdAt)
	author := deriveAuthor(content)
	if location == "" {
		location = content.FirstString("url")
	}

	var post, old *Post
	err = r.pool.WithTx(ctx, func(tx Tx) error {
		existing, getErr := scanPost(tx.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE uuid = $1`, postID))
		switch {
		case getErr == nil:
			old = existing
		case errors.Is(getErr, ErrPostNotFound):
			old = nil
		default:
			return getErr
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO posts (uuid, author, location, content, read, deleted, created_at, last_modified_at)
			VALUES ($1, $2, $3, $4, false, false, $5, $6)
			ON CONFLICT (uuid) DO UPDATE SET
				author = EXCLUDED.author,
				location = EXCLUDED.location,
				content = EXCLUDED.content,
				read = false,
				deleted = false,
				last_modified_at = EXCLUDED.last_modified_at
			RETURNING `+postColumns,
			postID, author, location, content, createdAt, lastModified)

		p, scanErr := scanPost(row)
		if scanErr != nil {
			return scanErr
		}
		post = p

		_, scanErr = tx.Exec(ctx, `
			INSERT INTO post_index (uuid, text) VALUES ($1, $2)
			ON CONFLICT (uuid) DO UPDATE SET text = EXCLUDED.text`,
			postID, indexableText(content))
		return scanErr
	})
	if err != nil {
		return nil, fmt.Errorf("upsert post: %w", err)
	}

	if old == nil {
		r.publish(EntryCreated{New: post})
	} else {
		r.publish(EntryUpdated{New: post, Old: old})
	}
	return post, nil
}

// indexableText derives opaque indexable text from content for the
// Document Index Record (section 3). The search index itself is an
// external collaborator (section 1); this just keeps it fed.
func indexableText(content *mf2.Object) string {
	var sb strings.Builder
	for _, key := range []string{"name", "content", "summary", "category"} {
		for _, v := range content.Properties[key] {
			switch val := v.(type) {
			case string:
				sb.WriteString(val)
				sb.WriteByte(' ')
			case map[string]any:
				if s, ok := val["value"].(string); ok {
					sb.WriteString(s)
					sb.WriteByte(' ')
				}
			}
		}
	}
	return sb.String()
}

// Get returns the Post identified by id, or ErrPostNotFound.
func (r *PostRepository) Get(ctx context.Context, id uuid.UUID) (*Post, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE uuid = $1`, id)
	return scanPost(row)
}

// GetByLocation returns the Post whose location equals loc, or ErrPostNotFound.
func (r *PostRepository) GetByLocation(ctx context.Context, loc string) (*Post, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE location = $1`, loc)
	return scanPost(row)
}

// GetWithReplyGraph returns the Post at id with its reply subtree
// materialized by transitively joining posts via successful webmentions
// whose target equals a previously-visited post's location. Traversal is
// breadth-first and visits each uuid at most once, so it terminates in
// O(n) even on a cyclic webmention graph.
func (r *PostRepository) GetWithReplyGraph(ctx context.Context, id uuid.UUID) (*Post, error) {
	root, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	visited := map[uuid.UUID]bool{root.UUID: true}
	queue := []*Post{root}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		rows, err := r.pool.Query(ctx, `
			SELECT `+prefixed("p", postColumns)+`
			FROM posts p
			WHERE p.location IN (
				SELECT source FROM incoming_webmentions WHERE target = $1 AND status = 'success'
				UNION
				SELECT target FROM outgoing_webmentions WHERE source = $1 AND status = 'success'
			)`, current.Location)
		if err != nil {
			return nil, fmt.Errorf("reply graph query: %w", err)
		}

		var children []*Post
		for rows.Next() {
			child, scanErr := scanPost(rows)
			if scanErr != nil {
				rows.Close()
				return nil, scanErr
			}
			if visited[child.UUID] {
				continue
			}
			visited[child.UUID] = true
			children = append(children, child)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("reply graph rows: %w", err)
		}

		if len(children) > 0 {
			childObjs := make([]*mf2.Object, len(children))
			for i, c := range children {
				obj := c.Content
				childObjs[i] = &obj
			}
			current.Content.Children = childObjs
			queue = append(queue, children...)
		}
	}

	return root, nil
}

func prefixed(alias, cols string) string {
	parts := strings.Split(cols, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

// Delete flips the deleted flag on and bumps last_modified_at.
func (r *PostRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.setDeleted(ctx, id, true)
}

// Undelete flips the deleted flag off and bumps last_modified_at.
func (r *PostRepository) Undelete(ctx context.Context, id uuid.UUID) error {
	return r.setDeleted(ctx, id, false)
}

func (r *PostRepository) setDeleted(ctx context.Context, id uuid.UUID, deleted bool) error {
	var old, new *Post
	err := r.pool.WithTx(ctx, func(tx Tx) error {
		existing, getErr := scanPost(tx.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE uuid = $1`, id))
		if getErr != nil {
			return getErr
		}
		old = existing

		row := tx.QueryRow(ctx, `
			UPDATE posts SET deleted = $2, last_modified_at = now() WHERE uuid = $1
			RETURNING `+postColumns, id, deleted)
		updated, scanErr := scanPost(row)
		if scanErr != nil {
			return scanErr
		}
		new = updated
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPostNotFound) {
			return ErrPostNotFound
		}
		return fmt.Errorf("set deleted: %w", err)
	}

	if deleted {
		r.publish(EntryDeleted{Old: old})
	} else {
		r.publish(EntryUpdated{New: new, Old: old})
	}
	return nil
}

// List returns recent posts for author, most-recently-modified first.
func (r *PostRepository) List(ctx context.Context, opts PostListOptions) ([]*Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE author = $1 AND deleted = $2`
	args := []any{opts.Author, opts.Deleted}
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND last_modified_at > $%d", len(args))
	}
	query += " ORDER BY last_modified_at DESC"
	query = applyPage(query, &args, opts.Offset, opts.Limit)

	return r.queryPosts(ctx, query, args...)
}

// ListByCategory filters posts whose content.properties.category array
// contains category. When protected, non-public/non-owner rows are
// excluded (the binary owner-vs-public access model from section 1).
func (r *PostRepository) ListByCategory(ctx context.Context, category string, opts PostListOptions) ([]*Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts
		WHERE deleted = false AND content->'properties'->'category' @> to_jsonb($1::text)`
	args := []any{category}
	if opts.Protected {
		query += ` AND author = $2`
		args = append(args, opts.Author)
	}
	query += " ORDER BY last_modified_at DESC"
	query = applyPage(query, &args, opts.Offset, opts.Limit)

	return r.queryPosts(ctx, query, args...)
}

// Search performs a full-text match over the index record. On a parse
// error from the index engine it re-runs with non-word characters
// collapsed to spaces, matching the original's documented fallback.
func (r *PostRepository) Search(ctx context.Context, needle string, opts PostListOptions) ([]*Post, error) {
	posts, err := r.search(ctx, needle, opts)
	if err != nil && isTextSearchParseError(err) {
		return r.search(ctx, collapseNonWord(needle), opts)
	}
	return posts, err
}

func (r *PostRepository) search(ctx context.Context, needle string, opts PostListOptions) ([]*Post, error) {
	query := `SELECT ` + prefixed("p", postColumns) + `
		FROM posts p JOIN post_index i ON i.uuid = p.uuid
		WHERE p.deleted = false AND to_tsvector('english', i.text) @@ plainto_tsquery('english', $1)`
	args := []any{needle}
	if opts.Protected {
		query += ` AND p.author = $2`
		args = append(args, opts.Author)
	}
	query += " ORDER BY p.last_modified_at DESC"
	query = applyPage(query, &args, opts.Offset, opts.Limit)

	return r.queryPosts(ctx, query, args...)
}

func (r *PostRepository) queryPosts(ctx context.Context, query string, args ...any) ([]*Post, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func applyPage(query string, args *[]any, offset, limit int) string {
	if limit <= 0 {
		limit = 20
	}
	*args = append(*args, limit, offset)
	return query + fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(*args)-1, len(*args))
}

func collapseNonWord(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}

func isTextSearchParseError(err error) bool {
	return strings.Contains(err.Error(), "syntax error in tsquery")
}
