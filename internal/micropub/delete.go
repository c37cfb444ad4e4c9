package micropub

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/robida/federation/internal/store"
)

// DeleteHandler implements the delete action: requires the delete scope,
// 404 if not found, 204 on success (section 4.6 "Delete/Undelete").
func (e *Endpoint) DeleteHandler(w http.ResponseWriter, r *http.Request, rawURL string) {
	e.setDeleted(w, r, rawURL, "delete", e.posts.Delete)
}

// UndeleteHandler implements the undelete action.
func (e *Endpoint) UndeleteHandler(w http.ResponseWriter, r *http.Request, rawURL string) {
	e.setDeleted(w, r, rawURL, "undelete", e.posts.Undelete)
}

func (e *Endpoint) setDeleted(w http.ResponseWriter, r *http.Request, rawURL, scope string, op func(ctx context.Context, id uuid.UUID) error) {
	if !requireScope(r.Context(), scope) {
		writeMicropubError(w, http.StatusForbidden, "insufficient_scope", scope+" scope required")
		return
	}
	id, err := lastPathSegmentUUID(rawURL)
	if err != nil {
		writeMicropubError(w, http.StatusBadRequest, "invalid_request", "url does not name a known post")
		return
	}
	if err := op(r.Context(), id); err != nil {
		if err == store.ErrPostNotFound {
			writeMicropubError(w, http.StatusNotFound, "invalid_request", "no such post")
			return
		}
		writeMicropubError(w, http.StatusInternalServerError, "invalid_request", "could not update post")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
