package micropub

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/robida/federation/internal/store"
)

// updateRequest is the body shape of an update action (section 4.6
// "Update"): {url, replace?, add?, delete?}.
type updateRequest struct {
	URL     string           `json:"url"`
	Replace map[string][]any `json:"replace"`
	Add     map[string][]any `json:"add"`
	Delete  map[string][]any `json:"delete"`
}

// UpdateHandler implements the Micropub update action: requires the
// update scope and applies replace/add/delete against the named post's
// properties.
func (e *Endpoint) UpdateHandler(w http.ResponseWriter, r *http.Request, req updateRequest) {
	if !requireScope(r.Context(), "update") {
		writeMicropubError(w, http.StatusForbidden, "insufficient_scope", "update scope required")
		return
	}

	id, err := lastPathSegmentUUID(req.URL)
	if err != nil {
		writeMicropubError(w, http.StatusBadRequest, "invalid_request", "url does not name a known post")
		return
	}
	post, err := e.posts.Get(r.Context(), id)
	if err == store.ErrPostNotFound {
		writeMicropubError(w, http.StatusNotFound, "invalid_request", "no such post")
		return
	}
	if err != nil {
		writeMicropubError(w, http.StatusInternalServerError, "invalid_request", "could not load post")
		return
	}

	for key, values := range req.Replace {
		if len(values) == 1 {
			post.Content.Set(key, values[0])
		} else if len(values) > 0 {
			post.Content.Properties[key] = values
		}
	}
	for key, values := range req.Add {
		for _, v := range values {
			post.Content.Add(key, v)
		}
	}
	for key, values := range req.Delete {
		if len(values) == 0 {
			delete(post.Content.Properties, key)
			continue
		}
		post.Content.Remove(key, values)
	}
	post.Content.Set("updated", time.Now().UTC().Format(time.RFC3339))

	updated, err := e.posts.Upsert(r.Context(), &post.Content, post.Location)
	if err != nil {
		writeMicropubError(w, http.StatusInternalServerError, "invalid_request", "could not update post")
		return
	}

	w.Header().Set("Location", updated.Location)
	w.WriteHeader(http.StatusNoContent)
}

func decodeUpdateRequest(r *http.Request) (updateRequest, error) {
	var req updateRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	return req, err
}
