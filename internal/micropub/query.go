package micropub

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/robida/federation/internal/store"
)

// QueryHandler implements the Micropub query endpoint (GET), dispatched
// by q (section 4.6: "Query endpoint (GET) dispatch by q").
func (e *Endpoint) QueryHandler(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("q") {
	case "config":
		e.writeConfig(w)
	case "syndicate-to":
		writeJSON(w, http.StatusOK, map[string]any{"syndicate-to": []any{}})
	case "source":
		e.querySource(w, r)
	default:
		writeMicropubError(w, http.StatusBadRequest, "invalid_request", "unsupported q parameter")
	}
}

func (e *Endpoint) writeConfig(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"media-endpoint": strings.TrimRight(e.baseURL, "/") + "/media",
		"syndicate-to":   []any{},
	})
}

// querySource implements q=source: the uuid is the last path segment of
// the url query parameter; properties[] filters the returned document to
// that subset.
func (e *Endpoint) querySource(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	id, err := lastPathSegmentUUID(rawURL)
	if err != nil {
		writeMicropubError(w, http.StatusBadRequest, "invalid_request", "url does not name a known post")
		return
	}

	post, err := e.posts.Get(r.Context(), id)
	if err != nil {
		if err == store.ErrPostNotFound {
			writeMicropubError(w, http.StatusNotFound, "invalid_request", "no such post")
			return
		}
		writeMicropubError(w, http.StatusInternalServerError, "invalid_request", "could not load post")
		return
	}

	properties := r.URL.Query()["properties[]"]
	if len(properties) == 0 {
		writeJSON(w, http.StatusOK, post.Content)
		return
	}

	filtered := map[string]any{"type": post.Content.Type, "properties": map[string]any{}}
	props := filtered["properties"].(map[string]any)
	for _, key := range properties {
		if v, ok := post.Content.Properties[key]; ok {
			props[key] = v
		}
	}
	writeJSON(w, http.StatusOK, filtered)
}

func lastPathSegmentUUID(rawURL string) (uuid.UUID, error) {
	segments := strings.Split(strings.TrimRight(rawURL, "/"), "/")
	last := segments[len(segments)-1]
	return uuid.Parse(last)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMicropubError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}{code, description})
}
