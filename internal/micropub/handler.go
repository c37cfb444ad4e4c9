package micropub

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// peekJSONBody reads r.Body fully and rewinds it so a downstream handler
// (e.g. CreateHandler's own JSON decode) can read it again.
func peekJSONBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCreateBody))
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	return raw, nil
}

// PostHandler implements POST to the Micropub endpoint: dispatches by
// action (form field or JSON field), defaulting to create when absent
// (section 4.6).
func (e *Endpoint) PostHandler(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "application/json") {
		e.postJSON(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		writeMicropubError(w, http.StatusBadRequest, "invalid_request", "invalid form encoding")
		return
	}
	switch r.PostForm.Get("action") {
	case "", "create":
		e.CreateHandler(w, r)
	case "delete":
		e.DeleteHandler(w, r, r.PostForm.Get("url"))
	case "undelete":
		e.UndeleteHandler(w, r, r.PostForm.Get("url"))
	case "update":
		writeMicropubError(w, http.StatusBadRequest, "invalid_request", "update is JSON-only")
	default:
		writeMicropubError(w, http.StatusBadRequest, "invalid_request", "unsupported action")
	}
}

func (e *Endpoint) postJSON(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
		URL    string `json:"url"`
	}
	raw, err := peekJSONBody(r)
	if err != nil {
		writeMicropubError(w, http.StatusBadRequest, "invalid_request", "invalid json body")
		return
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		writeMicropubError(w, http.StatusBadRequest, "invalid_request", "invalid json body")
		return
	}

	switch body.Action {
	case "":
		e.CreateHandler(w, r)
	case "delete":
		e.DeleteHandler(w, r, body.URL)
	case "undelete":
		e.UndeleteHandler(w, r, body.URL)
	case "update":
		var req updateRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			writeMicropubError(w, http.StatusBadRequest, "invalid_request", "invalid update body")
			return
		}
		e.UpdateHandler(w, r, req)
	default:
		writeMicropubError(w, http.StatusBadRequest, "invalid_request", "unsupported action")
	}
}
