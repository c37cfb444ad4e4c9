package webmention

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/robida/federation/internal/store"
)

// ReceiveHandler implements POST /webmention (section 4.4.1, section 6
// wire contract): form-encoded source, target, vouch?.
func (e *Engine) ReceiveHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeWebmentionError(w, http.StatusBadRequest, "invalid form encoding")
		return
	}
	source := r.PostFormValue("source")
	target := r.PostFormValue("target")
	if source == "" || target == "" {
		writeWebmentionError(w, http.StatusBadRequest, "source and target are required")
		return
	}
	var vouch *string
	if v := r.PostFormValue("vouch"); v != "" {
		vouch = &v
	}

	wm, err := e.Receive(r.Context(), source, target, vouch)
	switch {
	case errors.Is(err, ErrInvalidScheme), errors.Is(err, ErrInvalidTarget):
		writeWebmentionError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ErrVouchRequired):
		writeWebmentionError(w, 449, "vouch required")
		return
	case err != nil:
		writeWebmentionError(w, http.StatusInternalServerError, "could not process webmention")
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/webmention/%s", wm.UUID))
	w.WriteHeader(http.StatusCreated)
}

// StatusHandler implements GET /webmention/{uuid}: the status endpoint
// named in the Location header of a successful receive.
func (e *Engine) StatusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		writeWebmentionError(w, http.StatusBadRequest, "malformed uuid")
		return
	}
	wm, err := e.incoming.Get(r.Context(), id)
	if errors.Is(err, store.ErrWebmentionNotFound) {
		writeWebmentionError(w, http.StatusNotFound, "no such webmention")
		return
	}
	if err != nil {
		writeWebmentionError(w, http.StatusInternalServerError, "could not load webmention status")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Status         string `json:"status"`
		Message        string `json:"message"`
		LastModifiedAt string `json:"last_modified_at"`
	}{wm.Status, wm.Message, wm.LastModifiedAt.Format("2006-01-02T15:04:05Z07:00")})
}

func writeWebmentionError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{message})
}
