package micropub

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/robida/federation/internal/mf2"
)

const maxCreateBody = 16 << 20

// CreateHandler implements the Micropub create request (POST without
// action), accepting JSON or form encoding with optional file parts
// (section 4.6 "Create").
func (e *Endpoint) CreateHandler(w http.ResponseWriter, r *http.Request) {
	if !requireScope(r.Context(), "create") {
		writeMicropubError(w, http.StatusForbidden, "insufficient_scope", "create scope required")
		return
	}

	contentType := r.Header.Get("Content-Type")
	var entry *mf2.Object
	var err error

	switch {
	case strings.HasPrefix(contentType, "application/json"):
		entry, err = e.parseJSONEntry(r)
	case strings.HasPrefix(contentType, "multipart/form-data"):
		entry, err = e.parseMultipartEntry(r)
	default:
		entry, err = e.parseFormEntry(r)
	}
	if err != nil {
		writeMicropubError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if len(entry.Type) == 0 {
		entry.Type = []string{"h-entry"}
	}

	post, err := e.posts.Upsert(r.Context(), entry, "")
	if err != nil {
		writeMicropubError(w, http.StatusInternalServerError, "invalid_request", "could not create post")
		return
	}

	w.Header().Set("Location", post.Location)
	w.WriteHeader(http.StatusCreated)
}

func (e *Endpoint) parseJSONEntry(r *http.Request) (*mf2.Object, error) {
	var entry mf2.Object
	dec := json.NewDecoder(io.LimitReader(r.Body, maxCreateBody))
	if err := dec.Decode(&entry); err != nil {
		return nil, fmt.Errorf("decode json body: %w", err)
	}
	if len(entry.Type) > 0 && (len(entry.Type) != 1 || entry.Type[0] != "h-entry") {
		return nil, fmt.Errorf("unsupported type %v", entry.Type)
	}
	if entry.Properties == nil {
		entry.Properties = map[string][]any{}
	}
	return &entry, nil
}

func (e *Endpoint) parseFormEntry(r *http.Request) (*mf2.Object, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parse form: %w", err)
	}
	if h := r.PostForm.Get("h"); h != "" && h != "entry" {
		return nil, fmt.Errorf("unsupported h=%s", h)
	}
	entry := mf2.New("h-entry")
	populateFromForm(entry, r.PostForm)
	return entry, nil
}

func (e *Endpoint) parseMultipartEntry(r *http.Request) (*mf2.Object, error) {
	if err := r.ParseMultipartForm(maxCreateBody); err != nil {
		return nil, fmt.Errorf("parse multipart form: %w", err)
	}
	if h := r.PostForm.Get("h"); h != "" && h != "entry" {
		return nil, fmt.Errorf("unsupported h=%s", h)
	}
	entry := mf2.New("h-entry")
	populateFromForm(entry, r.PostForm)

	if r.MultipartForm != nil {
		for field, headers := range r.MultipartForm.File {
			key := strings.TrimSuffix(field, "[]")
			for _, header := range headers {
				url, err := e.saveMediaPart(header)
				if err != nil {
					return nil, err
				}
				entry.Add(key, url)
			}
		}
	}
	return entry, nil
}

func (e *Endpoint) saveMediaPart(header *multipart.FileHeader) (string, error) {
	if e.media == nil {
		return "", fmt.Errorf("media store not configured")
	}
	f, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("open file part: %w", err)
	}
	defer f.Close()

	filename := newMediaID() + "-" + header.Filename
	url, err := e.media.Save(f, filename)
	if err != nil {
		return "", fmt.Errorf("save media: %w", err)
	}
	return url, nil
}

// populateFromForm fills entry's properties from a parsed form body: keys
// ending in "[]" are multi-valued, others single-valued (section 4.6).
func populateFromForm(entry *mf2.Object, form map[string][]string) {
	for key, values := range form {
		if key == "h" || key == "access_token" {
			continue
		}
		if strings.HasSuffix(key, "[]") {
			prop := strings.TrimSuffix(key, "[]")
			for _, v := range values {
				entry.Add(prop, v)
			}
			continue
		}
		if len(values) > 0 {
			entry.Set(key, values[0])
		}
	}
}
