package micropub

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robida/federation/internal/indieauth"
	"github.com/robida/federation/internal/store"
)

type stubMedia struct{}

func (stubMedia) Save(r io.Reader, filename string) (string, error) {
	return "https://example.com/media/" + filename, nil
}

func newTestEndpoint(t *testing.T) *Endpoint {
	t.Helper()
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := store.NewPool(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	posts := store.NewPostRepository(pool)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return New(posts, stubMedia{}, "https://example.com", logger)
}

func withScope(r *http.Request, scope string) *http.Request {
	tok := &store.Token{Scope: scope, Me: "https://example.com"}
	return r.WithContext(indieauth.WithToken(r.Context(), tok))
}

func TestCreateHandler_FormEncoded_RequiresScope(t *testing.T) {
	e := newTestEndpoint(t)
	form := url.Values{"h": {"entry"}, "content": {"hello"}}
	req := httptest.NewRequest(http.MethodPost, "/micropub", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	e.CreateHandler(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateHandler_FormEncoded_CreatesPost(t *testing.T) {
	e := newTestEndpoint(t)
	form := url.Values{"h": {"entry"}, "content": {"hello world"}, "category[]": {"go", "indieweb"}}
	req := httptest.NewRequest(http.MethodPost, "/micropub", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req = withScope(req, "create")

	rec := httptest.NewRecorder()
	e.CreateHandler(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Location"))
}

func TestCreateHandler_JSON_DefaultsType(t *testing.T) {
	e := newTestEndpoint(t)
	body := `{"properties":{"content":["hi"]}}`
	req := httptest.NewRequest(http.MethodPost, "/micropub", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = withScope(req, "create")

	rec := httptest.NewRecorder()
	e.CreateHandler(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateHandler_Multipart_SavesFileAndAttachesURL(t *testing.T) {
	e := newTestEndpoint(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("h", "entry"))
	require.NoError(t, writer.WriteField("content", "with a photo"))
	part, err := writer.CreateFormFile("photo", "cat.jpg")
	require.NoError(t, err)
	_, _ = part.Write([]byte("fake-image-bytes"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/micropub", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req = withScope(req, "create")

	rec := httptest.NewRecorder()
	e.CreateHandler(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestQueryHandler_Config(t *testing.T) {
	e := newTestEndpoint(t)
	req := httptest.NewRequest(http.MethodGet, "/micropub?q=config", nil)
	rec := httptest.NewRecorder()
	e.QueryHandler(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "media-endpoint")
}

func TestQueryHandler_UnsupportedQ(t *testing.T) {
	e := newTestEndpoint(t)
	req := httptest.NewRequest(http.MethodGet, "/micropub?q=nonsense", nil)
	rec := httptest.NewRecorder()
	e.QueryHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteHandler_RequiresScope(t *testing.T) {
	e := newTestEndpoint(t)
	req := httptest.NewRequest(http.MethodPost, "/micropub", nil)
	rec := httptest.NewRecorder()
	e.DeleteHandler(rec, req, "https://example.com/post/doesnotmatter")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteHandler_NotFound(t *testing.T) {
	e := newTestEndpoint(t)
	req := httptest.NewRequest(http.MethodPost, "/micropub", nil)
	req = withScope(req, "delete")
	rec := httptest.NewRecorder()
	e.DeleteHandler(rec, req, "https://example.com/post/"+"00000000-0000-0000-0000-000000000000")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
