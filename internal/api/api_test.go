package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sm-moshi/aimemory-sub003/internal/bankservice"
	"github.com/sm-moshi/aimemory-sub003/internal/cache"
	"github.com/sm-moshi/aimemory-sub003/internal/index"
	"github.com/sm-moshi/aimemory-sub003/internal/testutil"
)

// testEnv sets up a temp bank, index manager, service, and router for testing.
// authToken == "" means disabled mode; a non-empty token enables token mode.
func testEnv(t *testing.T, authToken string) (*bankservice.Service, http.Handler) {
	t.Helper()
	svc, router := testEnvFull(t, authToken != "", authToken, nil)
	return svc, router
}

func testEnvFull(t *testing.T, authEnabled bool, token string, sseHandler http.Handler) (*bankservice.Service, http.Handler) {
	t.Helper()

	_, ops, reader := testutil.TestBank(t)
	idx := index.NewManager(ops, reader, nil, testutil.Logger(), index.Config{})
	t.Cleanup(idx.Close)

	svc := bankservice.NewService(ops, reader, cache.New(64), idx, testutil.Logger())
	if err := svc.InitializeStorage(context.Background()); err != nil {
		t.Fatalf("InitializeStorage: %v", err)
	}
	return svc, NewRouter(svc, authEnabled, token, sseHandler)
}

func putDocument(t *testing.T, router http.Handler, path, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"content": content})
	req := httptest.NewRequest(http.MethodPut, "/documents/"+path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPutAndGetDocument(t *testing.T) {
	_, router := testEnv(t, "")

	w := putDocument(t, router, "core/brief.md", testutil.Doc("Brief", "core", []string{"x"}, "# Brief\nbody\n"))
	if w.Code != http.StatusOK {
		t.Fatalf("put status = %d, body = %s", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/documents/core/brief.md", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var doc DocumentResponse
	_ = json.Unmarshal(w.Body.Bytes(), &doc)
	if doc.Path != "core/brief.md" {
		t.Errorf("path = %q", doc.Path)
	}
	if doc.Metadata == nil || doc.Metadata.Title != "Brief" {
		t.Errorf("metadata = %+v", doc.Metadata)
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	_, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/documents/nope.md", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing document = %d, want 404", w.Code)
	}
}

func TestPutDocument_TraversalRejected(t *testing.T) {
	_, router := testEnv(t, "")

	w := putDocument(t, router, "..%2Fescape.md", "content")
	if w.Code != http.StatusBadRequest {
		t.Errorf("traversal put = %d, want 400", w.Code)
	}
}

func TestDeleteDocument(t *testing.T) {
	_, router := testEnv(t, "")

	putDocument(t, router, "bye.md", "# gone\n")

	req := httptest.NewRequest(http.MethodDelete, "/documents/bye.md", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", w.Code)
	}

	// GET should now 404.
	req = httptest.NewRequest(http.MethodGet, "/documents/bye.md", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
}

func TestListDocuments(t *testing.T) {
	_, router := testEnv(t, "")

	for _, name := range []string{"a.md", "b.md"} {
		putDocument(t, router, name, "# "+name+"\n")
	}

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var resp DocumentListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 2 || len(resp.Documents) != 2 {
		t.Errorf("total = %d, documents = %d, want 2", resp.Total, len(resp.Documents))
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	putDocument(t, router, "find.md", testutil.Doc("Uniquetoken", "notes", nil, "here\n"))
	putDocument(t, router, "other.md", testutil.Doc("Other", "notes", nil, "there\n"))

	req := httptest.NewRequest(http.MethodGet, "/search?q=uniquetoken", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d, body = %s", w.Code, w.Body.String())
	}
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 1 || len(resp.Results) != 1 {
		t.Errorf("search total = %d, results = %d, want 1", resp.Total, len(resp.Results))
	}
}

func TestSearchEndpoint_FilterAndPagination(t *testing.T) {
	_, router := testEnv(t, "")

	putDocument(t, router, "a.md", testutil.Doc("A", "notes", []string{"keep"}, "x\n"))
	putDocument(t, router, "b.md", testutil.Doc("B", "notes", []string{"keep"}, "x\n"))
	putDocument(t, router, "c.md", testutil.Doc("C", "core", []string{"drop"}, "x\n"))

	req := httptest.NewRequest(http.MethodGet, "/search?type=notes&tags=keep&sort=path&order=asc&limit=1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d", w.Code)
	}
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}
	if len(resp.Results) != 1 || resp.Results[0].RelativePath != "a.md" {
		t.Errorf("page = %+v", resp.Results)
	}
	if !resp.HasMore {
		t.Error("expected hasMore")
	}
}

func TestSearchEndpoint_BadValidationStatus(t *testing.T) {
	_, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/search?validation=bogus", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad validation filter = %d, want 400", w.Code)
	}
}

func TestRebuildEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	putDocument(t, router, "doc.md", "# doc\n")

	req := httptest.NewRequest(http.MethodPost, "/rebuild?force=true", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("rebuild = %d, body = %s", w.Code, w.Body.String())
	}
	var resp RebuildResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.FilesIndexed != 1 {
		t.Errorf("filesIndexed = %d, want 1", resp.FilesIndexed)
	}
}

func TestStatsEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	putDocument(t, router, "doc.md", testutil.Doc("Doc", "notes", []string{"t"}, "x\n"))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("stats = %d", w.Code)
	}
	var resp StatsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Index.TotalFiles != 1 {
		t.Errorf("totalFiles = %d, want 1", resp.Index.TotalFiles)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("health = %d, body = %s", w.Code, w.Body.String())
	}
	var resp HealthResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Healthy {
		t.Errorf("report = %+v", resp)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	body, _ := json.Marshal(map[string]string{"content": "test\n"})
	req := httptest.NewRequest(http.MethodPut, "/documents/auth.md", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed put = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

// sseStub writes headers and blocks until the request context is done.
func sseStub() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvFull(t, true, "secret", sseStub())

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_AuthDisabled(t *testing.T) {
	_, router := testEnvFull(t, false, "", sseStub())

	// SSE handler writes 200 and blocks, so cancel after a short time.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE should not require auth when disabled")
	}
}
