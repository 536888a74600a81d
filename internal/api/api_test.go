package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/pageservice"
	"github.com/starford/ansuz/internal/storage"
)

// testEnv sets up a temp notebook, SQLite cache, service, and router.
// authToken == "" means auth is disabled.
func testEnv(t *testing.T, authToken string) (*pageservice.Service, http.Handler) {
	t.Helper()
	svc, router := testEnvWithSSE(t, authToken != "", authToken, nil)
	return svc, router
}

func testEnvWithSSE(t *testing.T, authEnabled bool, token string, sseHandler http.Handler) (*pageservice.Service, http.Handler) {
	t.Helper()

	notebook := t.TempDir()
	store, err := storage.NewFS(notebook)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}

	dbFile, err := os.CreateTemp("", "ansuz-api-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	ix, err := index.Open(dbFile.Name(), store)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	if err := ix.CheckAndUpdate(); err != nil {
		t.Fatal(err)
	}

	svc := pageservice.NewService(store, ix)
	router := NewRouter(svc, authEnabled, token, sseHandler)
	return svc, router
}

func createPage(t *testing.T, router http.Handler, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"name": name, "content": content})
	req := httptest.NewRequest(http.MethodPost, "/pages", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateAndGetPage(t *testing.T) {
	_, router := testEnv(t, "")

	w := createPage(t, router, "Projects:Hello", "# Hello\nWorld")
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/pages/Projects:Hello", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var page PageDetail
	_ = json.Unmarshal(w.Body.Bytes(), &page)
	if page.Name != "Projects:Hello" {
		t.Errorf("name = %q", page.Name)
	}
	if page.Title != "Hello" {
		t.Errorf("title = %q, want Hello", page.Title)
	}
	if page.Path != "Projects/Hello.md" {
		t.Errorf("path = %q", page.Path)
	}
}

func TestCreateDuplicate(t *testing.T) {
	_, router := testEnv(t, "")

	if w := createPage(t, router, "dup", "a"); w.Code != http.StatusCreated {
		t.Fatalf("first create = %d", w.Code)
	}
	if w := createPage(t, router, "dup", "a"); w.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", w.Code)
	}
}

func TestUpdateWithOptimisticLocking(t *testing.T) {
	_, router := testEnv(t, "")

	w := createPage(t, router, "lock", "v1")
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d", w.Code)
	}
	var created PageDetail
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	// Update with correct checksum.
	updateBody, _ := json.Marshal(map[string]string{"content": "v2"})
	req := httptest.NewRequest(http.MethodPut, "/pages/lock", bytes.NewReader(updateBody))
	req.Header.Set("If-Match", created.Checksum)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("update with correct checksum = %d, body = %s", w.Code, w.Body.String())
	}

	// Update with stale checksum → 409.
	req = httptest.NewRequest(http.MethodPut, "/pages/lock", bytes.NewReader(updateBody))
	req.Header.Set("If-Match", created.Checksum) // stale now
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("update with stale checksum = %d, want 409", w.Code)
	}
}

func TestDeletePage(t *testing.T) {
	_, router := testEnv(t, "")

	createPage(t, router, "bye", "gone")

	req := httptest.NewRequest(http.MethodDelete, "/pages/bye", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/pages/bye", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
}

func TestDeletedPageWithBacklinksStaysVisible(t *testing.T) {
	_, router := testEnv(t, "")

	createPage(t, router, "a", "see [[b]]")
	createPage(t, router, "b", "# B")

	req := httptest.NewRequest(http.MethodDelete, "/pages/b", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}

	// Still reachable as a placeholder: the link from a keeps it alive.
	req = httptest.NewRequest(http.MethodGet, "/pages/b", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get demoted page = %d, want 200", w.Code)
	}
	var page PageDetail
	_ = json.Unmarshal(w.Body.Bytes(), &page)
	if !page.Placeholder || page.Content != "" {
		t.Errorf("page = %+v, want empty placeholder", page)
	}
	if len(page.Backlinks) != 1 || page.Backlinks[0].Source != "a" {
		t.Errorf("backlinks = %+v", page.Backlinks)
	}
}

func TestMovePage(t *testing.T) {
	_, router := testEnv(t, "")

	createPage(t, router, "old", "# Content")

	body, _ := json.Marshal(map[string]string{"from": "old", "to": "archive:old"})
	req := httptest.NewRequest(http.MethodPost, "/move", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("move = %d, body = %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/pages/archive:old", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("get moved page = %d", w.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/pages/old", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("get old name = %d, want 404", w.Code)
	}
}

func TestListPages(t *testing.T) {
	_, router := testEnv(t, "")

	createPage(t, router, "a", "# a")
	createPage(t, router, "b", "# b")
	createPage(t, router, "sub:c", "# c")

	req := httptest.NewRequest(http.MethodGet, "/pages", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	// Top level: a, b, sub.
	if total := resp["total"].(float64); total != 3 {
		t.Errorf("top-level total = %v, want 3", total)
	}

	req = httptest.NewRequest(http.MethodGet, "/pages?parent=sub", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if total := resp["total"].(float64); total != 1 {
		t.Errorf("namespace total = %v, want 1", total)
	}

	req = httptest.NewRequest(http.MethodGet, "/pages?all=true", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if total := resp["total"].(float64); total != 4 {
		t.Errorf("all total = %v, want 4", total)
	}
}

func TestBacklinksEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	createPage(t, router, "a", "links to [[b]]")
	createPage(t, router, "b", "# B")

	req := httptest.NewRequest(http.MethodGet, "/backlinks?target=b", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("backlinks = %d", w.Code)
	}
	var resp BacklinkResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Backlinks) != 1 || resp.Backlinks[0].Source != "a" {
		t.Errorf("backlinks = %+v", resp.Backlinks)
	}

	req = httptest.NewRequest(http.MethodGet, "/backlinks", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("backlinks without target = %d, want 400", w.Code)
	}
}

func TestTagsEndpoints(t *testing.T) {
	_, router := testEnv(t, "")

	createPage(t, router, "a", "# A\n@todo")
	createPage(t, router, "b", "# B\n@todo @done")

	req := httptest.NewRequest(http.MethodGet, "/tags", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("tags = %d", w.Code)
	}
	var tagResp TagListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &tagResp)
	if len(tagResp.Tags) != 2 {
		t.Errorf("tags = %+v, want 2", tagResp.Tags)
	}

	req = httptest.NewRequest(http.MethodGet, "/tags/todo", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if total := resp["total"].(float64); total != 2 {
		t.Errorf("pages tagged todo = %v, want 2", total)
	}
}

func TestPropertyEndpoints(t *testing.T) {
	_, router := testEnv(t, "")

	// Unset key → 404.
	req := httptest.NewRequest(http.MethodGet, "/properties/locale", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("unset property = %d, want 404", w.Code)
	}

	body, _ := json.Marshal(map[string]string{"value": "en_US"})
	req = httptest.NewRequest(http.MethodPut, "/properties/locale", bytes.NewReader(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("set property = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/properties/locale", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get property = %d", w.Code)
	}
	var prop PropertyResponse
	_ = json.Unmarshal(w.Body.Bytes(), &prop)
	if prop.Value != "en_US" {
		t.Errorf("value = %q", prop.Value)
	}

	req = httptest.NewRequest(http.MethodDelete, "/properties/locale", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete property = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/properties/locale", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("property after delete = %d, want 404", w.Code)
	}
}

func TestPlaceholderAndStatus(t *testing.T) {
	_, router := testEnv(t, "")

	body, _ := json.Marshal(map[string]string{"name": "Drafts:Soon"})
	req := httptest.NewRequest(http.MethodPost, "/placeholder", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("placeholder = %d, body = %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/pages/Drafts:Soon", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("get placeholder = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var st StatusResponse
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if st.Pages < 1 {
		t.Errorf("status pages = %d, want >= 1", st.Pages)
	}
}

func TestCheckAndReindexEndpoints(t *testing.T) {
	_, router := testEnv(t, "")

	createPage(t, router, "keep", "# Keep")

	for _, path := range []string{"/check", "/reindex"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Errorf("%s = %d, want 204", path, w.Code)
		}
	}

	// Reindex rebuilt from storage; the page is still there.
	req := httptest.NewRequest(http.MethodGet, "/pages/keep", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("get after reindex = %d", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	body, _ := json.Marshal(map[string]string{"name": "auth", "content": "test"})
	req := httptest.NewRequest(http.MethodPost, "/pages", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/pages", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/pages", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/pages", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

func TestGetPage_NotFound(t *testing.T) {
	_, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/pages/nope", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing page = %d, want 404", w.Code)
	}
}

func TestUpdatePage_NotFound(t *testing.T) {
	_, router := testEnv(t, "")

	body, _ := json.Marshal(map[string]string{"content": "x"})
	req := httptest.NewRequest(http.MethodPut, "/pages/ghost", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("update missing = %d, want 404", w.Code)
	}
}

// SSE endpoint auth tests.

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
	_, router := testEnvWithSSE(t, true, "secret", sseStub())

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", sseStub())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
