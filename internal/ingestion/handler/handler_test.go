package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/document"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/storage/storagetest"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/pool"
)

func newServer(t *testing.T) (*httptest.Server, *storagetest.Store) {
	t.Helper()
	caches, err := document.NewCaches(16, 16)
	if err != nil {
		t.Fatal(err)
	}
	store := storagetest.Wrap(storage.NewMemoryStore())
	h := New(indexer.New(store, caches))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /documents", h.Create)
	mux.HandleFunc("GET /documents", h.List)
	mux.HandleFunc("GET /documents/{doc_id}", h.Get)
	mux.HandleFunc("DELETE /documents/{doc_id}", h.Delete)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

// do sends a request and returns the response with its trimmed body.
func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, bytes.TrimSpace(raw)
}

func TestDocumentLifecycle(t *testing.T) {
	srv, _ := newServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/documents", `{"text":"Apple pie recipe"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created struct {
		Status     string `json:"status"`
		DocumentID string `json:"document_id"`
	}
	if err := json.Unmarshal(body, &created); err != nil || created.Status != "success" || created.DocumentID == "" {
		t.Fatalf("create body = %s (%v)", body, err)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/documents/"+created.DocumentID, "")
	var got map[string]string
	if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &got) != nil {
		t.Fatalf("get status = %d body = %s", resp.StatusCode, body)
	}
	if got["doc_id"] != created.DocumentID || got["text"] != "Apple pie recipe" {
		t.Errorf("get body = %v", got)
	}

	resp, body = do(t, http.MethodDelete, srv.URL+"/documents/"+created.DocumentID, "")
	if resp.StatusCode != http.StatusOK || string(body) != `{"status":"true"}` {
		t.Errorf("delete = %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/documents/"+created.DocumentID, "")
	if resp.StatusCode != http.StatusNotFound || string(body) != `{}` {
		t.Errorf("get after delete = %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodDelete, srv.URL+"/documents/"+created.DocumentID, "")
	if resp.StatusCode != http.StatusNotFound || string(body) != `{"status":"false"}` {
		t.Errorf("second delete = %d %s", resp.StatusCode, body)
	}
}

func TestCreateRejectsBadBodies(t *testing.T) {
	srv, _ := newServer(t)
	for _, body := range []string{"", "{", `{"content":"x"}`, `{"text":42}`} {
		resp, raw := do(t, http.MethodPost, srv.URL+"/documents", body)
		if resp.StatusCode != http.StatusBadRequest || len(raw) != 0 {
			t.Errorf("body %q: status = %d, response = %s", body, resp.StatusCode, raw)
		}
	}
}

func TestCreateStorageFailure(t *testing.T) {
	srv, store := newServer(t)
	store.Fail(storagetest.OpCreate, errors.New("connection reset"))
	resp, raw := do(t, http.MethodPost, srv.URL+"/documents", `{"text":"apple"}`)
	if resp.StatusCode != http.StatusInternalServerError || len(raw) != 0 {
		t.Errorf("status = %d, response = %s", resp.StatusCode, raw)
	}
}

func TestStorageErrorsOnLookupAnswerNotFound(t *testing.T) {
	srv, store := newServer(t)
	store.Fail(storagetest.OpGet, errors.New("timeout"))
	store.Fail(storagetest.OpDelete, errors.New("timeout"))

	resp, body := do(t, http.MethodGet, srv.URL+"/documents/anything", "")
	if resp.StatusCode != http.StatusNotFound || string(body) != `{}` {
		t.Errorf("get = %d %s", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodDelete, srv.URL+"/documents/anything", "")
	if resp.StatusCode != http.StatusNotFound || string(body) != `{"status":"false"}` {
		t.Errorf("delete = %d %s", resp.StatusCode, body)
	}
}

func TestList(t *testing.T) {
	srv, _ := newServer(t)
	for _, text := range []string{"one", "two", "three"} {
		if resp, _ := do(t, http.MethodPost, srv.URL+"/documents", `{"text":"`+text+`"}`); resp.StatusCode != http.StatusOK {
			t.Fatalf("create %s: %d", text, resp.StatusCode)
		}
	}

	resp, body := do(t, http.MethodGet, srv.URL+"/documents?limit=2", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var page struct {
		Documents []document.Document `json:"documents"`
		Limit     int                 `json:"limit"`
		Total     int64               `json:"total"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Documents) != 2 || page.Limit != 2 || page.Total != 3 {
		t.Errorf("page = %+v", page)
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/documents?offset=-3", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad offset status = %d", resp.StatusCode)
	}
}

func TestListStorageUnavailable(t *testing.T) {
	srv, store := newServer(t)
	store.Fail(storagetest.OpAcquire, fmt.Errorf("%w: acquiring connection: %v", apperrors.ErrStorageUnavailable, pool.ErrClosed))

	resp, body := do(t, http.MethodGet, srv.URL+"/documents", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if !bytes.Contains(body, []byte("listing documents failed")) {
		t.Errorf("body = %s", body)
	}
}

var _ Documents = (*indexer.Service)(nil)
