package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
)

func newTestRouter(request func(string) bool, state func() string) *mux.Router {
	r := mux.NewRouter()
	RegisterRoutes(r, NewHandler("sekret", request, state, "8080"))
	return r
}

func doReq(t *testing.T, r *mux.Router, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSyncRejectsMissingAndWrongToken(t *testing.T) {
	called := false
	r := newTestRouter(func(string) bool { called = true; return true }, func() string { return "idle" })

	for _, token := range []string{"", "wrong"} {
		rec := doReq(t, r, http.MethodPost, "/sync", token)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("token %q: code = %d", token, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
			t.Fatalf("token %q: content-type = %q", token, ct)
		}
	}
	if called {
		t.Fatal("rejected request must not dispatch a sync")
	}
}

func TestSyncDispatchesAndReportsQueueing(t *testing.T) {
	started := true
	var gotSource string
	r := newTestRouter(func(source string) bool { gotSource = source; return started }, func() string { return "idle" })

	rec := doReq(t, r, http.MethodPost, "/sync", "sekret")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
	}
	if gotSource != "webhook" {
		t.Fatalf("source = %q", gotSource)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "sync_triggered" || body["queued"] != false {
		t.Fatalf("body = %v", body)
	}

	// Координатор занят: запрос ставится в очередь, ответ это отражает.
	started = false
	rec = doReq(t, r, http.MethodPost, "/sync", "sekret")
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["queued"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestSyncRequiresPOST(t *testing.T) {
	r := newTestRouter(func(string) bool { return true }, func() string { return "idle" })
	rec := doReq(t, r, http.MethodGet, "/sync", "sekret")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	r := newTestRouter(nil, nil)
	rec := doReq(t, r, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" || body["service"] != "wgmirror" {
		t.Fatalf("body = %v", body)
	}
}

func TestStatusIsAuthenticatedAndShowsSyncState(t *testing.T) {
	r := newTestRouter(func(string) bool { return true }, func() string { return "running" })

	if rec := doReq(t, r, http.MethodGet, "/status", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated code = %d", rec.Code)
	}

	rec := doReq(t, r, http.MethodGet, "/status", "sekret")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["sync"] != "running" {
		t.Fatalf("body = %v", body)
	}
}
