package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/clipmesh/clipmesh-go/internal/core/domain"
	"github.com/clipmesh/clipmesh-go/internal/core/service"
	"github.com/clipmesh/clipmesh-go/internal/storage/memory"
	"github.com/clipmesh/clipmesh-go/internal/telemetry/metric"
)

type nopBroadcaster struct{}

func (nopBroadcaster) Send(string, string, any)        {}
func (nopBroadcaster) SendRoom(string, string, any)    {}
func (nopBroadcaster) SendConns([]string, string, any) {}
func (nopBroadcaster) RoomConns(string) []string       { return nil }

func newRouter(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	store := memory.New()
	registry := service.NewRegistryService(store, nopBroadcaster{}, nil, nil)
	verify := service.NewVerifyService(store, nopBroadcaster{}, nil, nil)
	router := NewRouter(&RouterConfig{
		Registry: registry,
		Verify:   verify,
		Metrics:  metric.NewRegistry(),
		Version:  "test",
	})
	return router, store
}

func seed(t *testing.T, store *memory.Store, id string, banned bool) {
	t.Helper()
	sess := domain.NewSession(id, "")
	sess.Banned = banned
	m := domain.NewMember("c1", "alice", "Alice", "chrome-linux")
	m.Authorized = true
	sess.Members["c1"] = m
	if err := store.Create(context.Background(), sess); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	router, _ := newRouter(t)

	rec := get(t, router, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestSessionInspection(t *testing.T) {
	router, store := newRouter(t)
	seed(t, store, "team", false)
	seed(t, store, "locked", true)

	rec := get(t, router, "/v1/sessions/team")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Exists           bool `json:"exists"`
		HasActiveClients bool `json:"has_active_clients"`
		Banned           bool `json:"banned"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !body.Exists || !body.HasActiveClients || body.Banned {
		t.Fatalf("unexpected body %+v", body)
	}

	if rec := get(t, router, "/v1/sessions/locked"); rec.Code != http.StatusOK {
		t.Fatalf("banned session status = %d", rec.Code)
	}

	if rec := get(t, router, "/v1/sessions/ghost"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session status = %d", rec.Code)
	}
}

func TestStats(t *testing.T) {
	router, store := newRouter(t)
	seed(t, store, "a", false)
	seed(t, store, "b", false)

	rec := get(t, router, "/v1/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Sessions             int `json:"sessions"`
		Members              int `json:"members"`
		PendingVerifications int `json:"pending_verifications"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Sessions != 2 || body.Members != 2 || body.PendingVerifications != 0 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestMetricsExposition(t *testing.T) {
	router, _ := newRouter(t)

	rec := get(t, router, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "clipmesh_") {
		t.Fatal("expected clipmesh metrics in exposition output")
	}
}
