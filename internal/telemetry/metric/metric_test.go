package metric

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegistryCountersGather(t *testing.T) {
	r := NewRegistry()

	r.SessionsTotal.Inc()
	r.UpdatesTotal.WithLabelValues("applied").Inc()
	r.UpdatesTotal.WithLabelValues("rejected_echo").Add(2)
	r.VerifyTotal.WithLabelValues("approved").Inc()
	r.EventsFanout.Observe(3)

	families, err := r.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"clipmesh_sessions_created_total",
		"clipmesh_clipboard_updates_total",
		"clipmesh_join_verifications_total",
		"clipmesh_broadcast_fanout",
	} {
		if !found[name] {
			t.Errorf("metric family %q not gathered", name)
		}
	}
}

func TestHandlerExposition(t *testing.T) {
	r := NewRegistry()
	r.ChunksRelayed.Inc()
	r.BytesRelayed.Add(65536)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	text := string(body)
	if !strings.Contains(text, "clipmesh_file_chunks_relayed_total 1") {
		t.Errorf("chunk counter missing:\n%s", text)
	}
	if !strings.Contains(text, "clipmesh_file_bytes_relayed_total 65536") {
		t.Errorf("byte counter missing:\n%s", text)
	}
}

func TestFreshRegistriesAreIsolated(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()
	a.SessionsTotal.Inc()

	families, err := b.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "clipmesh_sessions_created_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if m.GetCounter().GetValue() != 0 {
				t.Error("registries share counter state")
			}
		}
	}
}
