package main

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func gather(t *testing.T, e *Exporter) map[string]float64 {
	t.Helper()

	registry := prometheus.NewRegistry()
	registry.MustRegister(e)
	families, err := registry.Gather()
	if err != nil {
		t.Fatal(err)
	}

	values := make(map[string]float64)
	for _, f := range families {
		m := f.GetMetric()[0]
		if m.GetCounter() != nil {
			values[f.GetName()] = m.GetCounter().GetValue()
		} else {
			values[f.GetName()] = m.GetGauge().GetValue()
		}
	}
	return values
}

func TestCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"LiveSessions": 3,
			"TotalSessions": 10,
			"TasksDeliveredTotal": 42,
			"Uptime": 12.5,
			"memstats": {"Alloc": 2048}
		}`)
	}))
	defer srv.Close()

	values := gather(t, NewExporter(srv.URL, "chat", time.Second))

	want := map[string]float64{
		"chat_up":                    1,
		"chat_sessions_live_count":   3,
		"chat_sessions_total":        10,
		"chat_tasks_delivered_total": 42,
		"chat_uptime_seconds":        12.5,
		"chat_malloced_bytes":        2048,
	}
	for name, v := range want {
		if got, ok := values[name]; !ok || got != v {
			t.Errorf("%s: expected %v, got %v (present %v)", name, v, got, ok)
		}
	}
	if _, ok := values["chat_failed_signals_total"]; ok {
		t.Error("missing variables must not be exported")
	}
}

func TestCollectDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"LiveSessions": "three"}`)
	}))
	defer srv.Close()

	if values := gather(t, NewExporter(srv.URL, "chat", time.Second)); values["chat_up"] != 0 {
		t.Errorf("malformed stats must report down, got %v", values)
	}

	srv.Close()
	if values := gather(t, NewExporter(srv.URL, "chat", time.Second)); values["chat_up"] != 0 {
		t.Errorf("unreachable server must report down, got %v", values)
	}
}

func TestParseNumeric(t *testing.T) {
	stats := map[string]any{"a": map[string]any{"b": 1.5}, "c": "x"}

	if v, err := parseNumeric(stats, "a.b"); err != nil || v != 1.5 {
		t.Errorf("a.b: %v %v", v, err)
	}
	if _, err := parseNumeric(stats, "a.z"); err != errKeyNotFound {
		t.Errorf("a.z: expected errKeyNotFound, got %v", err)
	}
	if _, err := parseNumeric(stats, "c.d"); err != errKeyNotFound {
		t.Errorf("c.d: expected errKeyNotFound, got %v", err)
	}
	if _, err := parseNumeric(stats, "c"); err == nil || err == errKeyNotFound {
		t.Errorf("c: expected type error, got %v", err)
	}
}

func TestCollectSignals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"SignalsBySignal": {"ADD_USER": 4, "UPDATE_CONVERSATION": 9}}`)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(NewExporter(srv.URL, "chat", time.Second))
	families, err := registry.Gather()
	if err != nil {
		t.Fatal(err)
	}

	got := make(map[string]float64)
	for _, f := range families {
		if f.GetName() != "chat_signals_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			got[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
		}
	}
	want := map[string]float64{"ADD_USER": 4, "UPDATE_CONVERSATION": 9}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("signals mismatch (-want +got):\n%s", diff)
	}
}

func TestMux(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"LiveSessions": 1}`)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(NewExporter(srv.URL, "chat", time.Second))
	mux := newMux(registry, "/metrics", time.Second)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "chat_sessions_live_count 1") {
		t.Errorf("metrics: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `href="/metrics"`) {
		t.Errorf("index: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown path: expected 404, got %d", rec.Code)
	}
}
