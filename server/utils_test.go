package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIsRoutableIP(t *testing.T) {
	cases := map[string]bool{
		"8.8.8.8":     true,
		"2001:db8::1": true,
		"127.0.0.1":   false,
		"10.1.2.3":    false,
		"192.168.0.1": false,
		"::1":         false,
		"0.0.0.0":     false,
		"169.254.1.1": false,
		"not an ip":   false,
		"":            false,
	}
	for ip, want := range cases {
		if got := isRoutableIP(ip); got != want {
			t.Errorf("%q: expected %v, got %v", ip, want, got)
		}
	}
}

func TestGetRemoteAddr(t *testing.T) {
	defer func() { globals.useXForwardedFor = false }()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "8.8.4.4, 10.0.0.2")

	globals.useXForwardedFor = false
	if got := getRemoteAddr(req); got != "10.0.0.1:1234" {
		t.Errorf("header must be ignored when disabled, got %s", got)
	}

	globals.useXForwardedFor = true
	if got := getRemoteAddr(req); got != "8.8.4.4" {
		t.Errorf("expected forwarded address, got %s", got)
	}

	req.Header.Set("X-Forwarded-For", "192.168.1.1")
	if got := getRemoteAddr(req); got != "10.0.0.1:1234" {
		t.Errorf("private forwarded address must be ignored, got %s", got)
	}
}

func TestTLSRedirect(t *testing.T) {
	cases := []struct {
		listen, url, want string
	}{
		{":443", "http://example.com/v0/tasks?email=a@x", "https://example.com/v0/tasks?email=a@x"},
		{":https", "http://example.com:80/", "https://example.com/"},
		{":8443", "http://example.com/x/", "https://example.com:8443/x/"},
		{"0.0.0.0:8443", "http://example.com/", "https://example.com:8443/"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		tlsRedirect(tc.listen)(rec, httptest.NewRequest(http.MethodGet, tc.url, nil))
		if rec.Code != http.StatusTemporaryRedirect {
			t.Errorf("%s: expected redirect, got %d", tc.url, rec.Code)
		}
		if got := rec.Header().Get("Location"); got != tc.want {
			t.Errorf("%s via %s: expected %s, got %s", tc.url, tc.listen, tc.want, got)
		}
	}
}

func TestHstsHandler(t *testing.T) {
	defer func() { globals.tlsStrictMaxAge = "" }()

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	globals.tlsStrictMaxAge = ""
	rec := httptest.NewRecorder()
	hstsHandler(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS header must not be set when disabled")
	}

	globals.tlsStrictMaxAge = "600"
	rec = httptest.NewRecorder()
	hstsHandler(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("Strict-Transport-Security"); got != "max-age=600" {
		t.Errorf("unexpected HSTS header '%s'", got)
	}
}

func TestPprofHandler(t *testing.T) {
	mux := http.NewServeMux()
	servePprof(mux, "debug/pprof")

	get := func(url string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
		return rec
	}

	if rec := get("/debug/pprof/"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "goroutine") {
		t.Errorf("index: %d %s", rec.Code, rec.Body.String())
	}
	if rec := get("/debug/pprof/goroutine"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "TestPprofHandler") {
		t.Errorf("goroutine dump must include the running test, got %d", rec.Code)
	}
	if rec := get("/debug/pprof/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown profile: expected 404, got %d", rec.Code)
	}
	if rec := get("/debug/pprof/heap?debug=x"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad debug level: expected 400, got %d", rec.Code)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/pprof/heap", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST: expected 405, got %d", rec.Code)
	}
}
