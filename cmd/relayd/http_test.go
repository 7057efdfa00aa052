package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/relaymesh/internal/app"
	"github.com/rickgao/relaymesh/internal/config"
	"github.com/rickgao/relaymesh/internal/orchestrator"
	"github.com/rickgao/relaymesh/internal/relaytest"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.App, *relaytest.Server, *relaytest.Server) {
	t.Helper()

	general := relaytest.NewServer(t)
	wallet := relaytest.NewServer(t)

	yaml := fmt.Sprintf(`
relays:
  general:
    - %s
  isolated: %s
  mode: all
`, general.URL(), wallet.URL())
	path := filepath.Join(t.TempDir(), "relayd.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}

	a, err := app.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("app.New failed: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { a.Shutdown() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := a.Orchestrator.Settle(ctx); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}

	server := httptest.NewServer(newHandler(a, "/metrics", nil))
	t.Cleanup(server.Close)
	return server, a, general, wallet
}

func getBody(t *testing.T, url string) string {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	return string(body)
}

func getJSON(t *testing.T, method, url string, v any) int {
	t.Helper()

	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()

	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHandler_Health(t *testing.T) {
	server, _, _, _ := newTestServer(t)

	var health healthResponse
	if code := getJSON(t, http.MethodGet, server.URL+"/health", &health); code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", code)
	}

	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Mode != "all" {
		t.Errorf("Mode = %q, want all", health.Mode)
	}
	if health.Connected != 2 || health.Total != 2 {
		t.Errorf("connected = %d/%d, want 2/2", health.Connected, health.Total)
	}
	if _, ok := health.Components["pools"]; !ok {
		t.Error("pools component missing")
	}
	if _, ok := health.Components["postgres"]; ok {
		t.Error("postgres component reported without a database")
	}
}

func TestHandler_Relays(t *testing.T) {
	server, _, general, wallet := newTestServer(t)

	var body struct {
		Count  int             `json:"count"`
		Relays []relayResponse `json:"relays"`
	}
	if code := getJSON(t, http.MethodGet, server.URL+"/relays", &body); code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", code)
	}

	if body.Count != 2 {
		t.Fatalf("Count = %d, want 2", body.Count)
	}
	states := make(map[string]string)
	for _, r := range body.Relays {
		states[r.URL] = r.State
	}
	for _, url := range []string{general.URL(), wallet.URL()} {
		if states[url] != string(orchestrator.StateConnected) {
			t.Errorf("%s state = %q, want connected", url, states[url])
		}
	}
}

func TestHandler_RelayErrorsOnlyUnderDebug(t *testing.T) {
	server, a, general, _ := newTestServer(t)

	a.Monitor.OnFailure(general.URL(), errors.New("dial tcp 10.0.0.1:443: connection refused"))

	public := getBody(t, server.URL+"/relays")
	if strings.Contains(public, "connection refused") || strings.Contains(public, "last_error") {
		t.Errorf("/relays exposes raw relay errors: %s", public)
	}

	var debug struct {
		Relays []debugRelayResponse `json:"relays"`
	}
	if code := getJSON(t, http.MethodGet, server.URL+"/debug/relays", &debug); code != http.StatusOK {
		t.Fatalf("/debug/relays status = %d, want 200", code)
	}
	found := false
	for _, r := range debug.Relays {
		if r.URL == general.URL() && strings.Contains(r.LastError, "connection refused") {
			found = true
		}
	}
	if !found {
		t.Errorf("/debug/relays missing last error for %s: %+v", general.URL(), debug.Relays)
	}
}

func TestHandler_Mode(t *testing.T) {
	server, a, _, wallet := newTestServer(t)

	var current map[string]string
	getJSON(t, http.MethodGet, server.URL+"/mode", &current)
	if current["mode"] != "all" {
		t.Errorf("GET /mode = %v, want all", current)
	}

	var changed struct {
		Mode      string   `json:"mode"`
		Endpoints []string `json:"endpoints"`
	}
	if code := getJSON(t, http.MethodPost, server.URL+"/mode?name=wallet-only", &changed); code != http.StatusOK {
		t.Fatalf("POST /mode status = %d, want 200", code)
	}
	if changed.Mode != "wallet-only" {
		t.Errorf("mode = %q, want wallet-only", changed.Mode)
	}
	if len(changed.Endpoints) != 1 || changed.Endpoints[0] != wallet.URL() {
		t.Errorf("endpoints = %v, want [%s]", changed.Endpoints, wallet.URL())
	}
	if a.Orchestrator.Mode() != orchestrator.ModeWalletOnly {
		t.Errorf("orchestrator mode = %v, want wallet-only", a.Orchestrator.Mode())
	}

	if code := getJSON(t, http.MethodPost, server.URL+"/mode?name=bogus", nil); code != http.StatusBadRequest {
		t.Errorf("POST /mode?name=bogus status = %d, want 400", code)
	}
	if code := getJSON(t, http.MethodPut, server.URL+"/mode?name=feed", nil); code != http.StatusMethodNotAllowed {
		t.Errorf("PUT /mode status = %d, want 405", code)
	}
}

func TestHandler_RelayInfo(t *testing.T) {
	server, _, general, _ := newTestServer(t)

	var doc struct {
		Name          string `json:"name"`
		SupportedNIPs []int  `json:"supported_nips"`
	}
	if code := getJSON(t, http.MethodGet, server.URL+"/relays/info?url="+general.URL(), &doc); code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", code)
	}
	if doc.Name != "relaytest" {
		t.Errorf("Name = %q, want relaytest", doc.Name)
	}

	if code := getJSON(t, http.MethodGet, server.URL+"/relays/info?url=wss://elsewhere.example", nil); code != http.StatusNotFound {
		t.Errorf("unknown relay status = %d, want 404", code)
	}
	if code := getJSON(t, http.MethodGet, server.URL+"/relays/info", nil); code != http.StatusBadRequest {
		t.Errorf("missing url status = %d, want 400", code)
	}

	general.SetInfo(nil)
	var failed map[string]string
	if code := getJSON(t, http.MethodGet, server.URL+"/relays/info?url="+general.URL(), &failed); code != http.StatusBadGateway {
		t.Fatalf("missing document status = %d, want 502", code)
	}
	if failed["error"] != "relay information unavailable" {
		t.Errorf("error = %q, want the generic message", failed["error"])
	}
}

func TestHandler_Refresh(t *testing.T) {
	server, a, _, wallet := newTestServer(t)

	var body map[string]int
	if code := getJSON(t, http.MethodPost, server.URL+"/refresh", &body); code != http.StatusOK {
		t.Fatalf("POST /refresh status = %d, want 200", code)
	}
	if body["retried"] != 0 {
		t.Errorf("retried = %d, want 0 with every relay connected", body["retried"])
	}

	// Losing every connection to a relay makes it eligible for a retry.
	wallet.DropConnections()
	waitFor(t, func() bool { return !a.Isolated.Connected(wallet.URL()) })

	if code := getJSON(t, http.MethodPost, server.URL+"/refresh", &body); code != http.StatusOK {
		t.Fatalf("POST /refresh status = %d, want 200", code)
	}
	if body["retried"] != 1 {
		t.Errorf("retried = %d, want 1", body["retried"])
	}

	if code := getJSON(t, http.MethodGet, server.URL+"/refresh", nil); code != http.StatusMethodNotAllowed {
		t.Errorf("GET /refresh status = %d, want 405", code)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandler_MetricsAndQueues(t *testing.T) {
	server, _, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", resp.StatusCode)
	}

	var queues map[string]map[string]any
	if code := getJSON(t, http.MethodGet, server.URL+"/debug/queues", &queues); code != http.StatusOK {
		t.Fatalf("/debug/queues status = %d, want 200", code)
	}
	if _, ok := queues["general"]; !ok {
		t.Error("general queues missing")
	}
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name    string
		summary orchestrator.Summary
		want    string
	}{
		{"no endpoints", orchestrator.Summary{}, "healthy"},
		{"all connected", orchestrator.Summary{Connected: 2, Total: 2}, "healthy"},
		{"some connected", orchestrator.Summary{Connected: 1, Failed: 1, Total: 2}, "degraded"},
		{"connecting", orchestrator.Summary{Connecting: 2, Total: 2}, "degraded"},
		{"all failed", orchestrator.Summary{Failed: 2, Total: 2}, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := overallStatus(tt.summary); got != tt.want {
				t.Errorf("overallStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug": "DEBUG",
		"WARN":  "WARN",
		"error": "ERROR",
		"info":  "INFO",
		"":      "INFO",
	}
	for in, want := range tests {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
