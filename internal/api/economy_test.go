package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/aibarena/aibarena/internal/app/economy"
	"github.com/aibarena/aibarena/internal/domain"
	"github.com/aibarena/aibarena/internal/infra/sqlite"
)

// ═══════════════════════════════════════════════════════════════════════════
// Economy API Tests
// ═══════════════════════════════════════════════════════════════════════════

func newTestServer(t *testing.T) (*httptest.Server, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "economy.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	engine := economy.NewEngine(db, economy.Options{})
	srv := httptest.NewServer(NewServer(engine).Handler())
	t.Cleanup(srv.Close)
	return srv, db
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := getJSON(t, srv.URL+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestCreditThenBalance(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/economy/credit", map[string]any{
		"telegram_id": "u1",
		"currency":    "AIBA",
		"amount":      100,
		"reason":      "battle_reward",
		"source_type": "battle",
		"source_id":   "b-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("credit status = %d, want 200 (%v)", resp.StatusCode, body)
	}
	if body["ok"] != true {
		t.Fatalf("body = %v, want ok", body)
	}
	if body["balance"].(float64) != 100 {
		t.Errorf("balance = %v, want 100", body["balance"])
	}

	resp, body = getJSON(t, srv.URL+"/api/economy/balance/u1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("balance status = %d, want 200", resp.StatusCode)
	}
	balances := body["balances"].(map[string]any)
	if balances["AIBA"].(float64) != 100 {
		t.Errorf("AIBA balance = %v, want 100", balances["AIBA"])
	}
}

func TestCredit_DuplicateReplayIs200(t *testing.T) {
	srv, _ := newTestServer(t)
	req := map[string]any{
		"telegram_id": "u1", "currency": "AIBA", "amount": 100,
		"reason": "battle_reward", "source_type": "battle", "source_id": "b-1",
	}

	postJSON(t, srv.URL+"/api/economy/credit", req)
	resp, body := postJSON(t, srv.URL+"/api/economy/credit", req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replay status = %d, want 200", resp.StatusCode)
	}
	if body["duplicate"] != true {
		t.Errorf("body = %v, want duplicate", body)
	}
}

func TestDebit_InsufficientIs402(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/economy/debit", map[string]any{
		"telegram_id": "u1", "currency": "NEUR", "amount": 10,
		"reason": "item_purchase", "source_type": "purchase", "source_id": "p-1",
	})
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
	if body["failure"] != domain.FailInsufficient {
		t.Errorf("failure = %v, want %q", body["failure"], domain.FailInsufficient)
	}
}

func TestMutation_MissingTelegramIDIs400(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/api/economy/credit", map[string]any{
		"currency": "AIBA", "amount": 10, "reason": "battle_reward",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestEmit_CapExceededIs429(t *testing.T) {
	srv, _ := newTestServer(t)

	// Install a tight cap through the operator surface first.
	cfg := map[string]any{
		"default_window": map[string]int{"start_hour": 0, "end_hour": 24},
		"daily_caps":     map[string]int64{"AIBA": 100},
	}
	raw, _ := json.Marshal(cfg)
	putReq, err := http.NewRequest(http.MethodPut, srv.URL+"/api/economy/config", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	putResp, err := http.DefaultClient.Do(putReq)
	if err != nil {
		t.Fatal(err)
	}
	putResp.Body.Close()
	if putResp.StatusCode != http.StatusOK {
		t.Fatalf("config put status = %d, want 200", putResp.StatusCode)
	}

	resp, _ := postJSON(t, srv.URL+"/api/economy/emit", map[string]any{
		"currency": "AIBA", "amount": 100, "arena": "colosseum",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first emit status = %d, want 200", resp.StatusCode)
	}

	resp, body := postJSON(t, srv.URL+"/api/economy/emit", map[string]any{
		"currency": "AIBA", "amount": 1, "arena": "colosseum",
	})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 (%v)", resp.StatusCode, body)
	}
	if body["failure"] != domain.FailCapExceeded {
		t.Errorf("failure = %v, want %q", body["failure"], domain.FailCapExceeded)
	}
}

func TestCounters_TodayAlias(t *testing.T) {
	srv, _ := newTestServer(t)

	postJSON(t, srv.URL+"/api/economy/credit", map[string]any{
		"telegram_id": "u1", "currency": "AIBA", "amount": 100,
		"reason": "battle_reward", "source_type": "battle", "source_id": "b-1",
	})

	resp, body := getJSON(t, srv.URL+"/api/economy/counters/today")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	byReason := body["by_reason"].(map[string]any)
	aiba := byReason["AIBA"].(map[string]any)
	bucket := aiba["battle_reward"].(map[string]any)
	if bucket["emitted"].(float64) != 100 {
		t.Errorf("reason emitted = %v, want 100", bucket["emitted"])
	}
}

func TestCounters_BadDayIs400(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := getJSON(t, srv.URL+"/api/economy/counters/yesterday-ish")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestLedger_ListsEntries(t *testing.T) {
	srv, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		postJSON(t, srv.URL+"/api/economy/credit", map[string]any{
			"telegram_id": "u1", "currency": "AIBA", "amount": 10,
			"reason": "battle_reward", "source_type": "battle", "source_id": fmt.Sprintf("b-%d", i),
		})
	}

	resp, body := getJSON(t, srv.URL+"/api/economy/ledger/u1?limit=2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	entries := body["entries"].([]any)
	if len(entries) != 2 {
		t.Errorf("len(entries) = %d, want 2 (limit respected)", len(entries))
	}
}

func TestRepair_EmptyBodyDefaults(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/economy/repair", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["repaired"] != 0 {
		t.Errorf("repaired = %d, want 0", body["repaired"])
	}
}
