package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"perpvault/gov"
	"perpvault/oracle"
	"perpvault/state"
	"perpvault/storage"
	"perpvault/vault"
)

const custody = "vault-custody"

type testHarness struct {
	handler http.Handler
	engine  *vault.Engine
	manager *state.Manager
	feed    *oracle.ManualFeed
}

func newHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	feed := oracle.NewManualFeed()
	agg := oracle.NewAggregator(3, 0)
	agg.RegisterFeed("ATOM", feed, false)

	engine := vault.NewEngine(custody)
	engine.SetState(manager)
	engine.SetOracle(agg)

	cfg.Engine = engine
	if cfg.Timelock == nil {
		cfg.Timelock = gov.NewTimelock(engine, "gov-council", 0)
	}
	cfg.Prices = agg
	cfg.Feed = feed
	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testHarness{handler: server.Handler(), engine: engine, manager: manager, feed: feed}
}

func (h *testHarness) listAtom(t *testing.T) {
	t.Helper()
	h.feed.Set("ATOM", big.NewInt(300), 0, time.Now())
	err := h.engine.SetTokenConfig(&vault.TokenConfig{Symbol: "ATOM", Decimals: 18, Whitelisted: true})
	if err != nil {
		t.Fatalf("list token: %v", err)
	}
}

func (h *testHarness) deposit(t *testing.T, token string, amount *big.Int) {
	t.Helper()
	current, err := h.manager.GetBalance(custody, token)
	if err != nil {
		t.Fatalf("read custody: %v", err)
	}
	if err := h.manager.SetBalance(custody, token, new(big.Int).Add(current, amount)); err != nil {
		t.Fatalf("fund custody: %v", err)
	}
}

func (h *testHarness) post(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *testHarness) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func tokens(whole int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(whole), scale)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, Config{})
	rec := h.get("/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestIssueEndpointMints(t *testing.T) {
	h := newHarness(t, Config{})
	h.listAtom(t)
	h.deposit(t, "ATOM", tokens(100))

	rec := h.post("/v1/debt/issue", `{"token":"ATOM","receiver":"alice"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Amount != tokens(29_910).String() {
		t.Fatalf("unexpected minted amount %s", resp.Amount)
	}
}

func TestIssueEndpointRejectsUnlistedToken(t *testing.T) {
	h := newHarness(t, Config{})
	rec := h.post("/v1/debt/issue", `{"token":"OSMO","receiver":"alice"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDecreaseEndpointMapsMissingPositionTo404(t *testing.T) {
	h := newHarness(t, Config{})
	h.listAtom(t)
	body := `{"caller":"alice","owner":"alice","collateralToken":"ATOM","indexToken":"ATOM","collateralDelta":"0","sizeDelta":"1000","isLong":true,"receiver":"alice"}`
	rec := h.post("/v1/positions/decrease", body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body)
	}
}

func TestGasPriceCeilingRejectsExpensiveSubmissions(t *testing.T) {
	h := newHarness(t, Config{MaxGasPrice: 1_000})
	h.listAtom(t)
	h.deposit(t, "ATOM", tokens(100))

	rec := h.post("/v1/debt/issue", `{"token":"ATOM","receiver":"alice","gasPrice":"2000"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = h.post("/v1/debt/issue", `{"token":"ATOM","receiver":"alice","gasPrice":"999"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 under the ceiling, got %d: %s", rec.Code, rec.Body)
	}
}

func TestPoolEndpointReturnsState(t *testing.T) {
	h := newHarness(t, Config{})
	h.listAtom(t)
	h.deposit(t, "ATOM", tokens(100))
	if rec := h.post("/v1/debt/issue", `{"token":"ATOM","receiver":"alice"}`); rec.Code != http.StatusOK {
		t.Fatalf("seed issue failed: %d", rec.Code)
	}

	rec := h.get("/v1/pools/ATOM")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		PoolAmount string `json:"poolAmount"`
		IssuedDebt string `json:"issuedDebt"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.IssuedDebt != tokens(29_910).String() {
		t.Fatalf("unexpected issued debt %s", resp.IssuedDebt)
	}
}

func TestPriceEndpointReturnsBounds(t *testing.T) {
	h := newHarness(t, Config{})
	h.listAtom(t)

	rec := h.get("/v1/prices/ATOM")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Min string `json:"min"`
		Max string `json:"max"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Min == "" || resp.Max == "" {
		t.Fatalf("expected both price bounds, got %s/%s", resp.Min, resp.Max)
	}
}

func TestAdminEndpointsRequireGovernor(t *testing.T) {
	h := newHarness(t, Config{})
	rec := h.post("/v1/admin/leverage", `{"caller":"mallory","maxLeverage":300000}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestAdminLeverageSignalAndExecute(t *testing.T) {
	h := newHarness(t, Config{})
	rec := h.post("/v1/admin/leverage", `{"caller":"gov-council","maxLeverage":300000}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("signal failed: %d %s", rec.Code, rec.Body)
	}
	rec = h.post("/v1/admin/leverage", `{"caller":"gov-council","execute":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("execute failed: %d %s", rec.Code, rec.Body)
	}
}

func TestRateLimitThrottlesClients(t *testing.T) {
	h := newHarness(t, Config{RequestsPerMinute: 4})
	h.listAtom(t)

	first := h.get("/v1/pools/ATOM")
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", first.Code)
	}
	second := h.get("/v1/pools/ATOM")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected throttling, got %d", second.Code)
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	h := newHarness(t, Config{})
	rec := h.post("/v1/debt/issue", `{"token":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPositionEndpointReturns404WhenAbsent(t *testing.T) {
	h := newHarness(t, Config{})
	h.listAtom(t)
	rec := h.get("/v1/positions/alice/ATOM/ATOM/long")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body)
	}
}

func TestAdminPriceSubmissionMakesTokenQuotable(t *testing.T) {
	h := newHarness(t, Config{})
	rec := h.post("/v1/admin/prices", `{"caller":"gov-council","symbol":"OSMO","price":"1.25","decimals":8}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	rec = h.get("/v1/prices/OSMO")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Min string `json:"min"`
		Max string `json:"max"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := "1250000000000000000000000000000"
	if resp.Min != want || resp.Max != want {
		t.Fatalf("unexpected bounds min=%s max=%s", resp.Min, resp.Max)
	}
}

func TestAdminPriceSubmissionRequiresGovernor(t *testing.T) {
	h := newHarness(t, Config{})
	rec := h.post("/v1/admin/prices", `{"caller":"mallory","symbol":"OSMO","price":"1.25"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body)
	}
}

func TestCustodyCreditFundsIssuance(t *testing.T) {
	h := newHarness(t, Config{})
	h.listAtom(t)

	rec := h.post("/v1/admin/custody", `{"caller":"gov-council","token":"ATOM","amount":"`+tokens(100).String()+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	rec = h.post("/v1/debt/issue", `{"token":"ATOM","receiver":"alice"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Amount != tokens(29_910).String() {
		t.Fatalf("unexpected minted amount %s", resp.Amount)
	}
}

func TestCustodyCreditRequiresGovernor(t *testing.T) {
	h := newHarness(t, Config{})
	h.listAtom(t)
	rec := h.post("/v1/admin/custody", `{"caller":"mallory","token":"ATOM","amount":"100"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body)
	}
}
