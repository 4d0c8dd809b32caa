package walletapi_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/wallet/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/wallet/internal/walletapi"
	"github.com/MarkoPoloResearchLab/wallet/pkg/wallet"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	machineSigningKey = "machine-secret"
	sessionSigningKey = "session-secret"
	machineIssuer     = "wallet-machine"
	sessionIssuer     = "tauth"
	sessionCookieName = "app_session"
	machineSubject    = "dispatcher"
	adminUserID       = "admin-7"
	testTenantID      = "tenant-1"
	contentTypeJSON   = "application/json"
)

func newTestRouter(test *testing.T) *gin.Engine {
	test.Helper()
	database, err := gorm.Open(sqlite.Open(test.TempDir()+"/wallet.db"), &gorm.Config{})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	if err := gormstore.Migrate(database); err != nil {
		test.Fatalf("migrate failed: %v", err)
	}
	store := gormstore.New(database)
	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := wallet.NewService(store, wallet.DefaultConfig(), clock)
	if err != nil {
		test.Fatalf("wallet service init failed: %v", err)
	}
	router, err := walletapi.NewRouter(walletapi.Config{
		MachineSigningKey: machineSigningKey,
		MachineIssuer:     machineIssuer,
		SessionSigningKey: sessionSigningKey,
		SessionIssuer:     sessionIssuer,
		SessionCookieName: sessionCookieName,
	}, service, zap.NewNop())
	if err != nil {
		test.Fatalf("router init failed: %v", err)
	}
	return router
}

func buildMachineToken(test *testing.T) string {
	test.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    machineIssuer,
		Subject:   machineSubject,
		IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(machineSigningKey))
	if err != nil {
		test.Fatalf("machine token signing failed: %v", err)
	}
	return signed
}

func buildSessionCookie(test *testing.T, roles []string) *http.Cookie {
	test.Helper()
	claims := &sessionvalidator.Claims{
		UserID:    adminUserID,
		UserEmail: "admin@example.com",
		UserRoles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(sessionSigningKey))
	if err != nil {
		test.Fatalf("session token signing failed: %v", err)
	}
	return &http.Cookie{Name: sessionCookieName, Value: signed}
}

func performMachine(test *testing.T, router *gin.Engine, method string, path string, body any) *httptest.ResponseRecorder {
	test.Helper()
	return perform(test, router, method, path, body, func(request *http.Request) {
		request.Header.Set("Authorization", "Bearer "+buildMachineToken(test))
	})
}

func performAdmin(test *testing.T, router *gin.Engine, method string, path string, body any, roles []string) *httptest.ResponseRecorder {
	test.Helper()
	cookie := buildSessionCookie(test, roles)
	return perform(test, router, method, path, body, func(request *http.Request) {
		request.AddCookie(cookie)
	})
}

func perform(test *testing.T, router *gin.Engine, method string, path string, body any, decorate func(*http.Request)) *httptest.ResponseRecorder {
	test.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		payload, err := json.Marshal(body)
		if err != nil {
			test.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", contentTypeJSON)
	if decorate != nil {
		decorate(request)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(test *testing.T, recorder *httptest.ResponseRecorder, target any) {
	test.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		test.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
}

// fundTenant provisions the tenant and pushes an approved topup through the
// admin endpoints so machine operations have a balance to work against.
func fundTenant(test *testing.T, router *gin.Engine, amount int64) {
	test.Helper()
	recorder := performMachine(test, router, http.MethodPost, "/api/provision", map[string]any{"tenant_id": testTenantID})
	if recorder.Code != http.StatusOK {
		test.Fatalf("provision failed: %d %s", recorder.Code, recorder.Body.String())
	}
	recorder = performAdmin(test, router, http.MethodPost, "/admin/topups", map[string]any{
		"tenant_id":       testTenantID,
		"amount":          amount,
		"method":          "bank_transfer",
		"proof_reference": "proof-1",
	}, []string{"admin"})
	if recorder.Code != http.StatusOK {
		test.Fatalf("topup request failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var pending struct {
		EntryCode string `json:"entry_code"`
		Status    string `json:"status"`
	}
	decodeBody(test, recorder, &pending)
	if pending.Status != "pending" {
		test.Fatalf("expected pending topup, got %q", pending.Status)
	}
	recorder = performAdmin(test, router, http.MethodPost, fmt.Sprintf("/admin/topups/%s/approve", pending.EntryCode), map[string]any{"note": "verified"}, []string{"admin"})
	if recorder.Code != http.StatusOK {
		test.Fatalf("topup approve failed: %d %s", recorder.Code, recorder.Body.String())
	}
}

func TestHealthEndpoint(test *testing.T) {
	router := newTestRouter(test)
	recorder := perform(test, router, http.MethodGet, "/healthz", nil, nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestMachineEndpointsRequireBearerToken(test *testing.T) {
	router := newTestRouter(test)
	recorder := perform(test, router, http.MethodGet, "/api/wallet/"+testTenantID, nil, nil)
	if recorder.Code != http.StatusUnauthorized {
		test.Fatalf("expected 401 without token, got %d", recorder.Code)
	}
}

func TestAdminEndpointsRequireAdminRole(test *testing.T) {
	router := newTestRouter(test)
	recorder := performAdmin(test, router, http.MethodPost, "/admin/topups", map[string]any{
		"tenant_id": testTenantID,
		"amount":    int64(100_000),
	}, []string{"member"})
	if recorder.Code != http.StatusForbidden {
		test.Fatalf("expected 403 for non-admin, got %d", recorder.Code)
	}
}

func TestCampaignLifecycleOverHTTP(test *testing.T) {
	router := newTestRouter(test)
	fundTenant(test, router, 100_000)

	recorder := performMachine(test, router, http.MethodPost, "/api/hold", map[string]any{
		"tenant_id":   testTenantID,
		"amount":      int64(30_000),
		"campaign_id": "cmp-1",
		"actor_id":    "scheduler",
	})
	if recorder.Code != http.StatusOK {
		test.Fatalf("hold failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var hold struct {
		Available int64 `json:"available"`
		Held      int64 `json:"held"`
	}
	decodeBody(test, recorder, &hold)
	if hold.Available != 70_000 || hold.Held != 30_000 {
		test.Fatalf("unexpected balances after hold: %+v", hold)
	}

	recorder = performMachine(test, router, http.MethodPost, "/api/charge-from-hold", map[string]any{
		"tenant_id":   testTenantID,
		"amount":      int64(10_000),
		"campaign_id": "cmp-1",
	})
	if recorder.Code != http.StatusOK {
		test.Fatalf("charge-from-hold failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var charged struct {
		Charged int64 `json:"charged"`
		Held    int64 `json:"held"`
	}
	decodeBody(test, recorder, &charged)
	if charged.Charged != 10_000 || charged.Held != 20_000 {
		test.Fatalf("unexpected charge result: %+v", charged)
	}

	recorder = performMachine(test, router, http.MethodPost, "/api/release", map[string]any{
		"tenant_id":   testTenantID,
		"amount":      int64(5_000),
		"campaign_id": "cmp-1",
		"reason":      "campaign_cancelled",
	})
	if recorder.Code != http.StatusOK {
		test.Fatalf("release failed: %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = performMachine(test, router, http.MethodPost, "/api/finalize", map[string]any{
		"tenant_id":      testTenantID,
		"campaign_id":    "cmp-1",
		"sent_count":     int64(10),
		"unsent_count":   int64(5),
		"price_per_unit": int64(1_000),
	})
	if recorder.Code != http.StatusOK {
		test.Fatalf("finalize failed: %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = performMachine(test, router, http.MethodGet, "/api/wallet/"+testTenantID, nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("wallet fetch failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var envelope struct {
		Wallet struct {
			Available int64 `json:"available"`
			Held      int64 `json:"held"`
		} `json:"wallet"`
	}
	decodeBody(test, recorder, &envelope)
	if envelope.Wallet.Held != 0 {
		test.Fatalf("expected no held funds after finalize, got %d", envelope.Wallet.Held)
	}
	// 100k topup, 10k charged mid-campaign, 10k charged at finalize.
	if envelope.Wallet.Available != 80_000 {
		test.Fatalf("expected 80000 available, got %d", envelope.Wallet.Available)
	}

	recorder = performMachine(test, router, http.MethodGet, "/api/wallet/"+testTenantID+"/entries?limit=50", nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("entries fetch failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var entries struct {
		Entries []struct {
			Kind string `json:"kind"`
		} `json:"entries"`
	}
	decodeBody(test, recorder, &entries)
	if len(entries.Entries) == 0 {
		test.Fatalf("expected ledger entries, got none")
	}
}

func TestChargeInsufficientBalanceMapsTo402(test *testing.T) {
	router := newTestRouter(test)
	recorder := performMachine(test, router, http.MethodPost, "/api/charge", map[string]any{
		"tenant_id":       "fresh-tenant",
		"amount":          int64(500),
		"idempotency_key": "msg-1",
		"source":          "dispatcher",
	})
	if recorder.Code != http.StatusPaymentRequired {
		test.Fatalf("expected 402, got %d %s", recorder.Code, recorder.Body.String())
	}
}

func TestChargeAndRefundOverHTTP(test *testing.T) {
	router := newTestRouter(test)
	fundTenant(test, router, 100_000)

	recorder := performMachine(test, router, http.MethodPost, "/api/charge", map[string]any{
		"tenant_id":       testTenantID,
		"amount":          int64(2_500),
		"idempotency_key": "msg-42",
		"reference_id":    "msg-42",
		"metadata":        map[string]any{"channel": "sms"},
	})
	if recorder.Code != http.StatusOK {
		test.Fatalf("charge failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var outcome struct {
		EntryCode string `json:"entry_code"`
		Available int64  `json:"available"`
	}
	decodeBody(test, recorder, &outcome)
	if outcome.Available != 97_500 {
		test.Fatalf("expected 97500 available, got %d", outcome.Available)
	}

	duplicate := performMachine(test, router, http.MethodPost, "/api/charge", map[string]any{
		"tenant_id":       testTenantID,
		"amount":          int64(2_500),
		"idempotency_key": "msg-42",
	})
	if duplicate.Code != http.StatusConflict {
		test.Fatalf("expected 409 for duplicate idempotency key, got %d", duplicate.Code)
	}

	refund := performMachine(test, router, http.MethodPost, "/api/refund", map[string]any{
		"reference": outcome.EntryCode,
		"reason":    "delivery failed",
	})
	if refund.Code != http.StatusOK {
		test.Fatalf("refund failed: %d %s", refund.Code, refund.Body.String())
	}
	var refunded struct {
		Available int64 `json:"available"`
	}
	decodeBody(test, refund, &refunded)
	if refunded.Available != 100_000 {
		test.Fatalf("expected balance restored to 100000, got %d", refunded.Available)
	}

	again := performMachine(test, router, http.MethodPost, "/api/refund", map[string]any{
		"reference": outcome.EntryCode,
		"reason":    "delivery failed",
	})
	if again.Code != http.StatusConflict {
		test.Fatalf("expected 409 for second refund, got %d", again.Code)
	}
}

func TestRefundUnknownReferenceMapsTo404(test *testing.T) {
	router := newTestRouter(test)
	recorder := performMachine(test, router, http.MethodPost, "/api/refund", map[string]any{
		"reference": "TRX-20240101000000-DEADBEEF",
		"reason":    "mistake",
	})
	if recorder.Code != http.StatusNotFound {
		test.Fatalf("expected 404, got %d %s", recorder.Code, recorder.Body.String())
	}
}

func TestReconcileEndpointReportsBalancedLedger(test *testing.T) {
	router := newTestRouter(test)
	fundTenant(test, router, 100_000)

	recorder := performAdmin(test, router, http.MethodGet, "/admin/wallets/"+testTenantID+"/reconcile", nil, []string{"admin"})
	if recorder.Code != http.StatusOK {
		test.Fatalf("reconcile failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var report struct {
		Balanced bool  `json:"balanced"`
		Drift    int64 `json:"drift"`
	}
	decodeBody(test, recorder, &report)
	if !report.Balanced || report.Drift != 0 {
		test.Fatalf("expected balanced ledger, got %+v", report)
	}
}

func TestCorrectionEndpointAdjustsBalance(test *testing.T) {
	router := newTestRouter(test)
	fundTenant(test, router, 100_000)

	recorder := performAdmin(test, router, http.MethodPost, "/admin/corrections", map[string]any{
		"tenant_id": testTenantID,
		"amount":    int64(-40_000),
		"reason":    "duplicate manual topup",
	}, []string{"admin"})
	if recorder.Code != http.StatusOK {
		test.Fatalf("correction failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var correction struct {
		BalanceAfter int64 `json:"balance_after"`
	}
	decodeBody(test, recorder, &correction)
	if correction.BalanceAfter != 60_000 {
		test.Fatalf("expected 60000 after correction, got %d", correction.BalanceAfter)
	}
}
