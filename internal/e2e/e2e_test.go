package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/hearthlabs/hearth/internal/account"
	"github.com/hearthlabs/hearth/internal/appstore"
	"github.com/hearthlabs/hearth/internal/appstore/appstoretest"
	"github.com/hearthlabs/hearth/internal/catalog"
	"github.com/hearthlabs/hearth/internal/clock"
	"github.com/hearthlabs/hearth/internal/config"
	"github.com/hearthlabs/hearth/internal/entitlement"
	ledgerfx "github.com/hearthlabs/hearth/internal/ledger"
	ledgerdomain "github.com/hearthlabs/hearth/internal/ledger/domain"
	"github.com/hearthlabs/hearth/internal/notification"
	"github.com/hearthlabs/hearth/internal/observability"
	"github.com/hearthlabs/hearth/internal/receipt"
	"github.com/hearthlabs/hearth/internal/server"
	"github.com/hearthlabs/hearth/pkg/db"
)

type testEnv struct {
	app       *fx.App
	server    *server.Server
	db        *gorm.DB
	node      *snowflake.Node
	authority *appstoretest.Authority
	baseURL   string
	httpSrv   *httptest.Server
	upstream  *fakeVerifyReceipt
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

// fakeVerifyReceipt stands in for the legacy verifyReceipt endpoint; tests
// swap the response per scenario.
type fakeVerifyReceipt struct {
	mu       sync.Mutex
	response receipt.VerifyResponse
	srv      *httptest.Server
}

func newFakeVerifyReceipt() *fakeVerifyReceipt {
	f := &fakeVerifyReceipt{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		resp := f.response
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	return f
}

func (f *fakeVerifyReceipt) setResponse(resp receipt.VerifyResponse) {
	f.mu.Lock()
	f.response = resp
	f.mu.Unlock()
}

func startEnv() (*testEnv, error) {
	authority, err := appstoretest.NewAuthority()
	if err != nil {
		return nil, err
	}

	rootFile, err := os.CreateTemp("", "roots-*.pem")
	if err != nil {
		return nil, err
	}
	if _, err := rootFile.Write(authority.RootPEM()); err != nil {
		return nil, err
	}
	if err := rootFile.Close(); err != nil {
		return nil, err
	}

	upstream := newFakeVerifyReceipt()

	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("LOG_LEVEL", "error")
	setEnvIfEmpty("DATABASE_TYPE", "sqlite")
	setEnvIfEmpty("DATABASE_NAME", "file:hearth_e2e?mode=memory&cache=shared")
	setEnvIfEmpty("APPSTORE_ENVIRONMENT", "Production")
	setEnvIfEmpty("APPSTORE_BUNDLE_ID", "app.hearth")
	_ = os.Setenv("APPSTORE_ROOT_CA_FILE", rootFile.Name())
	_ = os.Setenv("RECEIPT_VERIFY_URL", upstream.srv.URL+"/production")
	_ = os.Setenv("RECEIPT_VERIFY_SANDBOX_URL", upstream.srv.URL+"/sandbox")
	_ = os.Setenv("RECEIPT_SHARED_SECRET", "e2e-secret")

	var (
		srv    *server.Server
		dbConn *gorm.DB
		genID  *snowflake.Node
	)

	app := fx.New(
		observability.Module,
		config.Module,
		db.Module,
		clock.Module,
		appstore.Module,
		catalog.Module,
		account.Module,
		ledgerfx.Module,
		entitlement.Module,
		notification.Module,
		receipt.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Populate(&srv, &dbConn, &genID),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	if err := dbConn.AutoMigrate(
		&account.Account{},
		&ledgerdomain.Transaction{},
		&ledgerdomain.NotificationEnvelope{},
	); err != nil {
		app.Stop(context.Background())
		return nil, err
	}

	httpSrv := httptest.NewServer(srv.Engine())

	return &testEnv{
		app:       app,
		server:    srv,
		db:        dbConn,
		node:      genID,
		authority: authority,
		baseURL:   httpSrv.URL,
		httpSrv:   httpSrv,
		upstream:  upstream,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.upstream != nil {
		e.upstream.srv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func resetDatabase(t *testing.T) {
	t.Helper()
	for _, table := range []string{"transactions", "notification_envelopes", "accounts"} {
		if err := env.db.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("reset %s: %v", table, err)
		}
	}
}

func createAccount(t *testing.T, token string) snowflake.ID {
	t.Helper()
	id := env.node.Generate()
	if err := env.db.Exec(
		`INSERT INTO accounts (id, app_account_token, display_name, created_at) VALUES (?, ?, ?, ?)`,
		id, token, "E2E Household", time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("create account: %v", err)
	}
	return id
}

func signSubscribed(t *testing.T, uuid, transactionID, originalID, productID, token string) string {
	t.Helper()
	now := time.Now().UTC()

	signedTxn, err := env.authority.Sign(map[string]any{
		"transactionId":         transactionID,
		"originalTransactionId": originalID,
		"bundleId":              "app.hearth",
		"productId":             productID,
		"purchaseDate":          now.Add(-time.Minute).UnixMilli(),
		"expiresDate":           now.Add(30 * 24 * time.Hour).UnixMilli(),
		"inAppOwnershipType":    "PURCHASED",
		"appAccountToken":       token,
		"environment":           "Production",
	})
	if err != nil {
		t.Fatalf("sign transaction info: %v", err)
	}

	signedRenewal, err := env.authority.Sign(map[string]any{
		"originalTransactionId": originalID,
		"autoRenewProductId":    productID,
		"autoRenewStatus":       1,
		"environment":           "Production",
	})
	if err != nil {
		t.Fatalf("sign renewal info: %v", err)
	}

	payload, err := env.authority.Sign(map[string]any{
		"notificationType": appstore.TypeSubscribed,
		"subtype":          "INITIAL_BUY",
		"notificationUUID": uuid,
		"signedDate":       now.UnixMilli(),
		"data": map[string]any{
			"bundleId":              "app.hearth",
			"environment":           "Production",
			"signedTransactionInfo": signedTxn,
			"signedRenewalInfo":     signedRenewal,
		},
	})
	if err != nil {
		t.Fatalf("sign notification: %v", err)
	}
	return payload
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_WebhookToEntitlement(t *testing.T) {
	resetDatabase(t)

	token := "0e2e0001-0000-4000-8000-000000000001"
	accountID := createAccount(t, token)

	payload := signSubscribed(t, "e2e-uuid-1", "e2e-txn-1", "e2e-orig-1", "app.hearth.family.monthly", token)
	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/webhooks/appstore", map[string]any{"signedPayload": payload})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook failed: %d: %s", resp.StatusCode, string(body))
	}
	var outcome struct {
		Outcome string `json:"outcome"`
	}
	if err := json.Unmarshal(body, &outcome); err != nil {
		t.Fatalf("decode webhook response: %v", err)
	}
	if outcome.Outcome != "applied" {
		t.Fatalf("expected outcome applied, got %s", outcome.Outcome)
	}

	// Redelivery is acknowledged without reprocessing.
	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/webhooks/appstore", map[string]any{"signedPayload": payload})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook redelivery failed: %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &outcome); err != nil {
		t.Fatalf("decode redelivery response: %v", err)
	}
	if outcome.Outcome != "deduplicated" {
		t.Fatalf("expected outcome deduplicated, got %s", outcome.Outcome)
	}

	resp, body = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/accounts/%d/entitlement", env.baseURL, accountID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("entitlement read failed: %d: %s", resp.StatusCode, string(body))
	}
	var ent struct {
		Tier        string `json:"tier"`
		MemberSeats int    `json:"memberSeats"`
		PetSlots    int    `json:"petSlots"`
		Source      string `json:"source"`
	}
	if err := json.Unmarshal(body, &ent); err != nil {
		t.Fatalf("decode entitlement: %v", err)
	}
	if ent.Tier != "family" || ent.MemberSeats != 12 || ent.PetSlots != 10 {
		t.Fatalf("unexpected entitlement: %+v", ent)
	}
	if ent.Source != "subscription" {
		t.Fatalf("expected subscription source, got %s", ent.Source)
	}
}

func TestE2E_EntitlementDefaultsToFreeTier(t *testing.T) {
	resetDatabase(t)

	accountID := createAccount(t, "0e2e0002-0000-4000-8000-000000000002")

	resp, body := doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/accounts/%d/entitlement", env.baseURL, accountID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("entitlement read failed: %d: %s", resp.StatusCode, string(body))
	}
	var ent struct {
		Tier   string `json:"tier"`
		Source string `json:"source"`
	}
	if err := json.Unmarshal(body, &ent); err != nil {
		t.Fatalf("decode entitlement: %v", err)
	}
	if ent.Tier != "free" || ent.Source != "free" {
		t.Fatalf("expected free tier fallback, got %+v", ent)
	}
}

func TestE2E_WebhookRejectsForgedPayload(t *testing.T) {
	resetDatabase(t)

	forger, err := appstoretest.NewAuthority()
	if err != nil {
		t.Fatalf("build forger: %v", err)
	}
	forged, err := forger.Sign(map[string]any{
		"notificationType": appstore.TypeSubscribed,
		"notificationUUID": "e2e-forged",
		"data":             map[string]any{"environment": "Production"},
	})
	if err != nil {
		t.Fatalf("sign forged payload: %v", err)
	}

	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/webhooks/appstore", map[string]any{"signedPayload": forged})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/webhooks/appstore", map[string]any{"signedPayload": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400 for empty payload, got %d: %s", resp.StatusCode, string(body))
	}
}

func TestE2E_ReceiptReconciliation(t *testing.T) {
	resetDatabase(t)

	accountID := createAccount(t, "0e2e0003-0000-4000-8000-000000000003")
	now := time.Now().UTC()

	env.upstream.setResponse(receipt.VerifyResponse{
		Status:      0,
		Environment: "Production",
		LatestReceiptInfo: []receipt.ReceiptEntry{{
			TransactionID:         "e2e-rcpt-1",
			OriginalTransactionID: "e2e-rcpt-orig-1",
			ProductID:             "app.hearth.plus.monthly",
			PurchaseDateMS:        fmt.Sprintf("%d", now.Add(-time.Hour).UnixMilli()),
			ExpiresDateMS:         fmt.Sprintf("%d", now.Add(30*24*time.Hour).UnixMilli()),
			Quantity:              "1",
			InAppOwnershipType:    "PURCHASED",
		}},
		PendingRenewalInfo: []receipt.PendingRenewal{{
			OriginalTransactionID: "e2e-rcpt-orig-1",
			AutoRenewStatus:       "1",
			AutoRenewProductID:    "app.hearth.plus.monthly",
		}},
	})

	url := fmt.Sprintf("%s/api/accounts/%d/receipts", env.baseURL, accountID)
	resp, body := doJSON(t, http.MethodPost, url, map[string]any{
		"receiptData":   "e2e-receipt-blob",
		"transactionId": "e2e-rcpt-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reconcile failed: %d: %s", resp.StatusCode, string(body))
	}
	var reconcile struct {
		Result struct {
			Inserted  int  `json:"inserted"`
			Requested bool `json:"requestedTransactionFound"`
		} `json:"result"`
		Entitlement struct {
			Tier string `json:"tier"`
		} `json:"entitlement"`
	}
	if err := json.Unmarshal(body, &reconcile); err != nil {
		t.Fatalf("decode reconcile response: %v", err)
	}
	if reconcile.Result.Inserted != 1 || !reconcile.Result.Requested {
		t.Fatalf("unexpected reconcile result: %+v", reconcile.Result)
	}
	if reconcile.Entitlement.Tier != "plus" {
		t.Fatalf("expected plus tier after reconcile, got %s", reconcile.Entitlement.Tier)
	}

	resp, body = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/accounts/%d/entitlement", env.baseURL, accountID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("entitlement read failed: %d: %s", resp.StatusCode, string(body))
	}
	var ent struct {
		Tier string `json:"tier"`
	}
	if err := json.Unmarshal(body, &ent); err != nil {
		t.Fatalf("decode entitlement: %v", err)
	}
	if ent.Tier != "plus" {
		t.Fatalf("expected plus tier after reconcile, got %s", ent.Tier)
	}
}

func TestE2E_UnknownAccountIsNotFound(t *testing.T) {
	resetDatabase(t)

	resp, body := doJSON(t, http.MethodGet, env.baseURL+"/api/accounts/123456789/entitlement", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d: %s", resp.StatusCode, string(body))
	}
}

func doJSON(t *testing.T, method, reqURL string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode json: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, reqURL, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}
