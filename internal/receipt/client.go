// Package receipt talks to the legacy verifyReceipt endpoint and reconciles
// its response into the transaction ledger.
package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hearthlabs/hearth/internal/config"
	receiptdomain "github.com/hearthlabs/hearth/internal/receipt/domain"
)

// Receipt status codes the upstream endpoint is known to return.
const (
	statusOK                = 0
	statusSandboxOnProd     = 21007
	statusProdOnSandbox     = 21008
	statusServerUnavailable = 21005
)

// VerifyResponse is the subset of the verifyReceipt response this service
// consumes. The legacy endpoint encodes every timestamp and number as a
// string.
type VerifyResponse struct {
	Status             int              `json:"status"`
	Environment        string           `json:"environment"`
	LatestReceiptInfo  []ReceiptEntry   `json:"latest_receipt_info"`
	PendingRenewalInfo []PendingRenewal `json:"pending_renewal_info"`
}

type ReceiptEntry struct {
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	WebOrderLineItemID    string `json:"web_order_line_item_id"`
	ProductID             string `json:"product_id"`
	SubscriptionGroupID   string `json:"subscription_group_identifier"`
	PurchaseDateMS        string `json:"purchase_date_ms"`
	ExpiresDateMS         string `json:"expires_date_ms"`
	CancellationDateMS    string `json:"cancellation_date_ms"`
	CancellationReason    string `json:"cancellation_reason"`
	Quantity              string `json:"quantity"`
	InAppOwnershipType    string `json:"in_app_ownership_type"`
	AppAccountToken       string `json:"app_account_token"`
}

type PendingRenewal struct {
	OriginalTransactionID string `json:"original_transaction_id"`
	AutoRenewStatus       string `json:"auto_renew_status"`
	AutoRenewProductID    string `json:"auto_renew_product_id"`
}

// PurchaseTime parses the millisecond-string purchase date.
func (e *ReceiptEntry) PurchaseTime() time.Time { return msStringTime(e.PurchaseDateMS) }

// ExpiresTime parses the millisecond-string expiry, zero when absent.
func (e *ReceiptEntry) ExpiresTime() time.Time { return msStringTime(e.ExpiresDateMS) }

// CancellationTime parses the millisecond-string cancellation date.
func (e *ReceiptEntry) CancellationTime() time.Time { return msStringTime(e.CancellationDateMS) }

func msStringTime(ms string) time.Time {
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}

// Client posts receipts to the verification endpoint, retrying against the
// other environment when the status code says the receipt belongs there.
type Client struct {
	httpClient *http.Client
	url        string
	sandboxURL string
	secret     string
	log        *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		url:        cfg.ReceiptVerifyURL,
		sandboxURL: cfg.ReceiptVerifySandboxURL,
		secret:     cfg.ReceiptSharedSecret,
		log:        log.Named("receipt.client"),
	}
}

// Verify sends the receipt to the configured endpoint. Status 21007 redirects
// to the sandbox endpoint, 21008 back to production; at most one redirect is
// followed.
func (c *Client) Verify(ctx context.Context, receiptData string) (*VerifyResponse, error) {
	resp, err := c.post(ctx, c.url, receiptData)
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case statusSandboxOnProd:
		c.log.Debug("receipt belongs to sandbox, retrying")
		return c.finish(c.post(ctx, c.sandboxURL, receiptData))
	case statusProdOnSandbox:
		c.log.Debug("receipt belongs to production, retrying")
		return c.finish(c.post(ctx, c.url, receiptData))
	default:
		return c.finish(resp, nil)
	}
}

func (c *Client) finish(resp *VerifyResponse, err error) (*VerifyResponse, error) {
	if err != nil {
		return nil, err
	}
	switch resp.Status {
	case statusOK:
		return resp, nil
	case statusServerUnavailable:
		return nil, fmt.Errorf("%w: upstream status %d", receiptdomain.ErrExternalService, resp.Status)
	default:
		return nil, fmt.Errorf("%w: upstream status %d", receiptdomain.ErrReceiptInvalid, resp.Status)
	}
}

func (c *Client) post(ctx context.Context, url, receiptData string) (*VerifyResponse, error) {
	body, err := json.Marshal(map[string]any{
		"receipt-data":             receiptData,
		"password":                 c.secret,
		"exclude-old-transactions": false,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", receiptdomain.ErrExternalService, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: upstream http %d", receiptdomain.ErrExternalService, httpResp.StatusCode)
	}

	var resp VerifyResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", receiptdomain.ErrExternalService, err)
	}
	return &resp, nil
}
