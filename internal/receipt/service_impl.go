package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/hearthlabs/hearth/internal/account"
	"github.com/hearthlabs/hearth/internal/catalog"
	ledgerdomain "github.com/hearthlabs/hearth/internal/ledger/domain"
	ledgerrepo "github.com/hearthlabs/hearth/internal/ledger/repository"
	"github.com/hearthlabs/hearth/internal/observability/metrics"
	receiptdomain "github.com/hearthlabs/hearth/internal/receipt/domain"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Client    *Client
	Repo      ledgerrepo.Repository
	Directory account.Directory
	Catalog   *catalog.Catalog
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	log       *zap.Logger
	genID     *snowflake.Node
	client    *Client
	repo      ledgerrepo.Repository
	directory account.Directory
	catalog   *catalog.Catalog
	metrics   *metrics.Metrics
}

func NewService(p Params) receiptdomain.Service {
	return &Service{
		log:       p.Log.Named("receipt.service"),
		genID:     p.GenID,
		client:    p.Client,
		repo:      p.Repo,
		directory: p.Directory,
		catalog:   p.Catalog,
		metrics:   p.Metrics,
	}
}

// Reconcile verifies the receipt upstream and backfills the ledger for the
// account. Each entry is inserted independently: one bad entry does not
// poison the rest, unless it is the entry the client asked about.
func (s *Service) Reconcile(ctx context.Context, accountID snowflake.ID, receiptData, requestedTransactionID string) (*receiptdomain.Result, error) {
	receiptData = strings.TrimSpace(receiptData)
	if receiptData == "" {
		return nil, receiptdomain.ErrReceiptRequired
	}

	acct, err := s.directory.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Verify(ctx, receiptData)
	if err != nil {
		s.metrics.RecordReceiptReconcile("failed")
		return nil, err
	}

	renewals := renewalsByOriginalID(resp.PendingRenewalInfo)

	result := &receiptdomain.Result{}
	for i := range resp.LatestReceiptInfo {
		entry := &resp.LatestReceiptInfo[i]
		requested := requestedTransactionID != "" && entry.TransactionID == requestedTransactionID
		if requested {
			result.Requested = true
		}

		if !s.catalog.Recognized(entry.ProductID) {
			if requested {
				s.metrics.RecordReceiptReconcile("failed")
				return nil, fmt.Errorf("%w: unrecognized product %s", receiptdomain.ErrReceiptInvalid, entry.ProductID)
			}
			s.log.Debug("skipping receipt entry for unrecognized product",
				zap.String("transaction_id", entry.TransactionID),
				zap.String("product_id", entry.ProductID),
			)
			continue
		}

		inserted, err := s.insertEntry(ctx, acct.ID, entry, renewals[entry.OriginalTransactionID], resp.Environment)
		if err != nil {
			if requested {
				s.metrics.RecordReceiptReconcile("failed")
				return nil, err
			}
			result.Failed++
			s.log.Warn("skipping receipt entry",
				zap.String("transaction_id", entry.TransactionID),
				zap.Error(err),
			)
			continue
		}
		if inserted {
			result.Inserted++
		} else {
			result.Duplicates++
		}
	}

	s.metrics.RecordReceiptReconcile(reconcileResultLabel(result))
	return result, nil
}

func (s *Service) insertEntry(ctx context.Context, accountID snowflake.ID, entry *ReceiptEntry, renewal *PendingRenewal, environment string) (bool, error) {
	purchase := entry.PurchaseTime()
	if entry.TransactionID == "" || entry.ProductID == "" || purchase.IsZero() {
		return false, receiptdomain.ErrReceiptInvalid
	}

	row := &ledgerdomain.Transaction{
		ID:                    s.genID.Generate(),
		AccountID:             accountID,
		TransactionID:         entry.TransactionID,
		OriginalTransactionID: entry.OriginalTransactionID,
		WebOrderLineItemID:    entry.WebOrderLineItemID,
		ProductID:             entry.ProductID,
		SubscriptionGroupID:   entry.SubscriptionGroupID,
		PurchaseDate:          purchase,
		Quantity:              parseQuantity(entry.Quantity),
		OwnershipType:         ownershipOrPurchased(entry.InAppOwnershipType),
		AppAccountToken:       entry.AppAccountToken,
		Environment:           environmentOrProduction(environment),
	}
	if expires := entry.ExpiresTime(); !expires.IsZero() {
		row.ExpiresDate = &expires
	}
	if cancelled := entry.CancellationTime(); !cancelled.IsZero() {
		row.RevocationDate = &cancelled
		if reason, err := strconv.ParseInt(entry.CancellationReason, 10, 32); err == nil {
			r := int32(reason)
			row.RevocationReason = &r
		}
	}
	row.AutoRenewEnabled = true
	if renewal != nil {
		row.AutoRenewEnabled = renewal.AutoRenewStatus == "1"
		row.AutoRenewProductID = renewal.AutoRenewProductID
	}
	if row.RevocationDate != nil {
		row.AutoRenewEnabled = false
	}
	if catEntry, ok := s.catalog.Lookup(entry.ProductID); ok {
		row.MemberSeats = catEntry.MemberSeats
		row.PetSlots = catEntry.PetSlots
	}
	if raw, err := json.Marshal(entry); err == nil {
		row.RawPayload = datatypes.JSON(raw)
	}

	return s.repo.InsertTransaction(ctx, row)
}

func renewalsByOriginalID(renewals []PendingRenewal) map[string]*PendingRenewal {
	out := make(map[string]*PendingRenewal, len(renewals))
	for i := range renewals {
		out[renewals[i].OriginalTransactionID] = &renewals[i]
	}
	return out
}

func parseQuantity(q string) int32 {
	n, err := strconv.ParseInt(q, 10, 32)
	if err != nil || n <= 0 {
		return 1
	}
	return int32(n)
}

func environmentOrProduction(environment string) string {
	if environment == "" {
		return "Production"
	}
	return environment
}

func ownershipOrPurchased(ownership string) string {
	if ownership == "" {
		return "PURCHASED"
	}
	return ownership
}

func reconcileResultLabel(result *receiptdomain.Result) string {
	if result.Failed > 0 {
		return "partial"
	}
	return "ok"
}
