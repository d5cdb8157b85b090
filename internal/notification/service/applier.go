package service

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/hearthlabs/hearth/internal/appstore"
	ledgerdomain "github.com/hearthlabs/hearth/internal/ledger/domain"
	ledgerrepo "github.com/hearthlabs/hearth/internal/ledger/repository"
	notificationdomain "github.com/hearthlabs/hearth/internal/notification/domain"
)

type route int

const (
	routeIgnore route = iota
	routeInsert
	routeRevoke
	routeRenewalUpdate
)

// routeFor is a closed switch over the notification types the pipeline acts
// on. Informational types and anything the store adds later fall through to
// routeIgnore; the envelope still records them.
func routeFor(notificationType string) route {
	switch notificationType {
	case appstore.TypeSubscribed, appstore.TypeDidRenew, appstore.TypeOfferRedeemed:
		return routeInsert
	case appstore.TypeRefund, appstore.TypeRevoke,
		appstore.TypeRefundDeclined, appstore.TypeRefundReversed:
		return routeRevoke
	case appstore.TypeDidChangeRenewalPref, appstore.TypeDidChangeRenewalStatus,
		appstore.TypeDidFailToRenew, appstore.TypeExpired:
		return routeRenewalUpdate
	default:
		return routeIgnore
	}
}

func (s *Service) apply(
	ctx context.Context,
	repo ledgerrepo.Repository,
	log *zap.Logger,
	r route,
	notif *appstore.Notification,
	txnInfo *appstore.TransactionInfo,
	renewalInfo *appstore.RenewalInfo,
) (notificationdomain.Outcome, error) {
	switch r {
	case routeInsert:
		return s.applyPurchase(ctx, repo, log, txnInfo, renewalInfo)
	case routeRevoke:
		return s.applyRevocation(ctx, repo, log, txnInfo)
	case routeRenewalUpdate:
		return s.applyRenewalUpdate(ctx, repo, log, txnInfo, renewalInfo)
	default:
		return notificationdomain.OutcomeIgnored, nil
	}
}

// applyPurchase records a new transaction row for the resolved owner. Family
// shared transactions are skipped: only the purchasing account earns the
// entitlement, everyone else gets access through member seats.
func (s *Service) applyPurchase(
	ctx context.Context,
	repo ledgerrepo.Repository,
	log *zap.Logger,
	txnInfo *appstore.TransactionInfo,
	renewalInfo *appstore.RenewalInfo,
) (notificationdomain.Outcome, error) {
	if txnInfo.InAppOwnershipType != appstore.OwnershipPurchased {
		log.Info("skipping non-purchased transaction",
			zap.String("ownership_type", txnInfo.InAppOwnershipType),
			zap.String("transaction_id", txnInfo.TransactionID),
		)
		return notificationdomain.OutcomeUnowned, nil
	}

	ownerID, err := s.resolveOwner(ctx, repo, txnInfo)
	if err != nil {
		if errors.Is(err, notificationdomain.ErrOwnerNotFound) {
			log.Warn("no local owner for transaction",
				zap.String("transaction_id", txnInfo.TransactionID),
				zap.String("original_transaction_id", txnInfo.OriginalTransactionID),
			)
			return notificationdomain.OutcomeUnowned, nil
		}
		return "", err
	}

	row := &ledgerdomain.Transaction{
		ID:                    s.genID.Generate(),
		AccountID:             ownerID,
		TransactionID:         txnInfo.TransactionID,
		OriginalTransactionID: txnInfo.OriginalTransactionID,
		WebOrderLineItemID:    txnInfo.WebOrderLineItemID,
		ProductID:             txnInfo.ProductID,
		SubscriptionGroupID:   txnInfo.SubscriptionGroupID,
		PurchaseDate:          txnInfo.PurchaseTime(),
		Quantity:              quantityOrOne(txnInfo.Quantity),
		OwnershipType:         txnInfo.InAppOwnershipType,
		AppAccountToken:       txnInfo.AppAccountToken,
		Environment:           txnInfo.Environment,
	}
	if expires := txnInfo.ExpiresTime(); !expires.IsZero() {
		row.ExpiresDate = &expires
	}
	if txnInfo.Revoked() {
		revoked := txnInfo.RevocationTime()
		row.RevocationDate = &revoked
		row.RevocationReason = txnInfo.RevocationReason
	}
	// A fresh purchase renews by default; the renewal payload overrides, and a
	// payload that already carries a revocation never renews.
	row.AutoRenewEnabled = true
	if renewalInfo != nil {
		row.AutoRenewEnabled = renewalInfo.AutoRenewEnabled()
		row.AutoRenewProductID = renewalInfo.AutoRenewProductID
	}
	if row.RevocationDate != nil {
		row.AutoRenewEnabled = false
	}
	if entry, ok := s.catalog.Lookup(txnInfo.ProductID); ok {
		row.MemberSeats = entry.MemberSeats
		row.PetSlots = entry.PetSlots
	} else {
		log.Warn("purchase for product missing from catalog", zap.String("product_id", txnInfo.ProductID))
	}
	if raw, err := jsonMarshal(txnInfo); err == nil {
		row.RawPayload = raw
	}

	inserted, err := repo.InsertTransaction(ctx, row)
	if err != nil {
		return "", err
	}
	if !inserted {
		log.Info("transaction already in ledger", zap.String("transaction_id", txnInfo.TransactionID))
	}
	return notificationdomain.OutcomeApplied, nil
}

// applyRevocation marks the referenced transaction revoked. A missing target
// is benign: the purchase never reached us, so there is nothing to claw back.
func (s *Service) applyRevocation(
	ctx context.Context,
	repo ledgerrepo.Repository,
	log *zap.Logger,
	txnInfo *appstore.TransactionInfo,
) (notificationdomain.Outcome, error) {
	revokedAt := s.timeOrNow(txnInfo.RevocationTime())

	rows, err := repo.SetRevocation(ctx, txnInfo.TransactionID, revokedAt, txnInfo.RevocationReason)
	if err != nil {
		return "", err
	}
	if rows == 0 {
		log.Warn("revocation target not in ledger", zap.String("transaction_id", txnInfo.TransactionID))
		return notificationdomain.OutcomeUnowned, nil
	}
	return notificationdomain.OutcomeApplied, nil
}

// applyRenewalUpdate rewrites auto-renew state on the latest row of the
// subscription. Every renewal update names the one transaction that carries
// the account's renewal intent, so auto-renew is cleared on every other
// active transaction the account holds, including older rows of the same
// chain.
func (s *Service) applyRenewalUpdate(
	ctx context.Context,
	repo ledgerrepo.Repository,
	log *zap.Logger,
	txnInfo *appstore.TransactionInfo,
	renewalInfo *appstore.RenewalInfo,
) (notificationdomain.Outcome, error) {
	if renewalInfo == nil {
		log.Warn("renewal update without signedRenewalInfo")
		return notificationdomain.OutcomeIgnored, nil
	}

	originalID := renewalInfo.OriginalTransactionID
	if originalID == "" {
		originalID = txnInfo.OriginalTransactionID
	}

	rows, err := repo.SetAutoRenew(ctx, originalID, renewalInfo.AutoRenewEnabled(), renewalInfo.AutoRenewProductID)
	if err != nil {
		return "", err
	}
	if rows == 0 {
		log.Warn("renewal update for unknown subscription", zap.String("original_transaction_id", originalID))
		return notificationdomain.OutcomeUnowned, nil
	}

	target, err := repo.LatestByOriginalTransactionID(ctx, originalID)
	if err != nil {
		return "", err
	}
	if _, err := repo.ClearAutoRenewExcept(ctx, target.AccountID, target.TransactionID, s.clock.Now()); err != nil {
		return "", err
	}
	return notificationdomain.OutcomeApplied, nil
}

func quantityOrOne(q int32) int32 {
	if q <= 0 {
		return 1
	}
	return q
}

func jsonMarshal(v any) (datatypes.JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
