// Package domain defines the legacy receipt reconciliation surface: clients
// that still hold an old-style receipt blob can push it here and have the
// ledger backfilled.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrReceiptRequired = errors.New("receipt_required")
	ErrReceiptInvalid  = errors.New("receipt_invalid")
	ErrExternalService = errors.New("verification_unavailable")
)

// Result summarizes one reconcile run.
type Result struct {
	Inserted   int  `json:"inserted"`
	Duplicates int  `json:"duplicates"`
	Failed     int  `json:"failed"`
	Requested  bool `json:"requestedTransactionFound"`
}

// Service reconciles a legacy receipt into the transaction ledger on behalf
// of one account.
type Service interface {
	// Reconcile verifies the receipt upstream and inserts every entry it
	// carries for the account. requestedTransactionID is optional; when
	// set, a failure inserting that specific entry fails the whole call
	// instead of being skipped.
	Reconcile(ctx context.Context, accountID snowflake.ID, receiptData, requestedTransactionID string) (*Result, error)
}
