package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	ledgerdomain "github.com/hearthlabs/hearth/internal/ledger/domain"
)

// Repository is the persistence surface for the transaction ledger.
//
// Inserts report whether a row was actually written so callers can tell a
// fresh record from an idempotent replay.
type Repository interface {
	// WithTx returns a copy of the repository bound to the given
	// transaction handle so a whole notification can commit atomically.
	WithTx(tx *gorm.DB) Repository

	InsertTransaction(ctx context.Context, txn *ledgerdomain.Transaction) (bool, error)
	InsertEnvelope(ctx context.Context, env *ledgerdomain.NotificationEnvelope) (bool, error)
	UpdateEnvelopeOutcome(ctx context.Context, notificationUUID, outcome string) error

	FindByTransactionID(ctx context.Context, transactionID string) (*ledgerdomain.Transaction, error)
	LatestByOriginalTransactionID(ctx context.Context, originalTransactionID string) (*ledgerdomain.Transaction, error)
	LatestByTransactionID(ctx context.Context, transactionID string) (*ledgerdomain.Transaction, error)
	ListActiveByAccount(ctx context.Context, accountID snowflake.ID, now time.Time) ([]ledgerdomain.Transaction, error)

	SetRevocation(ctx context.Context, transactionID string, revokedAt time.Time, reason *int32) (int64, error)
	SetAutoRenew(ctx context.Context, originalTransactionID string, enabled bool, autoRenewProductID string) (int64, error)
	ClearAutoRenewExcept(ctx context.Context, accountID snowflake.ID, transactionID string, now time.Time) (int64, error)
}
