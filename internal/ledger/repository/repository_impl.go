package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hearthlabs/hearth/pkg/db"

	ledgerdomain "github.com/hearthlabs/hearth/internal/ledger/domain"
)

type gormRepository struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

// New builds the gorm-backed ledger repository.
func New(gdb *gorm.DB, log *zap.Logger, genID *snowflake.Node) Repository {
	return &gormRepository{
		db:    gdb,
		log:   log.Named("ledger.repository"),
		genID: genID,
	}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	return &gormRepository{db: tx, log: r.log, genID: r.genID}
}

func (r *gormRepository) InsertTransaction(ctx context.Context, txn *ledgerdomain.Transaction) (bool, error) {
	if txn.ID == 0 {
		txn.ID = r.genID.Generate()
	}
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Exec(
		`INSERT INTO transactions (
			id, account_id, transaction_id, original_transaction_id, web_order_line_item_id,
			product_id, subscription_group_id, purchase_date, expires_date, quantity,
			ownership_type, app_account_token, environment, revocation_date, revocation_reason,
			auto_renew_enabled, auto_renew_product_id, member_seats, pet_slots,
			raw_payload, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (transaction_id) DO NOTHING`,
		txn.ID,
		txn.AccountID,
		txn.TransactionID,
		txn.OriginalTransactionID,
		txn.WebOrderLineItemID,
		txn.ProductID,
		txn.SubscriptionGroupID,
		txn.PurchaseDate.UTC(),
		txn.ExpiresDate,
		txn.Quantity,
		txn.OwnershipType,
		txn.AppAccountToken,
		txn.Environment,
		txn.RevocationDate,
		txn.RevocationReason,
		txn.AutoRenewEnabled,
		txn.AutoRenewProductID,
		txn.MemberSeats,
		txn.PetSlots,
		txn.RawPayload,
		now,
		now,
	)
	if result.Error != nil {
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *gormRepository) InsertEnvelope(ctx context.Context, env *ledgerdomain.NotificationEnvelope) (bool, error) {
	if env.ID == 0 {
		env.ID = r.genID.Generate()
	}
	result := r.db.WithContext(ctx).Exec(
		`INSERT INTO notification_envelopes (
			id, notification_uuid, notification_type, subtype, environment,
			transaction_id, product_id, payload, outcome, processed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (notification_uuid) DO NOTHING`,
		env.ID,
		env.NotificationUUID,
		env.NotificationType,
		env.Subtype,
		env.Environment,
		env.TransactionID,
		env.ProductID,
		env.Payload,
		env.Outcome,
		env.ProcessedAt.UTC(),
		time.Now().UTC(),
	)
	if result.Error != nil {
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *gormRepository) UpdateEnvelopeOutcome(ctx context.Context, notificationUUID, outcome string) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE notification_envelopes SET outcome = ? WHERE notification_uuid = ?`,
		outcome,
		notificationUUID,
	).Error
}

func (r *gormRepository) FindByTransactionID(ctx context.Context, transactionID string) (*ledgerdomain.Transaction, error) {
	var txn ledgerdomain.Transaction
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM transactions WHERE transaction_id = ? LIMIT 1`,
		transactionID,
	).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgerdomain.ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

func (r *gormRepository) LatestByOriginalTransactionID(ctx context.Context, originalTransactionID string) (*ledgerdomain.Transaction, error) {
	var txn ledgerdomain.Transaction
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM transactions
		 WHERE original_transaction_id = ?
		 ORDER BY purchase_date DESC, id DESC
		 LIMIT 1`,
		originalTransactionID,
	).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgerdomain.ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

func (r *gormRepository) LatestByTransactionID(ctx context.Context, transactionID string) (*ledgerdomain.Transaction, error) {
	var txn ledgerdomain.Transaction
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM transactions
		 WHERE transaction_id = ?
		 ORDER BY purchase_date DESC, id DESC
		 LIMIT 1`,
		transactionID,
	).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgerdomain.ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

func (r *gormRepository) ListActiveByAccount(ctx context.Context, accountID snowflake.ID, now time.Time) ([]ledgerdomain.Transaction, error) {
	var rows []ledgerdomain.Transaction
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM transactions
		 WHERE account_id = ?
		   AND revocation_date IS NULL
		   AND (expires_date IS NULL OR expires_date > ?)
		 ORDER BY purchase_date DESC, id DESC`,
		accountID,
		now.UTC(),
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *gormRepository) SetRevocation(ctx context.Context, transactionID string, revokedAt time.Time, reason *int32) (int64, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET revocation_date = ?, revocation_reason = ?, auto_renew_enabled = FALSE, updated_at = ?
		 WHERE transaction_id = ? AND revocation_date IS NULL`,
		revokedAt.UTC(),
		reason,
		time.Now().UTC(),
		transactionID,
	)
	return result.RowsAffected, result.Error
}

func (r *gormRepository) SetAutoRenew(ctx context.Context, originalTransactionID string, enabled bool, autoRenewProductID string) (int64, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET auto_renew_enabled = ?, auto_renew_product_id = ?, updated_at = ?
		 WHERE transaction_id = (
			SELECT transaction_id FROM transactions
			WHERE original_transaction_id = ?
			ORDER BY purchase_date DESC, id DESC
			LIMIT 1
		 )`,
		enabled,
		autoRenewProductID,
		time.Now().UTC(),
		originalTransactionID,
	)
	return result.RowsAffected, result.Error
}

func (r *gormRepository) ClearAutoRenewExcept(ctx context.Context, accountID snowflake.ID, transactionID string, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET auto_renew_enabled = FALSE, updated_at = ?
		 WHERE account_id = ?
		   AND transaction_id <> ?
		   AND auto_renew_enabled = TRUE
		   AND revocation_date IS NULL
		   AND (expires_date IS NULL OR expires_date > ?)`,
		time.Now().UTC(),
		accountID,
		transactionID,
		now.UTC(),
	)
	return result.RowsAffected, result.Error
}
