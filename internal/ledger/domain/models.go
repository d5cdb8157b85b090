// Package domain defines the durable records of the entitlement ledger: one
// row per store transaction and one row per notification envelope received.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var ErrTransactionNotFound = errors.New("transaction_not_found")

// Transaction mirrors a signed store transaction after ownership has been
// resolved to a local account. Rows are keyed by the store's transactionId and
// are immutable except for revocation and auto-renew state.
//
// MemberSeats and PetSlots are captured from the product catalog at insert
// time so entitlement history survives later catalog edits.
type Transaction struct {
	ID                    snowflake.ID   `gorm:"primaryKey"`
	AccountID             snowflake.ID   `gorm:"not null;index"`
	TransactionID         string         `gorm:"type:text;not null;uniqueIndex"`
	OriginalTransactionID string         `gorm:"type:text;not null;index"`
	WebOrderLineItemID    string         `gorm:"type:text"`
	ProductID             string         `gorm:"type:text;not null"`
	SubscriptionGroupID   string         `gorm:"type:text"`
	PurchaseDate          time.Time      `gorm:"not null"`
	ExpiresDate           *time.Time     `gorm:"index"`
	Quantity              int32          `gorm:"not null;default:1"`
	OwnershipType         string         `gorm:"type:text;not null"`
	AppAccountToken       string         `gorm:"type:text"`
	Environment           string         `gorm:"type:text;not null"`
	RevocationDate        *time.Time     ``
	RevocationReason      *int32         ``
	AutoRenewEnabled      bool           `gorm:"not null;default:false"`
	AutoRenewProductID    string         `gorm:"type:text"`
	MemberSeats           int            `gorm:"not null;default:0"`
	PetSlots              int            `gorm:"not null;default:0"`
	RawPayload            datatypes.JSON ``
	CreatedAt             time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt             time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "transactions" }

// Revoked reports whether the store has clawed this transaction back.
func (t *Transaction) Revoked() bool { return t.RevocationDate != nil }

// ActiveAt reports whether the transaction still grants entitlement at the
// given instant: not revoked and not past its expiry.
func (t *Transaction) ActiveAt(now time.Time) bool {
	if t.Revoked() {
		return false
	}
	if t.ExpiresDate == nil {
		return true
	}
	return t.ExpiresDate.After(now)
}

// NotificationEnvelope records every store notification we have seen, keyed
// by notificationUUID. The row is what makes redelivery idempotent.
type NotificationEnvelope struct {
	ID               snowflake.ID   `gorm:"primaryKey"`
	NotificationUUID string         `gorm:"type:text;not null;uniqueIndex"`
	NotificationType string         `gorm:"type:text;not null;index"`
	Subtype          string         `gorm:"type:text"`
	Environment      string         `gorm:"type:text;not null"`
	TransactionID    string         `gorm:"type:text;index"`
	ProductID        string         `gorm:"type:text"`
	Payload          datatypes.JSON ``
	Outcome          string         `gorm:"type:text;not null"`
	ProcessedAt      time.Time      `gorm:"not null"`
	CreatedAt        time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (NotificationEnvelope) TableName() string { return "notification_envelopes" }
