// Package account reads the household account directory. This service does
// not own the accounts table; sign-up and profile management live elsewhere,
// so everything here is read-only.
package account

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var ErrAccountNotFound = errors.New("account_not_found")

// Account is the slice of the directory row this service cares about.
type Account struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	AppAccountToken string       `gorm:"type:text;uniqueIndex"`
	DisplayName     string       `gorm:"type:text"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

// Directory resolves store identifiers to local accounts.
type Directory interface {
	FindByAppAccountToken(ctx context.Context, token string) (*Account, error)
	FindByID(ctx context.Context, id snowflake.ID) (*Account, error)
}
