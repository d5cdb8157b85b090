// Package domain defines the entitlement snapshot exposed to the rest of the
// backend: which tier an account currently has and what it is allowed to use.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Source distinguishes a paid entitlement from the free fallback.
type Source string

const (
	SourceSubscription Source = "subscription"
	SourceFree         Source = "free"
)

// Entitlement is the resolved state for one account at one instant.
type Entitlement struct {
	AccountID        snowflake.ID `json:"accountId"`
	ProductID        string       `json:"productId"`
	Tier             string       `json:"tier"`
	Rank             int          `json:"rank"`
	MemberSeats      int          `json:"memberSeats"`
	PetSlots         int          `json:"petSlots"`
	ExpiresAt        *time.Time   `json:"expiresAt,omitempty"`
	AutoRenewEnabled bool         `json:"autoRenewEnabled"`
	Source           Source       `json:"source"`
	ResolvedAt       time.Time    `json:"resolvedAt"`
}

// Service resolves entitlements from the transaction ledger.
type Service interface {
	Resolve(ctx context.Context, accountID snowflake.ID) (*Entitlement, error)
}
