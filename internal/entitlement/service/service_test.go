package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hearthlabs/hearth/internal/catalog"
	"github.com/hearthlabs/hearth/internal/clock"
	entitlementdomain "github.com/hearthlabs/hearth/internal/entitlement/domain"
	ledgerdomain "github.com/hearthlabs/hearth/internal/ledger/domain"
	ledgerrepo "github.com/hearthlabs/hearth/internal/ledger/repository"
)

type fixture struct {
	svc       entitlementdomain.Service
	repo      ledgerrepo.Repository
	node      *snowflake.Node
	clock     *clock.FakeClock
	accountID snowflake.ID
}

func setup(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ledgerdomain.Transaction{}, &ledgerdomain.NotificationEnvelope{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cat, err := catalog.New([]catalog.Entry{
		{ProductID: "app.hearth.plus.monthly", Tier: "plus", Rank: 5, MemberSeats: 6, PetSlots: 3},
		{ProductID: "app.hearth.plus.yearly", Tier: "plus", Rank: 5, MemberSeats: 6, PetSlots: 3},
		{ProductID: "app.hearth.family.monthly", Tier: "family", Rank: 8, MemberSeats: 12, PetSlots: 10},
	})
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	repo := ledgerrepo.New(db, zap.NewNop(), node)

	svc := NewService(Params{
		Log:     zap.NewNop(),
		Repo:    repo,
		Catalog: cat,
		Clock:   fake,
	})

	return &fixture{
		svc:       svc,
		repo:      repo,
		node:      node,
		clock:     fake,
		accountID: node.Generate(),
	}
}

func (f *fixture) insert(t *testing.T, txnID, productID string, purchased time.Time, expires *time.Time, seats, pets int, autoRenew bool) {
	t.Helper()
	row := &ledgerdomain.Transaction{
		ID:                    f.node.Generate(),
		AccountID:             f.accountID,
		TransactionID:         txnID,
		OriginalTransactionID: "orig-" + txnID,
		ProductID:             productID,
		PurchaseDate:          purchased,
		ExpiresDate:           expires,
		Quantity:              1,
		OwnershipType:         "PURCHASED",
		Environment:           "Production",
		AutoRenewEnabled:      autoRenew,
		MemberSeats:           seats,
		PetSlots:              pets,
	}
	inserted, err := f.repo.InsertTransaction(context.Background(), row)
	require.NoError(t, err)
	require.True(t, inserted)
}

func ptr(t time.Time) *time.Time { return &t }

func TestResolveFallsBackToFreeTier(t *testing.T) {
	f := setup(t)

	ent, err := f.svc.Resolve(context.Background(), f.accountID)
	require.NoError(t, err)

	assert.Equal(t, entitlementdomain.SourceFree, ent.Source)
	assert.Equal(t, catalog.FreeTierProductID, ent.ProductID)
	assert.Equal(t, 1, ent.MemberSeats)
	assert.Equal(t, 0, ent.PetSlots)
	assert.Nil(t, ent.ExpiresAt)
}

func TestResolveHighestRankWins(t *testing.T) {
	f := setup(t)
	now := f.clock.Now()

	f.insert(t, "txn-plus", "app.hearth.plus.monthly", now.Add(-48*time.Hour), ptr(now.Add(28*24*time.Hour)), 6, 3, true)
	f.insert(t, "txn-family", "app.hearth.family.monthly", now.Add(-72*time.Hour), ptr(now.Add(20*24*time.Hour)), 12, 10, true)

	ent, err := f.svc.Resolve(context.Background(), f.accountID)
	require.NoError(t, err)

	assert.Equal(t, "app.hearth.family.monthly", ent.ProductID)
	assert.Equal(t, "family", ent.Tier)
	assert.Equal(t, 8, ent.Rank)
	assert.Equal(t, 12, ent.MemberSeats)
	assert.Equal(t, 10, ent.PetSlots)
	assert.Equal(t, entitlementdomain.SourceSubscription, ent.Source)
}

func TestResolveTieBrokenByLatestPurchase(t *testing.T) {
	f := setup(t)
	now := f.clock.Now()

	f.insert(t, "txn-monthly", "app.hearth.plus.monthly", now.Add(-72*time.Hour), ptr(now.Add(28*24*time.Hour)), 6, 3, false)
	f.insert(t, "txn-yearly", "app.hearth.plus.yearly", now.Add(-24*time.Hour), ptr(now.Add(360*24*time.Hour)), 6, 3, true)

	ent, err := f.svc.Resolve(context.Background(), f.accountID)
	require.NoError(t, err)

	assert.Equal(t, "app.hearth.plus.yearly", ent.ProductID)
	assert.True(t, ent.AutoRenewEnabled)
}

func TestResolveUsesLatestRowPerProduct(t *testing.T) {
	f := setup(t)
	now := f.clock.Now()

	// An old renewal and the current one for the same product; only the
	// newest row should speak for the product.
	f.insert(t, "txn-old", "app.hearth.plus.monthly", now.Add(-40*24*time.Hour), ptr(now.Add(-10*24*time.Hour)), 6, 3, false)
	f.insert(t, "txn-current", "app.hearth.plus.monthly", now.Add(-5*24*time.Hour), ptr(now.Add(25*24*time.Hour)), 6, 3, true)

	ent, err := f.svc.Resolve(context.Background(), f.accountID)
	require.NoError(t, err)

	assert.Equal(t, "app.hearth.plus.monthly", ent.ProductID)
	require.NotNil(t, ent.ExpiresAt)
	assert.True(t, ent.ExpiresAt.After(now))
	assert.True(t, ent.AutoRenewEnabled)
}

func TestResolveIgnoresRevokedAndExpired(t *testing.T) {
	f := setup(t)
	now := f.clock.Now()

	f.insert(t, "txn-expired", "app.hearth.family.monthly", now.Add(-60*24*time.Hour), ptr(now.Add(-30*24*time.Hour)), 12, 10, false)

	revoked := &ledgerdomain.Transaction{
		ID:                    f.node.Generate(),
		AccountID:             f.accountID,
		TransactionID:         "txn-revoked",
		OriginalTransactionID: "orig-revoked",
		ProductID:             "app.hearth.family.monthly",
		PurchaseDate:          now.Add(-time.Hour),
		ExpiresDate:           ptr(now.Add(29 * 24 * time.Hour)),
		Quantity:              1,
		OwnershipType:         "PURCHASED",
		Environment:           "Production",
		RevocationDate:        ptr(now.Add(-time.Minute)),
		MemberSeats:           12,
		PetSlots:              10,
	}
	inserted, err := f.repo.InsertTransaction(context.Background(), revoked)
	require.NoError(t, err)
	require.True(t, inserted)

	ent, err := f.svc.Resolve(context.Background(), f.accountID)
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.SourceFree, ent.Source)
}

func TestResolveLegacyProductKeepsCapturedCounts(t *testing.T) {
	f := setup(t)
	now := f.clock.Now()

	f.insert(t, "txn-legacy", "app.hearth.retired.yearly", now.Add(-time.Hour), ptr(now.Add(300*24*time.Hour)), 4, 2, false)

	ent, err := f.svc.Resolve(context.Background(), f.accountID)
	require.NoError(t, err)

	assert.Equal(t, "legacy", ent.Tier)
	assert.Equal(t, 4, ent.MemberSeats)
	assert.Equal(t, 2, ent.PetSlots)
	assert.Equal(t, entitlementdomain.SourceSubscription, ent.Source)
}

func TestEntitlementExpiryRespectsClock(t *testing.T) {
	f := setup(t)
	now := f.clock.Now()

	f.insert(t, "txn-short", "app.hearth.plus.monthly", now.Add(-time.Hour), ptr(now.Add(time.Hour)), 6, 3, true)

	ent, err := f.svc.Resolve(context.Background(), f.accountID)
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.SourceSubscription, ent.Source)

	f.clock.Advance(2 * time.Hour)

	ent, err = f.svc.Resolve(context.Background(), f.accountID)
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.SourceFree, ent.Source)
}
