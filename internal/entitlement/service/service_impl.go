package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/hearthlabs/hearth/internal/catalog"
	"github.com/hearthlabs/hearth/internal/clock"
	entitlementdomain "github.com/hearthlabs/hearth/internal/entitlement/domain"
	ledgerdomain "github.com/hearthlabs/hearth/internal/ledger/domain"
	ledgerrepo "github.com/hearthlabs/hearth/internal/ledger/repository"
	"github.com/hearthlabs/hearth/internal/observability/metrics"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Repo    ledgerrepo.Repository
	Catalog *catalog.Catalog
	Clock   clock.Clock
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	repo    ledgerrepo.Repository
	catalog *catalog.Catalog
	clock   clock.Clock
	metrics *metrics.Metrics
}

func NewService(p Params) entitlementdomain.Service {
	return &Service{
		log:     p.Log.Named("entitlement.service"),
		repo:    p.Repo,
		catalog: p.Catalog,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

// Resolve picks the winning entitlement for an account: collapse active
// transactions to the latest per product, then take the highest-ranked
// product, breaking ties by most recent purchase. Accounts with nothing
// active fall back to the free tier.
func (s *Service) Resolve(ctx context.Context, accountID snowflake.ID) (*entitlementdomain.Entitlement, error) {
	now := s.clock.Now()

	rows, err := s.repo.ListActiveByAccount(ctx, accountID, now)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordEntitlementRead()

	latest := latestPerProduct(rows)
	if len(latest) == 0 {
		free := s.catalog.FreeTier()
		return &entitlementdomain.Entitlement{
			AccountID:   accountID,
			ProductID:   free.ProductID,
			Tier:        free.Tier,
			Rank:        free.Rank,
			MemberSeats: free.MemberSeats,
			PetSlots:    free.PetSlots,
			Source:      entitlementdomain.SourceFree,
			ResolvedAt:  now,
		}, nil
	}

	winner := latest[0]
	winnerRank := s.rank(winner)
	for _, txn := range latest[1:] {
		rank := s.rank(txn)
		if rank > winnerRank {
			winner, winnerRank = txn, rank
			continue
		}
		if rank == winnerRank && txn.PurchaseDate.After(winner.PurchaseDate) {
			winner = txn
		}
	}

	ent := &entitlementdomain.Entitlement{
		AccountID:        accountID,
		ProductID:        winner.ProductID,
		Rank:             winnerRank,
		MemberSeats:      winner.MemberSeats,
		PetSlots:         winner.PetSlots,
		ExpiresAt:        winner.ExpiresDate,
		AutoRenewEnabled: winner.AutoRenewEnabled,
		Source:           entitlementdomain.SourceSubscription,
		ResolvedAt:       now,
	}
	if entry, ok := s.catalog.Lookup(winner.ProductID); ok {
		ent.Tier = entry.Tier
	} else {
		// Product dropped from the catalog after purchase. The row's
		// captured counts keep the grant honest.
		ent.Tier = "legacy"
		s.log.Warn("active transaction references unknown product",
			zap.String("product_id", winner.ProductID),
			zap.String("account_id", accountID.String()),
		)
	}
	return ent, nil
}

// latestPerProduct keeps the most recent active transaction for each product.
// Rows arrive ordered newest first.
func latestPerProduct(rows []ledgerdomain.Transaction) []*ledgerdomain.Transaction {
	seen := make(map[string]struct{}, len(rows))
	out := make([]*ledgerdomain.Transaction, 0, len(rows))
	for i := range rows {
		txn := &rows[i]
		if _, dup := seen[txn.ProductID]; dup {
			continue
		}
		seen[txn.ProductID] = struct{}{}
		out = append(out, txn)
	}
	return out
}

func (s *Service) rank(txn *ledgerdomain.Transaction) int {
	if entry, ok := s.catalog.Lookup(txn.ProductID); ok {
		return entry.Rank
	}
	return 0
}
