package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	"github.com/hearthlabs/hearth/internal/account"
	"github.com/hearthlabs/hearth/internal/appstore"
	ledgerdomain "github.com/hearthlabs/hearth/internal/ledger/domain"
	ledgerrepo "github.com/hearthlabs/hearth/internal/ledger/repository"
	notificationdomain "github.com/hearthlabs/hearth/internal/notification/domain"
)

// resolveOwner attaches a store transaction to a local account. Preference
// order: the appAccountToken the client stamped at purchase, then whichever
// account already owns the subscription chain, then a row with the same
// transaction id. Renewals and store-initiated events usually arrive without
// a token, which is why the ledger fallbacks exist.
func (s *Service) resolveOwner(ctx context.Context, repo ledgerrepo.Repository, txnInfo *appstore.TransactionInfo) (snowflake.ID, error) {
	if txnInfo.AppAccountToken != "" {
		acct, err := s.directory.FindByAppAccountToken(ctx, txnInfo.AppAccountToken)
		if err == nil {
			return acct.ID, nil
		}
		if !errors.Is(err, account.ErrAccountNotFound) {
			return 0, err
		}
	}

	if prior, err := repo.LatestByOriginalTransactionID(ctx, txnInfo.OriginalTransactionID); err == nil {
		return prior.AccountID, nil
	} else if !errors.Is(err, ledgerdomain.ErrTransactionNotFound) {
		return 0, err
	}

	if prior, err := repo.LatestByTransactionID(ctx, txnInfo.TransactionID); err == nil {
		return prior.AccountID, nil
	} else if !errors.Is(err, ledgerdomain.ErrTransactionNotFound) {
		return 0, err
	}

	return 0, notificationdomain.ErrOwnerNotFound
}
