package account

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type gormDirectory struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewDirectory builds the gorm-backed account directory.
func NewDirectory(db *gorm.DB, log *zap.Logger) Directory {
	return &gormDirectory{db: db, log: log.Named("account.directory")}
}

func (d *gormDirectory) FindByAppAccountToken(ctx context.Context, token string) (*Account, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrAccountNotFound
	}

	var acct Account
	err := d.db.WithContext(ctx).Raw(
		`SELECT id, app_account_token, display_name, created_at
		 FROM accounts
		 WHERE lower(app_account_token) = lower(?)
		 LIMIT 1`,
		token,
	).First(&acct).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}

func (d *gormDirectory) FindByID(ctx context.Context, id snowflake.ID) (*Account, error) {
	if id == 0 {
		return nil, ErrAccountNotFound
	}

	var acct Account
	err := d.db.WithContext(ctx).Raw(
		`SELECT id, app_account_token, display_name, created_at
		 FROM accounts
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).First(&acct).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}
