package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hearthlabs/hearth/internal/account"
	"github.com/hearthlabs/hearth/internal/appstore"
	"github.com/hearthlabs/hearth/internal/catalog"
	"github.com/hearthlabs/hearth/internal/clock"
	"github.com/hearthlabs/hearth/internal/config"
	ledgerdomain "github.com/hearthlabs/hearth/internal/ledger/domain"
	ledgerrepo "github.com/hearthlabs/hearth/internal/ledger/repository"
	notificationdomain "github.com/hearthlabs/hearth/internal/notification/domain"
	"github.com/hearthlabs/hearth/internal/observability/metrics"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Verifier  *appstore.Verifier
	Repo      ledgerrepo.Repository
	Directory account.Directory
	Catalog   *catalog.Catalog
	Clock     clock.Clock
	Cfg       config.Config
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	verifier    *appstore.Verifier
	repo        ledgerrepo.Repository
	directory   account.Directory
	catalog     *catalog.Catalog
	clock       clock.Clock
	environment string
	bundleID    string
	metrics     *metrics.Metrics
}

func NewService(p Params) notificationdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("notification.service"),
		genID:       p.GenID,
		verifier:    p.Verifier,
		repo:        p.Repo,
		directory:   p.Directory,
		catalog:     p.Catalog,
		clock:       p.Clock,
		environment: p.Cfg.AppStoreEnvironment,
		bundleID:    p.Cfg.AppStoreBundleID,
		metrics:     p.Metrics,
	}
}

// Ingest runs one signed notification through the full pipeline: verify all
// three signatures, record the envelope, then apply the state transition. The
// envelope insert and every ledger mutation share a single database
// transaction, so a crash mid-apply leaves no envelope and the store retries.
func (s *Service) Ingest(ctx context.Context, signedPayload string) (notificationdomain.Outcome, error) {
	notif, txnInfo, renewalInfo, err := s.verifier.DecodeNotification(signedPayload)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(notif.NotificationUUID) == "" {
		return "", notificationdomain.ErrMissingUUID
	}

	log := s.log.With(
		zap.String("notification_uuid", notif.NotificationUUID),
		zap.String("notification_type", notif.NotificationType),
		zap.String("subtype", notif.Subtype),
	)

	var outcome notificationdomain.Outcome
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		inserted, err := repo.InsertEnvelope(ctx, s.buildEnvelope(notif, txnInfo))
		if err != nil {
			return err
		}
		if !inserted {
			outcome = notificationdomain.OutcomeDeduplicated
			log.Info("notification replayed, envelope already recorded")
			return nil
		}

		outcome, err = s.process(ctx, repo, log, notif, txnInfo, renewalInfo)
		if err != nil {
			return err
		}
		return repo.UpdateEnvelopeOutcome(ctx, notif.NotificationUUID, string(outcome))
	})
	if err != nil {
		return "", err
	}

	s.metrics.RecordNotificationOutcome(notif.NotificationType, string(outcome))
	return outcome, nil
}

func (s *Service) process(
	ctx context.Context,
	repo ledgerrepo.Repository,
	log *zap.Logger,
	notif *appstore.Notification,
	txnInfo *appstore.TransactionInfo,
	renewalInfo *appstore.RenewalInfo,
) (notificationdomain.Outcome, error) {
	if mismatch, got := s.environmentMismatch(notif, txnInfo, renewalInfo); mismatch {
		log.Warn("notification environment mismatch",
			zap.String("expected", s.environment),
			zap.String("got", got),
		)
		return notificationdomain.OutcomeMismatched, nil
	}

	if s.bundleID != "" && notif.Data.BundleID != s.bundleID {
		log.Warn("notification for foreign bundle", zap.String("bundle_id", notif.Data.BundleID))
		return notificationdomain.OutcomeIgnored, nil
	}

	route := routeFor(notif.NotificationType)
	if route == routeIgnore {
		log.Info("informational notification ignored")
		return notificationdomain.OutcomeIgnored, nil
	}
	if txnInfo == nil {
		log.Warn("actionable notification without signedTransactionInfo")
		return notificationdomain.OutcomeIgnored, nil
	}

	return s.apply(ctx, repo, log, route, notif, txnInfo, renewalInfo)
}

// environmentMismatch checks all three environment tags against the
// deployment environment. The signed payloads must also agree with each
// other; a forged inner payload from the wrong environment is rejected even
// when the outer envelope looks right.
func (s *Service) environmentMismatch(
	notif *appstore.Notification,
	txnInfo *appstore.TransactionInfo,
	renewalInfo *appstore.RenewalInfo,
) (bool, string) {
	if notif.Data.Environment != s.environment {
		return true, notif.Data.Environment
	}
	if txnInfo != nil && txnInfo.Environment != s.environment {
		return true, txnInfo.Environment
	}
	if renewalInfo != nil && renewalInfo.Environment != s.environment {
		return true, renewalInfo.Environment
	}
	return false, ""
}

func (s *Service) buildEnvelope(notif *appstore.Notification, txnInfo *appstore.TransactionInfo) *ledgerdomain.NotificationEnvelope {
	env := &ledgerdomain.NotificationEnvelope{
		ID:               s.genID.Generate(),
		NotificationUUID: notif.NotificationUUID,
		NotificationType: notif.NotificationType,
		Subtype:          notif.Subtype,
		Environment:      notif.Data.Environment,
		Outcome:          "received",
		ProcessedAt:      s.clock.Now(),
	}
	if txnInfo != nil {
		env.TransactionID = txnInfo.TransactionID
		env.ProductID = txnInfo.ProductID
	}
	if payload, err := json.Marshal(notif); err == nil {
		env.Payload = payload
	}
	return env
}

func (s *Service) timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return s.clock.Now()
	}
	return t
}
