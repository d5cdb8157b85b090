package appstore

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/hearthlabs/hearth/internal/clock"
	"github.com/hearthlabs/hearth/internal/config"
)

type Params struct {
	fx.In

	Cfg   config.Config
	Clock clock.Clock
	Log   *zap.Logger
}

// RootPool loads the pinned store root certificates from the PEM bundle named
// in config. The system pool is never consulted; startup fails when the
// bundle is missing or empty.
func RootPool(cfg config.Config) (*x509.CertPool, error) {
	if cfg.AppStoreRootCAFile == "" {
		return nil, errors.New("APPSTORE_ROOT_CA_FILE is required")
	}
	pem, err := os.ReadFile(cfg.AppStoreRootCAFile)
	if err != nil {
		return nil, fmt.Errorf("read root CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", cfg.AppStoreRootCAFile)
	}
	return pool, nil
}

func newVerifier(p Params, roots *x509.CertPool) *Verifier {
	return NewVerifier(roots, p.Cfg.AppStoreCertCacheTTL, p.Clock, p.Log)
}

var Module = fx.Module("appstore",
	fx.Provide(RootPool),
	fx.Provide(newVerifier),
)
