package appstore

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hearthlabs/hearth/internal/clock"
)

// Verifier validates the x5c certificate chain carried in each JWS against a
// pinned set of store root certificates and decodes the payload claims.
//
// Chain verification is the expensive part and the same signing certificate
// shows up on nearly every notification, so verified leaves are cached by the
// hash of their DER bytes for a bounded TTL.
type Verifier struct {
	roots    *x509.CertPool
	log      *zap.Logger
	clock    clock.Clock
	cacheTTL time.Duration

	mu    sync.Mutex
	cache map[string]time.Time

	group singleflight.Group
}

// NewVerifier builds a verifier trusting the given root pool.
func NewVerifier(roots *x509.CertPool, cacheTTL time.Duration, clk clock.Clock, log *zap.Logger) *Verifier {
	if cacheTTL <= 0 {
		cacheTTL = 4 * time.Hour
	}
	return &Verifier{
		roots:    roots,
		log:      log.Named("appstore.verifier"),
		clock:    clk,
		cacheTTL: cacheTTL,
		cache:    make(map[string]time.Time),
	}
}

// DecodeNotification verifies the outer notification JWS and both nested
// payloads. Each of the three signatures is checked independently; a valid
// outer envelope never vouches for its contents.
func (v *Verifier) DecodeNotification(signedPayload string) (*Notification, *TransactionInfo, *RenewalInfo, error) {
	var notif Notification
	if err := v.verify(signedPayload, &notif); err != nil {
		return nil, nil, nil, err
	}

	var txn *TransactionInfo
	if notif.Data.SignedTransactionInfo != "" {
		txn = &TransactionInfo{}
		if err := v.verify(notif.Data.SignedTransactionInfo, txn); err != nil {
			return nil, nil, nil, err
		}
	}

	var renewal *RenewalInfo
	if notif.Data.SignedRenewalInfo != "" {
		renewal = &RenewalInfo{}
		if err := v.verify(notif.Data.SignedRenewalInfo, renewal); err != nil {
			return nil, nil, nil, err
		}
	}

	return &notif, txn, renewal, nil
}

func (v *Verifier) verify(token string, claims jwt.Claims) error {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"ES256"}))
	_, err := parser.ParseWithClaims(token, claims, v.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return fmt.Errorf("%w: %v", ErrPayloadMalformed, err)
		}
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

func (v *Verifier) keyFunc(token *jwt.Token) (any, error) {
	chain, err := certChain(token)
	if err != nil {
		return nil, err
	}

	leaf := chain[0]
	key, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("leaf certificate key is not ECDSA")
	}

	sum := sha256.Sum256(leaf.Raw)
	cacheKey := hex.EncodeToString(sum[:])
	if v.cached(cacheKey) {
		return key, nil
	}

	_, err, _ = v.group.Do(cacheKey, func() (any, error) {
		if err := v.verifyChain(chain); err != nil {
			return nil, err
		}
		v.store(cacheKey)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (v *Verifier) verifyChain(chain []*x509.Certificate) error {
	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}

	_, err := chain[0].Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   v.clock.Now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		v.log.Warn("certificate chain rejected", zap.Error(err))
		return fmt.Errorf("certificate chain: %w", err)
	}
	return nil
}

func (v *Verifier) cached(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	expiry, ok := v.cache[key]
	if !ok {
		return false
	}
	if v.clock.Now().After(expiry) {
		delete(v.cache, key)
		return false
	}
	return true
}

func (v *Verifier) store(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache[key] = v.clock.Now().Add(v.cacheTTL)
}

func certChain(token *jwt.Token) ([]*x509.Certificate, error) {
	raw, ok := token.Header["x5c"].([]any)
	if !ok || len(raw) == 0 {
		return nil, errors.New("missing x5c header")
	}

	chain := make([]*x509.Certificate, 0, len(raw))
	for _, entry := range raw {
		encoded, ok := entry.(string)
		if !ok {
			return nil, errors.New("malformed x5c entry")
		}
		der, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode x5c entry: %w", err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("parse x5c certificate: %w", err)
		}
		chain = append(chain, cert)
	}
	return chain, nil
}
