// Package appstoretest issues throwaway signing chains so tests can mint
// notifications the verifier accepts without real store credentials.
package appstoretest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authority holds a root CA, an intermediate and a signing leaf mirroring the
// chain shape the store puts in the x5c header.
type Authority struct {
	rootCert  *x509.Certificate
	rootDER   []byte
	interCert *x509.Certificate
	interDER  []byte
	leafCert  *x509.Certificate
	leafDER   []byte
	leafKey   *ecdsa.PrivateKey
}

// NewAuthority generates a fresh three-link chain valid for 24 hours.
func NewAuthority() (*Authority, error) {
	now := time.Now().Add(-time.Hour)

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Root CA"},
		NotBefore:             now,
		NotAfter:              now.Add(25 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, err
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, err
	}

	interKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	interTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: "Test Intermediate CA"},
		NotBefore:             now,
		NotAfter:              now.Add(25 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	interDER, err := x509.CreateCertificate(rand.Reader, interTmpl, rootCert, &interKey.PublicKey, rootKey)
	if err != nil {
		return nil, err
	}
	interCert, err := x509.ParseCertificate(interDER)
	if err != nil {
		return nil, err
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "Test Signing Leaf"},
		NotBefore:    now,
		NotAfter:     now.Add(25 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, interCert, &leafKey.PublicKey, interKey)
	if err != nil {
		return nil, err
	}
	leafCert, err := x509.ParseCertificate(leafDER)
	if err != nil {
		return nil, err
	}

	return &Authority{
		rootCert:  rootCert,
		rootDER:   rootDER,
		interCert: interCert,
		interDER:  interDER,
		leafCert:  leafCert,
		leafDER:   leafDER,
		leafKey:   leafKey,
	}, nil
}

// RootPool returns a pool trusting only this authority's root.
func (a *Authority) RootPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(a.rootCert)
	return pool
}

// RootPEM returns the root certificate PEM-encoded, for config files.
func (a *Authority) RootPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: a.rootDER})
}

// Sign produces a JWS over claims with the full x5c chain attached.
func (a *Authority) Sign(claims any) (string, error) {
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	var mapped jwt.MapClaims
	if err := json.Unmarshal(raw, &mapped); err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, mapped)
	token.Header["x5c"] = []string{
		base64.StdEncoding.EncodeToString(a.leafDER),
		base64.StdEncoding.EncodeToString(a.interDER),
		base64.StdEncoding.EncodeToString(a.rootDER),
	}
	return token.SignedString(a.leafKey)
}

// SignWithoutChain produces a JWS missing the x5c header, for negative tests.
func (a *Authority) SignWithoutChain(claims any) (string, error) {
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	var mapped jwt.MapClaims
	if err := json.Unmarshal(raw, &mapped); err != nil {
		return "", err
	}
	return jwt.NewWithClaims(jwt.SigningMethodES256, mapped).SignedString(a.leafKey)
}
