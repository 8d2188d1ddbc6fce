// Package kdecert manages the self-signed identity certificate each
// peer uses for its symmetric TLS handshake, and the permissive
// tls.Config pair both sides of that handshake share (spec §4.3).
package kdecert

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/r58Playz/kdeconnect/kdeconfig"
)

const (
	organization       = "r58Playz"
	organizationalUnit = "kdeconnectjb"
	validityBefore     = 365 * 24 * time.Hour
	validityAfter      = 3650 * 24 * time.Hour
)

// Manager owns the local keypair and self-signed certificate, and
// builds the TLS configurations both the control session and the
// payload transport use.
type Manager struct {
	key  *ecdsa.PrivateKey
	cert *x509.Certificate
	raw  []byte // DER of cert, equal to cert.Raw
}

// Load loads the keypair and self-certificate from store, generating
// and persisting either one that is missing or unparseable (spec
// §4.3's startup sequence).
func Load(ctx context.Context, store kdeconfig.Store, deviceID string) (*Manager, error) {
	key, err := loadOrGenerateKey(ctx, store)
	if err != nil {
		return nil, err
	}

	cert, raw, err := loadOrGenerateCert(ctx, store, key, deviceID)
	if err != nil {
		return nil, err
	}

	return &Manager{key: key, cert: cert, raw: raw}, nil
}

func loadOrGenerateKey(ctx context.Context, store kdeconfig.Store) (*ecdsa.PrivateKey, error) {
	der, err := store.LoadKeypair(ctx)
	if err == nil {
		key, parseErr := x509.ParsePKCS8PrivateKey(der)
		if parseErr == nil {
			if ecKey, ok := key.(*ecdsa.PrivateKey); ok {
				return ecKey, nil
			}
		}
		// fall through to regenerate on any parse failure or wrong key type
	} else if !errors.Is(err, kdeconfig.ErrNotFound) {
		return nil, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	der, err = x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal keypair: %w", err)
	}
	if err := store.SaveKeypair(ctx, der); err != nil {
		return nil, fmt.Errorf("persist keypair: %w", err)
	}
	return key, nil
}

func loadOrGenerateCert(ctx context.Context, store kdeconfig.Store, key *ecdsa.PrivateKey, deviceID string) (*x509.Certificate, []byte, error) {
	der, err := store.LoadCertificate(ctx)
	if err == nil {
		cert, parseErr := x509.ParseCertificate(der)
		if parseErr == nil {
			return cert, der, nil
		}
	} else if !errors.Is(err, kdeconfig.ErrNotFound) {
		return nil, nil, err
	}

	der, cert, err := generateSelfSigned(key, deviceID)
	if err != nil {
		return nil, nil, err
	}
	if err := store.SaveCertificate(ctx, der); err != nil {
		return nil, nil, fmt.Errorf("persist certificate: %w", err)
	}
	return cert, der, nil
}

func generateSelfSigned(key *ecdsa.PrivateKey, deviceID string) ([]byte, *x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:         deviceID,
			Organization:       []string{organization},
			OrganizationalUnit: []string{organizationalUnit},
		},
		NotBefore:             now.Add(-validityBefore),
		NotAfter:              now.Add(validityAfter),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{deviceID},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("parse generated certificate: %w", err)
	}
	return der, cert, nil
}

// Certificate returns the DER of the local self-signed certificate.
func (m *Manager) Certificate() []byte { return m.raw }

// Leaf returns the parsed local certificate, for computing the
// verification key against a peer's.
func (m *Manager) Leaf() *x509.Certificate { return m.cert }

func (m *Manager) tlsCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{m.raw},
		PrivateKey:  m.key,
		Leaf:        m.cert,
	}
}

// ServerTLSConfig returns the tls.Config used when this peer is the TLS
// server (either because it dialed the peer over TCP and announced its
// identity first, or because it's serving a payload transfer). Verification is
// deliberately permissive at handshake time (spec §4.3): trust is
// asserted later, at the application layer, by pinning.
func (m *Manager) ServerTLSConfig() *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{m.tlsCertificate()},
		ClientAuth:         tls.RequestClientCert,
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
	}
}

// ClientTLSConfig returns the tls.Config used when this peer is the TLS
// client. sni is the dummy server name presented during the handshake
// (spec §4.6: "a dummy SNI of the peer's device_id").
func (m *Manager) ClientTLSConfig(sni string) *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{m.tlsCertificate()},
		InsecureSkipVerify: true,
		ServerName:         sni,
		MinVersion:         tls.VersionTLS12,
	}
}

// VerificationKey computes the human-comparable confirmation digest
// from spec §4.3: SHA-256 of the two peers' SubjectPublicKeyInfo bytes
// concatenated with the lexicographically greater key first.
func VerificationKey(localCert, peerCert *x509.Certificate) string {
	a := localCert.RawSubjectPublicKeyInfo
	b := peerCert.RawSubjectPublicKeyInfo

	var h [32]byte
	if compareBytes(a, b) >= 0 {
		h = sha256.Sum256(append(append([]byte{}, a...), b...))
	} else {
		h = sha256.Sum256(append(append([]byte{}, b...), a...))
	}
	return hex.EncodeToString(h[:])
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}
