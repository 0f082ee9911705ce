// Package inmemcrypto provides a key vault provider that keeps
// generated keys in process memory. It is the default provider and is
// meant for tests and development environments; keys do not survive a
// restart.
package inmemcrypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"sync"
	"time"

	"github.com/effective-security/xcsr/keyvault"
	"github.com/effective-security/xcsr/pkcs10"
	"github.com/pkg/errors"
)

// ProviderName specifies the in-memory provider name
const ProviderName = "inmem"

func init() {
	_ = keyvault.Register(ProviderName, Loader)
}

// Loader returns a new in-memory provider.
// The token configuration is not used.
func Loader(_ keyvault.TokenConfig) (keyvault.Provider, error) {
	return NewProvider(), nil
}

// Provider is an in-memory implementation of keyvault.Provider
type Provider struct {
	lock sync.RWMutex
	keys map[string]*inMemKey
}

type inMemKey struct {
	key      crypto.PrivateKey
	label    string
	creation time.Time
}

// NewProvider creates an empty in-memory provider
func NewProvider() *Provider {
	return &Provider{
		keys: make(map[string]*inMemKey),
	}
}

// Manufacturer returns the provider name
func (p *Provider) Manufacturer() string {
	return ProviderName
}

// Model returns empty string
func (p *Provider) Model() string {
	return ""
}

// GenerateRSAKey generates an RSA key pair.
// The purpose is not used: in-memory keys can sign and decrypt.
func (p *Provider) GenerateRSAKey(label string, bits int, _ int) (crypto.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to generate RSA key: %s", label)
	}
	return p.add(label, key, key.Public())
}

// GenerateECDSAKey generates an ECDSA key pair on the curve
func (p *Provider) GenerateECDSAKey(label string, curve elliptic.Curve) (crypto.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to generate ECDSA key: %s", label)
	}
	return p.add(label, key, key.Public())
}

func (p *Provider) add(label string, key crypto.PrivateKey, pub crypto.PublicKey) (crypto.PrivateKey, error) {
	id, err := keyID(pub)
	if err != nil {
		return nil, err
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	p.keys[id] = &inMemKey{
		key:      key,
		label:    label,
		creation: time.Now(),
	}
	return key, nil
}

// GetKey returns a private key by ID
func (p *Provider) GetKey(keyID string) (crypto.PrivateKey, error) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	k, ok := p.keys[keyID]
	if !ok {
		return nil, errors.Errorf("not found: %s", keyID)
	}
	return k.key, nil
}

// IdentifyKey returns the ID and label of a key generated by this
// provider
func (p *Provider) IdentifyKey(pvk crypto.PrivateKey) (string, string, error) {
	s, ok := pvk.(crypto.Signer)
	if !ok {
		return "", "", errors.Errorf("unsupported key type: %T", pvk)
	}
	id, err := keyID(s.Public())
	if err != nil {
		return "", "", err
	}

	p.lock.RLock()
	defer p.lock.RUnlock()

	k, ok := p.keys[id]
	if !ok {
		return "", "", errors.Errorf("not found: %s", id)
	}
	return id, k.label, nil
}

// ExportKey returns the key URI and the PKCS#8 PEM encoded private
// key
func (p *Provider) ExportKey(keyID string) (string, []byte, error) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	k, ok := p.keys[keyID]
	if !ok {
		return "", nil, errors.Errorf("not found: %s", keyID)
	}

	der, err := x509.MarshalPKCS8PrivateKey(k.key)
	if err != nil {
		return "", nil, errors.WithMessagef(err, "failed to encode key: %s", keyID)
	}
	key := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	uri := fmt.Sprintf("pkcs11:manufacturer=%s;model=%s;id=%s;serial=;type=private",
		ProviderName, p.Model(), keyID)
	return uri, key, nil
}

// ExportPublicKey returns the public part of the key pair
func (p *Provider) ExportPublicKey(keyID string) (*pkcs10.SubjectPublicKeyInfo, error) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	k, ok := p.keys[keyID]
	if !ok {
		return nil, errors.Errorf("not found: %s", keyID)
	}

	spki, err := pkcs10.NewSubjectPublicKeyInfo(k.key.(crypto.Signer).Public())
	if err != nil {
		return nil, err
	}
	return &spki, nil
}

// DestroyKey removes the key pair
func (p *Provider) DestroyKey(keyID string) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if _, ok := p.keys[keyID]; !ok {
		return errors.Errorf("not found: %s", keyID)
	}
	delete(p.keys, keyID)
	return nil
}

// keyID derives the key ID from the public key, as a hex encoded
// digest of the subjectPublicKey bits
func keyID(pub crypto.PublicKey) (string, error) {
	spki, err := pkcs10.NewSubjectPublicKeyInfo(pub)
	if err != nil {
		return "", err
	}
	digest := sha1.Sum(spki.PublicKey.Bytes)
	return hex.EncodeToString(digest[:]), nil
}
