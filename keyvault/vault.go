package keyvault

import (
	"crypto"
	"crypto/elliptic"
	"time"

	"github.com/effective-security/xcsr/pkcs10"
	"github.com/effective-security/xlog"
	"github.com/pkg/errors"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcsr", "keyvault")

// Provider defines a key vault interface: keys are generated and kept
// by the device or service, and are referenced by key ID.
type Provider interface {
	// Manufacturer returns the provider manufacturer
	Manufacturer() string

	// Model returns the provider model
	Model() string

	// GenerateRSAKey generates an RSA key pair of the given size.
	// Purpose is 1 for signing, 2 for encryption.
	GenerateRSAKey(label string, bits int, purpose int) (crypto.PrivateKey, error)

	// GenerateECDSAKey generates an ECDSA key pair on the curve
	GenerateECDSAKey(label string, curve elliptic.Curve) (crypto.PrivateKey, error)

	// GetKey returns a private key handle by key ID
	GetKey(keyID string) (crypto.PrivateKey, error)

	// IdentifyKey returns the key ID and label of a key
	// returned by this provider
	IdentifyKey(crypto.PrivateKey) (keyID string, label string, err error)

	// ExportKey returns the key location URI, and the key bytes
	// when the provider is able to release the private material
	ExportKey(keyID string) (string, []byte, error)

	// ExportPublicKey returns the public part of the key pair
	ExportPublicKey(keyID string) (*pkcs10.SubjectPublicKeyInfo, error)

	// DestroyKey permanently removes the key pair.
	// For cloud KMS providers the removal may be scheduled.
	DestroyKey(keyID string) error
}

// KeyManager provides key enumeration on providers that support
// listing tokens and keys
type KeyManager interface {
	// CurrentSlotID returns the slot the provider is bound to
	CurrentSlotID() uint

	// EnumTokens lists tokens
	EnumTokens(currentSlotOnly bool) ([]TokenInfo, error)

	// EnumKeys lists keys on the slot, optionally filtered by
	// label prefix
	EnumKeys(slotID uint, prefix string) ([]KeyInfo, error)

	// KeyInfo returns key information on the slot
	KeyInfo(slotID uint, keyID string, includePublic bool) (*KeyInfo, error)

	// DestroyKeyPairOnSlot destroys a key pair on the slot
	DestroyKeyPairOnSlot(slotID uint, keyID string) error
}

// TokenInfo provides token information
type TokenInfo struct {
	SlotID       uint
	Description  string
	Label        string
	Manufacturer string
	Model        string
	Serial       string
}

// KeyInfo provides key information
type KeyInfo struct {
	ID               string
	Label            string
	Type             string
	Class            string
	CurrentVersionID string
	Meta             map[string]string
	CreationTime     *time.Time
	PublicKey        string
}

// Crypto holds the default provider and the registered providers,
// keyed by manufacturer and model
type Crypto struct {
	provider  Provider
	providers map[string]Provider
}

// New creates Crypto with the default provider
func New(defaultProvider Provider, providers []Provider) (*Crypto, error) {
	c := &Crypto{
		provider:  defaultProvider,
		providers: map[string]Provider{},
	}

	err := c.Add(defaultProvider)
	if err != nil {
		return nil, err
	}
	for _, p := range providers {
		err = c.Add(p)
		if err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Default returns the default provider
func (c *Crypto) Default() Provider {
	return c.provider
}

// Add registers the provider by manufacturer and model.
// Registering the same provider again is not an error.
func (c *Crypto) Add(p Provider) error {
	if p.Manufacturer() == "" {
		return errors.New("provider does not specify manufacturer")
	}
	c.providers[providerKey(p.Manufacturer(), p.Model())] = p
	return nil
}

// ByManufacturer returns a provider by manufacturer and model
func (c *Crypto) ByManufacturer(manufacturer, model string) (Provider, error) {
	p, ok := c.providers[providerKey(manufacturer, model)]
	if !ok {
		return nil, errors.Errorf("provider for %q and model %q not found", manufacturer, model)
	}
	return p, nil
}

func providerKey(manufacturer, model string) string {
	return manufacturer + "/" + model
}
