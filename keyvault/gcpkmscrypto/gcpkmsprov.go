package gcpkmscrypto

import (
	"context"
	"crypto"
	"crypto/elliptic"
	"fmt"
	"hash/crc32"
	"strings"
	"time"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcsr/certutil"
	"github.com/effective-security/xcsr/keyvault"
	"github.com/effective-security/xcsr/metricskey"
	"github.com/effective-security/xcsr/pkcs10"
	"github.com/effective-security/xlog"
	gax "github.com/googleapis/gax-go/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcsr", "gcpkmscrypto")

// ProviderName specifies a provider name
const ProviderName = "GCPKMS"

func init() {
	_ = keyvault.Register(ProviderName, KmsLoader)
}

// KmsClient interface
type KmsClient interface {
	CreateCryptoKey(context.Context, *kmspb.CreateCryptoKeyRequest, ...gax.CallOption) (*kmspb.CryptoKey, error)
	GetCryptoKey(context.Context, *kmspb.GetCryptoKeyRequest, ...gax.CallOption) (*kmspb.CryptoKey, error)
	GetCryptoKeyVersion(context.Context, *kmspb.GetCryptoKeyVersionRequest, ...gax.CallOption) (*kmspb.CryptoKeyVersion, error)
	ListCryptoKeys(context.Context, *kmspb.ListCryptoKeysRequest, ...gax.CallOption) *kms.CryptoKeyIterator
	DestroyCryptoKeyVersion(context.Context, *kmspb.DestroyCryptoKeyVersionRequest, ...gax.CallOption) (*kmspb.CryptoKeyVersion, error)
	GetPublicKey(context.Context, *kmspb.GetPublicKeyRequest, ...gax.CallOption) (*kmspb.PublicKey, error)
	AsymmetricSign(context.Context, *kmspb.AsymmetricSignRequest, ...gax.CallOption) (*kmspb.AsymmetricSignResponse, error)
	Close() error
}

// KmsClientFactory override for unittest
var KmsClientFactory = func(ctx context.Context, opts ...option.ClientOption) (KmsClient, error) {
	return kms.NewKeyManagementClient(ctx, opts...)
}

// Provider implements keyvault.Provider for Google Cloud KMS
type Provider struct {
	tc      keyvault.TokenConfig
	client  KmsClient
	keyring string
}

// Init configures Cloud KMS based provider.
// The keyring is specified with Project, Location and Keyring attributes.
func Init(tc keyvault.TokenConfig) (*Provider, error) {
	ctx := context.Background()
	attrs := parseKmsAttributes(tc.Attributes())

	for _, name := range []string{"Project", "Location", "Keyring"} {
		if attrs[name] == "" {
			return nil, errors.Errorf("missing attribute: %s", name)
		}
	}

	p := &Provider{
		tc: tc,
		keyring: fmt.Sprintf("projects/%s/locations/%s/keyRings/%s",
			attrs["Project"], attrs["Location"], attrs["Keyring"]),
	}

	var ops []option.ClientOption
	if endpoint := attrs["Endpoint"]; endpoint != "" {
		ops = append(ops, option.WithEndpoint(endpoint))
	}

	client, err := KmsClientFactory(ctx, ops...)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create KMS client")
	}
	p.client = client

	return p, nil
}

func parseKmsAttributes(attributes string) map[string]string {
	var kmsAttributes = make(map[string]string)

	attrs := strings.Split(attributes, ",")
	for _, v := range attrs {
		kmsAttr := strings.Split(v, "=")
		if len(kmsAttr) != 2 {
			continue
		}
		kmsAttributes[strings.TrimSpace(kmsAttr[0])] = strings.TrimSpace(kmsAttr[1])
	}

	return kmsAttributes
}

// Manufacturer returns manufacturer for the provider
func (p *Provider) Manufacturer() string {
	return p.tc.Manufacturer()
}

// Model returns model for the provider
func (p *Provider) Model() string {
	return p.tc.Model()
}

// CurrentSlotID returns current slot id. For KMS only one slot is assumed to be available.
func (p *Provider) CurrentSlotID() uint {
	return 0
}

func (p *Provider) keyName(keyID string) string {
	return p.keyring + "/cryptoKeys/" + keyID
}

// versions are never rotated, the first one signs
func versionName(keyName string) string {
	return keyName + "/cryptoKeyVersions/1"
}

var rsaSignAlgos = map[int]kmspb.CryptoKeyVersion_CryptoKeyVersionAlgorithm{
	2048: kmspb.CryptoKeyVersion_RSA_SIGN_PKCS1_2048_SHA256,
	3072: kmspb.CryptoKeyVersion_RSA_SIGN_PKCS1_3072_SHA256,
	4096: kmspb.CryptoKeyVersion_RSA_SIGN_PKCS1_4096_SHA512,
}

var rsaDecryptAlgos = map[int]kmspb.CryptoKeyVersion_CryptoKeyVersionAlgorithm{
	2048: kmspb.CryptoKeyVersion_RSA_DECRYPT_OAEP_2048_SHA256,
	3072: kmspb.CryptoKeyVersion_RSA_DECRYPT_OAEP_3072_SHA256,
	4096: kmspb.CryptoKeyVersion_RSA_DECRYPT_OAEP_4096_SHA256,
}

// GenerateRSAKey creates signer using randomly generated RSA key
func (p *Provider) GenerateRSAKey(label string, bits int, purpose int) (crypto.PrivateKey, error) {
	defer metricskey.PerfCryptoOperation.MeasureSince(time.Now(), ProviderName, "genkey_rsa")

	purposepb := kmspb.CryptoKey_ASYMMETRIC_SIGN
	algos := rsaSignAlgos
	if purpose == 2 {
		purposepb = kmspb.CryptoKey_ASYMMETRIC_DECRYPT
		algos = rsaDecryptAlgos
	}

	algo, ok := algos[bits]
	if !ok {
		return nil, errors.Errorf("unsupported key size: %d", bits)
	}

	return p.createKey(label, purposepb, algo)
}

// GenerateECDSAKey creates signer using randomly generated ECDSA key
func (p *Provider) GenerateECDSAKey(label string, curve elliptic.Curve) (crypto.PrivateKey, error) {
	defer metricskey.PerfCryptoOperation.MeasureSince(time.Now(), ProviderName, "genkey_ecdsa")

	var algo kmspb.CryptoKeyVersion_CryptoKeyVersionAlgorithm
	switch curve {
	case elliptic.P256():
		algo = kmspb.CryptoKeyVersion_EC_SIGN_P256_SHA256
	case elliptic.P384():
		algo = kmspb.CryptoKeyVersion_EC_SIGN_P384_SHA384
	default:
		return nil, errors.New("unsupported curve")
	}

	return p.createKey(label, kmspb.CryptoKey_ASYMMETRIC_SIGN, algo)
}

func (p *Provider) createKey(label string, purpose kmspb.CryptoKey_CryptoKeyPurpose, algo kmspb.CryptoKeyVersion_CryptoKeyVersionAlgorithm) (crypto.PrivateKey, error) {
	ctx := context.Background()

	req := &kmspb.CreateCryptoKeyRequest{
		Parent:      p.keyring,
		CryptoKeyId: label,
		CryptoKey: &kmspb.CryptoKey{
			Purpose: purpose,
			VersionTemplate: &kmspb.CryptoKeyVersionTemplate{
				ProtectionLevel: kmspb.ProtectionLevel_SOFTWARE,
				Algorithm:       algo,
			},
		},
	}
	key, err := p.client.CreateCryptoKey(ctx, req)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create key with label: %q", label)
	}

	logger.KV(xlog.INFO, "name", key.Name, "label", label)

	version := versionName(key.Name)
	if err := p.waitForEnabled(ctx, version); err != nil {
		return nil, err
	}

	pub, err := p.publicKey(ctx, version)
	if err != nil {
		return nil, err
	}
	return NewSigner(label, version, algo, pub, p.client), nil
}

// waitForEnabled blocks until the key version generation completes
func (p *Provider) waitForEnabled(ctx context.Context, version string) error {
	for i := 0; ; i++ {
		v, err := p.client.GetCryptoKeyVersion(ctx, &kmspb.GetCryptoKeyVersionRequest{Name: version})
		if err != nil {
			return errors.WithMessagef(err, "failed to get key version: %s", version)
		}
		if v.State == kmspb.CryptoKeyVersion_ENABLED {
			return nil
		}
		if v.State != kmspb.CryptoKeyVersion_PENDING_GENERATION {
			return errors.Errorf("key version is not usable: %s, state: %s", version, v.State)
		}
		if i >= 60 {
			return errors.Errorf("timeout waiting for key version: %s", version)
		}
		time.Sleep(time.Second)
	}
}

// publicKey fetches the PEM encoded public part and parses it
func (p *Provider) publicKey(ctx context.Context, version string) (crypto.PublicKey, error) {
	resp, err := p.client.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{Name: version})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to get public key: %s", version)
	}
	if resp.PemCrc32C != nil && crc32c([]byte(resp.Pem)).Value != resp.PemCrc32C.Value {
		return nil, errors.Errorf("public key response corrupted in-transit: %s", version)
	}

	pub, err := certutil.ParsePublicKeyFromPEM([]byte(resp.Pem))
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to parse public key: %s", version)
	}
	return pub, nil
}

func crc32c(data []byte) *wrapperspb.Int64Value {
	t := crc32.MakeTable(crc32.Castagnoli)
	return wrapperspb.Int64(int64(crc32.Checksum(data, t)))
}

// IdentifyKey returns key id and label for the given private key
func (p *Provider) IdentifyKey(priv crypto.PrivateKey) (keyID, label string, err error) {
	if s, ok := priv.(*Signer); ok {
		return s.KeyID(), s.Label(), nil
	}
	return "", "", errors.New("not supported key")
}

// GetKey returns signer for the given key id
func (p *Provider) GetKey(keyID string) (crypto.PrivateKey, error) {
	defer metricskey.PerfCryptoOperation.MeasureSince(time.Now(), ProviderName, "getkey")

	ctx := context.Background()
	logger.KV(xlog.INFO, "api", "GetKey", "keyID", keyID)

	key, err := p.client.GetCryptoKey(ctx, &kmspb.GetCryptoKeyRequest{Name: p.keyName(keyID)})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to get key: %s", keyID)
	}

	version := versionName(key.Name)
	pub, err := p.publicKey(ctx, version)
	if err != nil {
		return nil, err
	}
	return NewSigner(keyID, version, key.VersionTemplate.GetAlgorithm(), pub, p.client), nil
}

// ExportPublicKey returns the public part of the key pair
func (p *Provider) ExportPublicKey(keyID string) (*pkcs10.SubjectPublicKeyInfo, error) {
	pub, err := p.publicKey(context.Background(), versionName(p.keyName(keyID)))
	if err != nil {
		return nil, err
	}

	spki, err := pkcs10.NewSubjectPublicKeyInfo(pub)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to encode public key: %s", keyID)
	}
	return &spki, nil
}

// EnumTokens lists tokens. Only the configured keyring is reported.
func (p *Provider) EnumTokens(currentSlotOnly bool) ([]keyvault.TokenInfo, error) {
	return []keyvault.TokenInfo{
		{
			SlotID:       p.CurrentSlotID(),
			Manufacturer: p.Manufacturer(),
			Model:        p.Model(),
			Serial:       p.keyring,
		},
	}, nil
}

func keyMeta(key *kmspb.CryptoKey) map[string]string {
	return map[string]string{
		"purpose":    key.Purpose.String(),
		"algo":       key.VersionTemplate.GetAlgorithm().String(),
		"protection": key.VersionTemplate.GetProtectionLevel().String(),
	}
}

// EnumKeys returns list of keys on the keyring. slotID is ignored.
// Keys with a destroyed signing version are not listed.
func (p *Provider) EnumKeys(slotID uint, prefix string) ([]keyvault.KeyInfo, error) {
	logger.KV(xlog.DEBUG, "keyring", p.keyring, "slotID", slotID, "prefix", prefix)

	ctx := context.Background()
	it := p.client.ListCryptoKeys(ctx, &kmspb.ListCryptoKeysRequest{Parent: p.keyring})

	var res []keyvault.KeyInfo
	for {
		key, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to list keys: %s", p.keyring)
		}

		keyID := strings.TrimPrefix(key.Name, p.keyring+"/cryptoKeys/")
		if prefix != "" && !strings.HasPrefix(keyID, prefix) {
			continue
		}

		v, err := p.client.GetCryptoKeyVersion(ctx, &kmspb.GetCryptoKeyVersionRequest{Name: versionName(key.Name)})
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to get key version: %s", key.Name)
		}
		if v.State == kmspb.CryptoKeyVersion_DESTROYED ||
			v.State == kmspb.CryptoKeyVersion_DESTROY_SCHEDULED {
			continue
		}

		var created *time.Time
		if key.CreateTime != nil {
			t := key.CreateTime.AsTime()
			created = &t
		}
		res = append(res, keyvault.KeyInfo{
			ID:               keyID,
			Label:            keyID,
			CurrentVersionID: "1",
			Meta:             keyMeta(key),
			CreationTime:     created,
		})
	}
	return res, nil
}

// DestroyKey schedules destruction of the signing key version
func (p *Provider) DestroyKey(keyID string) error {
	ctx := context.Background()
	v, err := p.client.DestroyCryptoKeyVersion(ctx, &kmspb.DestroyCryptoKeyVersionRequest{
		Name: versionName(p.keyName(keyID)),
	})
	if err != nil {
		return errors.WithMessagef(err, "failed to schedule key destruction: %s", keyID)
	}
	logger.KV(xlog.NOTICE, "id", keyID, "destroy_time", v.DestroyTime.AsTime().Format(time.RFC3339))

	return nil
}

// DestroyKeyPairOnSlot destroys key pair on slot. slotID is ignored.
func (p *Provider) DestroyKeyPairOnSlot(slotID uint, keyID string) error {
	return p.DestroyKey(keyID)
}

// KeyInfo retrieves info about key with the specified id
func (p *Provider) KeyInfo(slotID uint, keyID string, includePublic bool) (*keyvault.KeyInfo, error) {
	defer metricskey.PerfCryptoOperation.MeasureSince(time.Now(), ProviderName, "keyinfo")

	ctx := context.Background()
	key, err := p.client.GetCryptoKey(ctx, &kmspb.GetCryptoKeyRequest{Name: p.keyName(keyID)})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to get key: %s", keyID)
	}

	pubKey := ""
	if includePublic {
		resp, err := p.client.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{Name: versionName(key.Name)})
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to get public key: %s", keyID)
		}
		pubKey = resp.Pem
	}

	var created *time.Time
	if key.CreateTime != nil {
		t := key.CreateTime.AsTime()
		created = &t
	}
	return &keyvault.KeyInfo{
		ID:               keyID,
		Label:            keyID,
		CurrentVersionID: "1",
		PublicKey:        pubKey,
		Meta:             keyMeta(key),
		CreationTime:     created,
	}, nil
}

// ExportKey returns PKCS#11 URI for specified key ID.
// It does not return key bytes
func (p *Provider) ExportKey(keyID string) (string, []byte, error) {
	ctx := context.Background()
	key, err := p.client.GetCryptoKey(ctx, &kmspb.GetCryptoKeyRequest{Name: p.keyName(keyID)})
	if err != nil {
		return "", nil, errors.WithMessagef(err, "failed to get key: %s", keyID)
	}

	uri := fmt.Sprintf("pkcs11:manufacturer=%s;model=%s;id=%s;serial=%s;type=private",
		p.Manufacturer(),
		p.Model(),
		keyID,
		key.Name,
	)

	return uri, []byte(uri), nil
}

// Close releases the KMS client
func (p *Provider) Close() error {
	return p.client.Close()
}

// KmsLoader provides loader for Cloud KMS provider
func KmsLoader(tc keyvault.TokenConfig) (keyvault.Provider, error) {
	p, err := Init(tc)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Ensure compiles
var _ keyvault.Provider = (*Provider)(nil)
var _ keyvault.KeyManager = (*Provider)(nil)
