package gcpkmscrypto_test

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"hash/crc32"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/effective-security/x/guid"
	"github.com/effective-security/xcsr/keyvault"
	"github.com/effective-security/xcsr/keyvault/gcpkmscrypto"
	"github.com/effective-security/xcsr/oid"
	"github.com/effective-security/xcsr/pkcs10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func setupFakeKms(t *testing.T) {
	fake := newFakeKmsServer()
	srv := grpc.NewServer()
	kmspb.RegisterKeyManagementServiceServer(srv, fake)

	lis := bufconn.Listen(1024 * 1024)
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	orig := gcpkmscrypto.KmsClientFactory
	gcpkmscrypto.KmsClientFactory = func(ctx context.Context, opts ...option.ClientOption) (gcpkmscrypto.KmsClient, error) {
		return kms.NewKeyManagementClient(ctx, option.WithGRPCConn(conn))
	}
	t.Cleanup(func() {
		gcpkmscrypto.KmsClientFactory = orig
		srv.Stop()
	})
}

func Test_KmsProvider(t *testing.T) {
	setupFakeKms(t)

	cfg := &mockTokenCfg{
		manufacturer: gcpkmscrypto.ProviderName,
		model:        "KMS",
		atts:         "Project=dev-project,Location=us-west1,Keyring=xcsr",
	}

	prov, err := gcpkmscrypto.KmsLoader(cfg)
	require.NoError(t, err)
	require.NotNil(t, prov)

	assert.Equal(t, gcpkmscrypto.ProviderName, prov.Manufacturer())
	assert.Equal(t, "KMS", prov.Model())

	mgr := prov.(keyvault.KeyManager)

	list, err := mgr.EnumTokens(false)
	require.NoError(t, err)
	require.NotEmpty(t, list)
	assert.Equal(t, "projects/dev-project/locations/us-west1/keyRings/xcsr", list[0].Serial)

	keys, err := mgr.EnumKeys(mgr.CurrentSlotID(), "")
	require.NoError(t, err)
	require.Empty(t, keys)

	label := fmt.Sprintf("test_RSA_%s", guid.MustCreate())
	pvk, err := prov.GenerateRSAKey(label, 2048, 1)
	require.NoError(t, err)

	keyID, lbl, err := prov.IdentifyKey(pvk)
	require.NoError(t, err)
	assert.Equal(t, label, keyID)
	assert.Equal(t, label, lbl)

	signer := pvk.(crypto.Signer)
	digest := sha256.Sum256([]byte(`message`))
	sig, err := signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	require.NoError(t, err)

	rsaPub := signer.Public().(*rsa.PublicKey)
	require.NoError(t, rsa.VerifyPKCS1v15(rsaPub, crypto.SHA256, digest[:], sig))

	// the key version pins the digest algorithm
	_, err = signer.Sign(rand.Reader, digest[:], crypto.SHA384)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported hash")

	key, err := prov.GetKey(keyID)
	require.NoError(t, err)
	sig, err = key.(crypto.Signer).Sign(rand.Reader, digest[:], crypto.SHA256)
	require.NoError(t, err)
	require.NoError(t, rsa.VerifyPKCS1v15(rsaPub, crypto.SHA256, digest[:], sig))

	spki, err := prov.ExportPublicKey(keyID)
	require.NoError(t, err)
	pub, err := spki.Key()
	require.NoError(t, err)
	assert.True(t, rsaPub.Equal(pub))

	uri, _, err := prov.ExportKey(keyID)
	require.NoError(t, err)
	assert.Contains(t, uri, "pkcs11:manufacturer=GCPKMS;model=KMS;id="+keyID)
	assert.Contains(t, uri, "serial=projects/dev-project/")

	ki, err := mgr.KeyInfo(mgr.CurrentSlotID(), keyID, true)
	require.NoError(t, err)
	assert.Equal(t, keyID, ki.ID)
	assert.Equal(t, "1", ki.CurrentVersionID)
	assert.Equal(t, "ASYMMETRIC_SIGN", ki.Meta["purpose"])
	assert.Contains(t, ki.PublicKey, "BEGIN PUBLIC KEY")
	require.NotNil(t, ki.CreationTime)

	eclabel := fmt.Sprintf("test_ECC_%s", guid.MustCreate())
	epvk, err := prov.GenerateECDSAKey(eclabel, elliptic.P256())
	require.NoError(t, err)

	esigner := epvk.(crypto.Signer)
	esig, err := esigner.Sign(rand.Reader, digest[:], crypto.SHA256)
	require.NoError(t, err)
	assert.True(t, ecdsa.VerifyASN1(esigner.Public().(*ecdsa.PublicKey), digest[:], esig))

	keys, err = mgr.EnumKeys(mgr.CurrentSlotID(), "test_")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	for _, key := range keys {
		err = mgr.DestroyKeyPairOnSlot(mgr.CurrentSlotID(), key.ID)
		require.NoError(t, err)
	}

	keys, err = mgr.EnumKeys(mgr.CurrentSlotID(), "")
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, _, err = prov.IdentifyKey(struct{}{})
	assert.EqualError(t, err, "not supported key")

	_, err = prov.GetKey("non-existent")
	assert.Error(t, err)

	_, err = prov.GenerateECDSAKey("test_p521", elliptic.P521())
	assert.EqualError(t, err, "unsupported curve")

	_, err = prov.GenerateRSAKey("test_rsa_1024", 1024, 1)
	assert.EqualError(t, err, "unsupported key size: 1024")
}

func Test_KmsProviderSignRequest(t *testing.T) {
	setupFakeKms(t)

	cfg := &mockTokenCfg{
		manufacturer: gcpkmscrypto.ProviderName,
		model:        "KMS",
		atts:         "Project=dev-project,Location=us-west1,Keyring=xcsr",
	}

	prov, err := gcpkmscrypto.KmsLoader(cfg)
	require.NoError(t, err)

	pvk, err := prov.GenerateECDSAKey("test_csr_"+guid.MustCreate(), elliptic.P384())
	require.NoError(t, err)
	signer := pvk.(crypto.Signer)

	req, err := pkcs10.NewRequestBuilder().
		Subject(pkcs10.NewName().
			Add(oid.NameC, "US").
			Add(oid.NameO, "Outfox").
			Add(oid.NameCN, "gcp.outfoxx.io")).
		AlternativeNames(pkcs10.DNSName("gcp.outfoxx.io")).
		PublicKey(signer.Public(), pkcs10.KeyUsageDigitalSignature).
		Build(signer, crypto.SHA384)
	require.NoError(t, err)

	ok, err := req.Verify()
	require.NoError(t, err)
	assert.True(t, ok)

	der, err := req.EncodeDER()
	require.NoError(t, err)
	parsed, err := x509.ParseCertificateRequest(der)
	require.NoError(t, err)
	require.NoError(t, parsed.CheckSignature())
	assert.Equal(t, "gcp.outfoxx.io", parsed.Subject.CommonName)
}

func Test_KmsLoaderMissingAttributes(t *testing.T) {
	setupFakeKms(t)

	cfg := &mockTokenCfg{
		manufacturer: gcpkmscrypto.ProviderName,
		model:        "KMS",
		atts:         "Location=us-west1,Keyring=xcsr",
	}
	_, err := gcpkmscrypto.KmsLoader(cfg)
	assert.EqualError(t, err, "missing attribute: Project")
}

//
// mockTokenCfg
//

type mockTokenCfg struct {
	manufacturer string
	model        string
	path         string
	tokenSerial  string
	tokenLabel   string
	pin          string
	atts         string
}

// Manufacturer name of the manufacturer
func (m *mockTokenCfg) Manufacturer() string {
	return m.manufacturer
}

// Model name of the device
func (m *mockTokenCfg) Model() string {
	return m.model
}

// Full path to PKCS#11 library
func (m *mockTokenCfg) Path() string {
	return m.path
}

// Token serial number
func (m *mockTokenCfg) TokenSerial() string {
	return m.tokenSerial
}

// Token label
func (m *mockTokenCfg) TokenLabel() string {
	return m.tokenLabel
}

// Pin is a secret to access the token
func (m *mockTokenCfg) Pin() string {
	return m.pin
}

// Comma separated key=value pair of attributes
func (m *mockTokenCfg) Attributes() string {
	return m.atts
}

//
// fakeKmsServer serves the KeyManagementService over an in-process
// connection, holding generated keys in memory and signing with them
//

type fakeKmsServer struct {
	kmspb.UnimplementedKeyManagementServiceServer

	lock sync.Mutex
	keys map[string]*fakeKmsKey
}

type fakeKmsKey struct {
	key     *kmspb.CryptoKey
	version *kmspb.CryptoKeyVersion
	signer  crypto.Signer
}

func newFakeKmsServer() *fakeKmsServer {
	return &fakeKmsServer{keys: map[string]*fakeKmsKey{}}
}

func fakeCrc32c(data []byte) *wrapperspb.Int64Value {
	t := crc32.MakeTable(crc32.Castagnoli)
	return wrapperspb.Int64(int64(crc32.Checksum(data, t)))
}

func (s *fakeKmsServer) CreateCryptoKey(_ context.Context, req *kmspb.CreateCryptoKeyRequest) (*kmspb.CryptoKey, error) {
	var signer crypto.Signer
	var err error

	algo := req.CryptoKey.VersionTemplate.Algorithm
	switch algo {
	case kmspb.CryptoKeyVersion_RSA_SIGN_PKCS1_2048_SHA256,
		kmspb.CryptoKeyVersion_RSA_DECRYPT_OAEP_2048_SHA256:
		signer, err = rsa.GenerateKey(rand.Reader, 2048)
	case kmspb.CryptoKeyVersion_EC_SIGN_P256_SHA256:
		signer, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case kmspb.CryptoKeyVersion_EC_SIGN_P384_SHA384:
		signer, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	default:
		return nil, fmt.Errorf("fake server does not support algorithm: %s", algo)
	}
	if err != nil {
		return nil, err
	}

	name := req.Parent + "/cryptoKeys/" + req.CryptoKeyId
	key := &kmspb.CryptoKey{
		Name:            name,
		Purpose:         req.CryptoKey.Purpose,
		VersionTemplate: req.CryptoKey.VersionTemplate,
		CreateTime:      timestamppb.Now(),
	}
	version := &kmspb.CryptoKeyVersion{
		Name:            name + "/cryptoKeyVersions/1",
		State:           kmspb.CryptoKeyVersion_ENABLED,
		Algorithm:       algo,
		ProtectionLevel: req.CryptoKey.VersionTemplate.ProtectionLevel,
		CreateTime:      timestamppb.Now(),
	}

	s.lock.Lock()
	s.keys[name] = &fakeKmsKey{key: key, version: version, signer: signer}
	s.lock.Unlock()

	return key, nil
}

func (s *fakeKmsServer) byKeyName(name string) (*fakeKmsKey, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	k, ok := s.keys[name]
	if !ok {
		return nil, fmt.Errorf("not found: %s", name)
	}
	return k, nil
}

func (s *fakeKmsServer) byVersionName(name string) (*fakeKmsKey, error) {
	return s.byKeyName(strings.TrimSuffix(name, "/cryptoKeyVersions/1"))
}

func (s *fakeKmsServer) GetCryptoKey(_ context.Context, req *kmspb.GetCryptoKeyRequest) (*kmspb.CryptoKey, error) {
	k, err := s.byKeyName(req.Name)
	if err != nil {
		return nil, err
	}
	return k.key, nil
}

func (s *fakeKmsServer) GetCryptoKeyVersion(_ context.Context, req *kmspb.GetCryptoKeyVersionRequest) (*kmspb.CryptoKeyVersion, error) {
	k, err := s.byVersionName(req.Name)
	if err != nil {
		return nil, err
	}
	return k.version, nil
}

func (s *fakeKmsServer) ListCryptoKeys(_ context.Context, req *kmspb.ListCryptoKeysRequest) (*kmspb.ListCryptoKeysResponse, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	res := &kmspb.ListCryptoKeysResponse{}
	for name, k := range s.keys {
		if strings.HasPrefix(name, req.Parent+"/cryptoKeys/") {
			res.CryptoKeys = append(res.CryptoKeys, k.key)
		}
	}
	res.TotalSize = int32(len(res.CryptoKeys))
	return res, nil
}

func (s *fakeKmsServer) DestroyCryptoKeyVersion(_ context.Context, req *kmspb.DestroyCryptoKeyVersionRequest) (*kmspb.CryptoKeyVersion, error) {
	k, err := s.byVersionName(req.Name)
	if err != nil {
		return nil, err
	}

	s.lock.Lock()
	k.version.State = kmspb.CryptoKeyVersion_DESTROY_SCHEDULED
	k.version.DestroyTime = timestamppb.New(time.Now().Add(24 * time.Hour))
	s.lock.Unlock()

	return k.version, nil
}

func (s *fakeKmsServer) GetPublicKey(_ context.Context, req *kmspb.GetPublicKeyRequest) (*kmspb.PublicKey, error) {
	k, err := s.byVersionName(req.Name)
	if err != nil {
		return nil, err
	}

	der, err := x509.MarshalPKIXPublicKey(k.signer.Public())
	if err != nil {
		return nil, err
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	return &kmspb.PublicKey{
		Name:      req.Name,
		Pem:       string(pemKey),
		Algorithm: k.version.Algorithm,
		PemCrc32C: fakeCrc32c(pemKey),
	}, nil
}

func (s *fakeKmsServer) AsymmetricSign(_ context.Context, req *kmspb.AsymmetricSignRequest) (*kmspb.AsymmetricSignResponse, error) {
	k, err := s.byVersionName(req.Name)
	if err != nil {
		return nil, err
	}

	var digest []byte
	var opts crypto.SignerOpts
	switch d := req.Digest.Digest.(type) {
	case *kmspb.Digest_Sha256:
		digest = d.Sha256
		opts = crypto.SHA256
	case *kmspb.Digest_Sha384:
		digest = d.Sha384
		opts = crypto.SHA384
	case *kmspb.Digest_Sha512:
		digest = d.Sha512
		opts = crypto.SHA512
	default:
		return nil, fmt.Errorf("unsupported digest")
	}

	sig, err := k.signer.Sign(rand.Reader, digest, opts)
	if err != nil {
		return nil, err
	}

	verified := req.DigestCrc32C != nil && req.DigestCrc32C.Value == fakeCrc32c(digest).Value
	return &kmspb.AsymmetricSignResponse{
		Name:                 req.Name,
		Signature:            sig,
		SignatureCrc32C:      fakeCrc32c(sig),
		VerifiedDigestCrc32C: verified,
	}, nil
}
