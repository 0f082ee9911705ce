package pkcs10_test

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"testing"

	"github.com/effective-security/xcsr/oid"
	"github.com/effective-security/xcsr/pkcs10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMissingPublicKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	_, err = pkcs10.NewRequestBuilder().
		Subject(pkcs10.NewName().Add(oid.NameCN, "trusty.ca")).
		AlternativeNames(pkcs10.DNSName("trusty.ca")).
		Build(key, crypto.SHA256)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkcs10.ErrMissingPublicKey)
	assert.Equal(t, "missing public key", err.Error())
}

func TestBuildInvalidPublicKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	// the error from the setter surfaces at Build
	_, err = pkcs10.NewRequestBuilder().
		PublicKey("not a key", pkcs10.KeyUsageDigitalSignature).
		Build(key, crypto.SHA256)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to encode public key")
}

func TestBuildUnsupportedCombination(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	_, err = pkcs10.NewRequestBuilder().
		PublicKey(key.Public(), pkcs10.KeyUsageDigitalSignature).
		Build(key, crypto.SHA1)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkcs10.ErrUnsupportedAlgorithm)
}

func TestBuildNoExtensions(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	req, err := pkcs10.NewRequestBuilder().
		Subject(pkcs10.NewName().Add(oid.NameCN, "bare.trusty.ca")).
		PublicKey(key.Public(), 0).
		Build(key, crypto.SHA256)
	require.NoError(t, err)

	assert.Empty(t, req.Info.Attributes)
	exts, err := req.Info.Extensions()
	require.NoError(t, err)
	assert.Nil(t, exts)

	ok, err := req.Verify()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBuildExtensionOrder(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	req, err := pkcs10.NewRequestBuilder().
		Subject(pkcs10.NewName().Add(oid.NameCN, "order.trusty.ca")).
		PublicKey(key.Public(), pkcs10.KeyUsageCertSign).
		AlternativeNames(pkcs10.DNSName("order.trusty.ca")).
		Extension(pkcs10.BasicConstraints{IsCA: true, MaxPathLen: -1}, true).
		ExtendedKeyUsage(false, oid.KeyPurposeOCSPSigning).
		Build(key, crypto.SHA256)
	require.NoError(t, err)

	// key usage, SAN, then queued extensions in call order
	exts, err := req.Info.Extensions()
	require.NoError(t, err)
	require.Equal(t, 4, len(exts))
	assert.Equal(t, oid.ExtensionKeyUsage, exts[0].Id)
	assert.Equal(t, oid.ExtensionSubjectAltName, exts[1].Id)
	assert.Equal(t, oid.ExtensionBasicConstraints, exts[2].Id)
	assert.Equal(t, oid.ExtensionExtendedKeyUsage, exts[3].Id)
}

func TestBuildDuplicateExtension(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	_, err = pkcs10.NewRequestBuilder().
		PublicKey(key.Public(), 0).
		ExtendedKeyUsage(false, oid.KeyPurposeServerAuth).
		ExtendedKeyUsage(true, oid.KeyPurposeClientAuth).
		Build(key, crypto.SHA256)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkcs10.ErrDuplicateExtension)
}

func TestBuildSigning(t *testing.T) {
	subject := pkcs10.NewName().
		Add(oid.NameO, "Outfox").
		Add(oid.NameCN, "Outfox Signing")

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	req, err := pkcs10.NewRequestBuilder().
		Subject(subject).
		AlternativeNames(pkcs10.DNSName("outfoxx.io")).
		PublicKey(key.Public(), pkcs10.KeyUsageKeyEncipherment).
		ExtendedKeyUsage(true, oid.KeyPurposeClientAuth, oid.KeyPurposeServerAuth).
		Build(key, crypto.SHA256)
	require.NoError(t, err)
	assert.Equal(t, oid.SignatureSHA256WithRSA, req.SignatureAlgorithm.Algorithm)

	der, err := req.EncodeDER()
	require.NoError(t, err)

	decoded, err := pkcs10.ParseCertificationRequest(der)
	require.NoError(t, err)
	assert.True(t, decoded.Equal(req))

	assert.Equal(t, "Outfox Signing", decoded.Info.Subject.CommonName())

	exts, err := decoded.Info.Extensions()
	require.NoError(t, err)

	var ku pkcs10.KeyUsage
	found, err := exts.Find(&ku)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, pkcs10.KeyUsageKeyEncipherment, ku)

	var names pkcs10.GeneralNames
	found, err = exts.Find(&names)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"outfoxx.io"}, names.DNSNames())

	var eku pkcs10.ExtKeyUsage
	found, err = exts.Find(&eku)
	require.NoError(t, err)
	assert.True(t, found)
	require.Equal(t, 2, len(eku))
	assert.Equal(t, oid.KeyPurposeClientAuth, eku[0])
	assert.Equal(t, oid.KeyPurposeServerAuth, eku[1])
	assert.True(t, exts.Raw(oid.ExtensionExtendedKeyUsage).Critical)

	ok, err := decoded.Verify()
	require.NoError(t, err)
	assert.True(t, ok)

	// crypto/x509 agrees with the encoding
	xreq, err := x509.ParseCertificateRequest(der)
	require.NoError(t, err)
	require.NoError(t, xreq.CheckSignature())
	assert.Equal(t, []string{"outfoxx.io"}, xreq.DNSNames)
}
