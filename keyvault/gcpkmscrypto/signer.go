package gcpkmscrypto

import (
	"context"
	"crypto"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcsr/metricskey"
	"github.com/effective-security/xlog"
)

// Signer implements crypto.Signer interface
type Signer struct {
	keyID     string
	version   string
	algorithm kmspb.CryptoKeyVersion_CryptoKeyVersionAlgorithm
	pubKey    crypto.PublicKey
	client    KmsClient
}

// NewSigner creates new signer
func NewSigner(keyID string, version string, algorithm kmspb.CryptoKeyVersion_CryptoKeyVersionAlgorithm, publicKey crypto.PublicKey, client KmsClient) crypto.Signer {
	logger.KV(xlog.DEBUG, "id", keyID, "version", version, "algo", algorithm)
	return &Signer{
		keyID:     keyID,
		version:   version,
		algorithm: algorithm,
		pubKey:    publicKey,
		client:    client,
	}
}

// KeyID returns key id of the signer
func (s *Signer) KeyID() string {
	return s.keyID
}

// Label returns key label of the signer.
// Cloud KMS keys are addressed by their id, so the label is the id.
func (s *Signer) Label() string {
	return s.keyID
}

// Public returns public key for the signer
func (s *Signer) Public() crypto.PublicKey {
	return s.pubKey
}

func (s *Signer) String() string {
	return fmt.Sprintf("id=%s, version=%s",
		s.KeyID(),
		s.version,
	)
}

// a key version signs with exactly one digest algorithm
var algoHash = map[kmspb.CryptoKeyVersion_CryptoKeyVersionAlgorithm]crypto.Hash{
	kmspb.CryptoKeyVersion_RSA_SIGN_PKCS1_2048_SHA256: crypto.SHA256,
	kmspb.CryptoKeyVersion_RSA_SIGN_PKCS1_3072_SHA256: crypto.SHA256,
	kmspb.CryptoKeyVersion_RSA_SIGN_PKCS1_4096_SHA256: crypto.SHA256,
	kmspb.CryptoKeyVersion_RSA_SIGN_PKCS1_4096_SHA512: crypto.SHA512,
	kmspb.CryptoKeyVersion_RSA_SIGN_PSS_2048_SHA256:   crypto.SHA256,
	kmspb.CryptoKeyVersion_RSA_SIGN_PSS_3072_SHA256:   crypto.SHA256,
	kmspb.CryptoKeyVersion_RSA_SIGN_PSS_4096_SHA256:   crypto.SHA256,
	kmspb.CryptoKeyVersion_RSA_SIGN_PSS_4096_SHA512:   crypto.SHA512,
	kmspb.CryptoKeyVersion_EC_SIGN_P256_SHA256:        crypto.SHA256,
	kmspb.CryptoKeyVersion_EC_SIGN_P384_SHA384:        crypto.SHA384,
}

// Sign implements signing operation
func (s *Signer) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) (signature []byte, err error) {
	defer metricskey.PerfCryptoOperation.MeasureSince(time.Now(), ProviderName, "sign")

	if required, ok := algoHash[s.algorithm]; ok && required != opts.HashFunc() {
		return nil, errors.Errorf("unsupported hash: %s, key algorithm is %s",
			opts.HashFunc().String(), s.algorithm)
	}

	req := &kmspb.AsymmetricSignRequest{
		Name:         s.version,
		DigestCrc32C: crc32c(digest),
	}
	switch opts.HashFunc() {
	case crypto.SHA256:
		req.Digest = &kmspb.Digest{Digest: &kmspb.Digest_Sha256{Sha256: digest}}
	case crypto.SHA384:
		req.Digest = &kmspb.Digest{Digest: &kmspb.Digest_Sha384{Sha384: digest}}
	case crypto.SHA512:
		req.Digest = &kmspb.Digest{Digest: &kmspb.Digest_Sha512{Sha512: digest}}
	default:
		return nil, errors.Errorf("unsupported hash: %s", opts.HashFunc().String())
	}

	resp, err := s.client.AsymmetricSign(context.Background(), req)
	if err != nil {
		return nil, errors.WithMessagef(err, "unable to sign")
	}
	if !resp.VerifiedDigestCrc32C ||
		(resp.SignatureCrc32C != nil && crc32c(resp.Signature).Value != resp.SignatureCrc32C.Value) {
		return nil, errors.New("signing response corrupted in-transit")
	}
	return resp.Signature, nil
}
