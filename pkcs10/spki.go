package pkcs10

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"

	"github.com/cockroachdb/errors"
)

// SubjectPublicKeyInfo carries the public key algorithm and the raw
// key bits of the request subject.
type SubjectPublicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

// NewSubjectPublicKeyInfo derives SubjectPublicKeyInfo from a public
// key in PKIX form.
func NewSubjectPublicKeyInfo(pub crypto.PublicKey) (SubjectPublicKeyInfo, error) {
	var spki SubjectPublicKeyInfo

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return spki, errors.WithMessage(err, "failed to encode public key")
	}

	rest, err := asn1.Unmarshal(der, &spki)
	if err != nil || len(rest) != 0 {
		return spki, errors.New("failed to encode public key: invalid PKIX encoding")
	}
	return spki, nil
}

// Key returns the public key
func (k SubjectPublicKeyInfo) Key() (crypto.PublicKey, error) {
	der, err := asn1.Marshal(k)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to encode public key info")
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to parse public key")
	}
	return pub, nil
}

// Equal compares key info structurally
func (k SubjectPublicKeyInfo) Equal(o SubjectPublicKeyInfo) bool {
	return algorithmIdentifiersEqual(k.Algorithm, o.Algorithm) &&
		k.PublicKey.BitLength == o.PublicKey.BitLength &&
		bytes.Equal(k.PublicKey.Bytes, o.PublicKey.Bytes)
}
