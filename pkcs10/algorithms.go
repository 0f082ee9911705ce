package pkcs10

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509/pkix"
	"encoding/asn1"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcsr/oid"

	// digests referenced by the resolution table
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
)

type keyFamily int

const (
	familyUnknown keyFamily = iota
	familyRSA
	familyECDSA
)

func (f keyFamily) String() string {
	switch f {
	case familyRSA:
		return "RSA"
	case familyECDSA:
		return "ECDSA"
	}
	return "unknown"
}

// signatureAlgorithmDetails maps a key family and digest pair to the
// signature scheme. Combinations not listed here are unsupported.
var signatureAlgorithmDetails = []struct {
	name   string
	family keyFamily
	hash   crypto.Hash
	oid    asn1.ObjectIdentifier
	params asn1.RawValue
}{
	{"SHA1-RSA", familyRSA, crypto.SHA1, oid.SignatureSHA1WithRSA, asn1.NullRawValue},
	{"SHA256-RSA", familyRSA, crypto.SHA256, oid.SignatureSHA256WithRSA, asn1.NullRawValue},
	{"SHA384-RSA", familyRSA, crypto.SHA384, oid.SignatureSHA384WithRSA, asn1.NullRawValue},
	{"SHA512-RSA", familyRSA, crypto.SHA512, oid.SignatureSHA512WithRSA, asn1.NullRawValue},
	{"ECDSA-SHA256", familyECDSA, crypto.SHA256, oid.SignatureECDSAWithSHA256, asn1.RawValue{}},
	{"ECDSA-SHA384", familyECDSA, crypto.SHA384, oid.SignatureECDSAWithSHA384, asn1.RawValue{}},
	{"ECDSA-SHA512", familyECDSA, crypto.SHA512, oid.SignatureECDSAWithSHA512, asn1.RawValue{}},
}

func publicKeyFamily(pub crypto.PublicKey) keyFamily {
	switch pub.(type) {
	case *rsa.PublicKey:
		return familyRSA
	case *ecdsa.PublicKey:
		return familyECDSA
	}
	return familyUnknown
}

// ResolveSignatureAlgorithm maps the signing key family and the digest
// to a signature algorithm identifier. The same pair always resolves
// to the same identifier; combinations without a defined scheme return
// ErrUnsupportedAlgorithm.
func ResolveSignatureAlgorithm(pub crypto.PublicKey, hash crypto.Hash) (pkix.AlgorithmIdentifier, error) {
	family := publicKeyFamily(pub)
	if family == familyUnknown {
		return pkix.AlgorithmIdentifier{}, errors.WithMessagef(ErrUnsupportedAlgorithm, "key type %T", pub)
	}

	for _, d := range signatureAlgorithmDetails {
		if d.family == family && d.hash == hash {
			return pkix.AlgorithmIdentifier{Algorithm: d.oid, Parameters: d.params}, nil
		}
	}

	return pkix.AlgorithmIdentifier{}, errors.WithMessagef(ErrUnsupportedAlgorithm, "%s with %s", family, hash)
}

// SignatureAlgorithmName returns a short name of a signature scheme
// for logs and display, or the dotted OID when unknown.
func SignatureAlgorithmName(id asn1.ObjectIdentifier) string {
	for _, d := range signatureAlgorithmDetails {
		if d.oid.Equal(id) {
			return d.name
		}
	}
	return id.String()
}

func schemeByOID(id asn1.ObjectIdentifier) (keyFamily, crypto.Hash, bool) {
	for _, d := range signatureAlgorithmDetails {
		if d.oid.Equal(id) {
			return d.family, d.hash, true
		}
	}
	return familyUnknown, 0, false
}

func digest(hash crypto.Hash, data []byte) ([]byte, error) {
	if !hash.Available() {
		return nil, errors.WithMessagef(ErrUnsupportedAlgorithm, "digest %s", hash)
	}
	h := hash.New()
	_, _ = h.Write(data)
	return h.Sum(nil), nil
}
