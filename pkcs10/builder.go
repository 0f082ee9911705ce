package pkcs10

import (
	"crypto"
	"crypto/rand"
	"encoding/asn1"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcsr", "pkcs10")

// RequestBuilder assembles certification requests. All setters chain
// and return the builder; failures are deferred and reported by
// Build. The zero value is ready to use.
type RequestBuilder struct {
	subject Name
	names   GeneralNames
	spki    *SubjectPublicKeyInfo
	usage   KeyUsage
	pending []pendingExtension
	err     error
}

type pendingExtension struct {
	value    ExtensionValue
	critical bool
}

// NewRequestBuilder returns an empty builder
func NewRequestBuilder() *RequestBuilder {
	return &RequestBuilder{}
}

// Subject sets the subject name
func (b *RequestBuilder) Subject(name Name) *RequestBuilder {
	b.subject = name
	return b
}

// AlternativeNames appends subject alternative names. Repeated calls
// accumulate into a single SAN extension.
func (b *RequestBuilder) AlternativeNames(names ...GeneralName) *RequestBuilder {
	b.names = append(b.names, names...)
	return b
}

// PublicKey sets the key being certified and the key usage to request
// for it. The usage becomes a critical keyUsage extension.
func (b *RequestBuilder) PublicKey(pub crypto.PublicKey, usage KeyUsage) *RequestBuilder {
	if b.err != nil {
		return b
	}
	spki, err := NewSubjectPublicKeyInfo(pub)
	if err != nil {
		b.err = err
		return b
	}
	b.spki = &spki
	b.usage = usage
	return b
}

// PublicKeyInfo sets the key being certified from an already encoded
// SubjectPublicKeyInfo, as exported by HSM and KMS providers
func (b *RequestBuilder) PublicKeyInfo(spki SubjectPublicKeyInfo, usage KeyUsage) *RequestBuilder {
	b.spki = &spki
	b.usage = usage
	return b
}

// ExtendedKeyUsage requests the listed key purposes
func (b *RequestBuilder) ExtendedKeyUsage(critical bool, purposes ...asn1.ObjectIdentifier) *RequestBuilder {
	if len(purposes) == 0 {
		return b
	}
	return b.Extension(ExtKeyUsage(purposes), critical)
}

// Extension queues a typed extension. Queued extensions keep their
// call order in the final request.
func (b *RequestBuilder) Extension(val ExtensionValue, critical bool) *RequestBuilder {
	b.pending = append(b.pending, pendingExtension{value: val, critical: critical})
	return b
}

// Build signs the assembled request with the given signer and digest
// and returns the final immutable request. The public key must have
// been set. The signature algorithm is resolved from the signing
// key's type and the digest; unsupported combinations fail before
// any signing happens.
func (b *RequestBuilder) Build(signer crypto.Signer, hash crypto.Hash) (*CertificationRequest, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.spki == nil {
		return nil, errors.WithStack(ErrMissingPublicKey)
	}

	var exts Extensions
	if b.usage != 0 {
		if err := exts.Add(b.usage, true); err != nil {
			return nil, err
		}
	}
	if len(b.names) > 0 {
		if err := exts.Add(b.names, false); err != nil {
			return nil, err
		}
	}
	for _, p := range b.pending {
		if err := exts.Add(p.value, p.critical); err != nil {
			return nil, err
		}
	}

	var attrs Attributes
	if len(exts) > 0 {
		err := attrs.Add(&ExtensionRequest{Extensions: exts})
		if err != nil {
			return nil, err
		}
	}

	sigAlg, err := ResolveSignatureAlgorithm(signer.Public(), hash)
	if err != nil {
		return nil, err
	}

	info := CertificationRequestInfo{
		Version:    0,
		Subject:    b.subject,
		PublicKey:  *b.spki,
		Attributes: attrs,
	}
	tbs, err := info.wire()
	if err != nil {
		return nil, err
	}
	tbsDER, err := asn1.Marshal(*tbs)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to encode certification request info")
	}

	digestBytes, err := digest(hash, tbsDER)
	if err != nil {
		return nil, err
	}
	signature, err := signer.Sign(rand.Reader, digestBytes, hash)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to sign certification request")
	}

	der, err := asn1.Marshal(certificationRequest{
		TBSCSR:             tbsCertificationRequest{Raw: asn1.RawContent(tbsDER)},
		SignatureAlgorithm: sigAlg,
		SignatureValue:     asn1.BitString{Bytes: signature, BitLength: len(signature) * 8},
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to encode certification request")
	}

	req, err := ParseCertificationRequest(der)
	if err != nil {
		return nil, err
	}

	logger.KV(xlog.DEBUG,
		"subject", req.Info.Subject.String(),
		"algorithm", SignatureAlgorithmName(sigAlg.Algorithm))

	return req, nil
}
