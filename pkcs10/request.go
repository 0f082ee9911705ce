package pkcs10

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// wire structures matching RFC 2986
type certificationRequest struct {
	Raw                asn1.RawContent
	TBSCSR             tbsCertificationRequest
	SignatureAlgorithm pkix.AlgorithmIdentifier
	SignatureValue     asn1.BitString
}

type tbsCertificationRequest struct {
	Raw           asn1.RawContent
	Version       int
	Subject       asn1.RawValue
	PublicKey     publicKeyInfo
	RawAttributes []asn1.RawValue `asn1:"tag:0"`
}

type publicKeyInfo struct {
	Raw       asn1.RawContent
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

// CertificationRequestInfo is the signed body of a certification
// request: version, subject, public key info and attributes.
// It is immutable once built.
type CertificationRequestInfo struct {
	// Raw holds the exact DER bytes covered by the signature
	Raw []byte

	Version    int
	Subject    Name
	PublicKey  SubjectPublicKeyInfo
	Attributes Attributes
}

// Extensions returns the X.509v3 extensions carried in the
// extensionRequest attribute, or nil when the attribute is absent
func (i *CertificationRequestInfo) Extensions() (Extensions, error) {
	var extReq ExtensionRequest
	found, err := i.Attributes.Find(&extReq)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return extReq.Extensions, nil
}

// Equal compares the info structurally
func (i *CertificationRequestInfo) Equal(o *CertificationRequestInfo) bool {
	if i == nil || o == nil {
		return i == o
	}
	if i.Version != o.Version ||
		!i.Subject.Equal(o.Subject) ||
		!i.PublicKey.Equal(o.PublicKey) ||
		len(i.Attributes) != len(o.Attributes) {
		return false
	}
	for idx := range i.Attributes {
		if !attributeEqual(i.Attributes[idx], o.Attributes[idx]) {
			return false
		}
	}
	return true
}

func attributeEqual(a, b Attribute) bool {
	if !a.Type.Equal(b.Type) || len(a.Values) != len(b.Values) {
		return false
	}
	for i := range a.Values {
		if !bytes.Equal(a.Values[i].FullBytes, b.Values[i].FullBytes) {
			return false
		}
	}
	return true
}

// CertificationRequest is a signed PKCS#10 certification request.
// It is immutable; it is the unit that is serialized, deserialized
// and compared for equality.
type CertificationRequest struct {
	// Raw holds the complete DER encoding
	Raw []byte

	Info               CertificationRequestInfo
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          asn1.BitString
}

// ParseCertificationRequest parses a single request from DER.
// Malformed input is rejected with a DecodeError naming the
// structural field that failed.
func ParseCertificationRequest(der []byte) (*CertificationRequest, error) {
	if err := checkStructure(der); err != nil {
		return nil, err
	}

	var wire certificationRequest
	rest, err := asn1.Unmarshal(der, &wire)
	if err != nil || len(rest) != 0 {
		return nil, errors.WithStack(&DecodeError{Field: "certificationRequest", Reason: "invalid structure"})
	}

	subject, err := parseName(wire.TBSCSR.Subject.FullBytes)
	if err != nil {
		return nil, err
	}

	attrs, err := parseAttributes(wire.TBSCSR.RawAttributes)
	if err != nil {
		return nil, err
	}

	return &CertificationRequest{
		Raw: wire.Raw,
		Info: CertificationRequestInfo{
			Raw:     wire.TBSCSR.Raw,
			Version: wire.TBSCSR.Version,
			Subject: subject,
			PublicKey: SubjectPublicKeyInfo{
				Algorithm: wire.TBSCSR.PublicKey.Algorithm,
				PublicKey: wire.TBSCSR.PublicKey.PublicKey,
			},
			Attributes: attrs,
		},
		SignatureAlgorithm: wire.SignatureAlgorithm,
		Signature:          wire.SignatureValue,
	}, nil
}

// ParseCertificationRequestPEM parses a request from a PEM block of
// type CERTIFICATE REQUEST or NEW CERTIFICATE REQUEST
func ParseCertificationRequestPEM(in []byte) (*CertificationRequest, error) {
	block, _ := pem.Decode(in)
	if block == nil ||
		(block.Type != "CERTIFICATE REQUEST" && block.Type != "NEW CERTIFICATE REQUEST") {
		return nil, errors.New("unable to parse PEM: invalid block type")
	}
	return ParseCertificationRequest(block.Bytes)
}

func parseAttributes(raw []asn1.RawValue) (Attributes, error) {
	var as Attributes
	for _, rv := range raw {
		var a Attribute
		rest, err := asn1.Unmarshal(rv.FullBytes, &a)
		if err != nil || len(rest) != 0 {
			return nil, decodeErr("certificationRequestInfo.attributes")
		}
		as = append(as, a)
	}
	return as, nil
}

// EncodeDER returns the DER encoding. A request produced by Build or
// by parsing reproduces its exact original bytes.
func (r *CertificationRequest) EncodeDER() ([]byte, error) {
	wire, err := r.wire()
	if err != nil {
		return nil, err
	}
	der, err := asn1.Marshal(*wire)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to encode certification request")
	}
	return der, nil
}

// EncodePEM returns the request in a CERTIFICATE REQUEST block
func (r *CertificationRequest) EncodePEM() ([]byte, error) {
	der, err := r.EncodeDER()
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}), nil
}

func (r *CertificationRequest) wire() (*certificationRequest, error) {
	tbs, err := r.Info.wire()
	if err != nil {
		return nil, err
	}
	return &certificationRequest{
		Raw:                asn1.RawContent(r.Raw),
		TBSCSR:             *tbs,
		SignatureAlgorithm: r.SignatureAlgorithm,
		SignatureValue:     r.Signature,
	}, nil
}

func (i *CertificationRequestInfo) wire() (*tbsCertificationRequest, error) {
	subjectDER, err := i.Subject.marshal()
	if err != nil {
		return nil, err
	}
	rawAttrs, err := i.Attributes.wire()
	if err != nil {
		return nil, err
	}
	return &tbsCertificationRequest{
		Raw:     asn1.RawContent(i.Raw),
		Version: i.Version,
		Subject: asn1.RawValue{FullBytes: subjectDER},
		PublicKey: publicKeyInfo{
			Algorithm: i.PublicKey.Algorithm,
			PublicKey: i.PublicKey.PublicKey,
		},
		RawAttributes: rawAttrs,
	}, nil
}

// Verify checks the request signature over the signed info bytes.
// It returns false with a nil error when verification ran and the
// signature did not match, and a non nil error when verification
// could not run.
func (r *CertificationRequest) Verify() (bool, error) {
	family, hash, ok := schemeByOID(r.SignatureAlgorithm.Algorithm)
	if !ok {
		return false, errors.WithMessagef(ErrUnsupportedAlgorithm,
			"signature algorithm %s", r.SignatureAlgorithm.Algorithm.String())
	}

	pub, err := r.Info.PublicKey.Key()
	if err != nil {
		return false, err
	}

	signed := r.Info.Raw
	if len(signed) == 0 {
		tbs, err := r.Info.wire()
		if err != nil {
			return false, err
		}
		signed, err = asn1.Marshal(*tbs)
		if err != nil {
			return false, errors.WithMessage(err, "failed to encode certification request info")
		}
	}

	digestBytes, err := digest(hash, signed)
	if err != nil {
		return false, err
	}

	sig := r.Signature.RightAlign()

	switch pub := pub.(type) {
	case *rsa.PublicKey:
		if family != familyRSA {
			return false, errors.WithMessagef(ErrUnsupportedAlgorithm,
				"RSA key with %s", SignatureAlgorithmName(r.SignatureAlgorithm.Algorithm))
		}
		return rsa.VerifyPKCS1v15(pub, hash, digestBytes, sig) == nil, nil
	case *ecdsa.PublicKey:
		if family != familyECDSA {
			return false, errors.WithMessagef(ErrUnsupportedAlgorithm,
				"ECDSA key with %s", SignatureAlgorithmName(r.SignatureAlgorithm.Algorithm))
		}
		return ecdsa.VerifyASN1(pub, digestBytes, sig), nil
	}

	return false, errors.WithMessagef(ErrUnsupportedAlgorithm, "key type %T", pub)
}

// Equal compares requests structurally: all three fields must match,
// independent of the stored raw encodings.
func (r *CertificationRequest) Equal(o *CertificationRequest) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.Info.Equal(&o.Info) &&
		algorithmIdentifiersEqual(r.SignatureAlgorithm, o.SignatureAlgorithm) &&
		r.Signature.BitLength == o.Signature.BitLength &&
		bytes.Equal(r.Signature.Bytes, o.Signature.Bytes)
}

func algorithmIdentifiersEqual(a, b pkix.AlgorithmIdentifier) bool {
	ad, err := asn1.Marshal(a)
	if err != nil {
		return false
	}
	bd, err := asn1.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ad, bd)
}

// checkStructure walks the outer PKCS#10 shape and reports the first
// structural field that does not parse.
func checkStructure(der []byte) error {
	input := cryptobyte.String(der)

	var csr cryptobyte.String
	if !input.ReadASN1(&csr, cbasn1.SEQUENCE) {
		return decodeErr("certificationRequest")
	}
	if !input.Empty() {
		return errors.WithStack(&DecodeError{Field: "certificationRequest", Reason: "trailing data"})
	}

	var tbs cryptobyte.String
	if !csr.ReadASN1(&tbs, cbasn1.SEQUENCE) {
		return decodeErr("certificationRequestInfo")
	}

	var version int
	if !tbs.ReadASN1Integer(&version) {
		return decodeErr("certificationRequestInfo.version")
	}

	var subject cryptobyte.String
	if !tbs.ReadASN1(&subject, cbasn1.SEQUENCE) {
		return decodeErr("certificationRequestInfo.subject")
	}

	var spki cryptobyte.String
	if !tbs.ReadASN1(&spki, cbasn1.SEQUENCE) {
		return decodeErr("certificationRequestInfo.subjectPKInfo")
	}
	var alg cryptobyte.String
	if !spki.ReadASN1(&alg, cbasn1.SEQUENCE) {
		return decodeErr("certificationRequestInfo.subjectPKInfo.algorithm")
	}
	var algOID asn1.ObjectIdentifier
	if !alg.ReadASN1ObjectIdentifier(&algOID) {
		return decodeErr("certificationRequestInfo.subjectPKInfo.algorithm")
	}
	var pk asn1.BitString
	if !spki.ReadASN1BitString(&pk) {
		return decodeErr("certificationRequestInfo.subjectPKInfo.subjectPublicKey")
	}

	var attrs cryptobyte.String
	if !tbs.ReadASN1(&attrs, cbasn1.Tag(0).Constructed().ContextSpecific()) {
		return decodeErr("certificationRequestInfo.attributes")
	}
	for !attrs.Empty() {
		var attr cryptobyte.String
		var tag cbasn1.Tag
		if !attrs.ReadAnyASN1(&attr, &tag) || tag != cbasn1.SEQUENCE {
			return decodeErr("certificationRequestInfo.attributes")
		}
	}
	if !tbs.Empty() {
		return errors.WithStack(&DecodeError{Field: "certificationRequestInfo", Reason: "trailing data"})
	}

	var sigAlg cryptobyte.String
	if !csr.ReadASN1(&sigAlg, cbasn1.SEQUENCE) {
		return decodeErr("signatureAlgorithm")
	}
	var sigAlgOID asn1.ObjectIdentifier
	if !sigAlg.ReadASN1ObjectIdentifier(&sigAlgOID) {
		return decodeErr("signatureAlgorithm")
	}

	var sig asn1.BitString
	if !csr.ReadASN1BitString(&sig) {
		return decodeErr("signature")
	}
	if !csr.Empty() {
		return errors.WithStack(&DecodeError{Field: "certificationRequest", Reason: "trailing data"})
	}

	return nil
}
