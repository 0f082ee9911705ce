package pkcs10

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcsr/oid"
)

// ExtensionValue is a typed X.509v3 extension payload. Each kind owns
// a fixed object identifier and encodes its own DER value.
type ExtensionValue interface {
	// ExtensionID returns the extension type OID
	ExtensionID() asn1.ObjectIdentifier
	// MarshalValue encodes the extension value to DER
	MarshalValue() ([]byte, error)
}

// ExtensionDecoder is the decode side of a typed extension,
// implemented on pointers to ExtensionValue kinds
type ExtensionDecoder interface {
	// ExtensionID returns the extension type OID
	ExtensionID() asn1.ObjectIdentifier
	// UnmarshalValue decodes the extension value from DER
	UnmarshalValue(der []byte) error
}

// Extensions is an ordered collection of extensions. Iteration and
// re-encoding preserve insertion order.
type Extensions []pkix.Extension

// Add encodes the typed value and appends it.
// Adding a kind that is already present returns ErrDuplicateExtension.
func (es *Extensions) Add(val ExtensionValue, critical bool) error {
	id := val.ExtensionID()
	if es.Raw(id) != nil {
		return errors.WithMessagef(ErrDuplicateExtension, "%s", id.String())
	}

	der, err := val.MarshalValue()
	if err != nil {
		return errors.WithMessagef(err, "failed to encode extension: %s", id.String())
	}

	*es = append(*es, pkix.Extension{Id: id, Critical: critical, Value: der})
	return nil
}

// AddRaw appends an already encoded extension.
// Adding an OID that is already present returns ErrDuplicateExtension.
func (es *Extensions) AddRaw(ext pkix.Extension) error {
	if es.Raw(ext.Id) != nil {
		return errors.WithMessagef(ErrDuplicateExtension, "%s", ext.Id.String())
	}
	*es = append(*es, ext)
	return nil
}

// Find decodes the first extension matching val's identifier into val.
// It returns false when no extension with that identifier is present.
func (es Extensions) Find(val ExtensionDecoder) (bool, error) {
	ext := es.Raw(val.ExtensionID())
	if ext == nil {
		return false, nil
	}
	err := val.UnmarshalValue(ext.Value)
	if err != nil {
		return false, err
	}
	return true, nil
}

// Raw returns the first extension with the given OID, or nil
func (es Extensions) Raw(id asn1.ObjectIdentifier) *pkix.Extension {
	for idx, e := range es {
		if e.Id.Equal(id) {
			return &es[idx]
		}
	}
	return nil
}

func (es Extensions) marshal() ([]byte, error) {
	der, err := asn1.Marshal([]pkix.Extension(es))
	if err != nil {
		return nil, errors.WithMessage(err, "failed to encode extensions")
	}
	return der, nil
}

func parseExtensions(der []byte) (Extensions, error) {
	var list []pkix.Extension
	rest, err := asn1.Unmarshal(der, &list)
	if err != nil || len(rest) != 0 {
		return nil, errors.New("failed to parse extensions")
	}
	return Extensions(list), nil
}

// KeyUsage holds the key usage bit flags, RFC 5280 4.2.1.3
type KeyUsage int

// KeyUsage flags
const (
	KeyUsageDigitalSignature KeyUsage = 1 << iota
	KeyUsageContentCommitment
	KeyUsageKeyEncipherment
	KeyUsageDataEncipherment
	KeyUsageKeyAgreement
	KeyUsageCertSign
	KeyUsageCRLSign
	KeyUsageEncipherOnly
	KeyUsageDecipherOnly
)

// ExtensionID returns the extension type OID
func (ku KeyUsage) ExtensionID() asn1.ObjectIdentifier {
	return oid.ExtensionKeyUsage
}

// MarshalValue encodes the usage flags as a DER BIT STRING with
// the minimal number of bits, most significant bit first.
func (ku KeyUsage) MarshalValue() ([]byte, error) {
	var a [2]byte
	a[0] = reverseBitsInAByte(byte(ku))
	a[1] = reverseBitsInAByte(byte(ku >> 8))

	l := 1
	if a[1] != 0 {
		l = 2
	}

	bitString := a[:l]
	der, err := asn1.Marshal(asn1.BitString{Bytes: bitString, BitLength: asn1BitLength(bitString)})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to encode key usage")
	}
	return der, nil
}

// UnmarshalValue decodes the usage flags from DER
func (ku *KeyUsage) UnmarshalValue(der []byte) error {
	var bits asn1.BitString
	rest, err := asn1.Unmarshal(der, &bits)
	if err != nil || len(rest) != 0 {
		return errors.New("failed to parse key usage")
	}

	var usage KeyUsage
	for i := 0; i < 9; i++ {
		if bits.At(i) != 0 {
			usage |= 1 << uint(i)
		}
	}
	*ku = usage
	return nil
}

// Strings returns usage names
func (ku KeyUsage) Strings() []string {
	return oid.KeyUsages(ku.X509())
}

// X509 converts to the stdlib flags, which use the same bit order
func (ku KeyUsage) X509() x509.KeyUsage {
	return x509.KeyUsage(ku)
}

// ExtKeyUsage lists the extended key usage purposes as KeyPurposeId
// OIDs, RFC 5280 4.2.1.12
type ExtKeyUsage []asn1.ObjectIdentifier

// ExtensionID returns the extension type OID
func (e ExtKeyUsage) ExtensionID() asn1.ObjectIdentifier {
	return oid.ExtensionExtendedKeyUsage
}

// MarshalValue encodes the purposes to DER
func (e ExtKeyUsage) MarshalValue() ([]byte, error) {
	der, err := asn1.Marshal([]asn1.ObjectIdentifier(e))
	if err != nil {
		return nil, errors.WithMessage(err, "failed to encode extended key usage")
	}
	return der, nil
}

// UnmarshalValue decodes the purposes from DER
func (e *ExtKeyUsage) UnmarshalValue(der []byte) error {
	var purposes []asn1.ObjectIdentifier
	rest, err := asn1.Unmarshal(der, &purposes)
	if err != nil || len(rest) != 0 {
		return errors.New("failed to parse extended key usage")
	}
	*e = ExtKeyUsage(purposes)
	return nil
}

// RawExtension carries an already encoded value under an arbitrary
// OID, for extension kinds without a typed implementation
type RawExtension struct {
	ID    asn1.ObjectIdentifier
	Value []byte
}

// ExtensionID returns the extension type OID
func (r RawExtension) ExtensionID() asn1.ObjectIdentifier {
	return r.ID
}

// MarshalValue returns the value as provided
func (r RawExtension) MarshalValue() ([]byte, error) {
	return r.Value, nil
}

// BasicConstraints extension, RFC 5280 4.2.1.9
type BasicConstraints struct {
	IsCA       bool `asn1:"optional"`
	MaxPathLen int  `asn1:"optional,default:-1"`
}

// ExtensionID returns the extension type OID
func (bc BasicConstraints) ExtensionID() asn1.ObjectIdentifier {
	return oid.ExtensionBasicConstraints
}

// MarshalValue encodes the constraints to DER
func (bc BasicConstraints) MarshalValue() ([]byte, error) {
	der, err := asn1.Marshal(bc)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to encode basic constraints")
	}
	return der, nil
}

// UnmarshalValue decodes the constraints from DER
func (bc *BasicConstraints) UnmarshalValue(der []byte) error {
	var parsed BasicConstraints
	rest, err := asn1.Unmarshal(der, &parsed)
	if err != nil || len(rest) != 0 {
		return errors.New("failed to parse basic constraints")
	}
	*bc = parsed
	return nil
}

// reverseBitsInAByte converts between the ASN.1 convention, where the
// most significant bit of a byte is the first bit, and the usual one.
func reverseBitsInAByte(in byte) byte {
	b1 := in>>4 | in<<4
	b2 := b1>>2&0x33 | b1<<2&0xCC
	b3 := b2>>1&0x55 | b2<<1&0xAA
	return b3
}

// asn1BitLength returns the bit-length of bitString by considering the
// most-significant bit in a byte to be the "first" bit. This convention
// matches ASN.1, but differs from almost everything else.
func asn1BitLength(bitString []byte) int {
	bitLen := len(bitString) * 8

	for i := range bitString {
		b := bitString[len(bitString)-i-1]

		for bit := uint(0); bit < 8; bit++ {
			if (b>>bit)&1 == 1 {
				return bitLen
			}
			bitLen--
		}
	}

	return 0
}
