package pkcs10

import (
	"encoding/asn1"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcsr/oid"
)

// Attribute is a PKCS#10 attribute: a type OID with a set of values
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// AttributeValue is a typed attribute payload, with the same contract
// as ExtensionValue. The extensionRequest attribute is one kind among
// others.
type AttributeValue interface {
	// AttributeID returns the attribute type OID
	AttributeID() asn1.ObjectIdentifier
	// MarshalAttributeValue encodes a single value of the set
	MarshalAttributeValue() ([]byte, error)
}

// AttributeDecoder is the decode side of a typed attribute,
// implemented on pointers to AttributeValue kinds
type AttributeDecoder interface {
	// AttributeID returns the attribute type OID
	AttributeID() asn1.ObjectIdentifier
	// UnmarshalAttributeValue decodes a single value of the set
	UnmarshalAttributeValue(der []byte) error
}

// Attributes is an ordered collection of attributes
type Attributes []Attribute

// Add encodes the typed value and appends it.
// Adding a kind that is already present returns ErrDuplicateExtension.
func (as *Attributes) Add(val AttributeValue) error {
	id := val.AttributeID()
	if as.Raw(id) != nil {
		return errors.WithMessagef(ErrDuplicateExtension, "attribute %s", id.String())
	}

	der, err := val.MarshalAttributeValue()
	if err != nil {
		return errors.WithMessagef(err, "failed to encode attribute: %s", id.String())
	}

	*as = append(*as, Attribute{
		Type:   id,
		Values: []asn1.RawValue{{FullBytes: der}},
	})
	return nil
}

// Find decodes the first value of the first attribute matching val's
// identifier into val. It returns false when the attribute is absent.
func (as Attributes) Find(val AttributeDecoder) (bool, error) {
	attr := as.Raw(val.AttributeID())
	if attr == nil || len(attr.Values) == 0 {
		return false, nil
	}
	err := val.UnmarshalAttributeValue(attr.Values[0].FullBytes)
	if err != nil {
		return false, err
	}
	return true, nil
}

// Raw returns the first attribute with the given OID, or nil
func (as Attributes) Raw(id asn1.ObjectIdentifier) *Attribute {
	for idx, a := range as {
		if a.Type.Equal(id) {
			return &as[idx]
		}
	}
	return nil
}

func (as Attributes) wire() ([]asn1.RawValue, error) {
	out := make([]asn1.RawValue, 0, len(as))
	for _, a := range as {
		der, err := asn1.Marshal(a)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to encode attribute: %s", a.Type.String())
		}
		out = append(out, asn1.RawValue{FullBytes: der})
	}
	return out, nil
}

// ExtensionRequest is the PKCS#9 extensionRequest attribute carrying
// the X.509v3 extensions of the request.
type ExtensionRequest struct {
	Extensions Extensions
}

// AttributeID returns the attribute type OID
func (r ExtensionRequest) AttributeID() asn1.ObjectIdentifier {
	return oid.AttributeExtensionRequest
}

// MarshalAttributeValue encodes the extension list
func (r ExtensionRequest) MarshalAttributeValue() ([]byte, error) {
	return r.Extensions.marshal()
}

// UnmarshalAttributeValue decodes the extension list
func (r *ExtensionRequest) UnmarshalAttributeValue(der []byte) error {
	list, err := parseExtensions(der)
	if err != nil {
		return err
	}
	r.Extensions = list
	return nil
}

// ChallengePassword is the PKCS#9 challengePassword attribute
type ChallengePassword string

// AttributeID returns the attribute type OID
func (cp ChallengePassword) AttributeID() asn1.ObjectIdentifier {
	return oid.AttributeChallengePassword
}

// MarshalAttributeValue encodes the password
func (cp ChallengePassword) MarshalAttributeValue() ([]byte, error) {
	der, err := asn1.Marshal(string(cp))
	if err != nil {
		return nil, errors.WithMessage(err, "failed to encode challenge password")
	}
	return der, nil
}

// UnmarshalAttributeValue decodes the password
func (cp *ChallengePassword) UnmarshalAttributeValue(der []byte) error {
	var s string
	rest, err := asn1.Unmarshal(der, &s)
	if err != nil || len(rest) != 0 {
		return errors.New("failed to parse challenge password")
	}
	*cp = ChallengePassword(s)
	return nil
}
