package pkcs10

import (
	"bytes"
	"crypto/x509/pkix"
	"encoding/asn1"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcsr/oid"
)

// Name is an X.501 distinguished name: an ordered sequence of
// relative distinguished names. It is built incrementally and is
// never mutated after being attached to a request.
type Name struct {
	rdns pkix.RDNSequence
}

// NewName returns an empty Name
func NewName() Name {
	return Name{}
}

// NameFromPkix converts pkix.Name
func NameFromPkix(n pkix.Name) Name {
	return Name{rdns: n.ToRDNSequence()}
}

// Add returns a copy of the name with a single-attribute RDN
// appended, preserving insertion order.
func (n Name) Add(attr asn1.ObjectIdentifier, value string) Name {
	rdns := make(pkix.RDNSequence, len(n.rdns), len(n.rdns)+1)
	copy(rdns, n.rdns)
	rdns = append(rdns, []pkix.AttributeTypeAndValue{
		{Type: attr, Value: value},
	})
	return Name{rdns: rdns}
}

// AddRDN returns a copy of the name with a multi-attribute RDN set
// appended.
func (n Name) AddRDN(attrs ...pkix.AttributeTypeAndValue) Name {
	rdns := make(pkix.RDNSequence, len(n.rdns), len(n.rdns)+1)
	copy(rdns, n.rdns)
	rdns = append(rdns, attrs)
	return Name{rdns: rdns}
}

// RDNSequence returns the underlying sequence
func (n Name) RDNSequence() pkix.RDNSequence {
	return n.rdns
}

// Pkix converts to pkix.Name
func (n Name) Pkix() pkix.Name {
	var out pkix.Name
	out.FillFromRDNSequence(&n.rdns)
	return out
}

// IsEmpty returns true if the name has no RDNs
func (n Name) IsEmpty() bool {
	return len(n.rdns) == 0
}

// CommonName returns the value of the first CN attribute,
// or an empty string
func (n Name) CommonName() string {
	for _, rdn := range n.rdns {
		for _, atv := range rdn {
			if atv.Type.Equal(oid.NameCN) {
				if s, ok := atv.Value.(string); ok {
					return s
				}
			}
		}
	}
	return ""
}

// String returns RFC 2253 representation of the name
func (n Name) String() string {
	return n.Pkix().String()
}

// Equal compares names by their DER encoding
func (n Name) Equal(o Name) bool {
	a, err := n.marshal()
	if err != nil {
		return false
	}
	b, err := o.marshal()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func (n Name) marshal() ([]byte, error) {
	der, err := asn1.Marshal(n.rdns)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to encode subject")
	}
	return der, nil
}

func parseName(der []byte) (Name, error) {
	var rdns pkix.RDNSequence
	rest, err := asn1.Unmarshal(der, &rdns)
	if err != nil || len(rest) != 0 {
		return Name{}, decodeErr("certificationRequestInfo.subject")
	}
	return Name{rdns: rdns}, nil
}
