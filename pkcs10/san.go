package pkcs10

import (
	"encoding/asn1"
	"net"
	"unicode"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcsr/oid"
)

// GeneralName tags, RFC 5280 4.2.1.6
const (
	nameTypeEmail = 1
	nameTypeDNS   = 2
	nameTypeURI   = 6
	nameTypeIP    = 7
)

// GeneralName is a single subject alternative name.
// Exactly one field is set.
type GeneralName struct {
	DNS   string
	Email string
	IP    net.IP
	URI   string
}

// DNSName returns a DNS general name
func DNSName(name string) GeneralName {
	return GeneralName{DNS: name}
}

// EmailAddress returns an rfc822Name general name
func EmailAddress(email string) GeneralName {
	return GeneralName{Email: email}
}

// IPAddress returns an iPAddress general name
func IPAddress(ip net.IP) GeneralName {
	return GeneralName{IP: ip}
}

// URIName returns a uniformResourceIdentifier general name
func URIName(uri string) GeneralName {
	return GeneralName{URI: uri}
}

// String returns the name value
func (n GeneralName) String() string {
	switch {
	case n.DNS != "":
		return n.DNS
	case n.Email != "":
		return n.Email
	case len(n.IP) > 0:
		return n.IP.String()
	case n.URI != "":
		return n.URI
	}
	return ""
}

// GeneralNames is the subjectAltName extension value: an ordered list
// of general names, encoded and decoded in insertion order.
type GeneralNames []GeneralName

// ExtensionID returns the extension type OID
func (g GeneralNames) ExtensionID() asn1.ObjectIdentifier {
	return oid.ExtensionSubjectAltName
}

// MarshalValue encodes the names to DER
func (g GeneralNames) MarshalValue() ([]byte, error) {
	rawValues := make([]asn1.RawValue, 0, len(g))

	for _, n := range g {
		switch {
		case n.DNS != "":
			if err := isIA5String(n.DNS); err != nil {
				return nil, err
			}
			rawValues = append(rawValues, asn1.RawValue{Tag: nameTypeDNS, Class: asn1.ClassContextSpecific, Bytes: []byte(n.DNS)})
		case n.Email != "":
			if err := isIA5String(n.Email); err != nil {
				return nil, err
			}
			rawValues = append(rawValues, asn1.RawValue{Tag: nameTypeEmail, Class: asn1.ClassContextSpecific, Bytes: []byte(n.Email)})
		case len(n.IP) > 0:
			// OpenSSL requires the IPv4 form for mapped addresses
			ip := n.IP
			if ip4 := ip.To4(); ip4 != nil {
				ip = ip4
			}
			rawValues = append(rawValues, asn1.RawValue{Tag: nameTypeIP, Class: asn1.ClassContextSpecific, Bytes: ip})
		case n.URI != "":
			if err := isIA5String(n.URI); err != nil {
				return nil, err
			}
			rawValues = append(rawValues, asn1.RawValue{Tag: nameTypeURI, Class: asn1.ClassContextSpecific, Bytes: []byte(n.URI)})
		default:
			return nil, errors.New("failed to encode SAN: empty general name")
		}
	}

	der, err := asn1.Marshal(rawValues)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to encode SAN")
	}
	return der, nil
}

// UnmarshalValue decodes the names from DER, preserving order.
// Name forms other than DNS, email, URI and IP are ignored.
func (g *GeneralNames) UnmarshalValue(der []byte) error {
	var seq asn1.RawValue
	rest, err := asn1.Unmarshal(der, &seq)
	if err != nil {
		return errors.WithMessage(err, "failed to parse SAN")
	}
	if len(rest) != 0 {
		return errors.New("failed to parse SAN: trailing data")
	}
	if !seq.IsCompound || seq.Tag != asn1.TagSequence || seq.Class != asn1.ClassUniversal {
		return errors.New("failed to parse SAN: invalid sequence")
	}

	var names GeneralNames
	rest = seq.Bytes
	for len(rest) > 0 {
		var v asn1.RawValue
		rest, err = asn1.Unmarshal(rest, &v)
		if err != nil {
			return errors.WithMessage(err, "failed to parse SAN")
		}
		if v.Class != asn1.ClassContextSpecific {
			continue
		}

		switch v.Tag {
		case nameTypeDNS:
			names = append(names, DNSName(string(v.Bytes)))
		case nameTypeEmail:
			names = append(names, EmailAddress(string(v.Bytes)))
		case nameTypeURI:
			names = append(names, URIName(string(v.Bytes)))
		case nameTypeIP:
			if len(v.Bytes) != net.IPv4len && len(v.Bytes) != net.IPv6len {
				return errors.Errorf("failed to parse SAN: cannot parse IP address of length %d", len(v.Bytes))
			}
			names = append(names, IPAddress(net.IP(v.Bytes)))
		}
	}

	*g = names
	return nil
}

// DNSNames returns the DNS names in order
func (g GeneralNames) DNSNames() []string {
	var list []string
	for _, n := range g {
		if n.DNS != "" {
			list = append(list, n.DNS)
		}
	}
	return list
}

func isIA5String(s string) error {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return errors.Errorf("failed to encode SAN: %q cannot be encoded as an IA5String", s)
		}
	}
	return nil
}
