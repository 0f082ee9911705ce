package csr

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"net"
	"net/mail"
	"net/url"
	"strings"

	"github.com/effective-security/x/slices"
	"github.com/effective-security/xcsr/oid"
	"github.com/effective-security/xcsr/pkcs10"
	"github.com/effective-security/xlog"
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcsr", "csr")

// X509Name contains the SubjectInfo fields.
type X509Name struct {
	Country            string `json:"c" yaml:"c"`
	Province           string `json:"st" yaml:"st"`
	Locality           string `json:"l" yaml:"l"`
	Organization       string `json:"o" yaml:"o"`
	OrganizationalUnit string `json:"ou" yaml:"ou"`
	EmailAddress       string `json:"email" yaml:"email"` // 1.2.840.113549.1.9.1
	SerialNumber       string `json:"serial_number" yaml:"serial_number"`
}

// X509Subject contains the information that should be used to override the
// subject information when creating a certificate request.
type X509Subject struct {
	CommonName   string     `json:"common_name" yaml:"common_name"`
	Names        []X509Name `json:"names" yaml:"names"`
	SerialNumber string     `json:"serial_number" yaml:"serial_number"`
}

// X509Extension represents a raw extension to be included in the request.
// The "value" field must be hex or base64 encoded.
type X509Extension struct {
	ID       OID    `json:"id" yaml:"id"`
	Critical bool   `json:"critical" yaml:"critical"`
	Value    string `json:"value" yaml:"value"`
}

// GetValue returns raw value.
// if prefix is hex or base64, then it's decoded,
// otherwise hex decoding is tried first then base64
func (ext X509Extension) GetValue() ([]byte, error) {
	var rawValue []byte
	var err error
	if strings.HasPrefix(ext.Value, "hex:") {
		rawValue, err = hex.DecodeString(ext.Value[4:])
	} else if strings.HasPrefix(ext.Value, "base64:") {
		rawValue, err = base64.StdEncoding.DecodeString(ext.Value[7:])
	} else {
		rawValue, err = hex.DecodeString(ext.Value)
		if err != nil {
			rawValue, err = base64.StdEncoding.DecodeString(ext.Value)
		}
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to decode extension: %s", ext.Value)
	}
	return rawValue, nil
}

// A CertificateRequest encapsulates the API interface to the
// certificate request functionality.
type CertificateRequest struct {
	// CommonName of the Subject
	CommonName string `json:"common_name" yaml:"common_name"`
	// Names of the Subject
	Names []X509Name `json:"names" yaml:"names"`
	// SerialNumber of the Subject
	SerialNumber string `json:"serial_number,omitempty" yaml:"serial_number,omitempty"`
	// SAN is Subject Alt Names
	SAN []string `json:"san" yaml:"san"`
	// KeyRequest for generated key
	KeyRequest *KeyRequest `json:"key,omitempty" yaml:"key,omitempty"`
	// Extensions for the cert
	Extensions []X509Extension `json:"extensions,omitempty" yaml:"extensions,omitempty"`
}

// Copy returns a deep copy of the request, so that a profile template
// can be modified per enrollment without changing the original
func (r *CertificateRequest) Copy() *CertificateRequest {
	out := new(CertificateRequest)
	err := copier.CopyWithOption(out, r, copier.Option{DeepCopy: true})
	if err != nil {
		logger.Panicf("unable to copy request: %+v", err)
	}
	return out
}

// Validate provides the default validation logic for certificate
// request subjects. The only requirement here is that the
// request have a non-empty subject field.
func (r *CertificateRequest) Validate() error {
	if r.CommonName != "" {
		return nil
	}

	for _, n := range r.Names {
		if isNameEmpty(n) {
			return errors.New("empty name")
		}
	}

	return nil
}

// AddSAN adds a SAN value to the request
func (r *CertificateRequest) AddSAN(s string) {
	if found := slices.ContainsString(r.SAN, s); !found {
		r.SAN = append(r.SAN, s)
	}
}

// isNameEmpty returns true if the name has no identifying information in it.
func isNameEmpty(n X509Name) bool {
	empty := func(s string) bool { return strings.TrimSpace(s) == "" }

	if empty(n.Country) && empty(n.Province) && empty(n.Locality) && empty(n.Organization) && empty(n.OrganizationalUnit) {
		return true
	}
	return false
}

// appendIf appends to a if s is not an empty string.
func appendIf(s string, a *[]string) {
	if s != "" {
		*a = append(*a, s)
	}
}

// Parse takes an incoming certificate request and
// builds a certificate template from it.
func Parse(csrBytes []byte) (*x509.Certificate, error) {
	csrv, err := x509.ParseCertificateRequest(csrBytes)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to parse")
	}

	err = csrv.CheckSignature()
	if err != nil {
		return nil, errors.WithMessagef(err, "key mismatch")
	}

	template := &x509.Certificate{
		Subject:            csrv.Subject,
		PublicKeyAlgorithm: csrv.PublicKeyAlgorithm,
		PublicKey:          csrv.PublicKey,
		DNSNames:           csrv.DNSNames,
		IPAddresses:        csrv.IPAddresses,
		EmailAddresses:     csrv.EmailAddresses,
		URIs:               csrv.URIs,
	}

	for _, val := range csrv.Extensions {
		// Check the CSR for the X.509 BasicConstraints (RFC 5280, 4.2.1.9)
		// extension and append to template if necessary
		if val.Id.Equal(oid.ExtensionBasicConstraints) {
			var constraints pkcs10.BasicConstraints
			var rest []byte

			if rest, err = asn1.Unmarshal(val.Value, &constraints); err != nil {
				return nil, errors.WithMessage(err, "failed to parse BasicConstraints")
			} else if len(rest) != 0 {
				return nil, errors.New("failed to parse BasicConstraints: trailing data")
			}

			template.BasicConstraintsValid = true
			template.IsCA = constraints.IsCA
			template.MaxPathLen = constraints.MaxPathLen
			template.MaxPathLenZero = template.MaxPathLen == 0
		} else {
			template.ExtraExtensions = append(template.ExtraExtensions, val)
		}
	}

	return template, nil
}

// ParsePEM takes an incoming certificate request and
// builds a certificate template from it.
func ParsePEM(csrPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(csrPEM))
	if block == nil {
		return nil, errors.New("unable to parse PEM")
	}

	if block.Type != "NEW CERTIFICATE REQUEST" && block.Type != "CERTIFICATE REQUEST" {
		return nil, errors.Errorf("unsupported type in PEM: %s", block.Type)
	}

	return Parse(block.Bytes)
}

// Name returns the PKIX name for the request.
func (r *CertificateRequest) Name() pkix.Name {
	subs := X509Subject{
		CommonName:   r.CommonName,
		SerialNumber: r.SerialNumber,
		Names:        r.Names,
	}

	return subs.Name()
}

// Name returns the PKIX name for the subject.
func (s *X509Subject) Name() pkix.Name {
	var name pkix.Name
	name.CommonName = s.CommonName
	name.SerialNumber = s.SerialNumber

	if s.CommonName != "" {
		name.Names = append(name.Names, pkix.AttributeTypeAndValue{
			Type:  oid.NameCN,
			Value: s.CommonName,
		})
	}

	if s.SerialNumber != "" {
		name.Names = append(name.Names, pkix.AttributeTypeAndValue{
			Type:  oid.NameSerial,
			Value: s.SerialNumber,
		})
	}

	for _, n := range s.Names {
		appendIf(n.Country, &name.Country)
		appendIf(n.Province, &name.Province)
		appendIf(n.Locality, &name.Locality)
		appendIf(n.Organization, &name.Organization)
		appendIf(n.OrganizationalUnit, &name.OrganizationalUnit)

		if n.Country != "" {
			name.Names = append(name.Names, pkix.AttributeTypeAndValue{
				Type:  oid.NameC,
				Value: n.Country,
			})
		}
		if n.Province != "" {
			name.Names = append(name.Names, pkix.AttributeTypeAndValue{
				Type:  oid.NameST,
				Value: n.Province,
			})
		}
		if n.Locality != "" {
			name.Names = append(name.Names, pkix.AttributeTypeAndValue{
				Type:  oid.NameL,
				Value: n.Locality,
			})
		}
		if n.Organization != "" {
			name.Names = append(name.Names, pkix.AttributeTypeAndValue{
				Type:  oid.NameO,
				Value: n.Organization,
			})
		}
		if n.OrganizationalUnit != "" {
			name.Names = append(name.Names, pkix.AttributeTypeAndValue{
				Type:  oid.NameOU,
				Value: n.OrganizationalUnit,
			})
		}
		if n.EmailAddress != "" {
			name.Names = append(name.Names, pkix.AttributeTypeAndValue{
				Type:  oid.NameEmailAddress,
				Value: n.EmailAddress,
			})
		}
		if n.SerialNumber != "" {
			name.Names = append(name.Names, pkix.AttributeTypeAndValue{
				Type:  oid.NameSerial,
				Value: n.SerialNumber,
			})
		}
	}
	return name
}

// PopulateName has functionality similar to Name, except
// it fills the fields of the resulting pkix.Name with req's if the
// subject's corresponding fields are empty
func PopulateName(subject *X509Subject, csrSubject pkix.Name) pkix.Name {
	// if no subject, use req
	if subject == nil {
		return csrSubject
	}

	name := subject.Name()
	if name.CommonName == "" {
		name.CommonName = csrSubject.CommonName
	}
	if name.SerialNumber == "" {
		name.SerialNumber = csrSubject.SerialNumber
	}

	replaceSliceIfEmpty(&name.Country, &csrSubject.Country)
	replaceSliceIfEmpty(&name.Province, &csrSubject.Province)
	replaceSliceIfEmpty(&name.Locality, &csrSubject.Locality)
	replaceSliceIfEmpty(&name.Organization, &csrSubject.Organization)
	replaceSliceIfEmpty(&name.OrganizationalUnit, &csrSubject.OrganizationalUnit)

	for _, n := range csrSubject.Names {
		if FindAttr(name.Names, n.Type) == nil {
			name.Names = append(name.Names, n)
		}
	}

	return name
}

// FindAttr returns attribute
func FindAttr(attrs []pkix.AttributeTypeAndValue, id asn1.ObjectIdentifier) *pkix.AttributeTypeAndValue {
	for idx, at := range attrs {
		if at.Type.Equal(id) {
			return &attrs[idx]
		}
	}
	return nil
}

// replaceSliceIfEmpty replaces the contents of replaced with newContents if
// the slice referenced by replaced is empty
func replaceSliceIfEmpty(replaced, newContents *[]string) {
	if len(*replaced) == 0 {
		*replaced = *newContents
	}
}

// SetSAN fills template's IPAddresses, EmailAddresses, and DNSNames with the
// content of SAN, if it is not nil.
func SetSAN(template *x509.Certificate, SAN []string) {
	if SAN != nil {
		template.IPAddresses = []net.IP{}
		template.EmailAddresses = []string{}
		template.DNSNames = []string{}
		template.URIs = []*url.URL{}

		for i := range template.ExtraExtensions {
			// remove SAN
			if template.ExtraExtensions[i].Id.Equal(oid.ExtensionSubjectAltName) {
				l := len(template.ExtraExtensions)
				template.ExtraExtensions[i] = template.ExtraExtensions[l-1]
				template.ExtraExtensions = template.ExtraExtensions[:l-1]
				break
			}
		}
	}

	for _, san := range SAN {
		if strings.Contains(san, "://") {
			u, err := url.Parse(san)
			if err != nil {
				logger.KV(xlog.ERROR, "uri", san, "err", err)
			}
			template.URIs = append(template.URIs, u)
		} else if ip := net.ParseIP(san); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if email, err := mail.ParseAddress(san); err == nil && email != nil {
			template.EmailAddresses = append(template.EmailAddresses, email.Address)
		} else {
			template.DNSNames = append(template.DNSNames, san)
		}
	}
}

// ClassifySAN returns the typed general name for a SAN string:
// URI when the string has a scheme, IP address or email when it
// parses as one, DNS name otherwise.
func ClassifySAN(san string) pkcs10.GeneralName {
	if strings.Contains(san, "://") {
		return pkcs10.URIName(san)
	} else if ip := net.ParseIP(san); ip != nil {
		return pkcs10.IPAddress(ip)
	} else if email, err := mail.ParseAddress(san); err == nil && email != nil {
		return pkcs10.EmailAddress(email.Address)
	}
	return pkcs10.DNSName(san)
}
