package oid

import (
	"crypto/x509"
	"encoding/asn1"
)

// public key algorithm OIDs
var (
	PublicKeyRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	PublicKeyECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
)

// signature algorithm OIDs
var (
	SignatureSHA1WithRSA     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 5}
	SignatureSHA256WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	SignatureSHA384WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	SignatureSHA512WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	SignatureECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	SignatureECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	SignatureECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}
)

// digest algorithm OIDs
var (
	DigestSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	DigestSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	DigestSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	DigestSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

// PKCS#9 attribute OIDs
var (
	AttributeExtensionRequest  = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 14}
	AttributeChallengePassword = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 7}
	AttributeUnstructuredName  = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 2}
)

// KeyPurposeId OIDs, RFC 5280 4.2.1.12
var (
	KeyPurposeAny             = asn1.ObjectIdentifier{2, 5, 29, 37, 0}
	KeyPurposeServerAuth      = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 1}
	KeyPurposeClientAuth      = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 2}
	KeyPurposeCodeSigning     = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 3}
	KeyPurposeEmailProtection = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 4}
	KeyPurposeTimeStamping    = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 8}
	KeyPurposeOCSPSigning     = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 9}
)

var keyPurposeByExtKeyUsage = map[x509.ExtKeyUsage]asn1.ObjectIdentifier{
	x509.ExtKeyUsageAny:             KeyPurposeAny,
	x509.ExtKeyUsageServerAuth:      KeyPurposeServerAuth,
	x509.ExtKeyUsageClientAuth:      KeyPurposeClientAuth,
	x509.ExtKeyUsageCodeSigning:     KeyPurposeCodeSigning,
	x509.ExtKeyUsageEmailProtection: KeyPurposeEmailProtection,
	x509.ExtKeyUsageTimeStamping:    KeyPurposeTimeStamping,
	x509.ExtKeyUsageOCSPSigning:     KeyPurposeOCSPSigning,
}

// KeyPurposeID returns KeyPurposeId OID for the usage,
// or nil if there's no mapping
func KeyPurposeID(eku x509.ExtKeyUsage) asn1.ObjectIdentifier {
	return keyPurposeByExtKeyUsage[eku]
}

// ExtKeyUsageByID returns usage matching the KeyPurposeId OID
func ExtKeyUsageByID(id asn1.ObjectIdentifier) (x509.ExtKeyUsage, bool) {
	for eku, oid := range keyPurposeByExtKeyUsage {
		if id.Equal(oid) {
			return eku, true
		}
	}
	return 0, false
}
