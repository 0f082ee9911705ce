// Package pkcs10 implements PKCS#10 certification requests as defined
// by RFC 2986, with X.509v3 extensions carried in the PKCS#9
// extensionRequest attribute.
//
// This package supports:
//   - A fluent RequestBuilder that accumulates subject, public key and
//     typed extensions into a CertificationRequestInfo
//   - Typed extensions (KeyUsage, ExtKeyUsage, SubjectAltName,
//     BasicConstraints) with an extensible codec interface
//   - Signature algorithm resolution from the signing key family and
//     the requested digest
//   - DER and PEM encoding that round-trips losslessly, and parsing
//     that names the structural field on malformed input
//
// Requests produced here are byte compatible with crypto/x509 and
// standard PKI tooling.
package pkcs10
