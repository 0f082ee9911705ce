// Package p11crypto provides a key vault provider over PKCS#11
// cryptographic devices such as Hardware Security Modules (HSMs) and
// smart cards.
//
// The provider implements the standard Go crypto interfaces for:
//   - RSA private keys and signatures
//   - ECDSA private keys and signatures
//
// Supported operations include key generation on the device, signing
// with device-stored keys, and object discovery and management. Keys
// generated on the device cannot be exported.
package p11crypto
