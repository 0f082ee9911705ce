// Package keyvault provides a unified interface to the key stores
// that generate and hold signing keys for certification requests.
//
// This package abstracts key vault operations to support:
//   - PKCS#11 compatible HSMs via the p11crypto subpackage
//   - AWS KMS for cloud-based key management
//   - Google Cloud KMS for cloud-based key management
//   - In-memory providers for testing and development
//   - Custom providers through the Provider interface
//
// Keys never leave a vault unless the provider explicitly supports
// export; signing happens inside the provider through crypto.Signer.
// Private keys are referenced by pkcs11 style URIs, so applications
// can switch between vault backends without code changes.
//
// Configuration is typically done through YAML or JSON files that
// specify the provider manufacturer and its specific settings.
package keyvault
