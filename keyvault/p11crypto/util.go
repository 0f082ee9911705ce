package p11crypto

import (
	"github.com/miekg/pkcs11"
)

// KeyTypeNames maps CKA_KEY_TYPE to printable names
var KeyTypeNames = map[uint]string{
	pkcs11.CKK_RSA:   "RSA",
	pkcs11.CKK_ECDSA: "ECDSA",
	pkcs11.CKK_DSA:   "DSA",
	pkcs11.CKK_AES:   "AES",
}

// ObjectClassNames maps CKA_CLASS to printable names
var ObjectClassNames = map[uint]string{
	pkcs11.CKO_PRIVATE_KEY: "private",
	pkcs11.CKO_PUBLIC_KEY:  "public",
	pkcs11.CKO_SECRET_KEY:  "secret",
	pkcs11.CKO_CERTIFICATE: "certificate",
}

// BytesToUlong converts a CK_ULONG attribute value, which the token
// returns in native byte order
func BytesToUlong(b []byte) uint {
	var res uint
	for i := len(b) - 1; i >= 0; i-- {
		res = res<<8 | uint(b[i])
	}
	return res
}
