package p11crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/asn1"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/effective-security/xcsr/metricskey"
	"github.com/effective-security/xlog"
	"github.com/miekg/pkcs11"
	"github.com/pkg/errors"
)

// Signer signs on the token, the private key never leaves the device
type Signer struct {
	lib    *PKCS11Lib
	keyID  string
	label  string
	pubKey crypto.PublicKey
}

// NewSigner returns a crypto.Signer for the key pair on the token
func NewSigner(lib *PKCS11Lib, keyID, label string, publicKey crypto.PublicKey) crypto.Signer {
	logger.Debugf("id=%q, label=%q", keyID, label)
	return &Signer{
		lib:    lib,
		keyID:  keyID,
		label:  label,
		pubKey: publicKey,
	}
}

// KeyID returns the key ID
func (s *Signer) KeyID() string {
	return s.keyID
}

// Label returns the key label
func (s *Signer) Label() string {
	return s.label
}

// Public returns public key for the signer
func (s *Signer) Public() crypto.PublicKey {
	return s.pubKey
}

func (s *Signer) String() string {
	return fmt.Sprintf("id=%s, label=%s", s.KeyID(), s.Label())
}

// DigestInfo prefixes for PKCS#1 v1.5 signatures, RFC 8017
var digestInfoPrefixes = map[crypto.Hash][]byte{
	crypto.SHA256: {0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20},
	crypto.SHA384: {0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05, 0x00, 0x04, 0x30},
	crypto.SHA512: {0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40},
}

// Sign signs the digest on the token
func (s *Signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	defer metricskey.PerfCryptoOperation.MeasureSince(time.Now(), "PKCS11", "sign")

	session, err := s.lib.Ctx.OpenSession(s.lib.Slot.id, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return nil, errors.WithMessagef(err, "OpenSession on slot %d", s.lib.Slot.id)
	}
	defer s.lib.Ctx.CloseSession(session)

	privHandle, err := s.lib.findKey(session, s.keyID, "", pkcs11.CKO_PRIVATE_KEY, ^uint(0))
	if err != nil {
		return nil, err
	}

	var mech *pkcs11.Mechanism
	var ecdsaSig bool
	toSign := digest

	switch s.pubKey.(type) {
	case *rsa.PublicKey:
		prefix, ok := digestInfoPrefixes[opts.HashFunc()]
		if !ok {
			return nil, errors.Errorf("unsupported hash: %s", opts.HashFunc().String())
		}
		toSign = append(append([]byte{}, prefix...), digest...)
		mech = pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil)
	case *ecdsa.PublicKey:
		mech = pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)
		ecdsaSig = true
	default:
		return nil, errors.Errorf("unsupported key type: %T", s.pubKey)
	}

	if err := s.lib.Ctx.SignInit(session, []*pkcs11.Mechanism{mech}, privHandle); err != nil {
		return nil, errors.WithMessagef(err, "SignInit")
	}

	sig, err := s.lib.Ctx.Sign(session, toSign)
	if err != nil {
		return nil, errors.WithMessagef(err, "unable to sign")
	}

	if ecdsaSig {
		sig, err = ecdsaSignatureDER(sig)
		if err != nil {
			return nil, err
		}
	}

	logger.KV(xlog.DEBUG, "id", s.keyID, "hash", opts.HashFunc().String())

	return sig, nil
}

// ecdsaSignatureDER converts the raw r||s signature returned by the
// token to the ASN.1 form
func ecdsaSignatureDER(rawSig []byte) ([]byte, error) {
	if len(rawSig) == 0 || len(rawSig)%2 != 0 {
		return nil, errors.Errorf("invalid signature length: %d", len(rawSig))
	}

	n := len(rawSig) / 2
	sig := struct {
		R, S *big.Int
	}{
		R: new(big.Int).SetBytes(rawSig[:n]),
		S: new(big.Int).SetBytes(rawSig[n:]),
	}
	der, err := asn1.Marshal(sig)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return der, nil
}
