package keyvault

import (
	"crypto"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

// NewSignerFromFile generates a new signer from a key file,
// PEM encoded or containing a PKCS#11 URI
func (c *Crypto) NewSignerFromFile(keyFile string) (crypto.Signer, error) {
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, errors.WithMessagef(err, "load key file")
	}
	// remove trailing space and end-of-line
	key = []byte(strings.TrimSpace(string(key)))

	s, err := c.NewSignerFromPEM(key)
	if err != nil {
		return nil, errors.WithMessagef(err, "load key from file: %s", keyFile)
	}
	return s, nil
}

// NewSignerFromPEM generates a new crypto signer from PEM encoded
// blocks, or from a PKCS#11 URI
func (c *Crypto) NewSignerFromPEM(key []byte) (crypto.Signer, error) {
	_, pvk, err := c.LoadPrivateKey(key)
	if err != nil {
		return nil, err
	}

	signer, supported := pvk.(crypto.Signer)
	if !supported {
		return nil, errors.Errorf("loaded key of %T type does not support crypto.Signer", pvk)
	}

	return signer, nil
}
