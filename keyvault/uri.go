package keyvault

import (
	"strings"

	"github.com/pkg/errors"
)

// KeyURI identifies a private key kept by a provider
type KeyURI interface {
	// Manufacturer of the provider holding the key
	Manufacturer() string
	// Model of the provider holding the key
	Model() string
	// ID of the key
	ID() string
	// Serial of the token holding the key
	Serial() string
}

type keyURI struct {
	manufacturer string
	model        string
	id           string
	serial       string
}

func (u *keyURI) Manufacturer() string {
	return u.manufacturer
}

func (u *keyURI) Model() string {
	return u.model
}

func (u *keyURI) ID() string {
	return u.id
}

func (u *keyURI) Serial() string {
	return u.serial
}

// ParsePrivateKeyURI parses a pkcs11 style private key URI:
//
//	pkcs11:manufacturer=SoftHSM;model=v2;id=1039...;serial=;type=private
func ParsePrivateKeyURI(uri string) (KeyURI, error) {
	if !strings.HasPrefix(uri, "pkcs11:") {
		return nil, errors.Errorf("invalid key URI: %q", uri)
	}

	u := new(keyURI)
	keyType := ""
	for _, attr := range strings.Split(strings.TrimSpace(strings.TrimPrefix(uri, "pkcs11:")), ";") {
		if attr == "" {
			continue
		}
		kv := strings.SplitN(attr, "=", 2)
		if len(kv) != 2 {
			return nil, errors.Errorf("invalid key URI attribute: %q", attr)
		}
		switch kv[0] {
		case "manufacturer":
			u.manufacturer = kv[1]
		case "model":
			u.model = kv[1]
		case "id":
			u.id = kv[1]
		case "serial":
			u.serial = kv[1]
		case "type":
			keyType = kv[1]
		}
	}

	if u.id == "" {
		return nil, errors.Errorf("invalid key URI, missing id: %q", uri)
	}
	if keyType != "" && keyType != "private" {
		return nil, errors.Errorf("invalid key URI, unsupported type: %q", keyType)
	}

	return u, nil
}
