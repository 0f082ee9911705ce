package certutil

import (
	"crypto"
	"encoding/base64"
	"encoding/json"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/pkg/errors"
)

// EncodePublicKeyToJWK returns JWK encoded public key
func EncodePublicKeyToJWK(pub crypto.PublicKey, kid string) ([]byte, error) {
	jwk := jose.JSONWebKey{
		Key:   pub,
		KeyID: kid,
	}
	if !jwk.Valid() {
		return nil, errors.New("unsupported key for JWK")
	}

	b, err := json.Marshal(&jwk)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return b, nil
}

// ParseJWK parses a JWK document
func ParseJWK(data []byte) (*jose.JSONWebKey, error) {
	var k jose.JSONWebKey
	if err := k.UnmarshalJSON(data); err != nil {
		return nil, errors.WithMessage(err, "unable to parse JWK")
	}
	return &k, nil
}

// JWKThumbprint returns RFC 7638 SHA-256 thumbprint in base64url encoding
func JWKThumbprint(k *jose.JSONWebKey) (string, error) {
	tp, err := k.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}
