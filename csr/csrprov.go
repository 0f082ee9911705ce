package csr

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"strings"
	"time"

	"github.com/effective-security/x/guid"
	"github.com/effective-security/xcsr/certutil"
	"github.com/effective-security/xcsr/keyvault"
	"github.com/effective-security/xcsr/metricskey"
	"github.com/effective-security/xcsr/pkcs10"
	"github.com/effective-security/xlog"
	"github.com/pkg/errors"
)

// KeyPurpose declares the purpose of the key
type KeyPurpose int

const (
	// Undefined purpose
	Undefined KeyPurpose = 0
	// SigningKey specifies the key used for signing
	SigningKey KeyPurpose = 1
	// EncryptionKey specifies the key used for encryption
	EncryptionKey KeyPurpose = 2
)

// KeyRequest contains the algorithm, key size and label for a new
// private key generated on a key vault provider
type KeyRequest struct {
	prov    keyvault.Provider
	label   string
	algo    string
	size    int
	purpose KeyPurpose
}

// NewKeyRequest returns KeyRequest
func NewKeyRequest(prov keyvault.Provider, label, algo string, keySize int, purpose KeyPurpose) *KeyRequest {
	return &KeyRequest{
		prov:    prov,
		label:   label,
		algo:    algo,
		size:    keySize,
		purpose: purpose,
	}
}

// Label returns the requested key label
func (kr *KeyRequest) Label() string {
	return kr.label
}

// Algo returns the requested key algorithm
func (kr *KeyRequest) Algo() string {
	return kr.algo
}

// Size returns the requested key size
func (kr *KeyRequest) Size() int {
	return kr.size
}

// Purpose returns the purpose of the key
func (kr *KeyRequest) Purpose() KeyPurpose {
	return kr.purpose
}

// Generate generates a key as specified in the request
func (kr *KeyRequest) Generate() (crypto.PrivateKey, error) {
	switch strings.ToUpper(kr.algo) {
	case "RSA":
		if kr.size < 2048 {
			return nil, errors.Errorf("RSA key is too weak: %d", kr.size)
		}
		if kr.size > 8192 {
			return nil, errors.Errorf("RSA key is too large: %d", kr.size)
		}
		return kr.prov.GenerateRSAKey(kr.label, kr.size, int(kr.purpose))
	case "ECDSA":
		var curve elliptic.Curve
		switch kr.size {
		case 256:
			curve = elliptic.P256()
		case 384:
			curve = elliptic.P384()
		case 521:
			curve = elliptic.P521()
		default:
			return nil, errors.Errorf("invalid curve size: %d", kr.size)
		}
		return kr.prov.GenerateECDSAKey(kr.label, curve)
	default:
		return nil, errors.Errorf("invalid algorithm: %s", kr.algo)
	}
}

// SigAlgo returns an appropriate X.509 signature algorithm given the
// key request's type and size
func (kr *KeyRequest) SigAlgo() x509.SignatureAlgorithm {
	switch strings.ToUpper(kr.algo) {
	case "RSA":
		switch {
		case kr.size >= 4096:
			return x509.SHA512WithRSA
		case kr.size >= 3072:
			return x509.SHA384WithRSA
		default:
			return x509.SHA256WithRSA
		}
	case "ECDSA":
		switch kr.size {
		case 521:
			return x509.ECDSAWithSHA512
		case 384:
			return x509.ECDSAWithSHA384
		default:
			return x509.ECDSAWithSHA256
		}
	default:
		return x509.UnknownSignatureAlgorithm
	}
}

// DefaultSigAlgo returns an appropriate X.509 signature algorithm given
// the signing key's type and size
func DefaultSigAlgo(priv crypto.Signer) x509.SignatureAlgorithm {
	switch pub := priv.Public().(type) {
	case *rsa.PublicKey:
		keySize := pub.N.BitLen()
		switch {
		case keySize >= 4096:
			return x509.SHA512WithRSA
		case keySize >= 3072:
			return x509.SHA384WithRSA
		default:
			return x509.SHA256WithRSA
		}
	case *ecdsa.PublicKey:
		switch pub.Curve {
		case elliptic.P521():
			return x509.ECDSAWithSHA512
		case elliptic.P384():
			return x509.ECDSAWithSHA384
		default:
			return x509.ECDSAWithSHA256
		}
	default:
		return x509.UnknownSignatureAlgorithm
	}
}

// Provider extends a key vault provider with certificate request
// creation
type Provider struct {
	provider keyvault.Provider
}

// NewProvider returns an instance of the CSR provider
func NewProvider(provider keyvault.Provider) *Provider {
	return &Provider{provider: provider}
}

// NewKeyRequest returns KeyRequest bound to the provider
func (c *Provider) NewKeyRequest(label, algo string, keySize int, purpose KeyPurpose) *KeyRequest {
	return NewKeyRequest(c.provider, label, algo, keySize, purpose)
}

// NewSigningCertificateRequest returns a request for a signing key
func (c *Provider) NewSigningCertificateRequest(
	keyLabel, algo string, keySize int,
	CN string,
	names []X509Name,
	hosts []string,
) *CertificateRequest {
	return &CertificateRequest{
		KeyRequest: c.NewKeyRequest(prefixKeyLabel(keyLabel), algo, keySize, SigningKey),
		CommonName: CN,
		Names:      names,
		SAN:        hosts,
	}
}

// GenerateKeyAndRequest takes a certificate request and generates a key
// and CSR from it
func (c *Provider) GenerateKeyAndRequest(req *CertificateRequest) (csrPEM []byte, priv crypto.PrivateKey, keyID string, err error) {
	if req.KeyRequest == nil {
		err = errors.New("invalid key request")
		return
	}
	defer metricskey.PerfCSROperation.MeasureSince(time.Now(), "create")

	err = req.Validate()
	if err != nil {
		err = errors.WithMessage(err, "invalid request")
		return
	}

	priv, err = req.KeyRequest.Generate()
	if err != nil {
		err = errors.WithMessage(err, "generate key")
		return
	}

	var label string
	keyID, label, err = c.provider.IdentifyKey(priv)
	if err != nil {
		err = errors.WithMessage(err, "identify key")
		return
	}
	logger.KV(xlog.INFO,
		"id", keyID,
		"label", label,
		"algo", req.KeyRequest.Algo(),
		"size", req.KeyRequest.Size())

	csrPEM, err = c.CreateCSR(priv.(crypto.Signer), req)
	if err != nil {
		err = errors.WithMessage(err, "create request")
		return
	}
	return
}

// CreateCSR creates a certificate request with an existing signing key
func (c *Provider) CreateCSR(priv crypto.Signer, req *CertificateRequest) ([]byte, error) {
	ki, err := certutil.NewKeyInfo(priv.Public())
	if err != nil {
		return nil, err
	}

	usage := pkcs10.KeyUsageDigitalSignature
	if req.KeyRequest != nil && req.KeyRequest.Purpose() == EncryptionKey {
		usage = pkcs10.KeyUsageKeyEncipherment
	}

	b := pkcs10.NewRequestBuilder().
		Subject(pkcs10.NameFromPkix(req.Name())).
		PublicKey(priv.Public(), usage)

	for _, san := range req.SAN {
		b = b.AlternativeNames(ClassifySAN(san))
	}

	for _, ext := range req.Extensions {
		val, err := ext.GetValue()
		if err != nil {
			return nil, err
		}
		b = b.Extension(pkcs10.RawExtension{ID: asn1.ObjectIdentifier(ext.ID), Value: val}, ext.Critical)
	}

	r, err := b.Build(priv, ki.Hash)
	if err != nil {
		return nil, err
	}
	return r.EncodePEM()
}

// CreateRequestAndExportKey takes a certificate request, generates a
// key and CSR from it, and exports the key from the provider.
// When the provider does not release private key material, the
// returned key is the PKCS#11 URI of the generated key.
func (c *Provider) CreateRequestAndExportKey(req *CertificateRequest) (csrPEM, key []byte, keyID string, pub []byte, err error) {
	var priv crypto.PrivateKey
	csrPEM, priv, keyID, err = c.GenerateKeyAndRequest(req)
	if err != nil {
		err = errors.WithMessage(err, "process request")
		return
	}

	uri, keyBytes, err := c.provider.ExportKey(keyID)
	if err != nil {
		err = errors.WithMessage(err, "export key")
		return
	}
	if keyBytes != nil {
		key = keyBytes
	} else {
		key = []byte(uri)
	}

	pub, err = certutil.EncodePublicKeyToPEM(priv.(crypto.Signer).Public())
	if err != nil {
		err = errors.WithMessage(err, "encode public key")
		return
	}
	return
}

// prefixKeyLabel expands a trailing * in the label into a timestamp
// and a short random suffix, to keep generated key labels unique
func prefixKeyLabel(label string) string {
	if strings.HasSuffix(label, "*") {
		g := guid.MustCreate()
		label = strings.TrimSuffix(label, "*") +
			time.Now().UTC().Format("20060102150405") + "_" + g[:8]
	}
	return label
}
