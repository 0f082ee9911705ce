package p11crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/asn1"
	"math/big"
	"time"

	"github.com/effective-security/x/guid"
	"github.com/effective-security/xcsr/keyvault"
	"github.com/effective-security/xcsr/metricskey"
	"github.com/effective-security/xlog"
	"github.com/miekg/pkcs11"
	"github.com/pkg/errors"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcsr", "p11crypto")

// SlotTokenInfo describes a token in a slot
type SlotTokenInfo struct {
	id           uint
	description  string
	label        string
	manufacturer string
	model        string
	serial       string
	flags        uint
}

// PKCS11Lib provides a key vault over a PKCS#11 device.
// A login session is kept open for the lifetime of the library,
// operations open short serial sessions on demand.
type PKCS11Lib struct {
	Ctx  *pkcs11.Ctx
	Slot *SlotTokenInfo

	tc      keyvault.TokenConfig
	session pkcs11.SessionHandle
}

// Init loads the PKCS#11 module from tc.Path, selects the token by
// label or serial, and logs the user in with the configured pin.
func Init(tc keyvault.TokenConfig) (*PKCS11Lib, error) {
	module := tc.Path()
	if module == "" {
		return nil, errors.New("module path is not specified")
	}

	ctx := pkcs11.New(module)
	if ctx == nil {
		return nil, errors.Errorf("failed to load module: %s", module)
	}

	err := ctx.Initialize()
	if err != nil {
		if p11err, ok := err.(pkcs11.Error); !ok || p11err != pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED {
			ctx.Destroy()
			return nil, errors.WithMessagef(err, "failed to initialize module: %s", module)
		}
	}

	p11lib := &PKCS11Lib{
		Ctx: ctx,
		tc:  tc,
	}

	slot, err := p11lib.findSlot(tc.TokenLabel(), tc.TokenSerial())
	if err != nil {
		ctx.Destroy()
		return nil, err
	}
	p11lib.Slot = slot

	session, err := ctx.OpenSession(slot.id, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		ctx.Destroy()
		return nil, errors.WithMessagef(err, "OpenSession on slot %d", slot.id)
	}

	err = ctx.Login(session, pkcs11.CKU_USER, tc.Pin())
	if err != nil {
		if p11err, ok := err.(pkcs11.Error); !ok || p11err != pkcs11.CKR_USER_ALREADY_LOGGED_IN {
			_ = ctx.CloseSession(session)
			ctx.Destroy()
			return nil, errors.WithMessagef(err, "failed to login on slot %d", slot.id)
		}
	}
	p11lib.session = session

	logger.Infof("slot=0x%X, token=%q, serial=%q", slot.id, slot.label, slot.serial)

	return p11lib, nil
}

// Close logs out and releases the module
func (p11lib *PKCS11Lib) Close() error {
	_ = p11lib.Ctx.Logout(p11lib.session)
	_ = p11lib.Ctx.CloseSession(p11lib.session)
	_ = p11lib.Ctx.Finalize()
	p11lib.Ctx.Destroy()
	return nil
}

// findSlot selects the token by label or serial,
// or the first token when neither is configured
func (p11lib *PKCS11Lib) findSlot(tokenLabel, tokenSerial string) (*SlotTokenInfo, error) {
	list, err := p11lib.TokensInfo()
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.New("no slots with tokens found")
	}

	for _, ti := range list {
		if tokenLabel != "" && ti.label != tokenLabel {
			continue
		}
		if tokenSerial != "" && ti.serial != tokenSerial {
			continue
		}
		return ti, nil
	}

	if tokenLabel != "" {
		return nil, errors.Errorf("token with label %q not found", tokenLabel)
	}
	return nil, errors.Errorf("token with serial %q not found", tokenSerial)
}

// ListKeys returns handles of the keys of the given class on the open session
func (p11lib *PKCS11Lib) ListKeys(session pkcs11.SessionHandle, class uint, max uint) ([]pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
	}
	if err := p11lib.Ctx.FindObjectsInit(session, template); err != nil {
		return nil, errors.WithMessagef(err, "FindObjectsInit")
	}
	defer func() {
		_ = p11lib.Ctx.FindObjectsFinal(session)
	}()

	var res []pkcs11.ObjectHandle
	for uint(len(res)) < max {
		handles, _, err := p11lib.Ctx.FindObjects(session, 128)
		if err != nil {
			return nil, errors.WithMessagef(err, "FindObjects")
		}
		if len(handles) == 0 {
			break
		}
		res = append(res, handles...)
	}
	return res, nil
}

// findKey returns the handle of the object of the given class,
// matching key ID or label. keyType ^uint(0) matches any type.
func (p11lib *PKCS11Lib) findKey(session pkcs11.SessionHandle, keyID, label string, class uint, keyType uint) (pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
	}
	if keyID != "" {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_ID, []byte(keyID)))
	}
	if label != "" {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_LABEL, label))
	}
	if keyType != ^uint(0) {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, keyType))
	}

	if err := p11lib.Ctx.FindObjectsInit(session, template); err != nil {
		return 0, errors.WithMessagef(err, "FindObjectsInit")
	}
	defer func() {
		_ = p11lib.Ctx.FindObjectsFinal(session)
	}()

	objs, _, err := p11lib.Ctx.FindObjects(session, 2)
	if err != nil {
		return 0, errors.WithMessagef(err, "FindObjects")
	}
	if len(objs) == 0 {
		return 0, errors.Errorf("key not found: id=%q, label=%q", keyID, label)
	}
	if len(objs) > 1 {
		return 0, errors.Errorf("multiple keys found: id=%q, label=%q", keyID, label)
	}
	return objs[0], nil
}

var curveParams = map[string][]byte{
	// DER encoded curve OIDs for CKA_EC_PARAMS
	"P-256": {0x06, 0x08, 0x2A, 0x86, 0x48, 0xCE, 0x3D, 0x03, 0x01, 0x07},
	"P-384": {0x06, 0x05, 0x2B, 0x81, 0x04, 0x00, 0x22},
	"P-521": {0x06, 0x05, 0x2B, 0x81, 0x04, 0x00, 0x23},
}

// GenerateRSAKey generates an RSA key pair on the token
func (p11lib *PKCS11Lib) GenerateRSAKey(label string, bits int, purpose int) (crypto.PrivateKey, error) {
	defer metricskey.PerfCryptoOperation.MeasureSince(time.Now(), "PKCS11", "genkey_rsa")

	if label == "" {
		return nil, errors.New("label is required")
	}
	if bits < 1024 || bits > 8192 {
		return nil, errors.Errorf("unsupported key size: %d", bits)
	}

	session, err := p11lib.Ctx.OpenSession(p11lib.Slot.id, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		return nil, errors.WithMessagef(err, "OpenSession on slot %d", p11lib.Slot.id)
	}
	defer p11lib.Ctx.CloseSession(session)

	keyID := guid.MustCreate()
	pubExp := []byte{0x01, 0x00, 0x01}

	pubTemplate := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PUBLIC_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS_BITS, uint(bits)),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, pubExp),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
		pkcs11.NewAttribute(pkcs11.CKA_ID, []byte(keyID)),
	}
	privTemplate := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_PRIVATE, true),
		pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, true),
		pkcs11.NewAttribute(pkcs11.CKA_EXTRACTABLE, false),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
		pkcs11.NewAttribute(pkcs11.CKA_ID, []byte(keyID)),
	}
	if purpose == 2 {
		pubTemplate = append(pubTemplate,
			pkcs11.NewAttribute(pkcs11.CKA_ENCRYPT, true),
			pkcs11.NewAttribute(pkcs11.CKA_WRAP, true))
		privTemplate = append(privTemplate,
			pkcs11.NewAttribute(pkcs11.CKA_DECRYPT, true),
			pkcs11.NewAttribute(pkcs11.CKA_UNWRAP, true))
	} else {
		pubTemplate = append(pubTemplate,
			pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true))
		privTemplate = append(privTemplate,
			pkcs11.NewAttribute(pkcs11.CKA_SIGN, true))
	}

	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_KEY_PAIR_GEN, nil)}
	pubHandle, _, err := p11lib.Ctx.GenerateKeyPair(session, mech, pubTemplate, privTemplate)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create key with label: %q", label)
	}

	pub, err := p11lib.rsaPublicKey(session, pubHandle)
	if err != nil {
		return nil, err
	}

	logger.Infof("type=RSA, slot=0x%X, id=%q, label=%q", p11lib.Slot.id, keyID, label)

	return NewSigner(p11lib, keyID, label, pub), nil
}

// GenerateECDSAKey generates an ECDSA key pair on the token
func (p11lib *PKCS11Lib) GenerateECDSAKey(label string, curve elliptic.Curve) (crypto.PrivateKey, error) {
	defer metricskey.PerfCryptoOperation.MeasureSince(time.Now(), "PKCS11", "genkey_ecdsa")

	if label == "" {
		return nil, errors.New("label is required")
	}
	ecParams, ok := curveParams[curve.Params().Name]
	if !ok {
		return nil, errors.New("unsupported curve")
	}

	session, err := p11lib.Ctx.OpenSession(p11lib.Slot.id, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		return nil, errors.WithMessagef(err, "OpenSession on slot %d", p11lib.Slot.id)
	}
	defer p11lib.Ctx.CloseSession(session)

	keyID := guid.MustCreate()

	pubTemplate := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PUBLIC_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_ECDSA),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true),
		pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, ecParams),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
		pkcs11.NewAttribute(pkcs11.CKA_ID, []byte(keyID)),
	}
	privTemplate := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_ECDSA),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_PRIVATE, true),
		pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, true),
		pkcs11.NewAttribute(pkcs11.CKA_EXTRACTABLE, false),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
		pkcs11.NewAttribute(pkcs11.CKA_ID, []byte(keyID)),
	}

	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_EC_KEY_PAIR_GEN, nil)}
	pubHandle, _, err := p11lib.Ctx.GenerateKeyPair(session, mech, pubTemplate, privTemplate)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create key with label: %q", label)
	}

	pub, err := p11lib.ecdsaPublicKey(session, pubHandle)
	if err != nil {
		return nil, err
	}

	logger.Infof("type=ECDSA, slot=0x%X, id=%q, label=%q", p11lib.Slot.id, keyID, label)

	return NewSigner(p11lib, keyID, label, pub), nil
}

// publicKey reads the public part of the key pair with the given key ID
func (p11lib *PKCS11Lib) publicKey(session pkcs11.SessionHandle, keyID string) (crypto.PublicKey, error) {
	pubHandle, err := p11lib.findKey(session, keyID, "", pkcs11.CKO_PUBLIC_KEY, ^uint(0))
	if err != nil {
		return nil, err
	}

	attributes := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, 0),
	}
	if attributes, err = p11lib.Ctx.GetAttributeValue(session, pubHandle, attributes); err != nil {
		return nil, errors.WithMessagef(err, "GetAttributeValue on key")
	}

	switch BytesToUlong(attributes[0].Value) {
	case pkcs11.CKK_RSA:
		return p11lib.rsaPublicKey(session, pubHandle)
	case pkcs11.CKK_ECDSA:
		return p11lib.ecdsaPublicKey(session, pubHandle)
	}
	return nil, errors.Errorf("unsupported key type: 0x%X", BytesToUlong(attributes[0].Value))
}

func (p11lib *PKCS11Lib) rsaPublicKey(session pkcs11.SessionHandle, pubHandle pkcs11.ObjectHandle) (*rsa.PublicKey, error) {
	attributes := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS, 0),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, 0),
	}
	attributes, err := p11lib.Ctx.GetAttributeValue(session, pubHandle, attributes)
	if err != nil {
		return nil, errors.WithMessagef(err, "GetAttributeValue on key")
	}

	// the public exponent is a big integer, not CK_ULONG
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(attributes[0].Value),
		E: int(new(big.Int).SetBytes(attributes[1].Value).Int64()),
	}, nil
}

func (p11lib *PKCS11Lib) ecdsaPublicKey(session pkcs11.SessionHandle, pubHandle pkcs11.ObjectHandle) (*ecdsa.PublicKey, error) {
	attributes := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, 0),
		pkcs11.NewAttribute(pkcs11.CKA_EC_POINT, 0),
	}
	attributes, err := p11lib.Ctx.GetAttributeValue(session, pubHandle, attributes)
	if err != nil {
		return nil, errors.WithMessagef(err, "GetAttributeValue on key")
	}

	curve, err := curveForParams(attributes[0].Value)
	if err != nil {
		return nil, err
	}

	x, y := elliptic.Unmarshal(curve, unwrapECPoint(attributes[1].Value))
	if x == nil {
		return nil, errors.New("failed to unmarshal EC point")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func curveForParams(params []byte) (elliptic.Curve, error) {
	var oid asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(params, &oid); err != nil {
		return nil, errors.WithMessagef(err, "failed to parse EC params")
	}

	switch {
	case oid.Equal(asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}):
		return elliptic.P256(), nil
	case oid.Equal(asn1.ObjectIdentifier{1, 3, 132, 0, 34}):
		return elliptic.P384(), nil
	case oid.Equal(asn1.ObjectIdentifier{1, 3, 132, 0, 35}):
		return elliptic.P521(), nil
	}
	return nil, errors.Errorf("unsupported EC curve: %v", oid)
}

// unwrapECPoint strips the DER OCTET STRING wrapping that tokens
// put around the uncompressed EC point
func unwrapECPoint(point []byte) []byte {
	if len(point) > 2 && point[0] == 0x04 {
		length := int(point[1])
		if length < 0x80 {
			if len(point) >= 2+length && point[2] == 0x04 {
				return point[2 : 2+length]
			}
		} else if length == 0x81 && len(point) > 3 {
			actual := int(point[2])
			if len(point) >= 3+actual && point[3] == 0x04 {
				return point[3 : 3+actual]
			}
		}
	}
	return point
}
