package p11crypto

import (
	"crypto"
	"fmt"
	"strings"

	"github.com/effective-security/xcsr/certutil"
	"github.com/effective-security/xcsr/keyvault"
	"github.com/effective-security/xcsr/pkcs10"
	"github.com/miekg/pkcs11"
	"github.com/pkg/errors"
)

// LoadProvider provides loader for PKCS#11 provider
func LoadProvider(cfg keyvault.TokenConfig) (keyvault.Provider, error) {
	p, err := Init(cfg)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return p, nil
}

// Ensure compiles
var _ keyvault.Provider = (*PKCS11Lib)(nil)
var _ keyvault.KeyManager = (*PKCS11Lib)(nil)

// Manufacturer returns manufacturer for the provider
func (p11lib *PKCS11Lib) Manufacturer() string {
	if m := p11lib.tc.Manufacturer(); m != "" {
		return m
	}
	return p11lib.Slot.manufacturer
}

// Model returns model for the provider
func (p11lib *PKCS11Lib) Model() string {
	if m := p11lib.tc.Model(); m != "" {
		return m
	}
	return p11lib.Slot.model
}

// CurrentSlotID returns current slot ID
func (p11lib *PKCS11Lib) CurrentSlotID() uint {
	return p11lib.Slot.id
}

// TokensInfo returns list of tokens
func (p11lib *PKCS11Lib) TokensInfo() ([]*SlotTokenInfo, error) {
	list := []*SlotTokenInfo{}
	slots, err := p11lib.Ctx.GetSlotList(true)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	logger.Tracef("slots=%d", len(slots))

	for _, slotID := range slots {
		si, err := p11lib.Ctx.GetSlotInfo(slotID)
		if err != nil {
			return nil, errors.WithMessagef(err, "GetSlotInfo: %d", slotID)
		}
		ti, err := p11lib.Ctx.GetTokenInfo(slotID)
		if err != nil {
			logger.Errorf(
				"reason=GetTokenInfo, slotID=%d, ManufacturerID=%q, SlotDescription=%q, err=[%+v]",
				slotID,
				si.ManufacturerID,
				si.SlotDescription,
				err,
			)
		} else if ti.SerialNumber != "" || ti.Label != "" {
			list = append(list, &SlotTokenInfo{
				id:           slotID,
				description:  si.SlotDescription,
				label:        ti.Label,
				manufacturer: strings.TrimSpace(ti.ManufacturerID),
				model:        strings.TrimSpace(ti.Model),
				serial:       ti.SerialNumber,
				flags:        ti.Flags,
			})
		}
	}
	return list, nil
}

// EnumTokens enumerates tokens
func (p11lib *PKCS11Lib) EnumTokens(currentSlotOnly bool) ([]keyvault.TokenInfo, error) {
	if currentSlotOnly {
		return []keyvault.TokenInfo{
			{
				SlotID:       p11lib.Slot.id,
				Description:  p11lib.Slot.description,
				Label:        p11lib.Slot.label,
				Manufacturer: p11lib.Slot.manufacturer,
				Model:        p11lib.Slot.model,
				Serial:       p11lib.Slot.serial,
			},
		}, nil
	}

	list, err := p11lib.TokensInfo()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	res := make([]keyvault.TokenInfo, len(list))
	for i, ti := range list {
		res[i].SlotID = ti.id
		res[i].Description = ti.description
		res[i].Label = ti.label
		res[i].Manufacturer = ti.manufacturer
		res[i].Model = ti.model
		res[i].Serial = ti.serial
	}
	return res, nil
}

// EnumKeys returns lists of keys on the slot
func (p11lib *PKCS11Lib) EnumKeys(slotID uint, prefix string) ([]keyvault.KeyInfo, error) {
	sh, err := p11lib.Ctx.OpenSession(slotID, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return nil, errors.WithMessagef(err, "OpenSession on slot %d", slotID)
	}
	defer p11lib.Ctx.CloseSession(sh)

	keys, err := p11lib.ListKeys(sh, pkcs11.CKO_PRIVATE_KEY, ^uint(0))
	if err != nil {
		return nil, errors.WithStack(err)
	}

	res := make([]keyvault.KeyInfo, 0, len(keys))
	for _, obj := range keys {
		attributes := []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_ID, 0),
			pkcs11.NewAttribute(pkcs11.CKA_LABEL, 0),
			pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, 0),
			pkcs11.NewAttribute(pkcs11.CKA_CLASS, 0),
		}
		if attributes, err = p11lib.Ctx.GetAttributeValue(sh, obj, attributes); err != nil {
			return nil, errors.WithMessagef(err, "GetAttributeValue on key")
		}

		keyLabel := string(attributes[1].Value)
		if prefix != "" && !strings.HasPrefix(keyLabel, prefix) {
			continue
		}
		res = append(res, keyvault.KeyInfo{
			ID:    string(attributes[0].Value),
			Label: keyLabel,
			Type:  KeyTypeNames[BytesToUlong(attributes[2].Value)],
			Class: ObjectClassNames[BytesToUlong(attributes[3].Value)],
		})
	}

	return res, nil
}

// KeyInfo retrieves info about key with the specified id
func (p11lib *PKCS11Lib) KeyInfo(slotID uint, keyID string, includePublic bool) (*keyvault.KeyInfo, error) {
	logger.Tracef("slot=0x%X, id=%q", slotID, keyID)

	session, err := p11lib.Ctx.OpenSession(slotID, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return nil, errors.WithMessagef(err, "OpenSession on slot %d", slotID)
	}
	defer p11lib.Ctx.CloseSession(session)

	privHandle, err := p11lib.findKey(session, keyID, "", pkcs11.CKO_PRIVATE_KEY, ^uint(0))
	if err != nil {
		return nil, err
	}

	attributes := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_ID, 0),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, 0),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, 0),
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, 0),
	}
	if attributes, err = p11lib.Ctx.GetAttributeValue(session, privHandle, attributes); err != nil {
		return nil, errors.WithMessagef(err, "GetAttributeValue on key")
	}

	pubKey := ""
	if includePublic {
		pub, err := p11lib.publicKey(session, keyID)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to get public key, slotID=%d, keyID=%q", slotID, keyID)
		}
		pem, err := certutil.EncodePublicKeyToPEM(pub)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		pubKey = string(pem)
	}

	return &keyvault.KeyInfo{
		ID:        string(attributes[0].Value),
		Label:     string(attributes[1].Value),
		Type:      KeyTypeNames[BytesToUlong(attributes[2].Value)],
		Class:     ObjectClassNames[BytesToUlong(attributes[3].Value)],
		PublicKey: pubKey,
	}, nil
}

// DestroyKeyPairOnSlot destroys key pair
func (p11lib *PKCS11Lib) DestroyKeyPairOnSlot(slotID uint, keyID string) error {
	var err error
	session, err := p11lib.Ctx.OpenSession(slotID, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		return errors.WithMessagef(err, "OpenSession on slot %d", slotID)
	}
	defer p11lib.Ctx.CloseSession(session)

	logger.Tracef("slot=0x%X, id=%q", slotID, keyID)

	var privHandle, pubHandle pkcs11.ObjectHandle
	if privHandle, err = p11lib.findKey(session, keyID, "", pkcs11.CKO_PRIVATE_KEY, ^uint(0)); err != nil {
		logger.Warningf("reason=not_found, type=CKO_PRIVATE_KEY, err=[%+v]", err)
	}
	if pubHandle, err = p11lib.findKey(session, keyID, "", pkcs11.CKO_PUBLIC_KEY, ^uint(0)); err != nil {
		logger.Warningf("reason=not_found, type=CKO_PUBLIC_KEY, err=[%+v]", err)
	}

	if privHandle != 0 {
		err = p11lib.Ctx.DestroyObject(session, privHandle)
		if err != nil {
			return errors.WithStack(err)
		}
		logger.Infof("type=CKO_PRIVATE_KEY, slot=0x%X, id=%q", slotID, keyID)
	}

	if pubHandle != 0 {
		err = p11lib.Ctx.DestroyObject(session, pubHandle)
		if err != nil {
			return errors.WithStack(err)
		}
		logger.Infof("type=CKO_PUBLIC_KEY, slot=0x%X, id=%q", slotID, keyID)
	}
	return nil
}

// DestroyKey destroys key pair on the current slot
func (p11lib *PKCS11Lib) DestroyKey(keyID string) error {
	return p11lib.DestroyKeyPairOnSlot(p11lib.Slot.id, keyID)
}

// GetKey returns signer for the given key id
func (p11lib *PKCS11Lib) GetKey(keyID string) (crypto.PrivateKey, error) {
	session, err := p11lib.Ctx.OpenSession(p11lib.Slot.id, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return nil, errors.WithMessagef(err, "OpenSession on slot %d", p11lib.Slot.id)
	}
	defer p11lib.Ctx.CloseSession(session)

	privHandle, err := p11lib.findKey(session, keyID, "", pkcs11.CKO_PRIVATE_KEY, ^uint(0))
	if err != nil {
		return nil, err
	}

	attributes := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, 0),
	}
	if attributes, err = p11lib.Ctx.GetAttributeValue(session, privHandle, attributes); err != nil {
		return nil, errors.WithMessagef(err, "GetAttributeValue on key")
	}

	pub, err := p11lib.publicKey(session, keyID)
	if err != nil {
		return nil, err
	}

	return NewSigner(p11lib, keyID, string(attributes[0].Value), pub), nil
}

// IdentifyKey returns key id and label for the given private key
func (p11lib *PKCS11Lib) IdentifyKey(priv crypto.PrivateKey) (keyID, label string, err error) {
	if s, ok := priv.(*Signer); ok {
		return s.KeyID(), s.Label(), nil
	}
	return "", "", errors.New("not supported key")
}

// ExportKey returns PKCS#11 URI for specified key ID.
// The key material never leaves the token.
func (p11lib *PKCS11Lib) ExportKey(keyID string) (string, []byte, error) {
	uri := fmt.Sprintf("pkcs11:manufacturer=%s;model=%s;id=%s;serial=%s;type=private",
		p11lib.Manufacturer(),
		p11lib.Model(),
		keyID,
		p11lib.Slot.serial,
	)
	return uri, nil, nil
}

// ExportPublicKey returns the public part of the key pair
func (p11lib *PKCS11Lib) ExportPublicKey(keyID string) (*pkcs10.SubjectPublicKeyInfo, error) {
	session, err := p11lib.Ctx.OpenSession(p11lib.Slot.id, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return nil, errors.WithMessagef(err, "OpenSession on slot %d", p11lib.Slot.id)
	}
	defer p11lib.Ctx.CloseSession(session)

	pub, err := p11lib.publicKey(session, keyID)
	if err != nil {
		return nil, err
	}

	spki, err := pkcs10.NewSubjectPublicKeyInfo(pub)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to encode public key, id=%s", keyID)
	}
	return &spki, nil
}
