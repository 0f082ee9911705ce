package cli

import (
	"crypto"
	"crypto/elliptic"
	"path/filepath"
	"testing"
	"time"

	"github.com/effective-security/x/guid"
	"github.com/effective-security/xcsr/keyvault"
	"github.com/effective-security/xcsr/keyvault/inmemcrypto"
	"github.com/effective-security/xcsr/pkcs10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type keySuite struct {
	testSuite
}

func TestKeySuite(t *testing.T) {
	suite.Run(t, new(keySuite))
}

func (s *keySuite) TestLsKeyFlags() {
	cmd := KeyLsCmd{}

	// without KeyManager interface
	mockedProv := &mockedProvider{}
	mockedProv.On("Manufacturer").Return("man123")
	mockedProv.On("Model").Return("model123")

	c, _ := keyvault.New(mockedProv, nil)

	s.ctl.crypto = c
	s.ctl.defaultCryptoProv = c.Default()

	err := cmd.Run(s.ctl)
	s.Require().Error(err)
	s.Equal("unsupported command for this crypto provider", err.Error())

	// with keys and creationTime
	creationTime := time.Now()
	mocked := &mockedFull{
		tokens: []keyvault.TokenInfo{
			{
				SlotID:       uint(1),
				Description:  "d123",
				Label:        "label123",
				Manufacturer: "man123",
				Model:        "model123",
				Serial:       "serial123-30589673",
			},
		},
		keys: map[uint][]keyvault.KeyInfo{
			uint(1): {
				{
					ID:               "123",
					Label:            "label123",
					Type:             "RSA",
					Class:            "class",
					CurrentVersionID: "v124",
					CreationTime:     &creationTime,
				},
				{
					ID:               "with_error",
					Label:            "with_error",
					Type:             "ECDSA",
					Class:            "class",
					CurrentVersionID: "v1235",
					CreationTime:     &creationTime,
				},
			},
		},
	}

	mocked.On("EnumTokens", mock.Anything).Times(2).Return(nil)
	mocked.On("EnumKeys", mock.Anything, mock.Anything).Times(1).Return(nil)
	mocked.On("EnumKeys", mock.Anything, "with_error").Times(1).Return(errors.New("unexpected error"))
	mocked.On("EnumTokens", mock.Anything).Times(1).Return(errors.New("token not found"))
	mocked.On("Manufacturer").Return("man123")
	mocked.On("Model").Return("model123")

	c, _ = keyvault.New(mocked, nil)
	s.ctl.crypto = c
	s.ctl.defaultCryptoProv = c.Default()

	err = cmd.Run(s.ctl)
	s.Require().NoError(err)
	s.HasText("Slot: 1\n  Manufacturer:  man123\n  Model:  model123\n  Description:  d123\n  Token serial:  serial123-30589673\n  Token label:  label123\n")
	s.HasText("Created: ")

	cmd.Prefix = "with_error"
	err = cmd.Run(s.ctl)
	s.Require().Error(err)
	s.Equal("failed to list keys on slot 1: unexpected error", err.Error())

	// no flags
	cmd = KeyLsCmd{}
	err = cmd.Run(s.ctl)
	s.Require().Error(err)
	s.Equal("failed to list tokens: token not found", err.Error())

	// assert that the expectations were met
	mocked.AssertExpectations(s.T())
}

func (s *keySuite) Test_KeyInfo() {
	cmd := KeyInfoCmd{
		ID:     "123",
		Public: true,
	}

	// without KeyManager interface
	mockedProv := &mockedProvider{}
	mockedProv.On("Manufacturer").Return("man123")
	mockedProv.On("Model").Return("model123")

	c, _ := keyvault.New(mockedProv, nil)
	s.ctl.crypto = c
	s.ctl.defaultCryptoProv = c.Default()

	err := cmd.Run(s.ctl)
	s.Require().Error(err)
	s.Equal("unsupported command for this crypto provider", err.Error())

	// with keys and creationTime
	creationTime := time.Now()
	mocked := &mockedFull{
		tokens: []keyvault.TokenInfo{
			{
				SlotID:       uint(1),
				Description:  "d123",
				Label:        "label123",
				Manufacturer: "man123",
				Model:        "model123",
				Serial:       "serial123-30589673",
			},
		},
		keys: map[uint][]keyvault.KeyInfo{
			uint(1): {
				{
					ID:               "123",
					Label:            "label123",
					Type:             "RSA",
					Class:            "class",
					CurrentVersionID: "v124",
					CreationTime:     &creationTime,
					PublicKey:        "-----BEGIN PUBLIC KEY-----",
				},
			},
		},
	}

	mocked.On("EnumTokens", mock.Anything).Times(2).Return(nil)
	mocked.On("KeyInfo", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	mocked.On("Manufacturer").Return("man123")
	mocked.On("Model").Return("model123")

	c, _ = keyvault.New(mocked, nil)
	s.ctl.crypto = c
	s.ctl.defaultCryptoProv = c.Default()

	err = cmd.Run(s.ctl)
	s.Require().NoError(err)
	s.HasText("Id:    123", "Label: label123", "Public key: ")

	// no flags
	cmd.Public = false
	err = cmd.Run(s.ctl)
	s.Require().NoError(err)

	// assert that the expectations were met
	mocked.AssertExpectations(s.T())
}

func (s *keySuite) Test_GenKey() {
	cmd := KeyGenCmd{
		Algo:    "RSA",
		Size:    1024,
		Purpose: "sign",
		Label:   "label123",
		Output:  "",
		Force:   false,
	}

	mocked := &mockedFull{
		tokens: []keyvault.TokenInfo{
			{
				SlotID:       uint(1),
				Description:  "d123",
				Label:        "label123",
				Manufacturer: "man123",
				Model:        "model123",
				Serial:       "serial123-30589673",
			},
		},
		keys: map[uint][]keyvault.KeyInfo{},
	}

	var pvk crypto.PrivateKey = struct{}{}
	mocked.On("GenerateRSAKey", mock.Anything, mock.Anything, mock.Anything).Return(pvk, nil)
	mocked.On("IdentifyKey", mock.Anything).Times(2).Return("keyID123", "label123", nil)
	mocked.On("ExportKey", "keyID123").Times(1).Return("pkcs11:keyID123", []byte{1, 2, 3}, nil)
	mocked.On("ExportKey", "keyID123").Times(1).Return("", []byte{}, errors.Errorf("not exportable"))
	mocked.On("IdentifyKey", mock.Anything).Times(1).Return("", "", errors.Errorf("key not found"))
	mocked.On("Manufacturer").Return("man123")
	mocked.On("Model").Return("model123")

	c, _ := keyvault.New(mocked, nil)
	s.ctl.crypto = c
	s.ctl.defaultCryptoProv = c.Default()

	err := cmd.Run(s.ctl)
	s.Require().Error(err)
	s.Equal("RSA key is too weak: 1024", err.Error())

	cmd.Size = 2048
	cmd.Output = filepath.Join(s.tmpdir, guid.MustCreate())

	err = cmd.Run(s.ctl)
	s.Require().NoError(err)

	cmd.Force = true
	err = cmd.Run(s.ctl)
	s.Require().Error(err)
	s.Equal("not exportable", err.Error())

	err = cmd.Run(s.ctl)
	s.Require().Error(err)
	s.Equal("key not found", err.Error())

	cmd.Purpose = "wrap"
	err = cmd.Run(s.ctl)
	s.Require().Error(err)
	s.Equal(`unsupported purpose: "wrap"`, err.Error())

	// assert that the expectations were met
	mocked.AssertExpectations(s.T())
}

func (s *keySuite) Test_RmKey() {
	cmd := KeyRmCmd{}

	// without KeyManager interface
	mockedProv := &mockedProvider{}
	mockedProv.On("Manufacturer").Return("man123")
	mockedProv.On("Model").Return("model123")

	c, _ := keyvault.New(mockedProv, nil)
	s.ctl.crypto = c
	s.ctl.defaultCryptoProv = c.Default()

	err := cmd.Run(s.ctl)
	s.Require().Error(err)
	s.Equal("unsupported command for this crypto provider", err.Error())

	// with keys
	mocked := &mockedFull{
		tokens: []keyvault.TokenInfo{
			{
				SlotID:       uint(1),
				Description:  "d123",
				Label:        "label123",
				Manufacturer: "man123",
				Model:        "model123",
				Serial:       "serial123-30589673",
			},
		},
		keys: map[uint][]keyvault.KeyInfo{},
	}

	mocked.On("EnumTokens", mock.Anything).Times(2).Return(nil)
	mocked.On("DestroyKeyPairOnSlot", mock.Anything, "with_error").Return(errors.New("access denied"))
	mocked.On("DestroyKeyPairOnSlot", mock.Anything, mock.Anything).Return(nil)
	mocked.On("Manufacturer").Return("man123")
	mocked.On("Model").Return("model123")

	c, _ = keyvault.New(mocked, nil)
	s.ctl.crypto = c
	s.ctl.defaultCryptoProv = c.Default()

	cmd.ID = "with_error"
	err = cmd.Run(s.ctl)
	s.Require().Error(err)
	s.Equal(`unable to destroy key "with_error" on slot 1: access denied`, err.Error())

	cmd.ID = "123"
	err = cmd.Run(s.ctl)
	s.Require().NoError(err)
	s.HasText("destroyed key: 123")

	// assert that the expectations were met
	mocked.AssertExpectations(s.T())
}

func (s *keySuite) Test_Export() {
	prov := inmemcrypto.NewProvider()
	c, err := keyvault.New(prov, nil)
	s.Require().NoError(err)
	s.ctl.crypto = c
	s.ctl.defaultCryptoProv = c.Default()

	pvk, err := prov.GenerateECDSAKey("export"+guid.MustCreate(), elliptic.P256())
	s.Require().NoError(err)
	keyID, _, err := prov.IdentifyKey(pvk)
	s.Require().NoError(err)

	cmd := KeyExportCmd{ID: keyID}
	err = cmd.Run(s.ctl)
	s.Require().NoError(err)
	s.HasText("BEGIN PRIVATE KEY")

	cmd.Output = filepath.Join(s.tmpdir, "exported.key")
	err = cmd.Run(s.ctl)
	s.Require().NoError(err)
	s.HasTextInFile(cmd.Output, "PRIVATE KEY")

	// the file exists now
	err = cmd.Run(s.ctl)
	s.Require().Error(err)
	s.Contains(err.Error(), "file exists")

	jwk := KeyExportCmd{ID: keyID, Jwk: true, Output: filepath.Join(s.tmpdir, "exported.jwk")}
	err = jwk.Run(s.ctl)
	s.Require().NoError(err)
	s.HasTextInFile(jwk.Output, `"kty"`)

	missing := KeyExportCmd{ID: "non-existent"}
	err = missing.Run(s.ctl)
	s.Require().Error(err)
	s.Equal("not found: non-existent", err.Error())
}

//
// Mock
//
type mockedProvider struct {
	mock.Mock
}

func (m *mockedProvider) GenerateRSAKey(label string, bits int, purpose int) (crypto.PrivateKey, error) {
	args := m.Called(label, bits, purpose)
	return args.Get(0).(crypto.PrivateKey), args.Error(1)
}

func (m *mockedProvider) GenerateECDSAKey(label string, curve elliptic.Curve) (crypto.PrivateKey, error) {
	args := m.Called(label, curve)
	return args.Get(0).(crypto.PrivateKey), args.Error(1)
}

func (m *mockedProvider) IdentifyKey(k crypto.PrivateKey) (keyID, label string, err error) {
	args := m.Called(k)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *mockedProvider) ExportKey(keyID string) (string, []byte, error) {
	args := m.Called(keyID)
	return args.String(0), args.Get(1).([]byte), args.Error(2)
}

func (m *mockedProvider) ExportPublicKey(keyID string) (*pkcs10.SubjectPublicKeyInfo, error) {
	args := m.Called(keyID)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	return args.Get(0).(*pkcs10.SubjectPublicKeyInfo), nil
}

func (m *mockedProvider) DestroyKey(keyID string) error {
	args := m.Called(keyID)
	return args.Error(0)
}

func (m *mockedProvider) GetKey(keyID string) (crypto.PrivateKey, error) {
	args := m.Called(keyID)
	return args.Get(0).(crypto.PrivateKey), args.Error(1)
}

func (m *mockedProvider) Manufacturer() string {
	args := m.Called()
	return args.String(0)
}

func (m *mockedProvider) Model() string {
	args := m.Called()
	return args.String(0)
}

type mockedFull struct {
	mockedProvider

	tokens []keyvault.TokenInfo
	keys   map[uint][]keyvault.KeyInfo
}

func (m *mockedFull) CurrentSlotID() uint {
	args := m.Called()
	return uint(args.Int(0))
}

func (m *mockedFull) EnumTokens(currentSlotOnly bool) ([]keyvault.TokenInfo, error) {
	args := m.Called(currentSlotOnly)
	err := args.Error(0)
	if err != nil {
		return nil, err
	}
	return m.tokens, nil
}

func (m *mockedFull) EnumKeys(slotID uint, prefix string) ([]keyvault.KeyInfo, error) {
	args := m.Called(slotID, prefix)
	err := args.Error(0)
	if err != nil {
		return nil, err
	}
	return m.keys[slotID], err
}

func (m *mockedFull) DestroyKeyPairOnSlot(slotID uint, keyID string) error {
	args := m.Called(slotID, keyID)
	return args.Error(0)
}

func (m *mockedFull) KeyInfo(slotID uint, keyID string, includePublic bool) (*keyvault.KeyInfo, error) {
	args := m.Called(slotID, keyID, includePublic)
	err := args.Error(0)
	if err != nil {
		return nil, err
	}

	for _, key := range m.keys[slotID] {
		if key.ID == keyID {
			return &key, nil
		}
	}
	return nil, errors.Errorf("not found: %s", keyID)
}
