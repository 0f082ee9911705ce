package pkcs10_test

import (
	"net"
	"testing"

	"github.com/effective-security/xcsr/oid"
	"github.com/effective-security/xcsr/pkcs10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtensionsAddFind(t *testing.T) {
	var es pkcs10.Extensions

	err := es.Add(pkcs10.KeyUsageDigitalSignature|pkcs10.KeyUsageKeyEncipherment, true)
	require.NoError(t, err)
	err = es.Add(pkcs10.GeneralNames{pkcs10.DNSName("trusty.ca")}, false)
	require.NoError(t, err)
	err = es.Add(pkcs10.ExtKeyUsage{oid.KeyPurposeServerAuth}, false)
	require.NoError(t, err)

	// insertion order is preserved
	require.Equal(t, 3, len(es))
	assert.Equal(t, oid.ExtensionKeyUsage, es[0].Id)
	assert.Equal(t, oid.ExtensionSubjectAltName, es[1].Id)
	assert.Equal(t, oid.ExtensionExtendedKeyUsage, es[2].Id)
	assert.True(t, es[0].Critical)
	assert.False(t, es[1].Critical)

	var ku pkcs10.KeyUsage
	found, err := es.Find(&ku)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, pkcs10.KeyUsageDigitalSignature|pkcs10.KeyUsageKeyEncipherment, ku)

	var names pkcs10.GeneralNames
	found, err = es.Find(&names)
	require.NoError(t, err)
	assert.True(t, found)
	require.Equal(t, 1, len(names))
	assert.Equal(t, "trusty.ca", names[0].DNS)

	var bc pkcs10.BasicConstraints
	found, err = es.Find(&bc)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestExtensionsAddDuplicate(t *testing.T) {
	var es pkcs10.Extensions

	err := es.Add(pkcs10.KeyUsageCertSign, true)
	require.NoError(t, err)

	err = es.Add(pkcs10.KeyUsageDigitalSignature, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkcs10.ErrDuplicateExtension)
	assert.Equal(t, "2.5.29.15: duplicate extension", err.Error())

	// the collection is unchanged after a rejected add
	require.Equal(t, 1, len(es))

	err = es.AddRaw(es[0])
	require.Error(t, err)
	assert.ErrorIs(t, err, pkcs10.ErrDuplicateExtension)
}

func TestExtensionsFindFirst(t *testing.T) {
	first, err := pkcs10.KeyUsageKeyEncipherment.MarshalValue()
	require.NoError(t, err)
	second, err := pkcs10.KeyUsageCertSign.MarshalValue()
	require.NoError(t, err)

	// decoded requests may carry duplicates; lookups return the earliest
	es := pkcs10.Extensions{
		{Id: oid.ExtensionKeyUsage, Value: first},
		{Id: oid.ExtensionKeyUsage, Critical: true, Value: second},
	}

	var ku pkcs10.KeyUsage
	found, err := es.Find(&ku)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, pkcs10.KeyUsageKeyEncipherment, ku)

	raw := es.Raw(oid.ExtensionKeyUsage)
	require.NotNil(t, raw)
	assert.False(t, raw.Critical)
}

func TestKeyUsageEncoding(t *testing.T) {
	der, err := pkcs10.KeyUsageKeyEncipherment.MarshalValue()
	require.NoError(t, err)
	// BIT STRING with 5 unused bits, matching crypto/x509
	assert.Equal(t, []byte{0x03, 0x02, 0x05, 0x20}, der)

	var ku pkcs10.KeyUsage
	require.NoError(t, ku.UnmarshalValue(der))
	assert.Equal(t, pkcs10.KeyUsageKeyEncipherment, ku)
	assert.Equal(t, []string{"key encipherment"}, ku.Strings())

	der, err = (pkcs10.KeyUsageCertSign | pkcs10.KeyUsageCRLSign).MarshalValue()
	require.NoError(t, err)

	ku = 0
	require.NoError(t, ku.UnmarshalValue(der))
	assert.Equal(t, pkcs10.KeyUsageCertSign|pkcs10.KeyUsageCRLSign, ku)
}

func TestBasicConstraints(t *testing.T) {
	var es pkcs10.Extensions
	err := es.Add(pkcs10.BasicConstraints{IsCA: true, MaxPathLen: -1}, true)
	require.NoError(t, err)

	var bc pkcs10.BasicConstraints
	found, err := es.Find(&bc)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, bc.IsCA)
	assert.Equal(t, -1, bc.MaxPathLen)
}

func TestAttributes(t *testing.T) {
	var attrs pkcs10.Attributes

	err := attrs.Add(pkcs10.ChallengePassword("correct horse"))
	require.NoError(t, err)
	err = attrs.Add(&pkcs10.ExtensionRequest{})
	require.NoError(t, err)

	err = attrs.Add(pkcs10.ChallengePassword("again"))
	require.Error(t, err)
	assert.ErrorIs(t, err, pkcs10.ErrDuplicateExtension)
	require.Equal(t, 2, len(attrs))

	var cp pkcs10.ChallengePassword
	found, err := attrs.Find(&cp)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "correct horse", string(cp))

	raw := attrs.Raw(oid.AttributeUnstructuredName)
	assert.Nil(t, raw)
}

func TestGeneralNames(t *testing.T) {
	names := pkcs10.GeneralNames{
		pkcs10.DNSName("trusty.ca"),
		pkcs10.EmailAddress("ops@trusty.ca"),
		pkcs10.IPAddress(net.ParseIP("10.0.1.7")),
		pkcs10.URIName("spiffe://trusty/ca"),
	}

	der, err := names.MarshalValue()
	require.NoError(t, err)

	var parsed pkcs10.GeneralNames
	require.NoError(t, parsed.UnmarshalValue(der))
	require.Equal(t, 4, len(parsed))
	assert.Equal(t, "trusty.ca", parsed[0].DNS)
	assert.Equal(t, "ops@trusty.ca", parsed[1].Email)
	assert.Equal(t, "10.0.1.7", parsed[2].IP.String())
	assert.Equal(t, "spiffe://trusty/ca", parsed[3].URI)
	assert.Equal(t, []string{"trusty.ca"}, parsed.DNSNames())

	_, err = pkcs10.GeneralNames{pkcs10.DNSName("пример.ru")}.MarshalValue()
	require.Error(t, err)

	_, err = pkcs10.GeneralNames{{}}.MarshalValue()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty general name")
}
