package pkcs10_test

import (
	"crypto/x509/pkix"
	"testing"

	"github.com/effective-security/xcsr/oid"
	"github.com/effective-security/xcsr/pkcs10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameAdd(t *testing.T) {
	empty := pkcs10.NewName()
	assert.True(t, empty.IsEmpty())
	assert.Empty(t, empty.CommonName())

	name := empty.
		Add(oid.NameC, "US").
		Add(oid.NameO, "Outfox").
		Add(oid.NameCN, "Outfox Signing")

	// value semantics: the original is untouched
	assert.True(t, empty.IsEmpty())
	assert.False(t, name.IsEmpty())
	assert.Equal(t, "Outfox Signing", name.CommonName())
	assert.Equal(t, "CN=Outfox Signing,O=Outfox,C=US", name.String())

	rdns := name.RDNSequence()
	require.Equal(t, 3, len(rdns))
	assert.Equal(t, "US", rdns[0][0].Value)
}

func TestNameAddRDN(t *testing.T) {
	name := pkcs10.NewName().AddRDN(
		pkix.AttributeTypeAndValue{Type: oid.NameO, Value: "Outfox"},
		pkix.AttributeTypeAndValue{Type: oid.NameOU, Value: "Engineering"},
	)
	rdns := name.RDNSequence()
	require.Equal(t, 1, len(rdns))
	assert.Equal(t, 2, len(rdns[0]))
}

func TestNameFromPkix(t *testing.T) {
	name := pkcs10.NameFromPkix(pkix.Name{
		CommonName:   "trusty.ca",
		Organization: []string{"effective-security"},
		Country:      []string{"US"},
	})
	assert.Equal(t, "trusty.ca", name.CommonName())

	px := name.Pkix()
	assert.Equal(t, "trusty.ca", px.CommonName)
	assert.Equal(t, []string{"effective-security"}, px.Organization)
}

func TestNameEqual(t *testing.T) {
	a := pkcs10.NewName().Add(oid.NameCN, "alpha").Add(oid.NameO, "one")
	b := pkcs10.NewName().Add(oid.NameCN, "alpha").Add(oid.NameO, "one")
	c := pkcs10.NewName().Add(oid.NameO, "one").Add(oid.NameCN, "alpha")

	assert.True(t, a.Equal(b))
	// RDN order is significant
	assert.False(t, a.Equal(c))
	assert.True(t, pkcs10.NewName().Equal(pkcs10.NewName()))
	assert.False(t, a.Equal(pkcs10.NewName()))
}
