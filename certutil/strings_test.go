package certutil_test

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"testing"

	"github.com/effective-security/xcsr/certutil"
	"github.com/effective-security/xcsr/oid"
	"github.com/stretchr/testify/assert"
)

func TestNameToString(t *testing.T) {
	n := pkix.Name{
		Names: []pkix.AttributeTypeAndValue{
			{Type: oid.NameC, Value: "US"},
			{Type: oid.NameST, Value: "WA"},
			{Type: oid.NameL, Value: "Kirkland"},
			{Type: oid.NameO, Value: "Outfox"},
			{Type: oid.NameOU, Value: "Dev"},
			{Type: oid.NameCN, Value: "outfoxx.io"},
			{Type: oid.NameSerial, Value: "1234"},
			{Type: oid.NameEmailAddress, Value: "ops@outfoxx.io"},
			{Type: asn1.ObjectIdentifier{2, 5, 4, 12}, Value: "Title"},
			{Type: oid.NameCN, Value: 42},
		},
	}
	assert.Equal(t,
		"C=US, ST=WA, L=Kirkland, O=Outfox, OU=Dev, CN=outfoxx.io, SERIALNUMBER=1234, E=ops@outfoxx.io, 2.5.4.12=Title",
		certutil.NameToString(&n))

	assert.Empty(t, certutil.NameToString(&pkix.Name{}))
}
