package certutil

import (
	"crypto/x509/pkix"
	"strings"

	"github.com/effective-security/xcsr/oid"
)

// NameToString converts the name to a string, keeping the attribute
// order of the underlying RDN sequence
func NameToString(name *pkix.Name) string {
	parts := make([]string, 0, len(name.Names))
	add := func(typ, val string) {
		parts = append(parts, typ+"="+val)
	}

	for _, attr := range name.Names {
		val, ok := attr.Value.(string)
		if !ok {
			continue
		}
		t := attr.Type
		if len(t) == 4 && t[0] == 2 && t[1] == 5 && t[2] == 4 {
			switch t[3] {
			case 3:
				add("CN", val)
			case 5:
				add("SERIALNUMBER", val)
			case 6:
				add("C", val)
			case 7:
				add("L", val)
			case 8:
				add("ST", val)
			case 9:
				add("STREET", val)
			case 10:
				add("O", val)
			case 11:
				add("OU", val)
			case 17:
				add("POSTALCODE", val)
			default:
				add(t.String(), val)
			}
		} else if t.Equal(oid.NameEmailAddress) {
			add("E", val)
		} else {
			add(t.String(), val)
		}
	}
	return strings.Join(parts, ", ")
}
