package pkcs10

import (
	"github.com/cockroachdb/errors"
)

// Errors returned by the builder and the typed extension registry.
var (
	// ErrMissingPublicKey is returned by Build when no public key
	// was supplied.
	ErrMissingPublicKey = errors.New("missing public key")

	// ErrDuplicateExtension is returned when an extension or an
	// attribute with the same identifier is already present.
	ErrDuplicateExtension = errors.New("duplicate extension")

	// ErrUnsupportedAlgorithm is returned when a key family and
	// digest combination has no defined signature scheme, or when
	// a signature algorithm identifier is not recognized.
	ErrUnsupportedAlgorithm = errors.New("unsupported digest and key combination")
)

// DecodeError reports input that does not match the PKCS#10 schema,
// naming the structural field that failed.
type DecodeError struct {
	Field  string
	Reason string
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	s := "pkcs10: malformed " + e.Field
	if e.Reason != "" {
		s += ": " + e.Reason
	}
	return s
}

func decodeErr(field string) error {
	return errors.WithStack(&DecodeError{Field: field})
}
