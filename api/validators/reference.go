package validators

import (
	"net/url"

	pkgerrors "github.com/angelmondragon/busline-backend/pkg/errors"
)

const maxReferenceLen = 128

// Reference unescapes and validates a payment reference taken from the URL.
func Reference(raw string) (string, error) {
	unescaped, err := url.PathUnescape(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment reference")
	}
	reference := SanitizeString(unescaped, 0)
	if err := validate.Var(reference, "required,max=128,payment_ref"); err != nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid payment reference").
			WithDetails(map[string]string{"reference": referenceMessage(reference)})
	}
	return reference, nil
}

func referenceMessage(reference string) string {
	switch {
	case reference == "":
		return "is required"
	case len(reference) > maxReferenceLen:
		return "must be at most 128 characters"
	}
	return "must be printable ascii without spaces"
}
