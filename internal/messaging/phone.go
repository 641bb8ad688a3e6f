package messaging

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// phoneNumberRegex matches everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// CanonicalizePhone converts a phone number to the canonical digit-only form
// used for patient matching. Indonesian local numbers written with a leading
// zero are rewritten to the 62 country prefix, so "0812..." and "+62812..."
// resolve to the same patient.
func CanonicalizePhone(recipient string) (string, error) {
	if strings.TrimSpace(recipient) == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}

	if strings.HasPrefix(canonical, "0") {
		canonical = "62" + canonical[1:]
	}

	if canonical != recipient {
		slog.Debug("canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}
