package payment

import (
	"strings"
	"unicode"
)

// ValidateUPIID checks the minimal handle@provider grammar: a non-empty local
// part, exactly one '@', a non-empty provider handle and no whitespace.
func ValidateUPIID(id string) error {
	if id == "" {
		return &InvalidUPIIDError{}
	}
	if strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return &InvalidUPIIDError{ID: id, Reason: "must not contain whitespace"}
	}
	local, handle, ok := strings.Cut(id, "@")
	if !ok {
		return &InvalidUPIIDError{ID: id, Reason: "missing '@'"}
	}
	if strings.Contains(handle, "@") {
		return &InvalidUPIIDError{ID: id, Reason: "must contain a single '@'"}
	}
	if local == "" {
		return &InvalidUPIIDError{ID: id, Reason: "missing account before '@'"}
	}
	if handle == "" {
		return &InvalidUPIIDError{ID: id, Reason: "missing provider handle after '@'"}
	}
	return nil
}
