package codetag

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

const (
	// IDPrefix marks the start of every codetag identifier.
	IDPrefix = "CT-"
	// IDDigits is the number of uppercase hex digits following IDPrefix.
	IDDigits = 8
	// IDLength is the full identifier length, prefix included.
	IDLength = len(IDPrefix) + IDDigits
)

// IDSource produces new identifiers. Implementations must return values of
// the form IDPrefix + IDDigits uppercase hex digits.
type IDSource func() string

// RandomID returns a random identifier. The four leading bytes of a version 4
// UUID are fully random, which gives the 32 bits needed for eight hex digits.
// Collisions are possible but not detected.
func RandomID() string {
	u := uuid.New()
	return IDPrefix + strings.ToUpper(hex.EncodeToString(u[:IDDigits/2]))
}

// FindID returns the first well-formed identifier on the line. An identifier
// must not be directly preceded or followed by an ASCII letter or digit.
func FindID(line string) (string, bool) {
	start := 0
	for {
		i := strings.Index(line[start:], IDPrefix)
		if i < 0 {
			return "", false
		}
		pos := start + i
		if isValidIDAt(line, pos) {
			return line[pos : pos+IDLength], true
		}
		start = pos + 1
	}
}

// HasID reports whether the line already carries an identifier.
func HasID(line string) bool {
	_, ok := FindID(line)
	return ok
}

// IsValidID reports whether s is exactly one identifier.
func IsValidID(s string) bool {
	return len(s) == IDLength && isValidIDAt(s, 0)
}

func isValidIDAt(line string, pos int) bool {
	end := pos + IDLength
	if end > len(line) {
		return false
	}
	if pos > 0 && isAlnum(line[pos-1]) {
		return false
	}
	for i := pos + len(IDPrefix); i < end; i++ {
		if !isUpperHex(line[i]) {
			return false
		}
	}
	if end < len(line) && isAlnum(line[end]) {
		return false
	}
	return true
}

func isUpperHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')
}

func isAlnum(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
