// Package encoding implements the byte<->text transforms the DNS tunnel
// driver uses to pack binary payloads into DNS labels. Hex is what the
// wire actually uses (see pkg/tunnel/dns); base32 is carried over from
// original_source/client/encoding.c, which defines it but never wires
// it into the DNS driver — kept here so the round-trip law in spec.md
// stays testable and so a future record type that needs a
// case-insensitive-safe encoding (some resolvers downcase labels) has
// somewhere to go.
package encoding

import (
	"encoding/base32"
	"encoding/hex"
	"strings"
)

// EncodeHex returns the lowercase hex encoding of data.
func EncodeHex(data []byte) string {
	return hex.EncodeToString(data)
}

// DecodeHex decodes a hex string, ignoring '.' separators inserted by
// the DNS driver's label chunking. Returns an error if the cleaned
// string has odd length or contains non-hex characters.
func DecodeHex(s string) ([]byte, error) {
	clean := strings.ReplaceAll(s, ".", "")
	return hex.DecodeString(clean)
}

// base32Encoding uses the RFC 4648 alphabet (A-Z, 2-7), which is
// exactly the c_to_b32 mapping in the original C encoder.
var base32Encoding = base32.StdEncoding

// EncodeBase32 returns the upper-case base32 encoding of data.
func EncodeBase32(data []byte) string {
	return base32Encoding.EncodeToString(data)
}

// DecodeBase32 decodes a base32 string, ignoring '.' separators.
func DecodeBase32(s string) ([]byte, error) {
	clean := strings.ToUpper(strings.ReplaceAll(s, ".", ""))
	return base32Encoding.DecodeString(clean)
}
