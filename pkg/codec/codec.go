// Package codec converts between text, raw bytes, base64 and hex.
//
// Decoding is lenient the same way on every path: characters outside the
// base64 alphabet are stripped, and input that still cannot be decoded
// yields an empty slice instead of an error. Callers treat an empty result
// as malformed input and drop the message.
package codec

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// StringToBytes returns the UTF-8 encoding of s.
func StringToBytes(s string) []byte {
	return []byte(s)
}

// BytesToString interprets b as UTF-8.
func BytesToString(b []byte) string {
	return string(b)
}

// BytesToBase64 returns the padded standard base64 encoding of b.
func BytesToBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Base64ToBytes decodes padded standard base64. Characters outside the
// alphabet are ignored; a length that is not a multiple of four, or any
// other decoding failure, returns an empty slice.
func Base64ToBytes(s string) []byte {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == '+', r == '/', r == '=':
			return r
		}
		return -1
	}, s)
	if len(clean)%4 != 0 {
		return []byte{}
	}
	b, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return []byte{}
	}
	return b
}

// BytesToHex returns the lowercase hex encoding of b.
func BytesToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// HexToBytes decodes h two digits at a time. A trailing odd digit is
// decoded on its own; invalid input returns an empty slice.
func HexToBytes(h string) []byte {
	if len(h)%2 == 1 {
		h = h[:len(h)-1] + "0" + h[len(h)-1:]
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return []byte{}
	}
	return b
}
