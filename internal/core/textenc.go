package core

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// DecodeText converts child output to UTF-8.
//
// Output is normally UTF-8 because the child environment forces it. When it
// is not (a child that ignored the setting on a Windows code page), the bytes
// are decoded as Windows-1252, and as a last resort invalid sequences are
// replaced.
func DecodeText(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "?")
	}
	return string(decoded)
}
