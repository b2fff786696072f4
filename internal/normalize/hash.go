package normalize

import (
	"strconv"
	"unicode/utf16"
)

// Hash is a cheap 32-bit rolling hash (h = h*31 + c) over the normalized
// text, rendered in base 36. It is a dedup key component only and makes
// no collision guarantees.
//
// Characters are consumed as UTF-16 code units so keys match the ones
// written by the browser extension.
func Hash(text string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(Text(text))) {
		h = h*31 + int32(c)
	}
	return strconv.FormatInt(int64(h), 36)
}
