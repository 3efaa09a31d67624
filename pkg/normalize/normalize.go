// Package normalize provides pure field-level canonicalization for business
// listing records. Functions never return errors: malformed input degrades to
// the empty string so a bad field can never abort a row.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// nullTokens are values that mean "no data" in vendor CSV exports.
var nullTokens = map[string]struct{}{
	"":            {},
	"nan":         {},
	"none":        {},
	"null":        {},
	"n/a":         {},
	"na":          {},
	"-":           {},
	"placeholder": {},
	"unknown":     {},
}

// IsPlaceholder reports whether the value carries no real data.
func IsPlaceholder(val string) bool {
	_, ok := nullTokens[strings.ToLower(strings.TrimSpace(val))]
	return ok
}

// Text canonicalizes a free-text field: Unicode NFC, internal whitespace
// collapsed, trimmed, repeated punctuation squeezed. Non-Latin scripts pass
// through untouched so listings in Devanagari, Tamil or any other script
// keep their text intact.
func Text(val string) string {
	if IsPlaceholder(val) {
		return ""
	}

	val = norm.NFC.String(val)

	var b strings.Builder
	b.Grow(len(val))
	lastSpace := false
	var lastPunct rune
	for _, r := range val {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
			lastPunct = 0
			continue
		}
		lastSpace = false
		if r == ',' || r == '.' {
			if r == lastPunct {
				continue
			}
			lastPunct = r
		} else {
			lastPunct = 0
		}
		b.WriteRune(r)
	}

	return strings.TrimSpace(b.String())
}

// Phone strips every non-digit character. Empty input yields empty output,
// never a placeholder.
func Phone(val string) string {
	var b strings.Builder
	for _, r := range val {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Website lower-cases the value and strips the scheme, a leading www. and any
// trailing slash.
func Website(val string) string {
	val = strings.ToLower(Text(val))
	val = strings.TrimPrefix(val, "http://")
	val = strings.TrimPrefix(val, "https://")
	val = strings.TrimPrefix(val, "www.")
	return strings.TrimRight(val, "/")
}

// Category cleans a category value and title-cases ASCII tokens. A trailing
// plural "s" on an ASCII token is dropped, matching how vendor exports vary
// between "Bakery" and "Bakeries"... only the trivial "-s" form is handled.
func Category(val string) string {
	val = Text(val)
	if val == "" {
		return ""
	}
	words := strings.Fields(val)
	for i, w := range words {
		if isASCIIWord(w) {
			words[i] = titleASCII(strings.ToLower(w))
		}
	}
	out := strings.Join(words, " ")
	if isASCIIWord(out) && len(out) > 3 && strings.HasSuffix(out, "s") && !strings.HasSuffix(out, "ss") {
		out = out[:len(out)-1]
	}
	return out
}

// City cleans and title-cases a city name. Non-ASCII city names are cleaned
// but otherwise preserved verbatim.
func City(val string) string {
	val = Text(val)
	words := strings.Fields(val)
	for i, w := range words {
		if isASCIIWord(w) {
			words[i] = titleASCII(strings.ToLower(w))
		}
	}
	return strings.Join(words, " ")
}

func isASCIIWord(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func titleASCII(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// RowHash derives the content hash carried by every raw row, computed over
// the normalized composite business identity. Insert-if-absent on this hash
// is what makes batch redelivery idempotent.
func RowHash(name, phone, address, city string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(Text(name))))
	h.Write([]byte{0})
	h.Write([]byte(Phone(phone)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(Text(address))))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(Text(city))))
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint derives the change-detection hash for a source file from its
// identifier and source-reported modification time.
func Fingerprint(fileID, modifiedTime string) string {
	h := sha256.Sum256([]byte(fileID + ":" + modifiedTime))
	return hex.EncodeToString(h[:])
}
