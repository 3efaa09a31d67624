package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace collapse", "  Sunrise   Bakery \t Pvt  Ltd ", "Sunrise Bakery Pvt Ltd"},
		{"nan token", "nan", ""},
		{"none token", " None ", ""},
		{"na token", "N/A", ""},
		{"placeholder token", "Placeholder", ""},
		{"repeated punctuation", "MG Road,, Pune..", "MG Road, Pune."},
		{"devanagari preserved", "सनराइज बेकरी", "सनराइज बेकरी"},
		{"tamil preserved", "சென்னை உணவகம்", "சென்னை உணவகம்"},
		{"mixed scripts", "Cafe  दिल्ली", "Cafe दिल्ली"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Text(tt.in))
		})
	}
}

func TestPhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+91 98765-43210", "919876543210"},
		{"(020) 2612 3456", "02026123456"},
		{"", ""},
		{"no digits here", ""},
		{"98765 43210", "9876543210"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Phone(tt.in), "Phone(%q)", tt.in)
	}
}

func TestWebsite(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.Example.COM/", "example.com"},
		{"http://example.com/path/", "example.com/path"},
		{"www.shop.in", "shop.in"},
		{"shop.in", "shop.in"},
		{"", ""},
		{"nan", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Website(tt.in), "Website(%q)", tt.in)
	}
}

func TestState(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"MH", "Maharashtra"},
		{"tamilnadu", "Tamil Nadu"},
		{"Tamil-Nadu", "Tamil Nadu"},
		{"kerla", "Kerala"},
		{"UP", "Uttar Pradesh"},
		{"Maharashtra", "Maharashtra"},
		{"goa", "Goa"},
		{"New Delhi", "Delhi"},
		// No alias match: cleaned pass-through, regional script untouched.
		{"महाराष्ट्र", "महाराष्ट्र"},
		{"some province", "Some Province"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, State(tt.in), "State(%q)", tt.in)
	}
}

func TestCategory(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"bakery", "Bakery"},
		{"BAKERIES", "Bakerie"}, // trivial -s singularization only
		{"tax consultants", "Tax Consultant"},
		{"", ""},
		{"none", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Category(tt.in), "Category(%q)", tt.in)
	}
}

func TestCity(t *testing.T) {
	assert.Equal(t, "Pune", City("pune"))
	assert.Equal(t, "New Delhi", City("new delhi"))
	assert.Equal(t, "पुणे", City("पुणे"))
}

func TestRowHash_Deterministic(t *testing.T) {
	a := RowHash("Sunrise Bakery", "+91 98765-43210", "MG Road", "Pune")
	b := RowHash("  sunrise bakery ", "919876543210", "mg  road", "PUNE")
	assert.Equal(t, a, b, "normalized-equal rows must hash equal")

	c := RowHash("Sunset Bakery", "+91 98765-43210", "MG Road", "Pune")
	assert.NotEqual(t, a, c)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("file-1", "2026-08-01T10:00:00Z")
	b := Fingerprint("file-1", "2026-08-01T10:00:00Z")
	c := Fingerprint("file-1", "2026-08-02T10:00:00Z")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestIsPlaceholder(t *testing.T) {
	assert.True(t, IsPlaceholder(""))
	assert.True(t, IsPlaceholder("  NULL "))
	assert.True(t, IsPlaceholder("Unknown"))
	assert.False(t, IsPlaceholder("Pune"))
	assert.False(t, IsPlaceholder("0"))
}
