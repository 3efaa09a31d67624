package models

import "strings"

// ListingSignature is the composite business identity
// (phone, lowered name, lowered address, lowered city) used to detect
// duplicate listings both within a validation batch and against the clean
// store.
type ListingSignature struct {
	Phone   string
	Name    string
	Address string
	City    string
}

// NewListingSignature lowers and trims the free-text components so that
// signatures compare equal regardless of source casing and padding.
func NewListingSignature(name, phone, city, address string) ListingSignature {
	return ListingSignature{
		Phone:   strings.TrimSpace(phone),
		Name:    strings.ToLower(strings.TrimSpace(name)),
		Address: strings.ToLower(strings.TrimSpace(address)),
		City:    strings.ToLower(strings.TrimSpace(city)),
	}
}
