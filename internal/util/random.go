// Package util provides utility functions for the GrievanceFlow application.
package util

import (
	"math/rand/v2"
	"strings"
)

// ComplaintIDPrefix prefixes every generated complaint id.
const ComplaintIDPrefix = "GRV"

// ComplaintIDDigits is the number of random decimal digits in a complaint id.
const ComplaintIDDigits = 6

// GenerateComplaintID generates a complaint id in the form "GRV" followed by
// six random decimal digits. Uniqueness is enforced by the store, not here.
func GenerateComplaintID() string {
	return ComplaintIDPrefix + GenerateRandomDigits(ComplaintIDDigits)
}

// GenerateRandomDigits generates a random decimal string of the specified length.
// Uses math/rand/v2; ids are opaque tokens, not secrets.
func GenerateRandomDigits(length int) string {
	if length <= 0 {
		return ""
	}

	const digits = "0123456789"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(digits[rand.IntN(len(digits))])
	}

	return builder.String()
}
