package util

import (
	"strings"
	"testing"
)

func TestGenerateComplaintID(t *testing.T) {
	got := GenerateComplaintID()

	if !strings.HasPrefix(got, ComplaintIDPrefix) {
		t.Errorf("GenerateComplaintID() = %v, want prefix %v", got, ComplaintIDPrefix)
	}

	if len(got) != len(ComplaintIDPrefix)+ComplaintIDDigits {
		t.Errorf("GenerateComplaintID() length = %v, want %v", len(got), len(ComplaintIDPrefix)+ComplaintIDDigits)
	}

	digitPart := got[len(ComplaintIDPrefix):]
	if !isValidDigits(digitPart) {
		t.Errorf("GenerateComplaintID() digit part = %v is not numeric", digitPart)
	}
}

func TestGenerateRandomDigits(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   int
	}{
		{"zero length", 0, 0},
		{"negative length", -1, 0},
		{"small length", 6, 6},
		{"large length", 32, 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomDigits(tt.length)

			if len(got) != tt.want {
				t.Errorf("GenerateRandomDigits() length = %v, want %v", len(got), tt.want)
			}

			if tt.want > 0 && !isValidDigits(got) {
				t.Errorf("GenerateRandomDigits() = %v is not numeric", got)
			}
		})
	}
}

func TestComplaintIDSpread(t *testing.T) {
	// Ids come from a small space, so duplicates are possible but the
	// generator must not collapse to a handful of values.
	const iterations = 1000
	seen := make(map[string]bool)
	for i := 0; i < iterations; i++ {
		seen[GenerateComplaintID()] = true
	}
	if len(seen) < iterations/2 {
		t.Errorf("GenerateComplaintID() produced only %d distinct ids in %d draws", len(seen), iterations)
	}
}

// Helper function to validate numeric strings
func isValidDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
