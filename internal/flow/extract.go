package flow

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/CivicStack/GrievanceFlow/internal/models"
)

// Extraction is pure pattern matching: no external calls, fully deterministic.

var (
	// Indian-format mobile number with an optional +91/91 prefix.
	mobileRe = regexp.MustCompile(`(\+91|91)?[\s-]?[6-9][0-9]{9}`)
	// Complaint ids look like GRV123456, matched case-insensitively.
	complaintIDRe = regexp.MustCompile(`(?i)\bGRV[0-9]{6}\b`)
)

// ExtractMobile pulls a 10-digit mobile number out of free text. A +91 or 91
// country prefix is stripped. Returns ok=false when no valid number is found.
func ExtractMobile(text string) (string, bool) {
	match := mobileRe.FindString(text)
	if match == "" {
		return "", false
	}
	var digits strings.Builder
	for _, r := range match {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	mobile := digits.String()
	switch {
	case len(mobile) == 10:
		return mobile, true
	case len(mobile) == 12 && strings.HasPrefix(mobile, "91"):
		return mobile[2:], true
	}
	return "", false
}

// ExtractName accepts an utterance consisting of one to four alphabetic
// words and returns it title-cased. Anything else is rejected.
func ExtractName(text string) (string, bool) {
	tokens := strings.Fields(strings.TrimSpace(text))
	if len(tokens) == 0 || len(tokens) > models.MaxNameTokens {
		return "", false
	}
	for _, token := range tokens {
		for _, r := range token {
			if !unicode.IsLetter(r) {
				return "", false
			}
		}
	}
	for i, token := range tokens {
		tokens[i] = titleCase(token)
	}
	return strings.Join(tokens, " "), true
}

// ExtractComplaintID finds a complaint id in free text, normalized to uppercase.
func ExtractComplaintID(text string) (string, bool) {
	match := complaintIDRe.FindString(text)
	if match == "" {
		return "", false
	}
	return strings.ToUpper(match), true
}

func titleCase(token string) string {
	runes := []rune(strings.ToLower(token))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
