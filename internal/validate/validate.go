package validate

import (
	"regexp"
	"strings"
	"time"
	"unicode"
)

var (
	reMRN      = regexp.MustCompile(`^[A-Za-z0-9_-]{4,20}$`)
	reEmail    = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	reUsername = regexp.MustCompile(`^[A-Za-z0-9._-]{3,50}$`)
	reCode     = regexp.MustCompile(`^[0-9]{6}$`)
)

// MRN validates a medical record number: 4-20 letters, digits, dashes or underscores.
func MRN(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, reMRN.MatchString(s)
}

// Batch validates a manufacturer batch number.
func Batch(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, len(s) >= 3 && len(s) <= 100
}

// Date validates a YYYY-MM-DD calendar date.
func Date(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return "", false
	}
	return s, true
}

func Email(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) == 0 || len(s) > 254 {
		return "", false
	}
	return s, reEmail.MatchString(s)
}

func Username(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, reUsername.MatchString(s)
}

// ResetCode validates the six digit code sent by SMS.
func ResetCode(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, reCode.MatchString(s)
}

// Mobile normalises an Australian mobile number to "+61 4XX XXX XXX".
func Mobile(s string) (string, bool) {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case len(digits) == 10 && strings.HasPrefix(digits, "04"):
		return "+61 " + digits[1:4] + " " + digits[4:7] + " " + digits[7:], true
	case len(digits) == 11 && strings.HasPrefix(digits, "614"):
		return "+61 " + digits[2:5] + " " + digits[5:8] + " " + digits[8:], true
	}
	return "", false
}

// Password enforces a length window and at least one letter and one digit.
func Password(s string) bool {
	l := len(s)
	if l < 8 || l > 64 {
		return false
	}
	var hasLetter, hasDigit bool
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}

// MaxSearchLength caps a search query in characters.
const MaxSearchLength = 50

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// Search trims a free-text query to MaxSearchLength characters and escapes
// LIKE wildcards with a backslash, for use with ESCAPE '\'.
func Search(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > MaxSearchLength {
		s = string(r[:MaxSearchLength])
	}
	return likeEscaper.Replace(s)
}
