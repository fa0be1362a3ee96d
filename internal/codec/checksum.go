package codec

import (
	"fmt"
	"strings"
)

// UIT correlation codes are 16 characters: 14 from a restricted charset
// followed by 2 check digits, the last two digits of the ASCII sum of the
// first 14 characters.

const (
	uitLength  = 16
	uitCharset = "0123456789ACDEFHJKLMNPQRTUVWXY"
)

// ValidateUIT checks a correlation code and returns a reason on failure.
func ValidateUIT(code string) error {
	if len(code) != uitLength {
		return fmt.Errorf("code must be exactly %d characters, got %d", uitLength, len(code))
	}

	body := code[:uitLength-2]
	check := code[uitLength-2:]

	sum := 0
	for i := 0; i < len(body); i++ {
		if !strings.ContainsRune(uitCharset, rune(body[i])) {
			return fmt.Errorf("invalid character %q at position %d", body[i], i+1)
		}
		sum += int(body[i])
	}

	if expected := fmt.Sprintf("%02d", sum%100); check != expected {
		return fmt.Errorf("check digits %q do not match expected %q", check, expected)
	}

	return nil
}

// UITCheckDigits computes the two check digits for a 14-character prefix.
func UITCheckDigits(body string) (string, error) {
	if len(body) != uitLength-2 {
		return "", fmt.Errorf("prefix must be exactly %d characters, got %d", uitLength-2, len(body))
	}

	sum := 0
	for i := 0; i < len(body); i++ {
		if !strings.ContainsRune(uitCharset, rune(body[i])) {
			return "", fmt.Errorf("invalid character %q at position %d", body[i], i+1)
		}
		sum += int(body[i])
	}

	return fmt.Sprintf("%02d", sum%100), nil
}
