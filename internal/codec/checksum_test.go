package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUITCheckDigits(t *testing.T) {
	// ASCII sum of "00000000000001" is 673, so the check digits are 73.
	digits, err := UITCheckDigits("00000000000001")
	require.NoError(t, err)
	assert.Equal(t, "73", digits)
}

func TestValidateUIT(t *testing.T) {
	t.Run("valid code", func(t *testing.T) {
		assert.NoError(t, ValidateUIT("0000000000000173"))
	})

	t.Run("wrong check digits", func(t *testing.T) {
		err := ValidateUIT("0000000000000172")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "check digits")
	})

	t.Run("character outside charset", func(t *testing.T) {
		// B, G, I, O, S and Z are excluded from the charset.
		err := ValidateUIT("00B0000000000173")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid character")
	})

	t.Run("wrong length", func(t *testing.T) {
		assert.Error(t, ValidateUIT("000000000000073"))
		assert.Error(t, ValidateUIT("00000000000001734"))
		assert.Error(t, ValidateUIT(""))
	})

	t.Run("non-trivial prefix", func(t *testing.T) {
		digits, err := UITCheckDigits("3A5K9PQRTUVWXY")
		require.NoError(t, err)
		assert.NoError(t, ValidateUIT("3A5K9PQRTUVWXY"+digits))
	})
}

func TestUITCheckDigitsRejectsBadPrefix(t *testing.T) {
	_, err := UITCheckDigits("0000000000000")
	assert.Error(t, err)

	_, err = UITCheckDigits("0000000000000Z")
	assert.Error(t, err)
}
