package password

import (
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestNewBcryptHasher_Cost(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, bcrypt.DefaultCost},
		{1, bcrypt.MinCost},
		{bcrypt.MinCost, bcrypt.MinCost},
		{12, 12},
		{99, bcrypt.MaxCost},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NewBcryptHasher(tt.in).Cost(), "cost %d", tt.in)
	}
}

func TestBcryptHasher_HashAndMatch(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	raw := gofakeit.Password(true, true, true, true, false, 24)

	hash, err := h.Hash(raw)
	require.NoError(t, err)

	assert.NotEqual(t, raw, hash)
	assert.True(t, strings.HasPrefix(hash, "$2a$"))
	assert.True(t, h.Matches(raw, hash))
	assert.False(t, h.Matches(raw+"x", hash))
	assert.False(t, h.Matches("", hash))
}

func TestBcryptHasher_Salted(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	first, err := h.Hash("pw1")
	require.NoError(t, err)
	second, err := h.Hash("pw1")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "same password must hash differently")
	assert.True(t, h.Matches("pw1", first))
	assert.True(t, h.Matches("pw1", second))
}

func TestBcryptHasher_TooLong(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	_, err := h.Hash(strings.Repeat("a", MaxLength))
	require.NoError(t, err)

	_, err = h.Hash(strings.Repeat("a", MaxLength+1))
	assert.ErrorIs(t, err, ErrTooLong)

	// 37 two-byte runes stay under 72 runes but exceed 72 bytes.
	_, err = h.Hash(strings.Repeat("é", 37))
	assert.ErrorIs(t, err, ErrTooLong)
}

func TestBcryptHasher_MalformedHash(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	assert.False(t, h.Matches("pw1", "not-a-bcrypt-hash"))
	assert.False(t, h.Matches("pw1", ""))
}
