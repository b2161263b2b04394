package tokens

import (
	"crypto"
	_ "crypto/sha512"
	"errors"
	"log/slog"
)

var ErrHashUnavailable = errors.New("sha-512 is not available")

// SigningKey is the HMAC key shared by every token the service issues.
// It never prints its bytes.
type SigningKey []byte

func (k SigningKey) String() string {
	return "[REDACTED]"
}

func (k SigningKey) LogValue() slog.Value {
	return slog.StringValue("[REDACTED]")
}

func (k SigningKey) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

// DeriveKey hashes the UTF-8 passphrase with SHA-512. The same passphrase
// always yields the same 64-byte key, so tokens survive restarts.
func DeriveKey(passphrase string) (SigningKey, error) {
	if !crypto.SHA512.Available() {
		return nil, ErrHashUnavailable
	}
	h := crypto.SHA512.New()
	h.Write([]byte(passphrase))
	return SigningKey(h.Sum(nil)), nil
}

// MustDeriveKey is DeriveKey for process startup. It panics when the key
// cannot be built.
func MustDeriveKey(passphrase string) SigningKey {
	key, err := DeriveKey(passphrase)
	if err != nil {
		panic("tokens: " + err.Error())
	}
	return key
}
