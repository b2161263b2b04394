package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrInvalidTTL       = errors.New("token ttl must be positive")
	ErrEmptySubject     = errors.New("token subject is empty")
)

// Claims carries the registered claims of every issued token. Access and
// refresh tokens share this shape and differ only in lifetime.
type Claims struct {
	jwt.RegisteredClaims
}

// Codec issues and verifies HS512 bearer tokens.
type Codec struct {
	key    SigningKey
	now    func() time.Time
	parser *jwt.Parser
}

type CodecOption func(*Codec)

// WithClock replaces the wall clock used for issued-at, expiry and expiry checks.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.now = now
	}
}

func NewCodec(key SigningKey, opts ...CodecOption) *Codec {
	c := &Codec{
		key: key,
		now: time.Now,
		// Expiry is checked by IsExpired against the codec clock, so the
		// parser only verifies structure, algorithm and signature.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
			jwt.WithoutClaimsValidation(),
			jwt.WithStrictDecoding(),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Issue signs a token for subject that expires ttl after the current second.
func (c *Codec) Issue(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}
	if ttl <= 0 {
		return "", ErrInvalidTTL
	}

	issuedAt := c.now().Truncate(time.Second)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString([]byte(c.key))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// parse verifies the signature before any claim is read.
func (c *Codec) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := c.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(c.key), nil
	})
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenMalformed) && c.signatureOnlyDamaged(tokenString):
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}

// signatureOnlyDamaged reports whether the header and payload segments are
// well formed, so a decode failure must lie in the signature segment.
func (c *Codec) signatureOnlyDamaged(tokenString string) bool {
	_, _, err := c.parser.ParseUnverified(tokenString, &Claims{})
	return err == nil
}

// ExtractSubject returns the subject of an authentic token. Expired tokens
// still yield their subject.
func (c *Codec) ExtractSubject(tokenString string) (string, error) {
	claims, err := c.parse(tokenString)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrMalformedToken)
	}
	return claims.Subject, nil
}

// Expiry returns the verified expiry timestamp of a token.
func (c *Codec) Expiry(tokenString string) (time.Time, error) {
	claims, err := c.parse(tokenString)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("%w: missing expiry", ErrMalformedToken)
	}
	return claims.ExpiresAt.Time, nil
}

// IsExpired reports whether the token expiry is at or before now. Tokens
// that fail verification count as expired.
func (c *Codec) IsExpired(tokenString string) bool {
	exp, err := c.Expiry(tokenString)
	if err != nil {
		return true
	}
	return !exp.After(c.now())
}

// ValidateFor reports whether the token belongs to expectedSubject and is
// still live.
func (c *Codec) ValidateFor(tokenString, expectedSubject string) bool {
	subject, err := c.ExtractSubject(tokenString)
	if err != nil {
		return false
	}
	return subject == expectedSubject && !c.IsExpired(tokenString)
}
