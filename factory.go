// File: factory.go

package charon

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenFactory is the signer/verifier contract. Sign produces the
// three-segment header.payload.signature wire format; Verify checks only
// signature and structural form, never claim semantics, which belongs to
// the pipeline.
type TokenFactory interface {
	Sign(payload Payload) (string, error)
	Verify(token string) (Payload, error)
}

// JWTFactory implements TokenFactory over github.com/golang-jwt/jwt/v5 with
// HMAC-SHA256.
type JWTFactory struct {
	key KeyGetter
}

// NewJWTFactory builds a TokenFactory whose signing key is resolved fresh
// on every Sign/Verify call via key, permitting rotation without
// recompilation.
func NewJWTFactory(key KeyGetter) *JWTFactory {
	return &JWTFactory{key: key}
}

// Sign signs payload as HS256 claims and returns the opaque
// header.payload.signature token.
func (f *JWTFactory) Sign(payload Payload) (string, error) {
	key, err := f.key()
	if err != nil {
		return "", fmt.Errorf("charon: factory: resolve signing key: %w", err)
	}
	if len(key) == 0 {
		return "", fmt.Errorf("%w: empty signing key", ErrUnknownSigningKey)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(payload))
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return signed, nil
}

// Verify validates the token's signature and structural form and returns
// its claim payload. It does not check iat/nbf/exp, sub/sid/styp presence,
// or token kind; the pipeline owns that.
func (f *JWTFactory) Verify(tokenString string) (Payload, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformedToken)
	}

	key, err := f.key()
	if err != nil {
		return nil, fmt.Errorf("charon: factory: resolve signing key: %w", err)
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrMalformedToken, t.Header["alg"])
		}
		return key, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithoutClaimsValidation())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrMalformedToken)
	}

	return Payload(claims), nil
}
