// File: config.go

package charon

import (
	"fmt"
	"net/http"
	"time"
)

// Default durations and names. One constructor returns sane values, and
// every field remains overridable.
const (
	DefaultAccessTokenTTL  = 900 * time.Second
	DefaultRefreshTokenTTL = 60 * 24 * time.Hour
	DefaultSessionTTL      = 365 * 24 * time.Hour

	DefaultAccessCookieName  = "_access_token_signature"
	DefaultRefreshCookieName = "_refresh_token_signature"

	DefaultKeyPrefix = "charon"
)

// CookieOpts captures the subset of http.Cookie fields hosts need to
// configure: http_only, same_site, secure, plus path and domain.
type CookieOpts struct {
	HTTPOnly bool
	SameSite http.SameSite
	Secure   bool
	Path     string
	Domain   string
}

// DefaultCookieOpts returns hardened defaults: HTTP-only, SameSite=Strict,
// Secure.
func DefaultCookieOpts() CookieOpts {
	return CookieOpts{
		HTTPOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   true,
		Path:     "/",
	}
}

// KeyGetter resolves the current signing or HMAC key. It is a function
// rather than a static value so a host can rotate keys without recompiling
// or redeploying; both the token factory and the store's at-rest integrity
// layer take one of these.
type KeyGetter func() ([]byte, error)

// Config is charon's configuration surface. Loading it from a file or
// environment is a host concern; hosts build one of these however they
// see fit and pass it to NewEngine.
type Config struct {
	// TokenIssuer is placed in every token's "iss" claim. Required.
	TokenIssuer string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	SessionTTL      time.Duration

	AccessCookieName  string
	RefreshCookieName string
	AccessCookieOpts  CookieOpts
	RefreshCookieOpts CookieOpts

	// KeyPrefix namespaces the store keys: "<prefix>.s.<uid>.<type>" etc.
	KeyPrefix string

	// SigningKey resolves the HMAC key used by the token factory.
	SigningKey KeyGetter

	// AtRestKey resolves the HMAC key used for the store's at-rest integrity
	// prefix. May be the same getter as SigningKey, but is kept separate so
	// a compromised signing key doesn't also open the store.
	AtRestKey KeyGetter
}

// DefaultConfig returns a Config with every duration and name defaulted,
// and both key getters resolving to the given symmetric key. Callers that
// need independent signing/at-rest keys or rotation should build a Config
// by hand and supply their own KeyGetter values.
func DefaultConfig(issuer string, symmetricKey []byte) Config {
	staticKey := func() ([]byte, error) { return symmetricKey, nil }
	return Config{
		TokenIssuer:       issuer,
		AccessTokenTTL:    DefaultAccessTokenTTL,
		RefreshTokenTTL:   DefaultRefreshTokenTTL,
		SessionTTL:        DefaultSessionTTL,
		AccessCookieName:  DefaultAccessCookieName,
		RefreshCookieName: DefaultRefreshCookieName,
		AccessCookieOpts:  DefaultCookieOpts(),
		RefreshCookieOpts: DefaultCookieOpts(),
		KeyPrefix:         DefaultKeyPrefix,
		SigningKey:        staticKey,
		AtRestKey:         staticKey,
	}
}

// Validate checks the handful of configuration errors that must be fatal at
// bootstrap: a missing required key refuses to start rather than run with
// an unusable configuration.
func (c Config) Validate() error {
	if c.TokenIssuer == "" {
		return fmt.Errorf("charon: config: token_issuer is required")
	}
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("charon: config: access_token_ttl must be positive")
	}
	if c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("charon: config: refresh_token_ttl must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("charon: config: session_ttl must be positive")
	}
	if c.SigningKey == nil {
		return fmt.Errorf("charon: config: signing_key getter is required")
	}
	if c.AtRestKey == nil {
		return fmt.Errorf("charon: config: at_rest_key getter is required")
	}
	return nil
}
