package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/lightwatch/lightwatch/common/httputil"
)

const (
	// APIKeyHeader carries the static shared key on HTTP requests.
	APIKeyHeader = "X-API-Key"
	// TokenQueryParam carries the credential on WebSocket upgrades.
	TokenQueryParam = "token"

	SubjectAnonymous = "anonymous"
	SubjectAPIKey    = "api_key"
)

// Method records which credential form admitted a principal.
type Method string

const (
	MethodNone   Method = "none"
	MethodJWT    Method = "jwt"
	MethodAPIKey Method = "api_key"
)

// Principal is the authenticated caller.
type Principal struct {
	Subject string
	Method  Method
	Claims  Claims
}

// Authenticator verifies an HS256 token or a static shared key. With neither
// configured every credential, including none, maps to the anonymous principal.
type Authenticator struct {
	secret []byte
	apiKey []byte
	now    func() time.Time
}

// NewAuthenticator builds an Authenticator. Empty values disable that form.
func NewAuthenticator(jwtSecret, apiKey string) *Authenticator {
	a := &Authenticator{now: time.Now}
	if jwtSecret != "" {
		a.secret = []byte(jwtSecret)
	}
	if apiKey != "" {
		a.apiKey = []byte(apiKey)
	}
	return a
}

// WithClock overrides the time source used for expiry checks.
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	a.now = now
	return a
}

// Enabled reports whether any credential form is configured.
func (a *Authenticator) Enabled() bool {
	return a.secret != nil || a.apiKey != nil
}

// Authenticate resolves credential to a principal. The token form is tried
// first, then the static key. Errors wrap ErrUnauthorized.
func (a *Authenticator) Authenticate(credential string) (Principal, error) {
	if !a.Enabled() {
		return Principal{Subject: SubjectAnonymous, Method: MethodNone}, nil
	}
	if credential == "" {
		return Principal{}, ErrUnauthorized
	}

	var tokenErr error
	if a.secret != nil {
		claims, err := VerifyHS256(credential, a.secret, a.now())
		if err == nil {
			sub := claims.Subject()
			if sub == "" {
				sub = SubjectAnonymous
			}
			return Principal{Subject: sub, Method: MethodJWT, Claims: claims}, nil
		}
		tokenErr = err
	}

	if a.apiKey != nil && ConstantTimeEqual([]byte(credential), a.apiKey) {
		return Principal{Subject: SubjectAPIKey, Method: MethodAPIKey}, nil
	}

	if tokenErr != nil {
		return Principal{}, errors.Join(ErrUnauthorized, tokenErr)
	}
	return Principal{}, ErrUnauthorized
}

// AuthenticateRequest reads the credential from "Authorization: Bearer" or
// X-API-Key, in that order.
func (a *Authenticator) AuthenticateRequest(r *http.Request) (Principal, error) {
	return a.Authenticate(CredentialFromRequest(r))
}

// AuthenticateQuery reads the credential from the token query parameter.
func (a *Authenticator) AuthenticateQuery(r *http.Request) (Principal, error) {
	return a.Authenticate(r.URL.Query().Get(TokenQueryParam))
}

// CredentialFromRequest returns the bearer token or API key header value.
func CredentialFromRequest(r *http.Request) string {
	if tok := httputil.BearerToken(r); tok != "" {
		return tok
	}
	return r.Header.Get(APIKeyHeader)
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
