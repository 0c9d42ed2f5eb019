package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticator_Disabled(t *testing.T) {
	a := NewAuthenticator("", "")
	assert.False(t, a.Enabled())

	for _, cred := range []string{"", "anything", "a.b.c"} {
		p, err := a.Authenticate(cred)
		require.NoError(t, err)
		assert.Equal(t, SubjectAnonymous, p.Subject)
		assert.Equal(t, MethodNone, p.Method)
	}
}

func TestAuthenticator_Authenticate(t *testing.T) {
	now := time.Now()
	valid := mint(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "agent", "exp": now.Add(time.Minute).Unix()})
	noSub := mint(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"iat": now.Unix()})

	tests := []struct {
		name        string
		secret      string
		apiKey      string
		credential  string
		wantSubject string
		wantMethod  Method
		wantErr     bool
	}{
		{name: "jwt only, valid token", secret: testSecret, credential: valid, wantSubject: "agent", wantMethod: MethodJWT},
		{name: "jwt only, token without sub", secret: testSecret, credential: noSub, wantSubject: SubjectAnonymous, wantMethod: MethodJWT},
		{name: "jwt only, garbage", secret: testSecret, credential: "garbage", wantErr: true},
		{name: "jwt only, missing credential", secret: testSecret, credential: "", wantErr: true},
		{name: "api key only, match", apiKey: "k-123", credential: "k-123", wantSubject: SubjectAPIKey, wantMethod: MethodAPIKey},
		{name: "api key only, mismatch", apiKey: "k-123", credential: "k-124", wantErr: true},
		{name: "api key only, jwt presented", apiKey: "k-123", credential: valid, wantErr: true},
		{name: "both, jwt wins", secret: testSecret, apiKey: "k-123", credential: valid, wantSubject: "agent", wantMethod: MethodJWT},
		{name: "both, falls back to key", secret: testSecret, apiKey: "k-123", credential: "k-123", wantSubject: SubjectAPIKey, wantMethod: MethodAPIKey},
		{name: "both, neither matches", secret: testSecret, apiKey: "k-123", credential: "nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAuthenticator(tt.secret, tt.apiKey).WithClock(func() time.Time { return now })
			p, err := a.Authenticate(tt.credential)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnauthorized)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSubject, p.Subject)
			assert.Equal(t, tt.wantMethod, p.Method)
		})
	}
}

func TestAuthenticator_ExpiryUsesClock(t *testing.T) {
	issued := time.Now()
	tok := mint(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "x", "exp": issued.Add(time.Minute).Unix()})

	a := NewAuthenticator(testSecret, "").WithClock(func() time.Time { return issued })
	_, err := a.Authenticate(tok)
	require.NoError(t, err)

	a.WithClock(func() time.Time { return issued.Add(2 * time.Minute) })
	_, err = a.Authenticate(tok)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestCredentialFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "bearer", headers: map[string]string{"Authorization": "Bearer tok"}, want: "tok"},
		{name: "api key header", headers: map[string]string{"x-api-key": "key"}, want: "key"},
		{name: "bearer preferred", headers: map[string]string{"Authorization": "Bearer tok", "X-API-Key": "key"}, want: "tok"},
		{name: "none", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/ingest/logs", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, CredentialFromRequest(r))
		})
	}
}

func TestAuthenticateQuery(t *testing.T) {
	a := NewAuthenticator("", "ws-key")

	r := httptest.NewRequest(http.MethodGet, "/ws/logs?token=ws-key", nil)
	p, err := a.AuthenticateQuery(r)
	require.NoError(t, err)
	assert.Equal(t, SubjectAPIKey, p.Subject)

	r = httptest.NewRequest(http.MethodGet, "/ws/logs", nil)
	_, err = a.AuthenticateQuery(r)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Header credentials are not consulted on upgrades.
	r.Header.Set("X-API-Key", "ws-key")
	_, err = a.AuthenticateQuery(r)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{Subject: "s", Method: MethodJWT})
	p, ok := PrincipalFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "s", p.Subject)
}
