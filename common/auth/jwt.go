package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// AlgHS256 is the only accepted signing algorithm.
const AlgHS256 = "HS256"

// maxExpirySeconds bounds "exp" to an instant time.Time can still compare.
const maxExpirySeconds = 1 << 62

var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrMalformedToken       = errors.New("malformed token")
	ErrUnsupportedAlgorithm = errors.New("unsupported token algorithm")
	ErrBadSignature         = errors.New("token signature mismatch")
	ErrTokenExpired         = errors.New("token expired")
)

// Claims is the decoded token payload.
type Claims map[string]any

// Subject returns the "sub" claim, or "" if absent or not a string.
func (c Claims) Subject() string {
	s, _ := c["sub"].(string)
	return s
}

// ExpiresAt returns the "exp" claim. ok is false when the claim is absent.
func (c Claims) ExpiresAt() (exp time.Time, ok bool, err error) {
	raw, present := c["exp"]
	if !present || raw == nil {
		return time.Time{}, false, nil
	}
	n, isNum := raw.(json.Number)
	if !isNum {
		return time.Time{}, false, fmt.Errorf("%w: exp is not numeric", ErrMalformedToken)
	}
	secs, err := n.Float64()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: exp: %v", ErrMalformedToken, err)
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}, false, fmt.Errorf("%w: exp is not finite", ErrMalformedToken)
	}
	// Clamp before the integer conversion so far-future values do not wrap.
	switch {
	case secs >= maxExpirySeconds:
		return time.Unix(maxExpirySeconds, 0), true, nil
	case secs <= -maxExpirySeconds:
		return time.Unix(-maxExpirySeconds, 0), true, nil
	}
	whole := int64(secs)
	frac := time.Duration((secs - float64(whole)) * float64(time.Second))
	return time.Unix(whole, 0).Add(frac), true, nil
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ,omitempty"`
}

// VerifyHS256 checks a compact header.payload.signature token against secret
// at instant now and returns its claims.
func VerifyHS256(token string, secret []byte, now time.Time) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, len(parts))
	}

	headerJSON, err := Base64URLDecode(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedToken, err)
	}
	var header tokenHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedToken, err)
	}
	if header.Alg != AlgHS256 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, header.Alg)
	}

	sig, err := Base64URLDecode(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrMalformedToken, err)
	}
	expected := HMACSHA256(secret, []byte(parts[0]+"."+parts[1]))
	if !ConstantTimeEqual(sig, expected) {
		return nil, ErrBadSignature
	}

	payloadJSON, err := Base64URLDecode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}
	claims := Claims{}
	dec := json.NewDecoder(bytes.NewReader(payloadJSON))
	dec.UseNumber()
	if err := dec.Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}

	exp, hasExp, err := claims.ExpiresAt()
	if err != nil {
		return nil, err
	}
	if hasExp && now.After(exp) {
		return nil, ErrTokenExpired
	}

	return claims, nil
}

// SignHS256 produces a compact HS256 token for claims.
func SignHS256(claims Claims, secret []byte) (string, error) {
	header, err := json.Marshal(tokenHeader{Alg: AlgHS256, Typ: "JWT"})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}
	signingInput := Base64URLEncode(header) + "." + Base64URLEncode(payload)
	return signingInput + "." + Base64URLEncode(HMACSHA256(secret, []byte(signingInput))), nil
}
