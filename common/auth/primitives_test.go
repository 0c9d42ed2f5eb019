package auth

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBase64URL_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		encoded string
	}{
		{name: "empty", input: []byte{}, encoded: ""},
		{name: "one byte", input: []byte{0xfb}, encoded: "-w"},
		{name: "url-unsafe alphabet", input: []byte{0xfb, 0xff, 0xbf}, encoded: "-_-_"},
		{name: "header", input: []byte(`{"alg":"HS256","typ":"JWT"}`), encoded: "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.encoded, Base64URLEncode(tt.input))
			decoded, err := Base64URLDecode(tt.encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.input, decoded)
		})
	}
}

func TestBase64URLDecode_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "padding", input: "-w=="},
		{name: "standard alphabet", input: "+/+/"},
		{name: "non-canonical trailing bits", input: "-x"},
		{name: "garbage", input: "!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Base64URLDecode(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestHMACSHA256_KnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	got := HMACSHA256([]byte("Jefe"), []byte("what do ya want for nothing?"))
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", hex.EncodeToString(got))
}

func TestHMACSHA256_KeySensitive(t *testing.T) {
	msg := []byte("header.payload")
	assert.NotEqual(t, HMACSHA256([]byte("a"), msg), HMACSHA256([]byte("b"), msg))
	assert.Len(t, HMACSHA256(nil, msg), 32)
}

func TestConstantTimeEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b []byte
		want bool
	}{
		{name: "equal", a: []byte("secret"), b: []byte("secret"), want: true},
		{name: "both empty", a: []byte{}, b: nil, want: true},
		{name: "last byte differs", a: []byte("secret"), b: []byte("secreT"), want: false},
		{name: "first byte differs", a: []byte("secret"), b: []byte("Secret"), want: false},
		{name: "prefix", a: []byte("secret"), b: []byte("secre"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConstantTimeEqual(tt.a, tt.b))
		})
	}
}
