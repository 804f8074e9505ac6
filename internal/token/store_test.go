package token

import (
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lukasbauer/voxquery/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "user"}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

func TestStoreEmptyIsInvalid(t *testing.T) {
	s := NewStore("refresh", DefaultSafetyMargin)
	assert.False(t, s.Valid())
	assert.Equal(t, "", s.SessionToken())
	assert.Equal(t, "refresh", s.RefreshToken())
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestStoreValidity(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt string
		want      bool
	}{
		{name: "no expiry", expiresAt: "", want: true},
		{name: "far future RFC3339", expiresAt: "2026-01-02T11:00:00Z", want: true},
		{name: "ISO with millis", expiresAt: "2026-01-02T11:00:00.499Z", want: true},
		{name: "offset without colon", expiresAt: "2026-01-02T12:00:00+0100", want: true},
		{name: "inside margin", expiresAt: "2026-01-02T10:00:20Z", want: false},
		{name: "expired", expiresAt: "2026-01-02T09:00:00Z", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore("refresh", 30*time.Second)
			require.NoError(t, s.Replace(model.Token{Token: "opaque", ExpiresAt: tt.expiresAt}))
			assert.Equal(t, tt.want, s.ValidAt(now))
		})
	}
}

func TestStoreRejectsBadToken(t *testing.T) {
	s := NewStore("refresh", DefaultSafetyMargin)
	assert.Error(t, s.Replace(model.Token{}))
	assert.Error(t, s.Replace(model.Token{Token: "x", ExpiresAt: "next tuesday"}))
	_, ok := s.Current()
	assert.False(t, ok, "failed replace must leave the store untouched")
}

func TestStoreJWTExpiryFallback(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	s := NewStore("refresh", DefaultSafetyMargin)
	require.NoError(t, s.Replace(model.Token{Token: signedJWT(t, exp)}))

	got, ok := s.ExpiresAt()
	require.True(t, ok)
	assert.True(t, got.Equal(exp))
	assert.True(t, s.Valid())

	require.NoError(t, s.Replace(model.Token{Token: signedJWT(t, time.Now().Add(10*time.Second))}))
	assert.False(t, s.Valid(), "jwt expiring inside the margin is invalid")

	require.NoError(t, s.Replace(model.Token{Token: signedJWT(t, time.Time{})}))
	_, ok = s.ExpiresAt()
	assert.False(t, ok)
	assert.True(t, s.Valid())
}

func TestStoreConcurrentReplace(t *testing.T) {
	s := NewStore("refresh", DefaultSafetyMargin)
	tokens := []model.Token{
		{Token: "a", ExpiresAt: "2099-01-01T00:00:00Z"},
		{Token: "b", ExpiresAt: "2098-01-01T00:00:00Z"},
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = s.Replace(tokens[i%2])
		}(i)
		go func() {
			defer wg.Done()
			if tok, ok := s.Current(); ok {
				// Token and expiry always come from the same response.
				switch tok.Token {
				case "a":
					assert.Equal(t, tokens[0].ExpiresAt, tok.ExpiresAt)
				case "b":
					assert.Equal(t, tokens[1].ExpiresAt, tok.ExpiresAt)
				}
			}
		}()
	}
	wg.Wait()
}
