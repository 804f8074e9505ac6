// Package token holds the session token used on every query request together
// with the long-lived refresh credential that obtains new ones.
package token

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lukasbauer/voxquery/internal/model"
)

// DefaultSafetyMargin is subtracted from a token's expiry when judging validity.
const DefaultSafetyMargin = 30 * time.Second

// expiryLayouts lists the timestamp formats accepted for expiresAt.
var expiryLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

type entry struct {
	token     model.Token
	expiresAt time.Time
	hasExpiry bool
}

// Store is safe for concurrent use. The current token is replaced as a whole,
// never mutated, so readers always see a consistent value.
type Store struct {
	refreshToken string
	margin       time.Duration
	current      atomic.Pointer[entry]
	now          func() time.Time
}

// NewStore creates a store with no session token.
func NewStore(refreshToken string, margin time.Duration) *Store {
	if margin < 0 {
		margin = DefaultSafetyMargin
	}
	return &Store{
		refreshToken: refreshToken,
		margin:       margin,
		now:          time.Now,
	}
}

// RefreshToken returns the refresh credential.
func (s *Store) RefreshToken() string {
	return s.refreshToken
}

// Replace stores t as the current session token.
func (s *Store) Replace(t model.Token) error {
	if t.Token == "" {
		return errors.New("token response has no token")
	}
	expiresAt, ok, err := ParseExpiry(t)
	if err != nil {
		return err
	}
	s.current.Store(&entry{token: t, expiresAt: expiresAt, hasExpiry: ok})
	return nil
}

// Current returns the stored token, if any.
func (s *Store) Current() (model.Token, bool) {
	e := s.current.Load()
	if e == nil {
		return model.Token{}, false
	}
	return e.token, true
}

// SessionToken returns the raw session token or "".
func (s *Store) SessionToken() string {
	t, _ := s.Current()
	return t.Token
}

// ExpiresAt returns the recorded expiry of the current token.
func (s *Store) ExpiresAt() (time.Time, bool) {
	e := s.current.Load()
	if e == nil || !e.hasExpiry {
		return time.Time{}, false
	}
	return e.expiresAt, true
}

// Valid reports whether a token is present and not within the safety margin
// of its expiry. A token without a recorded expiry is always valid.
func (s *Store) Valid() bool {
	return s.ValidAt(s.now())
}

// ValidAt is Valid evaluated at now.
func (s *Store) ValidAt(now time.Time) bool {
	e := s.current.Load()
	if e == nil {
		return false
	}
	if !e.hasExpiry {
		return true
	}
	return now.Before(e.expiresAt.Add(-s.margin))
}

// ParseExpiry works out when t expires. The expiresAt field wins; otherwise
// the exp claim of a JWT session token is used. ok is false when neither is
// available.
func ParseExpiry(t model.Token) (expiresAt time.Time, ok bool, err error) {
	if t.ExpiresAt != "" {
		for _, layout := range expiryLayouts {
			if ts, perr := time.Parse(layout, t.ExpiresAt); perr == nil {
				return ts, true, nil
			}
		}
		return time.Time{}, false, fmt.Errorf("unrecognised expiresAt %q", t.ExpiresAt)
	}

	claims := jwt.MapClaims{}
	if _, _, perr := jwt.NewParser().ParseUnverified(t.Token, claims); perr != nil {
		return time.Time{}, false, nil
	}
	exp, cerr := claims.GetExpirationTime()
	if cerr != nil || exp == nil {
		return time.Time{}, false, nil
	}
	return exp.Time, true, nil
}
