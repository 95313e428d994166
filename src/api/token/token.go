// Package token issues and verifies the capability tokens embedded in the
// moderation links. A token names one submission; the endpoint it is
// presented to decides the action, so the same token serves both links.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bigpicture/pujo-pictures/src/api/apperr"
)

// DefaultTTL is how long a moderation link stays valid.
const DefaultTTL = 7 * 24 * time.Hour

const issuer = "pujo-pictures"

type claims struct {
	SubmissionID string `json:"submissionId"`
	jwt.RegisteredClaims
}

type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue signs a token for submissionID and returns it with its expiry.
func (m *Manager) Issue(submissionID string) (string, time.Time, error) {
	if len(m.secret) == 0 {
		return "", time.Time{}, errors.New("jwt secret is empty")
	}
	if strings.TrimSpace(submissionID) == "" {
		return "", time.Time{}, errors.New("submission id is empty")
	}

	now := m.now().UTC()
	exp := now.Add(m.ttl)
	c := claims{
		SubmissionID: submissionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   submissionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature and expiry and returns the submission id.
func (m *Manager) Verify(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperr.InvalidToken(errors.New("empty token"))
	}

	c := &claims{}
	tok, err := jwt.ParseWithClaims(raw, c, func(_ *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		// Expiry is only reported once the signature checked out.
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return "", apperr.ExpiredToken(err)
		}
		return "", apperr.InvalidToken(err)
	}
	// Links signed by the first release carry no issuer and stay valid.
	if c.Issuer != "" && c.Issuer != issuer {
		return "", apperr.InvalidToken(fmt.Errorf("unexpected issuer %q", c.Issuer))
	}
	if tok == nil || !tok.Valid || strings.TrimSpace(c.SubmissionID) == "" {
		return "", apperr.InvalidToken(errors.New("token has no submission id"))
	}
	return c.SubmissionID, nil
}
