// Package ticket mints ticket numbers and signed check-in tokens.
//
// A ticket number is an unguessable, globally unique identifier shown
// to the attendee. A check-in token is a signed payload (encoded into
// the QR code) binding the ticket to its registration, event, and
// user; it is tamper-evident but not encrypted.
package ticket

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedToken is returned when a token cannot be parsed or its
// signature does not verify.
var ErrMalformedToken = errors.New("malformed check-in token")

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Issue returns a new ticket number: a millisecond timestamp prefix in
// base36 plus a random suffix. Collisions are ruled out by the store's
// unique index; the randomness makes numbers unguessable.
func Issue() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random suffix: %w", err)
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	return fmt.Sprintf("TKT-%s-%s", strings.ToUpper(ts), b32.EncodeToString(buf)), nil
}

// Claims is the payload carried by a check-in token.
type Claims struct {
	TicketNumber   string    `json:"ticket_number"`
	EventID        string    `json:"event_id"`
	UserID         string    `json:"user_id"`
	RegistrationID string    `json:"registration_id"`
	IssuedAt       time.Time `json:"-"`
}

// tokenClaims is the internal claims type used for JWT signing/parsing.
type tokenClaims struct {
	jwt.RegisteredClaims
	TicketNumber   string `json:"tkt"`
	EventID        string `json:"evt"`
	UserID         string `json:"usr"`
	RegistrationID string `json:"reg"`
}

// Signer mints and verifies check-in tokens with an HMAC secret.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner constructs a Signer. now may be nil, in which case
// time.Now is used.
func NewSigner(secret string, now func() time.Time) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("ticket signing secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Signer{secret: []byte(secret), now: now}, nil
}

// Mint produces a signed check-in token for the given claims.
func (s *Signer) Mint(c Claims) (string, error) {
	if c.TicketNumber == "" || c.EventID == "" || c.UserID == "" || c.RegistrationID == "" {
		return "", errors.New("mint token: all ids are required")
	}
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(s.now()),
		},
		TicketNumber:   c.TicketNumber,
		EventID:        c.EventID,
		UserID:         c.UserID,
		RegistrationID: c.RegistrationID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign check-in token: %w", err)
	}
	return token, nil
}

// Verify parses a token and checks its signature. It does not consult
// the store; single-use enforcement happens against the registration
// row, not the token.
func (s *Signer) Verify(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, ErrMalformedToken
	}
	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if parsed.TicketNumber == "" || parsed.EventID == "" ||
		parsed.UserID == "" || parsed.RegistrationID == "" {
		return Claims{}, ErrMalformedToken
	}
	c := Claims{
		TicketNumber:   parsed.TicketNumber,
		EventID:        parsed.EventID,
		UserID:         parsed.UserID,
		RegistrationID: parsed.RegistrationID,
	}
	if parsed.IssuedAt != nil {
		c.IssuedAt = parsed.IssuedAt.Time
	}
	return c, nil
}
