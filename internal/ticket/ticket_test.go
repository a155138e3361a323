package ticket

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClaims() Claims {
	return Claims{
		TicketNumber:   "TKT-ABC-XYZ",
		EventID:        "event-1",
		UserID:         "user-1",
		RegistrationID: "reg-1",
	}
}

func TestIssue_FormatAndUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		number, err := Issue()
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(number, "TKT-"), number)
		assert.False(t, seen[number], "duplicate ticket number %s", number)
		seen[number] = true
	}
}

func TestSigner_RoundTrip(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s, err := NewSigner("secret", func() time.Time { return now })
	require.NoError(t, err)

	token, err := s.Mint(testClaims())
	require.NoError(t, err)

	got, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "TKT-ABC-XYZ", got.TicketNumber)
	assert.Equal(t, "event-1", got.EventID)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "reg-1", got.RegistrationID)
	assert.Equal(t, now.Unix(), got.IssuedAt.Unix())
}

func TestSigner_RejectsTampering(t *testing.T) {
	s, err := NewSigner("secret", nil)
	require.NoError(t, err)

	token, err := s.Mint(testClaims())
	require.NoError(t, err)

	tampered := token[:len(token)-3] + "abc"
	_, err = s.Verify(tampered)
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestSigner_RejectsWrongSecret(t *testing.T) {
	minter, err := NewSigner("secret-a", nil)
	require.NoError(t, err)
	verifier, err := NewSigner("secret-b", nil)
	require.NoError(t, err)

	token, err := minter.Mint(testClaims())
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestSigner_RejectsGarbage(t *testing.T) {
	s, err := NewSigner("secret", nil)
	require.NoError(t, err)

	for _, raw := range []string{"", "   ", "not-a-token", "a.b.c"} {
		_, err := s.Verify(raw)
		assert.ErrorIs(t, err, ErrMalformedToken, "input %q", raw)
	}
}

func TestSigner_MintRequiresAllIDs(t *testing.T) {
	s, err := NewSigner("secret", nil)
	require.NoError(t, err)

	c := testClaims()
	c.RegistrationID = ""
	_, err = s.Mint(c)
	assert.Error(t, err)
}

func TestNewSigner_RequiresSecret(t *testing.T) {
	_, err := NewSigner("  ", nil)
	assert.Error(t, err)
}
