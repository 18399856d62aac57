package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDurationToken(t *testing.T) {
	for _, tok := range AllDurations() {
		got, err := ParseDurationToken(string(tok))
		require.NoError(t, err)
		assert.Equal(t, tok, got)
	}

	_, err := ParseDurationToken("permanent")
	ve, ok := IsValidation(err)
	require.True(t, ok, "expected a validation error")
	assert.Equal(t, ReasonInvalidDuration, ve.Reason)

	d, ok := Duration7d.Duration()
	require.True(t, ok)
	assert.Equal(t, 168*time.Hour, d)
}

func TestLink_ExpiredAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	link := Link{ExpiresAt: now.Add(time.Hour), Status: LinkActive}

	assert.False(t, link.ExpiredAt(now))
	assert.True(t, link.ExpiredAt(now.Add(time.Hour)), "expiry is inclusive at expiresAt")
	assert.Equal(t, LinkExpired, link.EffectiveStatus(now.Add(2*time.Hour)))

	link.Status = LinkExpired
	assert.True(t, link.ExpiredAt(now), "persisted status wins over the clock")
}

func TestOptionalIdentity(t *testing.T) {
	assert.True(t, Guest().IsGuest())
	assert.True(t, Authenticated(Identity{}).IsGuest(), "empty id is a guest")

	opt := Authenticated(Identity{ID: "u1", Handle: "ama"})
	id, ok := opt.Get()
	require.True(t, ok)
	assert.Equal(t, "ama", id.Handle)
	assert.Equal(t, "u1", opt.ID())
}

func TestValidationError(t *testing.T) {
	err := NewValidationError(ReasonContentTooLong, "5001 characters")
	assert.EqualError(t, err, "validation failed: content_too_long: 5001 characters")

	wrapped := errors.Join(errors.New("submit"), err)
	ve, ok := IsValidation(wrapped)
	require.True(t, ok)
	assert.Equal(t, ReasonContentTooLong, ve.Reason)
}

func TestParseSection(t *testing.T) {
	for _, s := range []string{"inbox", "public", "favorite"} {
		got, err := ParseSection(s)
		require.NoError(t, err)
		assert.Equal(t, MessageStatus(s), got)
	}

	_, err := ParseSection("deleted")
	ve, ok := IsValidation(err)
	require.True(t, ok, "deleted is not a section")
	assert.Equal(t, ReasonInvalidSection, ve.Reason)
}
