package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	tm := NewTokenManager([]byte("test-secret"), time.Hour)

	token, err := tm.Issue(42)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := tm.Verify(token)
	assert.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestVerifyWrongSecret(t *testing.T) {
	tm := NewTokenManager([]byte("test-secret"), time.Hour)
	other := NewTokenManager([]byte("other-secret"), time.Hour)

	token, err := tm.Issue(42)
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyMalformed(t *testing.T) {
	tm := NewTokenManager([]byte("test-secret"), time.Hour)

	for _, token := range []string{"", "garbage", "a.b.c", "eyJhbGciOiJub25lIn0.e30."} {
		_, err := tm.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
	}
}

func TestVerifyExpired(t *testing.T) {
	tm := NewTokenManager([]byte("test-secret"), -time.Minute)

	token, err := tm.Issue(42)
	require.NoError(t, err)

	_, err = tm.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyAllowExpired(t *testing.T) {
	tm := NewTokenManager([]byte("test-secret"), -time.Minute)

	token, err := tm.Issue(42)
	require.NoError(t, err)

	// Expired but authentic: accepted by the refresh path.
	userID, err := tm.VerifyAllowExpired(token)
	assert.NoError(t, err)
	assert.Equal(t, int64(42), userID)

	// Wrong signature is still rejected even with expiry ignored.
	other := NewTokenManager([]byte("other-secret"), -time.Minute)
	expired, err := other.Issue(42)
	require.NoError(t, err)

	_, err = tm.VerifyAllowExpired(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.True(t, CheckPassword(hash, "s3cret"))
	assert.False(t, CheckPassword(hash, "wrong"))
}
