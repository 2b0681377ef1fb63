package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/astepanov/syncbox/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("u1", "admin", testSecret, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "admin", claims.Role)
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := GenerateToken("u1", "user", testSecret, time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(token, []byte("other-secret"))
	assert.True(t, errors.Is(err, common.ErrInvalidToken))
}

func TestParseToken_Expired(t *testing.T) {
	token, err := GenerateToken("u1", "user", testSecret, -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(token, testSecret)
	assert.True(t, errors.Is(err, common.ErrTokenExpired))
}

func TestParseToken_Garbage(t *testing.T) {
	_, err := ParseToken("not.a.token", testSecret)
	assert.True(t, errors.Is(err, common.ErrInvalidToken))
}
