package jwttoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "provote/pkg/domain"
	dErrors "provote/pkg/domain-errors"
)

func TestMintAndValidateRoundTrip(t *testing.T) {
	svc := NewService("test-signing-key")
	userID := id.NewUserID()

	token, err := svc.MintToken(userID, time.Hour)
	require.NoError(t, err)

	parsed, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, parsed)
}

func TestValidateExpiredToken(t *testing.T) {
	svc := NewService("test-signing-key")

	token, err := svc.MintToken(id.NewUserID(), -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidateWrongKey(t *testing.T) {
	token, err := NewService("key-one").MintToken(id.NewUserID(), time.Hour)
	require.NoError(t, err)

	_, err = NewService("key-two").ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidateGarbage(t *testing.T) {
	_, err := NewService("test-signing-key").ValidateToken("not-a-jwt")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
