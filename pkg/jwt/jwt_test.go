package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wesync/internal/entity"
)

func TestJWTManager_GenerateAndValidate(t *testing.T) {
	m := NewJWTManager("secret", time.Minute)

	token, err := m.GenerateAccessToken(entity.User{Id: "u1", Username: "alice"})
	require.NoError(t, err)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserId)
	assert.Equal(t, "alice", claims.Username)
}

func TestJWTManager_ValidateErrors(t *testing.T) {
	m := NewJWTManager("secret", time.Minute)
	other := NewJWTManager("other-secret", time.Minute)
	expired := NewJWTManager("secret", -time.Minute)

	foreign, err := other.GenerateAccessToken(entity.User{Id: "u1"})
	require.NoError(t, err)
	old, err := expired.GenerateAccessToken(entity.User{Id: "u1"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		token    string
		expected error
	}{
		{name: "garbage", token: "not-a-token", expected: ErrInvalidToken},
		{name: "wrong secret", token: foreign, expected: ErrInvalidToken},
		{name: "expired", token: old, expected: ErrExpiredToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ValidateAccessToken(tt.token)
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestInspect(t *testing.T) {
	valid, err := NewJWTManager("secret", time.Minute).GenerateAccessToken(entity.User{Id: "u1", Username: "alice"})
	require.NoError(t, err)
	old, err := NewJWTManager("secret", -time.Minute).GenerateAccessToken(entity.User{Id: "u1"})
	require.NoError(t, err)

	claims, err := Inspect(valid)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserId)

	_, err = Inspect(old)
	assert.ErrorIs(t, err, ErrExpiredToken)

	_, err = Inspect("")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = Inspect("a.b")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
