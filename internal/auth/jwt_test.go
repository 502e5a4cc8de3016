package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticator_RoundTrip(t *testing.T) {
	a := NewAuthenticator("secret", time.Hour)

	token, err := a.GenerateToken("client-1")
	require.NoError(t, err)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "client-1", claims.ClientID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestAuthenticator_Rejects(t *testing.T) {
	a := NewAuthenticator("secret", time.Hour)

	otherKey, err := NewAuthenticator("other", time.Hour).GenerateToken("client-1")
	require.NoError(t, err)

	expired, err := NewAuthenticator("secret", time.Nanosecond).GenerateToken("client-1")
	require.NoError(t, err)
	time.Sleep(time.Second)

	noClient, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "wrong key", token: otherKey, wantErr: jwt.ErrTokenSignatureInvalid},
		{name: "expired", token: expired, wantErr: jwt.ErrTokenExpired},
		{name: "missing client id", token: noClient, wantErr: ErrMissingClientID},
		{name: "garbage", token: "not-a-token", wantErr: jwt.ErrTokenMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.ValidateToken(tt.token)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
