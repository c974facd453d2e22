package jwt

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestRSASigner_SignAndVerify(t *testing.T) {
	signer, err := NewRSASigner(2048, "kid-1")
	require.NoError(t, err)
	require.Equal(t, "kid-1", signer.KID())

	now := time.Now()
	token, err := signer.Sign(context.Background(), map[string]any{
		"iss": "https://auth.example.com",
		"sub": "user-1",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	parsed, err := jwtlib.Parse(token, func(tok *jwtlib.Token) (any, error) {
		require.Equal(t, "kid-1", tok.Header["kid"])
		return signer.PublicKey(), nil
	}, jwtlib.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	claims := parsed.Claims.(jwtlib.MapClaims)
	require.Equal(t, "user-1", claims["sub"])
}

func TestNewRSASigner_RejectsWeakKeys(t *testing.T) {
	_, err := NewRSASigner(1024, "kid")
	require.Error(t, err)
}

func TestJWKSJSON(t *testing.T) {
	a, err := NewRSASigner(2048, "kid-a")
	require.NoError(t, err)
	b, err := NewRSASigner(2048, "kid-b")
	require.NoError(t, err)

	doc, err := JWKSJSON(map[string]*rsa.PublicKey{"kid-a": a.PublicKey(), "kid-b": b.PublicKey()})
	require.NoError(t, err)

	var parsed struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(doc, &parsed))
	require.Len(t, parsed.Keys, 2)
	require.Equal(t, "kid-a", parsed.Keys[0]["kid"])
	require.Equal(t, "kid-b", parsed.Keys[1]["kid"])
	for _, k := range parsed.Keys {
		require.Equal(t, "RSA", k["kty"])
		require.Equal(t, "sig", k["use"])
	}
}
