// Package jwt provides RSA token signing and JWKS publication for phonekit
// session tokens.
package jwt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Signer signs a claims map and returns a compact JWT.
type Signer interface {
	Sign(ctx context.Context, claims map[string]any) (string, error)
	KID() string
}

// RSASigner signs tokens with RS256 and tags them with a key id.
type RSASigner struct {
	kid string
	key *rsa.PrivateKey
}

// NewRSASigner generates a fresh RSA key of the given size. Keys below
// 2048 bits are rejected.
func NewRSASigner(bits int, kid string) (*RSASigner, error) {
	if bits < 2048 {
		return nil, fmt.Errorf("rsa key size %d is below the 2048-bit minimum", bits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return &RSASigner{kid: kid, key: key}, nil
}

// ParseRSASignerPEM loads a PKCS1 or PKCS8 encoded RSA private key.
func ParseRSASignerPEM(pemBytes []byte, kid string) (*RSASigner, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &RSASigner{kid: kid, key: key}, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return &RSASigner{kid: kid, key: key}, nil
}

func (s *RSASigner) KID() string { return s.kid }

// PublicKey returns the public half of the signing key.
func (s *RSASigner) PublicKey() *rsa.PublicKey { return &s.key.PublicKey }

// Sign builds an RS256 token from the claims map. The kid header is always set.
func (s *RSASigner) Sign(ctx context.Context, claims map[string]any) (string, error) {
	_ = ctx
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, jwtlib.MapClaims(claims))
	tok.Header["kid"] = s.kid
	return tok.SignedString(s.key)
}
