package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const tokenIssuer = "tracker-go"

// TokenSigner mints short-lived bearer tokens for collection requests.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenSigner returns a signer using apiKey as the HS256 secret.
func NewTokenSigner(apiKey string, ttl time.Duration) (*TokenSigner, error) {
	if apiKey == "" {
		return nil, errors.New("empty API key")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenSigner{secret: []byte(apiKey), ttl: ttl, now: time.Now}, nil
}

// Sign creates a token scoped to siteID and the endpoint being called.
func (s *TokenSigner) Sign(siteID, endpoint string) (string, error) {
	now := s.now().UTC()
	claims := jwt.MapClaims{
		"iss":      tokenIssuer,
		"sub":      siteID,
		"endpoint": endpoint,
		"jti":      GenerateULID(),
		"iat":      now.Unix(),
		"exp":      now.Add(s.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify validates a token minted by a signer sharing the same key and
// returns its claims.
func (s *TokenSigner) Verify(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
