package auth

import (
	"fmt"
	"net/url"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ValidateAuthToken validates a bearer JWT issued by the external Auth Provider
// using its published JWKS and returns the token's claims. baseURL is the
// provider's base URL (config AuthJWKSBaseURL).
func ValidateAuthToken(baseURL, tokenString string) (jwt.MapClaims, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("auth provider base URL is not set")
	}
	jwksURL := baseURL + "/.well-known/jwks.json"

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	expectedIssuer := u.Scheme + "://" + u.Host

	jwks, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, err
	}

	token, err := jwt.Parse(tokenString, jwks.Keyfunc,
		jwt.WithIssuer(expectedIssuer),
		jwt.WithValidMethods([]string{"EdDSA"}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// UserIDFromClaims returns the stable principal id from claims ("sub" or "id").
func UserIDFromClaims(claims jwt.MapClaims) string {
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub
	}
	if id, ok := claims["id"].(string); ok && id != "" {
		return id
	}
	return ""
}
