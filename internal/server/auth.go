package server

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Scope is a permission granted to a token
type Scope string

const (
	// ScopeRead allows scans, process details and the event stream
	ScopeRead Scope = "read"
	// ScopeTerminate allows the kill endpoints
	ScopeTerminate Scope = "terminate"
)

// AllScopes are granted to the API key
var AllScopes = []Scope{ScopeRead, ScopeTerminate}

const tokenIssuer = "portguard"

// ParseScopes parses a comma separated scope list, e.g. "read,terminate"
func ParseScopes(s string) ([]Scope, error) {
	var scopes []Scope
	for _, part := range strings.Split(s, ",") {
		scope := Scope(strings.ToLower(strings.TrimSpace(part)))
		if scope == "" {
			continue
		}
		if !slices.Contains(AllScopes, scope) {
			return nil, fmt.Errorf("unknown scope %q", scope)
		}
		if !slices.Contains(scopes, scope) {
			scopes = append(scopes, scope)
		}
	}
	if len(scopes) == 0 {
		return nil, errors.New("at least one scope is required")
	}
	return scopes, nil
}

// JWTClaims represents the claims in a JWT token
type JWTClaims struct {
	jwt.RegisteredClaims
	Scopes []Scope `json:"scopes"`
}

// Allows reports whether the token grants scope
func (c *JWTClaims) Allows(scope Scope) bool {
	return slices.Contains(c.Scopes, scope)
}

// AuthService handles authentication
type AuthService struct {
	apiKey    string
	jwtSecret []byte
}

// NewAuthService creates a new auth service
func NewAuthService(apiKey, jwtSecret string) *AuthService {
	return &AuthService{
		apiKey:    apiKey,
		jwtSecret: []byte(jwtSecret),
	}
}

// ValidateAPIKey validates an API key
func (a *AuthService) ValidateAPIKey(key string) bool {
	return key != "" && key == a.apiKey
}

// GenerateToken signs a token granting scopes for duration
func (a *AuthService) GenerateToken(scopes []Scope, duration time.Duration) (string, error) {
	if len(a.jwtSecret) == 0 {
		return "", errors.New("JWT_SECRET or API_KEY must be set to sign tokens")
	}

	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
		Scopes: scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

// ValidateToken validates a JWT token
func (a *AuthService) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// ExtractToken extracts the token from the Authorization header, falling
// back to the token query parameter for EventSource clients
func ExtractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		if strings.HasPrefix(authHeader, "Bearer ") {
			return strings.TrimPrefix(authHeader, "Bearer ")
		}
		return authHeader
	}

	return c.Query("token")
}
