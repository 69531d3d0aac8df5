package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	tokenIssuer      = "mailtriage"
	claimsContextKey = "claims"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims identify the operator or service calling the API
type Claims struct {
	jwt.RegisteredClaims
}

// TokenService issues and validates HS256 access tokens
type TokenService struct {
	secretKey     []byte
	TokenDuration time.Duration
}

// NewTokenService creates a new token service
func NewTokenService(secretKey string) *TokenService {
	return &TokenService{
		secretKey:     []byte(secretKey),
		TokenDuration: 30 * 24 * time.Hour,
	}
}

// Issue signs a token for subject
func (ts *TokenService) Issue(subject string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ts.TokenDuration)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   subject,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign JWT: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate parses tokenString and checks signature, expiry and issuer
func (ts *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ts.secretKey, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RequireAuth rejects requests without a valid bearer token
func RequireAuth(ts *TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			claims, err := ts.Validate(tokenParts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}
			c.Set(claimsContextKey, claims)
			return next(c)
		}
	}
}
