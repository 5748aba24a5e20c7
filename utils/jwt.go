package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenService signs and verifies the two token classes. Access and refresh
// tokens use separate secrets, so one can never be verified as the other.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
}

func NewTokenService(accessSecret, refreshSecret string, accessExpiry, refreshExpiry time.Duration) *TokenService {
	return &TokenService{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
	}
}

func (s *TokenService) GenerateAccessToken(userID string) (string, error) {
	return s.generate(userID, s.accessSecret, s.accessExpiry)
}

func (s *TokenService) GenerateRefreshToken(userID string) (string, error) {
	return s.generate(userID, s.refreshSecret, s.refreshExpiry)
}

func (s *TokenService) VerifyAccessToken(tokenString string) (*jwt.RegisteredClaims, error) {
	return verify(tokenString, s.accessSecret)
}

func (s *TokenService) VerifyRefreshToken(tokenString string) (*jwt.RegisteredClaims, error) {
	return verify(tokenString, s.refreshSecret)
}

func (s *TokenService) generate(userID string, secret []byte, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func verify(tokenString string, secret []byte) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExtractToken pulls the access token from the accessToken cookie or the
// Authorization: Bearer header, in that order.
func ExtractToken(c *gin.Context) string {
	if cookie, err := c.Cookie("accessToken"); err == nil && cookie != "" {
		return cookie
	}
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return ""
	}
	return tokenString
}
