package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KrrishVardhan/Backend-Project/model"
	"github.com/KrrishVardhan/Backend-Project/repository"
	"github.com/KrrishVardhan/Backend-Project/utils"
)

// Context keys set by RequireAuth for downstream handlers.
const (
	ContextUserKey  = "user"
	ContextTokenKey = "access_token"
)

type AuthMiddleware struct {
	tokens    *utils.TokenService
	userRepo  repository.UserRepository
	tokenRepo repository.TokenRepository
}

func NewAuthMiddleware(tokens *utils.TokenService, userRepo repository.UserRepository, tokenRepo repository.TokenRepository) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:    tokens,
		userRepo:  userRepo,
		tokenRepo: tokenRepo,
	}
}

// RequireAuth validates the inbound access token and resolves it to a user.
// Every verification failure is reported as a single 401, regardless of
// whether the token was expired, forged, or malformed.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := utils.ExtractToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized request"})
			return
		}

		claims, err := m.tokens.VerifyAccessToken(tokenString)
		if err != nil || claims.ExpiresAt == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid access token"})
			return
		}

		blacklisted, err := m.tokenRepo.IsBlacklisted(c.Request.Context(), claims.ID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
			return
		}
		if blacklisted {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid access token"})
			return
		}

		user, err := m.userRepo.FindByID(c.Request.Context(), claims.Subject)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
			return
		}
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid access token"})
			return
		}

		c.Set(ContextUserKey, user.Sanitized())
		c.Set(ContextTokenKey, model.TokenMetadata{
			UserID:    user.ID,
			JTI:       claims.ID,
			ExpiresAt: claims.ExpiresAt.Time,
		})
		c.Next()
	}
}
