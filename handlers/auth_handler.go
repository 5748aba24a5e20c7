package handlers

import (
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/KrrishVardhan/Backend-Project/apierr"
	"github.com/KrrishVardhan/Backend-Project/middleware"
	"github.com/KrrishVardhan/Backend-Project/model"
	"github.com/KrrishVardhan/Backend-Project/service"
)

const (
	accessCookie  = "accessToken"
	refreshCookie = "refreshToken"
)

type AuthHandler struct {
	service       *service.AuthService
	accessExpiry  time.Duration
	refreshExpiry time.Duration
}

func NewAuthHandler(svc *service.AuthService, accessExpiry, refreshExpiry time.Duration) *AuthHandler {
	return &AuthHandler{
		service:       svc,
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
	}
}

type LoginInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password" binding:"required"`
}

type RefreshInput struct {
	RefreshToken string `json:"refresh_token"`
}

// Register handles multipart registration: text fields plus an avatar file
// (required) and a cover image (optional).
func (h *AuthHandler) Register(c *gin.Context) {
	input := service.RegisterInput{
		FullName: c.PostForm("fullName"),
		Username: c.PostForm("username"),
		Email:    c.PostForm("email"),
		Password: c.PostForm("password"),
	}

	avatar, closeAvatar, err := formImage(c, "avatar")
	if err != nil {
		respondError(c, err)
		return
	}
	if closeAvatar != nil {
		defer closeAvatar()
	}
	input.Avatar = avatar

	cover, closeCover, err := formImage(c, "coverImage")
	if err != nil {
		respondError(c, err)
		return
	}
	if closeCover != nil {
		defer closeCover()
	}
	input.CoverImage = cover

	user, err := h.service.Register(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Successfully Registered the user",
		"user":    user,
	})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var input LoginInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username or email and password are required"})
		return
	}

	user, access, refresh, err := h.service.Login(c.Request.Context(), input.Username, input.Email, input.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	h.setAuthCookies(c, access, refresh)
	c.JSON(http.StatusOK, gin.H{
		"user":          user,
		"access_token":  access,
		"refresh_token": refresh,
	})
}

// RefreshToken rotates the refresh token taken from the refreshToken cookie
// or, failing that, the request body.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	token, _ := c.Cookie(refreshCookie)
	if token == "" {
		var input RefreshInput
		if err := c.ShouldBindJSON(&input); err == nil {
			token = input.RefreshToken
		}
	}

	access, refresh, err := h.service.Refresh(c.Request.Context(), token)
	if err != nil {
		respondError(c, err)
		return
	}

	h.setAuthCookies(c, access, refresh)
	c.JSON(http.StatusOK, gin.H{
		"access_token":  access,
		"refresh_token": refresh,
	})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	meta := c.MustGet(middleware.ContextTokenKey).(model.TokenMetadata)

	if err := h.service.Logout(c.Request.Context(), meta.UserID, meta); err != nil {
		respondError(c, err)
		return
	}

	h.clearAuthCookies(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *AuthHandler) Profile(c *gin.Context) {
	user := c.MustGet(middleware.ContextUserKey).(*model.User)
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *AuthHandler) setAuthCookies(c *gin.Context, access, refresh string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(accessCookie, access, int(h.accessExpiry.Seconds()), "/", "", true, true)
	c.SetCookie(refreshCookie, refresh, int(h.refreshExpiry.Seconds()), "/", "", true, true)
}

func (h *AuthHandler) clearAuthCookies(c *gin.Context) {
	c.SetCookie(accessCookie, "", -1, "/", "", true, true)
	c.SetCookie(refreshCookie, "", -1, "/", "", true, true)
}

// formImage opens the named multipart file if present. A missing file is not
// an error here; the service decides which images are mandatory.
func formImage(c *gin.Context, field string) (*service.ImageUpload, func(), error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, nil, nil
	}
	f, err := fh.Open()
	if err != nil {
		return nil, nil, apierr.Internal("Could not read uploaded file")
	}
	return &service.ImageUpload{
		Reader:      f,
		Filename:    fh.Filename,
		ContentType: contentTypeOf(fh),
	}, func() { f.Close() }, nil
}

func contentTypeOf(fh *multipart.FileHeader) string {
	return fh.Header.Get("Content-Type")
}

func respondError(c *gin.Context, err error) {
	c.JSON(apierr.StatusOf(err), gin.H{"error": apierr.MessageOf(err)})
}
