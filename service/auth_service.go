package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/KrrishVardhan/Backend-Project/apierr"
	"github.com/KrrishVardhan/Backend-Project/media"
	"github.com/KrrishVardhan/Backend-Project/model"
	"github.com/KrrishVardhan/Backend-Project/repository"
	"github.com/KrrishVardhan/Backend-Project/utils"
)

// Mailer sends account mail. Delivery is best-effort: failures are logged,
// never surfaced to the client.
type Mailer interface {
	SendWelcomeEmail(toEmail, fullName string) error
}

// AuthService orchestrates the account/session lifecycle: registration,
// credential login, refresh-token rotation, and logout.
type AuthService struct {
	userRepo  repository.UserRepository
	tokenRepo repository.TokenRepository
	tokens    *utils.TokenService
	media     media.Store
	mailer    Mailer
	log       *slog.Logger
}

func NewAuthService(
	userRepo repository.UserRepository,
	tokenRepo repository.TokenRepository,
	tokens *utils.TokenService,
	mediaStore media.Store,
	mailer Mailer,
	log *slog.Logger,
) *AuthService {
	if log == nil {
		log = slog.Default()
	}
	return &AuthService{
		userRepo:  userRepo,
		tokenRepo: tokenRepo,
		tokens:    tokens,
		media:     mediaStore,
		mailer:    mailer,
		log:       log,
	}
}

// ImageUpload is an image file received with a registration request.
type ImageUpload struct {
	Reader      io.Reader
	Filename    string
	ContentType string
}

type RegisterInput struct {
	FullName   string
	Username   string
	Email      string
	Password   string
	Avatar     *ImageUpload
	CoverImage *ImageUpload
}

// Register creates a new account. The avatar image is mandatory, the cover
// image optional; both are pushed to the media store before the user row is
// written. The returned user has its credential fields stripped.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*model.User, error) {
	fullName := strings.TrimSpace(input.FullName)
	username := strings.ToLower(strings.TrimSpace(input.Username))
	email := strings.ToLower(strings.TrimSpace(input.Email))

	if fullName == "" || username == "" || email == "" || input.Password == "" {
		return nil, apierr.BadRequest("All fields are required")
	}

	existing, err := s.userRepo.FindByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return nil, apierr.Internal("Something went wrong while registering the user")
	}
	if existing != nil {
		return nil, apierr.Conflict("Username or Email Already Exists")
	}

	if input.Avatar == nil {
		return nil, apierr.BadRequest("Avatar image is required")
	}
	avatarURL, err := s.upload(ctx, "avatars", input.Avatar)
	if err != nil {
		s.log.Error("avatar upload failed", "username", username, "error", err)
		return nil, apierr.Internal("Could not upload avatar image")
	}

	coverURL := ""
	if input.CoverImage != nil {
		if coverURL, err = s.upload(ctx, "covers", input.CoverImage); err != nil {
			s.log.Error("cover image upload failed", "username", username, "error", err)
			return nil, apierr.Internal("Could not upload cover image")
		}
	}

	hash, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, apierr.Internal("Something went wrong while registering the user")
	}

	user := &model.User{
		Username:   username,
		Email:      email,
		FullName:   fullName,
		Avatar:     avatarURL,
		CoverImage: coverURL,
		PassHash:   hash,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apierr.Conflict("Username or Email Already Exists")
		}
		return nil, apierr.Internal("Something went wrong while registering the user")
	}

	if s.mailer != nil {
		if err := s.mailer.SendWelcomeEmail(user.Email, user.FullName); err != nil {
			s.log.Warn("welcome email not sent", "email", user.Email, "error", err)
		}
	}

	return user.Sanitized(), nil
}

// Login verifies credentials and issues a fresh token pair. Persisting the
// refresh token overwrites any prior value, so logging in ends any other
// active session for the user.
func (s *AuthService) Login(ctx context.Context, username, email, password string) (*model.User, string, string, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" && email == "" {
		return nil, "", "", apierr.BadRequest("username or email is required")
	}

	user, err := s.userRepo.FindByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return nil, "", "", apierr.Internal("Something went wrong while logging in")
	}
	if user == nil {
		return nil, "", "", apierr.NotFound("User does not exist")
	}

	if !utils.CheckPassword(user.PassHash, password) {
		return nil, "", "", apierr.Unauthorized("Invalid Login credentials")
	}

	access, refresh, err := s.issueTokenPair(user.ID)
	if err != nil {
		return nil, "", "", apierr.Internal("Something went wrong while logging in")
	}

	// The tokens are only valid once the refresh token is committed.
	if err := s.userRepo.UpdateRefreshToken(ctx, user.ID, &refresh); err != nil {
		return nil, "", "", apierr.Internal("Something went wrong while logging in")
	}

	return user.Sanitized(), access, refresh, nil
}

// Refresh rotates a refresh token. The presented token must verify against
// the refresh secret and match the stored slot byte-for-byte; a token that
// has already been rotated away or cleared can never be used again.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	if refreshToken == "" {
		return "", "", apierr.Unauthorized("Unauthorized request")
	}

	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return "", "", apierr.Unauthorized("Invalid refresh token")
	}

	user, err := s.userRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return "", "", apierr.Internal("Something went wrong while refreshing tokens")
	}
	if user == nil {
		return "", "", apierr.Unauthorized("Invalid refresh token")
	}

	if user.RefreshToken == nil || *user.RefreshToken != refreshToken {
		return "", "", apierr.Unauthorized("Refresh token is expired or used")
	}

	access, next, err := s.issueTokenPair(user.ID)
	if err != nil {
		return "", "", apierr.Internal("Something went wrong while refreshing tokens")
	}

	rotated, err := s.userRepo.RotateRefreshToken(ctx, user.ID, refreshToken, next)
	if err != nil {
		return "", "", apierr.Internal("Something went wrong while refreshing tokens")
	}
	if !rotated {
		// Lost the race: another request rotated this token first.
		return "", "", apierr.Unauthorized("Refresh token is expired or used")
	}

	return access, next, nil
}

// Logout clears the stored refresh token and blacklists the presented access
// token until it would have expired anyway. Idempotent.
func (s *AuthService) Logout(ctx context.Context, userID string, access model.TokenMetadata) error {
	if err := s.userRepo.UpdateRefreshToken(ctx, userID, nil); err != nil {
		return apierr.Internal("Something went wrong while logging out")
	}

	if access.JTI != "" {
		if err := s.tokenRepo.BlacklistAccessToken(ctx, access.JTI, time.Until(access.ExpiresAt)); err != nil {
			s.log.Warn("access token not blacklisted", "user_id", userID, "error", err)
		}
	}

	return nil
}

// CurrentUser returns the sanitized account record for an authenticated user.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, apierr.Internal("Something went wrong while fetching the user")
	}
	if user == nil {
		return nil, apierr.NotFound("User does not exist")
	}
	return user.Sanitized(), nil
}

func (s *AuthService) issueTokenPair(userID string) (string, string, error) {
	access, err := s.tokens.GenerateAccessToken(userID)
	if err != nil {
		return "", "", err
	}
	refresh, err := s.tokens.GenerateRefreshToken(userID)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (s *AuthService) upload(ctx context.Context, prefix string, img *ImageUpload) (string, error) {
	key := prefix + "/" + uuid.NewString() + strings.ToLower(path.Ext(img.Filename))
	return s.media.Upload(ctx, key, img.Reader, img.ContentType)
}
