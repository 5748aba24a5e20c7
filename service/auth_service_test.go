package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/KrrishVardhan/Backend-Project/apierr"
	"github.com/KrrishVardhan/Backend-Project/model"
	"github.com/KrrishVardhan/Backend-Project/repository"
	"github.com/KrrishVardhan/Backend-Project/utils"
)

// --- fakes ---

type fakeUserRepo struct {
	users map[string]*model.User

	findErr   error
	createErr error
	updateErr error
	rotateErr error

	// beforeRotate runs at the top of RotateRefreshToken; tests use it to
	// mutate the slot between the service's read and its conditional write.
	beforeRotate func()
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[string]*model.User{}}
}

func (f *fakeUserRepo) Create(ctx context.Context, user *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeUserRepo) FindByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, u := range f.users {
		if (username != "" && u.Username == username) || (email != "" && u.Email == email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) UpdateRefreshToken(ctx context.Context, id string, token *string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil
	}
	if token == nil {
		u.RefreshToken = nil
	} else {
		v := *token
		u.RefreshToken = &v
	}
	return nil
}

func (f *fakeUserRepo) RotateRefreshToken(ctx context.Context, id, current, next string) (bool, error) {
	if f.beforeRotate != nil {
		f.beforeRotate()
	}
	if f.rotateErr != nil {
		return false, f.rotateErr
	}
	u, ok := f.users[id]
	if !ok || u.RefreshToken == nil || *u.RefreshToken != current {
		return false, nil
	}
	v := next
	u.RefreshToken = &v
	return true, nil
}

type fakeTokenRepo struct {
	blacklisted map[string]bool
	err         error
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{blacklisted: map[string]bool{}}
}

func (f *fakeTokenRepo) BlacklistAccessToken(ctx context.Context, jti string, ttl time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.blacklisted[jti] = true
	return nil
}

func (f *fakeTokenRepo) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	return f.blacklisted[jti], f.err
}

type fakeMediaStore struct {
	err     error
	uploads []string
}

func (f *fakeMediaStore) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploads = append(f.uploads, key)
	return "https://cdn.example.com/" + key, nil
}

type fakeMailer struct {
	sent []string
	err  error
}

func (f *fakeMailer) SendWelcomeEmail(toEmail, fullName string) error {
	f.sent = append(f.sent, toEmail)
	return f.err
}

// --- helpers ---

type testEnv struct {
	svc       *AuthService
	users     *fakeUserRepo
	tokenRepo *fakeTokenRepo
	media     *fakeMediaStore
	mailer    *fakeMailer
	tokens    *utils.TokenService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		users:     newFakeUserRepo(),
		tokenRepo: newFakeTokenRepo(),
		media:     &fakeMediaStore{},
		mailer:    &fakeMailer{},
		tokens:    utils.NewTokenService("access-secret", "refresh-secret", 15*time.Minute, 24*time.Hour),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.svc = NewAuthService(env.users, env.tokenRepo, env.tokens, env.media, env.mailer, log)
	return env
}

func registerInput() RegisterInput {
	return RegisterInput{
		FullName: "Alice Smith",
		Username: "Alice",
		Email:    "alice@example.com",
		Password: "correct-horse",
		Avatar:   &ImageUpload{Reader: strings.NewReader("img"), Filename: "avatar.png", ContentType: "image/png"},
	}
}

func registerAlice(t *testing.T, env *testEnv) *model.User {
	t.Helper()
	user, err := env.svc.Register(context.Background(), registerInput())
	require.NoError(t, err)
	return user
}

func assertAPIError(t *testing.T, err error, status int, message string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, status, apierr.StatusOf(err))
	assert.EqualError(t, err, message)
}

// --- register ---

func TestRegister(t *testing.T) {
	env := newTestEnv(t)

	user, err := env.svc.Register(context.Background(), registerInput())
	require.NoError(t, err)

	assert.Equal(t, "alice", user.Username, "username is case-normalized")
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, "Alice Smith", user.FullName)
	assert.True(t, strings.HasPrefix(user.Avatar, "https://cdn.example.com/avatars/"))
	assert.Empty(t, user.CoverImage)

	assert.Empty(t, user.PassHash, "response must not carry the password hash")
	assert.Nil(t, user.RefreshToken)

	stored := env.users.users[user.ID]
	require.NotNil(t, stored)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PassHash), []byte("correct-horse")))

	assert.Equal(t, []string{"alice@example.com"}, env.mailer.sent)
}

func TestRegisterWithCoverImage(t *testing.T) {
	env := newTestEnv(t)

	input := registerInput()
	input.CoverImage = &ImageUpload{Reader: strings.NewReader("cover"), Filename: "cover.jpg", ContentType: "image/jpeg"}

	user, err := env.svc.Register(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(user.CoverImage, "https://cdn.example.com/covers/"))
	assert.Len(t, env.media.uploads, 2)
}

func TestRegisterMissingFields(t *testing.T) {
	env := newTestEnv(t)

	for name, mutate := range map[string]func(*RegisterInput){
		"full name": func(in *RegisterInput) { in.FullName = "  " },
		"username":  func(in *RegisterInput) { in.Username = "" },
		"email":     func(in *RegisterInput) { in.Email = "" },
		"password":  func(in *RegisterInput) { in.Password = "" },
	} {
		t.Run(name, func(t *testing.T) {
			input := registerInput()
			mutate(&input)
			_, err := env.svc.Register(context.Background(), input)
			assertAPIError(t, err, http.StatusBadRequest, "All fields are required")
		})
	}
}

func TestRegisterMissingAvatar(t *testing.T) {
	env := newTestEnv(t)

	input := registerInput()
	input.Avatar = nil
	_, err := env.svc.Register(context.Background(), input)
	assertAPIError(t, err, http.StatusBadRequest, "Avatar image is required")
}

func TestRegisterDuplicate(t *testing.T) {
	env := newTestEnv(t)
	registerAlice(t, env)

	_, err := env.svc.Register(context.Background(), registerInput())
	assertAPIError(t, err, http.StatusConflict, "Username or Email Already Exists")
}

func TestRegisterUploadFailure(t *testing.T) {
	env := newTestEnv(t)
	env.media.err = errors.New("bucket unavailable")

	_, err := env.svc.Register(context.Background(), registerInput())
	assertAPIError(t, err, http.StatusInternalServerError, "Could not upload avatar image")
	assert.Empty(t, env.users.users, "no user row without an avatar")
}

func TestRegisterMailFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.err = errors.New("smtp down")

	_, err := env.svc.Register(context.Background(), registerInput())
	assert.NoError(t, err)
}

// --- login ---

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	created := registerAlice(t, env)

	user, access, refresh, err := env.svc.Login(context.Background(), "alice", "", "correct-horse")
	require.NoError(t, err)

	assert.Equal(t, created.ID, user.ID)
	assert.Empty(t, user.PassHash)
	assert.Nil(t, user.RefreshToken)

	accessClaims, err := env.tokens.VerifyAccessToken(access)
	require.NoError(t, err)
	assert.Equal(t, user.ID, accessClaims.Subject)

	refreshClaims, err := env.tokens.VerifyRefreshToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, user.ID, refreshClaims.Subject)

	stored := env.users.users[user.ID]
	require.NotNil(t, stored.RefreshToken)
	assert.Equal(t, refresh, *stored.RefreshToken, "persisted refresh token matches the issued one")
}

func TestLoginByEmail(t *testing.T) {
	env := newTestEnv(t)
	registerAlice(t, env)

	_, _, _, err := env.svc.Login(context.Background(), "", "Alice@Example.com", "correct-horse")
	assert.NoError(t, err)
}

func TestLoginMissingIdentifier(t *testing.T) {
	env := newTestEnv(t)

	_, _, _, err := env.svc.Login(context.Background(), "", "", "whatever")
	assertAPIError(t, err, http.StatusBadRequest, "username or email is required")
}

func TestLoginUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	_, _, _, err := env.svc.Login(context.Background(), "nobody", "", "whatever")
	assertAPIError(t, err, http.StatusNotFound, "User does not exist")
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	registerAlice(t, env)

	_, _, _, err := env.svc.Login(context.Background(), "alice", "", "wrong")
	assertAPIError(t, err, http.StatusUnauthorized, "Invalid Login credentials")
}

func TestLoginPersistFailure(t *testing.T) {
	env := newTestEnv(t)
	user := registerAlice(t, env)

	env.users.updateErr = errors.New("connection reset")
	_, _, _, err := env.svc.Login(context.Background(), "alice", "", "correct-horse")
	assertAPIError(t, err, http.StatusInternalServerError, "Something went wrong while logging in")
	assert.Nil(t, env.users.users[user.ID].RefreshToken, "no token committed on failure")
}

func TestLoginInvalidatesPreviousSession(t *testing.T) {
	env := newTestEnv(t)
	registerAlice(t, env)

	_, _, first, err := env.svc.Login(context.Background(), "alice", "", "correct-horse")
	require.NoError(t, err)
	_, _, _, err = env.svc.Login(context.Background(), "alice", "", "correct-horse")
	require.NoError(t, err)

	_, _, err = env.svc.Refresh(context.Background(), first)
	assertAPIError(t, err, http.StatusUnauthorized, "Refresh token is expired or used")
}

// --- refresh ---

func TestRefreshRotation(t *testing.T) {
	env := newTestEnv(t)
	user := registerAlice(t, env)

	_, _, t1, err := env.svc.Login(context.Background(), "alice", "", "correct-horse")
	require.NoError(t, err)

	// First use of T1 succeeds and yields a fresh pair.
	a2, r2, err := env.svc.Refresh(context.Background(), t1)
	require.NoError(t, err)
	require.NotEqual(t, t1, r2)

	claims, err := env.tokens.VerifyAccessToken(a2)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)

	stored := env.users.users[user.ID]
	require.NotNil(t, stored.RefreshToken)
	assert.Equal(t, r2, *stored.RefreshToken)

	// T1 has been rotated away and can never be used again.
	_, _, err = env.svc.Refresh(context.Background(), t1)
	assertAPIError(t, err, http.StatusUnauthorized, "Refresh token is expired or used")

	// The replacement still works.
	_, _, err = env.svc.Refresh(context.Background(), r2)
	assert.NoError(t, err)
}

func TestRefreshMissingToken(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.svc.Refresh(context.Background(), "")
	assertAPIError(t, err, http.StatusUnauthorized, "Unauthorized request")
}

func TestRefreshMalformedToken(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.svc.Refresh(context.Background(), "not-a-jwt")
	assertAPIError(t, err, http.StatusUnauthorized, "Invalid refresh token")
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	env := newTestEnv(t)
	registerAlice(t, env)

	_, access, _, err := env.svc.Login(context.Background(), "alice", "", "correct-horse")
	require.NoError(t, err)

	_, _, err = env.svc.Refresh(context.Background(), access)
	assertAPIError(t, err, http.StatusUnauthorized, "Invalid refresh token")
}

func TestRefreshDeletedUser(t *testing.T) {
	env := newTestEnv(t)
	user := registerAlice(t, env)

	_, _, refresh, err := env.svc.Login(context.Background(), "alice", "", "correct-horse")
	require.NoError(t, err)

	delete(env.users.users, user.ID)
	_, _, err = env.svc.Refresh(context.Background(), refresh)
	assertAPIError(t, err, http.StatusUnauthorized, "Invalid refresh token")
}

func TestRefreshLostRace(t *testing.T) {
	env := newTestEnv(t)
	user := registerAlice(t, env)

	_, _, refresh, err := env.svc.Login(context.Background(), "alice", "", "correct-horse")
	require.NoError(t, err)

	// A concurrent request rotates the slot between this request's read and
	// its conditional update; the update must then find zero matching rows.
	env.users.beforeRotate = func() {
		other := "someone-else-rotated"
		env.users.users[user.ID].RefreshToken = &other
	}

	_, _, err = env.svc.Refresh(context.Background(), refresh)
	assertAPIError(t, err, http.StatusUnauthorized, "Refresh token is expired or used")
}

// --- logout ---

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	user := registerAlice(t, env)

	_, access, refresh, err := env.svc.Login(context.Background(), "alice", "", "correct-horse")
	require.NoError(t, err)

	claims, err := env.tokens.VerifyAccessToken(access)
	require.NoError(t, err)
	meta := model.TokenMetadata{UserID: user.ID, JTI: claims.ID, ExpiresAt: claims.ExpiresAt.Time}

	require.NoError(t, env.svc.Logout(context.Background(), user.ID, meta))

	assert.Nil(t, env.users.users[user.ID].RefreshToken)
	assert.True(t, env.tokenRepo.blacklisted[claims.ID])

	// The refresh token issued at login is now dead.
	_, _, err = env.svc.Refresh(context.Background(), refresh)
	assertAPIError(t, err, http.StatusUnauthorized, "Refresh token is expired or used")

	// Logout is idempotent.
	assert.NoError(t, env.svc.Logout(context.Background(), user.ID, meta))
}

func TestLogoutBlacklistFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t)
	user := registerAlice(t, env)

	env.tokenRepo.err = errors.New("redis down")
	meta := model.TokenMetadata{UserID: user.ID, JTI: "some-jti", ExpiresAt: time.Now().Add(time.Minute)}
	assert.NoError(t, env.svc.Logout(context.Background(), user.ID, meta))
	assert.Nil(t, env.users.users[user.ID].RefreshToken)
}

// --- current user ---

func TestCurrentUser(t *testing.T) {
	env := newTestEnv(t)
	created := registerAlice(t, env)

	user, err := env.svc.CurrentUser(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Empty(t, user.PassHash)
}

func TestCurrentUserGone(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CurrentUser(context.Background(), "missing")
	assertAPIError(t, err, http.StatusNotFound, "User does not exist")
}
