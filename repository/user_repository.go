package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/KrrishVardhan/Backend-Project/model"
)

// ErrDuplicate is returned when an insert collides with the unique username
// or email index.
var ErrDuplicate = errors.New("username or email already taken")

// UserRepository is the credential store. Lookups return (nil, nil) when no
// matching user exists.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error)
	FindByID(ctx context.Context, id string) (*model.User, error)
	UpdateRefreshToken(ctx context.Context, id string, token *string) error
	RotateRefreshToken(ctx context.Context, id, current, next string) (bool, error)
}

type GormUserRepository struct {
	DB *gorm.DB
}

func NewUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{DB: db}
}

func (r *GormUserRepository) Create(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	err := r.DB.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (r *GormUserRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error) {
	var user model.User
	err := r.DB.WithContext(ctx).Where("username = ? OR email = ?", username, email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *GormUserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateRefreshToken overwrites the user's refresh-token slot; passing nil
// clears it, which revokes every previously issued refresh token.
func (r *GormUserRepository) UpdateRefreshToken(ctx context.Context, id string, token *string) error {
	return r.DB.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).
		Update("refresh_token", token).Error
}

// RotateRefreshToken swaps current for next only if current is still the
// stored value. The conditional update makes two concurrent rotations of the
// same token resolve to a single winner.
func (r *GormUserRepository) RotateRefreshToken(ctx context.Context, id, current, next string) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND refresh_token = ?", id, current).
		Update("refresh_token", next)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
