package repository

import (
	"context"
	"errors"
	"strings"

	"exchange/internal/model"

	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository reads the users table owned by the identity service.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("email = ?", strings.TrimSpace(email)).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("email = ?", strings.TrimSpace(email)).
		Count(&count).Error
	return count > 0, err
}

// FindByNickname matches case-insensitively and returns every hit; callers
// decide what an ambiguous match means.
func (r *UserRepository) FindByNickname(ctx context.Context, nickname string) ([]*model.User, error) {
	var users []*model.User
	err := r.db.WithContext(ctx).
		Where("LOWER(nickname) = ?", strings.ToLower(strings.TrimSpace(nickname))).
		Order("id ASC").
		Find(&users).Error
	return users, err
}
