package repository

import (
	"time"

	"qbank_backend/internal/model"

	"gorm.io/gorm"
)

type UserRepository struct {
	DB *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{DB: db}
}

func (r *UserRepository) Create(user *model.User) error {
	return r.DB.Create(user).Error
}

func (r *UserRepository) FindByID(id uint) (*model.User, error) {
	var user model.User
	err := r.DB.First(&user, id).Error
	return &user, err
}

func (r *UserRepository) FindByEmail(email string) (*model.User, error) {
	var user model.User
	err := r.DB.Where("email = ?", email).First(&user).Error
	return &user, err
}

func (r *UserRepository) Update(user *model.User) error {
	return r.DB.Save(user).Error
}

func (r *UserRepository) UpdateLastLogin(userID uint) error {
	return r.DB.Model(&model.User{}).
		Where("id = ?", userID).
		Update("last_login", time.Now()).
		Error
}

// RecordVote 投票成功后更新每日计数。跨自然日时计数重置为1。
// 与题目更新不在同一事务里：崩溃最多让计数少记一次，次日重置兜底。
func (r *UserRepository) RecordVote(userID uint, dayChanged bool, now time.Time) error {
	updates := map[string]interface{}{
		"last_vote_at": now,
	}
	if dayChanged {
		updates["daily_vetted_count"] = 1
	} else {
		updates["daily_vetted_count"] = gorm.Expr("daily_vetted_count + 1")
	}
	return r.DB.Model(&model.User{}).Where("id = ?", userID).Updates(updates).Error
}
