package model

import (
	"time"
)

type UserRole string

const (
	Student UserRole = "student"
	Teacher UserRole = "teacher"
	Admin   UserRole = "admin"
)

// swagger:model User
type User struct {
	BaseModel
	Name     string   `gorm:"size:100;not null" json:"name"`
	Email    string   `gorm:"size:100;unique;not null" json:"email"`
	Password string   `gorm:"size:100;not null" json:"-"`
	Role     UserRole `gorm:"size:20;default:'student'" json:"role"`
	Disabled bool     `gorm:"default:false" json:"disabled"`

	// 每日审核配额。LastVoteAt 跨自然日后计数器归零
	DailyVettedCount int       `gorm:"default:0" json:"daily_vetted_count"`
	LastVoteAt       time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"last_vote_at"`

	LastLogin time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"last_login"`
}

func (User) TableName() string {
	return "users"
}
