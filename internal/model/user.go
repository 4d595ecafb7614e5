package model

import (
	"time"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User is owned by the identity service. The ledger only reads it to resolve
// transfer recipients, invoice recipients and the fee recipient.
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Nickname  string    `gorm:"type:varchar(64);index" json:"nickname"`
	Role      Role      `gorm:"type:varchar(16);not null;default:USER" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string {
	return "users"
}
