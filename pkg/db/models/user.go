package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/JannieHamberg/equibox-sub000/pkg/enums"
)

// User represents the canonical identity entity.
type User struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email            string         `gorm:"type:text;not null;uniqueIndex"`
	PasswordHash     string         `gorm:"column:password_hash;not null"`
	Name             string         `gorm:"column:name;not null"`
	Role             enums.UserRole `gorm:"column:role;type:user_role;not null;default:'subscriber'"`
	StripeCustomerID *string        `gorm:"column:stripe_customer_id;uniqueIndex"`
	IsActive         bool           `gorm:"column:is_active;not null;default:true"`
	LastLoginAt      *time.Time     `gorm:"column:last_login_at"`
	CreatedAt        time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
