package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Account is the local owner a billing customer is attached to.
type Account struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Email     string       `gorm:"not null" json:"email"`
	Name      string       `gorm:"not null" json:"name"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}
