package users

import (
	"strings"
	"time"
)

// User is a contributor account resolved from the upstream identity provider.
type User struct {
	UID                 string    `gorm:"column:uid;primaryKey;size:190;not null"`
	Name                string    `gorm:"column:name;size:64;not null;index"`
	Description         string    `gorm:"column:description;size:2048"`
	RenderedDescription string    `gorm:"column:rendered_description;size:4096"`
	AvatarURL           string    `gorm:"column:avatar_url;size:256"`
	Admin               bool      `gorm:"column:admin;not null;default:false"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// Ban records that an admin blocked a user from mutating operations.
// Lifting a ban keeps the row for audit purposes.
type Ban struct {
	ID        uint      `gorm:"primaryKey"`
	UserUID   string    `gorm:"column:user_uid;size:190;not null;index"`
	Reason    string    `gorm:"column:reason;size:1024;not null"`
	BannedBy  string    `gorm:"column:banned_by;size:190;not null"`
	Lifted    bool      `gorm:"column:lifted;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing bans.
func (Ban) TableName() string {
	return "bans"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
