package userdb

import (
	"strings"

	"github.com/cyclopcam/dbh"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// User is created at sign-up, and read at login. We never modify or delete users.
type User struct {
	BaseModel
	Username           string      `json:"username"`
	UsernameNormalized string      `json:"-"`
	PasswordHash       string      `json:"-"`
	CreatedAt          dbh.IntTime `json:"createdAt"`
}

// Session is a logged-in browser. Key is pwdhash.HashSessionToken of the cookie value.
type Session struct {
	Key       string `gorm:"primaryKey"`
	UserID    int64
	CreatedAt dbh.IntTime
	ExpiresAt dbh.IntTime `gorm:"default:null"`
}

// Usernames are unique regardless of case, so "Alice" and "alice" are the same user
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
