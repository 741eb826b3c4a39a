package userdb

import (
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/helmetcam/pkg/pwdhash"
)

// CreateSession creates a login session for userID, and returns the plaintext token for the cookie.
// A zero expiresAt means the session never expires.
func (u *UserDB) CreateSession(userID int64, expiresAt time.Time) (string, error) {
	token := pwdhash.NewSessionToken()
	session := Session{
		Key:       pwdhash.HashSessionToken(token),
		UserID:    userID,
		CreatedAt: dbh.MakeIntTime(time.Now()),
	}
	if !expiresAt.IsZero() {
		session.ExpiresAt = dbh.MakeIntTime(expiresAt)
	}
	if err := u.DB.Create(&session).Error; err != nil {
		return "", err
	}
	u.PurgeExpiredSessions()
	return token, nil
}

// UserFromSession returns the user that owns an unexpired session, or nil
func (u *UserDB) UserFromSession(token string) *User {
	if token == "" {
		return nil
	}
	session := Session{}
	if err := u.DB.Where("key = ?", pwdhash.HashSessionToken(token)).Limit(1).Find(&session).Error; err != nil {
		u.Log.Errorf("UserFromSession failed: %v", err)
		return nil
	}
	if session.UserID == 0 {
		return nil
	}
	if !session.ExpiresAt.IsZero() && !session.ExpiresAt.Get().After(time.Now()) {
		return nil
	}
	return u.GetUser(session.UserID)
}

func (u *UserDB) DeleteSession(token string) error {
	return u.DB.Where("key = ?", pwdhash.HashSessionToken(token)).Delete(&Session{}).Error
}

func (u *UserDB) PurgeExpiredSessions() {
	if err := u.DB.Where("expires_at < ?", time.Now().UnixMilli()).Delete(&Session{}).Error; err != nil {
		u.Log.Warnf("PurgeExpiredSessions failed: %v", err)
	}
}
