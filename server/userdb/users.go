package userdb

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/helmetcam/pkg/pwdhash"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// CreateUser adds a new user.
// Returns ErrDuplicateUser if the username is already taken, or ErrInvalidCredentials
// if the username or password is empty.
func (u *UserDB) CreateUser(username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	if existing := u.FindUser(username); existing != nil {
		return nil, fmt.Errorf("%w: %v", ErrDuplicateUser, username)
	}
	user := User{
		Username:           username,
		UsernameNormalized: NormalizeUsername(username),
		PasswordHash:       pwdhash.Hash(password),
		CreatedAt:          dbh.MakeIntTime(time.Now()),
	}
	if err := u.DB.Create(&user).Error; err != nil {
		// Two concurrent sign-ups can both pass the lookup above, so the unique index has the final say
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateUser, username)
		}
		return nil, err
	}
	u.Log.Infof("Created user %v (%v)", user.Username, user.ID)
	return &user, nil
}

// FindUser returns the user, or nil if there is no such user
func (u *UserDB) FindUser(username string) *User {
	user := User{}
	if err := u.DB.Where("username_normalized = ?", NormalizeUsername(username)).Limit(1).Find(&user).Error; err != nil {
		u.Log.Errorf("FindUser failed: %v", err)
		return nil
	}
	if user.ID == 0 {
		return nil
	}
	return &user
}

// GetUser returns the user with the given ID, or nil
func (u *UserDB) GetUser(userID int64) *User {
	user := User{}
	if err := u.DB.Where("id = ?", userID).Limit(1).Find(&user).Error; err != nil {
		u.Log.Errorf("GetUser failed: %v", err)
		return nil
	}
	if user.ID == 0 {
		return nil
	}
	return &user
}

// VerifyUser returns the user if the password is correct, or nil for any mismatch
func (u *UserDB) VerifyUser(username, password string) *User {
	user := u.FindUser(username)
	if user == nil {
		// Same cost as the found-user path
		pwdhash.Verify(password, dummyHash())
		return nil
	}
	if !pwdhash.Verify(password, user.PasswordHash) {
		return nil
	}
	return user
}

// Authenticate returns true if username and password match a user.
// A wrong password is not an error.
func (u *UserDB) Authenticate(username, password string) bool {
	return u.VerifyUser(username, password) != nil
}

var dummyHash = sync.OnceValue(func() string {
	return pwdhash.Hash(pwdhash.RandomAlphaNumChars(16))
})

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// unique_violation
		return pgErr.Code == "23505"
	}
	return false
}
