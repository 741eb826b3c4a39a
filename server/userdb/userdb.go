package userdb

// Package userdb stores user credentials and login sessions.

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

var (
	ErrDuplicateUser      = errors.New("username is already taken")
	ErrInvalidCredentials = errors.New("username and password may not be empty")
)

type UserDB struct {
	Log logs.Log
	DB  *gorm.DB
}

// Open opens (or creates) the user database, and brings its schema up to date
func Open(log logs.Log, config dbh.DBConfig) (*UserDB, error) {
	if config.Driver == dbh.DriverSqlite {
		if err := os.MkdirAll(filepath.Dir(config.Database), 0770); err != nil {
			return nil, fmt.Errorf("Failed to create database directory for %v: %w", config.Database, err)
		}
	}
	log.Infof("Opening user database (%v)", config.LogSafeDescription())
	db, err := dbh.OpenDB(log, config, Migrations(log, config.Driver), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open database %v: %w", config.Database, err)
	}
	return &UserDB{
		Log: log,
		DB:  db,
	}, nil
}

// OpenSqlite is a convenience wrapper for the common case of a single sqlite file
func OpenSqlite(log logs.Log, filename string) (*UserDB, error) {
	return Open(log, dbh.MakeSqliteConfig(filename))
}

func (u *UserDB) Close() {
	if sqlDB, err := u.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
