package userdb

import (
	"strings"

	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

// Migrations returns the schema for the given driver.
// The SQL is written for sqlite, and the few types that differ are rewritten for Postgres.
func Migrations(log logs.Log, driver string) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	sql := func(s string) string {
		if driver == dbh.DriverPostgres {
			s = strings.ReplaceAll(s, "INTEGER PRIMARY KEY", "BIGSERIAL PRIMARY KEY")
		}
		return s
	}

	// "user" is quoted because it's a reserved word in Postgres
	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx, sql(
		`
		CREATE TABLE "user"(
			id INTEGER PRIMARY KEY,
			username TEXT NOT NULL,
			username_normalized TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			created_at BIGINT NOT NULL
		);
		CREATE UNIQUE INDEX idx_user_username_normalized ON "user" (username_normalized);

		CREATE TABLE session(
			key TEXT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			expires_at BIGINT
		);
		CREATE INDEX idx_session_user_id ON session (user_id);
	`)))

	return migs
}
