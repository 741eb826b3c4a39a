package main

import (
	"fmt"
	"os"

	"github.com/cyclopcam/helmetcam/pkg/pwdhash"
)

// Takes a password as the first argument, and prints out the stored form of the hashed password.
// You can use this to create or reset a user directly in the database, if you need to do that manually.
// For example:
// sqlite3 ~/helmetcam/users.sqlite "update user set password_hash = 'HASHEDPASSWORD' where username_normalized = 'alice'"

func main() {
	if len(os.Args) != 2 {
		fmt.Printf("Usage: pwdhash <password>\n")
		os.Exit(1)
	}
	fmt.Printf("%v\n", pwdhash.Hash(os.Args[1]))
}
