package pwdhash

// Package pwdhash hashes user passwords and session tokens.

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// A stored hash is 1 byte of version, followed by 20 bytes of salt, followed by 32 bytes of scrypt.
// The text form is unpadded standard base64.

// scrypt(16384,8,1) is 36 ms on a Skylake 6700K
const hashVersion1 = 1
const saltSizeV1 = 20
const scryptHashSizeV1 = 32
const scryptNV1 = 16384
const scryptrV1 = 8
const scryptpV1 = 1
const hashLenV1 = 1 + saltSizeV1 + scryptHashSizeV1

// Returns a hashLenV1 byte key
func hashWithSalt(salt []byte, password string) []byte {
	dk, err := scrypt.Key([]byte(password), salt, scryptNV1, scryptrV1, scryptpV1, scryptHashSizeV1)
	if err != nil {
		panic(fmt.Sprintf("Error hashing password: %v", err))
	}
	final := make([]byte, hashLenV1)
	final[0] = hashVersion1
	copy(final[1:1+saltSizeV1], salt)
	copy(final[1+saltSizeV1:], dk)
	return final
}

// Hash salts and hashes a password, and returns the text form that we store in the DB
func Hash(password string) string {
	return base64.RawStdEncoding.EncodeToString(hashWithSalt(RandomBytes(saltSizeV1), password))
}

// Verify returns true if a plaintext password matches a stored hash.
// A malformed stored hash never matches.
func Verify(password, stored string) bool {
	raw, err := base64.RawStdEncoding.DecodeString(stored)
	if err != nil || len(raw) != hashLenV1 || raw[0] != hashVersion1 {
		return false
	}
	salt := raw[1 : 1+saltSizeV1]
	dk, err := scrypt.Key([]byte(password), salt, scryptNV1, scryptrV1, scryptpV1, scryptHashSizeV1)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(dk, raw[1+saltSizeV1:]) == 1
}

// Hash the session token to safeguard against timing attacks (eg in the DB's BTree lookup),
// and so that a leaked DB doesn't leak live sessions.
// The browser gets the plaintext value, and that is the ONLY place where the plaintext lives.
func HashSessionToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return base64.RawStdEncoding.EncodeToString(h[:])
}

// This is 62 symbols, hence 5.9542 bits per character.
// At 30 characters, that's 178 bits
const alphaNumChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const SessionTokenLength = 30

// NewSessionToken returns a random token for a session cookie
func NewSessionToken() string {
	return RandomAlphaNumChars(SessionTokenLength)
}

// Random bytes at or above this are rejected, so that every symbol is equally likely
const alphaNumLimit = 256 - 256%len(alphaNumChars)

func RandomAlphaNumChars(nchars int) string {
	out := make([]byte, 0, nchars)
	for len(out) < nchars {
		for _, b := range RandomBytes(nchars - len(out)) {
			if int(b) < alphaNumLimit {
				out = append(out, alphaNumChars[int(b)%len(alphaNumChars)])
			}
		}
	}
	return string(out)
}

func RandomBytes(nbytes int) []byte {
	buf := make([]byte, nbytes)
	if n, _ := rand.Read(buf); n != nbytes {
		panic("Unable to read from crypto/rand")
	}
	return buf
}
