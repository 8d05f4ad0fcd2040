package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations is the PBKDF2 cost factor used for every stored password.
	Iterations = 100000
	keyLength  = 32
	saltBytes  = 16
)

// HashPassword derives the hex-encoded PBKDF2-HMAC-SHA256 digest of password.
// The salt string's own bytes are the PBKDF2 salt, which keeps hashes
// compatible with existing credentials.json files.
func HashPassword(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), Iterations, keyLength, sha256.New)
	return hex.EncodeToString(key)
}

// VerifyPassword reports whether password hashes to encoded under salt.
// The comparison runs in constant time.
func VerifyPassword(password, salt, encoded string) bool {
	computed := HashPassword(password, salt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(encoded)) == 1
}

// GenerateSalt returns 16 random bytes as 32 hex characters.
func GenerateSalt() (string, error) {
	b := make([]byte, saltBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
