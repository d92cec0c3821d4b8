package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyPassword is returned when asked to hash an empty password.
var ErrEmptyPassword = errors.New("password must not be empty")

// PasswordCost is the bcrypt work factor for new hashes.
var PasswordCost = bcrypt.DefaultCost

// HashPassword hashes a user password with bcrypt.
func HashPassword(plain string) ([]byte, error) {
	if plain == "" {
		return nil, ErrEmptyPassword
	}
	return bcrypt.GenerateFromPassword([]byte(plain), PasswordCost)
}

// ComparePassword reports a non-nil error unless plain matches hash.
func ComparePassword(hash []byte, plain string) error {
	if len(hash) == 0 {
		return bcrypt.ErrMismatchedHashAndPassword
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(plain))
}

// NeedsRehash reports whether hash was produced with a weaker cost than
// PasswordCost.
func NeedsRehash(hash []byte) bool {
	cost, err := bcrypt.Cost(hash)
	return err != nil || cost < PasswordCost
}
