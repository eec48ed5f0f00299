package auth

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned for any failed login.
var ErrBadCredentials = errors.New("invalid username or password")

// Staff is the front desk account allowed to log in.
type Staff struct {
	Username     string
	PasswordHash string
}

// Authenticate checks a username and password against the account.
func (s Staff) Authenticate(username, password string) error {
	if s.PasswordHash == "" {
		return ErrBadCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.Username)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(s.PasswordHash), []byte(password))
	if !userOK || passErr != nil {
		return ErrBadCredentials
	}
	return nil
}

// HashPassword returns a bcrypt hash suitable for STAFF_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
