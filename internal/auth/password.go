package auth

import (
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/pliu/pairchat/internal/apperr"
)

// bcrypt ignores input past 72 bytes.
const maxPasswordBytes = 72

// CheckPasswordStrength requires 8-72 bytes with upper, lower, digit and
// symbol characters.
func CheckPasswordStrength(pw string) error {
	if len(pw) < 8 || len(pw) > maxPasswordBytes {
		return apperr.ErrWeakPassword
	}
	var upper, lower, digit, symbol bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if !upper || !lower || !digit || !symbol {
		return apperr.ErrWeakPassword
	}
	return nil
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeInternal, "hash password", err)
	}
	return string(b), nil
}

func CheckPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}
