package hash

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultCost = 12
	MinLength   = 8
)

var ErrTooShort = fmt.Errorf("password must be at least %d characters", MinLength)

var ErrMismatch = errors.New("password does not match")

func Hash(password string) (string, error) {
	return HashWithCost(password, DefaultCost)
}

// HashWithCost lets tests and low-powered deployments trade strength for speed.
func HashWithCost(password string, cost int) (string, error) {
	if len(password) < MinLength {
		return "", ErrTooShort
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

func Compare(hashedPassword, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrMismatch
	}
	return err
}
