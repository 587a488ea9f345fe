package service

import "errors"

var (
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNameTaken      = errors.New("user name already taken")
)
