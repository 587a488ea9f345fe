package couch

import (
	"context"
	"errors"
	"fmt"

	"fieldsync/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	FindByUserName(ctx context.Context, userName string) (*domain.User, error)
	UserNameExists(ctx context.Context, userName string) (bool, error)
}

type userRepository struct {
	client *kivik.Client
	dbName string
}

func NewUserRepository(client *kivik.Client, dbName string) UserRepository {
	return &userRepository{
		client: client,
		dbName: dbName,
	}
}

type userDoc struct {
	Type string `json:"type"`
	*domain.User
}

func userDocID(userName string) string {
	return fmt.Sprintf("user:%s", userName)
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	db := r.client.DB(r.dbName)

	_, err := db.Put(ctx, userDocID(user.UserName), userDoc{Type: "user", User: user})
	if err != nil {
		if kivik.HTTPStatus(err) == 409 {
			return fmt.Errorf("user name already taken")
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *userRepository) FindByUserName(ctx context.Context, userName string) (*domain.User, error) {
	db := r.client.DB(r.dbName)

	var user domain.User
	if err := db.Get(ctx, userDocID(userName)).ScanDoc(&user); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("user %s: %w", userName, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

func (r *userRepository) UserNameExists(ctx context.Context, userName string) (bool, error) {
	_, err := r.FindByUserName(ctx, userName)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
