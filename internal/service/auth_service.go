package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fieldsync/internal/couch"
	"fieldsync/internal/domain"
	"fieldsync/pkg/hash"
	"fieldsync/pkg/jwt"

	"github.com/google/uuid"
)

type AuthService struct {
	userRepo      couch.UserRepository
	jwtSecret     string
	jwtExpiration time.Duration
	autoVerify    bool
	hashCost      int
}

// NewAuthService creates accounts as verified when autoVerify is set;
// otherwise they may only push to the unverified collection.
func NewAuthService(userRepo couch.UserRepository, jwtSecret string, jwtExp time.Duration, autoVerify bool) *AuthService {
	return &AuthService{
		userRepo:      userRepo,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExp,
		autoVerify:    autoVerify,
		hashCost:      hash.DefaultCost,
	}
}

func (s *AuthService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.User, error) {
	exists, err := s.userRepo.UserNameExists(ctx, req.UserName)
	if err != nil {
		return nil, fmt.Errorf("failed to check user name: %w", err)
	}
	if exists {
		return nil, ErrUserNameTaken
	}

	hashedPassword, err := hash.HashWithCost(req.Password, s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		UserName:     req.UserName,
		Organisation: req.Organisation,
		Password:     hashedPassword,
		Verified:     s.autoVerify,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	user.Password = ""
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	user, err := s.userRepo.FindByUserName(ctx, req.UserName)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := hash.Compare(user.Password, req.Password); err != nil {
		return nil, ErrInvalidCredentials
	}

	accessToken, err := jwt.NewToken(jwt.Claims{
		UserID:       user.UserName,
		Organisation: user.Organisation,
		Verified:     user.Verified,
	}, s.jwtExpiration, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	user.Password = ""
	return &domain.LoginResponse{
		User:        user,
		AccessToken: accessToken,
		ExpiresIn:   int64(s.jwtExpiration.Seconds()),
	}, nil
}

func (s *AuthService) ValidateToken(token string) (*jwt.Claims, error) {
	claims, err := jwt.ValidateToken(token, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}
