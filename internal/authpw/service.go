// Package authpw provides username/password signup and login.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"warbler/internal/forms"
	"warbler/internal/store"
)

var (
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	FindUserByUsername(ctx context.Context, username string) (*store.User, error)
	FindUserByEmail(ctx context.Context, email string) (*store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
}

// Service provides username/password authentication
type Service struct {
	store UserStore
	cost  int
}

// NewService creates a new auth service. A cost of 0 uses bcrypt.DefaultCost.
func NewService(store UserStore, cost int) *Service {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{store: store, cost: cost}
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Username string
	Email    string
	Password string
	ImageURL string
}

// SignUp validates the request, hashes the password and creates the user.
// Field problems come back as forms.Errors.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	form := forms.SignupForm{
		Username: strings.TrimSpace(req.Username),
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
		ImageURL: strings.TrimSpace(req.ImageURL),
	}
	if errs := forms.Validate(form); errs != nil {
		return store.User{}, errs
	}

	if existing, err := s.store.FindUserByUsername(ctx, form.Username); err != nil {
		return store.User{}, err
	} else if existing != nil {
		return store.User{}, ErrUsernameTaken
	}
	if existing, err := s.store.FindUserByEmail(ctx, form.Email); err != nil {
		return store.User{}, err
	} else if existing != nil {
		return store.User{}, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(form.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, store.User{
		Username:     form.Username,
		Email:        form.Email,
		PasswordHash: string(hash),
		ImageURL:     form.ImageURL,
	})
	if errors.Is(err, store.ErrDuplicate) {
		return store.User{}, ErrUsernameTaken
	}
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignInRequest contains sign-in parameters
type SignInRequest struct {
	Username string
	Password string
}

// SignIn returns the user whose password matches, or ErrInvalidCredentials.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	form := forms.LoginForm{Username: strings.TrimSpace(req.Username), Password: req.Password}
	if errs := forms.Validate(form); errs != nil {
		return store.User{}, errs
	}

	user, err := s.store.FindUserByUsername(ctx, form.Username)
	if err != nil {
		return store.User{}, err
	}
	if user == nil {
		return store.User{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(form.Password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return *user, nil
}
