package authpw

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"warbler/internal/forms"
	"warbler/internal/store"
)

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	users     map[int64]store.User
	nextID    int64
	createErr error
	lookupErr error
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[int64]store.User), nextID: 1}
}

func (m *mockUserStore) FindUserByUsername(ctx context.Context, username string) (*store.User, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	for _, user := range m.users {
		if user.Username == username {
			u := user
			return &u, nil
		}
	}
	return nil, nil
}

func (m *mockUserStore) FindUserByEmail(ctx context.Context, email string) (*store.User, error) {
	for _, user := range m.users {
		if user.Email == email {
			u := user
			return &u, nil
		}
	}
	return nil, nil
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) (store.User, error) {
	if m.createErr != nil {
		return store.User{}, m.createErr
	}
	user.ID = m.nextID
	m.nextID++
	m.users[user.ID] = user
	return user, nil
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore, bcrypt.MinCost)

	t.Run("successful sign up", func(t *testing.T) {
		user, err := svc.SignUp(ctx, SignUpRequest{
			Username: "  testuser ",
			Email:    "test@test.com",
			Password: "testuser",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.ID == 0 {
			t.Error("expected ID to be set")
		}
		if user.Username != "testuser" {
			t.Errorf("expected trimmed username, got %q", user.Username)
		}
		if user.PasswordHash == "testuser" || !strings.HasPrefix(user.PasswordHash, "$2") {
			t.Errorf("expected a bcrypt hash, got %q", user.PasswordHash)
		}
	})

	t.Run("duplicate username", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{Username: "testuser", Email: "other@test.com", Password: "password"})
		if !errors.Is(err, ErrUsernameTaken) {
			t.Errorf("expected ErrUsernameTaken, got %v", err)
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{Username: "test2", Email: "test@test.com", Password: "password"})
		if !errors.Is(err, ErrUsernameTaken) {
			t.Errorf("expected ErrUsernameTaken, got %v", err)
		}
	})

	t.Run("short password", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{Username: "test3", Email: "t3@test.com", Password: "abc"})
		var fieldErrs forms.Errors
		if !errors.As(err, &fieldErrs) || !fieldErrs.Has("password") {
			t.Errorf("expected password field error, got %v", err)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{})
		var fieldErrs forms.Errors
		if !errors.As(err, &fieldErrs) {
			t.Fatalf("expected forms.Errors, got %v", err)
		}
		if !fieldErrs.Has("username") || !fieldErrs.Has("email") {
			t.Errorf("expected username and email errors, got %v", fieldErrs)
		}
	})

	t.Run("store reports duplicate", func(t *testing.T) {
		racing := newMockUserStore()
		racing.createErr = store.ErrDuplicate
		_, err := NewService(racing, bcrypt.MinCost).SignUp(ctx, SignUpRequest{Username: "x", Email: "x@test.com", Password: "password"})
		if !errors.Is(err, ErrUsernameTaken) {
			t.Errorf("expected ErrUsernameTaken, got %v", err)
		}
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore, bcrypt.MinCost)

	created, err := svc.SignUp(ctx, SignUpRequest{Username: "testuser", Email: "test@test.com", Password: "testuser"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}

	t.Run("successful sign in", func(t *testing.T) {
		user, err := svc.SignIn(ctx, SignInRequest{Username: "testuser", Password: "testuser"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.ID != created.ID {
			t.Errorf("expected user %d, got %d", created.ID, user.ID)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{Username: "testuser", Password: "wrongpass"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{Username: "nobody", Password: "password"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("lookup failure", func(t *testing.T) {
		failing := newMockUserStore()
		failing.lookupErr = errors.New("db down")
		_, err := NewService(failing, bcrypt.MinCost).SignIn(ctx, SignInRequest{Username: "testuser", Password: "testuser"})
		if err == nil || errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected storage error, got %v", err)
		}
	})
}
