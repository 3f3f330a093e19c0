package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkalinski-dev/materio/internal/models"
)

type fakeUserDB struct {
	fakeImportDB
	mu    sync.Mutex
	users map[string]*models.User
}

func newFakeUserDB() *fakeUserDB {
	return &fakeUserDB{users: make(map[string]*models.User)}
}

func (f *fakeUserDB) CreateUser(_ context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *u
	f.users[u.Email] = &cp
	return nil
}

func (f *fakeUserDB) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[email]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func TestRegisterNormalizesEmail(t *testing.T) {
	svc := NewUserService(newFakeUserDB())

	user, err := svc.Register(context.Background(), "Mara", "  Mara@Example.COM ", "terrazzo-pass")
	require.NoError(t, err)
	assert.Equal(t, "mara@example.com", user.Email)
	assert.Equal(t, "Mara", user.FirstName)
	assert.NotEmpty(t, user.ID)
	assert.NotEqual(t, "terrazzo-pass", user.PasswordHash)

	// lookup is case-insensitive too
	found, err := svc.GetByEmail(context.Background(), "MARA@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, user.ID, found.ID)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc := NewUserService(newFakeUserDB())

	_, err := svc.Register(context.Background(), "Mara", "mara@example.com", "terrazzo-pass")
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), "Other", "Mara@example.com", "different-pass")
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	svc := NewUserService(newFakeUserDB())

	_, err := svc.Register(context.Background(), "Mara", "not-an-email", "terrazzo-pass")
	require.Error(t, err)

	_, err = svc.Register(context.Background(), "Mara", "mara@example.com", "short")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least")
}

func TestAuthenticate(t *testing.T) {
	svc := NewUserService(newFakeUserDB())

	_, err := svc.Register(context.Background(), "Mara", "mara@example.com", "terrazzo-pass")
	require.NoError(t, err)

	user, err := svc.Authenticate(context.Background(), "mara@example.com", "terrazzo-pass")
	require.NoError(t, err)
	assert.Equal(t, "mara@example.com", user.Email)

	_, err = svc.Authenticate(context.Background(), "mara@example.com", "wrong-pass")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(context.Background(), "nobody@example.com", "terrazzo-pass")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}
