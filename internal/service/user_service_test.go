package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuralnexus/internal/domain"
	"neuralnexus/internal/repository"
)

func TestUserService_CreateUser(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	u, err := env.users.CreateUser(ctx, domain.CreateUserInput{
		Email:    "  Alice@Example.com ",
		Username: "alice",
		Password: "password123",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, domain.RoleUser, u.Role)
	assert.NotEqual(t, "password123", u.PasswordHash)
	assert.False(t, u.CreatedAt.IsZero())

	info, err := env.quota.GetQuotaInfo(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultQuotaBytes, info.TotalSpace)

	_, err = env.users.CreateUser(ctx, domain.CreateUserInput{Email: "alice@example.com", Username: "other", Password: "password123"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = env.users.CreateUser(ctx, domain.CreateUserInput{Email: "new@example.com", Username: "alice", Password: "password123"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = env.users.CreateUser(ctx, domain.CreateUserInput{Email: "bad", Username: "bob", Password: "password123"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUserService_ConcurrentCreateSameEmail(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, name := range []string{"first", "second"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, _ = env.users.CreateUser(ctx, domain.CreateUserInput{
				Email:    "race@example.com",
				Username: name,
				Password: "password123",
			})
		}(name)
	}
	wg.Wait()

	// проверка уникальности не атомарна: допустимы один или два пользователя
	users, err := env.users.ListUsers(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(users), 1)
	assert.LessOrEqual(t, len(users), 2)
}

func TestUserService_Authenticate(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice")

	got, err := env.users.Authenticate(ctx, "ALICE@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = env.users.Authenticate(ctx, "alice@example.com", "wrong-password")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = env.users.Authenticate(ctx, "nobody@example.com", "password123")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestUserService_UpdateUser(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	env.createUser(t, "bob")

	name := "Alice A."
	updated, err := env.users.UpdateUser(ctx, alice.ID, domain.UpdateUserInput{DisplayName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", updated.DisplayName)
	assert.Equal(t, alice.CreatedAt, updated.CreatedAt)

	taken := "bob"
	_, err = env.users.UpdateUser(ctx, alice.ID, domain.UpdateUserInput{Username: &taken})
	assert.ErrorIs(t, err, domain.ErrConflict)

	same := "alice"
	_, err = env.users.UpdateUser(ctx, alice.ID, domain.UpdateUserInput{Username: &same})
	assert.NoError(t, err)
}

func TestUserService_ChangePassword(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice")

	assert.ErrorIs(t, env.users.ChangePassword(ctx, u.ID, "wrong-password", "newpassword1"), domain.ErrUnauthorized)
	assert.ErrorIs(t, env.users.ChangePassword(ctx, u.ID, "password123", "short"), domain.ErrValidation)
	require.NoError(t, env.users.ChangePassword(ctx, u.ID, "password123", "newpassword1"))

	_, err := env.users.Authenticate(ctx, "alice@example.com", "newpassword1")
	assert.NoError(t, err)
}

func TestUserService_PasswordReset(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice")

	token, err := env.users.CreatePasswordResetToken(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Len(t, token, 64)
	assert.Equal(t, 1, env.notifier.count())

	stored, err := env.users.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.NotEqual(t, token, stored.ResetTokenHash)
	require.NotNil(t, stored.ResetTokenExpiry)

	assert.ErrorIs(t, env.users.ResetPassword(ctx, "bogus", "newpassword1"), domain.ErrUnauthorized)
	require.NoError(t, env.users.ResetPassword(ctx, token, "newpassword1"))
	assert.ErrorIs(t, env.users.ResetPassword(ctx, token, "another-one"), domain.ErrUnauthorized)

	_, err = env.users.Authenticate(ctx, "alice@example.com", "newpassword1")
	assert.NoError(t, err)
}

func TestUserService_PasswordResetExpired(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice")

	token, err := env.users.CreatePasswordResetToken(ctx, "alice@example.com")
	require.NoError(t, err)

	env.users.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.ErrorIs(t, env.users.ResetPassword(ctx, token, "newpassword1"), domain.ErrUnauthorized)
}

func TestUserService_Follow(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	require.NoError(t, env.users.FollowUser(ctx, alice.ID, bob.ID))
	require.NoError(t, env.users.FollowUser(ctx, alice.ID, bob.ID))

	followers, err := env.users.GetFollowers(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, alice.ID, followers[0].ID)

	following, err := env.users.GetFollowing(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, following, 1)
	assert.Equal(t, bob.ID, following[0].ID)

	assert.ErrorIs(t, env.users.FollowUser(ctx, alice.ID, alice.ID), domain.ErrValidation)
	assert.ErrorIs(t, env.users.FollowUser(ctx, alice.ID, "missing"), domain.ErrNotFound)

	require.NoError(t, env.users.UnfollowUser(ctx, alice.ID, bob.ID))
	followers, err = env.users.GetFollowers(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, followers)
}

func TestUserService_ConcurrentFollowers(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	target := env.createUser(t, "target")

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = env.createUser(t, "fan"+string(rune('a'+i))).ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, env.users.FollowUser(ctx, id, target.ID))
		}(id)
	}
	wg.Wait()

	got, err := env.users.GetUserByID(ctx, target.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, got.Followers)
}

func TestUserService_DeleteUser(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice")

	_, err := env.apiKeys.CreateApiKey(ctx, u.ID, "ci", domain.KeyTypeTest)
	require.NoError(t, err)
	bio := "hello"
	_, err = env.profiles.SaveProfile(ctx, u.ID, domain.ProfileInput{Bio: &bio})
	require.NoError(t, err)

	require.NoError(t, env.users.DeleteUser(ctx, u.ID))

	_, err = env.users.GetUserByID(ctx, u.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = env.profiles.GetProfile(ctx, u.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	keys, err := env.apiKeys.ListApiKeys(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, keys)

	quotas, err := env.items.Query(ctx, repository.CollectionStorageQuotas, repository.All())
	require.NoError(t, err)
	assert.Empty(t, quotas)

	assert.ErrorIs(t, env.users.DeleteUser(ctx, u.ID), domain.ErrNotFound)
}

func TestUserService_DeleteUserCleansLinksAndModels(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	carol := env.createUser(t, "carol")

	require.NoError(t, env.users.FollowUser(ctx, bob.ID, alice.ID))
	require.NoError(t, env.users.FollowUser(ctx, alice.ID, carol.ID))

	uploaded, err := env.models.UploadModelFile(ctx, alice.ID, "w.bin", []byte("0123456789"), "")
	require.NoError(t, err)
	kept, err := env.models.CreateModel(ctx, alice.ID, domain.CreateModelInput{Name: "kept", Category: "x", FilePath: uploaded.Path})
	require.NoError(t, err)
	trashed := env.createModel(t, alice.ID, "trashed")
	require.NoError(t, env.models.DeleteModel(ctx, trashed.ID, alice.ID))
	bobs := env.createModel(t, bob.ID, "bobs")

	require.NoError(t, env.users.DeleteUser(ctx, alice.ID))

	b, err := env.userRepo.GetByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.NotContains(t, b.Following, alice.ID)
	c, err := env.userRepo.GetByID(ctx, carol.ID)
	require.NoError(t, err)
	assert.NotContains(t, c.Followers, alice.ID)

	for _, id := range []string{kept.ID, trashed.ID} {
		_, err = env.modelRepo.GetByID(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
	_, err = env.modelRepo.GetByID(ctx, bobs.ID)
	assert.NoError(t, err)

	// квота не пересоздается освобождением места
	_, err = env.items.Get(ctx, repository.CollectionStorageQuotas, alice.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
