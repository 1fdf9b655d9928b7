package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuralnexus/internal/domain"
)

func TestUserProfileService_SaveProfile(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice")

	bio := "ML engineer"
	site := "https://alice.dev"
	profile, err := env.profiles.SaveProfile(ctx, u.ID, domain.ProfileInput{
		Bio:         &bio,
		Website:     &site,
		SocialLinks: map[string]string{"github": "https://github.com/alice"},
	})
	require.NoError(t, err)
	assert.Equal(t, u.ID, profile.UserID)
	assert.Equal(t, "ML engineer", profile.Bio)

	require.Equal(t, 1, env.notifier.count())
	sent := env.notifier.sent[0]
	assert.Equal(t, "alice@example.com", sent.to)
	assert.Equal(t, "Profile updated", sent.subject)
	assert.Contains(t, sent.body, "alice")

	location := "Berlin"
	profile, err = env.profiles.SaveProfile(ctx, u.ID, domain.ProfileInput{Location: &location})
	require.NoError(t, err)
	assert.Equal(t, "ML engineer", profile.Bio)
	assert.Equal(t, "Berlin", profile.Location)

	bad := "not a url"
	_, err = env.profiles.SaveProfile(ctx, u.ID, domain.ProfileInput{Website: &bad})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.profiles.SaveProfile(ctx, "missing", domain.ProfileInput{Bio: &bio})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUserProfileService_NotifierFailureIgnored(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice")
	env.notifier.err = errors.New("smtp down")

	bio := "hello"
	profile, err := env.profiles.SaveProfile(ctx, u.ID, domain.ProfileInput{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "hello", profile.Bio)

	got, err := env.profiles.GetProfile(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Bio)
}

func TestUserProfileService_UploadAvatar(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice")

	first, err := env.profiles.UploadAvatar(ctx, u.ID, "me.png", []byte("png"), "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.AvatarURL, "/uploads/avatars/"+u.ID+"-"))
	assert.True(t, strings.HasSuffix(first.AvatarURL, ".png"))
	oldPath := avatarPath(first.AvatarURL)

	env.profiles.now = func() time.Time { return time.Now().Add(time.Second) }
	second, err := env.profiles.UploadAvatar(ctx, u.ID, "me.jpg", []byte("jpg"), "image/jpeg")
	require.NoError(t, err)
	assert.NotEqual(t, first.AvatarURL, second.AvatarURL)

	_, err = env.items.StatFile(ctx, oldPath)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = env.items.StatFile(ctx, avatarPath(second.AvatarURL))
	assert.NoError(t, err)

	_, err = env.profiles.UploadAvatar(ctx, u.ID, "doc.pdf", []byte("pdf"), "application/pdf")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = env.profiles.UploadAvatar(ctx, u.ID, "empty.png", nil, "image/png")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUserProfileService_DeleteProfile(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice")

	profile, err := env.profiles.UploadAvatar(ctx, u.ID, "me.png", []byte("png"), "image/png")
	require.NoError(t, err)

	require.NoError(t, env.profiles.DeleteProfile(ctx, u.ID))

	_, err = env.profiles.GetProfile(ctx, u.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = env.items.StatFile(ctx, avatarPath(profile.AvatarURL))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, env.profiles.DeleteProfile(ctx, u.ID), domain.ErrNotFound)
}

func TestAvatarPath(t *testing.T) {
	assert.Equal(t, "avatars/u-1.png", avatarPath("https://cdn.example.com/bucket/avatars/u-1.png"))
	assert.Equal(t, "avatars/u-1.png", avatarPath("/uploads/avatars/u-1.png"))
	assert.Empty(t, avatarPath("https://example.com/other.png"))
	assert.Empty(t, avatarPath(""))
}
