package service

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"neuralnexus/internal/domain"
	"neuralnexus/internal/logging"
	"neuralnexus/internal/repository"
	"neuralnexus/internal/validation"
)

const avatarPrefix = "avatars/"

type UserProfileService struct {
	profileRepo *repository.ProfileRepository
	userRepo    *repository.UserRepository
	items       *repository.ItemStore
	notifier    Notifier
	now         func() time.Time
}

func NewUserProfileService(
	profileRepo *repository.ProfileRepository,
	userRepo *repository.UserRepository,
	items *repository.ItemStore,
	notifier Notifier,
) *UserProfileService {
	return &UserProfileService{
		profileRepo: profileRepo,
		userRepo:    userRepo,
		items:       items,
		notifier:    notifier,
		now:         time.Now,
	}
}

func (s *UserProfileService) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	return s.profileRepo.Get(ctx, userID)
}

// SaveProfile создает профиль или обновляет переданные поля
// и отправляет пользователю уведомление.
func (s *UserProfileService) SaveProfile(ctx context.Context, userID string, in domain.ProfileInput) (*domain.UserProfile, error) {
	if err := validation.ValidateStruct(&in); err != nil {
		return nil, err
	}
	return s.save(ctx, userID, func(p *domain.UserProfile) {
		if in.DisplayName != nil {
			p.DisplayName = *in.DisplayName
		}
		if in.Bio != nil {
			p.Bio = *in.Bio
		}
		if in.Website != nil {
			p.Website = *in.Website
		}
		if in.Location != nil {
			p.Location = *in.Location
		}
		if in.SocialLinks != nil {
			p.SocialLinks = in.SocialLinks
		}
	})
}

func (s *UserProfileService) save(ctx context.Context, userID string, fn func(*domain.UserProfile)) (*domain.UserProfile, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	profile, err := s.profileRepo.Save(ctx, userID, func(p *domain.UserProfile) error {
		fn(p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}

	s.notify(ctx, user)
	return profile, nil
}

// notify ошибка отправки не влияет на сохранение профиля
func (s *UserProfileService) notify(ctx context.Context, user *domain.User) {
	if s.notifier == nil {
		return
	}
	name := user.DisplayName
	if name == "" {
		name = user.Username
	}
	body := fmt.Sprintf("Hi %s,\n\nYour Neural Nexus profile was updated at %s.\n",
		name, s.now().UTC().Format(time.RFC1123))
	if err := s.notifier.Notify(ctx, user.Email, "Profile updated", body); err != nil {
		logging.Warn().Err(err).Str("user_id", user.ID).Msg("[ProfileService] Failed to send profile notification")
	}
}

func avatarExt(fileName, contentType string) string {
	if ext := strings.ToLower(path.Ext(fileName)); ext != "" && len(ext) <= 6 {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// avatarPath ключ хранилища по публичному адресу аватара
func avatarPath(url string) string {
	i := strings.LastIndex(url, avatarPrefix)
	if i < 0 {
		return ""
	}
	return url[i:]
}

// UploadAvatar загружает аватар в avatars/<userId>-<unixMillis><ext>,
// удаляет предыдущий и сохраняет профиль.
func (s *UserProfileService) UploadAvatar(ctx context.Context, userID, fileName string, data []byte, contentType string) (*domain.UserProfile, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return nil, domain.NewValidationError("file", "avatar must be an image")
	}
	if len(data) == 0 {
		return nil, domain.NewValidationError("file", "file is empty")
	}
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	var oldURL string
	if current, err := s.profileRepo.Get(ctx, userID); err == nil {
		oldURL = current.AvatarURL
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	key := fmt.Sprintf("%s%s-%d%s", avatarPrefix, userID, s.now().UnixMilli(), avatarExt(fileName, contentType))
	url, err := s.items.UploadFile(ctx, key, data, contentType)
	if err != nil {
		return nil, err
	}

	if old := avatarPath(oldURL); old != "" && old != key {
		if err := s.items.DeleteFile(ctx, old); err != nil {
			logging.Warn().Err(err).Str("path", old).Msg("[ProfileService] Failed to delete old avatar")
		}
	}

	return s.save(ctx, userID, func(p *domain.UserProfile) {
		p.AvatarURL = url
	})
}

// DeleteProfile удаляет профиль и файл аватара
func (s *UserProfileService) DeleteProfile(ctx context.Context, userID string) error {
	profile, err := s.profileRepo.Get(ctx, userID)
	if err != nil {
		return err
	}
	if p := avatarPath(profile.AvatarURL); p != "" {
		if err := s.items.DeleteFile(ctx, p); err != nil {
			logging.Warn().Err(err).Str("path", p).Msg("[ProfileService] Failed to delete avatar")
		}
	}
	if _, err := s.profileRepo.Delete(ctx, userID); err != nil {
		return err
	}
	return nil
}
