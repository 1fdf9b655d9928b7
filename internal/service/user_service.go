package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"neuralnexus/internal/domain"
	"neuralnexus/internal/logging"
	"neuralnexus/internal/repository"
	"neuralnexus/internal/validation"
)

const (
	bcryptCost    = 10
	resetTokenTTL = time.Hour
)

type UserService struct {
	userRepo     *repository.UserRepository
	profileRepo  *repository.ProfileRepository
	apiKeyRepo   *repository.ApiKeyRepository
	quotaService *StorageQuotaService
	models       *ModelService
	notifier     Notifier
	now          func() time.Time
}

func NewUserService(
	userRepo *repository.UserRepository,
	profileRepo *repository.ProfileRepository,
	apiKeyRepo *repository.ApiKeyRepository,
	quotaService *StorageQuotaService,
	models *ModelService,
	notifier Notifier,
) *UserService {
	return &UserService{
		userRepo:     userRepo,
		profileRepo:  profileRepo,
		apiKeyRepo:   apiKeyRepo,
		quotaService: quotaService,
		models:       models,
		notifier:     notifier,
		now:          time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ensureUnique проверяет, что email и username не заняты другим пользователем.
// Проверка не атомарна с последующей записью: два параллельных запроса
// с одинаковым email могут пройти оба.
func (s *UserService) ensureUnique(ctx context.Context, selfID, email, username string) error {
	if email != "" {
		existing, err := s.userRepo.GetByEmail(ctx, email)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("failed to check email: %w", err)
		}
		if existing != nil && existing.ID != selfID {
			return fmt.Errorf("email %q: %w", email, domain.ErrConflict)
		}
	}
	if username != "" {
		existing, err := s.userRepo.GetByUsername(ctx, username)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("failed to check username: %w", err)
		}
		if existing != nil && existing.ID != selfID {
			return fmt.Errorf("username %q: %w", username, domain.ErrConflict)
		}
	}
	return nil
}

// CreateUser регистрирует пользователя и создает ему квоту хранилища
func (s *UserService) CreateUser(ctx context.Context, in domain.CreateUserInput) (*domain.User, error) {
	in.Email = normalizeEmail(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if err := validation.ValidateStruct(&in); err != nil {
		return nil, err
	}

	if err := s.ensureUnique(ctx, "", in.Email, in.Username); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Username:     in.Username,
		DisplayName:  in.DisplayName,
		PasswordHash: string(hash),
		Role:         domain.RoleUser,
		Followers:    []string{},
		Following:    []string{},
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if _, err := s.quotaService.GetQuotaInfo(ctx, user.ID); err != nil {
		logging.Warn().Err(err).Str("user_id", user.ID).Msg("[UserService] Failed to create default quota")
	}

	logging.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("[UserService] User created")
	return user, nil
}

func (s *UserService) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

func (s *UserService) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.userRepo.GetByEmail(ctx, normalizeEmail(email))
}

func (s *UserService) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.userRepo.GetByUsername(ctx, strings.TrimSpace(username))
}

func (s *UserService) ListUsers(ctx context.Context) ([]*domain.User, error) {
	return s.userRepo.List(ctx)
}

// UpdateUser меняет отображаемые поля. Новые email и username проверяются на уникальность.
func (s *UserService) UpdateUser(ctx context.Context, id string, in domain.UpdateUserInput) (*domain.User, error) {
	if in.Email != nil {
		email := normalizeEmail(*in.Email)
		in.Email = &email
	}
	if err := validation.ValidateStruct(&in); err != nil {
		return nil, err
	}

	var email, username string
	if in.Email != nil {
		email = *in.Email
	}
	if in.Username != nil {
		username = *in.Username
	}
	if err := s.ensureUnique(ctx, id, email, username); err != nil {
		return nil, err
	}

	return s.userRepo.Mutate(ctx, id, func(u *domain.User) error {
		if in.Email != nil && *in.Email != u.Email {
			u.Email = *in.Email
			u.EmailVerified = false
		}
		if in.Username != nil {
			u.Username = *in.Username
		}
		if in.DisplayName != nil {
			u.DisplayName = *in.DisplayName
		}
		return nil
	})
}

// Authenticate проверяет email и пароль
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	user, err := s.userRepo.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
	}
	return user, nil
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return domain.NewValidationError("password", "must be at least 8")
	}
	if len(password) > 72 {
		return domain.NewValidationError("password", "must be at most 72")
	}
	return nil
}

func (s *UserService) ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)); err != nil {
		return fmt.Errorf("wrong password: %w", domain.ErrUnauthorized)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	_, err = s.userRepo.Mutate(ctx, id, func(u *domain.User) error {
		if u.PasswordHash != user.PasswordHash {
			return fmt.Errorf("password changed concurrently: %w", domain.ErrConflict)
		}
		u.PasswordHash = string(hash)
		u.ResetTokenHash = ""
		u.ResetTokenExpiry = nil
		return nil
	})
	return err
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// CreatePasswordResetToken выдает одноразовый токен сброса пароля на час.
// Хранится только SHA-256 токена.
func (s *UserService) CreatePasswordResetToken(ctx context.Context, email string) (string, error) {
	user, err := s.userRepo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return "", err
	}

	token, err := randomHex(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	expiry := s.now().Add(resetTokenTTL).UTC()

	if _, err := s.userRepo.Mutate(ctx, user.ID, func(u *domain.User) error {
		u.ResetTokenHash = hashToken(token)
		u.ResetTokenExpiry = &expiry
		return nil
	}); err != nil {
		return "", err
	}

	if s.notifier != nil {
		body := fmt.Sprintf("Your password reset code: %s\nIt expires at %s.", token, expiry.Format(time.RFC1123))
		if err := s.notifier.Notify(ctx, user.Email, "Password reset", body); err != nil {
			logging.Warn().Err(err).Str("user_id", user.ID).Msg("[UserService] Failed to send reset email")
		}
	}
	return token, nil
}

// ResetPassword устанавливает новый пароль по действующему токену сброса
func (s *UserService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("invalid reset token: %w", domain.ErrUnauthorized)
	}

	tokenHash := hashToken(token)
	user, err := s.userRepo.GetByResetTokenHash(ctx, tokenHash)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("invalid reset token: %w", domain.ErrUnauthorized)
	}
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	_, err = s.userRepo.Mutate(ctx, user.ID, func(u *domain.User) error {
		if u.ResetTokenHash != tokenHash || u.ResetTokenExpiry == nil || !now.Before(*u.ResetTokenExpiry) {
			return fmt.Errorf("reset token expired: %w", domain.ErrUnauthorized)
		}
		u.PasswordHash = string(hash)
		u.ResetTokenHash = ""
		u.ResetTokenExpiry = nil
		return nil
	})
	return err
}

func addUnique(list []string, v string) ([]string, bool) {
	if slices.Contains(list, v) {
		return list, false
	}
	return append(list, v), true
}

func removeValue(list []string, v string) ([]string, bool) {
	i := slices.Index(list, v)
	if i < 0 {
		return list, false
	}
	return slices.Delete(list, i, i+1), true
}

// FollowUser подписывает followerID на targetID. Две записи обновляются
// по отдельности; если вторая запись не удалась, первая откатывается.
func (s *UserService) FollowUser(ctx context.Context, followerID, targetID string) error {
	return s.updateFollow(ctx, followerID, targetID, addUnique, removeValue)
}

func (s *UserService) UnfollowUser(ctx context.Context, followerID, targetID string) error {
	return s.updateFollow(ctx, followerID, targetID, removeValue, addUnique)
}

type listOp func([]string, string) ([]string, bool)

func (s *UserService) updateFollow(ctx context.Context, followerID, targetID string, apply, undo listOp) error {
	if followerID == targetID {
		return domain.NewValidationError("userId", "cannot follow yourself")
	}
	if _, err := s.userRepo.GetByID(ctx, targetID); err != nil {
		return err
	}

	var changed bool
	if _, err := s.userRepo.Mutate(ctx, followerID, func(u *domain.User) error {
		u.Following, changed = apply(u.Following, targetID)
		return nil
	}); err != nil {
		return err
	}

	_, err := s.userRepo.Mutate(ctx, targetID, func(u *domain.User) error {
		u.Followers, _ = apply(u.Followers, followerID)
		return nil
	})
	if err == nil {
		return nil
	}

	if changed {
		if _, cerr := s.userRepo.Mutate(ctx, followerID, func(u *domain.User) error {
			u.Following, _ = undo(u.Following, targetID)
			return nil
		}); cerr != nil {
			logging.Error().Err(cerr).
				Str("follower_id", followerID).
				Str("target_id", targetID).
				Msg("[UserService] Failed to compensate follow update")
		}
	}
	return err
}

// detachFollows убирает удаляемого пользователя из списков подписок других
func (s *UserService) detachFollows(ctx context.Context, user *domain.User) {
	unlink := func(otherID string, list func(*domain.User) *[]string) {
		_, err := s.userRepo.Mutate(ctx, otherID, func(u *domain.User) error {
			*list(u), _ = removeValue(*list(u), user.ID)
			return nil
		})
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			logging.Warn().Err(err).
				Str("user_id", user.ID).
				Str("other_id", otherID).
				Msg("[UserService] Failed to detach follow link")
		}
	}
	for _, id := range user.Followers {
		unlink(id, func(u *domain.User) *[]string { return &u.Following })
	}
	for _, id := range user.Following {
		unlink(id, func(u *domain.User) *[]string { return &u.Followers })
	}
}

func (s *UserService) GetFollowers(ctx context.Context, id string) ([]*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.userRepo.GetByIDs(ctx, user.Followers)
}

func (s *UserService) GetFollowing(ctx context.Context, id string) ([]*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.userRepo.GetByIDs(ctx, user.Following)
}

// DeleteUser удаляет пользователя вместе с моделями, профилем, квотой,
// API ключами и подписками
func (s *UserService) DeleteUser(ctx context.Context, id string) error {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	// модели удаляются до квоты, иначе освобождение места создаст ее заново
	if n, err := s.models.DeleteUserModels(ctx, id); err != nil {
		return fmt.Errorf("failed to delete models: %w", err)
	} else if n > 0 {
		logging.Debug().Str("user_id", id).Int("count", n).Msg("[UserService] Deleted models")
	}
	s.detachFollows(ctx, user)

	if n, err := s.apiKeyRepo.DeleteByUser(ctx, id); err != nil {
		return fmt.Errorf("failed to delete api keys: %w", err)
	} else if n > 0 {
		logging.Debug().Str("user_id", id).Int("count", n).Msg("[UserService] Deleted api keys")
	}
	if _, err := s.profileRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	if err := s.quotaService.DeleteQuota(ctx, id); err != nil {
		return fmt.Errorf("failed to delete quota: %w", err)
	}

	deleted, err := s.userRepo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if !deleted {
		return fmt.Errorf("user %q: %w", id, domain.ErrNotFound)
	}

	logging.Info().Str("user_id", id).Msg("[UserService] User deleted")
	return nil
}
