package domain

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Username         string     `json:"username"`
	DisplayName      string     `json:"displayName,omitempty"`
	PasswordHash     string     `json:"passwordHash,omitempty"`
	Role             string     `json:"role"`
	Followers        []string   `json:"followers"`
	Following        []string   `json:"following"`
	ResetTokenHash   string     `json:"resetTokenHash,omitempty"`
	ResetTokenExpiry *time.Time `json:"resetTokenExpiry,omitempty"`
	EmailVerified    bool       `json:"emailVerified"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// PublicUser пользователь без секретов, для ответов API
type PublicUser struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Username       string    `json:"username"`
	DisplayName    string    `json:"displayName,omitempty"`
	Role           string    `json:"role"`
	FollowersCount int       `json:"followersCount"`
	FollowingCount int       `json:"followingCount"`
	EmailVerified  bool      `json:"emailVerified"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:             u.ID,
		Email:          u.Email,
		Username:       u.Username,
		DisplayName:    u.DisplayName,
		Role:           u.Role,
		FollowersCount: len(u.Followers),
		FollowingCount: len(u.Following),
		EmailVerified:  u.EmailVerified,
		CreatedAt:      u.CreatedAt,
	}
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

type CreateUserInput struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Username    string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	DisplayName string `json:"displayName" validate:"omitempty,max=100"`
}

type UpdateUserInput struct {
	Email       *string `json:"email" validate:"omitempty,email,max=254"`
	Username    *string `json:"username" validate:"omitempty,min=3,max=32,alphanum"`
	DisplayName *string `json:"displayName" validate:"omitempty,max=100"`
}
