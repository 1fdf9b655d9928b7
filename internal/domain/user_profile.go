package domain

import "time"

type UserProfile struct {
	ID          string            `json:"id"`
	UserID      string            `json:"userId"`
	DisplayName string            `json:"displayName,omitempty"`
	Bio         string            `json:"bio,omitempty"`
	Website     string            `json:"website,omitempty"`
	Location    string            `json:"location,omitempty"`
	AvatarURL   string            `json:"avatarUrl,omitempty"`
	SocialLinks map[string]string `json:"socialLinks,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// ProfileInput поля профиля, nil означает "не менять"
type ProfileInput struct {
	DisplayName *string           `json:"displayName" validate:"omitempty,max=100"`
	Bio         *string           `json:"bio" validate:"omitempty,max=1000"`
	Website     *string           `json:"website" validate:"omitempty,url,max=2048"`
	Location    *string           `json:"location" validate:"omitempty,max=100"`
	SocialLinks map[string]string `json:"socialLinks" validate:"omitempty,max=10,dive,keys,max=32,endkeys,url"`
}
