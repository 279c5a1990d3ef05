package models

import "time"

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	AvatarURL    *string   `json:"avatar_url"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Avatar struct {
	Thumb string `json:"thumb"`
}

// PublicProfile is the part of a user that the other party may see.
type PublicProfile struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Avatar *Avatar `json:"avatar"`
}

func (u *User) PublicProfile() PublicProfile {
	return NewPublicProfile(u.ID, u.Name, u.AvatarURL)
}

func NewPublicProfile(id int64, name string, avatarURL *string) PublicProfile {
	profile := PublicProfile{ID: id, Name: name}
	if avatarURL != nil && *avatarURL != "" {
		profile.Avatar = &Avatar{Thumb: *avatarURL}
	}
	return profile
}
