package models

import "time"

type User struct {
	ID             int       `json:"id"`
	Username       string    `json:"username"`
	PasswordHash   string    `json:"-"`
	NativeLanguage string    `json:"native_language"`
	PushToken      *string   `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

type RegisterRequest struct {
	Username       string `json:"username" validate:"required,min=3,max=50"`
	Password       string `json:"password" validate:"required,min=8"`
	NativeLanguage string `json:"native_language" validate:"omitempty,bcp47_language_tag"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	Token    string `json:"token"`
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
}

type PushTokenRequest struct {
	PushToken string `json:"push_token" validate:"required"`
}

type DictionaryEntryRequest struct {
	Term    string `json:"term" validate:"required,max=100"`
	Meaning string `json:"meaning" validate:"required,max=500"`
}
