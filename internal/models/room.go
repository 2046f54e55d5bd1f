package models

import "time"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type Room struct {
	ID        string    `json:"id"`
	Name      *string   `json:"name"`
	IsGroup   bool      `json:"is_group"`
	CreatedAt time.Time `json:"created_at"`
}

// Member is a room membership joined with the profile fields the
// pipeline reads (native language, push token).
type Member struct {
	UserID            int       `json:"user_id"`
	Username          string    `json:"username"`
	Role              Role      `json:"role"`
	PreferredLanguage *string   `json:"preferred_language"`
	NativeLanguage    string    `json:"native_language"`
	PushToken         *string   `json:"-"`
	JoinedAt          time.Time `json:"joined_at"`
}

type CreateDirectRoomRequest struct {
	RecipientID int `json:"recipient_id" validate:"required"`
}

type CreateGroupRoomRequest struct {
	Name      string `json:"name" validate:"required,max=100"`
	MemberIDs []int  `json:"member_ids" validate:"required,min=1,dive,required"`
}

type RoomResponse struct {
	RoomID string `json:"room_id"`
	IsNew  bool   `json:"is_new"`
}
