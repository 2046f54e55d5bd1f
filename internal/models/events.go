package models

import (
	"encoding/json"
	"time"
)

// Client -> server frames. Every frame is an envelope with an event name
// and a typed payload; payloads are strictly validated and there is
// exactly one accepted spelling per field.

type ClientEnvelope struct {
	Event string          `json:"event" validate:"required"`
	Data  json.RawMessage `json:"data"`
}

const (
	EventJoinRoom       = "joinRoom"
	EventLeaveRoom      = "leaveRoom"
	EventSendMessage    = "sendMessage"
	EventEditMessage    = "editMessage"
	EventDeleteMessages = "deleteMessages"
)

type JoinRoomPayload struct {
	RoomID string `json:"room_id" validate:"required,uuid4"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"room_id" validate:"required,uuid4"`
}

type SendMessagePayload struct {
	RoomID      string      `json:"room_id" validate:"required,uuid4"`
	ContentType ContentType `json:"content_type" validate:"required,oneof=TEXT AUDIO IMAGE DOCUMENT"`
	RawContent  string      `json:"raw_content,omitempty" validate:"max=2000"`
	FileRef     string      `json:"file_ref,omitempty" validate:"omitempty,max=500"`
}

type EditMessagePayload struct {
	RoomID     string `json:"room_id" validate:"required,uuid4"`
	MessageID  string `json:"message_id" validate:"required,uuid4"`
	NewContent string `json:"new_content" validate:"required"`
}

type DeleteMessagesPayload struct {
	RoomID     string   `json:"room_id" validate:"required,uuid4"`
	MessageIDs []string `json:"message_ids" validate:"required,min=1,dive,uuid4"`
}

// Server -> client events form a closed tagged union: each event is a
// struct with a fixed field set, written on the wire as
// {"event": <name>, "data": <payload>}.

type ServerEvent interface {
	EventName() string
}

// Frame is the wire envelope for server events.
type Frame struct {
	Event string      `json:"event"`
	Data  ServerEvent `json:"data"`
}

// NewFrame wraps an event for transmission.
func NewFrame(ev ServerEvent) Frame {
	return Frame{Event: ev.EventName(), Data: ev}
}

type RoomJoined struct {
	RoomID string `json:"room_id"`
}

func (RoomJoined) EventName() string { return "roomJoined" }

type RoomLeft struct {
	RoomID string `json:"room_id"`
}

func (RoomLeft) EventName() string { return "roomLeft" }

type NewMessage struct {
	MessageID        string            `json:"message_id"`
	RoomID           string            `json:"room_id"`
	SenderID         int               `json:"sender_id"`
	ContentType      ContentType       `json:"content_type"`
	OriginalText     string            `json:"original_text"`
	FileRef          string            `json:"file_ref,omitempty"`
	Transcription    *string           `json:"transcription"`
	Translations     Translations      `json:"translations"`
	ConfidenceScore  *int16            `json:"confidence_score"`
	ExtractedActions []ExtractedAction `json:"extracted_actions,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

func (NewMessage) EventName() string { return "newMessage" }

type MessageEdited struct {
	RoomID          string       `json:"room_id"`
	MessageID       string       `json:"message_id"`
	NewContent      string       `json:"new_content"`
	Translations    Translations `json:"translations"`
	ConfidenceScore *int16       `json:"confidence_score"`
	IsEdited        bool         `json:"is_edited"`
}

func (MessageEdited) EventName() string { return "messageEdited" }

type MessagesDeleted struct {
	RoomID     string   `json:"room_id"`
	MessageIDs []string `json:"message_ids"`
	DeletedBy  int      `json:"deleted_by"`
}

func (MessagesDeleted) EventName() string { return "messagesDeleted" }

type MessageFailed struct {
	Reason string `json:"reason"`
}

func (MessageFailed) EventName() string { return "messageFailed" }

type EditFailed struct {
	MessageID string `json:"message_id"`
	Reason    string `json:"reason"`
}

func (EditFailed) EventName() string { return "editFailed" }

type DeleteFailed struct {
	Reason string `json:"reason"`
}

func (DeleteFailed) EventName() string { return "deleteFailed" }

type ErrorEvent struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func (ErrorEvent) EventName() string { return "error" }

// NewMessageEvent builds the broadcast payload for a persisted message.
func NewMessageEvent(m *Message) NewMessage {
	ev := NewMessage{
		MessageID:        m.ID,
		RoomID:           m.RoomID,
		SenderID:         m.SenderID,
		ContentType:      m.ContentType,
		Transcription:    m.Transcription,
		Translations:     m.Translations,
		ConfidenceScore:  m.ConfidenceScore,
		ExtractedActions: m.ExtractedActions,
		CreatedAt:        m.CreatedAt,
	}
	if m.ContentType == ContentTypeText {
		ev.OriginalText = m.RawContent
	} else {
		ev.FileRef = m.RawContent
	}
	return ev
}
