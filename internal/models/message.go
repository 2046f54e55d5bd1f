package models

import "time"

type ContentType string

const (
	ContentTypeText     ContentType = "TEXT"
	ContentTypeAudio    ContentType = "AUDIO"
	ContentTypeImage    ContentType = "IMAGE"
	ContentTypeDocument ContentType = "DOCUMENT"
)

func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeText, ContentTypeAudio, ContentTypeImage, ContentTypeDocument:
		return true
	}
	return false
}

type ActionType string

const (
	ActionMeeting  ActionType = "MEETING"
	ActionReminder ActionType = "REMINDER"
)

// ExtractedAction is a structured meeting/reminder inferred from message
// content. Timestamp is always absolute; relative phrases are resolved
// by the mediation provider against the submission time.
type ExtractedAction struct {
	Type        ActionType `json:"type"`
	Title       string     `json:"title"`
	Timestamp   time.Time  `json:"timestamp"`
	Description string     `json:"description,omitempty"`
}

// Translations maps a language code to the rendering in that language.
type Translations map[string]string

// Message is a persisted chat message. Translations and ConfidenceScore
// are both nil until mediation completes, then both set.
type Message struct {
	ID               string            `json:"id"`
	RoomID           string            `json:"room_id"`
	SenderID         int               `json:"sender_id"`
	ContentType      ContentType       `json:"content_type"`
	RawContent       string            `json:"raw_content"`
	Transcription    *string           `json:"transcription"`
	Translations     Translations      `json:"translations"`
	ConfidenceScore  *int16            `json:"confidence_score"`
	ExtractedActions []ExtractedAction `json:"extracted_actions,omitempty"`
	IsEdited         bool              `json:"is_edited"`
	CreatedAt        time.Time         `json:"created_at"`
}

// SearchResult is one search hit with a highlight snippet.
type SearchResult struct {
	Message Message `json:"message"`
	Snippet string  `json:"snippet"`
}
