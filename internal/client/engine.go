package client

import (
	"errors"
	"sync"
	"time"

	"linguachat-backend/internal/models"

	"github.com/google/uuid"
)

// Mode is the local UI state gating which placeholder/snapshot logic is
// active. Selection and edit are mutually exclusive.
type Mode int

const (
	ModeIdle Mode = iota
	ModeSelecting
	ModeEditing
)

var (
	ErrModeConflict   = errors.New("selection and edit modes are mutually exclusive")
	ErrUnknownMessage = errors.New("unknown message")
	ErrStillPending   = errors.New("message is still pending")
)

// LocalMessage is the sender-side view of a message. A Pending message
// is an optimistic placeholder that exists only until the authoritative
// broadcast (or a failure signal) arrives.
type LocalMessage struct {
	ID              string
	Pending         bool
	PendingEdit     bool
	SenderID        int
	ContentType     models.ContentType
	Content         string
	Translations    models.Translations
	ConfidenceScore *int16
	IsEdited        bool
	CreatedAt       time.Time
}

type editSnapshot struct {
	content      string
	translations models.Translations
	confidence   *int16
	isEdited     bool
}

// Engine keeps the local message list consistent with server truth
// under concurrent edits, deletes and retries. Index 0 is the newest
// message.
type Engine struct {
	mu        sync.Mutex
	selfID    int
	mode      Mode
	messages  []LocalMessage
	snapshots map[string]editSnapshot
}

func NewEngine(selfID int) *Engine {
	return &Engine{
		selfID:    selfID,
		snapshots: make(map[string]editSnapshot),
	}
}

// Submit inserts a pending placeholder at the head of the list and
// returns its temporary id. The UI never blocks on network latency;
// the actual emit happens after this returns.
func (e *Engine) Submit(contentType models.ContentType, content string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	tempID := uuid.New().String()
	e.messages = append([]LocalMessage{{
		ID:          tempID,
		Pending:     true,
		SenderID:    e.selfID,
		ContentType: contentType,
		Content:     content,
		CreatedAt:   time.Now(),
	}}, e.messages...)
	return tempID
}

// ApplyNewMessage reconciles an authoritative broadcast. A broadcast
// from the local user replaces the oldest pending placeholder from that
// user; with two submissions in flight this first-match correlation can
// pick the wrong one, which is why it lives in exactly one place.
// Broadcasts from peers are prepended as new messages.
func (e *Engine) ApplyNewMessage(ev models.NewMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()

	local := fromNewMessage(ev)
	if ev.SenderID == e.selfID {
		for i := len(e.messages) - 1; i >= 0; i-- {
			if e.messages[i].Pending && e.messages[i].SenderID == e.selfID {
				e.messages[i] = local
				return
			}
		}
	}
	e.messages = append([]LocalMessage{local}, e.messages...)
}

// FailSubmission removes the most recent pending placeholder from the
// local user and returns its temporary id so the UI can surface the
// error against it.
func (e *Engine) FailSubmission() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := 0; i < len(e.messages); i++ {
		if e.messages[i].Pending && e.messages[i].SenderID == e.selfID {
			id := e.messages[i].ID
			e.messages = append(e.messages[:i], e.messages[i+1:]...)
			return id, true
		}
	}
	return "", false
}

// BeginEdit enters edit mode for a reconciled message, capturing the
// rollback snapshot that survives until the server confirms or rejects.
func (e *Engine) BeginEdit(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode == ModeSelecting {
		return ErrModeConflict
	}
	m := e.find(id)
	if m == nil {
		return ErrUnknownMessage
	}
	if m.Pending {
		return ErrStillPending
	}
	e.snapshots[id] = editSnapshot{
		content:      m.Content,
		translations: m.Translations,
		confidence:   m.ConfidenceScore,
		isEdited:     m.IsEdited,
	}
	e.mode = ModeEditing
	return nil
}

// SubmitEdit applies the new content locally as a pending edit. The
// snapshot from BeginEdit is kept for rollback.
func (e *Engine) SubmitEdit(id, newContent string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.snapshots[id]; !ok {
		return ErrUnknownMessage
	}
	m := e.find(id)
	if m == nil {
		return ErrUnknownMessage
	}
	m.Content = newContent
	m.PendingEdit = true
	e.mode = ModeIdle
	return nil
}

// CancelEdit leaves edit mode without submitting; nothing was applied
// locally yet, so the snapshot is simply dropped.
func (e *Engine) CancelEdit(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.snapshots, id)
	if e.mode == ModeEditing {
		e.mode = ModeIdle
	}
}

// ApplyEdited confirms an edit (or a re-mediation) from the server.
func (e *Engine) ApplyEdited(ev models.MessageEdited) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.find(ev.MessageID)
	if m == nil {
		return
	}
	m.Content = ev.NewContent
	m.Translations = ev.Translations
	m.ConfidenceScore = ev.ConfidenceScore
	m.IsEdited = ev.IsEdited
	m.PendingEdit = false
	delete(e.snapshots, ev.MessageID)
}

// FailEdit restores exactly the pre-edit snapshot.
func (e *Engine) FailEdit(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, ok := e.snapshots[id]
	if !ok {
		return
	}
	if m := e.find(id); m != nil {
		m.Content = snap.content
		m.Translations = snap.translations
		m.ConfidenceScore = snap.confidence
		m.IsEdited = snap.isEdited
		m.PendingEdit = false
	}
	delete(e.snapshots, id)
}

// ApplyDeleted removes the listed messages.
func (e *Engine) ApplyDeleted(ev models.MessagesDeleted) {
	e.mu.Lock()
	defer e.mu.Unlock()

	gone := make(map[string]struct{}, len(ev.MessageIDs))
	for _, id := range ev.MessageIDs {
		gone[id] = struct{}{}
	}
	kept := e.messages[:0]
	for _, m := range e.messages {
		if _, ok := gone[m.ID]; !ok {
			kept = append(kept, m)
		}
	}
	e.messages = kept
}

// EnterSelection switches to selection mode; rejected while editing.
func (e *Engine) EnterSelection() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode == ModeEditing {
		return ErrModeConflict
	}
	e.mode = ModeSelecting
	return nil
}

func (e *Engine) ExitSelection() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode == ModeSelecting {
		e.mode = ModeIdle
	}
}

func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Messages returns a copy of the local list, newest first.
func (e *Engine) Messages() []LocalMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]LocalMessage, len(e.messages))
	copy(out, e.messages)
	return out
}

func (e *Engine) find(id string) *LocalMessage {
	for i := range e.messages {
		if e.messages[i].ID == id {
			return &e.messages[i]
		}
	}
	return nil
}

func fromNewMessage(ev models.NewMessage) LocalMessage {
	content := ev.OriginalText
	if ev.ContentType != models.ContentTypeText {
		content = ev.FileRef
	}
	return LocalMessage{
		ID:              ev.MessageID,
		SenderID:        ev.SenderID,
		ContentType:     ev.ContentType,
		Content:         content,
		Translations:    ev.Translations,
		ConfidenceScore: ev.ConfidenceScore,
		CreatedAt:       ev.CreatedAt,
	}
}
