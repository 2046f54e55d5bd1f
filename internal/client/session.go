package client

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"

	"linguachat-backend/internal/models"

	"github.com/gorilla/websocket"
)

// Session is a live connection to the gateway feeding an Engine. Reads
// happen on Listen's goroutine; writes are serialized with a mutex.
type Session struct {
	conn   *websocket.Conn
	engine *Engine
	mu     sync.Mutex
}

// Dial connects and authenticates via the auth query field.
func Dial(ctx context.Context, rawURL, token string, engine *Engine) (*Session, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("auth", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return &Session{conn: conn, engine: engine}, nil
}

func (s *Session) Close() error {
	return s.conn.Close()
}

type clientFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func (s *Session) write(event string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(clientFrame{Event: event, Data: data})
}

func (s *Session) JoinRoom(roomID string) error {
	return s.write(models.EventJoinRoom, models.JoinRoomPayload{RoomID: roomID})
}

func (s *Session) LeaveRoom(roomID string) error {
	return s.write(models.EventLeaveRoom, models.LeaveRoomPayload{RoomID: roomID})
}

// SendText inserts the optimistic placeholder, then emits. If the emit
// itself fails the placeholder is rolled back immediately.
func (s *Session) SendText(roomID, text string) (string, error) {
	tempID := s.engine.Submit(models.ContentTypeText, text)
	err := s.write(models.EventSendMessage, models.SendMessagePayload{
		RoomID:      roomID,
		ContentType: models.ContentTypeText,
		RawContent:  text,
	})
	if err != nil {
		s.engine.FailSubmission()
		return "", err
	}
	return tempID, nil
}

func (s *Session) EditMessage(roomID, messageID, newContent string) error {
	if err := s.engine.SubmitEdit(messageID, newContent); err != nil {
		return err
	}
	err := s.write(models.EventEditMessage, models.EditMessagePayload{
		RoomID:     roomID,
		MessageID:  messageID,
		NewContent: newContent,
	})
	if err != nil {
		s.engine.FailEdit(messageID)
	}
	return err
}

func (s *Session) DeleteMessages(roomID string, messageIDs []string) error {
	return s.write(models.EventDeleteMessages, models.DeleteMessagesPayload{
		RoomID:     roomID,
		MessageIDs: messageIDs,
	})
}

type serverFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Listen reads server frames until the connection closes, routing each
// event into the engine.
func (s *Session) Listen() error {
	for {
		var frame serverFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			return err
		}
		s.dispatch(frame)
	}
}

func (s *Session) dispatch(frame serverFrame) {
	switch frame.Event {
	case models.NewMessage{}.EventName():
		var ev models.NewMessage
		if json.Unmarshal(frame.Data, &ev) == nil {
			s.engine.ApplyNewMessage(ev)
		}
	case models.MessageEdited{}.EventName():
		var ev models.MessageEdited
		if json.Unmarshal(frame.Data, &ev) == nil {
			s.engine.ApplyEdited(ev)
		}
	case models.MessagesDeleted{}.EventName():
		var ev models.MessagesDeleted
		if json.Unmarshal(frame.Data, &ev) == nil {
			s.engine.ApplyDeleted(ev)
		}
	case models.MessageFailed{}.EventName():
		s.engine.FailSubmission()
	case models.EditFailed{}.EventName():
		var ev models.EditFailed
		if json.Unmarshal(frame.Data, &ev) == nil {
			s.engine.FailEdit(ev.MessageID)
		}
	}
}
