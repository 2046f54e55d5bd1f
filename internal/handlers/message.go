package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"linguachat-backend/internal/mediator"
	"linguachat-backend/internal/metrics"
	"linguachat-backend/internal/models"
	"linguachat-backend/internal/services"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// MessageStore is the persistence surface the gateway orchestrates.
type MessageStore interface {
	Create(ctx context.Context, m *models.Message) error
	UpdateTranslations(ctx context.Context, id string, transcription string, tr models.Translations, confidence int16, actions []models.ExtractedAction) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	Edit(ctx context.Context, roomID, messageID string, senderID int, newContent string) (*models.Message, error)
	Delete(ctx context.Context, roomID string, messageIDs []string, senderID int) error
	History(ctx context.Context, roomID string, page, limit int) ([]models.Message, error)
	Search(ctx context.Context, roomID, query string, page, limit int) ([]models.SearchResult, int, error)
}

// MembershipChecker gates every room operation.
type MembershipChecker interface {
	IsMember(ctx context.Context, roomID string, userID int) (bool, error)
}

// MediationService turns raw content into transcription, parallel
// renderings, a confidence score and extracted actions.
type MediationService interface {
	Mediate(ctx context.Context, req mediator.Request) (*mediator.Result, error)
}

// RoomNotifier reaches room members not connected to the room. Its
// outcome never blocks or fails a send.
type RoomNotifier interface {
	NotifyRoom(ctx context.Context, roomID string, senderID int, senderName string, msg *models.Message)
}

const maxMessageLength = 2000

// Gateway orchestrates the real-time pipeline: validate, mediate,
// persist, broadcast, fan out. The broadcast for a message is only ever
// emitted after its persistence write completed.
type Gateway struct {
	hub      *Hub
	store    MessageStore
	rooms    MembershipChecker
	med      MediationService
	notifier RoomNotifier
	latest   *mediator.Latest
	validate *validator.Validate

	uploadDir     string
	notifyTimeout time.Duration
}

func NewGateway(hub *Hub, store MessageStore, rooms MembershipChecker, med MediationService, notifier RoomNotifier, uploadDir string) *Gateway {
	return &Gateway{
		hub:           hub,
		store:         store,
		rooms:         rooms,
		med:           med,
		notifier:      notifier,
		latest:        mediator.NewLatest(),
		validate:      validator.New(),
		uploadDir:     uploadDir,
		notifyTimeout: 5 * time.Second,
	}
}

// HandleFrame dispatches one inbound frame from a connection. Payloads
// that do not conform to the single accepted schema are rejected before
// any side effect.
func (g *Gateway) HandleFrame(ctx context.Context, sess *Session, raw []byte) {
	var env models.ClientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		g.sendError(sess, 400, "malformed frame")
		return
	}

	switch env.Event {
	case models.EventJoinRoom:
		var p models.JoinRoomPayload
		if !g.decode(sess, env.Data, &p) {
			return
		}
		g.handleJoin(ctx, sess, p)
	case models.EventLeaveRoom:
		var p models.LeaveRoomPayload
		if !g.decode(sess, env.Data, &p) {
			return
		}
		g.hub.Leave(p.RoomID, sess.ID)
		g.send(sess, models.RoomLeft{RoomID: p.RoomID})
	case models.EventSendMessage:
		var p models.SendMessagePayload
		if !g.decode(sess, env.Data, &p) {
			return
		}
		g.handleSend(ctx, sess, p)
	case models.EventEditMessage:
		var p models.EditMessagePayload
		if !g.decode(sess, env.Data, &p) {
			return
		}
		g.handleEdit(ctx, sess, p)
	case models.EventDeleteMessages:
		var p models.DeleteMessagesPayload
		if !g.decode(sess, env.Data, &p) {
			return
		}
		g.handleDelete(ctx, sess, p)
	default:
		g.sendError(sess, 400, "unknown event")
	}
}

func (g *Gateway) decode(sess *Session, raw json.RawMessage, out any) bool {
	if err := json.Unmarshal(raw, out); err != nil {
		g.sendError(sess, 400, "invalid payload")
		return false
	}
	if err := g.validate.Struct(out); err != nil {
		g.sendError(sess, 400, "invalid payload")
		return false
	}
	return true
}

func (g *Gateway) sendError(sess *Session, status int, msg string) {
	if err := sess.Send(models.ErrorEvent{Status: status, Message: msg, Timestamp: time.Now().UnixMilli()}); err != nil {
		log.Warn().Err(err).Str("conn_id", sess.ID).Msg("error event write")
	}
}

func (g *Gateway) send(sess *Session, ev models.ServerEvent) {
	if err := sess.Send(ev); err != nil {
		log.Warn().Err(err).Str("conn_id", sess.ID).Str("event", ev.EventName()).Msg("event write")
	}
}

func (g *Gateway) handleJoin(ctx context.Context, sess *Session, p models.JoinRoomPayload) {
	member, err := g.rooms.IsMember(ctx, p.RoomID, sess.UserID)
	if err != nil {
		g.sendError(sess, 500, "something went wrong, try again")
		return
	}
	if !member {
		g.sendError(sess, 403, "not a room member")
		return
	}
	g.hub.Join(p.RoomID, sess.ID)
	g.send(sess, models.RoomJoined{RoomID: p.RoomID})
}

func (g *Gateway) handleSend(ctx context.Context, sess *Session, p models.SendMessagePayload) {
	switch p.ContentType {
	case models.ContentTypeText:
		// fine
	case models.ContentTypeAudio:
		// Audio always goes through the dedicated ingestion route so the
		// admissibility gate applies; stale clients get a clear error.
		g.send(sess, models.MessageFailed{Reason: "audio must be submitted through the audio upload endpoint"})
		return
	case models.ContentTypeImage, models.ContentTypeDocument:
		if p.FileRef == "" {
			g.send(sess, models.MessageFailed{Reason: "file reference is required"})
			return
		}
	default:
		g.send(sess, models.MessageFailed{Reason: "invalid content type"})
		return
	}

	text := strings.TrimSpace(p.RawContent)
	if p.ContentType == models.ContentTypeText && text == "" {
		g.send(sess, models.MessageFailed{Reason: "message text is required"})
		return
	}

	member, err := g.rooms.IsMember(ctx, p.RoomID, sess.UserID)
	if err != nil {
		g.send(sess, models.MessageFailed{Reason: "something went wrong, try again"})
		return
	}
	if !member {
		g.sendError(sess, 403, "not a room member")
		return
	}

	if p.ContentType == models.ContentTypeText {
		g.sendText(ctx, sess, p.RoomID, text)
		return
	}
	g.sendMedia(ctx, sess, p)
}

// sendText persists the row first so it exists before any broadcast,
// then mediates and attaches translations. A mediation failure rolls
// the row back; the client never sees a broadcast for it.
func (g *Gateway) sendText(ctx context.Context, sess *Session, roomID, text string) {
	msg := &models.Message{
		RoomID:      roomID,
		SenderID:    sess.UserID,
		ContentType: models.ContentTypeText,
		RawContent:  text,
	}
	if err := g.store.Create(ctx, msg); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("persist text message")
		g.send(sess, models.MessageFailed{Reason: "something went wrong, try again"})
		return
	}

	res, err := g.med.Mediate(ctx, mediator.Request{
		UserID:      sess.UserID,
		RoomID:      roomID,
		ContentType: models.ContentTypeText,
		Text:        text,
	})
	if err == nil {
		err = g.store.UpdateTranslations(ctx, msg.ID, res.Transcription, res.Translations, res.ConfidenceScore, res.ExtractedActions)
	}
	if err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Msg("mediate text message")
		if derr := g.store.Delete(ctx, roomID, []string{msg.ID}, sess.UserID); derr != nil {
			log.Error().Err(derr).Str("message_id", msg.ID).Msg("roll back text message")
		}
		g.send(sess, models.MessageFailed{Reason: "processing failed, please try again"})
		return
	}

	msg.Transcription = &res.Transcription
	msg.Translations = res.Translations
	msg.ConfidenceScore = &res.ConfidenceScore
	msg.ExtractedActions = res.ExtractedActions

	g.finishSend(sess, msg)
}

// sendMedia handles IMAGE and DOCUMENT submissions referencing a
// pre-uploaded file: mediation (text extraction) runs first, the row is
// persisted with its translations, then broadcast.
func (g *Gateway) sendMedia(ctx context.Context, sess *Session, p models.SendMessagePayload) {
	data, mime, err := g.readMedia(p.FileRef)
	if err != nil {
		g.send(sess, models.MessageFailed{Reason: "file not found"})
		return
	}

	res, err := g.med.Mediate(ctx, mediator.Request{
		UserID:      sess.UserID,
		RoomID:      p.RoomID,
		ContentType: p.ContentType,
		MediaData:   data,
		MediaMIME:   mime,
	})
	if err != nil {
		log.Error().Err(err).Str("room_id", p.RoomID).Msg("mediate media message")
		g.send(sess, models.MessageFailed{Reason: "processing failed, please try again"})
		return
	}

	msg := &models.Message{
		RoomID:           p.RoomID,
		SenderID:         sess.UserID,
		ContentType:      p.ContentType,
		RawContent:       p.FileRef,
		Transcription:    &res.Transcription,
		Translations:     res.Translations,
		ConfidenceScore:  &res.ConfidenceScore,
		ExtractedActions: res.ExtractedActions,
	}
	if err := g.store.Create(ctx, msg); err != nil {
		log.Error().Err(err).Str("room_id", p.RoomID).Msg("persist media message")
		g.send(sess, models.MessageFailed{Reason: "something went wrong, try again"})
		return
	}

	g.finishSend(sess, msg)
}

func (g *Gateway) finishSend(sess *Session, msg *models.Message) {
	metrics.MessagesTotal.WithLabelValues(string(msg.ContentType)).Inc()
	g.hub.Broadcast(msg.RoomID, models.NewMessageEvent(msg))
	g.notifyAsync(msg.RoomID, sess.UserID, sess.Username, msg)
}

// PersistAndBroadcast is the pipeline surface the audio ingestion route
// depends on: persist, broadcast, fan out. Ingestion depends on this
// abstraction; the gateway never depends back on ingestion.
func (g *Gateway) PersistAndBroadcast(ctx context.Context, senderName string, msg *models.Message) error {
	if err := g.store.Create(ctx, msg); err != nil {
		return err
	}
	metrics.MessagesTotal.WithLabelValues(string(msg.ContentType)).Inc()
	g.hub.Broadcast(msg.RoomID, models.NewMessageEvent(msg))
	g.notifyAsync(msg.RoomID, msg.SenderID, senderName, msg)
	return nil
}

func (g *Gateway) notifyAsync(roomID string, senderID int, senderName string, msg *models.Message) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.notifyTimeout)
		defer cancel()
		g.notifier.NotifyRoom(ctx, roomID, senderID, senderName, msg)
	}()
}

func (g *Gateway) handleEdit(ctx context.Context, sess *Session, p models.EditMessagePayload) {
	fail := func(reason string) {
		g.send(sess, models.EditFailed{MessageID: p.MessageID, Reason: reason})
	}

	newContent := strings.TrimSpace(p.NewContent)
	if newContent == "" {
		fail("message text is required")
		return
	}
	if len(newContent) > maxMessageLength {
		fail("message is too long")
		return
	}

	existing, err := g.store.GetByID(ctx, p.MessageID)
	if err != nil || existing.RoomID != p.RoomID {
		fail("message not found")
		return
	}
	// Identical content is rejected before any write.
	if strings.TrimSpace(existing.RawContent) == newContent {
		fail("no changes to save")
		return
	}

	member, err := g.rooms.IsMember(ctx, p.RoomID, sess.UserID)
	if err != nil {
		fail("something went wrong, try again")
		return
	}
	if !member {
		fail("not a room member")
		return
	}

	updated, err := g.store.Edit(ctx, p.RoomID, p.MessageID, sess.UserID, newContent)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotFound):
			fail("message not found")
		case errors.Is(err, services.ErrNotOwner):
			fail("you can only edit your own messages")
		case errors.Is(err, services.ErrNotEditable):
			fail("only text messages can be edited")
		case errors.Is(err, services.ErrEditWindowExpired):
			fail("edit window has expired")
		default:
			log.Error().Err(err).Str("message_id", p.MessageID).Msg("edit message")
			fail("something went wrong, try again")
		}
		return
	}

	res, err := g.med.Mediate(ctx, mediator.Request{
		UserID:      sess.UserID,
		RoomID:      p.RoomID,
		ContentType: models.ContentTypeText,
		Text:        newContent,
	})
	if err == nil {
		err = g.store.UpdateTranslations(ctx, p.MessageID, res.Transcription, res.Translations, res.ConfidenceScore, res.ExtractedActions)
	}
	if err != nil {
		// Content is updated; translations stay cleared until a later
		// re-mediation succeeds. The room is not notified of a failure.
		log.Error().Err(err).Str("message_id", p.MessageID).Msg("re-mediate edited message")
		fail("translation failed, try again")
		return
	}

	g.hub.Broadcast(p.RoomID, models.MessageEdited{
		RoomID:          p.RoomID,
		MessageID:       p.MessageID,
		NewContent:      updated.RawContent,
		Translations:    res.Translations,
		ConfidenceScore: &res.ConfidenceScore,
		IsEdited:        true,
	})
}

func (g *Gateway) handleDelete(ctx context.Context, sess *Session, p models.DeleteMessagesPayload) {
	fail := func(reason string) {
		g.send(sess, models.DeleteFailed{Reason: reason})
	}

	member, err := g.rooms.IsMember(ctx, p.RoomID, sess.UserID)
	if err != nil {
		fail("something went wrong, try again")
		return
	}
	if !member {
		fail("not a room member")
		return
	}

	if err := g.store.Delete(ctx, p.RoomID, p.MessageIDs, sess.UserID); err != nil {
		switch {
		case errors.Is(err, services.ErrNotFound):
			fail("message not found")
		case errors.Is(err, services.ErrNotOwner):
			fail("you can only delete your own messages")
		default:
			log.Error().Err(err).Str("room_id", p.RoomID).Msg("delete messages")
			fail("something went wrong, try again")
		}
		return
	}

	g.hub.Broadcast(p.RoomID, models.MessagesDeleted{
		RoomID:     p.RoomID,
		MessageIDs: p.MessageIDs,
		DeletedBy:  sess.UserID,
	})
}

// readMedia resolves a pre-uploaded file reference to its bytes and
// detected MIME type. References are reduced to their base name so a
// crafted ref cannot escape the upload directory.
func (g *Gateway) readMedia(fileRef string) ([]byte, string, error) {
	name := filepath.Base(fileRef)
	data, err := os.ReadFile(filepath.Join(g.uploadDir, "media", name))
	if err != nil {
		return nil, "", err
	}
	return data, mimetype.Detect(data).String(), nil
}
