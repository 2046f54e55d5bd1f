package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"linguachat-backend/internal/mediator"
	"linguachat-backend/internal/models"
	"linguachat-backend/internal/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	log     *callLog
	created []*models.Message
	updated []string
	deleted [][]string

	createErr error
	updateErr error

	getMsg *models.Message
	getErr error

	editMsg *models.Message
	editErr error

	deleteErr error
}

func (s *fakeStore) Create(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = time.Now()
	s.created = append(s.created, m)
	if s.log != nil {
		s.log.add("create")
	}
	return nil
}

func (s *fakeStore) UpdateTranslations(ctx context.Context, id string, transcription string, tr models.Translations, confidence int16, actions []models.ExtractedAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updated = append(s.updated, id)
	if s.log != nil {
		s.log.add("update")
	}
	return nil
}

func (s *fakeStore) GetByID(ctx context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.getMsg == nil {
		return nil, services.ErrNotFound
	}
	return s.getMsg, nil
}

func (s *fakeStore) Edit(ctx context.Context, roomID, messageID string, senderID int, newContent string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editErr != nil {
		return nil, s.editErr
	}
	if s.log != nil {
		s.log.add("edit")
	}
	return s.editMsg, nil
}

func (s *fakeStore) Delete(ctx context.Context, roomID string, messageIDs []string, senderID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, messageIDs)
	if s.log != nil {
		s.log.add("delete")
	}
	return nil
}

func (s *fakeStore) History(ctx context.Context, roomID string, page, limit int) ([]models.Message, error) {
	return nil, nil
}

func (s *fakeStore) Search(ctx context.Context, roomID, query string, page, limit int) ([]models.SearchResult, int, error) {
	return nil, 0, nil
}

func (s *fakeStore) CreatedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

type fakeRooms struct {
	member bool
	err    error
}

func (r *fakeRooms) IsMember(ctx context.Context, roomID string, userID int) (bool, error) {
	return r.member, r.err
}

type fakeMed struct {
	mu     sync.Mutex
	reqs   []mediator.Request
	result *mediator.Result
	err    error
}

func (m *fakeMed) Mediate(ctx context.Context, req mediator.Request) (*mediator.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return nil, m.err
	}
	res := *m.result
	return &res, nil
}

type notifyCall struct {
	room     string
	sender   int
	senderNm string
	msg      *models.Message
}

type fakeNotifier struct {
	calls chan notifyCall
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{calls: make(chan notifyCall, 64)}
}

func (n *fakeNotifier) NotifyRoom(ctx context.Context, roomID string, senderID int, senderName string, msg *models.Message) {
	n.calls <- notifyCall{room: roomID, sender: senderID, senderNm: senderName, msg: msg}
}

func (n *fakeNotifier) wait(t *testing.T) notifyCall {
	t.Helper()
	select {
	case c := <-n.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("notification never fired")
		return notifyCall{}
	}
}

func goodResult() *mediator.Result {
	return &mediator.Result{
		Transcription:   "machan, meet at five",
		Translations:    models.Translations{"en": "buddy, meet at five", "si": "...", "ta": "..."},
		ConfidenceScore: 88,
	}
}

type fixture struct {
	gw       *Gateway
	hub      *Hub
	store    *fakeStore
	rooms    *fakeRooms
	med      *fakeMed
	notifier *fakeNotifier
	log      *callLog
	sender   *Session
	senderC  *fakeConn
	peerC    *fakeConn
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := &callLog{}
	f := &fixture{
		hub:      NewHub(),
		store:    &fakeStore{log: log},
		rooms:    &fakeRooms{member: true},
		med:      &fakeMed{result: goodResult()},
		notifier: newFakeNotifier(),
		log:      log,
	}
	f.gw = NewGateway(f.hub, f.store, f.rooms, f.med, f.notifier, t.TempDir())

	f.senderC = &fakeConn{log: log}
	f.peerC = &fakeConn{log: log}
	f.sender = f.hub.Register("conn-1", 1, "nimal", f.senderC)
	f.hub.Register("conn-2", 2, "kamal", f.peerC)
	f.hub.Join(roomA, "conn-1")
	f.hub.Join(roomA, "conn-2")
	return f
}

func envelope(t *testing.T, event string, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(models.ClientEnvelope{Event: event, Data: data})
	require.NoError(t, err)
	return raw
}

func TestJoinRejectsNonMember(t *testing.T) {
	f := newFixture(t)
	f.rooms.member = false

	f.gw.HandleFrame(context.Background(), f.sender, envelope(t, models.EventJoinRoom,
		models.JoinRoomPayload{RoomID: roomB}))

	frame := f.senderC.LastFrame(t)
	require.Equal(t, "error", frame.Event)
	require.Equal(t, 403, frame.Data.(models.ErrorEvent).Status)
	require.False(t, f.hub.IsUserJoined(roomB, 1))
}

func TestJoinMember(t *testing.T) {
	f := newFixture(t)

	f.gw.HandleFrame(context.Background(), f.sender, envelope(t, models.EventJoinRoom,
		models.JoinRoomPayload{RoomID: roomB}))

	frame := f.senderC.LastFrame(t)
	require.Equal(t, "roomJoined", frame.Event)
	require.True(t, f.hub.IsUserJoined(roomB, 1))
}

func TestLeaveRoomStopsDelivery(t *testing.T) {
	f := newFixture(t)

	f.gw.HandleFrame(context.Background(), f.sender, envelope(t, models.EventLeaveRoom,
		models.LeaveRoomPayload{RoomID: roomA}))

	require.Equal(t, "roomLeft", f.senderC.LastFrame(t).Event)
	require.False(t, f.hub.IsUserJoined(roomA, 1))

	f.hub.Broadcast(roomA, models.RoomJoined{RoomID: roomA})
	require.Equal(t, 0, f.senderC.CountEvent("roomJoined"))
	require.Equal(t, 1, f.peerC.CountEvent("roomJoined"))
}

func TestSendTextPersistsBeforeBroadcast(t *testing.T) {
	f := newFixture(t)

	f.gw.HandleFrame(context.Background(), f.sender, envelope(t, models.EventSendMessage,
		models.SendMessagePayload{RoomID: roomA, ContentType: models.ContentTypeText, RawContent: "machan, meet at five"}))

	require.Equal(t, 1, f.store.CreatedCount())
	require.Equal(t, 1, f.senderC.CountEvent("newMessage"))
	require.Equal(t, 1, f.peerC.CountEvent("newMessage"))

	createIdx := f.log.index("create")
	broadcastIdx := f.log.index("write:newMessage")
	require.GreaterOrEqual(t, createIdx, 0)
	require.Greater(t, broadcastIdx, createIdx)

	ev := f.peerC.LastFrame(t).Data.(models.NewMessage)
	require.Equal(t, "machan, meet at five", ev.OriginalText)
	require.Equal(t, "buddy, meet at five", ev.Translations["en"])
	require.NotEmpty(t, ev.MessageID)

	call := f.notifier.wait(t)
	require.Equal(t, roomA, call.room)
	require.Equal(t, 1, call.sender)
	require.Equal(t, "nimal", call.senderNm)
}

func TestSendTextMediationFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.med.err = errors.New("provider down")

	f.gw.HandleFrame(context.Background(), f.sender, envelope(t, models.EventSendMessage,
		models.SendMessagePayload{RoomID: roomA, ContentType: models.ContentTypeText, RawContent: "hello"}))

	// The provisional row is removed and nobody sees a broadcast.
	require.Len(t, f.store.deleted, 1)
	require.Equal(t, 0, f.peerC.CountEvent("newMessage"))

	frame := f.senderC.LastFrame(t)
	require.Equal(t, "messageFailed", frame.Event)
	require.Equal(t, "processing failed, please try again", frame.Data.(models.MessageFailed).Reason)
}

func TestSendAudioOverSocketRejected(t *testing.T) {
	f := newFixture(t)

	f.gw.HandleFrame(context.Background(), f.sender, envelope(t, models.EventSendMessage,
		models.SendMessagePayload{RoomID: roomA, ContentType: models.ContentTypeAudio, RawContent: "x"}))

	require.Zero(t, f.store.CreatedCount())
	frame := f.senderC.LastFrame(t)
	require.Equal(t, "messageFailed", frame.Event)
	require.Contains(t, frame.Data.(models.MessageFailed).Reason, "audio")
}

func TestSendEmptyTextRejected(t *testing.T) {
	f := newFixture(t)

	f.gw.HandleFrame(context.Background(), f.sender, envelope(t, models.EventSendMessage,
		models.SendMessagePayload{RoomID: roomA, ContentType: models.ContentTypeText, RawContent: "   "}))

	require.Zero(t, f.store.CreatedCount())
	require.Equal(t, "messageFailed", f.senderC.LastFrame(t).Event)
}

func TestSendOverlongTextRejectedByValidation(t *testing.T) {
	f := newFixture(t)

	f.gw.HandleFrame(context.Background(), f.sender, envelope(t, models.EventSendMessage,
		models.SendMessagePayload{RoomID: roomA, ContentType: models.ContentTypeText, RawContent: strings.Repeat("x", 2001)}))

	require.Zero(t, f.store.CreatedCount())
	frame := f.senderC.LastFrame(t)
	require.Equal(t, "error", frame.Event)
	require.Equal(t, 400, frame.Data.(models.ErrorEvent).Status)
}

func TestSendImageRequiresFileRef(t *testing.T) {
	f := newFixture(t)

	f.gw.HandleFrame(context.Background(), f.sender, envelope(t, models.EventSendMessage,
		models.SendMessagePayload{RoomID: roomA, ContentType: models.ContentTypeImage}))

	require.Zero(t, f.store.CreatedCount())
	require.Equal(t, "file reference is required", f.senderC.LastFrame(t).Data.(models.MessageFailed).Reason)
}

func TestSendNonMemberRejected(t *testing.T) {
	f := newFixture(t)
	f.rooms.member = false

	f.gw.HandleFrame(context.Background(), f.sender, envelope(t, models.EventSendMessage,
		models.SendMessagePayload{RoomID: roomA, ContentType: models.ContentTypeText, RawContent: "hi"}))

	require.Zero(t, f.store.CreatedCount())
	frame := f.senderC.LastFrame(t)
	require.Equal(t, "error", frame.Event)
	require.Equal(t, 403, frame.Data.(models.ErrorEvent).Status)
}

func TestSendImageMediatesThenPersists(t *testing.T) {
	f := newFixture(t)
	f.med.result = &mediator.Result{
		Transcription:   "Invoice #42, due Friday",
		Translations:    models.Translations{"en": "Invoice #42, due Friday"},
		ConfidenceScore: 75,
	}

	mediaDir := filepath.Join(f.gw.uploadDir, "media")
	require.NoError(t, os.MkdirAll(mediaDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(mediaDir, "media_1_1.png"), []byte{0x89, 'P', 'N', 'G'}, 0644))

	f.gw.HandleFrame(context.Background(), f.sender, envelope(t, models.EventSendMessage,
		models.SendMessagePayload{RoomID: roomA, ContentType: models.ContentTypeImage, FileRef: "/uploads/media/media_1_1.png"}))

	require.Equal(t, 1, f.store.CreatedCount())
	created := f.store.created[0]
	require.Equal(t, models.ContentTypeImage, created.ContentType)
	require.Equal(t, "Invoice #42, due Friday", *created.Transcription)

	ev := f.peerC.LastFrame(t).Data.(models.NewMessage)
	require.Equal(t, "/uploads/media/media_1_1.png", ev.FileRef)
	require.Empty(t, ev.OriginalText)
}

func TestSendImageMissingFileFails(t *testing.T) {
	f := newFixture(t)

	f.gw.HandleFrame(context.Background(), f.sender, envelope(t, models.EventSendMessage,
		models.SendMessagePayload{RoomID: roomA, ContentType: models.ContentTypeImage, FileRef: "/uploads/media/nope.png"}))

	require.Zero(t, f.store.CreatedCount())
	require.Equal(t, "file not found", f.senderC.LastFrame(t).Data.(models.MessageFailed).Reason)
}

func editPayload(msgID string) models.EditMessagePayload {
	return models.EditMessagePayload{RoomID: roomA, MessageID: msgID, NewContent: "updated text"}
}

func TestEditNoChangeRejectedBeforeWrite(t *testing.T) {
	f := newFixture(t)
	msgID := uuid.New().String()
	f.store.getMsg = &models.Message{ID: msgID, RoomID: roomA, SenderID: 1,
		ContentType: models.ContentTypeText, RawContent: "updated text"}

	f.gw.HandleFrame(context.Background(), f.sender, envelope(t, models.EventEditMessage, editPayload(msgID)))

	require.Equal(t, -1, f.log.index("edit"))
	frame := f.senderC.LastFrame(t)
	require.Equal(t, "editFailed", frame.Event)
	require.Equal(t, "no changes to save", frame.Data.(models.EditFailed).Reason)
}

func TestEditWrongRoomLooksMissing(t *testing.T) {
	f := newFixture(t)
	msgID := uuid.New().String()
	f.store.getMsg = &models.Message{ID: msgID, RoomID: roomB, SenderID: 1,
		ContentType: models.ContentTypeText, RawContent: "old"}

	f.gw.HandleFrame(context.Background(), f.sender, envelope(t, models.EventEditMessage, editPayload(msgID)))

	require.Equal(t, "message not found", f.senderC.LastFrame(t).Data.(models.EditFailed).Reason)
}

func TestEditSentinelReasons(t *testing.T) {
	cases := []struct {
		err    error
		reason string
	}{
		{services.ErrNotOwner, "you can only edit your own messages"},
		{services.ErrNotEditable, "only text messages can be edited"},
		{services.ErrEditWindowExpired, "edit window has expired"},
		{services.ErrNotFound, "message not found"},
	}
	for _, tc := range cases {
		t.Run(tc.reason, func(t *testing.T) {
			f := newFixture(t)
			msgID := uuid.New().String()
			f.store.getMsg = &models.Message{ID: msgID, RoomID: roomA, SenderID: 1,
				ContentType: models.ContentTypeText, RawContent: "old"}
			f.store.editErr = tc.err

			f.gw.HandleFrame(context.Background(), f.sender, envelope(t, models.EventEditMessage, editPayload(msgID)))

			require.Equal(t, tc.reason, f.senderC.LastFrame(t).Data.(models.EditFailed).Reason)
			require.Equal(t, 0, f.peerC.CountEvent("messageEdited"))
		})
	}
}

func TestEditBroadcastsUpdatedMessage(t *testing.T) {
	f := newFixture(t)
	msgID := uuid.New().String()
	f.store.getMsg = &models.Message{ID: msgID, RoomID: roomA, SenderID: 1,
		ContentType: models.ContentTypeText, RawContent: "old"}
	f.store.editMsg = &models.Message{ID: msgID, RoomID: roomA, SenderID: 1,
		ContentType: models.ContentTypeText, RawContent: "updated text", IsEdited: true}

	f.gw.HandleFrame(context.Background(), f.sender, envelope(t, models.EventEditMessage, editPayload(msgID)))

	require.Equal(t, 1, f.peerC.CountEvent("messageEdited"))
	ev := f.peerC.LastFrame(t).Data.(models.MessageEdited)
	require.Equal(t, msgID, ev.MessageID)
	require.Equal(t, "updated text", ev.NewContent)
	require.True(t, ev.IsEdited)
	require.Equal(t, "buddy, meet at five", ev.Translations["en"])
}

func TestEditRemediationFailureNotBroadcast(t *testing.T) {
	f := newFixture(t)
	msgID := uuid.New().String()
	f.store.getMsg = &models.Message{ID: msgID, RoomID: roomA, SenderID: 1,
		ContentType: models.ContentTypeText, RawContent: "old"}
	f.store.editMsg = &models.Message{ID: msgID, RoomID: roomA, SenderID: 1,
		ContentType: models.ContentTypeText, RawContent: "updated text", IsEdited: true}
	f.med.err = errors.New("provider down")

	f.gw.HandleFrame(context.Background(), f.sender, envelope(t, models.EventEditMessage, editPayload(msgID)))

	require.Equal(t, 0, f.peerC.CountEvent("messageEdited"))
	require.Equal(t, "translation failed, try again", f.senderC.LastFrame(t).Data.(models.EditFailed).Reason)
}

func TestDeleteAllOrNothingReasons(t *testing.T) {
	cases := []struct {
		err    error
		reason string
	}{
		{services.ErrNotFound, "message not found"},
		{services.ErrNotOwner, "you can only delete your own messages"},
	}
	for _, tc := range cases {
		t.Run(tc.reason, func(t *testing.T) {
			f := newFixture(t)
			f.store.deleteErr = tc.err

			f.gw.HandleFrame(context.Background(), f.sender, envelope(t, models.EventDeleteMessages,
				models.DeleteMessagesPayload{RoomID: roomA, MessageIDs: []string{uuid.New().String(), uuid.New().String()}}))

			require.Equal(t, tc.reason, f.senderC.LastFrame(t).Data.(models.DeleteFailed).Reason)
			require.Equal(t, 0, f.peerC.CountEvent("messagesDeleted"))
		})
	}
}

func TestDeleteBroadcastsToRoom(t *testing.T) {
	f := newFixture(t)
	ids := []string{uuid.New().String(), uuid.New().String()}

	f.gw.HandleFrame(context.Background(), f.sender, envelope(t, models.EventDeleteMessages,
		models.DeleteMessagesPayload{RoomID: roomA, MessageIDs: ids}))

	require.Len(t, f.store.deleted, 1)
	ev := f.peerC.LastFrame(t).Data.(models.MessagesDeleted)
	require.Equal(t, ids, ev.MessageIDs)
	require.Equal(t, 1, ev.DeletedBy)
}

func TestMalformedAndUnknownFrames(t *testing.T) {
	f := newFixture(t)

	f.gw.HandleFrame(context.Background(), f.sender, []byte("{not json"))
	require.Equal(t, "error", f.senderC.LastFrame(t).Event)

	f.gw.HandleFrame(context.Background(), f.sender, envelope(t, "dance", models.JoinRoomPayload{RoomID: roomA}))
	frame := f.senderC.LastFrame(t)
	require.Equal(t, "error", frame.Event)
	require.Equal(t, "unknown event", frame.Data.(models.ErrorEvent).Message)
}

func TestConcurrentSendsAllDelivered(t *testing.T) {
	f := newFixture(t)
	const n = 10

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.gw.HandleFrame(context.Background(), f.sender, envelope(t, models.EventSendMessage,
				models.SendMessagePayload{RoomID: roomA, ContentType: models.ContentTypeText,
					RawContent: fmt.Sprintf("message %d", i)}))
		}(i)
	}
	wg.Wait()

	require.Equal(t, n, f.store.CreatedCount())
	require.Equal(t, n, f.senderC.CountEvent("newMessage"))
	require.Equal(t, n, f.peerC.CountEvent("newMessage"))
	for i := 0; i < n; i++ {
		f.notifier.wait(t)
	}
}
