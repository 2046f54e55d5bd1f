package notify

import (
	"context"

	"linguachat-backend/internal/metrics"
	"linguachat-backend/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// MemberSource lists a room's full membership.
type MemberSource interface {
	Members(ctx context.Context, roomID string) ([]models.Member, error)
}

// Presence reports which users currently have a connection joined to
// the room's multicast group. It is owned by the gateway and passed in
// explicitly; fan-out never reads process-wide state.
type Presence interface {
	ConnectedUserIDs(roomID string) map[int]struct{}
}

// TokenStore clears push addresses the provider reports permanently gone.
type TokenStore interface {
	ClearPushToken(ctx context.Context, userID int) error
}

// DeliveryError is a per-recipient failure from the push provider.
// Gone marks the device as permanently unreachable.
type DeliveryError struct {
	Token  string
	Gone   bool
	Reason string
}

// PushProvider delivers one localized body to a batch of device tokens.
type PushProvider interface {
	Send(ctx context.Context, tokens []string, title, body string) ([]DeliveryError, error)
}

// Fanout pushes best-effort notifications to room members who are not
// connected to the room. Failures are logged and swallowed; nothing on
// this path is ever raised to the message sender.
type Fanout struct {
	members   MemberSource
	presence  Presence
	tokens    TokenStore
	provider  PushProvider
	batchSize int
}

func NewFanout(members MemberSource, presence Presence, tokens TokenStore, provider PushProvider, batchSize int) *Fanout {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Fanout{
		members:   members,
		presence:  presence,
		tokens:    tokens,
		provider:  provider,
		batchSize: batchSize,
	}
}

type recipient struct {
	userID int
	token  string
}

// NotifyRoom delivers the message to every offline member with a push
// address, localized per recipient. Recipients sharing a body are
// grouped into one provider call; batches respect the provider's size
// limit.
func (f *Fanout) NotifyRoom(ctx context.Context, roomID string, senderID int, senderName string, msg *models.Message) {
	members, err := f.members.Members(ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("fan-out: load members")
		return
	}
	connected := f.presence.ConnectedUserIDs(roomID)

	byBody := make(map[string][]recipient)
	userByToken := make(map[string]int)
	for _, m := range members {
		if m.UserID == senderID {
			continue
		}
		if _, online := connected[m.UserID]; online {
			continue
		}
		if m.PushToken == nil || *m.PushToken == "" {
			continue
		}
		body := bodyFor(m, msg)
		byBody[body] = append(byBody[body], recipient{userID: m.UserID, token: *m.PushToken})
		userByToken[*m.PushToken] = m.UserID
	}

	for body, recipients := range byBody {
		tokens := lo.Map(recipients, func(r recipient, _ int) string { return r.token })
		for _, batch := range lo.Chunk(tokens, f.batchSize) {
			failures, err := f.provider.Send(ctx, batch, senderName, body)
			if err != nil {
				metrics.NotificationsFailedTotal.Add(float64(len(batch)))
				log.Warn().Err(err).Str("room_id", roomID).Int("batch", len(batch)).Msg("fan-out: provider send")
				continue
			}
			metrics.NotificationsSentTotal.Add(float64(len(batch) - len(failures)))
			for _, fail := range failures {
				metrics.NotificationsFailedTotal.Inc()
				if !fail.Gone {
					continue
				}
				userID, ok := userByToken[fail.Token]
				if !ok {
					continue
				}
				if err := f.tokens.ClearPushToken(ctx, userID); err != nil {
					log.Warn().Err(err).Int("user_id", userID).Msg("fan-out: clear push token")
				}
			}
		}
	}
}

// bodyFor selects the notification text for one recipient: the per-room
// language override first, then the profile's native language, then
// the raw or transcribed text when no translation exists.
func bodyFor(m models.Member, msg *models.Message) string {
	lang := m.NativeLanguage
	if m.PreferredLanguage != nil && *m.PreferredLanguage != "" {
		lang = *m.PreferredLanguage
	}
	if text, ok := msg.Translations[lang]; ok && text != "" {
		return text
	}
	if msg.ContentType == models.ContentTypeText {
		return msg.RawContent
	}
	if msg.Transcription != nil && *msg.Transcription != "" {
		return *msg.Transcription
	}
	return "New message"
}
