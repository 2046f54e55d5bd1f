package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"linguachat-backend/internal/db"
	"linguachat-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MessageService is the persistence layer for messages. It holds no
// orchestration logic; ordering between persistence and broadcast is
// the gateway's concern.
type MessageService struct {
	editWindow   time.Duration
	defaultLimit int
}

func NewMessageService(editWindow time.Duration, defaultLimit int) *MessageService {
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	return &MessageService{editWindow: editWindow, defaultLimit: defaultLimit}
}

const messageColumns = `id, room_id, sender_id, content_type, raw_content,
	transcription, translations, confidence_score, extracted_actions, is_edited, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner, extra ...any) (*models.Message, error) {
	var m models.Message
	var translations, actions []byte
	dest := []any{
		&m.ID, &m.RoomID, &m.SenderID, &m.ContentType, &m.RawContent,
		&m.Transcription, &translations, &m.ConfidenceScore, &actions,
		&m.IsEdited, &m.CreatedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if len(translations) > 0 {
		if err := json.Unmarshal(translations, &m.Translations); err != nil {
			return nil, fmt.Errorf("decode translations: %w", err)
		}
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &m.ExtractedActions); err != nil {
			return nil, fmt.Errorf("decode extracted actions: %w", err)
		}
	}
	return &m, nil
}

func marshalNullable(v any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Create inserts a message row. Translation fields are written only if
// mediation already completed; a pure text message may arrive here with
// them nil and be updated later.
func (s *MessageService) Create(ctx context.Context, m *models.Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	translations, err := marshalNullable(m.Translations, m.Translations == nil)
	if err != nil {
		return err
	}
	actions, err := marshalNullable(m.ExtractedActions, len(m.ExtractedActions) == 0)
	if err != nil {
		return err
	}
	query := `INSERT INTO messages
		(id, room_id, sender_id, content_type, raw_content, transcription, translations, confidence_score, extracted_actions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`
	return db.Pool.QueryRow(ctx, query,
		m.ID, m.RoomID, m.SenderID, m.ContentType, m.RawContent,
		m.Transcription, translations, m.ConfidenceScore, actions,
	).Scan(&m.CreatedAt)
}

// UpdateTranslations stores a completed mediation result on an existing row.
func (s *MessageService) UpdateTranslations(ctx context.Context, id string, transcription string, tr models.Translations, confidence int16, actions []models.ExtractedAction) error {
	trb, err := marshalNullable(tr, tr == nil)
	if err != nil {
		return err
	}
	acb, err := marshalNullable(actions, len(actions) == 0)
	if err != nil {
		return err
	}
	tag, err := db.Pool.Exec(ctx,
		`UPDATE messages SET transcription = $2, translations = $3, confidence_score = $4, extracted_actions = $5 WHERE id = $1`,
		id, transcription, trb, confidence, acb)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MessageService) GetByID(ctx context.Context, id string) (*models.Message, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// History returns a page of messages for a room, newest first.
func (s *MessageService) History(ctx context.Context, roomID string, page, limit int) ([]models.Message, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}
	offset := (page - 1) * limit

	rows, err := db.Pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE room_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

// Edit overwrites a text message's content inside its edit window.
// Ownership, content type and elapsed time are enforced here; stale
// translation fields are cleared until re-mediation completes.
func (s *MessageService) Edit(ctx context.Context, roomID, messageID string, senderID int, newContent string) (*models.Message, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var ownerID int
	var contentType models.ContentType
	var createdAt time.Time
	err = tx.QueryRow(ctx,
		`SELECT sender_id, content_type, created_at FROM messages WHERE id = $1 AND room_id = $2 FOR UPDATE`,
		messageID, roomID).Scan(&ownerID, &contentType, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if ownerID != senderID {
		return nil, ErrNotOwner
	}
	if contentType != models.ContentTypeText {
		return nil, ErrNotEditable
	}
	if time.Since(createdAt) > s.editWindow {
		return nil, ErrEditWindowExpired
	}

	row := tx.QueryRow(ctx,
		`UPDATE messages
		 SET raw_content = $3, is_edited = true, translations = NULL, confidence_score = NULL
		 WHERE id = $1 AND room_id = $2
		 RETURNING `+messageColumns,
		messageID, roomID, newContent)
	m, err := scanMessage(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Delete removes the given messages if and only if every one of them
// exists in the room and belongs to the caller. A single missing or
// foreign row aborts the whole operation with zero deletions.
func (s *MessageService) Delete(ctx context.Context, roomID string, messageIDs []string, senderID int) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT id, sender_id FROM messages WHERE room_id = $1 AND id = ANY($2) FOR UPDATE`,
		roomID, messageIDs)
	if err != nil {
		return err
	}
	found := make(map[string]int, len(messageIDs))
	for rows.Next() {
		var id string
		var owner int
		if err := rows.Scan(&id, &owner); err != nil {
			rows.Close()
			return err
		}
		found[id] = owner
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range messageIDs {
		owner, ok := found[id]
		if !ok {
			return ErrNotFound
		}
		if owner != senderID {
			return ErrNotOwner
		}
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM messages WHERE room_id = $1 AND id = ANY($2)`,
		roomID, messageIDs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Search runs a full-text match over raw content and transcription. The
// query is compiled into prefix-matching tsquery conjunctions plus a
// plain substring fallback, so partial and transliterated words still
// match. Total is the full result count independent of the page.
func (s *MessageService) Search(ctx context.Context, roomID, query string, page, limit int) ([]models.SearchResult, int, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}
	offset := (page - 1) * limit

	prefix := BuildPrefixQuery(query)
	like := "%" + strings.TrimSpace(query) + "%"

	var (
		rows pgx.Rows
		err  error
	)
	if prefix == "" {
		rows, err = db.Pool.Query(ctx,
			`SELECT `+messageColumns+`, count(*) OVER() AS total
			 FROM messages
			 WHERE room_id = $1
			   AND (raw_content ILIKE $2 OR coalesce(transcription, '') ILIKE $2)
			 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
			roomID, like, limit, offset)
	} else {
		rows, err = db.Pool.Query(ctx,
			`SELECT `+messageColumns+`, count(*) OVER() AS total
			 FROM messages
			 WHERE room_id = $1
			   AND (to_tsvector('simple', coalesce(raw_content, '') || ' ' || coalesce(transcription, '')) @@ to_tsquery('simple', $2)
			        OR raw_content ILIKE $3 OR coalesce(transcription, '') ILIKE $3)
			 ORDER BY created_at DESC LIMIT $4 OFFSET $5`,
			roomID, prefix, like, limit, offset)
	}
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	terms := QueryTerms(query)
	var results []models.SearchResult
	total := 0
	for rows.Next() {
		m, err := scanMessage(rows, &total)
		if err != nil {
			return nil, 0, err
		}
		source := m.RawContent
		if m.ContentType != models.ContentTypeText && m.Transcription != nil {
			source = *m.Transcription
		}
		results = append(results, models.SearchResult{
			Message: *m,
			Snippet: MakeSnippet(source, terms, 40),
		})
	}
	return results, total, rows.Err()
}

// QueryTerms splits user input into lowercase alphanumeric tokens.
func QueryTerms(input string) []string {
	return strings.FieldsFunc(strings.ToLower(input), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// BuildPrefixQuery compiles user input into a tsquery string of
// prefix-matching conjunctions, e.g. "mach inv" -> "mach:* & inv:*".
func BuildPrefixQuery(input string) string {
	terms := QueryTerms(input)
	if len(terms) == 0 {
		return ""
	}
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = t + ":*"
	}
	return strings.Join(parts, " & ")
}

// Snippet delimiters. Clients replace them with their own highlight
// markup.
const (
	HighlightStart = "[["
	HighlightEnd   = "]]"
)

// MakeSnippet extracts a window of text around the first matched term
// and wraps every term occurrence in highlight delimiters.
func MakeSnippet(content string, terms []string, radius int) string {
	if content == "" || len(terms) == 0 {
		return content
	}
	lower := strings.ToLower(content)

	first := -1
	for _, t := range terms {
		if idx := strings.Index(lower, t); idx >= 0 && (first == -1 || idx < first) {
			first = idx
		}
	}
	if first == -1 {
		if len(content) > 2*radius {
			return content[:2*radius] + "…"
		}
		return content
	}

	start := first - radius
	if start < 0 {
		start = 0
	}
	end := first + radius
	if end > len(content) {
		end = len(content)
	}
	// Snap to rune boundaries so we never cut a multibyte character.
	for start > 0 && !isRuneStart(content[start]) {
		start--
	}
	for end < len(content) && !isRuneStart(content[end]) {
		end++
	}
	window := content[start:end]

	highlighted := highlightTerms(window, terms)
	if start > 0 {
		highlighted = "…" + highlighted
	}
	if end < len(content) {
		highlighted += "…"
	}
	return highlighted
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func highlightTerms(window string, terms []string) string {
	lower := strings.ToLower(window)
	type span struct{ from, to int }
	var spans []span
	for _, t := range terms {
		for from := 0; ; {
			idx := strings.Index(lower[from:], t)
			if idx < 0 {
				break
			}
			spans = append(spans, span{from + idx, from + idx + len(t)})
			from += idx + len(t)
		}
	}
	if len(spans) == 0 {
		return window
	}
	// Merge overlapping spans so nested terms produce one marker pair.
	for i := 0; i < len(spans); i++ {
		for j := i + 1; j < len(spans); j++ {
			if spans[j].from < spans[i].from {
				spans[i], spans[j] = spans[j], spans[i]
			}
		}
	}
	merged := spans[:1]
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.from <= last.to {
			if sp.to > last.to {
				last.to = sp.to
			}
			continue
		}
		merged = append(merged, sp)
	}

	var b strings.Builder
	prev := 0
	for _, sp := range merged {
		b.WriteString(window[prev:sp.from])
		b.WriteString(HighlightStart)
		b.WriteString(window[sp.from:sp.to])
		b.WriteString(HighlightEnd)
		prev = sp.to
	}
	b.WriteString(window[prev:])
	return b.String()
}

// RecentTurns returns the last n conversational turns of a room, oldest
// first, formatted for the mediation context window.
func (s *MessageService) RecentTurns(ctx context.Context, roomID string, n int) ([]string, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT u.username, coalesce(m.transcription, m.raw_content)
		 FROM messages m JOIN users u ON u.id = m.sender_id
		 WHERE m.room_id = $1 AND (m.content_type = 'TEXT' OR m.transcription IS NOT NULL)
		 ORDER BY m.created_at DESC LIMIT $2`,
		roomID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []string
	for rows.Next() {
		var username, text string
		if err := rows.Scan(&username, &text); err != nil {
			return nil, err
		}
		turns = append(turns, username+": "+text)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse to oldest first
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}
