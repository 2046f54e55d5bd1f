package mediator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"linguachat-backend/internal/metrics"
	"linguachat-backend/internal/models"
)

// TurnSource provides prior conversation turns for the context window.
type TurnSource interface {
	RecentTurns(ctx context.Context, roomID string, n int) ([]string, error)
}

// DictionarySource provides the user's compiled term dictionary.
type DictionarySource interface {
	Compiled(ctx context.Context, userID int) (string, error)
}

// Request is one mediation submission.
type Request struct {
	UserID      int
	RoomID      string
	ContentType models.ContentType
	Text        string // TEXT content or edited content
	MediaData   []byte // decoded payload for AUDIO/IMAGE/DOCUMENT
	MediaMIME   string
}

// Result is the structured mediation outcome. For audio judged silent
// or unintelligible the provider returns an empty transcription and
// confidence 0; it never fabricates content. For image/document input
// Transcription holds the extracted text.
type Result struct {
	Transcription    string
	Translations     models.Translations
	ConfidenceScore  int16
	ExtractedActions []models.ExtractedAction
}

// Client wraps the remote inference provider.
type Client struct {
	http         *http.Client
	baseURL      string
	apiKey       string
	languages    []string
	contextTurns int
	turns        TurnSource
	dict         DictionarySource
}

func NewClient(baseURL, apiKey string, timeout time.Duration, languages []string, contextTurns int, turns TurnSource, dict DictionarySource) *Client {
	return &Client{
		http:         &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		languages:    languages,
		contextTurns: contextTurns,
		turns:        turns,
		dict:         dict,
	}
}

type providerContent struct {
	Type       models.ContentType `json:"type"`
	Text       string             `json:"text,omitempty"`
	DataBase64 string             `json:"data_base64,omitempty"`
	MIMEType   string             `json:"mime_type,omitempty"`
}

type providerRequest struct {
	Languages  []string        `json:"languages"`
	Context    []string        `json:"context,omitempty"`
	Dictionary string          `json:"dictionary,omitempty"`
	Now        time.Time       `json:"now"`
	Content    providerContent `json:"content"`
}

type providerAction struct {
	Type        models.ActionType `json:"type"`
	Title       string            `json:"title"`
	Timestamp   time.Time         `json:"timestamp"`
	Description string            `json:"description,omitempty"`
}

type providerResponse struct {
	Transcription    string              `json:"transcription"`
	Translations     models.Translations `json:"translations"`
	ConfidenceScore  int16               `json:"confidence_score"`
	ExtractedActions []providerAction    `json:"extracted_actions"`
}

// Mediate builds the conversation context plus the user's dictionary
// block and requests a structured result from the provider. The call is
// bound to ctx so a superseded request can be cancelled mid-flight.
func (c *Client) Mediate(ctx context.Context, req Request) (*Result, error) {
	turns, err := c.turns.RecentTurns(ctx, req.RoomID, c.contextTurns)
	if err != nil {
		return nil, fmt.Errorf("load context turns: %w", err)
	}
	dictionary, err := c.dict.Compiled(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load dictionary: %w", err)
	}

	preq := providerRequest{
		Languages:  c.languages,
		Context:    turns,
		Dictionary: dictionary,
		Now:        time.Now().UTC(),
		Content: providerContent{
			Type: req.ContentType,
		},
	}
	if req.ContentType == models.ContentTypeText {
		preq.Content.Text = req.Text
	} else {
		preq.Content.DataBase64 = base64.StdEncoding.EncodeToString(req.MediaData)
		preq.Content.MIMEType = req.MediaMIME
	}

	body, err := json.Marshal(preq)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/mediate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mediation request: %w", err)
	}
	defer resp.Body.Close()
	metrics.MediationDuration.Observe(time.Since(started).Seconds())

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("mediation provider status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var presp providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&presp); err != nil {
		return nil, fmt.Errorf("decode mediation response: %w", err)
	}

	return normalize(req.ContentType, presp), nil
}

// normalize clamps the score and enforces the inaudible-audio contract:
// a blank transcription for audio always carries confidence 0.
func normalize(contentType models.ContentType, presp providerResponse) *Result {
	score := presp.ConfidenceScore
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	if contentType == models.ContentTypeAudio && strings.TrimSpace(presp.Transcription) == "" {
		score = 0
	}

	actions := make([]models.ExtractedAction, 0, len(presp.ExtractedActions))
	for _, a := range presp.ExtractedActions {
		if a.Type != models.ActionMeeting && a.Type != models.ActionReminder {
			continue
		}
		actions = append(actions, models.ExtractedAction{
			Type:        a.Type,
			Title:       a.Title,
			Timestamp:   a.Timestamp,
			Description: a.Description,
		})
	}

	return &Result{
		Transcription:    presp.Transcription,
		Translations:     presp.Translations,
		ConfidenceScore:  score,
		ExtractedActions: actions,
	}
}
