package handlers

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"linguachat-backend/internal/mediator"
	"linguachat-backend/internal/metrics"
	"linguachat-backend/internal/models"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// RoomPipeline is the persist-and-broadcast surface audio ingestion
// submits finished messages into. The dependency runs one way only:
// ingestion knows this interface, the gateway never imports ingestion.
type RoomPipeline interface {
	PersistAndBroadcast(ctx context.Context, senderName string, msg *models.Message) error
}

// AudioIngestor handles the dedicated audio submission route: decode,
// store, mediate, and apply the authoritative audibility gate before
// anything is persisted.
type AudioIngestor struct {
	pipeline RoomPipeline
	rooms    MembershipChecker
	med      MediationService
	validate *validator.Validate

	uploadDir     string
	baseURL       string
	minConfidence int16
}

func NewAudioIngestor(pipeline RoomPipeline, rooms MembershipChecker, med MediationService, uploadDir, baseURL string, minConfidence int16) *AudioIngestor {
	return &AudioIngestor{
		pipeline:      pipeline,
		rooms:         rooms,
		med:           med,
		validate:      validator.New(),
		uploadDir:     uploadDir,
		baseURL:       baseURL,
		minConfidence: minConfidence,
	}
}

type SubmitAudioRequest struct {
	RoomID      string `json:"room_id" validate:"required,uuid4"`
	AudioBase64 string `json:"audio_base64" validate:"required"`
	MIMEType    string `json:"mime_type"`
}

// SubmitHandler ingests one audio recording. An inaudible recording is
// a distinct outcome (422, status "not_audible"), never a generic
// failure: the caller shows "please re-record" instead of "try again".
func (a *AudioIngestor) SubmitHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)
		username := c.Locals("username").(string)

		var req SubmitAudioRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		if err := a.validate.Struct(req); err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}

		member, err := a.rooms.IsMember(c.Context(), req.RoomID, userID)
		if err != nil {
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "something went wrong"})
		}
		if !member {
			return c.Status(http.StatusForbidden).JSON(fiber.Map{"error": "not a room member"})
		}

		data, err := base64.StdEncoding.DecodeString(req.AudioBase64)
		if err != nil || len(data) == 0 {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid audio payload"})
		}

		ext := extensionForMIME(req.MIMEType)
		if ext == "" {
			ext = mimetype.Detect(data).Extension()
		}
		if ext == "" {
			ext = ".bin"
		}

		dir := filepath.Join(a.uploadDir, "audio")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "failed to store audio"})
		}
		filename := fmt.Sprintf("audio_%d_%d%s", userID, time.Now().UnixNano(), ext)
		destPath := filepath.Join(dir, filename)
		if err := os.WriteFile(destPath, data, 0644); err != nil {
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "failed to store audio"})
		}

		res, err := a.med.Mediate(c.Context(), mediator.Request{
			UserID:      userID,
			RoomID:      req.RoomID,
			ContentType: models.ContentTypeAudio,
			MediaData:   data,
			MediaMIME:   req.MIMEType,
		})
		if err != nil {
			_ = os.Remove(destPath)
			log.Error().Err(err).Str("room_id", req.RoomID).Msg("mediate audio")
			return c.Status(http.StatusBadGateway).JSON(fiber.Map{"error": "processing failed, please try again"})
		}

		// Authoritative admissibility check, applied before anything is
		// persisted. The score gates independently of transcription
		// presence.
		if res.ConfidenceScore <= a.minConfidence || strings.TrimSpace(res.Transcription) == "" {
			_ = os.Remove(destPath)
			metrics.AudioRejectedTotal.Inc()
			return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
				"status":  "not_audible",
				"message": "recording was not audible, please re-record",
			})
		}

		msg := &models.Message{
			RoomID:           req.RoomID,
			SenderID:         userID,
			ContentType:      models.ContentTypeAudio,
			RawContent:       a.fileRef(filename),
			Transcription:    &res.Transcription,
			Translations:     res.Translations,
			ConfidenceScore:  &res.ConfidenceScore,
			ExtractedActions: res.ExtractedActions,
		}
		if err := a.pipeline.PersistAndBroadcast(c.Context(), username, msg); err != nil {
			_ = os.Remove(destPath)
			log.Error().Err(err).Str("room_id", req.RoomID).Msg("persist audio message")
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save message"})
		}

		return c.Status(http.StatusCreated).JSON(msg)
	}
}

func (a *AudioIngestor) fileRef(filename string) string {
	if a.baseURL != "" {
		return fmt.Sprintf("%s/uploads/audio/%s", a.baseURL, filename)
	}
	return "/uploads/audio/" + filename
}

// extensionForMIME maps declared audio MIME types to storage
// extensions. Unknown types fall through to content sniffing, then a
// safe default.
func extensionForMIME(contentType string) string {
	switch contentType {
	case "audio/wav", "audio/wave", "audio/x-wav":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "audio/webm":
		return ".webm"
	case "audio/mp4", "audio/aac", "audio/x-m4a", "audio/m4a":
		return ".m4a"
	}
	return ""
}
