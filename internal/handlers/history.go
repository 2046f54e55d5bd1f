package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"linguachat-backend/internal/mediator"
	"linguachat-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// HistoryHandler returns a page of room messages, newest first.
func (g *Gateway) HistoryHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)
		roomID := c.Params("room_id")

		member, err := g.rooms.IsMember(c.Context(), roomID, userID)
		if err != nil {
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "something went wrong"})
		}
		if !member {
			return c.Status(http.StatusForbidden).JSON(fiber.Map{"error": "not a room member"})
		}

		page := c.QueryInt("page", 1)
		limit := c.QueryInt("limit", 0)
		messages, err := g.store.History(c.Context(), roomID, page, limit)
		if err != nil {
			log.Error().Err(err).Str("room_id", roomID).Msg("fetch history")
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch messages"})
		}
		if messages == nil {
			messages = []models.Message{}
		}
		return c.JSON(fiber.Map{"messages": messages, "page": page})
	}
}

// SearchHandler runs a full-text search over a room's messages.
func (g *Gateway) SearchHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)
		roomID := c.Params("room_id")

		query := c.Query("q")
		if query == "" {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "q is required"})
		}

		member, err := g.rooms.IsMember(c.Context(), roomID, userID)
		if err != nil {
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "something went wrong"})
		}
		if !member {
			return c.Status(http.StatusForbidden).JSON(fiber.Map{"error": "not a room member"})
		}

		page := c.QueryInt("page", 1)
		limit := c.QueryInt("limit", 0)
		results, total, err := g.store.Search(c.Context(), roomID, query, page, limit)
		if err != nil {
			log.Error().Err(err).Str("room_id", roomID).Msg("search messages")
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "search failed"})
		}
		if results == nil {
			results = []models.SearchResult{}
		}
		return c.JSON(fiber.Map{"results": results, "total": total, "page": page})
	}
}

// RemediateHandler re-runs mediation on an existing message. A newer
// request from the same user supersedes an in-flight one; the
// superseded response is dropped, not surfaced as an error.
func (g *Gateway) RemediateHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)
		messageID := c.Params("message_id")

		msg, err := g.store.GetByID(c.Context(), messageID)
		if err != nil {
			return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "message not found"})
		}
		member, err := g.rooms.IsMember(c.Context(), msg.RoomID, userID)
		if err != nil {
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "something went wrong"})
		}
		if !member {
			return c.Status(http.StatusForbidden).JSON(fiber.Map{"error": "not a room member"})
		}

		req := mediator.Request{
			UserID:      userID,
			RoomID:      msg.RoomID,
			ContentType: msg.ContentType,
		}
		if msg.ContentType == models.ContentTypeText {
			req.Text = msg.RawContent
		} else {
			data, mime, err := g.readMedia(msg.RawContent)
			if err != nil {
				return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "stored file not found"})
			}
			req.MediaData = data
			req.MediaMIME = mime
		}

		ctx, done := g.latest.Start(c.Context(), fmt.Sprintf("remediate:%d", userID))
		defer done()

		res, err := g.med.Mediate(ctx, req)
		if err != nil {
			if mediator.Superseded(err) {
				return c.SendStatus(http.StatusNoContent)
			}
			log.Error().Err(err).Str("message_id", messageID).Msg("re-mediate message")
			return c.Status(http.StatusBadGateway).JSON(fiber.Map{"error": "processing failed, please try again"})
		}

		if err := g.store.UpdateTranslations(ctx, messageID, res.Transcription, res.Translations, res.ConfidenceScore, res.ExtractedActions); err != nil {
			log.Error().Err(err).Str("message_id", messageID).Msg("store re-mediation result")
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save translations"})
		}

		g.hub.Broadcast(msg.RoomID, models.MessageEdited{
			RoomID:          msg.RoomID,
			MessageID:       messageID,
			NewContent:      msg.RawContent,
			Translations:    res.Translations,
			ConfidenceScore: &res.ConfidenceScore,
			IsEdited:        msg.IsEdited,
		})

		return c.JSON(fiber.Map{
			"message_id":       messageID,
			"transcription":    res.Transcription,
			"translations":     res.Translations,
			"confidence_score": res.ConfidenceScore,
		})
	}
}

// UploadMediaHandler stores a file ahead of an IMAGE/DOCUMENT send and
// returns the reference the send payload carries.
func UploadMediaHandler(uploadDir string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)

		fileHeader, err := c.FormFile("file")
		if err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
		}

		dir := filepath.Join(uploadDir, "media")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create upload dir"})
		}

		ext := filepath.Ext(fileHeader.Filename)
		filename := fmt.Sprintf("media_%d_%d%s", userID, time.Now().UnixNano(), ext)
		if err := c.SaveFile(fileHeader, filepath.Join(dir, filename)); err != nil {
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save file"})
		}

		return c.Status(http.StatusCreated).JSON(fiber.Map{
			"file_ref": filename,
			"url":      "/uploads/media/" + filename,
		})
	}
}
