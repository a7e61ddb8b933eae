package server

import (
	"errors"

	"discuzz/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// AppendEventRequest is the producer-facing body for POST /api/events.
type AppendEventRequest struct {
	Type     models.EventType    `json:"type"`
	TargetID uint                `json:"target_id"`
	Payload  models.EventPayload `json:"payload"`
}

// AppendEvent appends a domain event to the log. The actor is always the
// authenticated user; fan-out picks the event up asynchronously.
func (s *Server) AppendEvent(c *fiber.Ctx) error {
	userID := currentUserID(c)

	var req AppendEventRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	event, err := s.store.Append(c.Context(), req.Type, userID, req.TargetID, req.Payload)
	if err != nil {
		return models.RespondWithError(c, statusForError(err), err)
	}
	return c.Status(fiber.StatusCreated).JSON(event)
}

// ListEvents reads the log from a cursor, for polling consumers.
func (s *Server) ListEvents(c *fiber.Ctx) error {
	cursor := c.QueryInt("cursor", 0)
	if cursor < 0 {
		cursor = 0
	}
	limit := parseLimit(c, 50)

	events, err := s.store.ReadSince(c.Context(), uint(cursor), limit)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	next := uint(cursor)
	if len(events) > 0 {
		next = events[len(events)-1].ID
	}
	return c.JSON(fiber.Map{
		"events":      events,
		"next_cursor": next,
	})
}

// GetEvent fetches one event by ID.
func (s *Server) GetEvent(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	event, err := s.store.GetByID(c.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.RespondWithError(c, fiber.StatusNotFound,
				models.NewNotFoundError("event", id))
		}
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	return c.JSON(event)
}
