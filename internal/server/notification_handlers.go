package server

import (
	"strings"

	"discuzz/internal/models"

	"github.com/gofiber/fiber/v2"
)

// ListNotifications returns the recipient's backlog, optionally filtered by
// state (?state=pending,delivered), oldest first.
func (s *Server) ListNotifications(c *fiber.Ctx) error {
	userID := currentUserID(c)
	limit := parseLimit(c, 50)

	var states []models.NotificationState
	if raw := c.Query("state"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			state := models.NotificationState(part)
			switch state {
			case models.NotificationPending, models.NotificationDelivered,
				models.NotificationRead, models.NotificationFailed:
				states = append(states, state)
			default:
				return models.RespondWithError(c, fiber.StatusBadRequest,
					models.NewValidationError("unknown notification state "+part))
			}
		}
	}

	notifications, err := s.notifRepo.ListByRecipient(c.Context(), userID, states, limit)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{"notifications": notifications})
}

// UnreadCount returns how many notifications await the recipient.
func (s *Server) UnreadCount(c *fiber.Ctx) error {
	userID := currentUserID(c)

	count, err := s.notifRepo.CountUnread(c.Context(), userID)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{"unread": count})
}

// MarkAllNotificationsRead acknowledges the caller's entire unread backlog in
// one bulk transition and reports how many rows moved.
func (s *Server) MarkAllNotificationsRead(c *fiber.Ctx) error {
	userID := currentUserID(c)

	read, err := s.notifRepo.MarkAllRead(c.Context(), userID)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{"read": read})
}

// MarkNotificationRead acknowledges one notification for the caller.
func (s *Server) MarkNotificationRead(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	userID := currentUserID(c)

	if err := s.dispatcher.MarkRead(c.Context(), id, userID); err != nil {
		return models.RespondWithError(c, statusForError(err), err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
