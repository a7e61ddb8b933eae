package server

import (
	"discuzz/internal/middleware"
	"discuzz/internal/models"

	"github.com/gofiber/fiber/v2"
)

// SubscribeRequest is the body for POST /api/subscriptions.
type SubscribeRequest struct {
	TargetID uint                    `json:"target_id"`
	Kind     models.SubscriptionKind `json:"kind"`
}

// Subscribe creates a follow-graph edge and appends the follow event so the
// target gets notified.
func (s *Server) Subscribe(c *fiber.Ctx) error {
	userID := currentUserID(c)

	var req SubscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if req.TargetID == 0 || req.TargetID == userID {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("invalid subscription target"))
	}
	if req.Kind == "" {
		req.Kind = models.SubscriptionFollow
	}
	if req.Kind != models.SubscriptionFollow && req.Kind != models.SubscriptionSpace {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("unknown subscription kind"))
	}

	exists, err := s.subsRepo.IsSubscribed(c.Context(), userID, req.TargetID, req.Kind)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	if exists {
		return c.SendStatus(fiber.StatusNoContent)
	}

	sub := &models.Subscription{
		SubscriberID: userID,
		TargetID:     req.TargetID,
		Kind:         req.Kind,
	}
	if err := s.subsRepo.Subscribe(c.Context(), sub); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	// Follow edges notify the followed user; space subscriptions are silent.
	if req.Kind == models.SubscriptionFollow {
		if _, err := s.store.Append(c.Context(), models.EventFollow, userID, req.TargetID,
			models.EventPayload{}); err != nil {
			middleware.Logger.Warn("Failed to append follow event",
				"error", err, "actor_id", userID, "target_id", req.TargetID)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(sub)
}

// Unsubscribe removes a follow-graph edge.
func (s *Server) Unsubscribe(c *fiber.Ctx) error {
	targetID, err := s.parseID(c, "targetId")
	if err != nil {
		return nil
	}
	userID := currentUserID(c)

	kind := models.SubscriptionKind(c.Query("kind", string(models.SubscriptionFollow)))
	if kind != models.SubscriptionFollow && kind != models.SubscriptionSpace {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("unknown subscription kind"))
	}

	if err := s.subsRepo.Unsubscribe(c.Context(), userID, targetID, kind); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	return c.SendStatus(fiber.StatusNoContent)
}
