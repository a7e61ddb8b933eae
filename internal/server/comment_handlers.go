package server

import (
	"discuzz/internal/models"

	"github.com/gofiber/fiber/v2"
)

// PostCommentRequest is the body for POST /api/threads/:id/comments.
type PostCommentRequest struct {
	ParentID *uint  `json:"parent_id"`
	Body     string `json:"body"`
}

// PostComment inserts a comment into a thread through the aggregator, which
// validates the parent, emits the comment_posted event, and may schedule an
// AI delegate reply.
func (s *Server) PostComment(c *fiber.Ctx) error {
	threadID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	userID := currentUserID(c)

	var req PostCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	comment, err := s.aggregator.Post(c.Context(), threadID, req.ParentID, userID, req.Body, false)
	if err != nil {
		return models.RespondWithError(c, statusForError(err), err)
	}
	return c.Status(fiber.StatusCreated).JSON(comment)
}

// DeleteComment tombstones a comment. Only the author may remove their own
// comment; replies keep their parent link to the tombstoned node.
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	userID := currentUserID(c)

	comment, err := s.commRepo.GetByID(c.Context(), id)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusNotFound,
			models.NewNotFoundError("comment", id))
	}
	if comment.AuthorID != userID {
		return models.RespondWithError(c, fiber.StatusForbidden,
			models.NewUnauthorizedError("comment belongs to another author"))
	}

	if err := s.commRepo.SoftDelete(c.Context(), id); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetThread returns a thread's comments in insertion order.
func (s *Server) GetThread(c *fiber.Ctx) error {
	threadID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	comments, err := s.aggregator.ListThread(c.Context(), threadID)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{
		"thread_id": threadID,
		"comments":  comments,
	})
}
