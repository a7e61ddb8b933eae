package repository

import (
	"context"
	"errors"

	"discuzz/internal/models"

	"gorm.io/gorm"
)

// CommentRepository manages thread comment trees.
type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) error
	GetByID(ctx context.Context, id uint) (*models.Comment, error)
	ListThread(ctx context.Context, threadID uint) ([]*models.Comment, error)
	// AncestorAuthors walks the parent chain of a comment and returns the
	// distinct author IDs encountered, nearest ancestor first.
	AncestorAuthors(ctx context.Context, commentID uint) ([]uint, error)
	ListUnemitted(ctx context.Context, limit int) ([]*models.Comment, error)
	MarkEmitted(ctx context.Context, id uint) error
	SoftDelete(ctx context.Context, id uint) error
}

type commentRepository struct {
	db *gorm.DB
}

// NewCommentRepository creates a new CommentRepository.
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db}
}

func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) error {
	return r.db.WithContext(ctx).Create(comment).Error
}

func (r *commentRepository) GetByID(ctx context.Context, id uint) (*models.Comment, error) {
	var comment models.Comment
	if err := r.db.WithContext(ctx).First(&comment, id).Error; err != nil {
		return nil, err
	}
	return &comment, nil
}

func (r *commentRepository) ListThread(ctx context.Context, threadID uint) ([]*models.Comment, error) {
	var comments []*models.Comment
	err := r.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("id asc").
		Find(&comments).Error
	return comments, err
}

func (r *commentRepository) AncestorAuthors(ctx context.Context, commentID uint) ([]uint, error) {
	seen := make(map[uint]bool)
	var authors []uint

	current := commentID
	// Bounded walk; reply depth in practice is shallow, the cap guards against
	// a corrupted parent cycle.
	for depth := 0; depth < 1000; depth++ {
		var comment models.Comment
		err := r.db.WithContext(ctx).First(&comment, current).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				break
			}
			return nil, err
		}
		if depth > 0 && !seen[comment.AuthorID] {
			seen[comment.AuthorID] = true
			authors = append(authors, comment.AuthorID)
		}
		if comment.ParentID == nil {
			break
		}
		current = *comment.ParentID
	}
	return authors, nil
}

func (r *commentRepository) ListUnemitted(ctx context.Context, limit int) ([]*models.Comment, error) {
	var comments []*models.Comment
	q := r.db.WithContext(ctx).
		Where("event_emitted = ?", false).
		Order("id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&comments).Error
	return comments, err
}

func (r *commentRepository) MarkEmitted(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).
		Model(&models.Comment{}).
		Where("id = ?", id).
		Update("event_emitted", true).Error
}

func (r *commentRepository) SoftDelete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.Comment{}, id).Error
}
