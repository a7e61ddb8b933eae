// Package seed provides helpers to create test and demo data for the
// application database. These helpers are intended for development and
// testing only.
package seed

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"time"

	"discuzz/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	NumUsers          int
	NumThreads        int
	CommentsPerThread int
	ShouldClean       bool
	// DryRun builds entities without persisting them. Used by tests.
	DryRun bool
	// MaxDays spreads created_at timestamps over this many days back.
	MaxDays int
}

// Factory builds domain entities and persists them to the database.
type Factory struct {
	db   *gorm.DB
	opts Options
	rng  *rand.Rand
	// synthetic ID counter when running in DryRun mode
	nextID uint
}

// NewFactory creates a new Factory bound to the provided Gorm DB.
func NewFactory(db *gorm.DB, opts Options) *Factory {
	gofakeit.Seed(time.Now().UnixNano())
	return &Factory{
		db:     db,
		opts:   opts,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		nextID: 1000,
	}
}

func (f *Factory) spreadTimestamp() time.Time {
	maxDays := f.opts.MaxDays
	if maxDays <= 0 {
		maxDays = 90
	}
	daysBack := f.rng.Intn(maxDays)
	hoursBack := f.rng.Intn(24)
	minsBack := f.rng.Intn(60)
	return time.Now().Add(-time.Duration(daysBack)*24*time.Hour -
		time.Duration(hoursBack)*time.Hour - time.Duration(minsBack)*time.Minute)
}

// BuildUser constructs a user without persisting it. Roughly one in five
// users opts into AI delegate replies.
func (f *Factory) BuildUser() *models.User {
	return &models.User{
		Username:        gofakeit.Username() + fmt.Sprintf("%d", gofakeit.Number(100, 999)),
		DelegateEnabled: f.rng.Intn(5) == 0,
		CreatedAt:       f.spreadTimestamp(),
	}
}

// CreateUser builds and persists a user.
func (f *Factory) CreateUser() (*models.User, error) {
	user := f.BuildUser()
	if f.opts.DryRun {
		f.nextID++
		user.ID = f.nextID
		return user, nil
	}
	if err := f.db.Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// BuildComment constructs a comment without persisting it. parent may be nil
// for a root comment.
func (f *Factory) BuildComment(threadID uint, author *models.User, parent *models.Comment) *models.Comment {
	c := &models.Comment{
		ThreadID:     threadID,
		AuthorID:     author.ID,
		Body:         gofakeit.Paragraph(1, 2, 8, " "),
		EventEmitted: true,
		CreatedAt:    f.spreadTimestamp(),
	}
	if parent != nil {
		c.ParentID = &parent.ID
	}
	return c
}

// CreateComment builds and persists a comment plus its comment_posted event,
// the same pair the thread aggregator writes at runtime.
func (f *Factory) CreateComment(threadID uint, author *models.User, parent *models.Comment) (*models.Comment, error) {
	c := f.BuildComment(threadID, author, parent)
	if f.opts.DryRun {
		f.nextID++
		c.ID = f.nextID
		return c, nil
	}
	if err := f.db.Create(c).Error; err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(models.EventPayload{
		CommentID: c.ID,
		ThreadID:  c.ThreadID,
	})
	event := &models.Event{
		Type:      models.EventCommentPosted,
		ActorID:   c.AuthorID,
		TargetID:  c.ThreadID,
		Payload:   string(payload),
		CreatedAt: c.CreatedAt,
	}
	if err := f.db.Create(event).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// CreateSubscription persists a follow-graph edge, ignoring duplicates.
func (f *Factory) CreateSubscription(subscriberID, targetID uint, kind models.SubscriptionKind) error {
	if f.opts.DryRun {
		return nil
	}
	sub := &models.Subscription{
		SubscriberID: subscriberID,
		TargetID:     targetID,
		Kind:         kind,
	}
	err := f.db.Create(sub).Error
	if err != nil && isUniqueViolation(err) {
		return nil
	}
	return err
}

func isUniqueViolation(err error) bool {
	return err == gorm.ErrDuplicatedKey
}

// Seed populates the database with test data
func Seed(db *gorm.DB, opts Options) error {
	log.Printf("🌱 Starting database seeding with %d users and %d threads...",
		opts.NumUsers, opts.NumThreads)

	if opts.ShouldClean {
		if err := clearData(db); err != nil {
			log.Println("⚠️  Warning: Could not clear all existing data, but continuing anyway...")
		}
	}

	f := NewFactory(db, opts)

	users := make([]*models.User, 0, opts.NumUsers)
	for i := 0; i < opts.NumUsers; i++ {
		user, err := f.CreateUser()
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		users = append(users, user)
	}
	log.Printf("Created %d users", len(users))

	// Follow graph: each user follows a handful of others.
	follows := 0
	for _, u := range users {
		n := f.rng.Intn(6) + 1
		for j := 0; j < n; j++ {
			target := users[f.rng.Intn(len(users))]
			if target.ID == u.ID {
				continue
			}
			if err := f.CreateSubscription(u.ID, target.ID, models.SubscriptionFollow); err != nil {
				return fmt.Errorf("failed to create subscription: %w", err)
			}
			follows++
		}
	}
	log.Printf("Created %d follow edges", follows)

	// Threads with shallow reply chains so fan-out has ancestors to resolve.
	comments := 0
	for t := 0; t < opts.NumThreads; t++ {
		threadID := uint(t + 1)
		var parent *models.Comment
		for c := 0; c < opts.CommentsPerThread; c++ {
			author := users[f.rng.Intn(len(users))]
			comment, err := f.CreateComment(threadID, author, parent)
			if err != nil {
				return fmt.Errorf("failed to create comment: %w", err)
			}
			comments++
			// Half the comments reply to the previous one, the rest start
			// fresh branches off the root.
			if f.rng.Intn(2) == 0 {
				parent = comment
			}
		}
	}
	log.Printf("Created %d comments across %d threads", comments, opts.NumThreads)

	log.Println("✅ Seeding complete")
	return nil
}

// clearData removes seeded rows in dependency order.
func clearData(db *gorm.DB) error {
	tables := []string{"notifications", "events", "comments", "subscriptions", "users"}
	for _, table := range tables {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}
