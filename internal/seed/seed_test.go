package seed

import (
	"testing"
	"time"

	"discuzz/internal/models"
)

func TestBuildUser_UsernameAndTimestamp(t *testing.T) {
	opts := Options{DryRun: true, MaxDays: 30}
	f := NewFactory(nil, opts)

	u := f.BuildUser()
	if u.Username == "" {
		t.Fatalf("expected a generated username")
	}
	if time.Since(u.CreatedAt) > (time.Duration(opts.MaxDays)+1)*24*time.Hour {
		t.Fatalf("created_at too old: %v", u.CreatedAt)
	}
}

func TestBuildComment_ParentLinking(t *testing.T) {
	opts := Options{DryRun: true, MaxDays: 30}
	f := NewFactory(nil, opts)
	author := &models.User{ID: 1}

	root := f.BuildComment(5, author, nil)
	if root.ParentID != nil {
		t.Fatalf("root comment should have no parent")
	}
	if root.ThreadID != 5 || root.AuthorID != 1 {
		t.Fatalf("unexpected comment fields: %+v", root)
	}
	if root.Body == "" {
		t.Fatalf("expected a generated body")
	}
	if !root.EventEmitted {
		t.Fatalf("seeded comments carry their events, EventEmitted should be set")
	}

	root.ID = 42
	reply := f.BuildComment(5, author, root)
	if reply.ParentID == nil || *reply.ParentID != 42 {
		t.Fatalf("reply should link to parent 42, got %v", reply.ParentID)
	}
}

func TestCreateComment_DryRunAssignsIDs(t *testing.T) {
	f := NewFactory(nil, Options{DryRun: true})
	author := &models.User{ID: 1}

	first, err := f.CreateComment(1, author, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := f.CreateComment(1, author, first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID == 0 || second.ID <= first.ID {
		t.Fatalf("expected increasing synthetic IDs, got %d then %d", first.ID, second.ID)
	}
}
