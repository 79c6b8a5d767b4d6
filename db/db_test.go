package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"rtchat/models"
)

func setupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "rtchat-db-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	database, err := New(filepath.Join(dir, "test.db"))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("Failed to create database: %v", err)
	}
	return database, func() {
		database.Close()
		os.RemoveAll(dir)
	}
}

func createUser(t *testing.T, database *DB, name string) models.User {
	t.Helper()
	u, err := database.CreateUser(name, name+"@example.com", "secret1")
	if err != nil {
		t.Fatalf("Failed to create user %s: %v", name, err)
	}
	return u
}

func TestCreateAndAuthenticate(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	alice := createUser(t, database, "alice")
	if alice.ID == "" {
		t.Fatal("Expected generated id")
	}

	if _, err := database.CreateUser("alice", "other@example.com", "secret1"); err != ErrUserExists {
		t.Errorf("Expected ErrUserExists, got %v", err)
	}

	u, err := database.Authenticate("alice", "secret1")
	if err != nil || u.ID != alice.ID {
		t.Fatalf("Authenticate failed: %+v, %v", u, err)
	}
	if _, err := database.Authenticate("alice", "wrong"); err != ErrInvalidCredentials {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := database.Authenticate("nobody", "secret1"); err != ErrInvalidCredentials {
		t.Errorf("Expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestListSearchAndProfile(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	alice := createUser(t, database, "alice")
	createUser(t, database, "bob")
	createUser(t, database, "carol")

	users, err := database.ListUsers(alice.ID)
	if err != nil || len(users) != 2 || users[0].Username != "bob" {
		t.Fatalf("Unexpected directory %+v (%v)", users, err)
	}

	found, err := database.SearchUsers("CAR", alice.ID)
	if err != nil || len(found) != 1 || found[0].Username != "carol" {
		t.Errorf("Unexpected search result %+v (%v)", found, err)
	}

	updated, err := database.UpdateProfile(alice.ID, models.ProfileUpdate{Username: "alicia", Avatar: "cat.png"})
	if err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	if updated.Username != "alicia" || updated.Avatar != "cat.png" || updated.Email != "alice@example.com" {
		t.Errorf("Unexpected profile %+v", updated)
	}
	if _, err := database.UpdateProfile(alice.ID, models.ProfileUpdate{Username: "bob"}); err != ErrUserExists {
		t.Errorf("Expected ErrUserExists, got %v", err)
	}

	seen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := database.UpdateLastSeen(alice.ID, seen); err != nil {
		t.Fatalf("UpdateLastSeen failed: %v", err)
	}
	u, _ := database.GetUser(alice.ID)
	if u.LastSeen == nil || !u.LastSeen.Equal(seen) {
		t.Errorf("Expected last seen %v, got %v", seen, u.LastSeen)
	}
}

func TestHistoryPagination(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	alice := createUser(t, database, "alice")
	bob := createUser(t, database, "bob")
	carol := createUser(t, database, "carol")

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		from, to := alice.ID, bob.ID
		if i%2 == 1 {
			from, to = bob.ID, alice.ID
		}
		if _, err := database.SaveMessage(from, to, string(rune('a'+i)), base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}
	database.SaveMessage(alice.ID, carol.ID, "other", base)

	page, err := database.History(alice.ID, bob.ID, "", 2)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(page.Data) != 2 || page.Data[0].Content != "d" || page.Data[1].Content != "e" {
		t.Fatalf("Expected newest two ascending, got %+v", page.Data)
	}
	if !page.HasNextPage || page.Cursor() == "" {
		t.Fatal("Expected a next cursor")
	}

	var contents []string
	cursor := page.Cursor()
	for cursor != "" {
		p, err := database.History(bob.ID, alice.ID, cursor, 2)
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		for _, m := range p.Data {
			contents = append(contents, m.Content)
		}
		cursor = p.Cursor()
	}
	if len(contents) != 3 {
		t.Errorf("Expected the 3 older messages, got %v", contents)
	}

	if _, err := database.History(alice.ID, bob.ID, "bogus", 2); err != ErrInvalidCursor {
		t.Errorf("Expected ErrInvalidCursor, got %v", err)
	}
}

func TestEditDeleteAndRead(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	alice := createUser(t, database, "alice")
	bob := createUser(t, database, "bob")
	m, err := database.SaveMessage(alice.ID, bob.ID, "helo", time.Now())
	if err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	if _, err := database.EditMessage(m.ID, bob.ID, "x"); err != ErrNotOwner {
		t.Errorf("Expected ErrNotOwner, got %v", err)
	}
	edited, err := database.EditMessage(m.ID, alice.ID, "hello")
	if err != nil || edited.Content != "hello" {
		t.Fatalf("EditMessage failed: %+v, %v", edited, err)
	}

	if n, _ := database.UnreadCount(bob.ID); n != 1 {
		t.Errorf("Expected 1 unread, got %d", n)
	}
	if n, err := database.MarkRead(alice.ID, []string{m.ID}); err != nil || n != 0 {
		t.Errorf("Sender must not mark own message read, got %d (%v)", n, err)
	}
	if n, err := database.MarkRead(bob.ID, []string{m.ID}); err != nil || n != 1 {
		t.Errorf("Expected 1 marked read, got %d (%v)", n, err)
	}
	if n, _ := database.UnreadCount(bob.ID); n != 0 {
		t.Errorf("Expected 0 unread, got %d", n)
	}

	deleted, err := database.DeleteMessage(m.ID, alice.ID)
	if err != nil || !deleted.IsDeleted || deleted.Content != "" {
		t.Fatalf("DeleteMessage failed: %+v, %v", deleted, err)
	}
	stored, err := database.GetMessage(m.ID)
	if err != nil || !stored.IsDeleted || stored.Content != "" {
		t.Errorf("Expected tombstone kept, got %+v (%v)", stored, err)
	}
	if _, err := database.EditMessage(m.ID, alice.ID, "again"); err != ErrDeleted {
		t.Errorf("Expected ErrDeleted, got %v", err)
	}
	if _, err := database.GetMessage("missing"); err != ErrNoRows {
		t.Errorf("Expected ErrNoRows, got %v", err)
	}
}

func TestRevokedTokens(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	database.RevokeToken("old", now.Add(-time.Minute))
	database.RevokeToken("live", now.Add(time.Hour))

	if ok, _ := database.IsRevoked("live"); !ok {
		t.Error("Expected live token revoked")
	}
	n, err := database.PurgeRevoked(now)
	if err != nil || n != 1 {
		t.Errorf("Expected 1 purged, got %d (%v)", n, err)
	}
	if ok, _ := database.IsRevoked("old"); ok {
		t.Error("Expired revocation should be purged")
	}
}
