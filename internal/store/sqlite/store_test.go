package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gannportal/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetUser(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.CreateUser(ctx, &model.User{
		Username:     "analyst1",
		Email:        "a1@example.com",
		PasswordHash: "hash",
		Role:         model.RoleAnalyst,
		FirstLogin:   true,
	}, &model.UserDetail{FullName: "First Analyst", PhoneNumber: "999"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if id == 0 {
		t.Fatal("zero user id")
	}

	u, err := s.GetUserByUsername(ctx, "analyst1")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u.Email != "a1@example.com" || u.Role != model.RoleAnalyst || !u.FirstLogin || u.EmailVerified {
		t.Errorf("user mismatch: %+v", u)
	}

	if _, err := s.GetUserByUsername(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing user: got %v, want ErrNotFound", err)
	}
}

func TestCreateUser_Duplicate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u := &model.User{Username: "dup", Email: "dup@example.com", PasswordHash: "h", Role: model.RoleAnalyst}
	if _, err := s.CreateUser(ctx, u, nil); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := s.CreateUser(ctx, u, nil); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate insert: got %v, want ErrDuplicate", err)
	}
}

func TestPasswordAndVerificationFlags(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, _ := s.CreateUser(ctx, &model.User{
		Username: "flags", Email: "flags@example.com", PasswordHash: "old",
		Role: model.RoleAnalyst, FirstLogin: true,
	}, nil)

	if err := s.UpdatePassword(ctx, id, "new", true); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	if err := s.MarkEmailVerified(ctx, id); err != nil {
		t.Fatalf("MarkEmailVerified: %v", err)
	}

	u, _ := s.GetUserByID(ctx, id)
	if u.PasswordHash != "new" || u.FirstLogin || !u.EmailVerified {
		t.Errorf("flags not updated: %+v", u)
	}
}

func TestListAnalysts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.CreateUser(ctx, &model.User{Username: "admin", Email: "admin@example.com", PasswordHash: "h", Role: model.RoleAdmin}, nil)
	for _, name := range []string{"alice", "bob", "carol"} {
		_, err := s.CreateUser(ctx, &model.User{
			Username: name, Email: name + "@example.com", PasswordHash: "h", Role: model.RoleAnalyst,
		}, &model.UserDetail{FullName: name + " smith"})
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	all, total, err := s.ListAnalysts(ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("ListAnalysts: %v", err)
	}
	if total != 3 || len(all) != 3 {
		t.Fatalf("expected 3 analysts, got %d (total %d)", len(all), total)
	}
	for _, a := range all {
		if a.Role != model.RoleAnalyst {
			t.Errorf("admin leaked into analyst listing: %s", a.Username)
		}
	}

	// Search matches full name case-insensitively
	hits, total, err := s.ListAnalysts(ctx, "BOB", 10, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 1 || len(hits) != 1 || hits[0].Username != "bob" {
		t.Errorf("search result: total=%d hits=%+v", total, hits)
	}

	// Pagination
	page, total, err := s.ListAnalysts(ctx, "", 2, 2)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if total != 3 || len(page) != 1 {
		t.Errorf("page 2: total=%d len=%d", total, len(page))
	}
}

func TestOTPChallengeLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	id, _ := s.CreateUser(ctx, &model.User{
		Username: "otp", Email: "otp@example.com", PasswordHash: "h", Role: model.RoleAnalyst,
	}, nil)

	if _, err := s.LatestOTPChallenge(ctx, id, now); !errors.Is(err, ErrNotFound) {
		t.Errorf("no challenge yet: got %v, want ErrNotFound", err)
	}

	chalID, err := s.CreateOTPChallenge(ctx, id, "SECRET1", now.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("CreateOTPChallenge: %v", err)
	}

	c, err := s.LatestOTPChallenge(ctx, id, now)
	if err != nil {
		t.Fatalf("LatestOTPChallenge: %v", err)
	}
	if c.ID != chalID || c.Secret != "SECRET1" || c.Used {
		t.Errorf("challenge mismatch: %+v", c)
	}

	// A newer challenge supersedes the old one
	s.CreateOTPChallenge(ctx, id, "SECRET2", now.Add(10*time.Minute))
	c, _ = s.LatestOTPChallenge(ctx, id, now)
	if c.Secret != "SECRET2" {
		t.Errorf("expected newest challenge, got %s", c.Secret)
	}

	// Consuming it removes it from lookup
	if err := s.MarkOTPUsed(ctx, c.ID); err != nil {
		t.Fatalf("MarkOTPUsed: %v", err)
	}
	c, err = s.LatestOTPChallenge(ctx, id, now)
	if err != nil {
		t.Fatalf("after use: %v", err)
	}
	if c.Secret != "SECRET1" {
		t.Errorf("expected fallback to older unused challenge, got %s", c.Secret)
	}

	// Expired challenges are invisible
	if _, err := s.LatestOTPChallenge(ctx, id, now.Add(time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired: got %v, want ErrNotFound", err)
	}

	// Prune removes used and expired rows
	n, err := s.PruneOTPChallenges(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d rows, want 2", n)
	}
}
