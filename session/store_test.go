package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewStore(client, "avs")
}

func newSession(id, userID string, createdAt time.Time, lifetime time.Duration) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		TokenHash: "hash-" + id,
		CSRFHash:  "csrf-" + id,
		Device:    "laptop",
		IP:        "203.0.113.7",
		UserAgent: "test-agent",
		CreatedAt: createdAt.UnixMilli(),
		UpdatedAt: createdAt.UnixMilli(),
		ExpiresAt: createdAt.Add(lifetime).UnixMilli(),
	}
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := newSession("sid-1", "user-1", time.Now(), time.Hour)
	revoked, err := store.Create(ctx, sess, 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if revoked != 0 {
		t.Fatalf("revoked = %d, want 0", revoked)
	}

	got, err := store.GetByID(ctx, "sid-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.UserID != "user-1" || got.TokenHash != "hash-sid-1" || got.CSRFHash != "csrf-sid-1" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Revoked {
		t.Fatal("fresh session must not be revoked")
	}
}

func TestGetByIDNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateEnforcesCapOldestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		sess := newSession(fmt.Sprintf("sid-%d", i), "user-1", base.Add(time.Duration(i)*time.Minute), 24*time.Hour)
		if _, err := store.Create(ctx, sess, 3); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	sess := newSession("sid-3", "user-1", time.Now(), 24*time.Hour)
	revoked, err := store.Create(ctx, sess, 3)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if revoked != 1 {
		t.Fatalf("revoked = %d, want 1", revoked)
	}

	oldest, err := store.GetByID(ctx, "sid-0")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !oldest.Revoked {
		t.Fatal("oldest session should have been revoked by cap enforcement")
	}
	if oldest.RevokeReason != revokeReasonLimit {
		t.Fatalf("revoke reason = %q, want %q", oldest.RevokeReason, revokeReasonLimit)
	}
	if oldest.RevokedIP != "203.0.113.7" {
		t.Fatalf("revoked ip = %q, want the creating request's IP", oldest.RevokedIP)
	}
	if oldest.RevokedAt == 0 {
		t.Fatal("revoked_at must be recorded")
	}

	for _, id := range []string{"sid-1", "sid-2", "sid-3"} {
		got, err := store.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID(%s): %v", id, err)
		}
		if got.Revoked {
			t.Fatalf("session %s should still be active", id)
		}
	}
}

func TestCreateWithoutCap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		sess := newSession(fmt.Sprintf("sid-%d", i), "user-1", time.Now(), time.Hour)
		revoked, err := store.Create(ctx, sess, 0)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if revoked != 0 {
			t.Fatalf("revoked = %d with cap disabled", revoked)
		}
	}

	count, err := store.ActiveSessionCount(ctx, "user-1", time.Now())
	if err != nil {
		t.Fatalf("ActiveSessionCount: %v", err)
	}
	if count != 10 {
		t.Fatalf("active = %d, want 10", count)
	}
}

func TestRotateCAS(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	sess := newSession("sid-1", "user-1", now, time.Hour)
	if _, err := store.Create(ctx, sess, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	newExpiry := now.Add(2 * time.Hour).UnixMilli()
	rotations, err := store.Rotate(ctx, "sid-1", "user-1", "hash-sid-1", "hash-next", "csrf-next", now, newExpiry)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotations != 1 {
		t.Fatalf("rotations = %d, want 1", rotations)
	}

	got, err := store.GetByID(ctx, "sid-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.TokenHash != "hash-next" || got.CSRFHash != "csrf-next" {
		t.Fatalf("hashes not swapped: %+v", got)
	}
	if got.ExpiresAt != newExpiry {
		t.Fatalf("expiry = %d, want %d", got.ExpiresAt, newExpiry)
	}

	// Replaying the old hash loses the CAS.
	if _, err := store.Rotate(ctx, "sid-1", "user-1", "hash-sid-1", "hash-other", "csrf-other", now, newExpiry); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("expected ErrTokenMismatch, got %v", err)
	}
}

func TestRotateExtendsUserIndex(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewStore(client, "avs")
	ctx := context.Background()

	// A short-lived session whose expiry slides far forward on rotation.
	now := time.Now()
	sess := newSession("sid-1", "user-1", now, time.Second)
	if _, err := store.Create(ctx, sess, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	newExpiry := now.Add(time.Hour).UnixMilli()
	if _, err := store.Rotate(ctx, "sid-1", "user-1", "hash-sid-1", "hash-next", "csrf-next", now, newExpiry); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	// Past the original lifetime the index must still know the session, or
	// revoke-all would silently miss it.
	mr.FastForward(2 * time.Second)

	sessions, err := store.ListForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("index lost the rotated session: len = %d", len(sessions))
	}

	revoked, err := store.RevokeAllForUser(ctx, "user-1", "", "password_reset", "", time.Now())
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if revoked != 1 {
		t.Fatalf("revoked = %d, want 1", revoked)
	}

	got, err := store.GetByID(ctx, "sid-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.Revoked {
		t.Fatal("rotated session must be revocable after its original lifetime")
	}
}

func TestRotateRejectsRevokedAndMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := store.Rotate(ctx, "missing", "user-1", "x", "y", "z", now, now.Add(time.Hour).UnixMilli()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	sess := newSession("sid-1", "user-1", now, time.Hour)
	if _, err := store.Create(ctx, sess, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Revoke(ctx, "sid-1", "logout", "", now); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if _, err := store.Rotate(ctx, "sid-1", "user-1", "hash-sid-1", "y", "z", now, now.Add(time.Hour).UnixMilli()); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := newSession("sid-1", "user-1", now, time.Hour)
	if _, err := store.Create(ctx, sess, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	transitioned, err := store.Revoke(ctx, "sid-1", "logout", "198.51.100.9", now)
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if !transitioned {
		t.Fatal("first revoke should transition")
	}

	transitioned, err = store.Revoke(ctx, "sid-1", "admin", "10.0.0.1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if transitioned {
		t.Fatal("second revoke must be a no-op")
	}

	got, err := store.GetByID(ctx, "sid-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.RevokeReason != "logout" || got.RevokedIP != "198.51.100.9" {
		t.Fatalf("first revocation metadata must win: %+v", got)
	}
}

func TestRevokeAllForUserExcept(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 4; i++ {
		sess := newSession(fmt.Sprintf("sid-%d", i), "user-1", now.Add(time.Duration(i)*time.Second), time.Hour)
		if _, err := store.Create(ctx, sess, 0); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	revoked, err := store.RevokeAllForUser(ctx, "user-1", "sid-2", "password_change", "", now)
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if revoked != 3 {
		t.Fatalf("revoked = %d, want 3", revoked)
	}

	kept, err := store.GetByID(ctx, "sid-2")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if kept.Revoked {
		t.Fatal("excepted session must stay active")
	}

	count, err := store.ActiveSessionCount(ctx, "user-1", now)
	if err != nil {
		t.Fatalf("ActiveSessionCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("active = %d, want 1", count)
	}
}

func TestListForUserIncludesRevoked(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	first := newSession("sid-0", "user-1", now, time.Hour)
	second := newSession("sid-1", "user-1", now.Add(time.Second), time.Hour)
	if _, err := store.Create(ctx, first, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(ctx, second, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Revoke(ctx, "sid-0", "logout", "", now); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	sessions, err := store.ListForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len = %d, want 2", len(sessions))
	}
	if sessions[0].ID != "sid-0" || !sessions[0].Revoked {
		t.Fatalf("expected revoked sid-0 first, got %+v", sessions[0])
	}
	if sessions[1].ID != "sid-1" || sessions[1].Revoked {
		t.Fatalf("expected active sid-1 second, got %+v", sessions[1])
	}
}

func TestTouchUpdatesActivity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := newSession("sid-1", "user-1", now, time.Hour)
	if _, err := store.Create(ctx, sess, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	later := now.Add(10 * time.Minute)
	if err := store.Touch(ctx, "sid-1", later); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	got, err := store.GetByID(ctx, "sid-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.UpdatedAt != later.UnixMilli() {
		t.Fatalf("updated_at = %d, want %d", got.UpdatedAt, later.UnixMilli())
	}

	// Touching a missing session is a no-op.
	if err := store.Touch(ctx, "missing", later); err != nil {
		t.Fatalf("Touch missing: %v", err)
	}
}

func TestSignalsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := newSession("sid-1", "user-1", now, time.Hour)
	sess.Fingerprint = "combined-digest"
	sess.Signals = []string{"d1", "d2", "d3"}
	if _, err := store.Create(ctx, sess, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.GetByID(ctx, "sid-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Fingerprint != "combined-digest" {
		t.Fatalf("fingerprint = %q", got.Fingerprint)
	}
	if len(got.Signals) != 3 || got.Signals[1] != "d2" {
		t.Fatalf("signals = %v", got.Signals)
	}
}
