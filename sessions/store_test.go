package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewStore(client, "")
}

func testSession(sessionID, userID string) *Session {
	now := time.Now()
	return &Session{
		SessionID: sessionID,
		UserID:    userID,
		Role:      "USER",
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(time.Hour).Unix(),
	}
}

func TestSaveGetRoundTrip(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	want := testSession("sess-1", "user-1")
	if err := store.Save(ctx, want, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != want.UserID || got.Role != want.Role || got.SessionID != want.SessionID {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, want)
	}
}

func TestGetUnknownSession(t *testing.T) {
	_, store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
}

func TestGetDeletesExpiredSession(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	sess := testSession("sess-1", "user-1")
	sess.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := store.Get(ctx, "sess-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}

	ids, err := store.ActiveSessionIDs(ctx, "user-1")
	if err != nil {
		t.Fatalf("ActiveSessionIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expired session still indexed: %v", ids)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testSession("sess-1", "user-1"), time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("first Delete: %v", err)
	}
	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestInvalidateAllForUser(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"sess-1", "sess-2", "sess-3"} {
		if err := store.Save(ctx, testSession(id, "user-1"), time.Hour); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	if err := store.Save(ctx, testSession("sess-other", "user-2"), time.Hour); err != nil {
		t.Fatalf("Save other: %v", err)
	}

	if err := store.InvalidateAllForUser(ctx, "user-1"); err != nil {
		t.Fatalf("InvalidateAllForUser: %v", err)
	}

	for _, id := range []string{"sess-1", "sess-2", "sess-3"} {
		if _, err := store.Get(ctx, id); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("session %s survived invalidation: %v", id, err)
		}
	}

	if _, err := store.Get(ctx, "sess-other"); err != nil {
		t.Fatalf("unrelated user's session was removed: %v", err)
	}
}

func TestInvalidateAllForUserWithNoSessions(t *testing.T) {
	_, store := newTestStore(t)

	if err := store.InvalidateAllForUser(context.Background(), "nobody"); err != nil {
		t.Fatalf("InvalidateAllForUser: %v", err)
	}
}
