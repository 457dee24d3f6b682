package memory

import (
	"context"
	"testing"
)

func TestQueue_EnqueueIsIdempotent(t *testing.T) {
	store, db := newTestStore(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	hash := Fingerprint("queued body")

	for i := 0; i < 3; i++ {
		if err := store.EnqueueSync(ctx, "atlas", hash, `{"digest":"queued body"}`); err != nil {
			t.Fatalf("EnqueueSync attempt %d: %v", i, err)
		}
	}

	count, err := store.CountPendingSync(ctx)
	if err != nil {
		t.Fatalf("CountPendingSync: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 queued entry, got %d", count)
	}
}

func TestQueue_PendingOrderAndDelete(t *testing.T) {
	store, db := newTestStore(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	for _, body := range []string{"first", "second", "third"} {
		if err := store.EnqueueSync(ctx, "atlas", Fingerprint(body), body); err != nil {
			t.Fatalf("EnqueueSync %q: %v", body, err)
		}
	}

	entries, err := store.PendingSync(ctx)
	if err != nil {
		t.Fatalf("PendingSync: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Payload != "first" || entries[2].Payload != "third" {
		t.Fatalf("entries out of queue order: %q, %q, %q",
			entries[0].Payload, entries[1].Payload, entries[2].Payload)
	}

	removed, err := store.DeleteSyncEntry(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("DeleteSyncEntry: %v", err)
	}
	if !removed {
		t.Fatalf("expected entry removed")
	}

	// Deleting again reports the entry gone.
	removed, err = store.DeleteSyncEntry(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("second DeleteSyncEntry: %v", err)
	}
	if removed {
		t.Fatalf("expected second delete to be a no-op")
	}
}

func TestQueue_TouchIncrementsAttempts(t *testing.T) {
	store, db := newTestStore(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := store.EnqueueSync(ctx, "atlas", Fingerprint("retry me"), "retry me"); err != nil {
		t.Fatalf("EnqueueSync: %v", err)
	}

	entries, err := store.PendingSync(ctx)
	if err != nil {
		t.Fatalf("PendingSync: %v", err)
	}
	if entries[0].Attempts != 0 {
		t.Fatalf("expected 0 attempts, got %d", entries[0].Attempts)
	}

	if err := store.TouchSyncEntry(ctx, entries[0].ID); err != nil {
		t.Fatalf("TouchSyncEntry: %v", err)
	}
	if err := store.TouchSyncEntry(ctx, entries[0].ID); err != nil {
		t.Fatalf("second TouchSyncEntry: %v", err)
	}

	entries, err = store.PendingSync(ctx)
	if err != nil {
		t.Fatalf("PendingSync after touch: %v", err)
	}
	if entries[0].Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", entries[0].Attempts)
	}
}

func TestQueue_DeleteByHashAndSyncedByHash(t *testing.T) {
	store, db := newTestStore(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	res, err := store.Put(ctx, PutParams{
		AgentID:    "atlas",
		Type:       TypeSemantic,
		Body:       "queued and later confirmed elsewhere",
		Importance: 3,
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	hash := res.Engram.ContentHash

	if err := store.EnqueueSync(ctx, "atlas", hash, "payload"); err != nil {
		t.Fatalf("EnqueueSync: %v", err)
	}

	synced, err := store.SyncedByHash(ctx, "atlas", hash)
	if err != nil {
		t.Fatalf("SyncedByHash: %v", err)
	}
	if synced {
		t.Fatalf("expected unsynced before mark")
	}

	if err := store.MarkSyncedByHash(ctx, "atlas", hash, 9); err != nil {
		t.Fatalf("MarkSyncedByHash: %v", err)
	}
	synced, err = store.SyncedByHash(ctx, "atlas", hash)
	if err != nil {
		t.Fatalf("SyncedByHash after mark: %v", err)
	}
	if !synced {
		t.Fatalf("expected synced after mark")
	}

	removed, err := store.DeleteSyncEntryByHash(ctx, "atlas", hash)
	if err != nil {
		t.Fatalf("DeleteSyncEntryByHash: %v", err)
	}
	if !removed {
		t.Fatalf("expected entry removed")
	}
	removed, err = store.DeleteSyncEntryByHash(ctx, "atlas", hash)
	if err != nil {
		t.Fatalf("second DeleteSyncEntryByHash: %v", err)
	}
	if removed {
		t.Fatalf("expected second delete to be a no-op")
	}

	// Unknown fingerprints are simply not synced.
	synced, err = store.SyncedByHash(ctx, "atlas", "ffffffffffffffffffffffffffffffff")
	if err != nil {
		t.Fatalf("SyncedByHash unknown: %v", err)
	}
	if synced {
		t.Fatalf("unknown hash must report unsynced")
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("the same body")
	b := Fingerprint("the same body")
	c := Fingerprint("a different body")

	if a != b {
		t.Fatalf("fingerprint not deterministic: %q vs %q", a, b)
	}
	if a == c {
		t.Fatalf("distinct bodies collided: %q", a)
	}
	if len(a) != 32 {
		t.Fatalf("expected 32-char fingerprint, got %d", len(a))
	}
}
