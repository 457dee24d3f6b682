package memory

import (
	"context"
	"database/sql"
	"testing"

	"github.com/rs/zerolog"

	"github.com/constellationrelay/bridge/migrations"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory database and runs migrations
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := migrations.Run(db, zerolog.Nop()); err != nil {
		_ = db.Close() //nolint:errcheck // Cleanup on error
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db := setupTestDB(t)
	store, err := NewStore(db, zerolog.Nop())
	if err != nil {
		_ = db.Close() //nolint:errcheck // Cleanup on error
		t.Fatalf("NewStore: %v", err)
	}
	return store, db
}

func TestStore_PutAndQuery(t *testing.T) {
	store, db := newTestStore(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()

	res, err := store.Put(ctx, PutParams{
		AgentID:          "atlas",
		Type:             TypeSemantic,
		Body:             "The hub runs at port 8787 on the home server.",
		Importance:       4,
		EmotionalValence: 0.0,
		Project:          "infra",
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if res.Outcome != OutcomeStored {
		t.Fatalf("expected stored outcome, got %q", res.Outcome)
	}
	if res.Engram == nil || res.Engram.ID == 0 {
		t.Fatalf("expected engram with id, got %+v", res.Engram)
	}
	if len(res.Engram.ContentHash) != 32 {
		t.Fatalf("expected 32-char content hash, got %q", res.Engram.ContentHash)
	}

	engrams, err := store.Query(ctx, QueryParams{AgentID: "atlas", Text: "port 8787"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(engrams) != 1 {
		t.Fatalf("expected 1 engram, got %d", len(engrams))
	}
	if engrams[0].Project != "infra" {
		t.Fatalf("expected project infra, got %q", engrams[0].Project)
	}
	if engrams[0].Synced {
		t.Fatalf("fresh engram should not be synced")
	}
}

func TestStore_PutDeduplicates(t *testing.T) {
	store, db := newTestStore(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	params := PutParams{
		AgentID:    "atlas",
		Type:       TypeEpisodic,
		Body:       "Shipped the migration runner today.",
		Importance: 3,
	}

	first, err := store.Put(ctx, params)
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if first.Outcome != OutcomeStored {
		t.Fatalf("expected stored, got %q", first.Outcome)
	}

	second, err := store.Put(ctx, params)
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if second.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %q", second.Outcome)
	}
	if second.Engram != nil {
		t.Fatalf("duplicate should carry no engram")
	}

	count, err := store.CountEngrams(ctx)
	if err != nil {
		t.Fatalf("CountEngrams: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 engram after dedup, got %d", count)
	}

	// A different agent storing the same body is a fresh engram.
	params.AgentID = "vega"
	third, err := store.Put(ctx, params)
	if err != nil {
		t.Fatalf("third Put: %v", err)
	}
	if third.Outcome != OutcomeStored {
		t.Fatalf("expected stored for other agent, got %q", third.Outcome)
	}
}

func TestStore_PutValidation(t *testing.T) {
	store, db := newTestStore(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()

	cases := []struct {
		name string
		p    PutParams
	}{
		{"empty body", PutParams{AgentID: "atlas", Type: TypeSemantic, Body: "   ", Importance: 3}},
		{"missing agent", PutParams{Type: TypeSemantic, Body: "something", Importance: 3}},
		{"bad type", PutParams{AgentID: "atlas", Type: "procedural", Body: "something", Importance: 3}},
		{"importance too low", PutParams{AgentID: "atlas", Type: TypeSemantic, Body: "something", Importance: 0}},
		{"importance too high", PutParams{AgentID: "atlas", Type: TypeSemantic, Body: "something", Importance: 6}},
		{"valence out of range", PutParams{AgentID: "atlas", Type: TypeSemantic, Body: "something", Importance: 3, EmotionalValence: 1.5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := store.Put(ctx, tc.p); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}

func TestStore_QueryFilters(t *testing.T) {
	store, db := newTestStore(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	seed := []PutParams{
		{AgentID: "atlas", Type: TypeSemantic, Body: "Deploy keys live in the vault.", Importance: 5},
		{AgentID: "atlas", Type: TypeEpisodic, Body: "Tried the new parser on the logs.", Importance: 2, Project: "parser"},
		{AgentID: "atlas", Type: TypeEpisodic, Body: "Parser handles multiline records now.", Importance: 4, Project: "parser"},
		{AgentID: "vega", Type: TypeSemantic, Body: "Vega-only fact about the vault.", Importance: 5},
	}
	for _, p := range seed {
		if _, err := store.Put(ctx, p); err != nil {
			t.Fatalf("seed Put: %v", err)
		}
	}

	byImportance, err := store.Query(ctx, QueryParams{AgentID: "atlas", MinImportance: 4})
	if err != nil {
		t.Fatalf("Query min importance: %v", err)
	}
	if len(byImportance) != 2 {
		t.Fatalf("expected 2 engrams at importance >= 4, got %d", len(byImportance))
	}

	byProject, err := store.Query(ctx, QueryParams{AgentID: "atlas", Project: "parser"})
	if err != nil {
		t.Fatalf("Query project: %v", err)
	}
	if len(byProject) != 2 {
		t.Fatalf("expected 2 parser engrams, got %d", len(byProject))
	}

	byText, err := store.Query(ctx, QueryParams{AgentID: "atlas", Text: "vault"})
	if err != nil {
		t.Fatalf("Query text: %v", err)
	}
	if len(byText) != 1 {
		t.Fatalf("expected 1 vault engram for atlas, got %d", len(byText))
	}
}

func TestStore_MarkSyncedIsOneWay(t *testing.T) {
	store, db := newTestStore(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	res, err := store.Put(ctx, PutParams{
		AgentID:    "atlas",
		Type:       TypeSemantic,
		Body:       "Sync target fact.",
		Importance: 3,
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := store.MarkSynced(ctx, res.Engram.ID, 42); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	// A second mark with a different hub id must not overwrite the first.
	if err := store.MarkSynced(ctx, res.Engram.ID, 99); err != nil {
		t.Fatalf("second MarkSynced: %v", err)
	}

	engrams, err := store.Query(ctx, QueryParams{AgentID: "atlas"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(engrams) != 1 {
		t.Fatalf("expected 1 engram, got %d", len(engrams))
	}
	e := engrams[0]
	if !e.Synced {
		t.Fatalf("expected engram synced")
	}
	if e.HubID == nil || *e.HubID != 42 {
		t.Fatalf("expected hub id 42 preserved, got %v", e.HubID)
	}
}

func TestStore_MarkSyncedByHash(t *testing.T) {
	store, db := newTestStore(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	res, err := store.Put(ctx, PutParams{
		AgentID:    "atlas",
		Type:       TypeSemantic,
		Body:       "Hash-addressed sync fact.",
		Importance: 3,
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := store.MarkSyncedByHash(ctx, "atlas", res.Engram.ContentHash, 7); err != nil {
		t.Fatalf("MarkSyncedByHash: %v", err)
	}

	engrams, err := store.Query(ctx, QueryParams{AgentID: "atlas"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !engrams[0].Synced || engrams[0].HubID == nil || *engrams[0].HubID != 7 {
		t.Fatalf("expected synced with hub id 7, got %+v", engrams[0])
	}
}
