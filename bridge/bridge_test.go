package bridge

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/constellationrelay/bridge/config"
	"github.com/constellationrelay/bridge/hub"
	"github.com/constellationrelay/bridge/hydrate"
	"github.com/constellationrelay/bridge/memory"
	"github.com/constellationrelay/bridge/migrations"

	_ "github.com/mattn/go-sqlite3"
)

func newTestBridge(t *testing.T, hubClient *hub.Client) (*Bridge, *memory.Store, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := migrations.Run(db, zerolog.Nop()); err != nil {
		_ = db.Close() //nolint:errcheck // Cleanup on error
		t.Fatalf("failed to run migrations: %v", err)
	}
	store, err := memory.NewStore(db, zerolog.Nop())
	if err != nil {
		_ = db.Close() //nolint:errcheck // Cleanup on error
		t.Fatalf("NewStore: %v", err)
	}

	cfg := config.Defaults()
	cfg.AgentID = "atlas"
	cfg.Constellation = map[string]string{"vega": "vega-hub-id"}

	return New(&cfg, store, hubClient, zerolog.Nop()), store, db
}

func newUploadServer(t *testing.T, uploads *int64) *httptest.Server {
	t.Helper()
	var nextID int64
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/engrams/upload" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		atomic.AddInt64(uploads, 1)
		_ = json.NewEncoder(w).Encode(map[string]int64{"id": atomic.AddInt64(&nextID, 1)})
	}))
}

func TestRemember_StoresAndPushes(t *testing.T) {
	var uploads int64
	srv := newUploadServer(t, &uploads)
	defer srv.Close()

	client, err := hub.NewClient(srv.URL, "", 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	b, _, db := newTestBridge(t, client)
	defer db.Close() //nolint:errcheck // Test cleanup

	res, err := b.Remember(context.Background(), RememberParams{
		Type:       memory.TypeSemantic,
		Body:       "The staging cluster lives behind the jump host.",
		Importance: 4,
	})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if res.Outcome != memory.OutcomeStored {
		t.Fatalf("expected stored, got %q", res.Outcome)
	}
	if !res.Synced || res.HubID != 1 {
		t.Fatalf("expected immediate sync with hub id 1, got %+v", res)
	}

	dup, err := b.Remember(context.Background(), RememberParams{
		Type:       memory.TypeSemantic,
		Body:       "The staging cluster lives behind the jump host.",
		Importance: 4,
	})
	if err != nil {
		t.Fatalf("duplicate Remember: %v", err)
	}
	if dup.Outcome != memory.OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %q", dup.Outcome)
	}
	if atomic.LoadInt64(&uploads) != 1 {
		t.Fatalf("duplicate must not upload again: %d uploads", uploads)
	}
}

func TestRemember_OfflineQueues(t *testing.T) {
	b, store, db := newTestBridge(t, nil)
	defer db.Close() //nolint:errcheck // Test cleanup

	res, err := b.Remember(context.Background(), RememberParams{
		Type:       memory.TypeEpisodic,
		Body:       "Wrote the first draft of the reconciler.",
		Importance: 3,
	})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if res.Outcome != memory.OutcomeStored || res.Synced {
		t.Fatalf("expected stored-but-unsynced, got %+v", res)
	}

	pending, err := store.CountPendingSync(context.Background())
	if err != nil {
		t.Fatalf("CountPendingSync: %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected 1 queued entry, got %d", pending)
	}
}

func TestRememberFor_PrefixesAndTargets(t *testing.T) {
	b, store, db := newTestBridge(t, nil)
	defer db.Close() //nolint:errcheck // Test cleanup

	res, err := b.RememberFor(context.Background(), "vega", RememberParams{
		Type:       memory.TypeSemantic,
		Body:       "Vega asked me to hold onto this fact.",
		Importance: 3,
	})
	if err != nil {
		t.Fatalf("RememberFor: %v", err)
	}
	if res.Outcome != memory.OutcomeStored {
		t.Fatalf("expected stored, got %q", res.Outcome)
	}

	engrams, err := store.Query(context.Background(), memory.QueryParams{AgentID: "vega-hub-id"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(engrams) != 1 {
		t.Fatalf("expected 1 engram for target agent, got %d", len(engrams))
	}
	if !strings.HasPrefix(engrams[0].Body, "[Stored by atlas for vega]") {
		t.Fatalf("expected attribution prefix, got %q", engrams[0].Body)
	}
	if engrams[0].Project != "proxy-vega" {
		t.Fatalf("expected proxy project, got %q", engrams[0].Project)
	}

	if _, err := b.RememberFor(context.Background(), "unknown", RememberParams{
		Type: memory.TypeSemantic, Body: "x", Importance: 1,
	}); err == nil {
		t.Fatalf("expected error for unknown constellation agent")
	}
}

func TestRecall_LocalFallback(t *testing.T) {
	b, _, db := newTestBridge(t, nil)
	defer db.Close() //nolint:errcheck // Test cleanup

	if _, err := b.Remember(context.Background(), RememberParams{
		Type:       memory.TypeSemantic,
		Body:       "Recall finds this locally stored fact.",
		Importance: 4,
	}); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	engrams, err := b.Recall(context.Background(), hydrate.RecallQuery{Query: "locally stored"})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(engrams) != 1 {
		t.Fatalf("expected 1 engram, got %d", len(engrams))
	}
}

func TestRecall_PrefersHubThenDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"count": 1,
			"engrams": []hub.Engram{
				{ID: 5, AgentID: "atlas", Type: "semantic", Digest: "hub copy of the fact", Importance: 4},
			},
		})
	}))

	client, err := hub.NewClient(srv.URL, "", 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	b, _, db := newTestBridge(t, client)
	defer db.Close() //nolint:errcheck // Test cleanup
	b.cfg.Hub.PreferForRecall = true

	engrams, err := b.Recall(context.Background(), hydrate.RecallQuery{Query: "fact"})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(engrams) != 1 || engrams[0].Body != "hub copy of the fact" {
		t.Fatalf("expected hub result, got %+v", engrams)
	}
	if !engrams[0].Synced || engrams[0].HubID == nil {
		t.Fatalf("hub results must carry hub identity: %+v", engrams[0])
	}

	// Hub down: recall silently degrades to the (empty) local store.
	srv.Close()
	engrams, err = b.Recall(context.Background(), hydrate.RecallQuery{Query: "fact"})
	if err != nil {
		t.Fatalf("degraded Recall: %v", err)
	}
	if len(engrams) != 0 {
		t.Fatalf("expected empty local fallback, got %d", len(engrams))
	}
}

func TestSessionEnd_ArchivesAndCaptures(t *testing.T) {
	b, store, db := newTestBridge(t, nil)
	defer db.Close() //nolint:errcheck // Test cleanup

	transcript := "We hit a critical milestone today, remember this one.\n\n" +
		"Plenty of small talk in between that should not become a memory at all.\n\n" +
		"Also decided the parser project ships next week."

	res, err := b.SessionEnd(context.Background(), SessionEndParams{
		Transcript: transcript,
		Title:      "Milestone chat",
	})
	if err != nil {
		t.Fatalf("SessionEnd: %v", err)
	}
	if !strings.HasPrefix(res.SessionID, "session_") {
		t.Fatalf("expected generated session id, got %q", res.SessionID)
	}
	if res.MessageCount == 0 {
		t.Fatalf("expected archived messages")
	}
	if res.EngramsCreated == 0 {
		t.Fatalf("expected captured engrams")
	}

	conv, err := store.GetConversation(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv == nil || conv.Title != "Milestone chat" {
		t.Fatalf("transcript not archived: %+v", conv)
	}

	// A distinct session summary engram is stored alongside the captures.
	summaries, err := store.Query(context.Background(), memory.QueryParams{
		AgentID: "atlas",
		Text:    "Session ended: Milestone chat",
	})
	if err != nil {
		t.Fatalf("Query session summary: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 session summary engram, got %d", len(summaries))
	}
	if summaries[0].Project != res.SessionID {
		t.Fatalf("summary project mismatch: %q vs %q", summaries[0].Project, res.SessionID)
	}
	if !strings.Contains(summaries[0].Body, "important moments captured") {
		t.Fatalf("unexpected summary body: %q", summaries[0].Body)
	}
}

func TestHydrateForWakeup(t *testing.T) {
	b, _, db := newTestBridge(t, nil)
	defer db.Close() //nolint:errcheck // Test cleanup

	if _, err := b.Remember(context.Background(), RememberParams{
		Type:       memory.TypeSemantic,
		Body:       "Wakeup context should include this identity-critical fact.",
		Importance: 5,
	}); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	res, err := b.HydrateForWakeup(context.Background())
	if err != nil {
		t.Fatalf("HydrateForWakeup: %v", err)
	}
	if !strings.Contains(res.Context, "identity-critical fact") {
		t.Fatalf("expected fact in wakeup context:\n%s", res.Context)
	}
	if len(res.Context) > 3000 {
		t.Fatalf("wakeup context exceeds budget: %d chars", len(res.Context))
	}
}

func TestStats_LocalOnly(t *testing.T) {
	b, _, db := newTestBridge(t, nil)
	defer db.Close() //nolint:errcheck // Test cleanup

	if _, err := b.Remember(context.Background(), RememberParams{
		Type:       memory.TypeSemantic,
		Body:       "One fact for the stats counter.",
		Importance: 2,
	}); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	stats, err := b.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats["local_engrams"].(int) != 1 {
		t.Fatalf("expected 1 local engram, got %v", stats["local_engrams"])
	}
	if stats["pending_sync"].(int) != 1 {
		t.Fatalf("expected 1 pending, got %v", stats["pending_sync"])
	}
	if stats["hub_connected"].(bool) {
		t.Fatalf("expected hub_connected false")
	}
}
