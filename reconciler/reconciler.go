// Package reconciler makes best-effort, retryable delivery of engrams to the
// remote hub. Hub outages are steady-state, not errors: a failed push lands
// in the sync queue and a later drain moves it to the hub.
package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/constellationrelay/bridge/hub"
	"github.com/constellationrelay/bridge/memory"
)

const (
	// DefaultDrainRetryWindow bounds the backoff retries spent on a single
	// queue entry during a drain pass.
	DefaultDrainRetryWindow = 15 * time.Second

	drainInitialInterval = 500 * time.Millisecond
)

// PushOutcome distinguishes a confirmed hub delivery from a deferred one.
type PushOutcome string

const (
	OutcomeConfirmed PushOutcome = "confirmed"
	OutcomeQueued    PushOutcome = "queued"
)

// PushResult reports what Push did. HubID is set only when confirmed.
type PushResult struct {
	Outcome PushOutcome
	HubID   int64
}

// DrainResult counts the outcomes of one drain pass.
type DrainResult struct {
	Synced int
	Failed int
}

// Reconciler pushes engrams to the hub and drains the deferred queue.
type Reconciler struct {
	store       *memory.Store
	hub         *hub.Client
	logger      zerolog.Logger
	retryWindow time.Duration

	// drainMu makes drains single-flight so two passes can never race on
	// the same queue entry.
	drainMu sync.Mutex
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithRetryWindow overrides the per-entry backoff window used during drains.
func WithRetryWindow(d time.Duration) Option {
	return func(r *Reconciler) {
		r.retryWindow = d
	}
}

// New creates a Reconciler. hubClient may be nil for a fully offline
// deployment; every push then queues.
func New(store *memory.Store, hubClient *hub.Client, logger zerolog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:       store,
		hub:         hubClient,
		logger:      logger.With().Str("component", "reconciler").Logger(),
		retryWindow: DefaultDrainRetryWindow,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// wireEngram converts a local engram to its hub wire form.
func wireEngram(e memory.Engram) hub.Engram {
	return hub.Engram{
		AgentID:          e.AgentID,
		Type:             string(e.Type),
		Digest:           e.Body,
		Importance:       e.Importance,
		EmotionalValence: e.EmotionalValence,
		Project:          e.Project,
	}
}

// Push attempts one bounded-timeout delivery of e to the hub. On success the
// local record is marked synced and the hub id returned. On any hub failure
// the engram is queued and the result is Queued; this is the expected
// offline path, not an error. Only local store failures return an error.
func (r *Reconciler) Push(ctx context.Context, e memory.Engram) (PushResult, error) {
	payload := wireEngram(e)

	if r.hub == nil {
		return r.queue(ctx, e, payload, nil)
	}

	hubID, err := r.hub.Upload(ctx, payload)
	if err != nil {
		return r.queue(ctx, e, payload, err)
	}

	if err := r.store.MarkSynced(ctx, e.ID, hubID); err != nil {
		return PushResult{}, fmt.Errorf("record hub id: %w", err)
	}

	// An earlier failed push may have queued this engram; retire the entry so
	// a later drain does not deliver it a second time.
	if removed, err := r.store.DeleteSyncEntryByHash(ctx, e.AgentID, e.ContentHash); err != nil {
		r.logger.Error().
			Int64("engram_id", e.ID).
			Err(err).
			Msg("Failed to retire stale queue entry after confirmed push")
	} else if removed {
		r.logger.Debug().
			Int64("engram_id", e.ID).
			Msg("Retired stale queue entry after confirmed push")
	}

	r.logger.Info().
		Int64("engram_id", e.ID).
		Int64("hub_id", hubID).
		Msg("Engram pushed to hub")
	return PushResult{Outcome: OutcomeConfirmed, HubID: hubID}, nil
}

func (r *Reconciler) queue(ctx context.Context, e memory.Engram, payload hub.Engram, cause error) (PushResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return PushResult{}, fmt.Errorf("marshal queue payload: %w", err)
	}
	if err := r.store.EnqueueSync(ctx, e.AgentID, e.ContentHash, string(data)); err != nil {
		return PushResult{}, fmt.Errorf("enqueue for sync: %w", err)
	}

	r.logger.Warn().
		Int64("engram_id", e.ID).
		AnErr("cause", cause).
		Msg("Hub unreachable, engram queued for later sync")
	return PushResult{Outcome: OutcomeQueued}, nil
}

// DrainQueue attempts delivery for every pending entry in queue order.
// Delivered entries are removed exactly once; failures stay queued with
// their attempt counter bumped. Safe to call repeatedly and concurrently
// with new enqueues.
func (r *Reconciler) DrainQueue(ctx context.Context) (DrainResult, error) {
	r.drainMu.Lock()
	defer r.drainMu.Unlock()

	var result DrainResult

	if r.hub == nil {
		r.logger.Debug().Msg("DrainQueue: no hub configured, nothing to do")
		return result, nil
	}

	entries, err := r.store.PendingSync(ctx)
	if err != nil {
		return result, fmt.Errorf("load sync queue: %w", err)
	}
	if len(entries) == 0 {
		return result, nil
	}

	r.logger.Info().Int("pending", len(entries)).Msg("Draining sync queue")

	for _, entry := range entries {
		// An engram already marked synced was delivered through another path;
		// drop the stale entry instead of sending the record again.
		synced, err := r.store.SyncedByHash(ctx, entry.AgentID, entry.ContentHash)
		if err != nil {
			return result, fmt.Errorf("check entry sync state: %w", err)
		}
		if synced {
			if _, err := r.store.DeleteSyncEntry(ctx, entry.ID); err != nil {
				return result, fmt.Errorf("remove stale entry: %w", err)
			}
			r.logger.Debug().
				Int64("entry_id", entry.ID).
				Msg("DrainQueue: entry already synced, dropped without delivery")
			continue
		}

		var payload hub.Engram
		if err := json.Unmarshal([]byte(entry.Payload), &payload); err != nil {
			// A payload that cannot be decoded will never deliver; count it
			// failed and leave it for inspection rather than dropping it.
			r.logger.Error().
				Int64("entry_id", entry.ID).
				Err(err).
				Msg("DrainQueue: undecodable payload")
			result.Failed++
			continue
		}

		hubID, err := r.deliver(ctx, payload)
		if err != nil {
			r.logger.Warn().
				Int64("entry_id", entry.ID).
				Int("attempts", entry.Attempts+1).
				Err(err).
				Msg("DrainQueue: delivery failed, entry stays queued")
			if touchErr := r.store.TouchSyncEntry(ctx, entry.ID); touchErr != nil {
				r.logger.Error().Err(touchErr).Int64("entry_id", entry.ID).Msg("DrainQueue: failed to bump attempts")
			}
			result.Failed++
			continue
		}

		if err := r.store.MarkSyncedByHash(ctx, entry.AgentID, entry.ContentHash, hubID); err != nil {
			return result, fmt.Errorf("mark engram synced: %w", err)
		}
		removed, err := r.store.DeleteSyncEntry(ctx, entry.ID)
		if err != nil {
			return result, fmt.Errorf("remove delivered entry: %w", err)
		}
		if removed {
			result.Synced++
		}
	}

	r.logger.Info().
		Int("synced", result.Synced).
		Int("failed", result.Failed).
		Msg("Sync queue drain completed")
	return result, nil
}

// deliver uploads one payload with exponential backoff bounded by the retry
// window. The hub client's own timeout bounds each individual attempt.
func (r *Reconciler) deliver(ctx context.Context, payload hub.Engram) (int64, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = drainInitialInterval
	eb.MaxElapsedTime = r.retryWindow

	return backoff.RetryWithData(func() (int64, error) {
		return r.hub.Upload(ctx, payload)
	}, backoff.WithContext(eb, ctx))
}
