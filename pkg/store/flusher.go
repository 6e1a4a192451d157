package store

import (
	"context"
	"time"

	"github.com/markybot/marky/pkg/logger"
	"github.com/markybot/marky/pkg/markov"
)

// Flusher checkpoints dirty conversations on an interval. A failed flush
// leaves the conversation dirty so the next pass retries it.
type Flusher struct {
	gateway  *Gateway
	store    *markov.Store
	interval time.Duration
}

func NewFlusher(gateway *Gateway, store *markov.Store, interval time.Duration) *Flusher {
	return &Flusher{gateway: gateway, store: store, interval: interval}
}

// Run flushes on each tick until ctx is done, then performs one final flush
// so nothing dirty is lost at shutdown.
func (f *Flusher) Run(ctx context.Context) {
	logger.InfoCF("store", "Flush loop started", map[string]any{
		"interval": f.interval.String(),
	})

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// The parent context is gone; give the final flush its own
			// deadline so shutdown cannot hang on a wedged database.
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			f.FlushNow(flushCtx)
			cancel()
			logger.InfoC("store", "Flush loop stopped")
			return
		case <-ticker.C:
			f.FlushNow(ctx)
		}
	}
}

// FlushNow writes every dirty conversation and returns how many flushed
// successfully.
func (f *Flusher) FlushNow(ctx context.Context) int {
	ids := f.store.DirtyIDs()
	flushed := 0
	for _, id := range ids {
		snap, ok := f.store.SnapshotOf(id)
		if !ok {
			continue
		}
		if err := f.gateway.FlushConversation(ctx, snap); err != nil {
			logger.ErrorCF("store", "Flush failed, will retry next pass", map[string]any{
				"conversation": id,
				"error":        err.Error(),
			})
			continue
		}
		f.store.MarkClean(id, snap.Gen)
		flushed++
	}
	if flushed > 0 {
		logger.DebugCF("store", "Checkpoint complete", map[string]any{
			"flushed": flushed,
		})
	}
	return flushed
}
