package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/chatwoot/supportsync/internal/metrics"
)

// poll fetches deltas for one activation until ctx is cancelled, the
// generation goes stale, or the server reports the conversation gone. The
// first tick runs immediately.
func (e *Engine) poll(ctx context.Context, gen uint64, id string) {
	logger := e.logger.With("component", "poll", "conversation_id", id)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		if stop := e.pollOnce(ctx, logger, gen, id); stop {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollOnce runs one tick and reports whether the loop must stop.
func (e *Engine) pollOnce(ctx context.Context, logger *slog.Logger, gen uint64, id string) bool {
	conv, ok := e.marker(gen)
	if !ok {
		return true
	}
	started := e.now().UTC()

	list, err := e.backend.GetNewMessages(ctx, id, conv.LastSyncMarker)
	if ctx.Err() != nil {
		return true
	}
	if err != nil {
		if isNotFound(err) {
			logger.Warn("conversation gone, resetting")
			e.handleNotFound(gen)
			return true
		}
		e.metrics.PollErrors.Inc()
		logger.Warn("poll failed", "error", err)
		e.notify(&TransientError{Op: "poll", Err: err})
		return false
	}

	if list.Skipped > 0 {
		logger.Warn("skipped unrecognized messages", "count", list.Skipped)
	}
	if len(list.Messages) > 0 {
		if _, ok := e.mergeIfCurrent(gen, metrics.SourcePoll, list.Messages...); !ok {
			return true
		}
	}
	logger.Debug("poll tick", "since", conv.LastSyncMarker, "received", len(list.Messages))
	e.advanceMarker(gen, started)
	return false
}

// advanceMarker moves the sync marker forward, never back.
func (e *Engine) advanceMarker(gen uint64, to time.Time) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.gen == gen && to.After(e.conv.LastSyncMarker) {
		e.conv.LastSyncMarker = to
	}
}
