package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stakecast/stakecast/internal/lockup"
	"github.com/stakecast/stakecast/internal/notify"
)

// handleLockupWebhook handles POST /webhooks/lockup: a push
// notification of a single new lockup. The update is optimistic and
// best-effort; the periodic re-sync remains the system of record, so
// a skipped event is acknowledged, not retried.
func (r *Router) handleLockupWebhook(c *gin.Context) {
	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	// Some senders nest the event under a data envelope
	raw := body
	if data, ok := body["data"].(map[string]interface{}); ok {
		raw = data
	}

	// Webhook amounts arrive already normalized to token units
	record, err := lockup.ParseRecord(raw, lockup.UnitToken)
	if err != nil {
		r.logger.Debug("Ignoring malformed webhook payload", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	cast, err := r.syncer.ApplyOptimisticLockup(c.Request.Context(), record)
	if err != nil {
		// Best-effort path: log and acknowledge; the batch pass
		// reconciles this lockup eventually
		r.logger.Warn("Optimistic lockup update failed",
			zap.Int64("lockup_id", record.LockupID), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "deferred"})
		return
	}
	if cast == nil {
		c.JSON(http.StatusOK, gin.H{"status": "skipped"})
		return
	}

	r.broadcaster.Broadcast(notify.Event{
		Type:        "cast_updated",
		Hash:        cast.Hash,
		Status:      cast.Status,
		TotalStaked: cast.TotalStaked,
	})

	c.JSON(http.StatusOK, gin.H{"status": "applied", "hash": cast.Hash})
}

// streamEvents handles GET /api/events: a server-sent event stream of
// cast updates for UI subscribers
func (r *Router) streamEvents(c *gin.Context) {
	id, events := r.broadcaster.Subscribe()
	defer r.broadcaster.Unsubscribe(id)

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("cast_updated", event)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
