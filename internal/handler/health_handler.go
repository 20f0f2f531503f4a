package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/certquery/internal/model"
	"github.com/xxxsen/certquery/internal/pkg/response"
)

type indexStatus interface {
	Available() bool
	Count(ctx context.Context) (int64, error)
}

type queueStatus interface {
	Stats(ctx context.Context) (*model.QueueStats, error)
}

// HealthHandler reports capability flags and queue depth. It never fails:
// a broken dependency shows up as a degraded flag, not an error response.
type HealthHandler struct {
	index     indexStatus
	queue     queueStatus
	chatReady bool
}

func NewHealthHandler(index indexStatus, queue queueStatus, chatReady bool) *HealthHandler {
	return &HealthHandler{index: index, queue: queue, chatReady: chatReady}
}

func (h *HealthHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	payload := gin.H{
		"status":    "ok",
		"chat":      h.chatReady,
		"embedding": false,
	}
	if h.index != nil {
		payload["embedding"] = h.index.Available()
		if count, err := h.index.Count(ctx); err == nil {
			payload["indexed_chunks"] = count
		} else {
			logutil.GetLogger(ctx).Warn("index count unavailable", zap.Error(err))
		}
	}
	if h.queue != nil {
		if stats, err := h.queue.Stats(ctx); err == nil {
			payload["queue"] = stats
		} else {
			logutil.GetLogger(ctx).Warn("queue stats unavailable", zap.Error(err))
		}
	}
	response.Success(c, payload)
}
