package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/enrolsync/enrolsync/pkg/joblock"
	"github.com/enrolsync/enrolsync/pkg/model"
	"github.com/enrolsync/enrolsync/pkg/outbox"
)

type BatchDispatcher interface {
	Dispatch(ctx context.Context, kind model.OutboxKind, batchSize int) (outbox.Stats, error)
	DispatchAll(ctx context.Context, batchSize int) (map[model.OutboxKind]outbox.Stats, error)
}

type OutboxCounter interface {
	CountByState(ctx context.Context, kind model.OutboxKind) (map[model.OutboxState]int64, error)
}

type OutboxHandler struct {
	dispatcher BatchDispatcher
	counter    OutboxCounter
	logger     *zap.Logger
}

func NewOutboxHandler(dispatcher BatchDispatcher, counter OutboxCounter, logger *zap.Logger) *OutboxHandler {
	return &OutboxHandler{dispatcher: dispatcher, counter: counter, logger: logger}
}

type dispatchRequest struct {
	BatchSize int `json:"batch_size"`
}

func (h *OutboxHandler) DispatchProjection(c *gin.Context) {
	h.dispatchOne(c, model.OutboxProjection)
}

func (h *OutboxHandler) DispatchMessaging(c *gin.Context) {
	h.dispatchOne(c, model.OutboxMessaging)
}

func (h *OutboxHandler) dispatchOne(c *gin.Context, kind model.OutboxKind) {
	req := dispatchRequest{}
	_ = c.ShouldBindJSON(&req)

	stats, err := h.dispatcher.Dispatch(c.Request.Context(), kind, req.BatchSize)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, joblock.ErrLockConflict) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "kind": kind, "stats": stats})
}

func (h *OutboxHandler) DispatchAll(c *gin.Context) {
	req := dispatchRequest{}
	_ = c.ShouldBindJSON(&req)

	results, err := h.dispatcher.DispatchAll(c.Request.Context(), req.BatchSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error(), "results": results})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "results": results})
}

func (h *OutboxHandler) Stats(c *gin.Context) {
	response := gin.H{}
	for _, kind := range []model.OutboxKind{model.OutboxProjection, model.OutboxMessaging} {
		counts, err := h.counter.CountByState(c.Request.Context(), kind)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		response[string(kind)] = counts
	}
	c.JSON(http.StatusOK, response)
}
