package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/enrolsync/enrolsync/pkg/failure"
	"github.com/enrolsync/enrolsync/pkg/joblock"
	"github.com/enrolsync/enrolsync/pkg/syncer"
)

type SyncRunner interface {
	Sync(ctx context.Context, req syncer.Request) (*syncer.Summary, error)
}

type SyncHandler struct {
	service SyncRunner
	logger  *zap.Logger
}

func NewSyncHandler(service SyncRunner, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{service: service, logger: logger}
}

// Run triggers one synchronous pipeline execution. A held lock answers 409
// so schedulers back off instead of queueing.
func (h *SyncHandler) Run(c *gin.Context) {
	var req syncer.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.service.Sync(c.Request.Context(), req)
	if err != nil {
		group := failure.Classify(err)
		status := http.StatusInternalServerError
		if errors.Is(err, joblock.ErrLockConflict) {
			status = http.StatusConflict
		}
		h.logger.Warn("sync run failed",
			zap.String("error_group", string(group)),
			zap.Error(err),
		)
		c.JSON(status, gin.H{
			"ok":          false,
			"error":       err.Error(),
			"error_group": string(group),
			"summary":     summary,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "summary": summary})
}
