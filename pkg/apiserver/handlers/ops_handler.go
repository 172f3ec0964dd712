package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/enrolsync/enrolsync/pkg/model"
)

type RunLister interface {
	ListRecent(ctx context.Context, jobName string, limit int) ([]model.RunLog, error)
}

type AlertLister interface {
	ListUnresolved(ctx context.Context, kind model.AlertKind, limit int) ([]model.Alert, error)
}

// OpsHandler serves the read-only operator views. Alert resolution itself
// belongs to the review dashboard, not this API.
type OpsHandler struct {
	runs   RunLister
	alerts AlertLister
	logger *zap.Logger
}

func NewOpsHandler(runs RunLister, alerts AlertLister, logger *zap.Logger) *OpsHandler {
	return &OpsHandler{runs: runs, alerts: alerts, logger: logger}
}

func (h *OpsHandler) ListRuns(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 20)
	runs, err := h.runs.ListRecent(c.Request.Context(), c.Query("job"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *OpsHandler) ListAlerts(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50)
	alerts, err := h.alerts.ListUnresolved(c.Request.Context(), model.AlertKind(c.Query("kind")), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}
