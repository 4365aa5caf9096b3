package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/cli-auth-broker/pkg/apiresponses"
	"github.com/telekom/cli-auth-broker/pkg/audit"
	"github.com/telekom/cli-auth-broker/pkg/metrics"
	"github.com/telekom/cli-auth-broker/pkg/system"
)

// readinessTimeout bounds the store ping behind /readyz.
const readinessTimeout = 2 * time.Second

// Pinger reports whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AuditStats reports the audit pipeline state shown on /readyz.
type AuditStats interface {
	Stats() audit.ManagerStats
}

// SystemController serves the info page, health probes and metrics.
type SystemController struct {
	log   *zap.SugaredLogger
	store Pinger
	audit AuditStats
	info  *infoPage
}

func NewSystemController(log *zap.SugaredLogger, store Pinger, page PageInfo) (*SystemController, error) {
	info, err := newInfoPage(page)
	if err != nil {
		return nil, err
	}
	return &SystemController{log: log, store: store, info: info}, nil
}

// WithAuditStats adds the audit queue and sink state to the /readyz body.
// Audit delivery never affects the readiness status code.
func (ctrl *SystemController) WithAuditStats(stats AuditStats) *SystemController {
	ctrl.audit = stats
	return ctrl
}

func (ctrl *SystemController) BasePath() string {
	return ""
}

func (ctrl *SystemController) Handlers() []gin.HandlerFunc {
	return nil
}

func (ctrl *SystemController) Register(rg *gin.RouterGroup) error {
	rg.GET("/", ctrl.handleInfo)
	rg.GET("/healthz", ctrl.handleHealthz)
	rg.GET("/readyz", ctrl.handleReadyz)
	rg.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))
	return nil
}

func (ctrl *SystemController) handleInfo(c *gin.Context) {
	body, err := ctrl.info.render()
	if err != nil {
		apiresponses.RespondInternalError(c, "render info page", err, system.GetReqLogger(c, ctrl.log))
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", body)
}

func (ctrl *SystemController) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (ctrl *SystemController) handleReadyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()
	if err := ctrl.store.Ping(ctx); err != nil {
		system.GetReqLogger(c, ctrl.log).Warnw("Readiness check failed", "error", err)
		apiresponses.RespondServiceUnavailable(c, "state store")
		return
	}
	body := gin.H{"status": "ready"}
	if ctrl.audit != nil {
		stats := ctrl.audit.Stats()
		for _, sink := range stats.Sinks {
			if !sink.Connected {
				system.GetReqLogger(c, ctrl.log).Warnw("Audit sink disconnected", "sink", sink.Name, "failed", sink.Failed)
			}
		}
		body["audit"] = stats
	}
	c.JSON(http.StatusOK, body)
}
