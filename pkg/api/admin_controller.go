package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/cli-auth-broker/pkg/apiresponses"
	"github.com/telekom/cli-auth-broker/pkg/cliauth"
	"github.com/telekom/cli-auth-broker/pkg/system"
)

// SessionAdmin manages stored sessions out of band.
type SessionAdmin interface {
	GetSession(ctx context.Context, subject string) (*cliauth.Session, error)
	DeactivateSession(ctx context.Context, subject string) error
}

// AdminController exposes session administration behind a static bearer token.
type AdminController struct {
	svc   SessionAdmin
	token string
	log   *zap.SugaredLogger
}

// NewAdminController returns nil when token is empty; the admin routes are
// then not registered at all.
func NewAdminController(log *zap.SugaredLogger, svc SessionAdmin, token string) *AdminController {
	if token == "" {
		return nil
	}
	return &AdminController{svc: svc, token: token, log: log}
}

func (ctrl *AdminController) BasePath() string {
	return "admin"
}

func (ctrl *AdminController) Handlers() []gin.HandlerFunc {
	return []gin.HandlerFunc{ctrl.requireToken}
}

func (ctrl *AdminController) Register(rg *gin.RouterGroup) error {
	rg.GET("/sessions/:sub", ctrl.handleGetSession)
	rg.POST("/sessions/:sub/deactivate", ctrl.handleDeactivate)
	return nil
}

// sessionView is a Session without its refresh token.
type sessionView struct {
	UserSub    string    `json:"user_sub"`
	Email      string    `json:"email,omitempty"`
	DeviceName string    `json:"device_name,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (ctrl *AdminController) requireToken(c *gin.Context) {
	header := c.GetHeader("Authorization")
	presented, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(ctrl.token)) != 1 {
		system.GetReqLogger(c, ctrl.log).Warnw("Rejected admin request", "path", c.FullPath())
		apiresponses.RespondUnauthorized(c, "")
		c.Abort()
		return
	}
	c.Next()
}

func (ctrl *AdminController) handleGetSession(c *gin.Context) {
	session, err := ctrl.svc.GetSession(requestContext(c), c.Param("sub"))
	if err != nil {
		ctrl.respondError(c, "get session", err)
		return
	}
	apiresponses.RespondOK(c, sessionView{
		UserSub:    session.UserSub,
		Email:      session.Email,
		DeviceName: session.DeviceName,
		Active:     session.Active,
		CreatedAt:  session.CreatedAt,
		UpdatedAt:  session.UpdatedAt,
	})
}

func (ctrl *AdminController) handleDeactivate(c *gin.Context) {
	sub := c.Param("sub")
	if err := ctrl.svc.DeactivateSession(requestContext(c), sub); err != nil {
		ctrl.respondError(c, "deactivate session", err)
		return
	}
	system.GetReqLogger(c, ctrl.log).Infow("Session deactivated by admin", "sub", sub)
	apiresponses.RespondNoContent(c)
}

func (ctrl *AdminController) respondError(c *gin.Context, op string, err error) {
	if errors.Is(err, cliauth.ErrSessionNotFound) {
		apiresponses.RespondNotFound(c, "session not found")
		return
	}
	apiresponses.RespondInternalError(c, op, err, system.GetReqLogger(c, ctrl.log))
}
