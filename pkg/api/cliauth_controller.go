package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/cli-auth-broker/pkg/apiresponses"
	"github.com/telekom/cli-auth-broker/pkg/audit"
	"github.com/telekom/cli-auth-broker/pkg/cliauth"
	"github.com/telekom/cli-auth-broker/pkg/system"
)

// CallbackSuccessMessage is shown in the browser once the login completed.
const CallbackSuccessMessage = "Authentication successful! You can now close this window."

// CLIAuthService is the orchestrator behind the /auth/cli endpoints.
type CLIAuthService interface {
	Start(ctx context.Context, info cliauth.DeviceInfo) (*cliauth.StartResult, error)
	Callback(ctx context.Context, code, state string) (*cliauth.CallbackResult, error)
	Status(ctx context.Context, state string) (cliauth.StatusResponse, error)
	Renew(ctx context.Context, refreshToken string) (*cliauth.Authorized, error)
}

// CLIAuthController serves the device login handshake.
type CLIAuthController struct {
	svc         CLIAuthService
	log         *zap.SugaredLogger
	middlewares []gin.HandlerFunc
	pollLimiter gin.HandlerFunc
}

// NewCLIAuthController builds the controller. middlewares run on every
// route; pollLimiter, when set, additionally guards the status route.
func NewCLIAuthController(log *zap.SugaredLogger, svc CLIAuthService, pollLimiter gin.HandlerFunc, middlewares ...gin.HandlerFunc) *CLIAuthController {
	return &CLIAuthController{
		svc:         svc,
		log:         log,
		middlewares: middlewares,
		pollLimiter: pollLimiter,
	}
}

func (ctrl *CLIAuthController) BasePath() string {
	return "auth/cli"
}

func (ctrl *CLIAuthController) Handlers() []gin.HandlerFunc {
	return ctrl.middlewares
}

func (ctrl *CLIAuthController) Register(rg *gin.RouterGroup) error {
	rg.POST("/start", ctrl.handleStart)
	rg.GET("/callback", ctrl.handleCallback)
	if ctrl.pollLimiter != nil {
		rg.GET("/status", ctrl.pollLimiter, ctrl.handleStatus)
	} else {
		rg.GET("/status", ctrl.handleStatus)
	}
	rg.POST("/renew", ctrl.handleRenew)
	return nil
}

type renewRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (ctrl *CLIAuthController) handleStart(c *gin.Context) {
	var info cliauth.DeviceInfo
	// an empty body is a valid start request
	if err := c.ShouldBindJSON(&info); err != nil && !errors.Is(err, io.EOF) {
		apiresponses.RespondBadRequestWithDetails(c, "invalid request body", err.Error())
		return
	}

	res, err := ctrl.svc.Start(requestContext(c), info)
	if err != nil {
		ctrl.respondError(c, "start", err)
		return
	}
	apiresponses.RespondOK(c, res)
}

func (ctrl *CLIAuthController) handleCallback(c *gin.Context) {
	reqLog := system.GetReqLogger(c, ctrl.log)

	if providerErr := c.Query("error"); providerErr != "" {
		reqLog.Infow("Identity provider returned an error to the callback",
			"error", providerErr, "description", c.Query("error_description"))
		apiresponses.RespondBadRequestWithDetails(c, "login was not completed", providerErr)
		return
	}

	code, state := c.Query("code"), c.Query("state")
	if code == "" || state == "" {
		apiresponses.RespondBadRequest(c, "code and state are required")
		return
	}

	res, err := ctrl.svc.Callback(requestContext(c), code, state)
	if err != nil {
		ctrl.respondError(c, "callback", err)
		return
	}
	system.EnrichReqLoggerWithSubject(reqLog, res.Subject, res.Email).Debugw("Callback handled")
	c.String(http.StatusOK, CallbackSuccessMessage)
}

func (ctrl *CLIAuthController) handleStatus(c *gin.Context) {
	state := c.Query("state")
	if state == "" {
		apiresponses.RespondBadRequest(c, "state is required")
		return
	}

	res, err := ctrl.svc.Status(requestContext(c), state)
	if err != nil {
		ctrl.respondError(c, "status", err)
		return
	}
	apiresponses.RespondOK(c, res)
}

func (ctrl *CLIAuthController) handleRenew(c *gin.Context) {
	var req renewRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		apiresponses.RespondBadRequestWithDetails(c, "invalid request body", err.Error())
		return
	}

	res, err := ctrl.svc.Renew(requestContext(c), req.RefreshToken)
	if err != nil {
		ctrl.respondError(c, "renew", err)
		return
	}
	apiresponses.RespondOK(c, res)
}

// respondError maps an orchestrator failure to a response. Renewals answer
// 401 for every rejected or unknown session; the browser callback answers 400.
func (ctrl *CLIAuthController) respondError(c *gin.Context, op string, err error) {
	reqLog := system.GetReqLogger(c, ctrl.log)

	switch cliauth.CategoryOf(err) {
	case cliauth.CategoryTransport:
		reqLog.Warnw("Upstream unavailable", "operation", op, "error", err)
		apiresponses.RespondBadGateway(c, "identity provider unavailable")
	case cliauth.CategoryValidation:
		reqLog.Infow("Identity token rejected", "operation", op, "error", err)
		if errors.Is(err, cliauth.ErrMissingRefreshToken) {
			apiresponses.RespondUnauthorized(c, "refresh_token is required")
			return
		}
		apiresponses.RespondUnauthorized(c, "invalid identity token")
	case cliauth.CategoryRejected:
		reqLog.Infow("Token exchange rejected", "operation", op, "error", err)
		if op == "renew" {
			apiresponses.RespondUnauthorized(c, "refresh token rejected")
			return
		}
		apiresponses.RespondBadRequest(c, "authorization code rejected")
	case cliauth.CategoryState:
		reqLog.Infow("Login state rejected", "operation", op, "error", err)
		if op == "renew" {
			apiresponses.RespondUnauthorized(c, "session not found or inactive")
			return
		}
		apiresponses.RespondBadRequest(c, "invalid or expired state")
	default:
		apiresponses.RespondInternalError(c, op, err, reqLog)
	}
}

// requestContext carries the caller's address and correlation id into the
// audit trail.
func requestContext(c *gin.Context) context.Context {
	return audit.WithRequestInfo(c.Request.Context(), audit.RequestInfo{
		SourceIP:      c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
		CorrelationID: system.GetRequestID(c),
	})
}
