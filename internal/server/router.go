package server

import (
	"crypto/tls"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/mcconsole/internal/auth"
	"github.com/loykin/mcconsole/internal/instance"
	mng "github.com/loykin/mcconsole/internal/manager"
	"github.com/loykin/mcconsole/internal/metrics"
	"github.com/loykin/mcconsole/internal/restart"
	"github.com/loykin/mcconsole/internal/store"
)

// Router provides the HTTP API over the server manager.
// Endpoints (all under basePath, API key required unless noted):
//   GET  /servers                       list all configured servers
//   POST /servers/:name/start
//   POST /servers/:name/stop
//   POST /servers/:name/restart        optional ?delay=<seconds>
//   POST /servers/:name/input          body: {"command": "..."}
//   GET  /servers/:name/output         ?lines=N for the tail, ?stream=true for NDJSON
//   GET  /servers/:name/sse            server-sent events console stream
//   GET  /servers/:name/players
//   GET  /servers/:name/chat
//   POST /servers/:name/reload_config
//   POST /reload_config                reload the API configuration
//   POST /gen_api_key                  admin only
//   GET  /api_keys                     admin only
//   DELETE /api_keys/:name             admin only
//   GET  /stats/:name                  player count history
//   GET  /stats/player_sessions        ?server=&username=
//   GET  /metrics                      Prometheus, unauthenticated
type Router struct {
	mgr      *mng.Manager
	store    store.Store
	authSvc  *auth.Service
	authMW   *auth.Middleware
	basePath string
}

// NewRouter constructs a Router. authEnabled=false disables API key checks
// (useful for embedding and tests).
func NewRouter(mgr *mng.Manager, st store.Store, authSvc *auth.Service, authEnabled bool, basePath string) *Router {
	return &Router{
		mgr:      mgr,
		store:    st,
		authSvc:  authSvc,
		authMW:   auth.NewMiddleware(authSvc, authEnabled),
		basePath: sanitizeBase(basePath),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())

	group := g.Group(r.basePath)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))

	authed := group.Group("", r.authMW.GinAuth())
	authed.GET("/servers", r.handleList)
	authed.POST("/servers/:name/start", r.handleStart)
	authed.POST("/servers/:name/stop", r.handleStop)
	authed.POST("/servers/:name/restart", r.handleRestart)
	authed.POST("/servers/:name/input", r.handleInput)
	authed.GET("/servers/:name/output", r.handleOutput)
	authed.GET("/servers/:name/sse", r.handleSSE)
	authed.GET("/servers/:name/players", r.handlePlayers)
	authed.GET("/servers/:name/chat", r.handleChat)
	authed.POST("/servers/:name/reload_config", r.handleReloadServerConfig)
	authed.POST("/reload_config", r.handleReloadConfig)
	authed.GET("/stats/:name", r.handlePlayerCounts)
	authed.GET("/stats/player_sessions", r.handlePlayerSessions)

	admin := group.Group("", r.authMW.GinRequireAdmin())
	admin.POST("/gen_api_key", r.handleGenAPIKey)
	admin.GET("/api_keys", r.handleListAPIKeys)
	admin.DELETE("/api_keys/:name", r.handleRevokeAPIKey)

	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// A non-nil tlsCfg switches the listener to HTTPS.
func NewServer(addr string, r *Router, tlsCfg *tls.Config) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if tlsCfg != nil {
		// certificates come from TLSConfig.GetCertificate
		go func() { _ = server.ListenAndServeTLS("", "") }()
	} else {
		go func() { _ = server.ListenAndServe() }()
	}
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type messageResp struct {
	Message string `json:"message"`
}

func (r *Router) instanceParam(c *gin.Context) (string, *instance.Instance, bool) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid server name"})
		return "", nil, false
	}
	inst, ok := r.mgr.Get(name)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "server not found or not started: " + name})
		return name, nil, false
	}
	return name, inst, true
}

func (r *Router) handleList(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.List())
}

func (r *Router) handleStart(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid server name"})
		return
	}
	if err := r.mgr.Start(c.Request.Context(), name); err != nil {
		switch {
		case errors.Is(err, mng.ErrUnknownInstance):
			writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		case errors.Is(err, instance.ErrAlreadyRunning):
			writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		default:
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		}
		return
	}
	writeJSON(c, http.StatusOK, messageResp{Message: "Started server '" + name + "'"})
}

func (r *Router) handleStop(c *gin.Context) {
	name, _, ok := r.instanceParam(c)
	if !ok {
		return
	}
	if err := r.mgr.Stop(c.Request.Context(), name); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, messageResp{Message: "Stopped server '" + name + "'"})
}

func (r *Router) handleRestart(c *gin.Context) {
	name, inst, ok := r.instanceParam(c)
	if !ok {
		return
	}

	delayStr := c.Query("delay")
	if delayStr == "" {
		if err := r.mgr.Restart(c.Request.Context(), name); err != nil {
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, messageResp{Message: "Triggered a server restart for '" + name + "'"})
		return
	}

	seconds, err := strconv.Atoi(delayStr)
	if err != nil || seconds <= 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "delay must be a positive number of seconds"})
		return
	}

	human := restart.FormatDuration(seconds)
	// warn players now; the scheduler sends further reminders per policy
	_, _, _ = inst.ServerInput(c.Request.Context(), "say WARNING: PLANNED SERVER RESTART IN "+human)

	if err := r.mgr.ScheduleRestart(name, time.Duration(seconds)*time.Second, inst.AlertOffsets()); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, messageResp{Message: "Scheduled " + name + " for a restart in " + human})
}

type inputRequest struct {
	Command string `json:"command" binding:"required"`
}

type inputResp struct {
	Success bool   `json:"success"`
	Line    string `json:"line"`
}

func (r *Router) handleInput(c *gin.Context) {
	_, inst, ok := r.instanceParam(c)
	if !ok {
		return
	}
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}

	okCmd, line, err := inst.ServerInput(c.Request.Context(), req.Command)
	if err != nil {
		if errors.Is(err, instance.ErrCommandTimeout) {
			writeJSON(c, http.StatusGatewayTimeout, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if !okCmd {
		writeJSON(c, http.StatusUnprocessableEntity, inputResp{Success: false, Line: line})
		return
	}
	writeJSON(c, http.StatusOK, inputResp{Success: true, Line: line})
}

func (r *Router) handlePlayers(c *gin.Context) {
	_, inst, ok := r.instanceParam(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"players": inst.Players()})
}

func (r *Router) handleChat(c *gin.Context) {
	_, inst, ok := r.instanceParam(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"chat": inst.Chat()})
}

func (r *Router) handleReloadServerConfig(c *gin.Context) {
	name, _, ok := r.instanceParam(c)
	if !ok {
		return
	}
	if err := r.mgr.ReloadServerConfig(name); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, messageResp{Message: "Reloaded config for '" + name + "' (requires server restart to apply launch changes)"})
}

func (r *Router) handleReloadConfig(c *gin.Context) {
	if err := r.mgr.ReloadConfig(); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, messageResp{Message: "Reloaded API config (host/port changes require an API restart)"})
}
