package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/mcconsole/internal/store"
)

type genKeyRequest struct {
	Name  string `json:"name" binding:"required"`
	Admin bool   `json:"admin"`
}

func (r *Router) handleGenAPIKey(c *gin.Context) {
	var req genKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	key, err := r.authSvc.Generate(c.Request.Context(), req.Name, req.Admin)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"name": req.Name, "key": key, "admin": req.Admin})
}

func (r *Router) handleListAPIKeys(c *gin.Context) {
	keys, err := r.authSvc.List(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"keys": keys})
}

func (r *Router) handleRevokeAPIKey(c *gin.Context) {
	name := c.Param("name")
	if err := r.authSvc.Revoke(c.Request.Context(), name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(c, http.StatusNotFound, errorResp{Error: "no api key named " + name})
			return
		}
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, messageResp{Message: "Revoked api key '" + name + "'"})
}

// timeRange parses optional RFC3339 from/to query parameters.
func timeRange(c *gin.Context) (time.Time, time.Time, error) {
	var from, to time.Time
	if s := c.Query("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return from, to, errors.New("from must be RFC3339")
		}
		from = t
	}
	if s := c.Query("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return from, to, errors.New("to must be RFC3339")
		}
		to = t
	}
	return from, to, nil
}

func (r *Router) handlePlayerCounts(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid server name"})
		return
	}
	from, to, err := timeRange(c)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	counts, err := r.store.PlayerCounts(c.Request.Context(), name, from, to)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"counts": counts})
}

func (r *Router) handlePlayerSessions(c *gin.Context) {
	serverName := c.Query("server")
	username := c.Query("username")
	if serverName == "" && username == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "server or username query param required"})
		return
	}
	from, to, err := timeRange(c)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	sessions, err := r.store.Sessions(c.Request.Context(), store.SessionQuery{
		Server:   serverName,
		Username: username,
		From:     from,
		To:       to,
	})
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"sessions": sessions})
}
