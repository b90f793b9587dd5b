package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// consolePollInterval is the cadence of the SSE/NDJSON polling loops.
const consolePollInterval = time.Second

// handleOutput serves console scrollback. With ?lines=N it returns the N
// most recent lines; with ?stream=true it streams new lines as NDJSON
// until the client disconnects; otherwise it returns the whole retained
// window.
func (r *Router) handleOutput(c *gin.Context) {
	_, inst, ok := r.instanceParam(c)
	if !ok {
		return
	}
	buf := inst.Scrollback()

	if n := c.Query("lines"); n != "" {
		count, err := strconv.Atoi(n)
		if err != nil || count <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "lines must be a positive number"})
			return
		}
		writeJSON(c, http.StatusOK, gin.H{"lines": buf.Last(count)})
		return
	}

	if c.Query("stream") != "true" {
		writeJSON(c, http.StatusOK, gin.H{"lines": buf.Snapshot()})
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	enc := json.NewEncoder(c.Writer)
	flusher, _ := c.Writer.(http.Flusher)
	ctx := c.Request.Context()
	var cursor uint64

	ticker := time.NewTicker(consolePollInterval)
	defer ticker.Stop()
	for {
		lines, next := buf.Since(cursor)
		cursor = next
		for _, l := range lines {
			if err := enc.Encode(l); err != nil {
				return
			}
		}
		if len(lines) > 0 && flusher != nil {
			flusher.Flush()
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// handleSSE streams the console over server-sent events. The client first
// receives everything currently in scrollback; afterwards, each polling
// cycle prefers new console lines and falls back to draining the
// subscriber's structured event queue.
func (r *Router) handleSSE(c *gin.Context) {
	_, inst, ok := r.instanceParam(c)
	if !ok {
		return
	}

	user := c.Query("user")
	if user == "" {
		user = "anonymous-" + uuid.NewString()[:8]
	}

	buf := inst.Scrollback()
	fanout := inst.Events()
	fanout.Subscribe(user)
	defer fanout.Unsubscribe(user)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	flusher, _ := c.Writer.(http.Flusher)
	ctx := c.Request.Context()
	var cursor uint64

	ticker := time.NewTicker(consolePollInterval)
	defer ticker.Stop()
	for {
		lines, next := buf.Since(cursor)
		cursor = next
		wrote := false
		if len(lines) > 0 {
			for _, l := range lines {
				payload, _ := json.Marshal(gin.H{
					"message":   l.Text,
					"timestamp": l.Timestamp.Format(time.RFC3339),
				})
				if _, err := c.Writer.WriteString("event: serverOutput\ndata: " + string(payload) + "\n\n"); err != nil {
					return
				}
			}
			wrote = true
		} else if evs, ok := fanout.Drain(user); ok {
			for _, e := range evs {
				if _, err := c.Writer.WriteString(e.SSE()); err != nil {
					return
				}
				wrote = true
			}
		}
		if wrote && flusher != nil {
			flusher.Flush()
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
