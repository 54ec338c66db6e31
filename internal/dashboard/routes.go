package dashboard

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/fda/internal/fault"
	"github.com/zulandar/fda/internal/messaging"
	"github.com/zulandar/fda/internal/models"
	"github.com/zulandar/fda/internal/state"
)

const (
	defaultHistoryLimit = 20
	alertPollInterval   = 3 * time.Second
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, store *state.Store, bus *messaging.Bus) {
	api := router.Group("/api")

	api.GET("/summary", handleSummary(store))
	api.GET("/tasks", handleTasks(store))
	api.GET("/tasks/:id", handleTask(store))
	api.GET("/alerts", handleAlerts(store))
	api.GET("/kpis", handleKPIs(store))
	api.GET("/kpis/:metric", handleKPIHistory(store))
	api.GET("/decisions", handleDecisions(store))
	api.GET("/agents", handleAgents(store))
	api.GET("/context", handleContext(store))
	api.GET("/messages/:agent", handleMessages(bus))
	api.GET("/threads/:id", handleThread(bus))

	api.GET("/events", handleEvents(store, alertPollInterval))
}

// writeError maps an error kind to an HTTP status.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fault.ErrNotFound):
		status = http.StatusNotFound
	case fault.Retryable(err):
		status = http.StatusServiceUnavailable
	case errors.Is(err, fault.ErrConflict):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// limitParam parses ?limit=, defaulting to defaultHistoryLimit.
func limitParam(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultHistoryLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		badRequest(c, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}

func handleSummary(store *state.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sum, err := Summarize(c.Request.Context(), store, time.Now())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, sum)
	}
}

func handleTasks(store *state.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		tasks, err := store.ListTasks(c.Request.Context(), state.TaskFilter{
			Status: c.Query("status"),
			Owner:  c.Query("owner"),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, tasks)
	}
}

func handleTask(store *state.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		task, err := store.GetTask(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, task)
	}
}

func handleAlerts(store *state.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := state.AlertFilter{Level: c.Query("level")}
		if raw := c.Query("acknowledged"); raw != "" {
			ack, err := strconv.ParseBool(raw)
			if err != nil {
				badRequest(c, "acknowledged must be true or false")
				return
			}
			f.Acknowledged = &ack
		}
		alerts, err := store.ListAlerts(c.Request.Context(), f)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, alerts)
	}
}

func handleKPIs(store *state.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		latest, err := LatestKPIs(c.Request.Context(), store)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, latest)
	}
}

func handleKPIHistory(store *state.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := limitParam(c)
		if !ok {
			return
		}
		history, err := store.KPIHistory(c.Request.Context(), c.Param("metric"), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, history)
	}
}

func handleDecisions(store *state.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := limitParam(c)
		if !ok {
			return
		}
		decisions, err := store.ListDecisions(c.Request.Context(), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, decisions)
	}
}

func handleAgents(store *state.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := AgentSummary(c.Request.Context(), store, time.Now())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func handleContext(store *state.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := store.ListContext(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

func handleMessages(bus *messaging.Bus) gin.HandlerFunc {
	return func(c *gin.Context) {
		if bus == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "message bus not configured"})
			return
		}
		agent := c.Param("agent")
		var (
			msgs []models.Message
			err  error
		)
		if c.Query("pending") == "true" {
			msgs, err = bus.GetPending(agent)
		} else {
			msgs, err = bus.AllForAgent(agent)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		if msgs == nil {
			msgs = []models.Message{}
		}
		c.JSON(http.StatusOK, msgs)
	}
}

func handleThread(bus *messaging.Bus) gin.HandlerFunc {
	return func(c *gin.Context) {
		if bus == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "message bus not configured"})
			return
		}
		thread, err := bus.GetThread(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if thread == nil {
			thread = []models.Message{}
		}
		c.JSON(http.StatusOK, thread)
	}
}
