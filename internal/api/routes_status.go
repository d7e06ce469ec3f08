package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tramquy-network/arriety/internal/util"
)

const defaultListLimit = 50

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "arriety",
	})
}

// handleGetStatus returns the latest connection and login snapshot.
func (s *Server) handleGetStatus(c *gin.Context) {
	st := s.manager.Status()
	handled, dropped := s.manager.DispatchStats()

	resp := gin.H{
		"status": st,
		"packets": gin.H{
			"handled": handled,
			"dropped": dropped,
		},
	}
	if err := st.Err(); err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// handleGetDevice returns the device snapshot sent at login plus live host usage.
func (s *Server) handleGetDevice(c *gin.Context) {
	resp := gin.H{"device": s.manager.Device()}

	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = mem
	}
	if cpu, err := util.GetCPUUsage(); err == nil {
		resp["cpu_percent"] = cpu
	}
	c.JSON(http.StatusOK, resp)
}

// handleGetEvents returns the most recent in-memory session events.
func (s *Server) handleGetEvents(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	recent := s.eventBus.Recent(limit)
	c.JSON(http.StatusOK, gin.H{
		"events": recent,
		"total":  len(recent),
	})
}

// handleGetJournal returns persisted session events, newest first.
func (s *Server) handleGetJournal(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal is disabled"})
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	entries, err := s.journal.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, err := s.journal.Count()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   total,
	})
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("limit", strconv.Itoa(defaultListLimit))
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return 0, false
	}
	return limit, true
}
