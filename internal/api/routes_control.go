package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type connectRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// handleConnect starts or retargets the connection. An empty body uses the
// configured endpoint.
func (s *Server) handleConnect(c *gin.Context) {
	ep := s.cfg.GetEndpoint()
	req := connectRequest{Host: ep.Host, Port: ep.Port}

	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	if req.Host == "" {
		req.Host = ep.Host
	}
	if req.Port == 0 {
		req.Port = ep.Port
	}
	if req.Port < 1 || req.Port > 65535 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid port"})
		return
	}

	if err := s.manager.Connect(req.Host, req.Port); err != nil {
		log.Error().Err(err).Msg("connect request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "connect requested",
		"host":    req.Host,
		"port":    req.Port,
	})
}

// handleDisconnect stops the client.
func (s *Server) handleDisconnect(c *gin.Context) {
	s.manager.Disconnect()
	c.JSON(http.StatusOK, gin.H{
		"message": "disconnected",
		"status":  s.manager.Status(),
	})
}
