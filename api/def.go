// Package api serves the local status surface: liveness ping, a status
// snapshot, and a websocket stream of live rate samples.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"YoloObbNode/logger"
	"YoloObbNode/node"

	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Run starts the status API in the background. It is best-effort: a bind
// failure is logged, not fatal, because the pipeline does not depend on it.
func Run(port int, snapshot func() node.Snapshot) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": snapshot()})
	})
	r.GET("/ws/stats", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			if err := conn.WriteJSON(snapshot()); err != nil {
				return
			}
		}
	})

	go func() {
		if err := r.Run(fmt.Sprintf(":%d", port)); err != nil {
			logger.Log().Error("status API stopped", zap.Int("port", port), zap.Error(err))
		}
	}()
}
