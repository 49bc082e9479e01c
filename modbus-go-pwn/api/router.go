package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NewRouter wires every route onto a fresh gin engine.
func NewRouter(h *Handler, logger logrus.FieldLogger) *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(logger), recovery(logger))

	r.GET("/health", h.Health)
	r.POST("/scan", h.Scan)
	r.POST("/modbus_test", h.ModbusTest)
	r.GET("/scan_status", h.ScanStatus)
	r.GET("/scan_results", h.ScanResults)
	r.POST("/stop_scan", h.StopScan)
	r.POST("/exploit", h.Exploit)
	r.POST("/dos_attack", h.DosAttack)
	r.POST("/stop_dos_attack", h.StopDosAttack)
	r.GET("/dos_status", h.DosStatus)
	return r
}

func requestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
		// status polling is noisy
		if c.Request.URL.Path == "/scan_status" || c.Request.URL.Path == "/dos_status" {
			entry.Debug("request")
			return
		}
		entry.Info("request")
	}
}

func recovery(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("handler panic on %s: %v", c.Request.URL.Path, r)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"status": "error", "message": fmt.Sprint(r)})
			}
		}()
		c.Next()
	}
}
