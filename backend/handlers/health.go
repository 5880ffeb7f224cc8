package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthCheck is also the clients' connectivity probe, so it needs no auth.
func HealthCheck(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		dbStatus := "ok"
		if err := db.PingContext(ctx); err != nil {
			dbStatus = "unreachable"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"service":  "farmapp",
			"database": dbStatus,
			"time":     formatTime(time.Now()),
		})
	}
}
