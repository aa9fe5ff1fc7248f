package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/perimeterlab/botshield-engine/internal/config"
	"github.com/perimeterlab/botshield-engine/internal/db"
	"github.com/perimeterlab/botshield-engine/internal/engine"
)

// SetupRouter assembles the server: the detection middleware on every
// route, the management API under /api/v1, and the demo passthrough.
func SetupRouter(cfg *config.Config, eng *engine.Engine, store *db.LearningStore) *gin.Engine {
	r := gin.Default()

	// CORS, configurable via ALLOWED_ORIGINS (comma-separated; empty = *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{cfg: cfg, engine: eng, store: store}

	// management API: authenticated, rate limited, no detection middleware
	limiter := NewRateLimiter(120, 30)
	api := r.Group("/api/v1", limiter.Middleware(), AuthMiddleware())
	{
		api.GET("/detectors", handler.handleDetectors)
		api.GET("/policies", handler.handlePolicies)
		api.POST("/inspect", handler.handleInspect)
		api.GET("/verdicts", handler.handleVerdicts)
	}

	r.GET("/api/v1/health", handler.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// demo passthrough: every request through the full detection stack
	if cfg.Server.DemoMode {
		demo := r.Group("/", Detect(eng, true), Enforce(""))
		demo.GET("/demo/*path", func(c *gin.Context) {
			ev, _ := EvidenceFrom(c)
			c.JSON(http.StatusOK, gin.H{"evidence": ev})
		})
	}

	return r
}
