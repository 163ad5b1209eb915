package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/metapharm/rxgate/config"
	"github.com/metapharm/rxgate/pkg/auth"
	"github.com/metapharm/rxgate/pkg/metrics"
)

// NewRouter assembles the middleware chain and the route table. Health and
// metrics sit outside the authenticated group so probes need no token.
func NewRouter(h *PrescriptionHandler, jwtManager *auth.JWTManager, collector *metrics.Collector, log *zap.Logger, cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(MetricsMiddleware(collector))
	r.Use(RateLimitMiddleware(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize))
	r.Use(CORSMiddleware(cfg.CORS))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	api := r.Group("/api/v1")
	api.Use(AuthMiddleware(jwtManager))

	rx := api.Group("/prescriptions")
	{
		rx.POST("", h.Create)
		rx.GET("", h.List)
		rx.GET("/:id", h.Get)
		rx.POST("/:id/transcription", h.Transcribe)
		rx.POST("/:id/safety-evaluation", h.EvaluateSafety)
		rx.POST("/:id/approval", h.Approve)
		rx.POST("/:id/rejection", h.Reject)
		rx.POST("/:id/clarification-request", h.RequestClarification)
		rx.POST("/:id/clarification-response", h.RespondClarification)
		rx.PATCH("/:id/items/:index/fields/:field", h.EditField)
		rx.POST("/:id/items/:index/fields/:field/verification", h.VerifyField)
		rx.POST("/:id/findings/:finding_id/resolution", h.ResolveFinding)
	}

	return r
}
