package router

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/conversation-router/api"
	"github.com/psds-microservice/conversation-router/internal/handler"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

const pathSwagger = "/swagger"

type Handlers struct {
	Health  *handler.HealthHandler
	Events  *handler.EventHandler
	Routing *handler.RoutingHandler
}

func New(h Handlers, logger *zap.Logger) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), accessLog(logger))
	r.GET("/health", h.Health.Health)
	r.GET("/ready", h.Health.Ready)
	r.GET(pathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, pathSwagger+"/") })
	r.GET(pathSwagger+"/*any", swagger())

	v1 := r.Group("/api/v1")
	{
		v1.POST("/events", h.Events.Ingest)
		v1.GET("/business-hours/status", h.Routing.BusinessHoursStatus)
		v1.GET("/metrics/daily/:date", h.Routing.DailyMetric)
		v1.GET("/queue", h.Routing.Queue)
	}

	return r
}

// swagger отдаёт api/openapi.json и Swagger UI поверх него.
func swagger() gin.HandlerFunc {
	ui := ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL(pathSwagger+"/openapi.json"))
	return func(c *gin.Context) {
		switch strings.TrimPrefix(c.Param("any"), "/") {
		case "openapi.json":
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		case "":
			c.Request.URL.Path = pathSwagger + "/index.html"
			c.Request.RequestURI = pathSwagger + "/index.html"
		}
		ui(c)
	}
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
