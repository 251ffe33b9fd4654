package server

import (
  "github.com/gin-gonic/gin"
  "github.com/gin-contrib/cors"
  "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
  "github.com/yungbote/carebridge-backend/internal/handlers"
  "github.com/yungbote/carebridge-backend/internal/logger"
  "github.com/yungbote/carebridge-backend/internal/middleware"
)

type RouterConfig struct {
  ServiceName string
  Log         *logger.Logger
  ChatHandler *handlers.ChatHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
  router := gin.New()
  router.Use(gin.Recovery())
  router.Use(otelgin.Middleware(cfg.ServiceName))
  router.Use(middleware.AttachTraceContext())
  router.Use(middleware.RequestLogger(cfg.Log))

  // Cors
  router.Use(cors.New(cors.Config{
    AllowOrigins: []string{
      "http://localhost:80",
      "http://localhost:3000",
      "http://localhost:5174",
    },
    AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
    AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
    AllowCredentials: true,
  }))

  router.GET("/healthcheck", handlers.HealthCheck)
  api := router.Group("/api")
  {
    api.POST("/message", cfg.ChatHandler.Message)
    api.POST("/session/finalize", cfg.ChatHandler.Finalize)
  }

  return router
}
