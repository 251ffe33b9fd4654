package main

import (
  "context"
  "fmt"
  "os"
  "time"
  "github.com/yungbote/carebridge-backend/internal/logger"
  "github.com/yungbote/carebridge-backend/internal/utils"
  "github.com/yungbote/carebridge-backend/internal/db"
  "github.com/yungbote/carebridge-backend/internal/repos"
  "github.com/yungbote/carebridge-backend/internal/services"
  "github.com/yungbote/carebridge-backend/internal/handlers"
  "github.com/yungbote/carebridge-backend/internal/jobs"
  "github.com/yungbote/carebridge-backend/internal/observability"
  "github.com/yungbote/carebridge-backend/internal/server"
  pineconeclient "github.com/yungbote/carebridge-backend/internal/clients/pinecone"
  redisclient "github.com/yungbote/carebridge-backend/internal/clients/redis"
)

func main() {
  // Logger
  logMode := os.Getenv("LOG_MODE")
  if logMode == "" {
    logMode = "development"
  }
  log, err := logger.New(logMode)
  if err != nil {
    fmt.Printf("Failed to init logger: %v\n", err)
    os.Exit(1)
  }
  defer log.Sync()

  // Tracing
  shutdownOTel := observability.InitOTel(context.Background(), log, observability.OtelConfig{
    ServiceName: "carebridge",
    Environment: os.Getenv("APP_ENV"),
    Version:     os.Getenv("APP_VERSION"),
  })
  if shutdownOTel != nil {
    defer func() {
      ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
      defer cancel()
      _ = shutdownOTel(ctx)
    }()
  }

  // Env
  log.Info("Loading environment variables from main...")
  idleTimeoutSeconds := utils.GetEnvAsInt("SESSION_IDLE_TIMEOUT_SECONDS", 300, log)
  replyCacheTTLSeconds := utils.GetEnvAsInt("REPLY_CACHE_TTL_SECONDS", 86400, log)
  segmentTTLSeconds := utils.GetEnvAsInt("SEGMENT_BUFFER_TTL_SECONDS", 3600, log)
  embedDim := utils.GetEnvAsInt("EMBED_DIM", 1536, log)
  ttlPolicyPath := utils.GetEnv("MEMORY_TTL_POLICY_PATH", "", log)
  idleTimeout := time.Duration(idleTimeoutSeconds) * time.Second

  // Postgres
  postgresService, err := db.NewPostgresService(log)
  if err != nil {
    log.Error("Postgres init failed", "error", err)
    os.Exit(1)
  }
  if err = postgresService.AutoMigrateAll(); err != nil {
    log.Warn("Postgres auto migration failed", "error", err)
  }
  thePG := postgresService.DB()

  // Redis
  rdb, err := redisclient.New(log)
  if err != nil {
    log.Error("Redis init failed", "error", err)
    os.Exit(1)
  }

  // Repos
  log.Info("Setting up Repos from main...")
  profileRepo := repos.NewProfileRepo(thePG, log)

  // Clients
  openaiClient, err := services.NewOpenAIClient(log)
  if err != nil {
    log.Error("Could not init OpenAIClient", "error", err)
    os.Exit(1)
  }
  pcClient, err := pineconeclient.New(log, pineconeclient.Config{
    APIKey: os.Getenv("PINECONE_API_KEY"),
  })
  if err != nil {
    log.Error("Could not init Pinecone client", "error", err)
    os.Exit(1)
  }

  // Services
  log.Info("Setting up Services from main...")
  dedup := services.NewRequestDeduplicator(rdb, log, idleTimeout)
  locks := services.NewDistributedLock(rdb, log)
  segments := services.NewSegmentBuffer(rdb, log, time.Duration(segmentTTLSeconds)*time.Second)
  states := services.NewSessionStateMachine(rdb, log, idleTimeout)
  history := services.NewHistoryStore(rdb, log, time.Duration(replyCacheTTLSeconds)*time.Second)
  summarizer := services.NewRollingSummarizer(rdb, openaiClient, log)
  ttlPolicy := services.LoadTTLPolicy(ttlPolicyPath, log)
  distiller := services.NewMemoryDistiller(openaiClient, ttlPolicy, embedDim, log)
  memories, err := services.NewMemoryStore(log, pcClient, embedDim)
  if err != nil {
    log.Error("Could not init MemoryStore", "error", err)
    os.Exit(1)
  }
  guard, err := services.NewSafetyClassifier(log, openaiClient)
  if err != nil {
    log.Error("Could not init SafetyClassifier", "error", err)
    os.Exit(1)
  }
  gate, err := services.NewRetrievalGate(log, openaiClient)
  if err != nil {
    log.Error("Could not init RetrievalGate", "error", err)
    os.Exit(1)
  }
  alerts, err := services.NewAlertPublisher(log, rdb)
  if err != nil {
    log.Error("Could not init AlertPublisher", "error", err)
    os.Exit(1)
  }
  companion, err := services.NewCompanionStrategy(log, openaiClient, alerts)
  if err != nil {
    log.Error("Could not init CompanionStrategy", "error", err)
    os.Exit(1)
  }
  direct, err := services.NewDirectStrategy(log, openaiClient)
  if err != nil {
    log.Error("Could not init DirectStrategy", "error", err)
    os.Exit(1)
  }
  chatService, err := services.NewChatService(log, services.ChatServiceDeps{
    Dedup:      dedup,
    Locks:      locks,
    Segments:   segments,
    States:     states,
    History:    history,
    Summarizer: summarizer,
    Distiller:  distiller,
    Memories:   memories,
    Guard:      guard,
    Gate:       gate,
    Strategies: []services.ReplyStrategy{companion, direct},
    AI:         openaiClient,
    Profiles:   profileRepo,
  })
  if err != nil {
    log.Error("Could not init ChatService", "error", err)
    os.Exit(1)
  }

  // Background sweeper
  sweeper := jobs.NewSessionSweeper(log, states, chatService)
  go sweeper.Run(context.Background())

  // Handlers
  log.Info("Setting up handlers from main...")
  chatHandler := handlers.NewChatHandler(chatService, log)

  // Router
  log.Info("Setting up router from main...")
  router := server.NewRouter(server.RouterConfig{
    ServiceName: "carebridge",
    Log:         log,
    ChatHandler: chatHandler,
  })

  port := utils.GetEnv("PORT", "8080", log)
  fmt.Printf("Server listening on :%s\n", port)
  if err := router.Run(":" + port); err != nil {
    log.Warn("Server failed", "error", err)
  }
}
