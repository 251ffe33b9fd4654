package handlers

import (
  "context"
  "net/http"
  "strings"
  "time"

  "github.com/gin-gonic/gin"
  "github.com/yungbote/carebridge-backend/internal/logger"
  "github.com/yungbote/carebridge-backend/internal/services"
)

type ChatHandler struct {
  chatService services.ChatService
  log         *logger.Logger
}

func NewChatHandler(chatService services.ChatService, log *logger.Logger) *ChatHandler {
  return &ChatHandler{chatService: chatService, log: log.With("handler", "ChatHandler")}
}

type messageRequest struct {
  SessionID   string `json:"session_id" binding:"required"`
  Text        string `json:"text" binding:"required"`
  UtteranceID string `json:"utterance_id"`
  RequestID   string `json:"request_id"`
  IsFinal     bool   `json:"is_final"`
}

func (ch *ChatHandler) Message(c *gin.Context) {
  var req messageRequest
  if err := c.ShouldBindJSON(&req); err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
    return
  }

  reply := ch.chatService.HandleMessage(c.Request.Context(), services.MessageInput{
    Session:     req.SessionID,
    Text:        req.Text,
    UtteranceID: req.UtteranceID,
    RequestID:   req.RequestID,
    IsFinal:     req.IsFinal,
  })
  c.JSON(http.StatusOK, gin.H{"reply": reply})
}

type finalizeRequest struct {
  SessionID string `json:"session_id" binding:"required"`
}

// Finalize kicks the end-of-session pipeline off and returns immediately.
// Distillation can take tens of seconds; callers should not wait on it.
func (ch *ChatHandler) Finalize(c *gin.Context) {
  var req finalizeRequest
  if err := c.ShouldBindJSON(&req); err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
    return
  }
  session := strings.TrimSpace(req.SessionID)

  go func() {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
    defer cancel()
    if err := ch.chatService.FinalizeSession(ctx, session); err != nil {
      ch.log.Error("finalize failed", "session_id", session, "error", err)
    }
  }()

  c.JSON(http.StatusAccepted, gin.H{"status": "finalizing"})
}
