package jobs

import (
	"context"
	"time"

	"github.com/yungbote/carebridge-backend/internal/logger"
	"github.com/yungbote/carebridge-backend/internal/services"
	"github.com/yungbote/carebridge-backend/internal/utils"
)

// SessionSweeper finalizes sessions that went quiet. Multiple instances may
// run concurrently; the finalize path's state transition makes the sweep
// idempotent.
type SessionSweeper interface {
	Run(ctx context.Context)
}

type sessionSweeper struct {
	log      *logger.Logger
	states   services.SessionStateMachine
	chat     services.ChatService
	interval time.Duration
}

func NewSessionSweeper(log *logger.Logger, states services.SessionStateMachine, chat services.ChatService) SessionSweeper {
	intervalSeconds := utils.GetEnvAsInt("SESSION_SWEEP_INTERVAL_SECONDS", 60, log)
	return &sessionSweeper{
		log:      log.With("job", "SessionSweeper"),
		states:   states,
		chat:     chat,
		interval: time.Duration(intervalSeconds) * time.Second,
	}
}

func (s *sessionSweeper) Run(ctx context.Context) {
	s.log.Info("session sweeper started", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("session sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *sessionSweeper) sweep(ctx context.Context) {
	expired, err := s.states.ExpiredSessions(ctx)
	if err != nil {
		s.log.Warn("expired session scan failed", "error", err)
		return
	}
	for _, session := range expired {
		if err := s.chat.FinalizeSession(ctx, session); err != nil {
			s.log.Error("sweeper finalize failed", "session_id", session, "error", err)
		}
	}
	if len(expired) > 0 {
		s.log.Info("sweep finalized idle sessions", "count", len(expired))
	}
}
