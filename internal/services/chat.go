package services

import (
  "context"
  "crypto/sha1"
  "encoding/hex"
  "errors"
  "fmt"
  "strings"
  "time"

  "github.com/yungbote/carebridge-backend/internal/logger"
  "github.com/yungbote/carebridge-backend/internal/repos"
  "github.com/yungbote/carebridge-backend/internal/utils"
)

const (
  // summaryChunkSize is how many finished rounds a single rolling-summary
  // pass consumes.
  summaryChunkSize = 5

  segmentAck    = "..."
  busyReply     = "One moment, I'm still thinking about what you just said."
  recentRoundsK = 6
)

type MessageInput struct {
  Session     string
  Text        string
  UtteranceID string
  RequestID   string
  IsFinal     bool
}

// ChatService is the per-message orchestrator. HandleMessage never returns an
// error; every failure path degrades to a speakable reply.
type ChatService interface {
  HandleMessage(ctx context.Context, in MessageInput) string
  // FinalizeSession flushes the summary tail, distills long-term memory, and
  // purges the session's working state. Idempotent; concurrent callers race
  // on a state transition and all but one back off.
  FinalizeSession(ctx context.Context, session string) error
}

type chatService struct {
  log        *logger.Logger
  dedup      RequestDeduplicator
  locks      DistributedLock
  segments   SegmentBuffer
  states     SessionStateMachine
  history    HistoryStore
  summarizer RollingSummarizer
  distiller  MemoryDistiller
  memories   MemoryStore
  guard      SafetyClassifier
  gate       RetrievalGate
  strategies []ReplyStrategy
  ai         OpenAIClient
  profiles   repos.ProfileRepo
  personas   *personaCache
  lockTTL    time.Duration
}

type ChatServiceDeps struct {
  Dedup      RequestDeduplicator
  Locks      DistributedLock
  Segments   SegmentBuffer
  States     SessionStateMachine
  History    HistoryStore
  Summarizer RollingSummarizer
  Distiller  MemoryDistiller
  Memories   MemoryStore
  Guard      SafetyClassifier
  Gate       RetrievalGate
  Strategies []ReplyStrategy
  AI         OpenAIClient
  Profiles   repos.ProfileRepo
}

func NewChatService(log *logger.Logger, deps ChatServiceDeps) (ChatService, error) {
  if log == nil {
    return nil, fmt.Errorf("logger required")
  }
  serviceLog := log.With("service", "ChatService")
  if deps.Dedup == nil || deps.Locks == nil || deps.Segments == nil ||
    deps.States == nil || deps.History == nil || deps.Summarizer == nil ||
    deps.Distiller == nil || deps.Memories == nil || deps.Guard == nil ||
    deps.Gate == nil || deps.AI == nil || deps.Profiles == nil {
    return nil, fmt.Errorf("missing chat service dependency")
  }
  if len(deps.Strategies) == 0 {
    return nil, fmt.Errorf("at least one reply strategy required")
  }

  lockTTLSeconds := utils.GetEnvAsInt("AUDIO_LOCK_TTL_SECONDS", 180, log)

  return &chatService{
    log:        serviceLog,
    dedup:      deps.Dedup,
    locks:      deps.Locks,
    segments:   deps.Segments,
    states:     deps.States,
    history:    deps.History,
    summarizer: deps.Summarizer,
    distiller:  deps.Distiller,
    memories:   deps.Memories,
    guard:      deps.Guard,
    gate:       deps.Gate,
    strategies: deps.Strategies,
    ai:         deps.AI,
    profiles:   deps.Profiles,
    personas:   newPersonaCache(256, 10*time.Minute),
    lockTTL:    time.Duration(lockTTLSeconds) * time.Second,
  }, nil
}

func (s *chatService) HandleMessage(ctx context.Context, in MessageInput) string {
  session := strings.TrimSpace(in.Session)
  text := strings.TrimSpace(in.Text)
  if session == "" || text == "" {
    return segmentAck
  }

  uid := strings.TrimSpace(in.UtteranceID)
  if uid == "" {
    h := sha1.Sum([]byte(text))
    uid = hex.EncodeToString(h[:])[:16]
  }

  // Partial fragments buffer up and wait for the final marker.
  if !in.IsFinal {
    if err := s.segments.Append(ctx, session, uid, text); err != nil {
      s.log.Warn("segment buffering failed; fragment dropped", "session_id", session, "error", err)
    }
    return segmentAck
  }

  // One worker per utterance. A second delivery while the first is still
  // generating gets the cached reply, or a holding line.
  resource := session + "#audio:" + uid
  acquired, token, err := s.locks.TryAcquire(ctx, resource, s.lockTTL)
  if err != nil {
    s.log.Error("lock acquire failed", "session_id", session, "error", err)
    return FallbackReply
  }
  if !acquired {
    if cached, found, cerr := s.history.CachedReply(ctx, session, uid); cerr == nil && found {
      return cached
    }
    return busyReply
  }
  defer func() {
    releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
    defer cancel()
    if rerr := s.locks.Release(releaseCtx, resource, token); rerr != nil {
      s.log.Warn("lock release failed; will expire via TTL", "session_id", session, "error", rerr)
    }
  }()

  buffered, err := s.segments.Drain(ctx, session, uid)
  if err != nil {
    s.log.Warn("segment drain failed; proceeding with final fragment only", "session_id", session, "error", err)
    buffered = ""
  }
  combined := text
  if buffered != "" {
    combined = buffered + " " + text
  }

  rid := strings.TrimSpace(in.RequestID)
  if rid == "" {
    rid = MakeRequestID(session, combined, time.Now().UnixMilli())
  }

  fresh, err := s.dedup.Register(ctx, session, rid)
  if err != nil {
    if errors.Is(err, ErrStoreUnavailable) {
      s.log.Warn("dedup store unavailable; treating request as fresh", "session_id", session, "error", err)
      fresh = true
    } else {
      s.log.Error("dedup register failed", "session_id", session, "error", err)
      fresh = true
    }
  }
  if !fresh {
    if cached, found, cerr := s.history.CachedReply(ctx, session, uid); cerr == nil && found {
      return cached
    }
    // Duplicate with no cached reply: regenerate, skip side effects below.
  }

  if isNew, serr := s.states.StartOrRefresh(ctx, session); serr != nil {
    s.log.Warn("session refresh failed", "session_id", session, "error", serr)
  } else if isNew {
    if perr := s.profiles.TouchLastContact(ctx, nil, session); perr != nil {
      s.log.Warn("profile touch failed", "session_id", session, "error", perr)
    }
  }

  verdict := s.guard.Classify(ctx, combined)

  promptCtx := s.buildContext(ctx, session, combined, verdict.Blocked)

  reply := s.generate(ctx, ReplyRequest{
    Session:     session,
    RequestID:   rid,
    Input:       combined,
    Context:     promptCtx,
    Blocked:     verdict.Blocked,
    BlockReason: verdict.Reason,
  })

  if cerr := s.history.CacheReply(ctx, session, uid, reply); cerr != nil {
    s.log.Warn("reply cache write failed", "session_id", session, "error", cerr)
  }

  if fresh {
    if herr := s.history.AppendRound(ctx, session, Round{Input: combined, Output: reply, RequestID: rid}); herr != nil {
      s.log.Warn("history append failed", "session_id", session, "error", herr)
    } else {
      s.maybeSummarize(ctx, session)
    }
  }

  return reply
}

// buildContext assembles persona, rolling summary, recent turns, and (when
// the gate says so) the long-term memory pack into one prompt preamble.
func (s *chatService) buildContext(ctx context.Context, session, input string, blocked bool) string {
  var parts []string

  if persona := s.lookupPersona(ctx, session); persona != "" {
    parts = append(parts, persona)
  }

  if summary, _, err := s.summarizer.Summary(ctx, session); err == nil && summary != "" {
    parts = append(parts, "Conversation so far (summarized):\n"+summary)
  }

  if rounds, err := s.history.FetchAll(ctx, session); err == nil && len(rounds) > 0 {
    if len(rounds) > recentRoundsK {
      rounds = rounds[len(rounds)-recentRoundsK:]
    }
    var b strings.Builder
    b.WriteString("Recent turns:")
    for _, r := range rounds {
      b.WriteString("\nPatient: ")
      b.WriteString(r.Input)
      b.WriteString("\nCompanion: ")
      b.WriteString(r.Output)
    }
    parts = append(parts, b.String())
  }

  if !blocked && s.gate.ShouldRetrieve(ctx, input) {
    if pack := s.lookupMemories(ctx, session, input); pack != "" {
      parts = append(parts, pack)
    }
  }

  return strings.Join(parts, "\n\n")
}

func (s *chatService) lookupPersona(ctx context.Context, session string) string {
  if persona, ok := s.personas.Get(session); ok {
    return persona
  }
  profile, err := s.profiles.GetBySessionKey(ctx, nil, session)
  if err != nil {
    return ""
  }
  persona := strings.TrimSpace(profile.Persona)
  if persona == "" && profile.DisplayName != "" {
    persona = "You are speaking with " + profile.DisplayName + "."
  }
  if persona != "" {
    s.personas.Put(session, persona)
  }
  return persona
}

func (s *chatService) lookupMemories(ctx context.Context, session, input string) string {
  vecs, err := s.ai.Embed(ctx, []string{input})
  if err != nil || len(vecs) == 0 {
    s.log.Warn("query embedding failed; skipping memory lookup", "session_id", session, "error", err)
    return ""
  }
  pack, err := s.memories.RetrievePack(ctx, session, vecs[0], 5)
  if err != nil {
    s.log.Warn("memory retrieval failed", "session_id", session, "error", err)
    return ""
  }
  return pack
}

func (s *chatService) generate(ctx context.Context, req ReplyRequest) string {
  for _, strat := range s.strategies {
    reply, err := strat.Reply(ctx, req)
    if err == nil {
      return reply
    }
    s.log.Warn("reply strategy failed", "session_id", req.Session, "strategy", strat.Name(), "error", err)
  }
  return FallbackReply
}

func (s *chatService) maybeSummarize(ctx context.Context, session string) {
  start, chunk, err := s.summarizer.PeekNext(ctx, session, summaryChunkSize)
  if err != nil {
    s.log.Warn("summary peek failed", "session_id", session, "error", err)
    return
  }
  if chunk == nil {
    return
  }
  s.summarizer.SummarizeChunk(ctx, session, start, chunk)
}

func (s *chatService) FinalizeSession(ctx context.Context, session string) error {
  session = strings.TrimSpace(session)
  if session == "" {
    return fmt.Errorf("session required")
  }

  won, err := s.states.TransitionIf(ctx, session, SessionStateActive, SessionStateFinalizing)
  if err != nil {
    return fmt.Errorf("finalize transition failed: %w", err)
  }
  if !won {
    s.log.Debug("finalize skipped; session not active or already finalizing", "session_id", session)
    return nil
  }
  s.log.Info("finalizing session", "session_id", session)

  // Flush whatever the rolling summarizer has not consumed yet. A lost CAS
  // here means another worker got there first; nothing to redo.
  if start, tail, perr := s.summarizer.PeekRemaining(ctx, session); perr != nil {
    s.log.Warn("summary tail peek failed", "session_id", session, "error", perr)
  } else if len(tail) > 0 {
    if !s.summarizer.SummarizeChunk(ctx, session, start, tail) {
      s.log.Warn("summary tail flush lost or failed; abandoning tail", "session_id", session)
    }
  }

  transcript, err := s.history.FetchAll(ctx, session)
  if err != nil {
    s.log.Error("transcript fetch failed; skipping distillation", "session_id", session, "error", err)
    transcript = nil
  }

  if len(transcript) > 0 {
    if gcErr := s.memories.GCExpired(ctx, session); gcErr != nil {
      s.log.Warn("memory GC failed", "session_id", session, "error", gcErr)
    }

    records := s.distiller.Distill(ctx, session, transcript)
    if len(records) > 0 {
      count, uerr := s.memories.Upsert(ctx, session, records)
      if uerr != nil {
        s.log.Error("memory upsert failed; distilled records lost", "session_id", session, "error", uerr)
      } else {
        s.log.Info("session memories stored", "session_id", session, "count", count)
      }

      var facts []string
      for _, rec := range records {
        if rec.Type == MemoryRecordAtom {
          facts = append(facts, rec.Text)
        }
      }
      if perr := s.profiles.AppendFacts(ctx, nil, session, facts); perr != nil {
        s.log.Warn("profile facts append failed", "session_id", session, "error", perr)
      }
    }
  }

  // Purge runs regardless of what succeeded above; working state must not
  // outlive the session.
  if perr := s.states.Purge(ctx, session); perr != nil {
    return fmt.Errorf("session purge failed: %w", perr)
  }
  s.personas.Invalidate(session)
  return nil
}
