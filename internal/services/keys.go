package services

// Key layout in the shared state store. Everything scoped to a session key so
// finalize can purge it wholesale.
//
//   processed:{session}:{rid}        dedup marker (expires on its own)
//   lock:audio:{session}#audio:{id}  utterance lock
//   audio:{session}:{id}:buf         fragment buffer
//   audio:{session}:{id}:result      cached reply for an utterance
//   session:{session}:history        list of JSON rounds
//   session:{session}:summary:text   rolling summary
//   session:{session}:summary:rounds summary cursor (rounds consumed)
//   session:{session}:state          lifecycle state (missing = ACTIVE)
//   session:active:{session}         idle marker with TTL
//   session:last_active:{session}    unix seconds, scanned by the sweeper

func dedupKey(session, requestID string) string {
  return "processed:" + session + ":" + requestID
}

func lockKey(resource string) string {
  return "lock:audio:" + resource
}

func segmentBufKey(session, utteranceID string) string {
  return "audio:" + session + ":" + utteranceID + ":buf"
}

func replyCacheKey(session, utteranceID string) string {
  return "audio:" + session + ":" + utteranceID + ":result"
}

func historyKey(session string) string {
  return "session:" + session + ":history"
}

func summaryTextKey(session string) string {
  return "session:" + session + ":summary:text"
}

func summaryCursorKey(session string) string {
  return "session:" + session + ":summary:rounds"
}

func sessionStateKey(session string) string {
  return "session:" + session + ":state"
}

func sessionActiveKey(session string) string {
  return "session:active:" + session
}

func sessionLastActiveKey(session string) string {
  return "session:last_active:" + session
}
