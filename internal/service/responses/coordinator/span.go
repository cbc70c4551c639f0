package coordinator

import (
	"log/slog"
	"time"
)

// span is the Run Coordinator's lightweight in-process trace span: the
// spec asks for start/attribute/finalize semantics but this codebase
// carries no tracing SDK, so a span here is a bag of attributes logged
// structurally on finalize rather than exported anywhere.
type span struct {
	runID          string
	tenantID       string
	model          string
	storeFlag      bool
	conversationID string
	startedAt      time.Time
}

func newSpan(runID, tenantID, model string, storeFlag bool, conversationID string) *span {
	return &span{
		runID:          runID,
		tenantID:       tenantID,
		model:          model,
		storeFlag:      storeFlag,
		conversationID: conversationID,
		startedAt:      time.Now(),
	}
}

func (s *span) finalize(status string) {
	slog.Info("run span finished",
		"run_id", s.runID,
		"tenant_id", s.tenantID,
		"model", s.model,
		"store_flag", s.storeFlag,
		"conversation_id", s.conversationID,
		"status", status,
		"duration_ms", time.Since(s.startedAt).Milliseconds(),
	)
}
