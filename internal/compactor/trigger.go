// Package compactor implements the memory compactor (C3): deciding when to
// compact a conversation, extracting durable facts from its transcript, and
// persisting them as Markdown into the memory category of the file store.
package compactor

import (
	"time"

	"ba-agent-core/pkg/types"
)

// TriggerReason names why (or whether) a compaction should fire.
type TriggerReason string

const (
	TriggerNone TriggerReason = ""
	TriggerHard TriggerReason = "硬阈值触发"
	TriggerSoft TriggerReason = "软阈值触发"
	TriggerForce TriggerReason = "强制触发"
)

// thresholds bundles the trigger predicate's inputs.
type thresholds struct {
	SoftThresholdTokens int
	ReserveTokensFloor int
	ContextWindowTokens int
}

// evaluateTrigger implements its trigger predicate:
//
//	hard := S >= W - reserve - soft
//	soft := S >= soft AND S - last_flush_tokens >= reserve
//	force := explicit caller request
//
// Suppression (one flush per compaction tick) is checked by the caller
// before this, since it is orthogonal to which trigger condition fired.
func evaluateTrigger(state *types.ConversationState, th thresholds, force bool) TriggerReason {
	hard := th.ContextWindowTokens - th.ReserveTokensFloor - th.SoftThresholdTokens
	if state.SessionTokens >= hard {
		return TriggerHard
	}
	if force {
		return TriggerForce
	}
	if state.SessionTokens >= th.SoftThresholdTokens &&
		state.SessionTokens-state.LastFlushTokens >= th.ReserveTokensFloor {
		return TriggerSoft
	}
	return TriggerNone
}

// suppressed implements the one-flush-per-compaction-tick rule: refuse if
// the last successful flush already happened at the current compaction
// count. A state that has never flushed (LastFlushTokens still 0) is not
// suppressed.
func suppressed(state *types.ConversationState) bool {
	return state.LastFlushTokens > 0 && state.FlushedAtCompactionCnt == state.CompactionCount
}

// eligible implements the non-force eligibility filter applied after
// extraction: at least min_memory_count records, and the
// conversation is no older than max_memory_age_hours.
func eligible(memoryCount int, sessionStart time.Time, minCount int, maxAgeHours float64) bool {
	if memoryCount < minCount {
		return false
	}
	if maxAgeHours <= 0 {
		return true
	}
	age := time.Since(sessionStart).Hours()
	return age <= maxAgeHours
}
