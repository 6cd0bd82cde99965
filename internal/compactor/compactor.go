package compactor

import (
	"context"
	"time"

	"ba-agent-core/internal/config"
	"ba-agent-core/internal/filestore"
	"ba-agent-core/internal/logging"
	"ba-agent-core/pkg/types"
)

// Compactor is the concrete C3 implementation: it owns no conversation
// state itself (that lives in the Agent Loop's types.ConversationState) but
// drives the trigger predicate, extraction, and persistence against it.
type Compactor struct {
	cfg config.FlushConfig
	store *filestore.Store
	extractor Extractor
	log logging.Logger
}

// New builds a Compactor. A nil extractor falls back to NoopExtractor,
// which forces the heuristic path on every flush.
func New(cfg config.FlushConfig, store *filestore.Store, extractor Extractor, log logging.Logger) *Compactor {
	if extractor == nil {
		extractor = NoopExtractor{}
	}
	if log == nil {
		log = logging.NewLogger(logging.INFO)
	}
	return &Compactor{cfg: cfg, store: store, extractor: extractor, log: log.WithComponent("compactor")}
}

// FlushResult reports the outcome of one CheckAndFlush call.
type FlushResult struct {
	Flushed bool
	Reason TriggerReason
	MemoryCount int
}

// CheckAndFlush runs one flush decision end-to-end: evaluate the trigger
// predicate and suppression rule, extract records (LLM primary path, regex
// fallback), apply the eligibility filter (bypassed when force=true per the
// adopted Open Question reading), and persist a successful flush. It never
// returns an error that should fail the calling turn - compactor errors are
// logged and swallowed; the conversation always continues.
func (c *Compactor) CheckAndFlush(ctx context.Context, state *types.ConversationState, force bool) FlushResult {
	if !c.cfg.Enabled {
		return FlushResult{Flushed: false}
	}
	if suppressed(state) {
		return FlushResult{Flushed: false, Reason: TriggerNone}
	}

	th := thresholds{
		SoftThresholdTokens: c.cfg.SoftThresholdTokens,
		ReserveTokensFloor: c.cfg.ReserveTokensFloor,
		ContextWindowTokens: c.cfg.ContextWindowTokens,
	}
	reason := evaluateTrigger(state, th, force)
	if reason == TriggerNone {
		return FlushResult{Flushed: false}
	}

	if len(state.MessageBuffer) == 0 {
		return FlushResult{Flushed: false, Reason: reason}
	}

	records, err := c.extract(ctx, state.MessageBuffer)
	if err != nil {
		c.log.Warn("extraction failed, conversation continues without this flush", "error", err.Error())
		return FlushResult{Flushed: false, Reason: reason}
	}

	if !force && !eligible(len(records), state.SessionStart, c.cfg.MinMemoryCount, c.cfg.MaxMemoryAgeHours) {
		return FlushResult{Flushed: false, Reason: reason, MemoryCount: len(records)}
	}
	if len(records) == 0 {
		return FlushResult{Flushed: false, Reason: reason}
	}

	if err := c.persist(records, state.PendingFileRefs); err != nil {
		c.log.Warn("persisting flush failed, conversation continues", "error", err.Error())
		return FlushResult{Flushed: false, Reason: reason}
	}

	// Post-conditions: buffer cleared, marks advanced. Resetting
	// session_tokens to 0 is the Agent Loop's responsibility, not ours.
	state.MessageBuffer = nil
	state.PendingFileRefs = nil
	state.LastFlushTokens = state.SessionTokens
	state.FlushedAtCompactionCnt = state.CompactionCount

	return FlushResult{Flushed: true, Reason: reason, MemoryCount: len(records)}
}

func (c *Compactor) extract(ctx context.Context, buffer []types.Message) ([]types.MemoryRecord, error) {
	timeout := c.cfg.LLMTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	extractCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	records, err := extractViaLLM(extractCtx, c.extractor, buffer)
	if err == nil {
		return records, nil
	}
	c.log.Warn("llm extractor unavailable, using heuristic fallback", "error", err.Error())
	return extractViaHeuristics(buffer), nil
}

// persist appends a flush block to today's memory/YYYY-MM-DD.md via the
// file store's memory category.
func (c *Compactor) persist(records []types.MemoryRecord, fileRefs []types.FileRef) error {
	if c.store == nil {
		return nil
	}
	now := time.Now().UTC()
	filename := dailyFlushFilename(now)
	block := renderFlushBlock(now, records, fileRefs)

	ref := types.FileRef{Category: types.CategoryMemory, FileID: filename}
	existing, err := c.store.Retrieve(ref)
	if err != nil {
		return err
	}

	content := block
	if len(existing) > 0 {
		content = string(existing) + block
	}

	_, err = c.store.Store(types.CategoryMemory, []byte(content), filestore.StoreOptions{
		FileID: filename,
		Filename: filename,
	})
	return err
}
