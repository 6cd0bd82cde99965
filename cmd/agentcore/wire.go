package main

import (
	"context"
	"os"

	"ba-agent-core/internal/agentloop"
	"ba-agent-core/internal/compactor"
	"ba-agent-core/internal/config"
	"ba-agent-core/internal/errors"
	"ba-agent-core/internal/filestore"
	"ba-agent-core/internal/logging"
	"ba-agent-core/internal/memoryindex"
	"ba-agent-core/internal/ratelimit"
	"ba-agent-core/internal/sandbox"
	"ba-agent-core/internal/watcher"
)

// deps holds every wired component for the serve command, so it can be
// torn down uniformly on shutdown.
type deps struct {
	store   *filestore.Store
	index   *memoryindex.Index
	loop    *agentloop.Loop
	watcher *watcher.Watcher
	limiter *ratelimit.Limiter
}

func (d *deps) Close() {
	if d.limiter != nil {
		_ = d.limiter.Close()
	}
	if d.index != nil {
		_ = d.index.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
}

func wire(cfg *config.Config, log logging.Logger) (*deps, error) {
	store, err := filestore.New(&cfg.FileStore, log)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "failed to open file store", err)
	}

	index, err := memoryindex.Open(cfg.Memory.Search, cfg.Memory.Rotation, cfg.FileStore.BaseDir, memoryindex.NullProvider{}, log)
	if err != nil {
		store.Close()
		return nil, errors.Wrap(errors.KindInternal, "failed to open memory index", err)
	}

	runtime := sandbox.NewTestcontainersRuntime()
	executor := sandbox.New(cfg.Docker, cfg.Security, runtime, store, log)

	apiKey := os.Getenv(cfg.LLM.APIKeyEnvVar)
	var chatClient agentloop.ChatClient
	if apiKey != "" {
		chatClient, err = agentloop.NewAnthropicClient(apiKey, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Timeout)
		if err != nil {
			index.Close()
			store.Close()
			return nil, errors.Wrap(errors.KindInternal, "failed to build LLM client", err)
		}
	} else {
		log.Warn("LLM API key env var is unset, chat turns will fail", "env_var", cfg.LLM.APIKeyEnvVar)
		chatClient = unconfiguredChatClient{envVar: cfg.LLM.APIKeyEnvVar}
	}

	extractor := agentloop.ChatExtractor{Client: chatClient}
	comp := compactor.New(cfg.Memory.Flush, store, extractor, log)

	registry := agentloop.NewRegistry(executor, index)
	loop := agentloop.New(chatClient, registry, comp, cfg.LLM.SystemPrompt, cfg.LLM.MaxTokens, cfg.LLM.Temperature, log)

	indexAdapter := newIndexAdapter(index, log)
	w := watcher.New(cfg.Memory.Watcher, indexAdapter, log)

	limiter := ratelimit.New(cfg.RateLimit)

	return &deps{store: store, index: index, loop: loop, watcher: w, limiter: limiter}, nil
}

// unconfiguredChatClient stands in when no API key env var is populated, so
// the process can still start (e.g. for local file-store-only testing)
// instead of refusing to boot.
type unconfiguredChatClient struct {
	envVar string
}

func (c unconfiguredChatClient) Chat(_ context.Context, _ agentloop.ChatRequest) (agentloop.ChatResponse, error) {
	return agentloop.ChatResponse{}, errors.New(errors.KindInternal, "no LLM API key configured in "+c.envVar)
}
