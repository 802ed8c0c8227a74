// Package main is the entry point for the Thane agent.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/thane-session-bridge/internal/agent"
	"github.com/nugget/thane-session-bridge/internal/agentbridge"
	"github.com/nugget/thane-session-bridge/internal/api"
	"github.com/nugget/thane-session-bridge/internal/bridge"
	"github.com/nugget/thane-session-bridge/internal/buildinfo"
	"github.com/nugget/thane-session-bridge/internal/config"
	"github.com/nugget/thane-session-bridge/internal/llm"
	"github.com/nugget/thane-session-bridge/internal/memory"
	"github.com/nugget/thane-session-bridge/internal/router"
	"github.com/nugget/thane-session-bridge/internal/talents"
	"github.com/nugget/thane-session-bridge/internal/tools"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Setup logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Handle subcommands
	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger, *configPath)
		case "ask":
			if flag.NArg() < 2 {
				fmt.Fprintln(os.Stderr, "usage: thane ask <question>")
				os.Exit(1)
			}
			runAsk(logger, *configPath, flag.Args()[1:])
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.Info() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
		return
	}

	// Default: show help
	fmt.Println("Thane - conversational agent with a live session bridge")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the API server and session bridge")
	fmt.Println("  ask      Ask a single question (for testing)")
	fmt.Println("  version  Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func runAsk(logger *slog.Logger, configPath string, args []string) {
	question := args[0]
	for _, a := range args[1:] {
		question += " " + a
	}

	// Load config
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	// Create LLM client
	llmClient := createLLMClient(cfg, logger)

	// Load talents
	talentsDir := cfg.TalentsDir
	if talentsDir == "" {
		talentsDir = "./talents"
	}
	talentLoader := talents.NewLoader(talentsDir)
	talentContent, _ := talentLoader.Load()

	// Create minimal memory store (in-memory for ask)
	mem := memory.NewStore(100)

	// Create agent loop (no router for CLI mode - uses default model)
	loop := agent.NewLoop(logger, mem, nil, nil, llmClient, cfg.Models.Default, talentContent, "", 0)

	// Process the question
	ctx := context.Background()
	threadID := "cli-test"

	response, err := loop.Process(ctx, threadID, question)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(response)
}

func runServe(logger *slog.Logger, configPath string) {
	logger.Info("starting Thane", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	// Load config
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	// Reconfigure logger with config-driven level
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
		"ollama_url", cfg.Models.OllamaURL,
	)

	// Create memory store (SQLite)
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}

	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		logger.Error("failed to create data directory", "path", dataDir, "error", err)
		os.Exit(1)
	}

	dbPath := dataDir + "/thane.db"
	mem, err := memory.NewSQLiteStore(dbPath, 100)
	if err != nil {
		logger.Error("failed to open memory database", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer mem.Close()
	logger.Info("memory database opened", "path", dbPath)

	archiveDBPath := dataDir + "/archive.db"
	archiveStore, err := memory.NewArchiveStore(archiveDBPath, nil, logger)
	if err != nil {
		logger.Error("failed to open archive database", "path", archiveDBPath, "error", err)
		os.Exit(1)
	}
	defer archiveStore.Close()
	logger.Info("archive database opened", "path", archiveDBPath)

	// Create LLM client based on provider
	llmClient := createLLMClient(cfg, logger)

	// Create compactor with LLM summarizer
	compactionConfig := memory.CompactionConfig{
		MaxTokens:            8000, // Adjust based on model
		TriggerRatio:         0.7,  // Compact at 70% full
		KeepRecent:           10,   // Keep last 10 messages
		MinMessagesToCompact: 15,   // Need enough to be worth summarizing
	}

	// LLM summarization function
	summarizeFunc := func(ctx context.Context, prompt string) (string, error) {
		msgs := []llm.Message{{Role: "user", Content: prompt}}
		resp, err := llmClient.Chat(ctx, cfg.Models.Default, msgs, nil)
		if err != nil {
			return "", err
		}
		return resp.Message.Content, nil
	}

	summarizer := memory.NewLLMSummarizer(summarizeFunc)
	compactor := memory.NewCompactor(mem, compactionConfig, summarizer)

	// Load talents
	talentsDir := cfg.TalentsDir
	if talentsDir == "" {
		talentsDir = "./talents"
	}
	talentLoader := talents.NewLoader(talentsDir)
	talentContent, err := talentLoader.Load()
	if err != nil {
		logger.Error("failed to load talents", "error", err)
		os.Exit(1)
	}
	if talentContent != "" {
		talentList, _ := talentLoader.List()
		logger.Info("talents loaded", "count", len(talentList), "talents", talentList)
	}

	// Load persona file (replaces default system prompt if set)
	var personaContent string
	if cfg.PersonaFile != "" {
		data, err := os.ReadFile(cfg.PersonaFile)
		if err != nil {
			logger.Error("failed to load persona file", "path", cfg.PersonaFile, "error", err)
			os.Exit(1)
		}
		personaContent = string(data)
		logger.Info("persona loaded", "path", cfg.PersonaFile, "size", len(personaContent))
	}

	// Create model router
	routerCfg := router.Config{
		DefaultModel: cfg.Models.Default,
		LocalFirst:   cfg.Models.LocalFirst,
		MaxAuditLog:  1000,
	}

	// Convert config models to router models
	for _, m := range cfg.Models.Available {
		minComp := router.ComplexitySimple
		switch m.MinComplexity {
		case "moderate":
			minComp = router.ComplexityModerate
		case "complex":
			minComp = router.ComplexityComplex
		}

		routerCfg.Models = append(routerCfg.Models, router.Model{
			Name:          m.Name,
			Provider:      m.Provider,
			SupportsTools: m.SupportsTools,
			ContextWindow: m.ContextWindow,
			Speed:         m.Speed,
			Quality:       m.Quality,
			CostTier:      m.CostTier,
			MinComplexity: minComp,
		})
	}

	rtr := router.NewRouter(logger, routerCfg)
	logger.Info("model router initialized",
		"models", len(routerCfg.Models),
		"default", routerCfg.DefaultModel,
		"local_first", routerCfg.LocalFirst,
	)

	// Find context window for default model
	defaultContextWindow := 200000 // sensible default
	for _, m := range cfg.Models.Available {
		if m.Name == cfg.Models.Default {
			defaultContextWindow = m.ContextWindow
			break
		}
	}

	loop := agent.NewLoop(logger, mem, compactor, rtr, llmClient, cfg.Models.Default, talentContent, personaContent, defaultContextWindow)

	// Set up file tools for workspace access
	if cfg.Workspace.Path != "" {
		fileTools := tools.NewFileTools(cfg.Workspace.Path, cfg.Workspace.ReadOnlyDirs)
		loop.Tools().SetFileTools(fileTools)
		logger.Info("file tools enabled", "workspace", cfg.Workspace.Path)
	} else {
		logger.Info("file tools disabled (no workspace path configured)")
	}

	// Set up shell exec tools
	if cfg.ShellExec.Enabled {
		timeout := cfg.ShellExec.DefaultTimeoutSec
		if timeout == 0 {
			timeout = 30
		}
		shellCfg := tools.ShellExecConfig{
			Enabled:        true,
			WorkingDir:     cfg.ShellExec.WorkingDir,
			AllowedCmds:    cfg.ShellExec.AllowedPrefixes,
			DeniedCmds:     cfg.ShellExec.DeniedPatterns,
			DefaultTimeout: time.Duration(timeout) * time.Second,
		}
		// Add default denied patterns if none configured
		if len(shellCfg.DeniedCmds) == 0 {
			shellCfg.DeniedCmds = tools.DefaultShellExecConfig().DeniedCmds
		}
		shellExec := tools.NewShellExec(shellCfg)
		loop.Tools().SetShellExec(shellExec)
		logger.Info("shell exec enabled", "working_dir", cfg.ShellExec.WorkingDir)
	} else {
		logger.Info("shell exec disabled")
	}

	// Set up context providers for dynamic system prompt injection.
	// The archive provider pulls relevant past exchanges into the
	// prompt so the agent carries experiential context across sessions.
	archiveProvider := memory.NewArchiveContextProvider(archiveStore, 3, 4000, logger)
	contextProvider := agent.NewCompositeContextProvider(archiveProvider)
	loop.SetContextProvider(contextProvider)
	logger.Info("context providers initialized")

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, loop, rtr, logger)
	server.SetMemoryStore(mem)
	server.SetArchiveStore(archiveStore)

	// Start Ollama-compatible API server if configured
	var ollamaServer *api.OllamaServer
	if cfg.OllamaAPI.Enabled {
		port := cfg.OllamaAPI.Port
		if port == 0 {
			port = 11434 // Default Ollama port
		}
		ollamaServer = api.NewOllamaServer(cfg.OllamaAPI.Address, port, loop, logger)
		go func() {
			if err := ollamaServer.Start(context.Background()); err != nil {
				logger.Error("ollama API server failed", "error", err)
			}
		}()
	}

	// Start the session bridge, exposing this process's single live
	// conversation to external peers over a local socket/SSE surface.
	var bridgeAdapter *agentbridge.Adapter
	bridgeAdapter = agentbridge.New(loop, cfg, logger, func(text string) error {
		go func() {
			req := &agent.Request{
				Messages:       []agent.Message{{Role: "user", Content: text}},
				ConversationID: "bridge",
			}
			if _, err := loop.Run(context.Background(), req, bridgeAdapter.StreamCallback()); err != nil {
				logger.Error("bridge-injected prompt failed", "error", err)
			}
		}()
		return nil
	})
	bridgeController := bridge.NewController(bridgeAdapter, bridge.Config{
		Port:          cfg.Bridge.Port,
		QueueCapacity: cfg.Bridge.QueueCapacity,
	}, logger)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bridgeController.Start(ctx); err != nil {
		logger.Error("session bridge failed to start", "error", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutdown signal received")

		cancel()
		_ = server.Shutdown(context.Background())
		if ollamaServer != nil {
			_ = ollamaServer.Shutdown(context.Background())
		}
		_ = bridgeController.Stop(context.Background())
	}()

	// Start server
	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("Thane stopped")
}

// createLLMClient creates a multi-provider LLM client based on config.
// Routes each model to its configured provider. Falls back to Ollama for unknown models.
func createLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	ollamaURL := cfg.Models.OllamaURL
	if ollamaURL == "" {
		ollamaURL = "http://localhost:11434"
	}

	ollamaClient := llm.NewOllamaClient(ollamaURL, logger)
	multi := llm.NewMultiClient(ollamaClient)
	multi.AddProvider("ollama", ollamaClient)

	// Register Anthropic provider if configured
	if cfg.Anthropic.APIKey != "" {
		anthropicClient := llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger)
		multi.AddProvider("anthropic", anthropicClient)
		logger.Info("Anthropic provider configured")
	}

	// Map each model to its provider
	for _, m := range cfg.Models.Available {
		provider := m.Provider
		if provider == "" {
			provider = "ollama"
		}
		multi.AddModel(m.Name, provider)
	}

	// Log default model's provider
	defaultProvider := "ollama"
	for _, m := range cfg.Models.Available {
		if m.Name == cfg.Models.Default && m.Provider != "" {
			defaultProvider = m.Provider
		}
	}
	logger.Info("LLM client initialized", "default_model", cfg.Models.Default, "default_provider", defaultProvider)

	return multi
}
