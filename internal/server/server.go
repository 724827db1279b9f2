// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it creates concrete implementations and
// injects them into the tools, prompts and resources that depend on them.
// No business logic lives here, only wiring.
package server

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/HendryAvila/membank/internal/config"
	"github.com/HendryAvila/membank/internal/corpus"
	"github.com/HendryAvila/membank/internal/engine"
	"github.com/HendryAvila/membank/internal/optimizer"
	"github.com/HendryAvila/membank/internal/prompts"
	"github.com/HendryAvila/membank/internal/resources"
	"github.com/HendryAvila/membank/internal/tokens"
	"github.com/HendryAvila/membank/internal/tools"
	"github.com/HendryAvila/membank/internal/transclusion"
	"github.com/HendryAvila/membank/internal/usage"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Bank is the assembled memory-bank stack shared by the MCP server and
// the CLI commands.
type Bank struct {
	Root   string
	Engine *engine.Engine

	// Usage is nil when tracking is disabled or failed to open.
	Usage *usage.Store

	log     *zap.Logger
	watcher *corpus.Watcher
	cancel  context.CancelFunc
}

// Open resolves the corpus root from cfg and builds the engine over it.
// Usage tracking is an independent subsystem: if it fails to initialize,
// a warning is logged and the bank works without access boosts. When
// watch is set and enabled in cfg, file changes invalidate cached state.
//
// Close must be called on shutdown; it is safe on a partially built Bank.
func Open(cfg *config.Config, log *zap.Logger, watch bool) (*Bank, error) {
	if log == nil {
		log = zap.NewNop()
	}

	root, err := memoryRoot(cfg)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("memory bank not found at %s (create it or set memory_dir in %s)", root, config.FileName)
	}

	b := &Bank{Root: root, log: log, cancel: func() {}}

	var rec engine.Recorder
	if cfg.Usage.Enabled {
		store, err := usage.New(usage.Config{DataDir: cfg.DataDir, MaxRuns: cfg.Usage.MaxRuns})
		if err != nil {
			log.Warn("usage tracking disabled", zap.Error(err))
		} else {
			b.Usage = store
			rec = store
		}
	}

	primary, err := tokens.ByName(cfg.Optimizer.Counter)
	if err != nil {
		b.Close()
		return nil, err
	}
	counter := tokens.WithFallback(primary, log)

	strategy, err := optimizer.ParseStrategy(cfg.Optimizer.Strategy)
	if err != nil {
		b.Close()
		return nil, err
	}

	b.Engine, err = engine.New(corpus.NewFileStore(root), counter, rec, engine.Config{
		Resolver: transclusion.Config{
			MaxDepth:  cfg.Resolver.MaxDepth,
			CacheSize: cfg.Resolver.CacheSize,
		},
		Optimizer: optimizer.Config{
			Strategy:     strategy,
			Threshold:    cfg.Optimizer.Threshold,
			SummaryLines: cfg.Optimizer.SummaryLines,
			Concurrency:  cfg.Optimizer.Concurrency,
			HalfLife:     cfg.HalfLife(),
		},
		Concurrency: cfg.Optimizer.Concurrency,
	}, log)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	if watch && cfg.Watch.Enabled {
		b.startWatcher(cfg)
	}

	log.Debug("memory bank opened",
		zap.String("root", root),
		zap.Bool("usage", b.Usage != nil),
		zap.Bool("watch", b.watcher != nil),
	)
	return b, nil
}

// startWatcher subscribes the engine to file changes. A watcher that
// cannot start only costs freshness: callers can still refresh explicitly.
func (b *Bank) startWatcher(cfg *config.Config) {
	w, err := corpus.NewWatcher(b.Root, cfg.Debounce(), b.log)
	if err != nil {
		b.log.Warn("file watching disabled", zap.Error(err))
		return
	}
	b.Engine.Watch(w)

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		cancel()
		w.Stop()
		b.log.Warn("file watching disabled", zap.Error(err))
		return
	}
	b.watcher = w
	b.cancel = cancel
}

// Close stops the watcher and closes the usage database.
func (b *Bank) Close() {
	b.cancel()
	if b.watcher != nil {
		b.watcher.Stop()
	}
	if b.Usage != nil {
		if err := b.Usage.Close(); err != nil {
			b.log.Warn("usage store close", zap.Error(err))
		}
	}
}

// memoryRoot returns the configured corpus root, or searches upward from
// the working directory for memory-bank/.
func memoryRoot(cfg *config.Config) (string, error) {
	if cfg.MemoryDir != "" {
		return cfg.MemoryDir, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return corpus.FindRoot(wd)
}

// New creates and configures the MCP server with all tools, prompts,
// and resources registered. This is the single place where all
// dependencies are resolved.
//
// The returned cleanup function stops the watcher and closes the usage
// database and must be called on shutdown (typically via defer).
// It is always non-nil.
func New(cfg *config.Config, log *zap.Logger) (*server.MCPServer, func(), error) {
	bank, err := Open(cfg, log, true)
	if err != nil {
		return nil, noop, err
	}
	return NewWithBank(bank), bank.Close, nil
}

// NewWithBank builds the MCP server over an already opened Bank.
func NewWithBank(bank *Bank) *server.MCPServer {
	s := server.NewMCPServer(
		"membank",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register tools ---

	graphTool := tools.NewGraphTool(bank.Engine)
	s.AddTool(graphTool.Definition(), graphTool.Handle)

	resolveTool := tools.NewResolveTool(bank.Engine)
	s.AddTool(resolveTool.Definition(), resolveTool.Handle)

	validateTool := tools.NewValidateLinksTool(bank.Engine)
	s.AddTool(validateTool.Definition(), validateTool.Handle)

	optimizeTool := tools.NewOptimizeTool(bank.Engine)
	s.AddTool(optimizeTool.Definition(), optimizeTool.Handle)

	readTool := tools.NewReadTool(bank.Engine)
	s.AddTool(readTool.Definition(), readTool.Handle)

	listTool := tools.NewListTool(bank.Engine)
	s.AddTool(listTool.Definition(), listTool.Handle)

	// Stats handles a nil usage store internally.
	statsTool := tools.NewStatsTool(bank.Engine, bank.Usage)
	s.AddTool(statsTool.Definition(), statsTool.Handle)

	// --- Register prompts ---

	loadPrompt := prompts.NewLoadPrompt()
	s.AddPrompt(loadPrompt.Definition(), loadPrompt.Handle)

	reviewPrompt := prompts.NewReviewPrompt()
	s.AddPrompt(reviewPrompt.Definition(), reviewPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(bank.Engine)
	s.AddResource(resourceHandler.GraphResource(), resourceHandler.HandleGraph)
	s.AddResourceTemplate(resourceHandler.DocumentTemplate(), resourceHandler.HandleDocument)

	return s
}

// noop is the cleanup returned when nothing was opened.
func noop() {}

// serverInstructions returns the system instructions that tell the AI
// how to use the memory bank effectively.
func serverInstructions() string {
	return `You have access to membank, a memory-bank context server.

The memory bank is a directory of markdown files that persists project
knowledge between sessions: projectbrief.md, productContext.md,
systemPatterns.md, techContext.md, activeContext.md, progress.md and any
number of feature documents. Documents reference each other with
[[wiki links]] and embed each other with ![[transclusions]].

## START OF EVERY TASK

Call memory_optimize_context with a short description of the task and a
token budget (8000 is a good default). Pass
mandatory=["projectbrief", "activeContext"] unless the user says otherwise.
Read the returned context before doing anything else. Do NOT read every
memory file one by one.

## DRILLING DOWN

- memory_read fetches one document, or one section, with transclusions expanded
- memory_resolve shows a fully expanded document and what it inlined
- memory_list shows what exists, in loading order

## STRUCTURE

- memory_dependency_graph shows how documents depend on each other
- memory_validate_links reports broken links, circular transclusions and cycles
- memory_stats shows cache effectiveness and the most used documents

## Transclusion syntax

  ![[doc]]                      whole document
  ![[doc#Heading]]              one section, up to the next heading of the same level
  ![[doc#Heading|lines=20]]     at most 20 lines of the section
  ![[doc|recursive=false]]      do not expand transclusions inside doc

When a result lists warnings (broken links, cycles, over budget),
mention them to the user in one line and suggest a fix.`
}
