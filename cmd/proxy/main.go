package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/command"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/command/handlers"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/failover"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/pipeline"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/ratelimit"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/redact"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/request"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/resolve"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/store"
	"github.com/ngoclaw/llm-interactive-proxy/internal/infrastructure/capture"
	"github.com/ngoclaw/llm-interactive-proxy/internal/infrastructure/config"
	httpserver "github.com/ngoclaw/llm-interactive-proxy/internal/interfaces/http"
	"github.com/ngoclaw/llm-interactive-proxy/internal/infrastructure/llm"
	_ "github.com/ngoclaw/llm-interactive-proxy/internal/infrastructure/llm/anthropic"
	_ "github.com/ngoclaw/llm-interactive-proxy/internal/infrastructure/llm/gemini"
	_ "github.com/ngoclaw/llm-interactive-proxy/internal/infrastructure/llm/openai"
	"github.com/ngoclaw/llm-interactive-proxy/internal/infrastructure/logger"
	"github.com/ngoclaw/llm-interactive-proxy/pkg/safego"
)

const (
	appName    = "llm-interactive-proxy"
	appVersion = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "proxy",
		Short: "Interactive LLM reverse proxy",
		Long:  "A reverse proxy that sits in front of multiple LLM backends, adding in-band session commands, failover, rate limiting, redaction, and loop detection to any OpenAI- or Anthropic-compatible client.",
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the proxy's HTTP and websocket surface",
		RunE:  runServe,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the proxy version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	log.Info("starting proxy", zap.String("version", appVersion))

	sessionStore, err := buildSessionStore(cfg, log)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}

	registry := llm.NewRegistry(log)
	var functionalBackends []string
	var redactKeys []string
	redactKeys = append(redactKeys, cfg.Redaction.ExtraKeys...)
	for _, b := range cfg.Backends {
		providerType := b.Name
		if providerType == "openrouter" {
			providerType = "openai"
		}
		provider, err := llm.CreateProvider(llm.ProviderConfig{
			Name:    b.Name,
			Type:    providerType,
			BaseURL: b.BaseURL,
			APIKey:  firstKey(b.APIKeys),
			Models:  b.Models,
		}, log)
		if err != nil {
			log.Warn("skipping unconfigurable backend", zap.String("backend", b.Name), zap.Error(err))
			continue
		}
		registry.Register(provider)
		functionalBackends = append(functionalBackends, b.Name)
		redactKeys = append(redactKeys, b.APIKeys...)
	}

	commandRegistry := buildCommandRegistry()

	var captureSink *capture.Adapter
	if cfg.Capture.Enabled {
		cap := capture.New(capture.Config{
			Enabled:        cfg.Capture.Enabled,
			Dir:            cfg.Capture.Dir,
			File:           cfg.Capture.File,
			MaxFileBytes:   cfg.Capture.MaxFileBytes,
			MaxTotalBytes:  cfg.Capture.MaxTotalBytes,
			MaxRotations:   cfg.Capture.MaxRotations,
			TruncateBytes:  cfg.Capture.TruncateBytes,
			RotateInterval: cfg.Capture.RotateInterval,
		})
		captureSink = capture.NewAdapter(cap)
	}

	keySource := newBackendKeySource(cfg)
	resolver := resolve.New(cfg.Command.Prefix)

	redactor := redact.New(redactKeys)
	redactor.SetPrefix(cfg.Command.Prefix)

	proc := &request.Processor{
		Store:                 sessionStore,
		Commands:              commandRegistry,
		Redactor:              redactor,
		RateLimiter:           ratelimit.New(cfg.RateLimit.DefaultLimit, cfg.RateLimit.DefaultWindow),
		KeySource:             keySource,
		Backend:               llm.NewBackendDispatcher(registry),
		Capture:               captureWriter(captureSink),
		ToolLoops:             pipeline.NewToolLoopRegistry(),
		EditPrecisionRegistry: pipeline.NewEditPrecisionRegistry(cfg.EditPrecision.PendingTTL),
		Resolver:              resolver,
		Config: request.Config{
			CommandPrefix:      cfg.Command.Prefix,
			FunctionalBackends: functionalBackends,
			DefaultBackend:     defaultBackend(cfg),
			DefaultModel:       defaultModel(cfg),
			RecoveryPrompt:     "Your previous reply was empty. Please answer the user's request.",
			AppName:            appName,
			AppVersion:         appVersion,
			SaveConfig:         nil,
			Identity:           request.Identity{Referer: "https://github.com/ngoclaw/llm-interactive-proxy", Title: appName},

			LoopMinPatternLength: cfg.Loop.MinPatternLength,
			LoopMaxPatternLength: cfg.Loop.MaxPatternLength,
			LoopRepeatThreshold:  cfg.Loop.RepeatThreshold,

			EditPrecisionEnabled: cfg.EditPrecision.Enabled,
			EditPrecisionLowTemp: cfg.EditPrecision.LowTemperature,
			EditPrecisionMinTopP: cfg.EditPrecision.MinTopP,

			ToolRepairEnabled: cfg.ToolRepair.Enabled,
		},
	}

	var fallbackModels []string
	for _, b := range cfg.Backends {
		fallbackModels = append(fallbackModels, b.Models...)
	}

	server := httpserver.NewServer(httpserver.Config{
		Host:          cfg.Gateway.Host,
		Port:          cfg.Gateway.Port,
		Mode:          "debug",
		AuthKeys:      cfg.Auth.Keys,
		CommandPrefix: cfg.Command.Prefix,
	}, proc, registry, resolver, commandRegistry, fallbackModels, log)

	if cfg.Command.RoutesFile != "" {
		watchRoutesFile(cfg.Command.RoutesFile, log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	log.Info("proxy stopped")
	return nil
}

// captureWriter returns a nil-safe request.CaptureWriter: when capture is
// disabled, sink is a nil *capture.Adapter, so the Processor must receive
// a genuinely nil interface value rather than a non-nil interface
// wrapping a nil pointer.
func captureWriter(sink *capture.Adapter) request.CaptureWriter {
	if sink == nil {
		return nil
	}
	return sink
}

func buildSessionStore(cfg *config.Config, log *zap.Logger) (store.SessionStore, error) {
	switch cfg.SessionStore.Backend {
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.SessionStore.DSN), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("open sqlite session store: %w", err)
		}
		return store.NewGormStore(db, log)
	default:
		return store.NewMemoryStore(), nil
	}
}

// buildCommandRegistry registers every handler in internal/domain/command/handlers
// (C4): the registry itself is passed to Help so `!/help` can enumerate
// every other handler.
func buildCommandRegistry() *command.Registry {
	reg := command.NewRegistry()
	reg.Register(handlers.Backend{})
	reg.Register(handlers.Model{})
	reg.Register(handlers.OneOff{})
	reg.Register(handlers.OpenAIURL{})
	reg.Register(handlers.CreateFailoverRoute{})
	reg.Register(handlers.DeleteFailoverRoute{})
	reg.Register(handlers.RouteAppend{})
	reg.Register(handlers.RoutePrepend{})
	reg.Register(handlers.RouteClear{})
	reg.Register(handlers.RouteList{})
	reg.Register(handlers.RouteExport{})
	reg.Register(handlers.RouteImport{})
	reg.Register(handlers.LoopDetection{})
	reg.Register(handlers.ToolLoopDetection{})
	reg.Register(handlers.ToolLoopMaxRepeats{})
	reg.Register(handlers.ToolLoopTTL{})
	reg.Register(handlers.ToolLoopMode{})
	reg.Register(handlers.Hello{})
	reg.Register(handlers.CommandPrefix{})
	reg.Register(handlers.Unset{})
	reg.Register(handlers.Project{})
	reg.Register(handlers.ProjectDir{})
	reg.Register(handlers.Pwd{})
	reg.Register(handlers.ReasoningEffort{})
	reg.Register(handlers.ThinkingBudget{})
	reg.Register(handlers.Temperature{})
	reg.Register(handlers.Set{})
	reg.Register(handlers.Help{Registry: reg})
	return reg
}

// backendKeySource implements failover.KeySource from the static backend
// config: each configured APIKeys entry becomes one named key
// ("<backend>-key0", "<backend>-key1", ...) in declaration order.
type backendKeySource struct {
	keys map[string][]failover.Key
}

func newBackendKeySource(cfg *config.Config) *backendKeySource {
	ks := &backendKeySource{keys: make(map[string][]failover.Key)}
	for _, b := range cfg.Backends {
		var entries []failover.Key
		for i, k := range b.APIKeys {
			entries = append(entries, failover.Key{Name: fmt.Sprintf("%s-key%d", b.Name, i), Value: k})
		}
		ks.keys[b.Name] = entries
	}
	return ks
}

func (k *backendKeySource) KeysForBackend(backend string) []failover.Key {
	return k.keys[backend]
}

var _ failover.KeySource = (*backendKeySource)(nil)

func defaultBackend(cfg *config.Config) string {
	if len(cfg.Backends) == 0 {
		return ""
	}
	return cfg.Backends[0].Name
}

func defaultModel(cfg *config.Config) string {
	if len(cfg.Backends) == 0 || len(cfg.Backends[0].Models) == 0 {
		return ""
	}
	return cfg.Backends[0].Models[0]
}

func firstKey(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

// watchRoutesFile keeps a log of external edits to the failover-route
// file. It does not load the file: routes are session-scoped, and no
// session's routes change when the file does.
func watchRoutesFile(path string, log *zap.Logger) {
	watcher, err := config.NewRouteFileWatcher(path, func(p string) {
		log.Info("failover routes file changed", zap.String("path", p))
	}, log)
	if err != nil {
		log.Warn("failed to start routes file watcher", zap.Error(err))
		return
	}
	safego.Go(log, "routes-file-watcher", func() {
		if err := watcher.Start(); err != nil {
			log.Warn("routes file watcher stopped", zap.Error(err))
		}
	})
}
