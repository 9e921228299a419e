// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Corphon/StoryLoomMCP/internal/config"
	"github.com/Corphon/StoryLoomMCP/internal/di"
	"github.com/Corphon/StoryLoomMCP/internal/services"
	"github.com/Corphon/StoryLoomMCP/internal/templates"
	"github.com/Corphon/StoryLoomMCP/internal/utils"
	"github.com/gin-gonic/gin"
)

// httpServer is the server surface the app lifecycle controls. Tests
// substitute an in-memory implementation.
type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App couples the configured router with the server lifecycle
type App struct {
	config   *config.AppConfig
	router   *gin.Engine
	server   httpServer
	stopChan chan os.Signal
}

var (
	instance   *App
	instanceMu sync.Mutex
)

// GetApp returns the process-wide application instance
func GetApp() *App {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance == nil {
		instance = &App{
			stopChan: make(chan os.Signal, 1),
		}
	}
	return instance
}

// initLogger attaches the application log file and adjusts verbosity
func initLogger(cfg *config.AppConfig) error {
	if err := utils.InitLogger(filepath.Join(cfg.LogDir, "server.log")); err != nil {
		return err
	}

	if cfg.DebugMode {
		utils.GetLogger().SetLogLevel(utils.DEBUG)
	}
	return nil
}

// InitServices builds every service in dependency order and registers
// it in the DI container. Call after config.InitConfig.
func InitServices() error {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()

	if err := initLogger(cfg); err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}

	// Configuration service first; everything else may read through it
	configService := services.NewConfigService()
	configService.StartCacheRefresher(30 * time.Second)
	container.Register("config", configService)

	// The LLM service starts without credentials too; generation
	// endpoints report not-ready until a provider is configured
	llmService, err := services.NewLLMService()
	if err != nil {
		utils.GetLogger().Warn("LLM service started without a provider",
			map[string]interface{}{"error": err.Error()})
		llmService = services.NewEmptyLLMService()
	}
	container.Register("llm", llmService)

	progressService := services.NewProgressService()
	container.Register("progress", progressService)

	// One lock manager shared by editing and generation, so a running
	// generation and a manual edit of the same project serialize
	lockManager := services.NewLockManager()
	container.Register("locks", lockManager)

	statsService, err := services.NewStatsService(filepath.Join(cfg.DataDir, "stats", "usage.db"))
	if err != nil {
		return fmt.Errorf("usage store init failed: %w", err)
	}
	container.Register("stats", statsService)

	projectService := services.NewProjectService(filepath.Join(cfg.DataDir, "projects"))
	container.Register("project", projectService)

	storyService := services.NewStoryService(projectService, lockManager)
	container.Register("story", storyService)

	generationService := services.NewGenerationService(
		llmService, projectService, storyService, progressService, statsService, lockManager)
	container.Register("generation", generationService)

	exportService := services.NewExportService(projectService)
	container.Register("export", exportService)

	templateFiles, err := templates.LoadTemplateDir(cfg.StoryTemplatesDir)
	if err != nil {
		utils.GetLogger().Warn("starter templates failed to load",
			map[string]interface{}{"dir": cfg.StoryTemplatesDir, "error": err.Error()})
		templateFiles = nil
	}
	container.Register("templates", templateFiles)

	// Reap finished generation trackers so the map stays bounded
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			progressService.CleanupCompletedTasks(time.Hour)
		}
	}()

	return nil
}

// Run serves the router until SIGINT or SIGTERM, then shuts down
// gracefully with a 30 second drain window.
func (a *App) Run(router *gin.Engine) error {
	a.config = config.GetCurrentConfig()
	a.router = router

	if a.server == nil {
		a.server = &http.Server{
			Addr:    ":" + a.config.Port,
			Handler: router,
		}
	}

	errChan := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	signal.Notify(a.stopChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	case <-a.stopChan:
	}

	log.Println("🛑 shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced server shutdown: %w", err)
	}

	a.cleanup()
	log.Println("✅ server stopped cleanly")
	return nil
}

// Stop asks a running app to shut down; used by tests and tooling
func (a *App) Stop() {
	select {
	case a.stopChan <- syscall.SIGTERM:
	default:
	}
}

// cleanup releases resources that hold file handles
func (a *App) cleanup() {
	container := di.GetContainer()

	if statsService, ok := container.Get("stats").(*services.StatsService); ok {
		if err := statsService.Close(); err != nil {
			log.Printf("⚠️ closing usage store: %v", err)
		}
	}

	if err := utils.GetLogger().Close(); err != nil {
		log.Printf("⚠️ closing logger: %v", err)
	}
}

// GetConfig returns the configuration the app was started with
func (a *App) GetConfig() *config.AppConfig {
	if a.config == nil {
		a.config = config.GetCurrentConfig()
	}
	return a.config
}

// GetDIContainer returns the service container
func (a *App) GetDIContainer() *di.Container {
	return di.GetContainer()
}

// IsDebugMode reports whether the app runs in debug mode
func (a *App) IsDebugMode() bool {
	return a.GetConfig().DebugMode
}
