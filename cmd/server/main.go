// cmd/server/main.go
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/Corphon/StoryLoomMCP/internal/api"
	"github.com/Corphon/StoryLoomMCP/internal/app"
	"github.com/Corphon/StoryLoomMCP/internal/config"
	"github.com/Corphon/StoryLoomMCP/internal/di"

	// Providers register themselves with the llm package on import.
	_ "github.com/Corphon/StoryLoomMCP/internal/llm/providers/anthropic"
	_ "github.com/Corphon/StoryLoomMCP/internal/llm/providers/githubmodels"
	_ "github.com/Corphon/StoryLoomMCP/internal/llm/providers/glm"
	_ "github.com/Corphon/StoryLoomMCP/internal/llm/providers/google"
	_ "github.com/Corphon/StoryLoomMCP/internal/llm/providers/grok"
	_ "github.com/Corphon/StoryLoomMCP/internal/llm/providers/openrouter"
	_ "github.com/Corphon/StoryLoomMCP/internal/llm/providers/qwen"
)

func main() {
	log.Println("🚀 starting StoryLoomMCP server...")

	// 1. Load the base configuration
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration failed: %v", err)
	}
	log.Printf("✅ base configuration loaded, port: %s", baseConfig.Port)

	// 2. Create the directory layout
	createDirectories(baseConfig)
	log.Println("✅ directory layout ready")

	// 3. Initialize the configuration system
	if err := config.InitConfig(baseConfig.DataDir); err != nil {
		log.Fatalf("initializing configuration failed: %v", err)
	}
	log.Println("✅ configuration system initialized")

	// 4. Initialize the dependency injection container
	container := di.GetContainer()
	log.Printf("✅ dependency container ready, services: %d", len(container.GetNames()))

	// 5. Initialize all services in dependency order
	if err := app.InitServices(); err != nil {
		log.Fatalf("initializing services failed: %v", err)
	}
	log.Println("✅ all services initialized")

	// 6. Verify the critical services before routing
	if err := performHealthCheck(); err != nil {
		log.Printf("⚠️ service health check warning: %v", err)
	}

	router, err := api.SetupRouter()
	if err != nil {
		log.Fatalf("❌ setting up routes failed: %v", err)
	}
	log.Println("✅ routes configured")

	// 7. Serve until interrupted
	log.Printf("🌐 server listening on port %s", baseConfig.Port)
	log.Printf("🔗 editor: http://localhost:%s", baseConfig.Port)
	log.Printf("🔗 settings: http://localhost:%s/settings", baseConfig.Port)

	if err := app.GetApp().Run(router); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

// performHealthCheck verifies that the critical services are registered
func performHealthCheck() error {
	container := di.GetContainer()

	criticalServices := []string{"llm", "project", "story", "generation", "config"}

	for _, serviceName := range criticalServices {
		if service := container.Get(serviceName); service == nil {
			return fmt.Errorf("critical service not registered: %s", serviceName)
		}
	}

	log.Println("✅ service health check passed")
	return nil
}

// createDirectories builds the directory layout the server expects
func createDirectories(cfg *config.Config) {
	dirs := []string{
		cfg.DataDir,
		filepath.Join(cfg.DataDir, "projects"),
		filepath.Join(cfg.DataDir, "stats"),
		cfg.StoryTemplatesDir,
		cfg.StaticDir,
		cfg.TemplatesDir,
		cfg.LogDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("creating directory %s failed: %v", dir, err)
		}
	}
}
