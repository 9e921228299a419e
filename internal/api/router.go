// internal/api/router.go
package api

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/Corphon/StoryLoomMCP/internal/config"
	"github.com/Corphon/StoryLoomMCP/internal/di"
	"github.com/Corphon/StoryLoomMCP/internal/services"
	"github.com/Corphon/StoryLoomMCP/internal/templates"
	"github.com/gin-gonic/gin"
)

// SetupRouter wires the HTTP routes. Services must already be
// registered in the DI container.
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	container := di.GetContainer()

	projectService, ok := container.Get("project").(*services.ProjectService)
	if !ok {
		return nil, fmt.Errorf("project service not initialized")
	}

	storyService, ok := container.Get("story").(*services.StoryService)
	if !ok {
		return nil, fmt.Errorf("story service not initialized")
	}

	generationService, ok := container.Get("generation").(*services.GenerationService)
	if !ok {
		return nil, fmt.Errorf("generation service not initialized")
	}

	exportService, ok := container.Get("export").(*services.ExportService)
	if !ok {
		return nil, fmt.Errorf("export service not initialized")
	}

	configService, ok := container.Get("config").(*services.ConfigService)
	if !ok {
		return nil, fmt.Errorf("config service not initialized")
	}

	statsService, ok := container.Get("stats").(*services.StatsService)
	if !ok {
		return nil, fmt.Errorf("stats service not initialized")
	}

	progressService, ok := container.Get("progress").(*services.ProgressService)
	if !ok {
		return nil, fmt.Errorf("progress service not initialized")
	}

	// Missing template directory means no starter templates
	templateFiles, _ := container.Get("templates").([]templates.TemplateFile)

	handler := NewHandler(
		projectService,
		storyService,
		generationService,
		exportService,
		configService,
		statsService,
		progressService,
		templateFiles,
	)

	r := gin.Default()

	r.Use(corsMiddleware())
	r.Use(RequestIDMiddleware())

	// HTTPS redirect behind a proxy (production)
	if !cfg.DebugMode {
		r.Use(func(c *gin.Context) {
			if c.Request.Header.Get("X-Forwarded-Proto") == "http" {
				c.Redirect(http.StatusPermanentRedirect,
					"https://"+c.Request.Host+c.Request.URL.Path)
				return
			}
			c.Next()
		})
	}

	// Static editor assets
	r.Static("/static", cfg.StaticDir)
	r.LoadHTMLGlob(filepath.Join(cfg.TemplatesDir, "*.html"))

	// ===============================
	// Pages
	// ===============================
	r.GET("/", handler.IndexPage)
	r.GET("/settings", handler.SettingsPage)

	// WebSocket progress push
	r.GET("/ws/generation/:taskId", handler.GenerationWebSocket)

	// ===============================
	// API routes
	// ===============================
	api := r.Group("/api")
	api.Use(DefaultRateLimit())
	{
		api.GET("/health", handler.GetHealth)
		api.GET("/metrics", handler.GetMetrics)
		api.GET("/templates", handler.GetTemplates)

		// ===============================
		// Projects and editing
		// ===============================
		projects := api.Group("/projects")
		{
			projects.GET("", handler.ListProjects)
			projects.POST("", handler.CreateProject)
			projects.GET("/:id", handler.GetProject)
			projects.PUT("/:id", handler.UpdateProject)
			projects.DELETE("/:id", handler.DeleteProject)

			// Doc round trip and downloads
			projects.GET("/:id/doc", handler.GetProjectDoc)
			projects.PUT("/:id/doc", handler.PutProjectDoc)
			projects.GET("/:id/export", handler.ExportProject)

			// Cast
			projects.POST("/:id/characters", handler.AddCharacter)
			projects.PUT("/:id/characters/:characterId", handler.UpdateCharacter)
			projects.DELETE("/:id/characters/:characterId", handler.DeleteCharacter)

			// Stories
			projects.POST("/:id/stories", handler.AddStory)
			projects.PUT("/:id/stories/:storyId", handler.RenameStory)
			projects.DELETE("/:id/stories/:storyId", handler.DeleteStory)
			projects.PUT("/:id/stories/:storyId/start-scene", handler.SetStartScene)

			// Scenes
			scenes := projects.Group("/:id/stories/:storyId/scenes")
			{
				scenes.POST("", handler.AddScene)
				scenes.PUT("/:sceneId", handler.UpdateScene)
				scenes.PUT("/:sceneId/items", handler.ReplaceSceneItems)
				scenes.DELETE("/:sceneId", handler.DeleteScene)
				scenes.POST("/:sceneId/expand", GenerationRateLimit(), handler.ExpandScene)
			}

			projects.POST("/:id/generate/story", GenerationRateLimit(), handler.GenerateStory)
		}

		// ===============================
		// Generation task state
		// ===============================
		generation := api.Group("/generation")
		{
			generation.GET("/:taskId", handler.GetGenerationTask)
			generation.GET("/:taskId/stream", handler.StreamGenerationProgress)
		}

		// ===============================
		// Settings
		// ===============================
		settingsGroup := api.Group("/settings")
		{
			settingsGroup.GET("", handler.GetSettings)
			settingsGroup.PUT("", handler.SaveSettings)
			settingsGroup.POST("/test", handler.TestConnection)
			settingsGroup.GET("/usage", handler.GetUsage)
		}

		// ===============================
		// WebSocket diagnostics
		// ===============================
		wsGroup := api.Group("/ws")
		{
			wsGroup.GET("/status", handler.GetWebSocketStatus)
			wsGroup.POST("/cleanup", handler.CleanupWebSocketConnections)
		}
	}

	return r, nil
}

// corsMiddleware implements cross-origin resource sharing
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
