// internal/api/handlers.go
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Corphon/StoryLoomMCP/internal/config"
	"github.com/Corphon/StoryLoomMCP/internal/di"
	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/services"
	"github.com/Corphon/StoryLoomMCP/internal/templates"
	"github.com/Corphon/StoryLoomMCP/internal/utils"
	"github.com/gin-gonic/gin"
)

// Handler serves the editor API
type Handler struct {
	ProjectService    *services.ProjectService
	StoryService      *services.StoryService
	GenerationService *services.GenerationService
	ExportService     *services.ExportService
	ConfigService     *services.ConfigService
	StatsService      *services.StatsService
	ProgressService   *services.ProgressService
	Templates         []templates.TemplateFile
	WebSocketHandler  *WebSocketHandler
	Response          *ResponseHelper
}

// APIResponse is the standard response envelope
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError is the standard error shape inside the envelope
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// NewHandler creates the API handler
func NewHandler(
	projectService *services.ProjectService,
	storyService *services.StoryService,
	generationService *services.GenerationService,
	exportService *services.ExportService,
	configService *services.ConfigService,
	statsService *services.StatsService,
	progressService *services.ProgressService,
	templateFiles []templates.TemplateFile) *Handler {

	return &Handler{
		ProjectService:    projectService,
		StoryService:      storyService,
		GenerationService: generationService,
		ExportService:     exportService,
		ConfigService:     configService,
		StatsService:      statsService,
		ProgressService:   progressService,
		Templates:         templateFiles,
		WebSocketHandler:  NewWebSocketHandler(),
		Response:          NewResponseHelper(),
	}
}

// ========================================
// Pages
// ========================================

// IndexPage renders the editor shell
func (h *Handler) IndexPage(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"title": "StoryLoom",
	})
}

// SettingsPage renders the settings page
func (h *Handler) SettingsPage(c *gin.Context) {
	c.HTML(http.StatusOK, "settings.html", gin.H{
		"title": "StoryLoom Settings",
	})
}

// ========================================
// Health and metrics
// ========================================

// GetHealth reports service liveness and LLM readiness
func (h *Handler) GetHealth(c *gin.Context) {
	llmReady := false
	llmState := "unavailable"
	if llmService := h.getLLMService(); llmService != nil {
		llmReady = llmService.IsReady()
		llmState = llmService.GetReadyState()
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"llm": gin.H{
			"ready": llmReady,
			"state": llmState,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// GetMetrics reports editing and runtime counters
func (h *Handler) GetMetrics(c *gin.Context) {
	data := map[string]interface{}{
		"edits":   h.StoryService.Metrics(),
		"runtime": utils.GetMetricsCollector().Snapshot(),
	}
	h.Response.Success(c, data)
}

// ========================================
// Templates
// ========================================

// GetTemplates lists the loaded starter templates
func (h *Handler) GetTemplates(c *gin.Context) {
	list := make([]map[string]interface{}, 0, len(h.Templates))
	for _, tf := range h.Templates {
		list = append(list, map[string]interface{}{
			"id":              tf.Template.ID,
			"name":            tf.Template.Name,
			"description":     tf.Template.Description,
			"character_count": len(tf.Template.Characters),
			"story_count":     len(tf.Template.Stories),
		})
	}

	h.Response.Success(c, list)
}

// findTemplate looks up a loaded template by id
func (h *Handler) findTemplate(templateID string) *templates.Template {
	for i := range h.Templates {
		if h.Templates[i].Template.ID == templateID {
			return &h.Templates[i].Template
		}
	}
	return nil
}

// ========================================
// Projects
// ========================================

// ListProjects lists project summaries, newest first
func (h *Handler) ListProjects(c *gin.Context) {
	projects, err := h.ProjectService.ListProjects()
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.Success(c, projects)
}

// CreateProject creates a project, optionally from a starter template
func (h *Handler) CreateProject(c *gin.Context) {
	var req struct {
		Name       string `json:"name"`
		TemplateID string `json:"template_id"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	var tmpl *templates.Template
	if req.TemplateID != "" {
		tmpl = h.findTemplate(req.TemplateID)
		if tmpl == nil {
			h.Response.NotFound(c, "template", req.TemplateID)
			return
		}
	}

	project, err := h.ProjectService.CreateProject(req.Name, tmpl)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.Created(c, project, "project created")
}

// GetProject returns one full project
func (h *Handler) GetProject(c *gin.Context) {
	project, err := h.ProjectService.GetProject(c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.Success(c, project)
}

// UpdateProject renames a project
func (h *Handler) UpdateProject(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	project, err := h.ProjectService.UpdateProjectMeta(c.Param("id"), req.Name)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.Success(c, project, "project updated")
}

// DeleteProject removes a project and its files
func (h *Handler) DeleteProject(c *gin.Context) {
	if err := h.ProjectService.DeleteProject(c.Param("id")); err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.Success(c, nil, "project deleted")
}

// ========================================
// Doc import/export
// ========================================

// GetProjectDoc serializes the project to its Doc text
func (h *Handler) GetProjectDoc(c *gin.Context) {
	text, warnings, err := h.StoryService.ExportDoc(c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.Success(c, gin.H{
		"doc":      text,
		"warnings": warnings,
	})
}

// PutProjectDoc replaces the project's content from Doc text
func (h *Handler) PutProjectDoc(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	project, err := h.StoryService.ImportDoc(c.Param("id"), req.Text)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.Success(c, project, "document imported")
}

// ExportProject renders the project in a download format
func (h *Handler) ExportProject(c *gin.Context) {
	format := c.DefaultQuery("format", "doc")

	result, err := h.ExportService.ExportProject(c.Param("id"), format)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.ExportResponse(c, result)
}

// ========================================
// Characters
// ========================================

// AddCharacter adds a character to the project cast
func (h *Handler) AddCharacter(c *gin.Context) {
	var req struct {
		Name       string `json:"name" binding:"required"`
		Appearance string `json:"appearance"`
		Style      string `json:"style"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	character, err := h.StoryService.AddCharacter(c.Param("id"), req.Name, req.Appearance, req.Style)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.Created(c, character, "character added")
}

// UpdateCharacter edits a character's profile
func (h *Handler) UpdateCharacter(c *gin.Context) {
	var req struct {
		Name       string `json:"name" binding:"required"`
		Appearance string `json:"appearance"`
		Style      string `json:"style"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	character, err := h.StoryService.UpdateCharacter(
		c.Param("id"), c.Param("characterId"), req.Name, req.Appearance, req.Style)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.Success(c, character, "character updated")
}

// DeleteCharacter removes a character and its scene placements
func (h *Handler) DeleteCharacter(c *gin.Context) {
	if err := h.StoryService.DeleteCharacter(c.Param("id"), c.Param("characterId")); err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.Success(c, nil, "character removed")
}

// ========================================
// Stories
// ========================================

// AddStory adds a story with a seeded opening scene
func (h *Handler) AddStory(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	story, err := h.StoryService.AddStory(c.Param("id"), req.Name)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.Created(c, story, "story added")
}

// RenameStory renames a story
func (h *Handler) RenameStory(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	story, err := h.StoryService.RenameStory(c.Param("id"), c.Param("storyId"), req.Name)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.Success(c, story, "story renamed")
}

// DeleteStory removes a story; a project keeps at least one
func (h *Handler) DeleteStory(c *gin.Context) {
	if err := h.StoryService.DeleteStory(c.Param("id"), c.Param("storyId")); err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.Success(c, nil, "story deleted")
}

// SetStartScene changes which scene a story opens on
func (h *Handler) SetStartScene(c *gin.Context) {
	var req struct {
		SceneID string `json:"scene_id" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	if err := h.StoryService.SetStartScene(c.Param("id"), c.Param("storyId"), req.SceneID); err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.Success(c, nil, "start scene updated")
}

// ========================================
// Scenes
// ========================================

// AddScene appends an empty scene to a story
func (h *Handler) AddScene(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	scene, err := h.StoryService.AddScene(c.Param("id"), c.Param("storyId"), req.Name)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.Created(c, scene, "scene added")
}

// UpdateScene patches a scene's metadata; absent fields keep their value
func (h *Handler) UpdateScene(c *gin.Context) {
	var update services.SceneMetaUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	scene, err := h.StoryService.UpdateSceneMeta(
		c.Param("id"), c.Param("storyId"), c.Param("sceneId"), update)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.Success(c, scene, "scene updated")
}

// ReplaceSceneItems replaces a scene's dialogue sequence
func (h *Handler) ReplaceSceneItems(c *gin.Context) {
	var req struct {
		Items []models.DialogueItem `json:"items"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	scene, err := h.StoryService.ReplaceSceneItems(
		c.Param("id"), c.Param("storyId"), c.Param("sceneId"), req.Items)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.Success(c, scene, "scene items replaced")
}

// DeleteScene removes a scene; links into it become unassigned.
// Deleting a story's only scene is rejected with a conflict.
func (h *Handler) DeleteScene(c *gin.Context) {
	if err := h.StoryService.DeleteScene(c.Param("id"), c.Param("storyId"), c.Param("sceneId")); err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.Success(c, nil, "scene deleted")
}

// ========================================
// Generation
// ========================================

// GenerateStory starts a background story generation task
func (h *Handler) GenerateStory(c *gin.Context) {
	var req struct {
		Prompt    string `json:"prompt" binding:"required"`
		Length    string `json:"length"`
		Structure string `json:"structure"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	taskID, err := h.GenerationService.GenerateStory(c.Param("id"), req.Prompt, req.Length, req.Structure)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.Accepted(c, gin.H{"task_id": taskID}, "story generation started")
}

// ExpandScene starts a background branch expansion task
func (h *Handler) ExpandScene(c *gin.Context) {
	var req struct {
		Prompt string `json:"prompt" binding:"required"`
		Depth  int    `json:"depth"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	taskID, err := h.GenerationService.ExpandScene(
		c.Param("id"), c.Param("storyId"), c.Param("sceneId"), req.Prompt, req.Depth)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.Accepted(c, gin.H{"task_id": taskID}, "scene expansion started")
}

// GetGenerationTask returns the current state of a generation task
func (h *Handler) GetGenerationTask(c *gin.Context) {
	tracker, exists := h.ProgressService.GetTracker(c.Param("taskId"))
	if !exists {
		h.Response.NotFound(c, "task", c.Param("taskId"))
		return
	}

	h.Response.Success(c, tracker.Snapshot())
}

// StreamGenerationProgress streams task progress as server-sent events
func (h *Handler) StreamGenerationProgress(c *gin.Context) {
	taskID := c.Param("taskId")

	tracker, exists := h.ProgressService.GetTracker(taskID)
	if !exists {
		h.Response.NotFound(c, "task", taskID)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Transfer-Encoding", "chunked")

	clientGone := c.Request.Context().Done()

	updateChan := tracker.Subscribe()
	defer tracker.Unsubscribe(updateChan)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"task_id\":%q}\n\n", taskID)
	c.Writer.Flush()

	for {
		select {
		case <-clientGone:
			return
		case update, ok := <-updateChan:
			if !ok {
				return
			}
			data, _ := json.Marshal(update)
			fmt.Fprintf(c.Writer, "event: progress\ndata: %s\n\n", string(data))
			c.Writer.Flush()

			if update.Status == services.TaskStatusCompleted || update.Status == services.TaskStatusFailed {
				return
			}
		case <-ticker.C:
			fmt.Fprintf(c.Writer, "event: heartbeat\ndata: {\"time\":%d}\n\n", time.Now().Unix())
			c.Writer.Flush()
		}
	}
}

// GenerationWebSocket upgrades to the progress push socket
func (h *Handler) GenerationWebSocket(c *gin.Context) {
	h.WebSocketHandler.GenerationWebSocket(c)
}

// ========================================
// Settings
// ========================================

// GetSettings reports the current configuration without secrets
func (h *Handler) GetSettings(c *gin.Context) {
	cfg := config.GetCurrentConfig()

	llmConfig := make(map[string]interface{})
	if cfg.LLMConfig != nil {
		llmConfig["default_model"] = cfg.LLMConfig["default_model"]
		llmConfig["has_api_key"] = cfg.LLMConfig["api_key"] != ""
	}

	data := map[string]interface{}{
		"llm_provider": cfg.LLMProvider,
		"debug_mode":   cfg.DebugMode,
		"port":         cfg.Port,
		"llm_config":   llmConfig,
	}

	h.Response.Success(c, data)
}

// SaveSettings updates provider configuration and debug mode
func (h *Handler) SaveSettings(c *gin.Context) {
	var req struct {
		LLMProvider string            `json:"llm_provider"`
		LLMConfig   map[string]string `json:"llm_config"`
		DebugMode   *bool             `json:"debug_mode"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	if req.LLMProvider != "" && req.LLMConfig != nil {
		if err := h.ConfigService.UpdateLLMConfig(req.LLMProvider, req.LLMConfig, "web_api"); err != nil {
			h.Response.BadRequest(c, "llm configuration rejected", err.Error())
			return
		}

		if llmService := h.getLLMService(); llmService != nil {
			if err := llmService.UpdateProvider(req.LLMProvider, req.LLMConfig); err != nil {
				h.Response.Error(c, http.StatusPartialContent, ErrorLLMConfigInvalid,
					"configuration saved but the LLM service did not accept it", err.Error())
				return
			}
		}
	}

	if req.DebugMode != nil {
		if err := h.ConfigService.SetDebugMode(*req.DebugMode); err != nil {
			h.Response.InternalError(c, "failed to update debug mode", err.Error())
			return
		}
	}

	h.Response.Success(c, nil, "settings saved")
}

// TestConnection checks provider reachability, either for the posted
// candidate configuration or for the active one.
func (h *Handler) TestConnection(c *gin.Context) {
	var req struct {
		Provider string            `json:"provider"`
		Config   map[string]string `json:"config"`
	}
	// The body is optional; an empty body tests the active provider
	_ = c.ShouldBindJSON(&req)

	llmService := h.getLLMService()
	if llmService == nil {
		h.Response.InternalError(c, "llm service unavailable")
		return
	}

	provider := req.Provider
	providerConfig := req.Config
	if provider == "" {
		provider = llmService.GetProviderName()
		providerConfig = h.ConfigService.GetLLMConfig()
	}
	if provider == "" {
		h.Response.Error(c, http.StatusServiceUnavailable, ErrorLLMProviderMissing,
			"no provider configured", llmService.GetReadyState())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if err := llmService.TestProviderConnection(ctx, provider, providerConfig); err != nil {
		h.Response.Error(c, http.StatusServiceUnavailable, ErrorConnectionFailed,
			"connection test failed", err.Error())
		return
	}

	h.Response.Success(c, map[string]interface{}{
		"provider": provider,
		"status":   "connected",
		"test":     "passed",
	}, "connection test passed")
}

// GetUsage reports generation usage totals and recent calls
func (h *Handler) GetUsage(c *gin.Context) {
	summary, err := h.StatsService.UsageSummary()
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}

	h.Response.Success(c, summary)
}

// getLLMService fetches the LLM service from the container
func (h *Handler) getLLMService() *services.LLMService {
	container := di.GetContainer()
	llmService, ok := container.Get("llm").(*services.LLMService)
	if !ok {
		return nil
	}
	return llmService
}

// ========================================
// WebSocket diagnostics
// ========================================

// GetWebSocketStatus reports progress socket connections (debugging)
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	status := wsManager.GetStatus()
	status["ping_timeout_seconds"] = int(wsManager.pingTimeout.Seconds())
	status["timestamp"] = time.Now().Format(time.RFC3339)

	c.JSON(http.StatusOK, status)
}

// CleanupWebSocketConnections forces an expired-connection sweep
func (h *Handler) CleanupWebSocketConnections(c *gin.Context) {
	wsManager.cleanupExpiredConnections()
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "connection cleanup executed",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
