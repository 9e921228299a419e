// internal/api/handlers_test.go
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/services"
	"github.com/Corphon/StoryLoomMCP/internal/templates"
	"github.com/gin-gonic/gin"
)

// envelope mirrors APIResponse with raw data for per-test decoding
type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
}

var starterTemplate = templates.Template{
	ID:          "tmpl_starter",
	Name:        "Two Scene Starter",
	Description: "A linear opening",
	Stories: []templates.TemplateStory{{
		Name: "Main",
		Scenes: []templates.TemplateScene{
			{Key: "open", Name: "Opening", Next: "close"},
			{Key: "close", Name: "Closing"},
		},
	}},
}

// newTestAPI wires a router over real services on a temp directory.
// Rate limiting, websockets and the settings write path stay unmounted;
// they either hold global state or need a live provider.
func newTestAPI(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	projectService := services.NewProjectService(t.TempDir())
	locks := services.NewLockManager()
	storyService := services.NewStoryService(projectService, locks)
	progressService := services.NewProgressService()

	handler := NewHandler(
		projectService,
		storyService,
		services.NewGenerationService(
			services.NewEmptyLLMService(), projectService, storyService, progressService, nil, locks),
		services.NewExportService(projectService),
		nil,
		nil,
		progressService,
		[]templates.TemplateFile{{Template: starterTemplate, Path: "starter.yaml"}},
	)

	r := gin.New()
	r.Use(RequestIDMiddleware())

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/health", handler.GetHealth)
		apiGroup.GET("/metrics", handler.GetMetrics)
		apiGroup.GET("/templates", handler.GetTemplates)

		projectRoutes := apiGroup.Group("/projects")
		{
			projectRoutes.GET("", handler.ListProjects)
			projectRoutes.POST("", handler.CreateProject)
			projectRoutes.GET("/:id", handler.GetProject)
			projectRoutes.PUT("/:id", handler.UpdateProject)
			projectRoutes.DELETE("/:id", handler.DeleteProject)

			projectRoutes.GET("/:id/doc", handler.GetProjectDoc)
			projectRoutes.PUT("/:id/doc", handler.PutProjectDoc)
			projectRoutes.GET("/:id/export", handler.ExportProject)

			projectRoutes.POST("/:id/characters", handler.AddCharacter)
			projectRoutes.PUT("/:id/characters/:characterId", handler.UpdateCharacter)
			projectRoutes.DELETE("/:id/characters/:characterId", handler.DeleteCharacter)

			projectRoutes.POST("/:id/stories", handler.AddStory)
			projectRoutes.PUT("/:id/stories/:storyId", handler.RenameStory)
			projectRoutes.DELETE("/:id/stories/:storyId", handler.DeleteStory)
			projectRoutes.PUT("/:id/stories/:storyId/start-scene", handler.SetStartScene)

			sceneRoutes := projectRoutes.Group("/:id/stories/:storyId/scenes")
			{
				sceneRoutes.POST("", handler.AddScene)
				sceneRoutes.PUT("/:sceneId", handler.UpdateScene)
				sceneRoutes.PUT("/:sceneId/items", handler.ReplaceSceneItems)
				sceneRoutes.DELETE("/:sceneId", handler.DeleteScene)
			}

			projectRoutes.POST("/:id/generate/story", handler.GenerateStory)
		}

		generationRoutes := apiGroup.Group("/generation")
		{
			generationRoutes.GET("/:taskId", handler.GetGenerationTask)
		}
	}

	return r
}

func performJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if strings.Contains(w.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func decodeData(t *testing.T, env envelope, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, target); err != nil {
		t.Fatalf("decode data: %v\n%s", err, env.Data)
	}
}

func createProjectViaAPI(t *testing.T, r *gin.Engine, name string) models.Project {
	t.Helper()
	w, env := performJSON(t, r, http.MethodPost, "/api/projects", gin.H{"name": name})
	if w.Code != http.StatusCreated {
		t.Fatalf("create project status = %d: %s", w.Code, w.Body.String())
	}
	var project models.Project
	decodeData(t, env, &project)
	return project
}

func TestProjectCRUDEnvelope(t *testing.T) {
	r := newTestAPI(t)

	w, env := performJSON(t, r, http.MethodPost, "/api/projects", gin.H{"name": "My Tale"})
	if w.Code != http.StatusCreated || !env.Success {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	if env.Message != "project created" || env.RequestID == "" {
		t.Errorf("envelope = %+v", env)
	}
	var project models.Project
	decodeData(t, env, &project)
	if !strings.HasPrefix(project.ID, "project_") || len(project.StoryOrder) != 1 {
		t.Errorf("project = %+v", project)
	}

	w, env = performJSON(t, r, http.MethodGet, "/api/projects", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var summaries []services.ProjectSummary
	decodeData(t, env, &summaries)
	if len(summaries) != 1 || summaries[0].Name != "My Tale" || summaries[0].SceneCount != 1 {
		t.Errorf("summaries = %+v", summaries)
	}

	w, env = performJSON(t, r, http.MethodPut, "/api/projects/"+project.ID, gin.H{"name": "Renamed"})
	if w.Code != http.StatusOK {
		t.Fatalf("rename = %d: %s", w.Code, w.Body.String())
	}
	decodeData(t, env, &project)
	if project.Name != "Renamed" {
		t.Errorf("name = %q", project.Name)
	}

	// The binding rejects an empty rename before the service runs.
	w, env = performJSON(t, r, http.MethodPut, "/api/projects/"+project.ID, gin.H{})
	if w.Code != http.StatusBadRequest || env.Error == nil || env.Error.Code != ErrorBadRequest {
		t.Errorf("empty rename = %d %+v", w.Code, env.Error)
	}

	w, _ = performJSON(t, r, http.MethodDelete, "/api/projects/"+project.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete = %d", w.Code)
	}
	w, env = performJSON(t, r, http.MethodGet, "/api/projects/"+project.ID, nil)
	if w.Code != http.StatusNotFound || env.Success || env.Error == nil {
		t.Errorf("get after delete = %d %+v", w.Code, env)
	}
}

func TestCreateProjectFromTemplateRoute(t *testing.T) {
	r := newTestAPI(t)

	w, env := performJSON(t, r, http.MethodPost, "/api/projects",
		gin.H{"template_id": "tmpl_starter"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", w.Code, w.Body.String())
	}
	var project models.Project
	decodeData(t, env, &project)
	if project.Name != "Two Scene Starter" {
		t.Errorf("name = %q, want template name", project.Name)
	}
	story := project.GetStory(project.StoryOrder[0])
	if len(story.Scenes) != 2 {
		t.Errorf("scenes = %d, want 2 from template", len(story.Scenes))
	}

	w, env = performJSON(t, r, http.MethodPost, "/api/projects",
		gin.H{"template_id": "tmpl_missing"})
	if w.Code != http.StatusNotFound || env.Error == nil || env.Error.Code != ErrorTemplateNotFound {
		t.Errorf("unknown template = %d %+v", w.Code, env.Error)
	}
}

func TestProjectNotFoundMapping(t *testing.T) {
	r := newTestAPI(t)

	w, env := performJSON(t, r, http.MethodGet, "/api/projects/project_missing", nil)
	if w.Code != http.StatusNotFound || env.Error == nil || env.Error.Code != "NOT_FOUND" {
		t.Errorf("get = %d %+v", w.Code, env.Error)
	}
	w, _ = performJSON(t, r, http.MethodDelete, "/api/projects/project_missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("delete = %d", w.Code)
	}
}

func TestCharacterRoutes(t *testing.T) {
	r := newTestAPI(t)
	project := createProjectViaAPI(t, r, "Cast Test")

	w, env := performJSON(t, r, http.MethodPost, "/api/projects/"+project.ID+"/characters",
		gin.H{"name": "Mira", "appearance": "tall", "style": "dry"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add = %d: %s", w.Code, w.Body.String())
	}
	var character models.Character
	decodeData(t, env, &character)
	if character.Name != "Mira" || character.DefaultSprite != "default" {
		t.Errorf("character = %+v", character)
	}

	w, env = performJSON(t, r, http.MethodPut,
		"/api/projects/"+project.ID+"/characters/"+character.ID,
		gin.H{"name": "Mira Vale"})
	if w.Code != http.StatusOK {
		t.Fatalf("update = %d: %s", w.Code, w.Body.String())
	}
	decodeData(t, env, &character)
	if character.Name != "Mira Vale" {
		t.Errorf("name = %q", character.Name)
	}

	w, _ = performJSON(t, r, http.MethodDelete,
		"/api/projects/"+project.ID+"/characters/"+character.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete = %d", w.Code)
	}
	w, _ = performJSON(t, r, http.MethodDelete,
		"/api/projects/"+project.ID+"/characters/"+character.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("double delete = %d", w.Code)
	}
}

func TestStoryAndSceneRoutes(t *testing.T) {
	r := newTestAPI(t)
	project := createProjectViaAPI(t, r, "Graph Test")
	storyID := project.StoryOrder[0]
	base := "/api/projects/" + project.ID + "/stories/" + storyID

	w, env := performJSON(t, r, http.MethodPost, base+"/scenes", gin.H{"name": "Second"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add scene = %d: %s", w.Code, w.Body.String())
	}
	var second models.Scene
	decodeData(t, env, &second)

	// Partial update: only the position moves.
	w, env = performJSON(t, r, http.MethodPut, base+"/scenes/"+second.ID,
		gin.H{"position": gin.H{"x": 120.0, "y": 80.0}})
	if w.Code != http.StatusOK {
		t.Fatalf("update scene = %d: %s", w.Code, w.Body.String())
	}
	var updated models.Scene
	decodeData(t, env, &updated)
	if updated.Position.X != 120 || updated.Position.Y != 80 || updated.Name != "Second" {
		t.Errorf("scene = %+v", updated)
	}

	w, _ = performJSON(t, r, http.MethodPut, base+"/start-scene", gin.H{"scene_id": second.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("set start = %d", w.Code)
	}
	w, env = performJSON(t, r, http.MethodPut, base+"/start-scene", gin.H{"scene_id": "scene_missing"})
	if w.Code != http.StatusNotFound || env.Error.Code != "NOT_FOUND" {
		t.Errorf("bad start = %d %+v", w.Code, env.Error)
	}

	w, _ = performJSON(t, r, http.MethodDelete, base+"/scenes/"+second.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete scene = %d", w.Code)
	}

	// The last scene of a story is protected with a conflict.
	startID := project.GetStory(storyID).StartSceneID
	w, env = performJSON(t, r, http.MethodDelete, base+"/scenes/"+startID, nil)
	if w.Code != http.StatusConflict || env.Error == nil || env.Error.Code != "PRECONDITION_FAILED" {
		t.Errorf("last scene delete = %d %+v", w.Code, env.Error)
	}

	// Same rule for the last story of a project.
	w, env = performJSON(t, r, http.MethodDelete, base, nil)
	if w.Code != http.StatusConflict || env.Error.Code != "PRECONDITION_FAILED" {
		t.Errorf("last story delete = %d %+v", w.Code, env.Error)
	}

	w, env = performJSON(t, r, http.MethodPost, "/api/projects/"+project.ID+"/stories",
		gin.H{"name": "Side"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add story = %d", w.Code)
	}
	var side models.Story
	decodeData(t, env, &side)
	w, _ = performJSON(t, r, http.MethodPut,
		"/api/projects/"+project.ID+"/stories/"+side.ID, gin.H{"name": "Side B"})
	if w.Code != http.StatusOK {
		t.Fatalf("rename story = %d", w.Code)
	}
	w, _ = performJSON(t, r, http.MethodDelete,
		"/api/projects/"+project.ID+"/stories/"+side.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete story = %d", w.Code)
	}
}

func TestReplaceSceneItemsRoute(t *testing.T) {
	r := newTestAPI(t)
	project := createProjectViaAPI(t, r, "Items Test")
	storyID := project.StoryOrder[0]
	sceneID := project.GetStory(storyID).StartSceneID
	path := "/api/projects/" + project.ID + "/stories/" + storyID + "/scenes/" + sceneID + "/items"

	valid := gin.H{"items": []models.DialogueItem{
		models.NewNarrationItem("A new opening."),
		models.NewEndItem(),
	}}
	w, env := performJSON(t, r, http.MethodPut, path, valid)
	if w.Code != http.StatusOK {
		t.Fatalf("replace = %d: %s", w.Code, w.Body.String())
	}
	var scene models.Scene
	decodeData(t, env, &scene)
	if len(scene.Items) != 2 || scene.Items[0].Text != "A new opening." {
		t.Errorf("items = %+v", scene.Items)
	}

	broken := gin.H{"items": []models.DialogueItem{
		models.NewTransitionItem("scene_nowhere"),
	}}
	w, env = performJSON(t, r, http.MethodPut, path, broken)
	if w.Code != http.StatusBadRequest || env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("broken target = %d %+v", w.Code, env.Error)
	}
}

func TestDocRoutes(t *testing.T) {
	r := newTestAPI(t)
	project := createProjectViaAPI(t, r, "Doc Test")

	w, env := performJSON(t, r, http.MethodGet, "/api/projects/"+project.ID+"/doc", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get doc = %d", w.Code)
	}
	var docPayload struct {
		Doc      string        `json:"doc"`
		Warnings []interface{} `json:"warnings"`
	}
	decodeData(t, env, &docPayload)
	if !strings.Contains(docPayload.Doc, "# STORY:") || !strings.Contains(docPayload.Doc, "## SCENE: Opening") {
		t.Errorf("doc = %q", docPayload.Doc)
	}

	// Editing the text and putting it back lands in the graph.
	edited := strings.Replace(docPayload.Doc, "## SCENE: Opening", "## SCENE: Prologue", 1)
	w, env = performJSON(t, r, http.MethodPut, "/api/projects/"+project.ID+"/doc", gin.H{"text": edited})
	if w.Code != http.StatusOK {
		t.Fatalf("put doc = %d: %s", w.Code, w.Body.String())
	}
	var updated models.Project
	decodeData(t, env, &updated)
	story := updated.GetStory(updated.StoryOrder[0])
	if scene := story.GetScene(story.StartSceneID); scene == nil || scene.Name != "Prologue" {
		t.Errorf("scene after import = %+v", scene)
	}

	// A doc with no stories cannot replace the project.
	w, env = performJSON(t, r, http.MethodPut, "/api/projects/"+project.ID+"/doc",
		gin.H{"text": "=== CHARACTERS ===\n"})
	if w.Code != http.StatusBadRequest || env.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("empty doc = %d %+v", w.Code, env.Error)
	}

	// The text field itself is required.
	w, env = performJSON(t, r, http.MethodPut, "/api/projects/"+project.ID+"/doc", gin.H{})
	if w.Code != http.StatusBadRequest || env.Error.Code != ErrorBadRequest {
		t.Errorf("missing text = %d %+v", w.Code, env.Error)
	}
}

func TestExportRoute(t *testing.T) {
	r := newTestAPI(t)
	project := createProjectViaAPI(t, r, "Export Test")

	req := httptest.NewRequest(http.MethodGet, "/api/projects/"+project.ID+"/export?format=json", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("export = %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "attachment; filename=") {
		t.Errorf("disposition = %q", w.Header().Get("Content-Disposition"))
	}
	if !strings.Contains(w.Header().Get("Content-Type"), "application/json") {
		t.Errorf("content type = %q", w.Header().Get("Content-Type"))
	}
	var exported models.Project
	if err := json.Unmarshal(w.Body.Bytes(), &exported); err != nil {
		t.Fatalf("export body not json: %v", err)
	}
	if exported.ID != project.ID {
		t.Errorf("exported id = %q", exported.ID)
	}

	w2, env := performJSON(t, r, http.MethodGet, "/api/projects/"+project.ID+"/export?format=pdf", nil)
	if w2.Code != http.StatusBadRequest || env.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("bad format = %d %+v", w2.Code, env.Error)
	}
}

func TestGenerationTaskRoutes(t *testing.T) {
	r := newTestAPI(t)
	project := createProjectViaAPI(t, r, "Generation Test")

	// Prompt binding runs before any provider is touched.
	w, env := performJSON(t, r, http.MethodPost,
		"/api/projects/"+project.ID+"/generate/story", gin.H{})
	if w.Code != http.StatusBadRequest || env.Error.Code != ErrorBadRequest {
		t.Errorf("missing prompt = %d %+v", w.Code, env.Error)
	}

	w, env = performJSON(t, r, http.MethodGet, "/api/generation/task_missing", nil)
	if w.Code != http.StatusNotFound || env.Error == nil || env.Error.Code != ErrorTaskNotFound {
		t.Errorf("missing task = %d %+v", w.Code, env.Error)
	}
}

func TestTemplatesRoute(t *testing.T) {
	r := newTestAPI(t)

	w, env := performJSON(t, r, http.MethodGet, "/api/templates", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("templates = %d", w.Code)
	}
	var list []map[string]interface{}
	decodeData(t, env, &list)
	if len(list) != 1 || list[0]["id"] != "tmpl_starter" || list[0]["story_count"] != float64(1) {
		t.Errorf("list = %+v", list)
	}
}

func TestHealthRoute(t *testing.T) {
	r := newTestAPI(t)

	w, _ := performJSON(t, r, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health = %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
	if _, present := body["llm"]; !present {
		t.Error("llm readiness missing")
	}
}

func TestMetricsRoute(t *testing.T) {
	r := newTestAPI(t)
	project := createProjectViaAPI(t, r, "Metrics Test")

	if w, _ := performJSON(t, r, http.MethodPost, "/api/projects/"+project.ID+"/characters",
		gin.H{"name": "Mira"}); w.Code != http.StatusCreated {
		t.Fatalf("edit = %d", w.Code)
	}

	w, env := performJSON(t, r, http.MethodGet, "/api/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics = %d", w.Code)
	}
	var data map[string]map[string]interface{}
	decodeData(t, env, &data)
	if data["edits"]["total_edits"] != float64(1) {
		t.Errorf("edits = %+v", data["edits"])
	}
}
