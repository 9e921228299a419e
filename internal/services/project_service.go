// internal/services/project_service.go
package services

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/storage"
	"github.com/Corphon/StoryLoomMCP/internal/templates"
	"github.com/Corphon/StoryLoomMCP/internal/utils"
)

// ProjectSummary is the list-view shape: project metadata plus graph
// counts, without the graph itself.
type ProjectSummary struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	StoryCount     int       `json:"story_count"`
	SceneCount     int       `json:"scene_count"`
	CharacterCount int       `json:"character_count"`
	CreatedAt      time.Time `json:"created_at"`
	LastUpdated    time.Time `json:"last_updated"`
}

// ProjectService persists projects as JSON snapshots under
// data/projects/<id>/project.json. Loaded projects are cached;
// callers treat returned values as read-only and route every change
// through a copy-on-write operation followed by SaveProject.
type ProjectService struct {
	BasePath  string
	FileStore *storage.FileStorage

	projectLocks sync.Map // projectID -> *sync.RWMutex
	cacheMutex   sync.RWMutex
	projectCache map[string]*CachedProject
	listCache    *CachedProjectList
	cacheExpiry  time.Duration
	maxCacheSize int
}

// CachedProject is one cached project snapshot
type CachedProject struct {
	Project   *models.Project
	Timestamp time.Time
}

// CachedProjectList is the cached list view
type CachedProjectList struct {
	Summaries []ProjectSummary
	Timestamp time.Time
}

// NewProjectService creates the service rooted at basePath
func NewProjectService(basePath string) *ProjectService {
	if basePath == "" {
		basePath = "data/projects"
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		utils.GetLogger().Warn("Failed to create projects directory", map[string]interface{}{
			"path":  basePath,
			"error": err.Error(),
		})
	}

	fileStore, err := storage.NewFileStorage(basePath)
	if err != nil {
		utils.GetLogger().Warn("Failed to initialize project storage", map[string]interface{}{
			"error": err.Error(),
		})
		fileStore = nil
	}

	service := &ProjectService{
		BasePath:     basePath,
		FileStore:    fileStore,
		projectCache: make(map[string]*CachedProject),
		cacheExpiry:  5 * time.Minute,
		maxCacheSize: 100,
	}

	service.startCacheCleanup()

	return service
}

func (s *ProjectService) getProjectLock(projectID string) *sync.RWMutex {
	value, _ := s.projectLocks.LoadOrStore(projectID, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// CreateProject creates and persists a new project. With a template it
// instantiates the template's cast and stories under fresh ids;
// without one it seeds a minimal project holding a single story with a
// single (end-marked) scene, so the editor always opens on a valid
// graph.
func (s *ProjectService) CreateProject(name string, tmpl *templates.Template) (*models.Project, error) {
	var project *models.Project

	if tmpl != nil {
		project = tmpl.Instantiate()
		if strings.TrimSpace(name) != "" {
			project.Name = strings.TrimSpace(name)
		}
	} else {
		if strings.TrimSpace(name) == "" {
			return nil, apperrors.NewValidationError("project name must not be empty", nil)
		}
		project = models.NewProject(utils.MintID("project"), strings.TrimSpace(name))

		story := models.NewStory(utils.MintID("story"), "Main Story")
		story.AddScene(models.NewScene(utils.MintID("scene"), "Opening"))
		project.AddStory(story)
	}

	if err := s.SaveProject(project); err != nil {
		return nil, err
	}

	return project, nil
}

// GetProject loads a project by id, serving from cache when fresh.
// The returned value is shared with the cache; callers must not
// mutate it in place.
func (s *ProjectService) GetProject(projectID string) (*models.Project, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, apperrors.NewValidationError("project id must not be empty", nil)
	}

	s.cacheMutex.RLock()
	if cached, exists := s.projectCache[projectID]; exists {
		if time.Since(cached.Timestamp) < s.cacheExpiry {
			s.cacheMutex.RUnlock()
			return cached.Project, nil
		}
	}
	s.cacheMutex.RUnlock()

	lock := s.getProjectLock(projectID)
	lock.RLock()
	defer lock.RUnlock()

	// Another goroutine may have loaded it while we waited for the lock.
	s.cacheMutex.RLock()
	if cached, exists := s.projectCache[projectID]; exists {
		if time.Since(cached.Timestamp) < s.cacheExpiry {
			s.cacheMutex.RUnlock()
			return cached.Project, nil
		}
	}
	s.cacheMutex.RUnlock()

	if s.FileStore == nil {
		return nil, apperrors.NewStorageError("project storage not initialized", nil)
	}

	if !s.FileStore.FileExists(projectID, "project.json") {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("project %s does not exist", projectID), nil)
	}

	var project models.Project
	if err := s.FileStore.LoadJSONFile(projectID, "project.json", &project); err != nil {
		return nil, apperrors.NewStorageError("failed to load project", err)
	}

	s.cacheMutex.Lock()
	s.projectCache[projectID] = &CachedProject{
		Project:   &project,
		Timestamp: time.Now(),
	}
	s.cacheMutex.Unlock()

	return &project, nil
}

// ListProjects returns summaries for every stored project, newest
// changes first.
func (s *ProjectService) ListProjects() ([]ProjectSummary, error) {
	s.cacheMutex.RLock()
	if s.listCache != nil && time.Since(s.listCache.Timestamp) < s.cacheExpiry {
		summaries := s.listCache.Summaries
		s.cacheMutex.RUnlock()
		return summaries, nil
	}
	s.cacheMutex.RUnlock()

	if s.FileStore == nil {
		return nil, apperrors.NewStorageError("project storage not initialized", nil)
	}

	ids, err := s.FileStore.ListDirs("")
	if err != nil {
		return nil, apperrors.NewStorageError("failed to list projects", err)
	}

	summaries := make([]ProjectSummary, 0, len(ids))
	for _, id := range ids {
		project, err := s.GetProject(id)
		if err != nil {
			// A corrupt entry should not hide the rest of the list.
			utils.GetLogger().Warn("Skipping unreadable project", map[string]interface{}{
				"project_id": id,
				"error":      err.Error(),
			})
			continue
		}
		summaries = append(summaries, summarize(project))
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastUpdated.After(summaries[j].LastUpdated)
	})

	s.cacheMutex.Lock()
	s.listCache = &CachedProjectList{
		Summaries: summaries,
		Timestamp: time.Now(),
	}
	s.cacheMutex.Unlock()

	return summaries, nil
}

func summarize(project *models.Project) ProjectSummary {
	sceneCount := 0
	for _, story := range project.Stories {
		sceneCount += len(story.Scenes)
	}
	return ProjectSummary{
		ID:             project.ID,
		Name:           project.Name,
		StoryCount:     len(project.Stories),
		SceneCount:     sceneCount,
		CharacterCount: len(project.Characters),
		CreatedAt:      project.CreatedAt,
		LastUpdated:    project.LastUpdated,
	}
}

// SaveProject persists a full snapshot and refreshes the cache. The
// snapshot is stamped as just modified.
func (s *ProjectService) SaveProject(project *models.Project) error {
	if project == nil {
		return apperrors.NewValidationError("project must not be nil", nil)
	}
	if strings.TrimSpace(project.ID) == "" {
		return apperrors.NewValidationError("project id must not be empty", nil)
	}
	if s.FileStore == nil {
		return apperrors.NewStorageError("project storage not initialized", nil)
	}

	lock := s.getProjectLock(project.ID)
	lock.Lock()
	defer lock.Unlock()

	project.Touch()

	if err := s.FileStore.SaveJSONFile(project.ID, "project.json", project); err != nil {
		return apperrors.NewStorageError("failed to save project", err)
	}

	s.cacheMutex.Lock()
	s.projectCache[project.ID] = &CachedProject{
		Project:   project,
		Timestamp: time.Now(),
	}
	s.listCache = nil
	s.cacheMutex.Unlock()

	return nil
}

// UpdateProjectMeta renames a project without touching its graph
func (s *ProjectService) UpdateProjectMeta(projectID, name string) (*models.Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperrors.NewValidationError("project name must not be empty", nil)
	}

	project, err := s.GetProject(projectID)
	if err != nil {
		return nil, err
	}

	updated := project.Clone()
	updated.Name = strings.TrimSpace(name)

	if err := s.SaveProject(updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteProject removes a project and everything under its directory
func (s *ProjectService) DeleteProject(projectID string) error {
	if strings.TrimSpace(projectID) == "" {
		return apperrors.NewValidationError("project id must not be empty", nil)
	}
	if s.FileStore == nil {
		return apperrors.NewStorageError("project storage not initialized", nil)
	}

	lock := s.getProjectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	if !s.FileStore.DirExists(projectID) {
		return apperrors.NewNotFoundError(fmt.Sprintf("project %s does not exist", projectID), nil)
	}

	if err := s.FileStore.DeleteDir(projectID); err != nil {
		return apperrors.NewStorageError("failed to delete project", err)
	}

	s.invalidateProjectCache(projectID)
	s.projectLocks.Delete(projectID)

	return nil
}

// ProjectExists reports whether a stored project has the given id
func (s *ProjectService) ProjectExists(projectID string) bool {
	if s.FileStore == nil {
		return false
	}
	return s.FileStore.FileExists(projectID, "project.json")
}

func (s *ProjectService) invalidateProjectCache(projectID string) {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	delete(s.projectCache, projectID)
	s.listCache = nil
}

func (s *ProjectService) cleanupExpiredCache() {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	now := time.Now()
	for projectID, cached := range s.projectCache {
		if now.Sub(cached.Timestamp) > s.cacheExpiry {
			delete(s.projectCache, projectID)
		}
	}

	if s.listCache != nil && now.Sub(s.listCache.Timestamp) > s.cacheExpiry {
		s.listCache = nil
	}
}

func (s *ProjectService) enforceMaxCacheSize() {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	if len(s.projectCache) <= s.maxCacheSize {
		return
	}

	type cacheEntryWithTime struct {
		key       string
		timestamp time.Time
	}

	var entries []cacheEntryWithTime
	for key, entry := range s.projectCache {
		entries = append(entries, cacheEntryWithTime{key: key, timestamp: entry.Timestamp})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].timestamp.Before(entries[j].timestamp)
	})

	removeCount := len(entries) - s.maxCacheSize
	for i := 0; i < removeCount; i++ {
		delete(s.projectCache, entries[i].key)
	}
}

func (s *ProjectService) startCacheCleanup() {
	go func() {
		ticker := time.NewTicker(2 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			s.cleanupExpiredCache()
			s.enforceMaxCacheSize()
		}
	}()
}
