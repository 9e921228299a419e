// internal/services/story_service.go
package services

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/storydoc"
	"github.com/Corphon/StoryLoomMCP/internal/storygraph"
	"github.com/Corphon/StoryLoomMCP/internal/utils"
)

// StoryService implements the editing operations on the narrative
// graph. Every mutation runs under the project's write lock and
// follows the same shape: load, clone, change the clone, persist the
// clone. Readers holding the previous snapshot are never affected.
type StoryService struct {
	Projects *ProjectService
	locks    *LockManager
	metrics  *EditMetrics
}

// SceneMetaUpdate carries a partial scene-metadata change. Nil fields
// keep the stored value; a non-nil empty string clears it. A non-nil
// Characters slice replaces the placement list outright.
type SceneMetaUpdate struct {
	Name        *string                     `json:"name,omitempty"`
	Description *string                     `json:"description,omitempty"`
	Background  *string                     `json:"background,omitempty"`
	Position    *models.Position            `json:"position,omitempty"`
	Characters  []models.CharacterPlacement `json:"characters,omitempty"`
}

// NewStoryService creates the editing service. A nil lock manager gets
// a private one; sharing one instance with the generation service is
// what makes editing and generation exclusive per project.
func NewStoryService(projects *ProjectService, locks *LockManager) *StoryService {
	if projects == nil {
		panic("story service requires a project service")
	}
	if locks == nil {
		locks = NewLockManager()
	}
	return &StoryService{
		Projects: projects,
		locks:    locks,
		metrics:  NewEditMetrics(),
	}
}

// mutateProject runs one read-clone-write cycle under the project lock
func (s *StoryService) mutateProject(projectID, op string, fn func(project *models.Project) error) (*models.Project, error) {
	start := time.Now()
	var result *models.Project

	err := s.locks.ExecuteWithProjectLock(projectID, func() error {
		project, err := s.Projects.GetProject(projectID)
		if err != nil {
			return err
		}

		updated := project.Clone()
		if err := fn(updated); err != nil {
			return err
		}

		if err := s.Projects.SaveProject(updated); err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordEdit(op, time.Since(start))
	return result, nil
}

func storyOf(project *models.Project, storyID string) (*models.Story, error) {
	story := project.GetStory(storyID)
	if story == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("story %s does not exist", storyID), nil)
	}
	return story, nil
}

// ---- Characters ----

// AddCharacter adds a cast member with a default sprite variant
func (s *StoryService) AddCharacter(projectID, name, appearance, style string) (*models.Character, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperrors.NewValidationError("character name must not be empty", nil)
	}

	var character *models.Character
	_, err := s.mutateProject(projectID, "character_add", func(project *models.Project) error {
		character = &models.Character{
			ID:         utils.MintID("char"),
			Name:       strings.TrimSpace(name),
			Appearance: appearance,
			Style:      style,
		}
		character.AddSprite(models.SpriteVariant{ID: "default"})
		project.AddCharacter(character)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return character, nil
}

// UpdateCharacter replaces a cast member's descriptive fields
func (s *StoryService) UpdateCharacter(projectID, characterID, name, appearance, style string) (*models.Character, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperrors.NewValidationError("character name must not be empty", nil)
	}

	var character *models.Character
	_, err := s.mutateProject(projectID, "character_update", func(project *models.Project) error {
		character = project.GetCharacter(characterID)
		if character == nil {
			return apperrors.NewNotFoundError(fmt.Sprintf("character %s does not exist", characterID), nil)
		}
		character.Name = strings.TrimSpace(name)
		character.Appearance = appearance
		character.Style = style
		return nil
	})
	if err != nil {
		return nil, err
	}
	return character, nil
}

// DeleteCharacter removes a cast member and strips their stage
// placements from every scene. Speaker ids on dialogue lines are left
// alone; the doc format tolerates unknown speakers, so the lines stay
// editable instead of silently losing their attribution.
func (s *StoryService) DeleteCharacter(projectID, characterID string) error {
	_, err := s.mutateProject(projectID, "character_delete", func(project *models.Project) error {
		if project.GetCharacter(characterID) == nil {
			return apperrors.NewNotFoundError(fmt.Sprintf("character %s does not exist", characterID), nil)
		}
		project.RemoveCharacter(characterID)

		for _, story := range project.Stories {
			for _, scene := range story.Scenes {
				kept := scene.Characters[:0]
				for _, placement := range scene.Characters {
					if placement.CharacterID != characterID {
						kept = append(kept, placement)
					}
				}
				scene.Characters = kept
			}
		}
		return nil
	})
	return err
}

// ---- Stories ----

// AddStory adds a story seeded with one end-marked scene, keeping the
// never-empty-story invariant from the moment it exists.
func (s *StoryService) AddStory(projectID, name string) (*models.Story, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperrors.NewValidationError("story name must not be empty", nil)
	}

	var story *models.Story
	_, err := s.mutateProject(projectID, "story_add", func(project *models.Project) error {
		story = models.NewStory(utils.MintID("story"), strings.TrimSpace(name))
		story.AddScene(models.NewScene(utils.MintID("scene"), "Opening"))
		project.AddStory(story)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return story, nil
}

// RenameStory changes a story's display name
func (s *StoryService) RenameStory(projectID, storyID, name string) (*models.Story, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperrors.NewValidationError("story name must not be empty", nil)
	}

	var story *models.Story
	_, err := s.mutateProject(projectID, "story_rename", func(project *models.Project) error {
		var err error
		story, err = storyOf(project, storyID)
		if err != nil {
			return err
		}
		story.Name = strings.TrimSpace(name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return story, nil
}

// DeleteStory removes a story. The last story is protected the same
// way the last scene of a story is.
func (s *StoryService) DeleteStory(projectID, storyID string) error {
	_, err := s.mutateProject(projectID, "story_delete", func(project *models.Project) error {
		if _, err := storyOf(project, storyID); err != nil {
			return err
		}
		if len(project.Stories) == 1 {
			return apperrors.NewPreconditionError("a project must keep at least one story", nil)
		}
		project.RemoveStory(storyID)
		return nil
	})
	return err
}

// ---- Scenes ----

// AddScene adds an end-marked scene to a story
func (s *StoryService) AddScene(projectID, storyID, name string) (*models.Scene, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperrors.NewValidationError("scene name must not be empty", nil)
	}

	var scene *models.Scene
	_, err := s.mutateProject(projectID, "scene_add", func(project *models.Project) error {
		story, err := storyOf(project, storyID)
		if err != nil {
			return err
		}
		scene = models.NewScene(utils.MintID("scene"), strings.TrimSpace(name))
		story.AddScene(scene)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scene, nil
}

// UpdateSceneMeta applies a partial metadata change to a scene
func (s *StoryService) UpdateSceneMeta(projectID, storyID, sceneID string, update SceneMetaUpdate) (*models.Scene, error) {
	var scene *models.Scene
	_, err := s.mutateProject(projectID, "scene_update", func(project *models.Project) error {
		story, err := storyOf(project, storyID)
		if err != nil {
			return err
		}
		scene = story.GetScene(sceneID)
		if scene == nil {
			return apperrors.NewNotFoundError(fmt.Sprintf("scene %s does not exist", sceneID), nil)
		}

		if update.Name != nil {
			if strings.TrimSpace(*update.Name) == "" {
				return apperrors.NewValidationError("scene name must not be empty", nil)
			}
			scene.Name = strings.TrimSpace(*update.Name)
		}
		if update.Description != nil {
			scene.Description = *update.Description
		}
		if update.Background != nil {
			scene.Background = *update.Background
		}
		if update.Position != nil {
			scene.Position = *update.Position
		}
		if update.Characters != nil {
			if err := validatePlacements(project, update.Characters); err != nil {
				return err
			}
			scene.Characters = update.Characters
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scene, nil
}

func validatePlacements(project *models.Project, placements []models.CharacterPlacement) error {
	for _, placement := range placements {
		if project.GetCharacter(placement.CharacterID) == nil {
			return apperrors.NewValidationError(
				fmt.Sprintf("placement references unknown character %s", placement.CharacterID), nil)
		}
		if !models.ValidScreenPosition(string(placement.Position)) {
			return apperrors.NewValidationError(
				fmt.Sprintf("invalid screen position %q", placement.Position), nil)
		}
	}
	return nil
}

// ReplaceSceneItems swaps a scene's dialogue sequence for a new one.
// The sequence may carry at most one outcome item and it must be the
// last entry; intra-story targets must resolve within the story.
// Targets nulled by an earlier deletion stay legal.
func (s *StoryService) ReplaceSceneItems(projectID, storyID, sceneID string, items []models.DialogueItem) (*models.Scene, error) {
	var scene *models.Scene
	_, err := s.mutateProject(projectID, "scene_items", func(project *models.Project) error {
		story, err := storyOf(project, storyID)
		if err != nil {
			return err
		}
		scene = story.GetScene(sceneID)
		if scene == nil {
			return apperrors.NewNotFoundError(fmt.Sprintf("scene %s does not exist", sceneID), nil)
		}
		if err := validateItems(story, items); err != nil {
			return err
		}
		scene.Items = models.CloneItems(items)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scene, nil
}

func validateItems(story *models.Story, items []models.DialogueItem) error {
	if count := models.CountOutcomes(items); count > 1 {
		return apperrors.NewValidationError(
			fmt.Sprintf("a scene may carry at most one outcome item, got %d", count), nil)
	}
	for i, item := range items {
		if item.IsOutcome() && i != len(items)-1 {
			return apperrors.NewValidationError("the outcome item must be the last item of the scene", nil)
		}
		switch item.Type {
		case models.ItemTransition:
			if err := checkTarget(story, item.NextSceneID, item.NextStoryID); err != nil {
				return err
			}
		case models.ItemChoice:
			if len(item.Options) == 0 {
				return apperrors.NewValidationError("a choice item needs at least one option", nil)
			}
			for _, option := range item.Options {
				if err := checkTarget(story, option.NextSceneID, option.NextStoryID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// checkTarget enforces intra-story reference integrity. Empty targets
// (broken links from deletions) and cross-story pointers pass through.
func checkTarget(story *models.Story, sceneID, storyID string) error {
	if sceneID == "" || storyID != "" {
		return nil
	}
	if !story.HasScene(sceneID) {
		return apperrors.NewValidationError(
			fmt.Sprintf("outcome targets unknown scene %s", sceneID), nil)
	}
	return nil
}

// DeleteScene removes a scene through the reference-repairing cascade.
// Deleting the last scene of a story fails with a precondition error.
func (s *StoryService) DeleteScene(projectID, storyID, sceneID string) error {
	_, err := s.mutateProject(projectID, "scene_delete", func(project *models.Project) error {
		story, err := storyOf(project, storyID)
		if err != nil {
			return err
		}
		updated, err := storygraph.DeleteScene(story, sceneID)
		if err != nil {
			return err
		}
		project.Stories[storyID] = updated
		return nil
	})
	return err
}

// SetStartScene designates the story's start node
func (s *StoryService) SetStartScene(projectID, storyID, sceneID string) error {
	_, err := s.mutateProject(projectID, "scene_set_start", func(project *models.Project) error {
		story, err := storyOf(project, storyID)
		if err != nil {
			return err
		}
		if !story.HasScene(sceneID) {
			return apperrors.NewNotFoundError(fmt.Sprintf("scene %s does not exist", sceneID), nil)
		}
		story.StartSceneID = sceneID
		return nil
	})
	return err
}

// ---- Splicing ----

// SpliceFragment merges a fragment into a story at the attachment
// scene. The fragment is passed through the plan validator first, so a
// fragment pointing outside itself is repaired rather than installed
// broken.
func (s *StoryService) SpliceFragment(projectID, storyID, attachmentSceneID string, frag storygraph.Fragment) (*models.Story, error) {
	if len(frag.Scenes) == 0 {
		return nil, apperrors.NewValidationError("fragment contains no scenes", nil)
	}

	var story *models.Story
	_, err := s.mutateProject(projectID, "scene_splice", func(project *models.Project) error {
		current, err := storyOf(project, storyID)
		if err != nil {
			return err
		}
		if !current.HasScene(attachmentSceneID) {
			return apperrors.NewNotFoundError(
				fmt.Sprintf("attachment scene %s does not exist", attachmentSceneID), nil)
		}

		repairFragment(&frag)

		story = storygraph.Splice(current, attachmentSceneID, frag)
		project.Stories[storyID] = story
		return nil
	})
	if err != nil {
		return nil, err
	}
	return story, nil
}

// repairFragment closes the fragment over its own temp ids: scene
// outcomes go through the plan validator, then the entry and the
// connection edges get the same repair rule. The entry falls back into
// the fragment's first scene; a connection with no surviving target
// ends the story instead.
func repairFragment(frag *storygraph.Fragment) {
	planned := make([]storygraph.PlannedScene, 0, len(frag.Scenes))
	tempIDs := make(map[string]bool, len(frag.Scenes))
	for _, fragScene := range frag.Scenes {
		if fragScene.Scene == nil {
			continue
		}
		outcome, ok := fragScene.Scene.Outcome()
		if !ok {
			outcome = models.NewEndItem()
		}
		planned = append(planned, storygraph.PlannedScene{
			ID:      fragScene.TempID,
			Outcome: outcome,
		})
		tempIDs[fragScene.TempID] = true
	}

	planned = storygraph.ValidatePlan(planned)

	repaired := make(map[string]models.DialogueItem, len(planned))
	for _, p := range planned {
		repaired[p.ID] = p.Outcome
	}

	for _, fragScene := range frag.Scenes {
		if fragScene.Scene == nil {
			continue
		}
		outcome, ok := repaired[fragScene.TempID]
		if !ok {
			continue
		}
		if idx := fragScene.Scene.OutcomeIndex(); idx >= 0 {
			fragScene.Scene.Items[idx] = outcome
		} else {
			fragScene.Scene.Items = append(fragScene.Scene.Items, outcome)
		}
	}

	entryFallback := ""
	if len(planned) > 0 {
		entryFallback = planned[0].ID
	}
	frag.Entry = storygraph.RepairOutcome(frag.Entry, tempIDs, entryFallback)

	for i := range frag.Connections {
		frag.Connections[i].Outcome = storygraph.RepairOutcome(frag.Connections[i].Outcome, tempIDs, "")
	}
}

// ---- Doc import/export ----

// ExportDoc serializes the project to the doc format, reporting which
// items the format could not express.
func (s *StoryService) ExportDoc(projectID string) (string, []storydoc.Warning, error) {
	project, err := s.Projects.GetProject(projectID)
	if err != nil {
		return "", nil, err
	}
	text, warnings := storydoc.Serialize(project)
	return text, warnings, nil
}

// ImportDoc parses a doc-format document against the stored snapshot
// and replaces the project's graph with the parse result. Values the
// format cannot express are carried over from the prior snapshot by
// id. A document that defines no complete story is rejected.
func (s *StoryService) ImportDoc(projectID, text string) (*models.Project, error) {
	start := time.Now()
	var result *models.Project

	err := s.locks.ExecuteWithProjectLock(projectID, func() error {
		prior, err := s.Projects.GetProject(projectID)
		if err != nil {
			return err
		}

		parsed := storydoc.Parse(text, prior)
		if len(parsed.Stories) == 0 {
			return apperrors.NewValidationError("document defines no stories", nil)
		}
		for _, story := range parsed.OrderedStories() {
			if len(story.Scenes) == 0 {
				return apperrors.NewValidationError(
					fmt.Sprintf("story %s has no scenes", story.ID), nil)
			}
		}

		if err := s.Projects.SaveProject(parsed); err != nil {
			return err
		}
		result = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordEdit("doc_import", time.Since(start))
	return result, nil
}

// Metrics exposes the editing counters
func (s *StoryService) Metrics() map[string]interface{} {
	return s.metrics.GetMetrics()
}
