// internal/storygraph/delete.go
package storygraph

import (
	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/models"
)

// DeleteScene removes a scene from the story and repairs references.
// Every transition or choice option that targeted the deleted scene is
// nulled to the empty string but kept in place, so the editor can show
// the broken link and let the author re-wire it; scenes that only
// reached the deleted one are left dangling rather than removed.
// Deleting the last remaining scene is rejected and the caller gets
// the story back unchanged.
func DeleteScene(story *models.Story, sceneID string) (*models.Story, error) {
	if story == nil {
		return nil, apperrors.NewNotFoundError("story does not exist", nil)
	}
	if !story.HasScene(sceneID) {
		return story, apperrors.NewNotFoundError("scene "+sceneID+" does not exist", nil)
	}
	if len(story.Scenes) == 1 {
		return story, apperrors.NewPreconditionError("a story must keep at least one scene", nil)
	}

	result := story.Clone()
	result.RemoveScene(sceneID)

	for _, scene := range result.Scenes {
		for i := range scene.Items {
			nullDeletedTargets(&scene.Items[i], sceneID)
		}
	}

	if result.StartSceneID == sceneID {
		result.StartSceneID = result.FirstSceneID()
	}
	return result, nil
}

// nullDeletedTargets blanks intra-story references to the deleted
// scene. Cross-story targets are a different namespace and stay
// untouched even when the id strings coincide.
func nullDeletedTargets(item *models.DialogueItem, sceneID string) {
	switch item.Type {
	case models.ItemTransition:
		if item.NextStoryID == "" && item.NextSceneID == sceneID {
			item.NextSceneID = ""
		}
	case models.ItemChoice:
		for i := range item.Options {
			option := &item.Options[i]
			if option.NextStoryID == "" && option.NextSceneID == sceneID {
				option.NextSceneID = ""
			}
		}
	}
}
