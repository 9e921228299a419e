// internal/storygraph/order.go
package storygraph

import (
	"github.com/Corphon/StoryLoomMCP/internal/models"
)

// DisplayOrder computes the order in which a story's scenes are laid
// out in a document: the transition chain from the start scene first
// (following only transition outcomes, stopping on a cycle, a missing
// target or any other outcome kind), then every unreached scene in
// insertion order.
func DisplayOrder(story *models.Story) []string {
	if story == nil {
		return nil
	}

	order := make([]string, 0, len(story.Scenes))
	visited := make(map[string]bool, len(story.Scenes))

	current := story.StartSceneID
	for current != "" && !visited[current] {
		scene, ok := story.Scenes[current]
		if !ok {
			break
		}
		visited[current] = true
		order = append(order, current)

		current = ""
		if outcome, has := scene.Outcome(); has &&
			outcome.Type == models.ItemTransition && outcome.NextStoryID == "" {
			current = outcome.NextSceneID
		}
	}

	for _, id := range story.SceneOrder {
		if visited[id] {
			continue
		}
		if _, ok := story.Scenes[id]; ok {
			visited[id] = true
			order = append(order, id)
		}
	}
	return order
}
