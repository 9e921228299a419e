// internal/storygraph/splice.go
package storygraph

import (
	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/utils"
)

// sceneFanStep spaces spliced scenes horizontally from the attachment
// scene so freshly inserted nodes do not stack on the canvas.
const sceneFanStep = 240.0

// FragmentScene pairs a temporary id with the scene to install under a
// freshly minted id. Outcome targets inside the scene's items refer to
// temporary ids.
type FragmentScene struct {
	TempID string
	Scene  *models.Scene
}

// Connection is an edge between two fragment scenes that is not
// expressed in the source scene's own item sequence. The outcome's
// targets are in temp-id space and get remapped with the rest of the
// fragment.
type Connection struct {
	FromID  string
	Outcome models.DialogueItem
}

// Fragment is a validated set of generated scenes awaiting insertion
// into a story. Entry is the outcome the attachment scene receives,
// with temp-space targets.
type Fragment struct {
	Scenes      []FragmentScene
	Entry       models.DialogueItem
	Connections []Connection
}

// Splice merges a fragment into the story at the attachment scene,
// minting a fresh globally unique id for every temporary id and
// rewriting all targets through that mapping before anything is
// installed. The attachment scene's outcome slot (its first non-text
// item, appended when there is none) is overwritten with the fragment's
// entry outcome. When the attachment scene does not exist the story is
// returned unchanged.
func Splice(story *models.Story, attachmentSceneID string, frag Fragment) *models.Story {
	if story == nil || !story.HasScene(attachmentSceneID) {
		return story
	}

	// Step 1: one fresh id per temp id, built before any rewrite.
	freshIDs := make(map[string]string, len(frag.Scenes))
	for _, fragScene := range frag.Scenes {
		freshIDs[fragScene.TempID] = utils.MintID("scene")
	}

	result := story.Clone()
	basePosition := result.Scenes[attachmentSceneID].Position

	// Step 2+3: materialize fragment scenes under fresh ids, fanned out
	// from the attachment scene, with remapped outcome targets.
	for i, fragScene := range frag.Scenes {
		if fragScene.Scene == nil {
			continue
		}
		scene := fragScene.Scene.Clone()
		scene.ID = freshIDs[fragScene.TempID]
		scene.Position = models.Position{
			X: basePosition.X + sceneFanStep*float64(i+1),
			Y: basePosition.Y,
		}
		scene.Items = remapItems(scene.Items, freshIDs)
		result.AddScene(scene)
	}

	// Step 4: link the attachment scene into the fragment.
	attachment := result.Scenes[attachmentSceneID]
	entry := remapItem(frag.Entry, freshIDs)
	if idx := attachment.FirstNonTextIndex(); idx >= 0 {
		attachment.Items[idx] = entry
	} else {
		attachment.Items = append(attachment.Items, entry)
	}

	// Step 5: edges between fragment scenes outside their own outcome
	// slots replace the source scene's end marker.
	for _, connection := range frag.Connections {
		freshID, ok := freshIDs[connection.FromID]
		if !ok {
			continue
		}
		source := result.Scenes[freshID]
		if source == nil {
			continue
		}
		outcome := remapItem(connection.Outcome, freshIDs)
		if idx := source.EndMarkerIndex(); idx >= 0 {
			source.Items[idx] = outcome
		} else {
			source.Items = append(source.Items, outcome)
		}
	}

	return result
}

// remapItems rewrites all outcome targets through the id mapping
func remapItems(items []models.DialogueItem, idMap map[string]string) []models.DialogueItem {
	for i := range items {
		items[i] = remapItem(items[i], idMap)
	}
	return items
}

// remapItem rewrites one item's targets; ids outside the mapping are
// kept as-is (targets already living in the destination story).
func remapItem(item models.DialogueItem, idMap map[string]string) models.DialogueItem {
	switch item.Type {
	case models.ItemTransition:
		if fresh, ok := idMap[item.NextSceneID]; ok {
			item.NextSceneID = fresh
		}
	case models.ItemChoice:
		for i := range item.Options {
			if fresh, ok := idMap[item.Options[i].NextSceneID]; ok {
				item.Options[i].NextSceneID = fresh
			}
		}
	}
	return item
}
