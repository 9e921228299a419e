// internal/storydoc/serialize.go
package storydoc

import (
	"fmt"
	"strings"

	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/storygraph"
)

// Serialize renders a project as a doc-format text. The output is
// deterministic for a given project value. Dialogue items the format
// cannot express (AI prompts, variable mutations) are left out of the
// text and reported as warnings so the caller can surface the loss.
func Serialize(project *models.Project) (string, []Warning) {
	if project == nil {
		return "", nil
	}

	var sb strings.Builder
	var warnings []Warning

	// Step 1: the shared cast block.
	sb.WriteString(charactersHeader + "\n")
	for _, character := range project.OrderedCharacters() {
		writeCharacter(&sb, character)
	}
	sb.WriteString(separatorRule + "\n")

	// Step 2: one section per story, scenes in display order.
	for storyIndex, story := range project.OrderedStories() {
		if storyIndex > 0 {
			sb.WriteString(separatorRule + "\n")
		}
		fmt.Fprintf(&sb, "# STORY: %s (id: %s)\n", story.Name, story.ID)

		order := storygraph.DisplayOrder(story)
		for sceneIndex, sceneID := range order {
			if sceneIndex > 0 {
				sb.WriteString(separatorRule + "\n")
			}
			writeScene(&sb, story, story.Scenes[sceneID], &warnings)
		}
	}

	return sb.String(), warnings
}

func writeCharacter(sb *strings.Builder, character *models.Character) {
	fmt.Fprintf(sb, "- %s (id: %s)\n", character.Name, character.ID)
	if character.Appearance != "" {
		fmt.Fprintf(sb, "  Appearance: %s\n", character.Appearance)
	}
	if character.Style != "" {
		fmt.Fprintf(sb, "  Style: %s\n", character.Style)
	}
	if len(character.Sprites) > 0 {
		ids := make([]string, len(character.Sprites))
		for i, sprite := range character.Sprites {
			ids[i] = sprite.ID
		}
		// Informational only; sprite URLs survive through snapshot
		// carry-over, not through the text.
		fmt.Fprintf(sb, "  Sprites: %s\n", strings.Join(ids, ", "))
	}
}

func writeScene(sb *strings.Builder, story *models.Story, scene *models.Scene, warnings *[]Warning) {
	if scene == nil {
		return
	}
	fmt.Fprintf(sb, "## SCENE: %s (id: %s)\n", scene.Name, scene.ID)
	if scene.Description != "" {
		fmt.Fprintf(sb, "DESCRIPTION: %s\n", scene.Description)
	}
	if scene.Background != "" {
		fmt.Fprintf(sb, "BACKGROUND: %s\n", scene.Background)
	}
	if len(scene.Characters) > 0 {
		sb.WriteString(sceneCharsHeader + "\n")
		for _, placement := range scene.Characters {
			if placement.Sprite != "" {
				fmt.Fprintf(sb, "- %s as %s at %s\n", placement.CharacterID, placement.Sprite, placement.Position)
			} else {
				fmt.Fprintf(sb, "- %s at %s\n", placement.CharacterID, placement.Position)
			}
		}
	}
	for _, item := range scene.Items {
		writeItem(sb, story, scene, item, warnings)
	}
}

// writeItem emits one dialogue line; the switch covers every variant
// of the item union.
func writeItem(sb *strings.Builder, story *models.Story, scene *models.Scene, item models.DialogueItem, warnings *[]Warning) {
	switch item.Type {
	case models.ItemText:
		switch {
		case item.SpeakerID == "":
			fmt.Fprintf(sb, "> %s\n", item.Text)
		case item.Sprite != "":
			fmt.Fprintf(sb, "%s (%s): %s\n", item.SpeakerID, item.Sprite, item.Text)
		default:
			fmt.Fprintf(sb, "%s: %s\n", item.SpeakerID, item.Text)
		}
	case models.ItemImage:
		fmt.Fprintf(sb, "![Image](%s)\n", item.URL)
	case models.ItemVideo:
		fmt.Fprintf(sb, "![Video](%s)\n", item.URL)
	case models.ItemChoice:
		for _, option := range item.Options {
			writeArrowLine(sb, fmt.Sprintf("- \"%s\" ->", option.Text), option.NextSceneID)
		}
	case models.ItemTransition:
		writeArrowLine(sb, "->", item.NextSceneID)
	case models.ItemEnd:
		sb.WriteString(endMarkerLine + "\n")
	case models.ItemAIPrompt, models.ItemSetVariable:
		*warnings = append(*warnings, Warning{
			StoryID: story.ID,
			SceneID: scene.ID,
			Kind:    item.Type,
			Message: fmt.Sprintf("scene %s: %s item cannot be expressed in the doc format and was omitted", scene.ID, item.Type),
		})
	}
}

// writeArrowLine keeps nulled targets (deleted scenes) representable
// without a trailing space.
func writeArrowLine(sb *strings.Builder, prefix, target string) {
	if target == "" {
		sb.WriteString(prefix + "\n")
		return
	}
	sb.WriteString(prefix + " " + target + "\n")
}
