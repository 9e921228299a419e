// internal/storydoc/doc.go

// Package storydoc converts projects to and from the doc format, the
// line-oriented text document the editor exposes for hand editing.
// Serialization is deterministic; parsing is permissive and never
// fails, it simply drops lines it cannot understand.
package storydoc

import (
	"regexp"

	"github.com/Corphon/StoryLoomMCP/internal/models"
)

const (
	charactersHeader = "## CHARACTERS"
	sceneCharsHeader = "SCENE CHARACTERS:"
	separatorRule    = "---"
	endMarkerLine    = "--- END ---"
)

// Line grammar, matched against whitespace-trimmed lines. Recognition
// order is fixed; the first matching rule wins (see parse.go).
var (
	storyHeaderRe     = regexp.MustCompile(`^# STORY:\s*(.*?)\s*\(id:\s*([^)\s]+)\)$`)
	sceneHeaderRe     = regexp.MustCompile(`^## SCENE:\s*(.*?)\s*\(id:\s*([^)\s]+)\)$`)
	separatorRe       = regexp.MustCompile(`^-{3,}$`)
	characterBulletRe = regexp.MustCompile(`^-\s+(.*?)\s*\(id:\s*([^)\s]+)\)$`)
	placementRe       = regexp.MustCompile(`^-\s+(\S+?)(?:\s+as\s+(\S+))?\s+at\s+(left|center|right)$`)
	transitionRe      = regexp.MustCompile(`^->\s*(\S*)$`)
	endMarkerRe       = regexp.MustCompile(`^---\s*END\s*---$`)
	choiceOptionRe    = regexp.MustCompile(`^-\s+"(.*)"\s*->\s*(\S*)$`)
	imageRe           = regexp.MustCompile(`^!\[Image\]\((.*)\)$`)
	videoRe           = regexp.MustCompile(`^!\[Video\]\((.*)\)$`)
	dialogueRe        = regexp.MustCompile(`^([\w][\w.-]*)\s*(?:\(([^)]*)\))?\s*:\s*(.*)$`)
)

// placeholderSpriteID names the sprite synthesized for characters that
// appear in a document without a prior project record.
const placeholderSpriteID = "default"

// Warning flags content that the doc format cannot express and that a
// serialization therefore leaves out.
type Warning struct {
	StoryID string          `json:"story_id"`
	SceneID string          `json:"scene_id"`
	Kind    models.ItemType `json:"kind"`
	Message string          `json:"message"`
}
