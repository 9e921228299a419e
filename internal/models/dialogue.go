// internal/models/dialogue.go
package models

// ItemType discriminates the dialogue item variants
type ItemType string

const (
	ItemText       ItemType = "text"
	ItemImage      ItemType = "image"
	ItemVideo      ItemType = "video"
	ItemChoice     ItemType = "choice"
	ItemTransition ItemType = "transition"
	ItemEnd        ItemType = "end"
	// Extended variants, not representable in the doc format
	ItemAIPrompt    ItemType = "ai_prompt"
	ItemSetVariable ItemType = "set_variable"
)

// ChoiceOption is one selectable branch of a choice item
type ChoiceOption struct {
	Text        string `json:"text"`
	NextSceneID string `json:"next_scene_id"`
	NextStoryID string `json:"next_story_id,omitempty"` // cross-story pointer, unchecked
}

// DialogueItem is one entry in a scene's dialogue sequence.
// Type selects which of the remaining fields are meaningful;
// consumers switch on Type and must cover every variant.
type DialogueItem struct {
	Type        ItemType       `json:"type"`
	SpeakerID   string         `json:"speaker_id,omitempty"` // empty = narrator
	Sprite      string         `json:"sprite,omitempty"`
	Text        string         `json:"text,omitempty"`
	URL         string         `json:"url,omitempty"`
	Options     []ChoiceOption `json:"options,omitempty"`
	NextSceneID string         `json:"next_scene_id,omitempty"`
	NextStoryID string         `json:"next_story_id,omitempty"`
	Prompt      string         `json:"prompt,omitempty"`   // ItemAIPrompt
	Variable    string         `json:"variable,omitempty"` // ItemSetVariable
	Value       string         `json:"value,omitempty"`    // ItemSetVariable
}

// NewTextItem creates a spoken line. An empty speakerID makes it narration.
func NewTextItem(speakerID, sprite, text string) DialogueItem {
	return DialogueItem{Type: ItemText, SpeakerID: speakerID, Sprite: sprite, Text: text}
}

// NewNarrationItem creates a narrator line
func NewNarrationItem(text string) DialogueItem {
	return DialogueItem{Type: ItemText, Text: text}
}

// NewImageItem creates an image embed
func NewImageItem(url string) DialogueItem {
	return DialogueItem{Type: ItemImage, URL: url}
}

// NewVideoItem creates a video embed
func NewVideoItem(url string) DialogueItem {
	return DialogueItem{Type: ItemVideo, URL: url}
}

// NewChoiceItem creates a choice outcome from one or more options
func NewChoiceItem(options ...ChoiceOption) DialogueItem {
	return DialogueItem{Type: ItemChoice, Options: options}
}

// NewTransitionItem creates a transition outcome to the given scene
func NewTransitionItem(sceneID string) DialogueItem {
	return DialogueItem{Type: ItemTransition, NextSceneID: sceneID}
}

// NewEndItem creates the end-of-story marker
func NewEndItem() DialogueItem {
	return DialogueItem{Type: ItemEnd}
}

// IsOutcome reports whether the item determines what follows the scene
func (d DialogueItem) IsOutcome() bool {
	switch d.Type {
	case ItemChoice, ItemTransition, ItemEnd:
		return true
	case ItemText, ItemImage, ItemVideo, ItemAIPrompt, ItemSetVariable:
		return false
	}
	return false
}

// IsNarration reports whether the item is a speakerless text line
func (d DialogueItem) IsNarration() bool {
	return d.Type == ItemText && d.SpeakerID == ""
}

// Clone returns a deep copy, detaching the options slice
func (d DialogueItem) Clone() DialogueItem {
	clone := d
	if len(d.Options) > 0 {
		clone.Options = make([]ChoiceOption, len(d.Options))
		copy(clone.Options, d.Options)
	}
	return clone
}

// CountOutcomes returns the number of outcome items in a sequence
func CountOutcomes(items []DialogueItem) int {
	count := 0
	for _, item := range items {
		if item.IsOutcome() {
			count++
		}
	}
	return count
}

// CloneItems deep-copies a dialogue sequence
func CloneItems(items []DialogueItem) []DialogueItem {
	if items == nil {
		return nil
	}
	clones := make([]DialogueItem, len(items))
	for i, item := range items {
		clones[i] = item.Clone()
	}
	return clones
}
