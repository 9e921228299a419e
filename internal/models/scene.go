// internal/models/scene.go
package models

// ScreenPosition places a character on the stage
type ScreenPosition string

const (
	PositionLeft   ScreenPosition = "left"
	PositionCenter ScreenPosition = "center"
	PositionRight  ScreenPosition = "right"
)

// ValidScreenPosition reports whether s is one of the three stage slots
func ValidScreenPosition(s string) bool {
	switch ScreenPosition(s) {
	case PositionLeft, PositionCenter, PositionRight:
		return true
	}
	return false
}

// Position is opaque editor layout data, carried through unchanged
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CharacterPlacement puts a cast member on stage for one scene
type CharacterPlacement struct {
	CharacterID string         `json:"character_id"`
	Sprite      string         `json:"sprite,omitempty"`
	Position    ScreenPosition `json:"position"`
}

// Scene is one node of the narrative graph: an ordered dialogue
// sequence ending in at most one outcome item (choice, transition
// or end marker), trailing by convention.
type Scene struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Background  string               `json:"background,omitempty"`
	Characters  []CharacterPlacement `json:"characters,omitempty"`
	Items       []DialogueItem       `json:"items"`
	Position    Position             `json:"position"`
}

// NewScene creates a scene seeded with an end marker so it is
// always a valid link target.
func NewScene(id, name string) *Scene {
	return &Scene{
		ID:    id,
		Name:  name,
		Items: []DialogueItem{NewEndItem()},
	}
}

// OutcomeIndex returns the index of the scene's outcome item, or -1.
// The trailing outcome wins when a malformed sequence carries several.
func (s *Scene) OutcomeIndex() int {
	for i := len(s.Items) - 1; i >= 0; i-- {
		if s.Items[i].IsOutcome() {
			return i
		}
	}
	return -1
}

// Outcome returns the scene's outcome item, if any
func (s *Scene) Outcome() (DialogueItem, bool) {
	if i := s.OutcomeIndex(); i >= 0 {
		return s.Items[i], true
	}
	return DialogueItem{}, false
}

// FirstNonTextIndex returns the index of the first item that is not a
// text line, or -1 when the sequence is all text or empty.
func (s *Scene) FirstNonTextIndex() int {
	for i, item := range s.Items {
		if item.Type != ItemText {
			return i
		}
	}
	return -1
}

// EndMarkerIndex returns the index of the scene's end marker, or -1
func (s *Scene) EndMarkerIndex() int {
	for i, item := range s.Items {
		if item.Type == ItemEnd {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the scene
func (s *Scene) Clone() *Scene {
	if s == nil {
		return nil
	}
	clone := *s
	if len(s.Characters) > 0 {
		clone.Characters = make([]CharacterPlacement, len(s.Characters))
		copy(clone.Characters, s.Characters)
	}
	clone.Items = CloneItems(s.Items)
	return &clone
}
