// internal/models/story.go
package models

// VariableDef declares a story-scoped variable. The doc format cannot
// express these; they survive edits through snapshot carry-over.
type VariableDef struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"` // string, number, boolean
	Initial string `json:"initial,omitempty"`
}

// Story is a graph of scenes sharing one character and variable
// namespace, with a designated start scene. SceneOrder preserves
// insertion order so map traversal stays deterministic.
type Story struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	StartSceneID string            `json:"start_scene_id"`
	Scenes       map[string]*Scene `json:"scenes"`
	SceneOrder   []string          `json:"scene_order"`
	Variables    []VariableDef     `json:"variables,omitempty"`
}

// NewStory creates an empty story shell. Committed stories always
// hold at least one scene; callers seed the first one via AddScene.
func NewStory(id, name string) *Story {
	return &Story{
		ID:     id,
		Name:   name,
		Scenes: make(map[string]*Scene),
	}
}

// AddScene installs a scene, appending to the order on first insert.
// The first scene added becomes the start scene.
func (s *Story) AddScene(scene *Scene) {
	if scene == nil {
		return
	}
	if _, exists := s.Scenes[scene.ID]; !exists {
		s.SceneOrder = append(s.SceneOrder, scene.ID)
	}
	s.Scenes[scene.ID] = scene
	if s.StartSceneID == "" {
		s.StartSceneID = scene.ID
	}
}

// RemoveScene drops a scene from the map and the order
func (s *Story) RemoveScene(sceneID string) {
	delete(s.Scenes, sceneID)
	for i, id := range s.SceneOrder {
		if id == sceneID {
			s.SceneOrder = append(s.SceneOrder[:i], s.SceneOrder[i+1:]...)
			break
		}
	}
}

// HasScene reports whether the story contains the given scene id
func (s *Story) HasScene(sceneID string) bool {
	_, ok := s.Scenes[sceneID]
	return ok
}

// GetScene returns a scene by id, or nil
func (s *Story) GetScene(sceneID string) *Scene {
	return s.Scenes[sceneID]
}

// FirstSceneID returns the first scene id in insertion order, or ""
func (s *Story) FirstSceneID() string {
	if len(s.SceneOrder) > 0 {
		return s.SceneOrder[0]
	}
	return ""
}

// OrderedScenes returns the scenes in insertion order, skipping any
// order entries whose scene no longer exists.
func (s *Story) OrderedScenes() []*Scene {
	scenes := make([]*Scene, 0, len(s.SceneOrder))
	for _, id := range s.SceneOrder {
		if scene, ok := s.Scenes[id]; ok {
			scenes = append(scenes, scene)
		}
	}
	return scenes
}

// Clone returns a deep copy of the story
func (s *Story) Clone() *Story {
	if s == nil {
		return nil
	}
	clone := &Story{
		ID:           s.ID,
		Name:         s.Name,
		StartSceneID: s.StartSceneID,
		Scenes:       make(map[string]*Scene, len(s.Scenes)),
	}
	for id, scene := range s.Scenes {
		clone.Scenes[id] = scene.Clone()
	}
	if len(s.SceneOrder) > 0 {
		clone.SceneOrder = make([]string, len(s.SceneOrder))
		copy(clone.SceneOrder, s.SceneOrder)
	}
	if len(s.Variables) > 0 {
		clone.Variables = make([]VariableDef, len(s.Variables))
		copy(clone.Variables, s.Variables)
	}
	return clone
}
