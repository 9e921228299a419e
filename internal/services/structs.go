// internal/services/structs.go
package services

// OutcomePlan is the outcome shape the model returns for a planned
// scene: a choice with options, a transition, or an ending. Scene
// references use the plan's own scene ids.
type OutcomePlan struct {
	Type    string `json:"type"`
	Next    string `json:"next,omitempty"`
	Options []struct {
		Text string `json:"text"`
		Next string `json:"next"`
	} `json:"options,omitempty"`
}

// ScenePlan is one planned scene in a generation result
type ScenePlan struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Background  string      `json:"background,omitempty"`
	Outcome     OutcomePlan `json:"outcome"`
}

// StoryPlanResult is the full branching-story plan the model returns
// before any dialogue is written.
type StoryPlanResult struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	Characters []struct {
		Name       string `json:"name"`
		Appearance string `json:"appearance,omitempty"`
		Style      string `json:"style,omitempty"`
	} `json:"characters,omitempty"`

	Scenes []ScenePlan `json:"scenes"`
}

// BranchPlanResult is the fragment plan the model returns when
// expanding an existing scene: new scenes, the entry outcome installed
// at the attachment point, and optional links from new scenes back
// into the existing story.
type BranchPlanResult struct {
	Entry  OutcomePlan `json:"entry"`
	Scenes []ScenePlan `json:"scenes"`

	Connections []struct {
		From    string      `json:"from"`
		Outcome OutcomePlan `json:"outcome"`
	} `json:"connections,omitempty"`
}

// SceneDialogueResult is the dialogue sequence the model returns for a
// single scene. An empty speaker marks narration.
type SceneDialogueResult struct {
	Lines []struct {
		Speaker string `json:"speaker,omitempty"`
		Text    string `json:"text"`
	} `json:"lines"`
}
