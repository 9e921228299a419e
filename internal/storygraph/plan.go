// internal/storygraph/plan.go

// Package storygraph holds the pure graph algorithms of the editor:
// plan sanitization, fragment splicing, scene deletion and display
// ordering. Every function takes its working set as arguments and
// returns new values; callers keep their snapshots.
package storygraph

import (
	"github.com/Corphon/StoryLoomMCP/internal/models"
)

// PlannedScene is one entry of a generated story plan: a temporary id,
// the proposed scene fields and a tentative outcome. Targets inside the
// outcome refer to other temporary ids and may be broken until the plan
// passes through ValidatePlan.
type PlannedScene struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Background  string              `json:"background,omitempty"`
	Outcome     models.DialogueItem `json:"outcome"`
}

// ValidatePlan repairs the outcomes of a generated plan so the list is
// internally closed: after the call every intra-story target is a
// member of the list's own id set. The repair runs once per scene in
// list order; a broken target falls back to the next scene's id, and a
// scene with no fallback ends the story instead. A choice left with a
// single option is downgraded to a transition. Cross-story targets are
// accepted unchecked. The slice is repaired in place and returned.
func ValidatePlan(scenes []PlannedScene) []PlannedScene {
	ids := make(map[string]bool, len(scenes))
	for _, scene := range scenes {
		ids[scene.ID] = true
	}

	for i := range scenes {
		fallbackID := ""
		if i < len(scenes)-1 {
			fallbackID = scenes[i+1].ID
		}
		scenes[i].Outcome = repairOutcome(scenes[i].Outcome, ids, fallbackID)
	}
	return scenes
}

// RepairOutcome applies the plan-repair rule to a single outcome that
// lives outside a plan list, such as a fragment's entry outcome or a
// connection edge. ids is the set of legal targets; an empty fallback
// drops broken options instead of redirecting them.
func RepairOutcome(outcome models.DialogueItem, ids map[string]bool, fallbackID string) models.DialogueItem {
	return repairOutcome(outcome, ids, fallbackID)
}

// repairOutcome applies the per-scene repair rule. fallbackID is empty
// for the last scene of the plan.
func repairOutcome(outcome models.DialogueItem, ids map[string]bool, fallbackID string) models.DialogueItem {
	switch outcome.Type {
	case models.ItemTransition:
		if outcome.NextStoryID != "" || ids[outcome.NextSceneID] {
			return outcome
		}
		if fallbackID != "" {
			outcome.NextSceneID = fallbackID
			return outcome
		}
		return models.NewEndItem()

	case models.ItemChoice:
		kept := make([]models.ChoiceOption, 0, len(outcome.Options))
		for _, option := range outcome.Options {
			if option.NextStoryID != "" || ids[option.NextSceneID] {
				kept = append(kept, option)
				continue
			}
			if fallbackID != "" {
				option.NextSceneID = fallbackID
				kept = append(kept, option)
			}
			// No fallback: the option is dropped.
		}
		switch len(kept) {
		case 0:
			if fallbackID != "" {
				return models.NewTransitionItem(fallbackID)
			}
			return models.NewEndItem()
		case 1:
			// Never leave a single-option choice behind.
			transition := models.NewTransitionItem(kept[0].NextSceneID)
			transition.NextStoryID = kept[0].NextStoryID
			return transition
		default:
			outcome.Options = kept
			return outcome
		}

	case models.ItemEnd:
		return outcome
	}

	// Anything else is not an outcome; the strict shape check upstream
	// rejects such plans before they reach the validator.
	return outcome
}
