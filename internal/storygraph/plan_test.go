// internal/storygraph/plan_test.go
package storygraph

import (
	"testing"

	"github.com/Corphon/StoryLoomMCP/internal/models"
)

func TestValidatePlanFallbackExample(t *testing.T) {
	scenes := []PlannedScene{
		{ID: "a", Outcome: models.NewTransitionItem("b")},
		{ID: "b", Outcome: models.NewChoiceItem(
			models.ChoiceOption{Text: "go", NextSceneID: "c"},
			models.ChoiceOption{Text: "stay", NextSceneID: "bad_id"},
		)},
		{ID: "c", Outcome: models.NewEndItem()},
	}

	validated := ValidatePlan(scenes)

	if got := validated[0].Outcome; got.Type != models.ItemTransition || got.NextSceneID != "b" {
		t.Errorf("scene a outcome changed: %+v", got)
	}
	choice := validated[1].Outcome
	if choice.Type != models.ItemChoice || len(choice.Options) != 2 {
		t.Fatalf("scene b outcome = %+v, want two-option choice", choice)
	}
	if choice.Options[0].NextSceneID != "c" {
		t.Errorf("valid option rewritten: %q", choice.Options[0].NextSceneID)
	}
	if choice.Options[1].NextSceneID != "c" {
		t.Errorf("broken option = %q, want fallback c", choice.Options[1].NextSceneID)
	}
	if validated[2].Outcome.Type != models.ItemEnd {
		t.Errorf("end outcome rewritten: %+v", validated[2].Outcome)
	}
}

func TestValidatePlanClosure(t *testing.T) {
	scenes := []PlannedScene{
		{ID: "s1", Outcome: models.NewTransitionItem("nowhere")},
		{ID: "s2", Outcome: models.NewChoiceItem(
			models.ChoiceOption{Text: "x", NextSceneID: "s1"},
			models.ChoiceOption{Text: "y", NextSceneID: "ghost"},
			models.ChoiceOption{Text: "z", NextSceneID: "phantom"},
		)},
		{ID: "s3", Outcome: models.NewTransitionItem("s1")},
		{ID: "s4", Outcome: models.NewChoiceItem(
			models.ChoiceOption{Text: "u", NextSceneID: "void"},
			models.ChoiceOption{Text: "v", NextSceneID: "gone"},
		)},
	}

	validated := ValidatePlan(scenes)

	ids := make(map[string]bool)
	for _, scene := range validated {
		ids[scene.ID] = true
	}
	for _, scene := range validated {
		switch scene.Outcome.Type {
		case models.ItemTransition:
			if !ids[scene.Outcome.NextSceneID] {
				t.Errorf("scene %s transition target %q outside set", scene.ID, scene.Outcome.NextSceneID)
			}
		case models.ItemChoice:
			for _, option := range scene.Outcome.Options {
				if !ids[option.NextSceneID] {
					t.Errorf("scene %s option target %q outside set", scene.ID, option.NextSceneID)
				}
			}
		}
	}

	// Last scene had only broken options and no fallback: ends the story.
	if validated[3].Outcome.Type != models.ItemEnd {
		t.Errorf("last scene outcome = %+v, want end marker", validated[3].Outcome)
	}
}

func TestValidatePlanSingleOptionCollapse(t *testing.T) {
	t.Run("authored single option", func(t *testing.T) {
		scenes := ValidatePlan([]PlannedScene{
			{ID: "s1", Outcome: models.NewChoiceItem(
				models.ChoiceOption{Text: "only", NextSceneID: "s2"},
			)},
			{ID: "s2", Outcome: models.NewEndItem()},
		})
		got := scenes[0].Outcome
		if got.Type != models.ItemTransition || got.NextSceneID != "s2" {
			t.Errorf("outcome = %+v, want transition to s2", got)
		}
	})

	t.Run("collapse after drop", func(t *testing.T) {
		scenes := ValidatePlan([]PlannedScene{
			{ID: "s1", Outcome: models.NewEndItem()},
			{ID: "s2", Outcome: models.NewChoiceItem(
				models.ChoiceOption{Text: "keep", NextSceneID: "s1"},
				models.ChoiceOption{Text: "lose", NextSceneID: "broken"},
			)},
		})
		got := scenes[1].Outcome
		if got.Type != models.ItemTransition || got.NextSceneID != "s1" {
			t.Errorf("outcome = %+v, want transition to s1", got)
		}
	})
}

func TestValidatePlanLastSceneBrokenTransition(t *testing.T) {
	scenes := ValidatePlan([]PlannedScene{
		{ID: "s1", Outcome: models.NewEndItem()},
		{ID: "s2", Outcome: models.NewTransitionItem("missing")},
	})
	if scenes[1].Outcome.Type != models.ItemEnd {
		t.Errorf("outcome = %+v, want end marker", scenes[1].Outcome)
	}
}

func TestValidatePlanEmptyChoiceBecomesTransition(t *testing.T) {
	scenes := ValidatePlan([]PlannedScene{
		{ID: "s1", Outcome: models.NewChoiceItem()},
		{ID: "s2", Outcome: models.NewEndItem()},
	})
	got := scenes[0].Outcome
	if got.Type != models.ItemTransition || got.NextSceneID != "s2" {
		t.Errorf("outcome = %+v, want transition to fallback s2", got)
	}
}

func TestValidatePlanCrossStoryTargetUnchecked(t *testing.T) {
	option := models.ChoiceOption{Text: "elsewhere", NextSceneID: "foreign", NextStoryID: "other_story"}
	scenes := ValidatePlan([]PlannedScene{
		{ID: "s1", Outcome: models.NewChoiceItem(
			option,
			models.ChoiceOption{Text: "here", NextSceneID: "s2"},
		)},
		{ID: "s2", Outcome: models.NewEndItem()},
	})
	got := scenes[0].Outcome
	if got.Type != models.ItemChoice || len(got.Options) != 2 {
		t.Fatalf("outcome = %+v", got)
	}
	if got.Options[0] != option {
		t.Errorf("cross-story option rewritten: %+v", got.Options[0])
	}
}

func TestValidatePlanEmpty(t *testing.T) {
	if got := ValidatePlan(nil); len(got) != 0 {
		t.Errorf("ValidatePlan(nil) = %v", got)
	}
}
