// internal/storygraph/delete_test.go
package storygraph

import (
	"testing"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/models"
)

func deleteBaseStory() *models.Story {
	story := models.NewStory("st1", "Main")

	s1 := models.NewScene("s1", "One")
	s1.Items = []models.DialogueItem{models.NewTransitionItem("s2")}
	story.AddScene(s1)

	s2 := models.NewScene("s2", "Two")
	story.AddScene(s2)

	s3 := models.NewScene("s3", "Three")
	s3.Items = []models.DialogueItem{models.NewChoiceItem(
		models.ChoiceOption{Text: "back", NextSceneID: "s2"},
		models.ChoiceOption{Text: "restart", NextSceneID: "s1"},
	)}
	story.AddScene(s3)

	return story
}

func TestDeleteSceneFloor(t *testing.T) {
	story := models.NewStory("st1", "Main")
	story.AddScene(models.NewScene("s1", "Only"))

	result, err := DeleteScene(story, "s1")
	if err == nil {
		t.Fatal("expected rejection for last remaining scene")
	}
	if !apperrors.IsPreconditionError(err) {
		t.Errorf("error type = %v", err)
	}
	if result != story || !story.HasScene("s1") {
		t.Error("rejected deletion modified the story")
	}
}

func TestDeleteSceneNullsReferences(t *testing.T) {
	story := deleteBaseStory()

	result, err := DeleteScene(story, "s2")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if result.HasScene("s2") {
		t.Fatal("deleted scene still present")
	}

	// The transition that pointed at s2 keeps its item, blanked.
	transition := result.Scenes["s1"].Items[0]
	if transition.Type != models.ItemTransition {
		t.Fatalf("s1 item = %+v", transition)
	}
	if transition.NextSceneID != "" {
		t.Errorf("transition target = %q, want empty", transition.NextSceneID)
	}

	// The choice keeps both options; only the dangling target blanks.
	choice := result.Scenes["s3"].Items[0]
	if len(choice.Options) != 2 {
		t.Fatalf("choice options trimmed: %+v", choice.Options)
	}
	if choice.Options[0].NextSceneID != "" {
		t.Errorf("dangling option target = %q, want empty", choice.Options[0].NextSceneID)
	}
	if choice.Options[1].NextSceneID != "s1" {
		t.Errorf("intact option rewritten: %q", choice.Options[1].NextSceneID)
	}

	// Non-cascading: s1 pointed only at s2 and must survive.
	if !result.HasScene("s1") || !result.HasScene("s3") {
		t.Error("deletion cascaded beyond the target scene")
	}
}

func TestDeleteStartSceneReassigns(t *testing.T) {
	story := deleteBaseStory()
	result, err := DeleteScene(story, "s1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if result.StartSceneID != "s2" {
		t.Errorf("start scene = %q, want s2 (first remaining)", result.StartSceneID)
	}
}

func TestDeleteSceneLeavesOriginalUntouched(t *testing.T) {
	story := deleteBaseStory()
	if _, err := DeleteScene(story, "s2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !story.HasScene("s2") {
		t.Error("original snapshot lost the scene")
	}
	if story.Scenes["s1"].Items[0].NextSceneID != "s2" {
		t.Error("original snapshot was rewritten")
	}
}

func TestDeleteMissingScene(t *testing.T) {
	story := deleteBaseStory()
	result, err := DeleteScene(story, "ghost")
	if err == nil || !apperrors.IsNotFoundError(err) {
		t.Fatalf("err = %v, want not-found", err)
	}
	if result != story {
		t.Error("missing-scene deletion should return the story unchanged")
	}
}

func TestDeleteKeepsCrossStoryTargets(t *testing.T) {
	story := deleteBaseStory()
	s4 := models.NewScene("s4", "Bridge")
	crossover := models.NewTransitionItem("s2")
	crossover.NextStoryID = "other_story"
	s4.Items = []models.DialogueItem{crossover}
	story.AddScene(s4)

	result, err := DeleteScene(story, "s2")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	got := result.Scenes["s4"].Items[0]
	if got.NextSceneID != "s2" {
		t.Errorf("cross-story target nulled: %+v", got)
	}
}
