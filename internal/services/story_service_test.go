// internal/services/story_service_test.go
package services

import (
	"strings"
	"testing"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/storygraph"
)

// seedStoryService creates a story service over a fresh project with
// the standard seed graph (one story, one scene).
func seedStoryService(t *testing.T) (*StoryService, *models.Project) {
	t.Helper()
	projects := NewProjectService(t.TempDir())
	project, err := projects.CreateProject("Editing Test", nil)
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return NewStoryService(projects, nil), project
}

func reloadProject(t *testing.T, svc *StoryService, projectID string) *models.Project {
	t.Helper()
	project, err := svc.Projects.GetProject(projectID)
	if err != nil {
		t.Fatalf("reload project: %v", err)
	}
	return project
}

func seedStoryID(t *testing.T, project *models.Project) string {
	t.Helper()
	if len(project.StoryOrder) == 0 {
		t.Fatal("seed project has no story")
	}
	return project.StoryOrder[0]
}

func TestAddCharacter(t *testing.T) {
	svc, project := seedStoryService(t)

	character, err := svc.AddCharacter(project.ID, "  Mira  ", "tall, scarred", "dry wit")
	if err != nil {
		t.Fatalf("add character: %v", err)
	}
	if character.Name != "Mira" {
		t.Errorf("name = %q, want trimmed", character.Name)
	}
	if !strings.HasPrefix(character.ID, "char_") {
		t.Errorf("id = %q, want minted char id", character.ID)
	}
	if character.DefaultSprite != "default" || !character.HasSprite("default") {
		t.Errorf("default sprite not seeded: %+v", character.Sprites)
	}

	stored := reloadProject(t, svc, project.ID)
	if stored.GetCharacter(character.ID) == nil {
		t.Error("character not persisted")
	}

	if _, err := svc.AddCharacter(project.ID, "  ", "", ""); !apperrors.IsValidationError(err) {
		t.Errorf("blank name err = %v, want validation", err)
	}
}

func TestUpdateCharacter(t *testing.T) {
	svc, project := seedStoryService(t)
	character, err := svc.AddCharacter(project.ID, "Old Name", "", "")
	if err != nil {
		t.Fatalf("add character: %v", err)
	}

	updated, err := svc.UpdateCharacter(project.ID, character.ID, "New Name", "weathered", "formal")
	if err != nil {
		t.Fatalf("update character: %v", err)
	}
	if updated.Name != "New Name" || updated.Appearance != "weathered" {
		t.Errorf("update not applied: %+v", updated)
	}

	stored := reloadProject(t, svc, project.ID).GetCharacter(character.ID)
	if stored == nil || stored.Style != "formal" {
		t.Error("update not persisted")
	}

	if _, err := svc.UpdateCharacter(project.ID, "char_missing", "X", "", ""); !apperrors.IsNotFoundError(err) {
		t.Errorf("missing character err = %v, want not-found", err)
	}
}

func TestDeleteCharacterStripsPlacements(t *testing.T) {
	svc, project := seedStoryService(t)
	storyID := seedStoryID(t, project)
	sceneID := project.GetStory(storyID).StartSceneID

	character, err := svc.AddCharacter(project.ID, "Mira", "", "")
	if err != nil {
		t.Fatalf("add character: %v", err)
	}

	placements := []models.CharacterPlacement{
		{CharacterID: character.ID, Sprite: "default", Position: models.PositionCenter},
	}
	if _, err := svc.UpdateSceneMeta(project.ID, storyID, sceneID, SceneMetaUpdate{Characters: placements}); err != nil {
		t.Fatalf("place character: %v", err)
	}

	// A dialogue line keeps its speaker id even after the delete.
	items := []models.DialogueItem{
		models.NewTextItem(character.ID, "default", "I was here."),
		models.NewEndItem(),
	}
	if _, err := svc.ReplaceSceneItems(project.ID, storyID, sceneID, items); err != nil {
		t.Fatalf("replace items: %v", err)
	}

	if err := svc.DeleteCharacter(project.ID, character.ID); err != nil {
		t.Fatalf("delete character: %v", err)
	}

	stored := reloadProject(t, svc, project.ID)
	if stored.GetCharacter(character.ID) != nil {
		t.Error("character still present")
	}
	scene := stored.GetStory(storyID).GetScene(sceneID)
	if len(scene.Characters) != 0 {
		t.Errorf("placements = %+v, want stripped", scene.Characters)
	}
	if scene.Items[0].SpeakerID != character.ID {
		t.Errorf("speaker id = %q, want untouched", scene.Items[0].SpeakerID)
	}

	if err := svc.DeleteCharacter(project.ID, character.ID); !apperrors.IsNotFoundError(err) {
		t.Errorf("double delete err = %v, want not-found", err)
	}
}

func TestAddStorySeedsScene(t *testing.T) {
	svc, project := seedStoryService(t)

	story, err := svc.AddStory(project.ID, "Side Story")
	if err != nil {
		t.Fatalf("add story: %v", err)
	}
	if len(story.Scenes) != 1 {
		t.Fatalf("scenes = %d, want 1", len(story.Scenes))
	}
	opening := story.OrderedScenes()[0]
	if opening.Name != "Opening" || story.StartSceneID != opening.ID {
		t.Errorf("seed scene = %+v, start = %q", opening, story.StartSceneID)
	}

	stored := reloadProject(t, svc, project.ID)
	if stored.GetStory(story.ID) == nil {
		t.Error("story not persisted")
	}
	if len(stored.StoryOrder) != 2 || stored.StoryOrder[1] != story.ID {
		t.Errorf("story order = %v", stored.StoryOrder)
	}
}

func TestRenameStory(t *testing.T) {
	svc, project := seedStoryService(t)
	storyID := seedStoryID(t, project)

	story, err := svc.RenameStory(project.ID, storyID, " Renamed ")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if story.Name != "Renamed" {
		t.Errorf("name = %q", story.Name)
	}

	if _, err := svc.RenameStory(project.ID, "story_missing", "X"); !apperrors.IsNotFoundError(err) {
		t.Errorf("missing story err = %v, want not-found", err)
	}
	if _, err := svc.RenameStory(project.ID, storyID, "  "); !apperrors.IsValidationError(err) {
		t.Errorf("blank name err = %v, want validation", err)
	}
}

func TestDeleteStoryKeepsLastStory(t *testing.T) {
	svc, project := seedStoryService(t)
	storyID := seedStoryID(t, project)

	if err := svc.DeleteStory(project.ID, storyID); !apperrors.IsPreconditionError(err) {
		t.Fatalf("last story delete err = %v, want precondition", err)
	}

	second, err := svc.AddStory(project.ID, "Second")
	if err != nil {
		t.Fatalf("add story: %v", err)
	}
	if err := svc.DeleteStory(project.ID, second.ID); err != nil {
		t.Fatalf("delete second story: %v", err)
	}

	stored := reloadProject(t, svc, project.ID)
	if stored.GetStory(second.ID) != nil {
		t.Error("deleted story still present")
	}
	if len(stored.StoryOrder) != 1 {
		t.Errorf("story order = %v", stored.StoryOrder)
	}
}

func TestUpdateSceneMetaPartial(t *testing.T) {
	svc, project := seedStoryService(t)
	storyID := seedStoryID(t, project)
	sceneID := project.GetStory(storyID).StartSceneID

	desc := "A cold morning."
	pos := models.Position{X: 120, Y: 80}
	scene, err := svc.UpdateSceneMeta(project.ID, storyID, sceneID, SceneMetaUpdate{
		Description: &desc,
		Position:    &pos,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if scene.Description != desc || scene.Position != pos {
		t.Errorf("update not applied: %+v", scene)
	}
	// Fields left nil keep their stored value.
	if scene.Name != "Opening" {
		t.Errorf("name changed to %q", scene.Name)
	}

	blank := "  "
	if _, err := svc.UpdateSceneMeta(project.ID, storyID, sceneID, SceneMetaUpdate{Name: &blank}); !apperrors.IsValidationError(err) {
		t.Errorf("blank name err = %v, want validation", err)
	}

	ghost := []models.CharacterPlacement{{CharacterID: "char_ghost", Position: models.PositionLeft}}
	if _, err := svc.UpdateSceneMeta(project.ID, storyID, sceneID, SceneMetaUpdate{Characters: ghost}); !apperrors.IsValidationError(err) {
		t.Errorf("unknown placement err = %v, want validation", err)
	}
}

func TestReplaceSceneItemsValidation(t *testing.T) {
	svc, project := seedStoryService(t)
	storyID := seedStoryID(t, project)
	sceneID := project.GetStory(storyID).StartSceneID

	second, err := svc.AddScene(project.ID, storyID, "Second")
	if err != nil {
		t.Fatalf("add scene: %v", err)
	}

	valid := []models.DialogueItem{
		models.NewNarrationItem("The door creaks open."),
		models.NewTransitionItem(second.ID),
	}
	scene, err := svc.ReplaceSceneItems(project.ID, storyID, sceneID, valid)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if len(scene.Items) != 2 {
		t.Errorf("items = %d", len(scene.Items))
	}

	cases := []struct {
		name  string
		items []models.DialogueItem
	}{
		{"two outcomes", []models.DialogueItem{
			models.NewTransitionItem(second.ID),
			models.NewEndItem(),
		}},
		{"outcome not last", []models.DialogueItem{
			models.NewEndItem(),
			models.NewNarrationItem("after the end"),
		}},
		{"choice without options", []models.DialogueItem{
			models.NewChoiceItem(),
		}},
		{"unknown target", []models.DialogueItem{
			models.NewTransitionItem("scene_nowhere"),
		}},
		{"unknown option target", []models.DialogueItem{
			models.NewChoiceItem(models.ChoiceOption{Text: "Go", NextSceneID: "scene_nowhere"}),
		}},
	}
	for _, tc := range cases {
		if _, err := svc.ReplaceSceneItems(project.ID, storyID, sceneID, tc.items); !apperrors.IsValidationError(err) {
			t.Errorf("%s: err = %v, want validation", tc.name, err)
		}
	}

	// Dangling and cross-story targets are legal.
	tolerated := []models.DialogueItem{
		models.NewChoiceItem(
			models.ChoiceOption{Text: "Broken link", NextSceneID: ""},
			models.ChoiceOption{Text: "Another story", NextSceneID: "scene_elsewhere", NextStoryID: "story_other"},
		),
	}
	if _, err := svc.ReplaceSceneItems(project.ID, storyID, sceneID, tolerated); err != nil {
		t.Errorf("tolerated targets rejected: %v", err)
	}
}

func TestDeleteSceneCascade(t *testing.T) {
	svc, project := seedStoryService(t)
	storyID := seedStoryID(t, project)
	openingID := project.GetStory(storyID).StartSceneID

	second, err := svc.AddScene(project.ID, storyID, "Second")
	if err != nil {
		t.Fatalf("add scene: %v", err)
	}
	items := []models.DialogueItem{
		models.NewNarrationItem("Onward."),
		models.NewTransitionItem(second.ID),
	}
	if _, err := svc.ReplaceSceneItems(project.ID, storyID, openingID, items); err != nil {
		t.Fatalf("link scenes: %v", err)
	}

	if err := svc.DeleteScene(project.ID, storyID, second.ID); err != nil {
		t.Fatalf("delete scene: %v", err)
	}

	story := reloadProject(t, svc, project.ID).GetStory(storyID)
	if story.HasScene(second.ID) {
		t.Error("deleted scene still present")
	}
	outcome, ok := story.GetScene(openingID).Outcome()
	if !ok || outcome.Type != models.ItemTransition {
		t.Fatalf("opening outcome = %+v", outcome)
	}
	if outcome.NextSceneID != "" {
		t.Errorf("transition target = %q, want cleared", outcome.NextSceneID)
	}

	// The story floor holds at the service layer too.
	if err := svc.DeleteScene(project.ID, storyID, openingID); !apperrors.IsPreconditionError(err) {
		t.Errorf("last scene delete err = %v, want precondition", err)
	}
}

func TestSetStartScene(t *testing.T) {
	svc, project := seedStoryService(t)
	storyID := seedStoryID(t, project)

	second, err := svc.AddScene(project.ID, storyID, "Second")
	if err != nil {
		t.Fatalf("add scene: %v", err)
	}
	if err := svc.SetStartScene(project.ID, storyID, second.ID); err != nil {
		t.Fatalf("set start: %v", err)
	}

	story := reloadProject(t, svc, project.ID).GetStory(storyID)
	if story.StartSceneID != second.ID {
		t.Errorf("start = %q, want %q", story.StartSceneID, second.ID)
	}

	if err := svc.SetStartScene(project.ID, storyID, "scene_missing"); !apperrors.IsNotFoundError(err) {
		t.Errorf("missing scene err = %v, want not-found", err)
	}
}

func TestSpliceFragmentRepairsAndInstalls(t *testing.T) {
	svc, project := seedStoryService(t)
	storyID := seedStoryID(t, project)
	openingID := project.GetStory(storyID).StartSceneID

	boat := models.NewScene("", "The Boat")
	shore := models.NewScene("", "The Shore")
	frag := storygraph.Fragment{
		Scenes: []storygraph.FragmentScene{
			{TempID: "frag_boat", Scene: boat},
			{TempID: "frag_shore", Scene: shore},
		},
		Entry: models.NewChoiceItem(
			models.ChoiceOption{Text: "Row out", NextSceneID: "frag_boat"},
			models.ChoiceOption{Text: "Stay put", NextSceneID: "frag_missing"},
		),
		Connections: []storygraph.Connection{
			{FromID: "frag_boat", Outcome: models.NewTransitionItem("frag_shore")},
		},
	}

	story, err := svc.SpliceFragment(project.ID, storyID, openingID, frag)
	if err != nil {
		t.Fatalf("splice: %v", err)
	}
	if len(story.Scenes) != 3 {
		t.Fatalf("scenes = %d, want 3", len(story.Scenes))
	}

	outcome, ok := story.GetScene(openingID).Outcome()
	if !ok || outcome.Type != models.ItemChoice {
		t.Fatalf("attachment outcome = %+v", outcome)
	}
	for _, option := range outcome.Options {
		if option.NextSceneID == "" || !story.HasScene(option.NextSceneID) {
			t.Errorf("option %q targets %q, want a minted scene", option.Text, option.NextSceneID)
		}
		if strings.HasPrefix(option.NextSceneID, "frag_") {
			t.Errorf("temp id leaked: %q", option.NextSceneID)
		}
	}
	// The broken option was redirected into the fragment, not dropped.
	if len(outcome.Options) != 2 {
		t.Errorf("options = %d, want 2", len(outcome.Options))
	}

	if _, err := svc.SpliceFragment(project.ID, storyID, "scene_missing", frag); !apperrors.IsNotFoundError(err) {
		t.Errorf("missing attachment err = %v, want not-found", err)
	}
	if _, err := svc.SpliceFragment(project.ID, storyID, openingID, storygraph.Fragment{}); !apperrors.IsValidationError(err) {
		t.Errorf("empty fragment err = %v, want validation", err)
	}
}

func TestDocRoundTrip(t *testing.T) {
	svc, project := seedStoryService(t)
	storyID := seedStoryID(t, project)
	sceneID := project.GetStory(storyID).StartSceneID

	pos := models.Position{X: 120, Y: 80}
	if _, err := svc.UpdateSceneMeta(project.ID, storyID, sceneID, SceneMetaUpdate{Position: &pos}); err != nil {
		t.Fatalf("set position: %v", err)
	}
	items := []models.DialogueItem{
		models.NewNarrationItem("Rain on the glass."),
		{Type: models.ItemSetVariable, Variable: "mood", Value: "grim"},
		models.NewEndItem(),
	}
	if _, err := svc.ReplaceSceneItems(project.ID, storyID, sceneID, items); err != nil {
		t.Fatalf("seed items: %v", err)
	}

	text, warnings, err := svc.ExportDoc(project.ID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(text, "# STORY:") || !strings.Contains(text, "## SCENE:") {
		t.Errorf("doc missing headers:\n%s", text)
	}
	// The set-variable item has no doc form and must be reported.
	if len(warnings) != 1 || warnings[0].Kind != models.ItemSetVariable {
		t.Errorf("warnings = %+v", warnings)
	}

	imported, err := svc.ImportDoc(project.ID, text)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	story := imported.GetStory(storyID)
	if story == nil {
		t.Fatal("story id not preserved through round trip")
	}
	scene := story.GetScene(sceneID)
	if scene == nil {
		t.Fatal("scene id not preserved through round trip")
	}
	// Position is not part of the format; it is carried over by id.
	if scene.Position != pos {
		t.Errorf("position = %+v, want carried over", scene.Position)
	}
}

func TestImportDocRejectsEmptyDocument(t *testing.T) {
	svc, project := seedStoryService(t)

	if _, err := svc.ImportDoc(project.ID, "=== CHARACTERS ===\n"); !apperrors.IsValidationError(err) {
		t.Errorf("empty doc err = %v, want validation", err)
	}

	// The stored project is untouched by the failed import.
	stored := reloadProject(t, svc, project.ID)
	if len(stored.Stories) != 1 {
		t.Errorf("stories = %d after rejected import", len(stored.Stories))
	}
}

func TestStoryServiceMetrics(t *testing.T) {
	svc, project := seedStoryService(t)

	if _, err := svc.AddCharacter(project.ID, "Mira", "", ""); err != nil {
		t.Fatalf("add character: %v", err)
	}

	metrics := svc.Metrics()
	total, ok := metrics["total_edits"].(int64)
	if !ok || total != 1 {
		t.Errorf("total_edits = %v", metrics["total_edits"])
	}
	byOp, ok := metrics["edits_by_op"].(map[string]int64)
	if !ok || byOp["character_add"] != 1 {
		t.Errorf("edits_by_op = %v", metrics["edits_by_op"])
	}
}
