// internal/storydoc/roundtrip_test.go
package storydoc

import (
	"testing"

	"github.com/Corphon/StoryLoomMCP/internal/models"
)

func richProject() *models.Project {
	project := models.NewProject("p1", "Epic")

	hero := &models.Character{ID: "hero", Name: "Hero", Appearance: "tall", Style: "dry"}
	hero.AddSprite(models.SpriteVariant{ID: "neutral", URL: "/s/neutral.png"})
	hero.AddSprite(models.SpriteVariant{ID: "smile", URL: "/s/smile.png"})
	project.AddCharacter(hero)
	guide := &models.Character{ID: "guide", Name: "Guide"}
	guide.AddSprite(models.SpriteVariant{ID: "calm", URL: "/s/calm.png"})
	project.AddCharacter(guide)

	main := models.NewStory("st1", "Main")
	main.Variables = []models.VariableDef{{Name: "gold", Type: "number", Initial: "10"}}
	main.AddScene(&models.Scene{
		ID: "intro", Name: "Intro",
		Description: "Opening shot",
		Background:  "/img/field.png",
		Position:    models.Position{X: 40, Y: 60},
		Characters: []models.CharacterPlacement{
			{CharacterID: "hero", Sprite: "neutral", Position: models.PositionLeft},
			{CharacterID: "guide", Position: models.PositionRight},
		},
		Items: []models.DialogueItem{
			models.NewNarrationItem("A field at dusk."),
			models.NewTextItem("hero", "", "We camp here."),
			models.NewTextItem("guide", "calm", "As you say."),
			models.NewImageItem("/img/map.png"),
			models.NewChoiceItem(
				models.ChoiceOption{Text: "Stay", NextSceneID: "camp"},
				models.ChoiceOption{Text: "Push on", NextSceneID: "forest"},
			),
		},
	})
	main.AddScene(&models.Scene{
		ID: "camp", Name: "Camp",
		Position: models.Position{X: 280, Y: 60},
		Items: []models.DialogueItem{
			models.NewVideoItem("/vid/fire.mp4"),
			models.NewTransitionItem("forest"),
		},
	})
	main.AddScene(&models.Scene{
		ID: "forest", Name: "Forest",
		Items: []models.DialogueItem{models.NewEndItem()},
	})
	project.AddStory(main)

	side := models.NewStory("st2", "Side")
	side.AddScene(&models.Scene{
		ID: "solo", Name: "Solo",
		Items: []models.DialogueItem{
			models.NewNarrationItem("A quiet detour."),
			models.NewEndItem(),
		},
	})
	project.AddStory(side)

	return project
}

func TestRoundTripStableOutput(t *testing.T) {
	project := richProject()

	doc1, warnings := Serialize(project)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", warnings)
	}

	reparsed := Parse(doc1, project)
	doc2, warnings := Serialize(reparsed)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings on second pass: %+v", warnings)
	}
	if doc1 != doc2 {
		t.Errorf("round trip drifted:\nfirst:\n%s\nsecond:\n%s", doc1, doc2)
	}
}

func TestRoundTripCarriesInexpressibleMetadata(t *testing.T) {
	project := richProject()
	doc, _ := Serialize(project)
	reparsed := Parse(doc, project)

	story := reparsed.GetStory("st1")
	if len(story.Variables) != 1 || story.Variables[0].Name != "gold" {
		t.Errorf("variables lost: %+v", story.Variables)
	}
	if pos := story.GetScene("camp").Position; pos.X != 280 || pos.Y != 60 {
		t.Errorf("scene position lost: %+v", pos)
	}
	hero := reparsed.GetCharacter("hero")
	if len(hero.Sprites) != 2 || hero.SpriteURL("smile") != "/s/smile.png" {
		t.Errorf("sprite art lost: %+v", hero.Sprites)
	}
	if hero.DefaultSprite != "neutral" {
		t.Errorf("default sprite = %q", hero.DefaultSprite)
	}
}

func TestRoundTripWithoutPriorUsesPlaceholders(t *testing.T) {
	project := richProject()
	doc, _ := Serialize(project)
	reparsed := Parse(doc, nil)

	hero := reparsed.GetCharacter("hero")
	if len(hero.Sprites) != 1 || hero.Sprites[0].ID != "default" {
		t.Errorf("hero sprites = %+v, want placeholder only", hero.Sprites)
	}
	if vars := reparsed.GetStory("st1").Variables; len(vars) != 0 {
		t.Errorf("variables = %+v, want none without prior", vars)
	}
}

func TestRoundTripDropsUnrepresentableItems(t *testing.T) {
	project := models.NewProject("p1", "Demo")
	story := models.NewStory("st1", "Main")
	story.AddScene(&models.Scene{
		ID: "s1", Name: "S1",
		Items: []models.DialogueItem{
			models.NewNarrationItem("kept"),
			{Type: models.ItemAIPrompt, Prompt: "fill in a storm"},
			{Type: models.ItemSetVariable, Variable: "gold", Value: "5"},
			models.NewEndItem(),
		},
	})
	project.AddStory(story)

	doc1, warnings := Serialize(project)
	if len(warnings) != 2 {
		t.Fatalf("first pass warnings = %+v, want 2", warnings)
	}

	reparsed := Parse(doc1, project)
	items := reparsed.GetStory("st1").GetScene("s1").Items
	if len(items) != 2 || items[0].Type != models.ItemText || items[1].Type != models.ItemEnd {
		t.Fatalf("reparsed items = %+v", items)
	}

	doc2, warnings := Serialize(reparsed)
	if len(warnings) != 0 {
		t.Errorf("second pass warnings = %+v", warnings)
	}
	if doc1 != doc2 {
		t.Errorf("documents differ:\nfirst:\n%s\nsecond:\n%s", doc1, doc2)
	}
}
