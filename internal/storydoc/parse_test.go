// internal/storydoc/parse_test.go
package storydoc

import (
	"testing"

	"github.com/Corphon/StoryLoomMCP/internal/models"
)

func TestParseFullDocument(t *testing.T) {
	doc := `## CHARACTERS
- Hero (id: hero)
  Appearance: tall and weathered
  Style: speaks in short sentences
- Guide (id: guide)
---
# STORY: Main (id: st1)
## SCENE: Intro (id: intro)
DESCRIPTION: Opening shot
BACKGROUND: /img/field.png
SCENE CHARACTERS:
- hero as neutral at left
- guide at right
> A field at dusk.
hero: We camp here.
guide (worried): Are you sure?
![Image](/img/map.png)
- "Stay" -> camp
- "Push on" -> forest
---
## SCENE: Camp (id: camp)
-> forest
---
## SCENE: Forest (id: forest)
--- END ---
`
	got := Parse(doc, nil)

	if got.ID == "" || got.Name != "Imported Project" {
		t.Fatalf("project shell = %q %q", got.ID, got.Name)
	}
	if len(got.CharacterOrder) != 2 || got.CharacterOrder[0] != "hero" || got.CharacterOrder[1] != "guide" {
		t.Fatalf("character order = %v", got.CharacterOrder)
	}
	hero := got.GetCharacter("hero")
	if hero.Name != "Hero" || hero.Appearance != "tall and weathered" || hero.Style != "speaks in short sentences" {
		t.Errorf("hero = %+v", hero)
	}
	if len(hero.Sprites) != 1 || hero.Sprites[0].ID != "default" || hero.DefaultSprite != "default" {
		t.Errorf("hero placeholder sprite = %+v default %q", hero.Sprites, hero.DefaultSprite)
	}

	story := got.GetStory("st1")
	if story == nil || story.Name != "Main" {
		t.Fatalf("story = %+v", story)
	}
	if story.StartSceneID != "intro" {
		t.Errorf("start scene = %q, want intro", story.StartSceneID)
	}
	if len(story.SceneOrder) != 3 || story.SceneOrder[0] != "intro" || story.SceneOrder[2] != "forest" {
		t.Fatalf("scene order = %v", story.SceneOrder)
	}

	intro := story.GetScene("intro")
	if intro.Description != "Opening shot" || intro.Background != "/img/field.png" {
		t.Errorf("intro metadata = %q %q", intro.Description, intro.Background)
	}
	wantPlacements := []models.CharacterPlacement{
		{CharacterID: "hero", Sprite: "neutral", Position: models.PositionLeft},
		{CharacterID: "guide", Position: models.PositionRight},
	}
	if len(intro.Characters) != 2 || intro.Characters[0] != wantPlacements[0] || intro.Characters[1] != wantPlacements[1] {
		t.Errorf("placements = %+v", intro.Characters)
	}
	if len(intro.Items) != 5 {
		t.Fatalf("intro items = %+v, want 5", intro.Items)
	}
	if !intro.Items[0].IsNarration() || intro.Items[0].Text != "A field at dusk." {
		t.Errorf("item 0 = %+v", intro.Items[0])
	}
	if intro.Items[1].SpeakerID != "hero" || intro.Items[1].Text != "We camp here." {
		t.Errorf("item 1 = %+v", intro.Items[1])
	}
	if intro.Items[2].SpeakerID != "guide" || intro.Items[2].Sprite != "worried" {
		t.Errorf("item 2 = %+v", intro.Items[2])
	}
	if intro.Items[3].Type != models.ItemImage || intro.Items[3].URL != "/img/map.png" {
		t.Errorf("item 3 = %+v", intro.Items[3])
	}
	choice := intro.Items[4]
	if choice.Type != models.ItemChoice || len(choice.Options) != 2 {
		t.Fatalf("item 4 = %+v", choice)
	}
	if choice.Options[1].Text != "Push on" || choice.Options[1].NextSceneID != "forest" {
		t.Errorf("option 1 = %+v", choice.Options[1])
	}

	camp := story.GetScene("camp")
	if len(camp.Items) != 1 || camp.Items[0].Type != models.ItemTransition || camp.Items[0].NextSceneID != "forest" {
		t.Errorf("camp items = %+v", camp.Items)
	}
	forest := story.GetScene("forest")
	if len(forest.Items) != 1 || forest.Items[0].Type != models.ItemEnd {
		t.Errorf("forest items = %+v", forest.Items)
	}
}

func TestParseCarryOverFromPrior(t *testing.T) {
	prior := models.NewProject("p9", "Epic")
	hero := &models.Character{ID: "hero", Name: "Hero"}
	hero.AddSprite(models.SpriteVariant{ID: "neutral", URL: "/s/neutral.png"})
	hero.AddSprite(models.SpriteVariant{ID: "smile", URL: "/s/smile.png"})
	prior.AddCharacter(hero)
	story := models.NewStory("st1", "Main")
	story.Variables = []models.VariableDef{{Name: "gold", Type: "number", Initial: "10"}}
	intro := models.NewScene("intro", "Intro")
	intro.Position = models.Position{X: 120, Y: 80}
	story.AddScene(intro)
	prior.AddStory(story)

	doc := `## CHARACTERS
- Hero (id: hero)
- Newcomer (id: newcomer)
---
# STORY: Main (id: st1)
## SCENE: Intro (id: intro)
--- END ---
---
## SCENE: Fresh (id: fresh)
--- END ---
`
	got := Parse(doc, prior)

	if got.ID != "p9" || got.Name != "Epic" {
		t.Errorf("project identity = %q %q", got.ID, got.Name)
	}
	if !got.CreatedAt.Equal(prior.CreatedAt) {
		t.Errorf("created at not carried over")
	}

	gotHero := got.GetCharacter("hero")
	if len(gotHero.Sprites) != 2 || gotHero.Sprites[1].URL != "/s/smile.png" {
		t.Errorf("hero sprites = %+v", gotHero.Sprites)
	}
	if gotHero.DefaultSprite != "neutral" {
		t.Errorf("hero default sprite = %q", gotHero.DefaultSprite)
	}
	newcomer := got.GetCharacter("newcomer")
	if len(newcomer.Sprites) != 1 || newcomer.Sprites[0].ID != "default" {
		t.Errorf("newcomer sprites = %+v", newcomer.Sprites)
	}

	gotStory := got.GetStory("st1")
	if len(gotStory.Variables) != 1 || gotStory.Variables[0].Name != "gold" {
		t.Errorf("variables = %+v", gotStory.Variables)
	}
	if pos := gotStory.GetScene("intro").Position; pos.X != 120 || pos.Y != 80 {
		t.Errorf("intro position = %+v", pos)
	}
	if pos := gotStory.GetScene("fresh").Position; pos.X != 0 || pos.Y != 0 {
		t.Errorf("fresh position = %+v, want zero", pos)
	}

	// Carried values are copies, not shared with the prior snapshot.
	gotHero.Sprites[0].URL = "/s/changed.png"
	if prior.GetCharacter("hero").Sprites[0].URL != "/s/neutral.png" {
		t.Errorf("prior sprite mutated through parse result")
	}
	gotStory.Variables[0].Initial = "999"
	if prior.GetStory("st1").Variables[0].Initial != "10" {
		t.Errorf("prior variables mutated through parse result")
	}
}

func TestParseChoiceAdjacency(t *testing.T) {
	doc := `# STORY: S (id: s)
## SCENE: A (id: a)
- "one" -> x
- "two" -> y
> pause
- "three" -> z
`
	scene := Parse(doc, nil).GetStory("s").GetScene("a")

	if len(scene.Items) != 3 {
		t.Fatalf("items = %+v, want 3", scene.Items)
	}
	first := scene.Items[0]
	if first.Type != models.ItemChoice || len(first.Options) != 2 {
		t.Fatalf("first choice = %+v", first)
	}
	if first.Options[0].Text != "one" || first.Options[1].NextSceneID != "y" {
		t.Errorf("first options = %+v", first.Options)
	}
	last := scene.Items[2]
	if last.Type != models.ItemChoice || len(last.Options) != 1 || last.Options[0].Text != "three" {
		t.Errorf("second choice = %+v", last)
	}
}

func TestParseEmptyArrowTargets(t *testing.T) {
	doc := `# STORY: S (id: s)
## SCENE: A (id: a)
- "nowhere" ->
---
## SCENE: B (id: b)
->
`
	story := Parse(doc, nil).GetStory("s")

	a := story.GetScene("a").Items[0]
	if a.Type != models.ItemChoice || a.Options[0].NextSceneID != "" {
		t.Errorf("choice = %+v", a)
	}
	b := story.GetScene("b").Items[0]
	if b.Type != models.ItemTransition || b.NextSceneID != "" {
		t.Errorf("transition = %+v", b)
	}
}

func TestParsePlacementBlockEndsAtFirstNonPlacement(t *testing.T) {
	doc := `# STORY: S (id: s)
## SCENE: A (id: a)
SCENE CHARACTERS:
- hero at left
DESCRIPTION: read as dialogue now
BACKGROUND: /img/x.png
`
	scene := Parse(doc, nil).GetStory("s").GetScene("a")

	if len(scene.Characters) != 1 || scene.Characters[0].CharacterID != "hero" {
		t.Fatalf("placements = %+v", scene.Characters)
	}
	// The line ending the placement block is re-read as dialogue, so a
	// DESCRIPTION line there becomes a speaker line, not metadata.
	if scene.Description != "" {
		t.Errorf("description = %q, want empty", scene.Description)
	}
	if len(scene.Items) != 1 || scene.Items[0].SpeakerID != "DESCRIPTION" || scene.Items[0].Text != "read as dialogue now" {
		t.Errorf("items = %+v", scene.Items)
	}
	// Later lines go through the normal rules again.
	if scene.Background != "/img/x.png" {
		t.Errorf("background = %q", scene.Background)
	}
}

func TestParsePermissiveSkipsMalformedLines(t *testing.T) {
	doc := `hero: line before any story
## SCENE: Orphan (id: orphan)
-> nowhere
@@ not a rule @@
# STORY: Real (id: real)
WHAT IS THIS
## SCENE: Only (id: only)
- stray at nowhere
--- END ---
`
	got := Parse(doc, nil)

	if len(got.Stories) != 1 {
		t.Fatalf("stories = %v", got.StoryOrder)
	}
	story := got.GetStory("real")
	if story == nil || len(story.SceneOrder) != 1 {
		t.Fatalf("story = %+v", story)
	}
	only := story.GetScene("only")
	if len(only.Items) != 1 || only.Items[0].Type != models.ItemEnd {
		t.Errorf("items = %+v", only.Items)
	}
}

func TestParseEmptyDocument(t *testing.T) {
	got := Parse("", nil)
	if got == nil || len(got.Stories) != 0 || len(got.Characters) != 0 {
		t.Errorf("empty parse = %+v", got)
	}
}
