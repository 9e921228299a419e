// cmd/demo/main.go
package main

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/storydoc"
	"github.com/Corphon/StoryLoomMCP/internal/storygraph"
)

// The demo walks the engine through one editing session without a
// server, a data directory or an LLM: build a project in memory,
// round-trip it through the doc format, repair a broken generation
// plan, splice a fragment and delete scenes down to the floor. Every
// stage prints what changed.
func main() {
	fmt.Println("🚀 StoryLoomMCP Engine Walkthrough")
	fmt.Println("==================================")

	project := buildProject()
	docText := serializeProject(project)
	reparseDoc(docText, project)
	repairBrokenPlan()
	spliceFragment(project)
	deleteScenes(project)

	fmt.Println()
	fmt.Println("✅ walkthrough complete")
}

func stage(n int, title string) {
	fmt.Printf("\n=== Stage %d: %s ===\n", n, title)
}

// 1. Build a small branching project entirely in memory.
func buildProject() *models.Project {
	stage(1, "Build a project")

	project := models.NewProject("proj_demo", "The Lighthouse")

	keeper := &models.Character{
		ID:         "char_keeper",
		Name:       "Keeper",
		Appearance: "an old man in oilskins",
		Style:      "gruff, clipped sentences",
	}
	keeper.AddSprite(models.SpriteVariant{ID: "default", URL: "/static/sprites/keeper.png"})
	keeper.AddSprite(models.SpriteVariant{ID: "worried", URL: "/static/sprites/keeper_worried.png"})
	project.AddCharacter(keeper)
	project.AddCharacter(&models.Character{ID: "char_stranger", Name: "Stranger"})

	story := models.NewStory("story_night", "Night Shift")
	story.Variables = []models.VariableDef{
		{Name: "oil_level", Type: "number", Initial: "3"},
	}

	lamp := models.NewScene("scene_lamp", "Lamp Room")
	lamp.Background = "/static/bg/lamp_room.jpg"
	lamp.Characters = []models.CharacterPlacement{
		{CharacterID: "char_keeper", Sprite: "default", Position: models.PositionCenter},
	}
	lamp.Items = []models.DialogueItem{
		models.NewNarrationItem("The lamp gutters. Somewhere below, a door bangs in the wind."),
		models.NewTextItem("char_keeper", "worried", "That door was bolted an hour ago."),
		{Type: models.ItemSetVariable, Variable: "oil_level", Value: "2"},
		models.NewChoiceItem(
			models.ChoiceOption{Text: "Trim the wick first", NextSceneID: "scene_stairs"},
			models.ChoiceOption{Text: "Go down and check", NextSceneID: "scene_door"},
		),
	}

	stairs := models.NewScene("scene_stairs", "Spiral Stairs")
	stairs.Items = []models.DialogueItem{
		models.NewNarrationItem("Ninety-eight steps, counted twice."),
		models.NewTransitionItem("scene_door"),
	}

	door := models.NewScene("scene_door", "The Door")
	door.Items = []models.DialogueItem{
		models.NewTextItem("char_stranger", "", "You took your time, keeper."),
		models.NewEndItem(),
	}

	story.AddScene(lamp)
	story.AddScene(stairs)
	story.AddScene(door)
	project.AddStory(story)

	fmt.Printf("   project %q: %d characters, %d stories\n", project.Name, len(project.Characters), len(project.Stories))
	fmt.Printf("   story %q: %d scenes, starts at %s\n", story.Name, len(story.Scenes), story.StartSceneID)
	return project
}

// 2. Render the project as doc text. The set-variable line has no
// text form, so the serializer reports it instead of dropping it
// silently.
func serializeProject(project *models.Project) string {
	stage(2, "Serialize to the doc format")

	text, warnings := storydoc.Serialize(project)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	fmt.Printf("   %d lines, %d warnings\n", len(lines), len(warnings))
	for _, warning := range warnings {
		fmt.Printf("   ⚠️  %s\n", warning.Message)
	}
	printBox("📄 "+project.Name+".doc", strings.TrimRight(text, "\n"))
	return text
}

// 3. Parse the text back against the prior snapshot. Scene ids, story
// variables and sprite art carry over by id; the set-variable item is
// the one thing this round trip loses.
func reparseDoc(text string, prior *models.Project) {
	stage(3, "Re-parse against the prior snapshot")

	parsed := storydoc.Parse(text, prior)
	story := parsed.GetStory("story_night")
	if story == nil {
		fmt.Println("   ❌ story lost in the round trip")
		return
	}

	priorStory := prior.GetStory("story_night")
	fmt.Printf("   story %q: %d scenes, ids unchanged: %v\n",
		story.Name, len(story.Scenes), sameSceneIDs(priorStory, story))
	fmt.Printf("   variables carried over: %d\n", len(story.Variables))
	fmt.Printf("   keeper sprites carried over: %d\n", len(parsed.GetCharacter("char_keeper").Sprites))
	fmt.Printf("   lamp items: %d -> %d (the set-variable line has no text form)\n",
		len(priorStory.GetScene("scene_lamp").Items),
		len(story.GetScene("scene_lamp").Items))
}

func sameSceneIDs(a, b *models.Story) bool {
	if a == nil || b == nil || len(a.Scenes) != len(b.Scenes) {
		return false
	}
	for id := range a.Scenes {
		if !b.HasScene(id) {
			return false
		}
	}
	return true
}

// 4. Run a generated plan with broken targets through the validator:
// a broken option is redirected to the next scene, a broken transition
// falls back the same way, and the last scene's surviving single
// option is downgraded to a plain transition.
func repairBrokenPlan() {
	stage(4, "Repair a broken generation plan")

	plan := []storygraph.PlannedScene{
		{
			ID:   "plan_shore",
			Name: "Shoreline",
			Outcome: models.NewChoiceItem(
				models.ChoiceOption{Text: "Climb the cliff path", NextSceneID: "plan_cliff"},
				models.ChoiceOption{Text: "Follow the wreckage", NextSceneID: "plan_missing"},
			),
		},
		{
			ID:      "plan_cliff",
			Name:    "Cliff Path",
			Outcome: models.NewTransitionItem("plan_nowhere"),
		},
		{
			ID:   "plan_summit",
			Name: "Summit",
			Outcome: models.NewChoiceItem(
				models.ChoiceOption{Text: "Signal the shore", NextSceneID: "plan_shore"},
				models.ChoiceOption{Text: "Descend inside", NextSceneID: "plan_missing"},
			),
		},
	}

	fmt.Println("   before:")
	for _, scene := range plan {
		fmt.Printf("     %-12s %s\n", scene.ID, describeOutcome(scene.Outcome))
	}

	plan = storygraph.ValidatePlan(plan)

	fmt.Println("   after:")
	for _, scene := range plan {
		fmt.Printf("     %-12s %s\n", scene.ID, describeOutcome(scene.Outcome))
	}
}

// 5. Splice a two-scene fragment onto the ending. Temp ids are minted
// fresh, the attachment scene's end marker becomes the entry choice,
// and the connection edge replaces the first fragment scene's end
// marker.
func spliceFragment(project *models.Project) {
	stage(5, "Splice a fragment into the story")

	story := project.GetStory("story_night")

	boat := models.NewScene("frag_boat", "Rescue Attempt")
	boat.Items = []models.DialogueItem{
		models.NewNarrationItem("The dinghy bucks against the swell."),
		models.NewEndItem(),
	}
	morning := models.NewScene("frag_morning", "Morning After")
	morning.Items = []models.DialogueItem{
		models.NewTextItem("char_keeper", "default", "Log entry: all souls accounted for."),
		models.NewEndItem(),
	}

	frag := storygraph.Fragment{
		Scenes: []storygraph.FragmentScene{
			{TempID: "frag_boat", Scene: boat},
			{TempID: "frag_morning", Scene: morning},
		},
		Entry: models.NewChoiceItem(
			models.ChoiceOption{Text: "Row out to the wreck", NextSceneID: "frag_boat"},
			models.ChoiceOption{Text: "Wait for first light", NextSceneID: "frag_morning"},
		),
		Connections: []storygraph.Connection{
			{FromID: "frag_boat", Outcome: models.NewTransitionItem("frag_morning")},
		},
	}

	spliced := storygraph.Splice(story, "scene_door", frag)
	project.AddStory(spliced)

	fmt.Printf("   scenes: %d -> %d\n", len(story.Scenes), len(spliced.Scenes))
	if outcome, ok := spliced.GetScene("scene_door").Outcome(); ok {
		fmt.Printf("   scene_door outcome now: %s\n", describeOutcome(outcome))
	}
	for _, scene := range spliced.OrderedScenes() {
		if story.HasScene(scene.ID) {
			continue
		}
		outcome, _ := scene.Outcome()
		fmt.Printf("   minted %s (%s): %s\n", scene.ID, scene.Name, describeOutcome(outcome))
	}
}

// 6. Delete a scene and watch the cascade null its inbound links, then
// delete down to one scene and watch the floor hold.
func deleteScenes(project *models.Project) {
	stage(6, "Delete scenes down to the floor")

	story := project.GetStory("story_night")

	after, err := storygraph.DeleteScene(story, "scene_stairs")
	if err != nil {
		fmt.Printf("   ❌ delete failed: %v\n", err)
		return
	}
	project.AddStory(after)
	fmt.Printf("   deleted scene_stairs; scenes: %d -> %d\n", len(story.Scenes), len(after.Scenes))
	if outcome, ok := after.GetScene("scene_lamp").Outcome(); ok {
		fmt.Printf("   scene_lamp outcome now: %s\n", describeOutcome(outcome))
	}

	story = after
	for len(story.Scenes) > 1 {
		order := storygraph.DisplayOrder(story)
		victim := order[len(order)-1]
		story, err = storygraph.DeleteScene(story, victim)
		if err != nil {
			fmt.Printf("   ❌ deleting %s: %v\n", victim, err)
			return
		}
		fmt.Printf("   deleted %s, %d left\n", victim, len(story.Scenes))
	}

	remaining := story.FirstSceneID()
	if _, err := storygraph.DeleteScene(story, remaining); err != nil {
		fmt.Printf("   🛑 deleting %s rejected: %v\n", remaining, err)
	}
}

// describeOutcome renders an outcome item on one line for the stage
// prints. A blank target marks a link nulled by a scene deletion.
func describeOutcome(item models.DialogueItem) string {
	target := func(sceneID, storyID string) string {
		if storyID != "" {
			return storyID + "/" + sceneID
		}
		if sceneID == "" {
			return "(dangling)"
		}
		return sceneID
	}

	switch item.Type {
	case models.ItemTransition:
		return "transition -> " + target(item.NextSceneID, item.NextStoryID)
	case models.ItemChoice:
		parts := make([]string, 0, len(item.Options))
		for _, option := range item.Options {
			parts = append(parts, fmt.Sprintf("%q -> %s", option.Text, target(option.NextSceneID, option.NextStoryID)))
		}
		return "choice [" + strings.Join(parts, ", ") + "]"
	case models.ItemEnd:
		return "end"
	}
	return string(item.Type)
}

const cliBoxMaxWidth = 90

func printBox(title, content string) {
	wrappedLines := wrapContentForBox(content, cliBoxMaxWidth)
	maxWidth := utf8.RuneCountInString(title)
	for _, line := range wrappedLines {
		if w := utf8.RuneCountInString(line); w > maxWidth {
			maxWidth = w
		}
	}
	border := strings.Repeat("─", maxWidth+2)
	fmt.Println("┌" + border + "┐")
	if title != "" {
		fmt.Printf("│ %s │\n", padRight(title, maxWidth))
		fmt.Println("├" + border + "┤")
	}
	if len(wrappedLines) == 0 {
		wrappedLines = []string{""}
	}
	for _, line := range wrappedLines {
		fmt.Printf("│ %s │\n", padRight(line, maxWidth))
	}
	fmt.Println("└" + border + "┘")
}

func wrapContentForBox(content string, maxWidth int) []string {
	if maxWidth <= 0 {
		return []string{content}
	}
	var result []string
	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimRight(rawLine, " ")
		runes := []rune(line)
		for len(runes) > maxWidth {
			result = append(result, string(runes[:maxWidth]))
			runes = runes[maxWidth:]
		}
		result = append(result, string(runes))
	}
	return result
}

func padRight(text string, width int) string {
	current := utf8.RuneCountInString(text)
	if current >= width {
		return text
	}
	return text + strings.Repeat(" ", width-current)
}
