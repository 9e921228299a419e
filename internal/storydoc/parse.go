// internal/storydoc/parse.go
package storydoc

import (
	"strings"

	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/utils"
)

// parserState tracks which block of the document the line cursor is in.
type parserState int

const (
	stateDefault parserState = iota
	stateCharacters
	stateSceneCharacters
)

// parser accumulates a project across one forward pass over the lines.
type parser struct {
	prior   *models.Project
	project *models.Project

	state     parserState
	story     *models.Story
	scene     *models.Scene
	character *models.Character // most recently opened cast entry
}

// Parse reads a doc-format text into a project. prior supplies the
// values the document cannot express (story variables, scene layout
// positions, character sprite art); those carry over by id. Parsing
// never fails: lines that match no rule are dropped, so a hand-edited
// or truncated document degrades to a partial project instead of an
// error.
func Parse(text string, prior *models.Project) *models.Project {
	p := &parser{prior: prior, project: importShell(prior)}
	for _, raw := range strings.Split(text, "\n") {
		p.consume(strings.TrimSpace(raw))
	}
	return p.project
}

func importShell(prior *models.Project) *models.Project {
	if prior == nil {
		return models.NewProject(utils.MintID("project"), "Imported Project")
	}
	project := models.NewProject(prior.ID, prior.Name)
	project.CreatedAt = prior.CreatedAt
	return project
}

// consume classifies one trimmed line. Rules are tried in a fixed
// order and the first match wins: section markers, then the block the
// current state selects, then scene metadata, then dialogue. A line
// that ends the scene-characters block skips the metadata rules and is
// re-read as dialogue only.
func (p *parser) consume(line string) {
	if line == "" {
		return
	}
	if p.consumeMarker(line) {
		return
	}

	switch p.state {
	case stateCharacters:
		p.consumeCharacterLine(line)
		return
	case stateSceneCharacters:
		if m := placementRe.FindStringSubmatch(line); m != nil {
			p.scene.Characters = append(p.scene.Characters, models.CharacterPlacement{
				CharacterID: m[1],
				Sprite:      m[2],
				Position:    models.ScreenPosition(m[3]),
			})
			return
		}
		p.state = stateDefault
		p.consumeDialogueLine(line)
		return
	}

	if p.consumeSceneMeta(line) {
		return
	}
	p.consumeDialogueLine(line)
}

// consumeMarker handles the section markers that switch state no
// matter where the cursor currently is.
func (p *parser) consumeMarker(line string) bool {
	if line == charactersHeader {
		p.state = stateCharacters
		return true
	}
	if m := storyHeaderRe.FindStringSubmatch(line); m != nil {
		p.openStory(m[2], m[1])
		return true
	}
	if m := sceneHeaderRe.FindStringSubmatch(line); m != nil {
		p.openScene(m[2], m[1])
		return true
	}
	if separatorRe.MatchString(line) {
		p.state = stateDefault
		return true
	}
	return false
}

func (p *parser) openStory(id, name string) {
	p.state = stateDefault
	story := models.NewStory(id, name)
	if prior := p.priorStory(id); prior != nil && len(prior.Variables) > 0 {
		story.Variables = make([]models.VariableDef, len(prior.Variables))
		copy(story.Variables, prior.Variables)
	}
	p.project.AddStory(story)
	p.story = story
	p.scene = nil
}

func (p *parser) openScene(id, name string) {
	p.state = stateDefault
	if p.story == nil {
		return
	}
	scene := &models.Scene{ID: id, Name: name}
	if prior := p.priorScene(p.story.ID, id); prior != nil {
		scene.Position = prior.Position
	}
	p.story.AddScene(scene)
	p.scene = scene
}

// consumeCharacterLine builds cast records incrementally: a bullet
// opens a character, detail lines attach to the most recently opened
// one. The block runs until the next section marker.
func (p *parser) consumeCharacterLine(line string) {
	if m := characterBulletRe.FindStringSubmatch(line); m != nil {
		p.openCharacter(m[2], m[1])
		return
	}
	if p.character == nil {
		return
	}
	if strings.HasPrefix(line, "Appearance:") {
		p.character.Appearance = strings.TrimSpace(strings.TrimPrefix(line, "Appearance:"))
		return
	}
	if strings.HasPrefix(line, "Style:") {
		p.character.Style = strings.TrimSpace(strings.TrimPrefix(line, "Style:"))
	}
	// Sprites lines are informational; sprite art carries over from
	// the prior snapshot instead.
}

func (p *parser) openCharacter(id, name string) {
	character := &models.Character{ID: id, Name: name}
	if prior := p.priorCharacter(id); prior != nil {
		if len(prior.Sprites) > 0 {
			character.Sprites = make([]models.SpriteVariant, len(prior.Sprites))
			copy(character.Sprites, prior.Sprites)
		}
		character.DefaultSprite = prior.DefaultSprite
	} else {
		character.AddSprite(models.SpriteVariant{ID: placeholderSpriteID})
	}
	p.project.AddCharacter(character)
	p.character = character
}

func (p *parser) consumeSceneMeta(line string) bool {
	if p.scene == nil {
		return false
	}
	if strings.HasPrefix(line, "DESCRIPTION:") {
		p.scene.Description = strings.TrimSpace(strings.TrimPrefix(line, "DESCRIPTION:"))
		return true
	}
	if strings.HasPrefix(line, "BACKGROUND:") {
		p.scene.Background = strings.TrimSpace(strings.TrimPrefix(line, "BACKGROUND:"))
		return true
	}
	if line == sceneCharsHeader {
		p.state = stateSceneCharacters
		return true
	}
	return false
}

// consumeDialogueLine appends dialogue items to the open scene.
func (p *parser) consumeDialogueLine(line string) {
	if p.scene == nil {
		return
	}
	if m := transitionRe.FindStringSubmatch(line); m != nil {
		p.append(models.NewTransitionItem(m[1]))
		return
	}
	if endMarkerRe.MatchString(line) {
		p.append(models.NewEndItem())
		return
	}
	if m := choiceOptionRe.FindStringSubmatch(line); m != nil {
		p.appendOption(models.ChoiceOption{Text: m[1], NextSceneID: m[2]})
		return
	}
	if m := imageRe.FindStringSubmatch(line); m != nil {
		p.append(models.NewImageItem(m[1]))
		return
	}
	if m := videoRe.FindStringSubmatch(line); m != nil {
		p.append(models.NewVideoItem(m[1]))
		return
	}
	if strings.HasPrefix(line, ">") {
		p.append(models.NewNarrationItem(strings.TrimSpace(strings.TrimPrefix(line, ">"))))
		return
	}
	if m := dialogueRe.FindStringSubmatch(line); m != nil {
		p.append(models.NewTextItem(m[1], m[2], m[3]))
	}
}

func (p *parser) append(item models.DialogueItem) {
	p.scene.Items = append(p.scene.Items, item)
}

// appendOption extends the previous choice item when options are
// adjacent, so a run of option lines folds back into one choice.
func (p *parser) appendOption(option models.ChoiceOption) {
	items := p.scene.Items
	if n := len(items); n > 0 && items[n-1].Type == models.ItemChoice {
		items[n-1].Options = append(items[n-1].Options, option)
		return
	}
	p.append(models.NewChoiceItem(option))
}

func (p *parser) priorStory(id string) *models.Story {
	if p.prior == nil {
		return nil
	}
	return p.prior.GetStory(id)
}

func (p *parser) priorScene(storyID, sceneID string) *models.Scene {
	if story := p.priorStory(storyID); story != nil {
		return story.GetScene(sceneID)
	}
	return nil
}

func (p *parser) priorCharacter(id string) *models.Character {
	if p.prior == nil {
		return nil
	}
	return p.prior.GetCharacter(id)
}
