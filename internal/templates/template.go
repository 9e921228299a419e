// internal/templates/template.go

// Package templates loads starter-project definitions from YAML and
// instantiates them into fresh projects with newly minted ids.
package templates

import (
	"fmt"
	"strings"

	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/storygraph"
	"github.com/Corphon/StoryLoomMCP/internal/utils"
)

// Template is one starter-project definition. Scene keys are local to
// the template; instantiation replaces them with minted scene ids.
type Template struct {
	ID          string              `yaml:"id"`
	Name        string              `yaml:"name"`
	Description string              `yaml:"description,omitempty"`
	Characters  []TemplateCharacter `yaml:"characters,omitempty"`
	Stories     []TemplateStory     `yaml:"stories"`
}

// TemplateCharacter seeds one cast member.
type TemplateCharacter struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Appearance string `yaml:"appearance,omitempty"`
	Style      string `yaml:"style,omitempty"`
}

// TemplateStory seeds one story; scenes keep their listed order.
type TemplateStory struct {
	Name   string          `yaml:"name"`
	Scenes []TemplateScene `yaml:"scenes"`
}

// TemplateScene seeds one scene. Next names a transition target key;
// Choices name branch targets. Neither set means the scene ends the
// story.
type TemplateScene struct {
	Key         string           `yaml:"key"`
	Name        string           `yaml:"name"`
	Description string           `yaml:"description,omitempty"`
	Lines       []TemplateLine   `yaml:"lines,omitempty"`
	Next        string           `yaml:"next,omitempty"`
	Choices     []TemplateChoice `yaml:"choices,omitempty"`
}

// TemplateLine is one text line; an empty speaker means narration.
type TemplateLine struct {
	Speaker string `yaml:"speaker,omitempty"`
	Text    string `yaml:"text"`
}

// TemplateChoice is one branch of a choice outcome.
type TemplateChoice struct {
	Text string `yaml:"text"`
	Next string `yaml:"next"`
}

// Validate checks the structural requirements. Broken scene targets
// are not an error here; instantiation repairs them the same way
// generated plans are repaired.
func (t Template) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("template: id is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("template %s: name is required", t.ID)
	}
	if len(t.Stories) == 0 {
		return fmt.Errorf("template %s: at least one story is required", t.ID)
	}
	for si, story := range t.Stories {
		if len(story.Scenes) == 0 {
			return fmt.Errorf("template %s: story %d has no scenes", t.ID, si)
		}
		seen := make(map[string]bool, len(story.Scenes))
		for _, scene := range story.Scenes {
			key := strings.TrimSpace(scene.Key)
			if key == "" {
				return fmt.Errorf("template %s: story %d has a scene without a key", t.ID, si)
			}
			if seen[key] {
				return fmt.Errorf("template %s: duplicate scene key %q", t.ID, key)
			}
			seen[key] = true
		}
	}
	return nil
}

// Normalized returns a copy with identifier fields trimmed.
func (t Template) Normalized() Template {
	t.ID = strings.TrimSpace(t.ID)
	t.Name = strings.TrimSpace(t.Name)
	for si := range t.Stories {
		for ci := range t.Stories[si].Scenes {
			t.Stories[si].Scenes[ci].Key = strings.TrimSpace(t.Stories[si].Scenes[ci].Key)
		}
	}
	return t
}

// Instantiate builds a fresh project from the template. Every story
// and scene gets a minted id; template scene keys are remapped through
// the plan validator, so dangling targets are repaired instead of
// carried into the project.
func (t Template) Instantiate() *models.Project {
	project := models.NewProject(utils.MintID("project"), t.Name)

	for _, c := range t.Characters {
		character := &models.Character{
			ID:         c.ID,
			Name:       c.Name,
			Appearance: c.Appearance,
			Style:      c.Style,
		}
		character.AddSprite(models.SpriteVariant{ID: "default"})
		project.AddCharacter(character)
	}

	for _, s := range t.Stories {
		story := models.NewStory(utils.MintID("story"), s.Name)

		planned := make([]storygraph.PlannedScene, len(s.Scenes))
		for i, scene := range s.Scenes {
			planned[i] = storygraph.PlannedScene{ID: scene.Key, Outcome: scene.outcome()}
		}
		planned = storygraph.ValidatePlan(planned)

		minted := make(map[string]string, len(s.Scenes))
		for _, scene := range s.Scenes {
			minted[scene.Key] = utils.MintID("scene")
		}

		for i, scene := range s.Scenes {
			items := make([]models.DialogueItem, 0, len(scene.Lines)+1)
			for _, line := range scene.Lines {
				items = append(items, models.NewTextItem(line.Speaker, "", line.Text))
			}
			items = append(items, remapOutcome(planned[i].Outcome, minted))

			story.AddScene(&models.Scene{
				ID:          minted[scene.Key],
				Name:        scene.Name,
				Description: scene.Description,
				Items:       items,
			})
		}

		project.AddStory(story)
	}

	return project
}

func (s TemplateScene) outcome() models.DialogueItem {
	if len(s.Choices) > 0 {
		options := make([]models.ChoiceOption, len(s.Choices))
		for i, choice := range s.Choices {
			options[i] = models.ChoiceOption{Text: choice.Text, NextSceneID: choice.Next}
		}
		return models.NewChoiceItem(options...)
	}
	if s.Next != "" {
		return models.NewTransitionItem(s.Next)
	}
	return models.NewEndItem()
}

func remapOutcome(outcome models.DialogueItem, minted map[string]string) models.DialogueItem {
	item := outcome.Clone()
	switch item.Type {
	case models.ItemTransition:
		item.NextSceneID = minted[item.NextSceneID]
	case models.ItemChoice:
		for i := range item.Options {
			item.Options[i].NextSceneID = minted[item.Options[i].NextSceneID]
		}
	}
	return item
}
