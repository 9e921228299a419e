// internal/models/project.go
package models

import "time"

// Project is the root editing unit: one cast of characters shared by
// one or more stories. Edits are copy-on-write; every operation that
// changes a project returns a new value built from clones, so earlier
// snapshots stay valid for concurrent readers.
type Project struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	Characters     map[string]*Character `json:"characters"`
	CharacterOrder []string              `json:"character_order"`
	Stories        map[string]*Story     `json:"stories"`
	StoryOrder     []string              `json:"story_order"`
	CreatedAt      time.Time             `json:"created_at"`
	LastUpdated    time.Time             `json:"last_updated"`
}

// NewProject creates an empty project shell
func NewProject(id, name string) *Project {
	now := time.Now()
	return &Project{
		ID:          id,
		Name:        name,
		Characters:  make(map[string]*Character),
		Stories:     make(map[string]*Story),
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// AddCharacter installs a character, appending to the order on first insert
func (p *Project) AddCharacter(c *Character) {
	if c == nil {
		return
	}
	if _, exists := p.Characters[c.ID]; !exists {
		p.CharacterOrder = append(p.CharacterOrder, c.ID)
	}
	p.Characters[c.ID] = c
}

// RemoveCharacter drops a character from the map and the order
func (p *Project) RemoveCharacter(characterID string) {
	delete(p.Characters, characterID)
	for i, id := range p.CharacterOrder {
		if id == characterID {
			p.CharacterOrder = append(p.CharacterOrder[:i], p.CharacterOrder[i+1:]...)
			break
		}
	}
}

// AddStory installs a story, appending to the order on first insert
func (p *Project) AddStory(s *Story) {
	if s == nil {
		return
	}
	if _, exists := p.Stories[s.ID]; !exists {
		p.StoryOrder = append(p.StoryOrder, s.ID)
	}
	p.Stories[s.ID] = s
}

// RemoveStory drops a story from the map and the order
func (p *Project) RemoveStory(storyID string) {
	delete(p.Stories, storyID)
	for i, id := range p.StoryOrder {
		if id == storyID {
			p.StoryOrder = append(p.StoryOrder[:i], p.StoryOrder[i+1:]...)
			break
		}
	}
}

// GetStory returns a story by id, or nil
func (p *Project) GetStory(storyID string) *Story {
	return p.Stories[storyID]
}

// GetCharacter returns a character by id, or nil
func (p *Project) GetCharacter(characterID string) *Character {
	return p.Characters[characterID]
}

// OrderedCharacters returns the cast in insertion order
func (p *Project) OrderedCharacters() []*Character {
	cast := make([]*Character, 0, len(p.CharacterOrder))
	for _, id := range p.CharacterOrder {
		if c, ok := p.Characters[id]; ok {
			cast = append(cast, c)
		}
	}
	return cast
}

// OrderedStories returns the stories in insertion order
func (p *Project) OrderedStories() []*Story {
	stories := make([]*Story, 0, len(p.StoryOrder))
	for _, id := range p.StoryOrder {
		if s, ok := p.Stories[id]; ok {
			stories = append(stories, s)
		}
	}
	return stories
}

// Clone returns a deep copy of the project
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	clone := &Project{
		ID:          p.ID,
		Name:        p.Name,
		Characters:  make(map[string]*Character, len(p.Characters)),
		Stories:     make(map[string]*Story, len(p.Stories)),
		CreatedAt:   p.CreatedAt,
		LastUpdated: p.LastUpdated,
	}
	for id, c := range p.Characters {
		clone.Characters[id] = c.Clone()
	}
	for id, s := range p.Stories {
		clone.Stories[id] = s.Clone()
	}
	if len(p.CharacterOrder) > 0 {
		clone.CharacterOrder = make([]string, len(p.CharacterOrder))
		copy(clone.CharacterOrder, p.CharacterOrder)
	}
	if len(p.StoryOrder) > 0 {
		clone.StoryOrder = make([]string, len(p.StoryOrder))
		copy(clone.StoryOrder, p.StoryOrder)
	}
	return clone
}

// Touch stamps the project as just modified
func (p *Project) Touch() {
	p.LastUpdated = time.Now()
}
