// internal/models/character.go
package models

// SpriteVariant is one named appearance of a character
type SpriteVariant struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

// Character is a project-level cast member referenced by scenes
type Character struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Appearance    string          `json:"appearance,omitempty"`
	Style         string          `json:"style,omitempty"`
	Sprites       []SpriteVariant `json:"sprites,omitempty"`
	DefaultSprite string          `json:"default_sprite,omitempty"`
}

// SpriteURL returns the URL of the named sprite, or "" when unknown
func (c *Character) SpriteURL(spriteID string) string {
	for _, sprite := range c.Sprites {
		if sprite.ID == spriteID {
			return sprite.URL
		}
	}
	return ""
}

// HasSprite reports whether the character defines the named sprite
func (c *Character) HasSprite(spriteID string) bool {
	for _, sprite := range c.Sprites {
		if sprite.ID == spriteID {
			return true
		}
	}
	return false
}

// AddSprite appends a sprite variant, replacing an existing one with the same id
func (c *Character) AddSprite(variant SpriteVariant) {
	for i, sprite := range c.Sprites {
		if sprite.ID == variant.ID {
			c.Sprites[i] = variant
			return
		}
	}
	c.Sprites = append(c.Sprites, variant)
	if c.DefaultSprite == "" {
		c.DefaultSprite = variant.ID
	}
}

// Clone returns a deep copy of the character
func (c *Character) Clone() *Character {
	if c == nil {
		return nil
	}
	clone := *c
	if len(c.Sprites) > 0 {
		clone.Sprites = make([]SpriteVariant, len(c.Sprites))
		copy(clone.Sprites, c.Sprites)
	}
	return &clone
}
