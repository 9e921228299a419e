// internal/services/export_service.go
package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/storydoc"
	"github.com/Corphon/StoryLoomMCP/internal/storygraph"
)

// ExportService renders projects into downloadable formats: the doc
// format itself, a pretty JSON snapshot, or a plain reading script.
type ExportService struct {
	Projects *ProjectService
}

// NewExportService creates the export service
func NewExportService(projects *ProjectService) *ExportService {
	return &ExportService{Projects: projects}
}

var supportedExportFormats = []string{"doc", "json", "txt"}

// ExportProject renders one project in the requested format
func (s *ExportService) ExportProject(projectID, format string) (*models.ExportResult, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "doc"
	}
	if !contains(supportedExportFormats, format) {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("unsupported export format %q, supported formats: %v", format, supportedExportFormats), nil)
	}

	project, err := s.Projects.GetProject(projectID)
	if err != nil {
		return nil, err
	}

	result := &models.ExportResult{
		ProjectID:   project.ID,
		Title:       project.Name,
		Format:      format,
		GeneratedAt: time.Now(),
	}

	switch format {
	case "doc":
		text, warnings := storydoc.Serialize(project)
		result.Content = text
		result.Filename = exportFilename(project.Name, "md")
		for _, warning := range warnings {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("story %s scene %s: %s", warning.StoryID, warning.SceneID, warning.Message))
		}

	case "json":
		data, err := json.MarshalIndent(project, "", "  ")
		if err != nil {
			return nil, apperrors.NewInternalError("failed to marshal project", err)
		}
		result.Content = string(data)
		result.Filename = exportFilename(project.Name, "json")

	case "txt":
		result.Content = renderReadingScript(project)
		result.Filename = exportFilename(project.Name, "txt")
	}

	return result, nil
}

// renderReadingScript flattens the project into scene headings and
// dialogue only, in display order. Media, choices and transitions are
// structural and stay out of the script.
func renderReadingScript(project *models.Project) string {
	var sb strings.Builder

	sb.WriteString(project.Name)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", len(project.Name)))
	sb.WriteString("\n")

	for _, story := range project.OrderedStories() {
		sb.WriteString("\n")
		sb.WriteString(story.Name)
		sb.WriteString("\n")
		sb.WriteString(strings.Repeat("-", len(story.Name)))
		sb.WriteString("\n")

		for _, sceneID := range storygraph.DisplayOrder(story) {
			scene := story.GetScene(sceneID)
			if scene == nil {
				continue
			}

			sb.WriteString("\n[")
			sb.WriteString(scene.Name)
			sb.WriteString("]\n")

			for _, item := range scene.Items {
				if item.Type != models.ItemText {
					continue
				}
				if item.SpeakerID == "" {
					sb.WriteString(item.Text)
					sb.WriteString("\n")
					continue
				}
				sb.WriteString(speakerName(project, item.SpeakerID))
				sb.WriteString(": ")
				sb.WriteString(item.Text)
				sb.WriteString("\n")
			}
		}
	}

	return sb.String()
}

// speakerName resolves a speaker id to the character's display name,
// falling back to the raw id for speakers outside the cast.
func speakerName(project *models.Project, speakerID string) string {
	if character := project.GetCharacter(speakerID); character != nil {
		return character.Name
	}
	return speakerID
}

func exportFilename(title, ext string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == ' ', r == '-', r == '_':
			return '_'
		}
		return -1
	}, title)
	if slug == "" {
		slug = "project"
	}
	return fmt.Sprintf("%s_%s.%s", slug, time.Now().Format("20060102_150405"), ext)
}

func contains(list []string, item string) bool {
	for _, entry := range list {
		if entry == item {
			return true
		}
	}
	return false
}
