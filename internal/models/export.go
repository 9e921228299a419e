// internal/models/export.go
package models

import "time"

// ExportResult is one rendered project export, ready for download
type ExportResult struct {
	ProjectID   string    `json:"project_id"`
	Title       string    `json:"title"`
	Format      string    `json:"format"`
	Content     string    `json:"content"`
	Filename    string    `json:"filename"`
	GeneratedAt time.Time `json:"generated_at"`
	Warnings    []string  `json:"warnings,omitempty"`
}
