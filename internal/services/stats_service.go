// internal/services/stats_service.go
package services

import (
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/storage/sqlite"
	"github.com/Corphon/StoryLoomMCP/internal/utils"
)

// UsageSummary is the settings/usage endpoint shape: all-time totals,
// today's slice, the daily series and the newest individual calls.
type UsageSummary struct {
	TotalCalls  int                  `json:"total_calls"`
	TotalTokens int                  `json:"total_tokens"`
	TodayCalls  int                  `json:"today_calls"`
	TodayTokens int                  `json:"today_tokens"`
	Daily       []sqlite.DailyUsage  `json:"daily"`
	RecentCalls []sqlite.UsageRecord `json:"recent_calls"`
	LastUpdated time.Time            `json:"last_updated"`
}

// StatsService records one usage row per generation call and serves
// aggregate views of the log. The sqlite handle is safe for concurrent
// use, so the service carries no locking of its own.
type StatsService struct {
	store *sqlite.Store
}

// NewStatsService opens (or creates) the usage database at dbPath
func NewStatsService(dbPath string) (*StatsService, error) {
	if dbPath == "" {
		dbPath = "data/stats/usage.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, apperrors.NewStorageError("failed to create stats directory", err)
	}

	store, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to open usage database", err)
	}

	return &StatsService{store: store}, nil
}

// Close closes the underlying database
func (s *StatsService) Close() error {
	if s == nil {
		return nil
	}
	return s.store.Close()
}

// RecordGeneration appends one usage row. Failures are logged and
// swallowed; a broken stats log must never fail the generation that
// produced the row.
func (s *StatsService) RecordGeneration(rec sqlite.UsageRecord) {
	if s == nil || s.store == nil {
		return
	}
	if rec.Status == "" {
		rec.Status = sqlite.StatusOK
	}

	if err := s.store.RecordUsage(rec); err != nil {
		utils.GetLogger().Warn("Failed to record generation usage", map[string]interface{}{
			"task_id": rec.TaskID,
			"kind":    rec.Kind,
			"error":   err.Error(),
		})
		return
	}

	utils.GetMetricsCollector().IncrementCounter("generation_calls")
	if rec.TotalTokens > 0 {
		utils.GetMetricsCollector().ObserveDuration("generation_call", time.Duration(rec.DurationMS)*time.Millisecond)
	}
}

// UsageSummary builds the aggregate view served by the settings API
func (s *StatsService) UsageSummary() (*UsageSummary, error) {
	totalCalls, totalTokens, err := s.store.Totals()
	if err != nil {
		return nil, apperrors.NewStorageError("failed to read usage totals", err)
	}

	daily, err := s.store.DailyUsage(30)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to read daily usage", err)
	}

	recent, err := s.store.RecentUsage(20)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to read recent usage", err)
	}

	summary := &UsageSummary{
		TotalCalls:  totalCalls,
		TotalTokens: totalTokens,
		Daily:       daily,
		RecentCalls: recent,
		LastUpdated: time.Now(),
	}

	// DailyUsage is newest first, so today is the head row when present.
	today := time.Now().UTC().Format("2006-01-02")
	if len(daily) > 0 && daily[0].Day == today {
		summary.TodayCalls = daily[0].Calls
		summary.TodayTokens = daily[0].TotalTokens
	}

	return summary, nil
}
