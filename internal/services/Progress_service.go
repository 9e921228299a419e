// internal/services/Progress_service.go
package services

import (
	"fmt"
	"sync"
	"time"
)

// Task status values reported to subscribers and the generation API.
const (
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// ProgressUpdate is one progress event pushed to subscribers.
type ProgressUpdate struct {
	Progress int    `json:"progress"` // 0-100
	Message  string `json:"message"`
	Status   string `json:"status"` // running, completed, failed
}

// ProgressTracker tracks one long-running generation task.
type ProgressTracker struct {
	TaskID      string
	Progress    int
	Message     string
	Status      string
	Result      interface{} // set on completion, returned by the task endpoint
	Error       string      // set on failure
	StartTime   time.Time
	UpdateTime  time.Time
	Subscribers map[chan ProgressUpdate]bool
	Done        chan struct{}
	mutex       sync.Mutex
}

// ProgressService manages all progress trackers.
type ProgressService struct {
	trackers map[string]*ProgressTracker
	mutex    sync.RWMutex
}

// NewProgressService creates a progress service instance.
func NewProgressService() *ProgressService {
	return &ProgressService{
		trackers: make(map[string]*ProgressTracker),
	}
}

// CreateTracker creates a tracker for the task, or returns the
// existing one when the task id is already known.
func (s *ProgressService) CreateTracker(taskID string) *ProgressTracker {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if tracker, exists := s.trackers[taskID]; exists {
		return tracker
	}

	tracker := &ProgressTracker{
		TaskID:      taskID,
		Progress:    0,
		Message:     "Task starting...",
		Status:      TaskStatusRunning,
		StartTime:   time.Now(),
		UpdateTime:  time.Now(),
		Subscribers: make(map[chan ProgressUpdate]bool),
		Done:        make(chan struct{}),
	}

	s.trackers[taskID] = tracker
	return tracker
}

// GetTracker looks up a tracker by task id.
func (s *ProgressService) GetTracker(taskID string) (*ProgressTracker, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tracker, exists := s.trackers[taskID]
	return tracker, exists
}

// Snapshot returns the tracker's current state for the task endpoint.
func (t *ProgressTracker) Snapshot() map[string]interface{} {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	snapshot := map[string]interface{}{
		"task_id":    t.TaskID,
		"progress":   t.Progress,
		"message":    t.Message,
		"status":     t.Status,
		"started_at": t.StartTime,
		"updated_at": t.UpdateTime,
	}
	if t.Result != nil {
		snapshot["result"] = t.Result
	}
	if t.Error != "" {
		snapshot["error"] = t.Error
	}
	return snapshot
}

// UpdateProgress advances the task. Progress never moves backwards.
func (t *ProgressTracker) UpdateProgress(progress int, message string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if progress > t.Progress {
		t.Progress = progress
	}
	if message != "" {
		t.Message = message
	}
	t.UpdateTime = time.Now()

	t.notifyLocked(ProgressUpdate{
		Progress: t.Progress,
		Message:  t.Message,
		Status:   t.Status,
	})
}

// Complete marks the task as finished and stores its result.
func (t *ProgressTracker) Complete(message string, result interface{}) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.Status != TaskStatusRunning {
		return
	}

	t.Progress = 100
	if message != "" {
		t.Message = message
	} else {
		t.Message = "Task completed"
	}
	t.Status = TaskStatusCompleted
	t.Result = result
	t.UpdateTime = time.Now()

	t.notifyLocked(ProgressUpdate{
		Progress: 100,
		Message:  t.Message,
		Status:   TaskStatusCompleted,
	})

	close(t.Done)
}

// Fail marks the task as failed.
func (t *ProgressTracker) Fail(errorMsg string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.Status != TaskStatusRunning {
		return
	}

	t.Message = fmt.Sprintf("Task failed: %s", errorMsg)
	t.Status = TaskStatusFailed
	t.Error = errorMsg
	t.UpdateTime = time.Now()

	t.notifyLocked(ProgressUpdate{
		Progress: t.Progress,
		Message:  t.Message,
		Status:   TaskStatusFailed,
	})

	close(t.Done)
}

// notifyLocked pushes an update to every subscriber without blocking.
// Callers must hold t.mutex.
func (t *ProgressTracker) notifyLocked(update ProgressUpdate) {
	for subscriber := range t.Subscribers {
		select {
		case subscriber <- update:
		default:
			// Slow subscriber, drop the update rather than stall the task.
		}
	}
}

// Subscribe registers a progress channel and immediately delivers the
// current state on it.
func (t *ProgressTracker) Subscribe() chan ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	subscriber := make(chan ProgressUpdate, 10)
	t.Subscribers[subscriber] = true

	subscriber <- ProgressUpdate{
		Progress: t.Progress,
		Message:  t.Message,
		Status:   t.Status,
	}

	return subscriber
}

// Unsubscribe removes and closes a subscriber channel.
func (t *ProgressTracker) Unsubscribe(subscriber chan ProgressUpdate) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, exists := t.Subscribers[subscriber]; !exists {
		return
	}
	delete(t.Subscribers, subscriber)
	close(subscriber)
}

// CleanupCompletedTasks drops finished trackers older than maxAge.
func (s *ProgressService) CleanupCompletedTasks(maxAge time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	for id, tracker := range s.trackers {
		tracker.mutex.Lock()
		isFinished := tracker.Status == TaskStatusCompleted || tracker.Status == TaskStatusFailed
		isOld := now.Sub(tracker.UpdateTime) > maxAge
		tracker.mutex.Unlock()

		if isFinished && isOld {
			delete(s.trackers, id)
		}
	}
}
