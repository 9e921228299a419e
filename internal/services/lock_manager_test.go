// internal/services/lock_manager_test.go
package services

import (
	"sync"
	"testing"
)

func TestGetProjectLockReuse(t *testing.T) {
	lm := NewLockManager()

	a := lm.GetProjectLock("proj_a")
	if lm.GetProjectLock("proj_a") != a {
		t.Error("same project returned a different lock")
	}
	if lm.GetProjectLock("proj_b") == a {
		t.Error("different projects share a lock")
	}
}

func TestExecuteWithProjectLockSerializes(t *testing.T) {
	lm := NewLockManager()

	const workers = 32
	counter := 0
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_ = lm.ExecuteWithProjectLock("proj_a", func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Errorf("counter = %d, want %d", counter, workers)
	}
}

func TestGenerationSlot(t *testing.T) {
	lm := NewLockManager()

	acquired, running := lm.TryAcquireGeneration("proj_a", "task_1")
	if !acquired || running != "" {
		t.Fatalf("first acquire = %v %q", acquired, running)
	}
	if !lm.IsGenerating("proj_a") {
		t.Error("slot not marked as generating")
	}

	// A second task is rejected and learns who holds the slot.
	acquired, running = lm.TryAcquireGeneration("proj_a", "task_2")
	if acquired || running != "task_1" {
		t.Errorf("second acquire = %v %q", acquired, running)
	}

	// Other projects are unaffected.
	if acquired, _ := lm.TryAcquireGeneration("proj_b", "task_3"); !acquired {
		t.Error("unrelated project blocked")
	}

	// Only the holder can release.
	lm.ReleaseGeneration("proj_a", "task_2")
	if !lm.IsGenerating("proj_a") {
		t.Error("foreign release freed the slot")
	}
	lm.ReleaseGeneration("proj_a", "task_1")
	if lm.IsGenerating("proj_a") {
		t.Error("slot still held after release")
	}

	if acquired, _ := lm.TryAcquireGeneration("proj_a", "task_4"); !acquired {
		t.Error("slot not reusable after release")
	}
}
