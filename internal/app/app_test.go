// internal/app/app_test.go
package app

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/Corphon/StoryLoomMCP/internal/config"
	"github.com/Corphon/StoryLoomMCP/internal/di"
	"github.com/Corphon/StoryLoomMCP/internal/services"
	"github.com/gin-gonic/gin"
)

// setupTestConfig points every configured directory into a temp dir so
// tests never write into the working tree.
func setupTestConfig(t *testing.T) string {
	t.Helper()

	tempDir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(tempDir, "data"))
	t.Setenv("LOG_DIR", filepath.Join(tempDir, "logs"))
	t.Setenv("STATIC_DIR", filepath.Join(tempDir, "web", "static"))
	t.Setenv("TEMPLATES_DIR", filepath.Join(tempDir, "web", "templates"))
	t.Setenv("STORY_TEMPLATES_DIR", filepath.Join(tempDir, "data", "templates"))

	if err := config.InitConfig(filepath.Join(tempDir, "data")); err != nil {
		t.Fatalf("InitConfig: %v", err)
	}

	return tempDir
}

type mockServer struct {
	ShutdownCalled bool
	HandlerFunc    http.HandlerFunc
}

func (m *mockServer) ListenAndServe() error {
	return nil
}

func (m *mockServer) Shutdown(ctx context.Context) error {
	m.ShutdownCalled = true
	return nil
}

func TestGetApp(t *testing.T) {
	instance = nil

	app1 := GetApp()
	if app1 == nil {
		t.Fatal("GetApp should return a non-nil instance")
	}

	app2 := GetApp()
	if app1 != app2 {
		t.Fatal("GetApp should return the same instance")
	}

	if app1.stopChan == nil {
		t.Fatal("stopChan should be initialized")
	}
}

func TestInitServices(t *testing.T) {
	setupTestConfig(t)

	container := di.GetContainer()
	container.Clear()

	if err := InitServices(); err != nil {
		t.Fatalf("InitServices: %v", err)
	}

	required := []string{
		"config", "llm", "progress", "locks", "stats",
		"project", "story", "generation", "export", "templates",
	}
	for _, name := range required {
		if !container.Has(name) {
			t.Errorf("service %q not registered", name)
		}
	}

	if _, ok := container.Get("project").(*services.ProjectService); !ok {
		t.Error("project service has the wrong type")
	}
	if _, ok := container.Get("generation").(*services.GenerationService); !ok {
		t.Error("generation service has the wrong type")
	}

	// Release the sqlite handle before the temp dir goes away
	if statsService, ok := container.Get("stats").(*services.StatsService); ok {
		statsService.Close()
	}
	container.Clear()
}

func TestRunShutdown(t *testing.T) {
	setupTestConfig(t)
	gin.SetMode(gin.TestMode)

	instance = nil
	a := GetApp()

	mock := &mockServer{}
	a.server = mock

	done := make(chan error, 1)
	go func() {
		done <- a.Run(gin.New())
	}()

	time.Sleep(100 * time.Millisecond)
	a.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	if !mock.ShutdownCalled {
		t.Error("server Shutdown was not called")
	}
}

func TestIsDebugMode(t *testing.T) {
	t.Setenv("DEBUG_MODE", "true")
	setupTestConfig(t)

	instance = nil
	a := GetApp()

	if !a.IsDebugMode() {
		t.Error("expected debug mode by default")
	}

	if a.GetConfig() == nil {
		t.Fatal("GetConfig should not return nil")
	}
	if a.GetDIContainer() == nil {
		t.Fatal("GetDIContainer should not return nil")
	}
}
