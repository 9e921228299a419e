// internal/services/config_service.go
package services

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/StoryLoomMCP/internal/config"
	"github.com/Corphon/StoryLoomMCP/internal/utils"
)

// ConfigService fronts the config package with a cache, change
// notifications and an optional access audit.
type ConfigService struct {
	cachedConfig *config.AppConfig
	lastUpdated  time.Time

	subscribers   []ConfigChangeSubscriber
	changeHistory []ConfigChangeRecord

	mu sync.RWMutex

	auditEnabled bool
	auditLog     []ConfigAuditEntry
}

// ConfigChangeSubscriber is notified after a successful config update
type ConfigChangeSubscriber interface {
	OnConfigChanged(oldConfig, newConfig *config.AppConfig)
}

// ConfigChangeRecord is one entry of the change history
type ConfigChangeRecord struct {
	Timestamp time.Time
	ChangedBy string
	Section   string
	OldValue  interface{}
	NewValue  interface{}
}

// ConfigAuditEntry is one config access
type ConfigAuditEntry struct {
	Timestamp time.Time
	Action    string // "read", "write"
	Section   string
	User      string
}

// NewConfigService creates the service with the current config cached
func NewConfigService() *ConfigService {
	service := &ConfigService{
		lastUpdated:   time.Now(),
		subscribers:   make([]ConfigChangeSubscriber, 0),
		changeHistory: make([]ConfigChangeRecord, 0, 100),
		auditEnabled:  false,
		auditLog:      make([]ConfigAuditEntry, 0, 100),
	}

	service.cachedConfig = config.GetCurrentConfig()

	return service
}

// GetCurrentConfig returns the cached configuration
func (s *ConfigService) GetCurrentConfig() *config.AppConfig {
	s.recordAudit("read", "app", "system")

	s.mu.RLock()
	cached := s.cachedConfig
	s.mu.RUnlock()
	if cached != nil {
		return cached
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cachedConfig == nil {
		s.cachedConfig = config.GetCurrentConfig()
	}
	return s.cachedConfig
}

// UpdateLLMConfig switches the provider and its settings, recording
// the change and notifying subscribers. A missing default model is
// filled in per provider.
func (s *ConfigService) UpdateLLMConfig(provider string, configMap map[string]string, changedBy string) error {
	if provider == "" {
		return errors.New("provider cannot be empty")
	}
	if configMap == nil {
		configMap = make(map[string]string)
	}

	oldConfig := s.GetCurrentConfig()
	oldProvider := oldConfig.LLMProvider
	oldConfigMap := make(map[string]string, len(oldConfig.LLMConfig))
	for k, v := range oldConfig.LLMConfig {
		oldConfigMap[k] = v
	}

	if _, ok := configMap["api_key"]; !ok {
		utils.GetLogger().Warn("LLM config update is missing an api_key", nil)
	}

	if _, ok := configMap["default_model"]; !ok {
		if model, known := providerDefaultModels[provider]; known {
			configMap["default_model"] = model
		}
	}

	s.recordAudit("write", "llm", changedBy)

	err := config.UpdateLLMConfig(provider, configMap)
	if err == nil {
		s.mu.Lock()
		s.cachedConfig = config.GetCurrentConfig()
		newConfig := s.cachedConfig
		s.mu.Unlock()

		s.recordChange("llm_provider", oldProvider, provider, changedBy)
		s.recordChange("llm_config", redactSecrets(oldConfigMap), redactSecrets(configMap), changedBy)

		s.notifySubscribers(oldConfig, newConfig)
	}

	return err
}

// redactSecrets masks credential-like values before they enter the
// change history.
func redactSecrets(configMap map[string]string) map[string]string {
	redacted := make(map[string]string, len(configMap))
	for k, v := range configMap {
		lowered := strings.ToLower(k)
		if strings.Contains(lowered, "key") || strings.Contains(lowered, "secret") || strings.Contains(lowered, "token") {
			if v != "" {
				v = "<redacted>"
			}
		}
		redacted[k] = v
	}
	return redacted
}

// SaveConfig persists the current configuration
func (s *ConfigService) SaveConfig() error {
	return config.SaveConfig()
}

// GetLLMProvider returns the configured provider name
func (s *ConfigService) GetLLMProvider() string {
	return s.GetCurrentConfig().LLMProvider
}

// GetLLMConfig returns the provider settings map
func (s *ConfigService) GetLLMConfig() map[string]string {
	return s.GetCurrentConfig().LLMConfig
}

// SetDebugMode toggles debug mode and persists the change
func (s *ConfigService) SetDebugMode(enabled bool) error {
	cfg := s.GetCurrentConfig()
	cfg.DebugMode = enabled
	return config.SaveConfig()
}

// SubscribeToChanges registers a config-change subscriber
func (s *ConfigService) SubscribeToChanges(subscriber ConfigChangeSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = append(s.subscribers, subscriber)
}

// UnsubscribeFromChanges removes a subscriber
func (s *ConfigService) UnsubscribeFromChanges(subscriber ConfigChangeSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == subscriber {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			break
		}
	}
}

// notifySubscribers fans the change out without holding the lock, so
// a slow subscriber cannot block config reads.
func (s *ConfigService) notifySubscribers(oldConfig, newConfig *config.AppConfig) {
	s.mu.RLock()
	subscribers := make([]ConfigChangeSubscriber, len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.RUnlock()

	for _, subscriber := range subscribers {
		go subscriber.OnConfigChanged(oldConfig, newConfig)
	}
}

// GetChangeHistory returns the newest change records
func (s *ConfigService) GetChangeHistory(limit int) []ConfigChangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.changeHistory) {
		limit = len(s.changeHistory)
	}

	history := make([]ConfigChangeRecord, limit)
	startIdx := len(s.changeHistory) - limit
	copy(history, s.changeHistory[startIdx:])

	return history
}

func (s *ConfigService) recordChange(section string, oldValue, newValue interface{}, changedBy string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := ConfigChangeRecord{
		Timestamp: time.Now(),
		ChangedBy: changedBy,
		Section:   section,
		OldValue:  oldValue,
		NewValue:  newValue,
	}

	if len(s.changeHistory) >= 1000 {
		s.changeHistory = s.changeHistory[1:]
	}

	s.changeHistory = append(s.changeHistory, record)
}

// EnableAudit toggles config access auditing
func (s *ConfigService) EnableAudit(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditEnabled = enabled
}

// GetAuditLog returns the newest audit entries, or nil when auditing
// is off.
func (s *ConfigService) GetAuditLog(limit int) []ConfigAuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.auditEnabled {
		return nil
	}

	if limit <= 0 || limit > len(s.auditLog) {
		limit = len(s.auditLog)
	}

	entries := make([]ConfigAuditEntry, limit)
	startIdx := len(s.auditLog) - limit
	copy(entries, s.auditLog[startIdx:])

	return entries
}

// recordAudit appends one access entry. Callers must not hold s.mu.
func (s *ConfigService) recordAudit(action, section, user string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.auditEnabled {
		return
	}

	entry := ConfigAuditEntry{
		Timestamp: time.Now(),
		Action:    action,
		Section:   section,
		User:      user,
	}

	if len(s.auditLog) >= 1000 {
		s.auditLog = s.auditLog[1:]
	}

	s.auditLog = append(s.auditLog, entry)
}

// StartCacheRefresher reloads the cache on a fixed interval, picking
// up changes written by other processes.
func (s *ConfigService) StartCacheRefresher(refreshInterval time.Duration) {
	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()

		for range ticker.C {
			s.mu.Lock()
			s.cachedConfig = config.GetCurrentConfig()
			s.lastUpdated = time.Now()
			s.mu.Unlock()
		}
	}()
}
