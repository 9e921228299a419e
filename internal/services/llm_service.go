// internal/services/llm_service.go
package services

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/Corphon/StoryLoomMCP/internal/config"
	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/llm"
	"github.com/Corphon/StoryLoomMCP/internal/utils"
)

var ErrLLMNotReady = errors.New("llm service not ready")

var providerDefaultModels = map[string]string{
	"anthropic":    "claude-3.7-sonnet",
	"openrouter":   "google/gemma-3-27b-it:free",
	"google":       "gemini-2.5-flash",
	"glm":          "glm-4.5-air",
	"qwen":         "qwen2.5-max",
	"grok":         "grok-4-fast",
	"githubmodels": "o3-mini",
}

// LLMService is the single entry point for model calls. It holds the
// active provider behind a mutex so settings updates can swap it at
// runtime, and caches completions keyed by prompt and model.
type LLMService struct {
	providerMutex      sync.RWMutex
	provider           llm.Provider
	providerName       string
	cache              *LLMCache
	isReady            bool
	readyState         string
	activeDefaultModel string
}

type LLMCache struct {
	cache      map[string]*CacheEntry
	mutex      sync.RWMutex
	expiration time.Duration
}

type CacheEntry struct {
	Response  []byte
	CreatedAt time.Time
}

// NewLLMService creates the service and initializes the provider from
// the stored configuration. A missing or broken configuration yields a
// not-ready service rather than an error, so the server can start and
// the user can fix the settings through the API.
func NewLLMService() (*LLMService, error) {
	service := createBaseLLMService()

	cfg := config.GetCurrentConfig()
	if cfg == nil {
		service.readyState = "Failed to retrieve configuration"
		return service, nil
	}

	if cfg.LLMProvider == "" || (cfg.LLMConfig != nil && cfg.LLMConfig["api_key"] == "") {
		service.readyState = "API key not configured"
		return service, nil
	}

	provider, err := llm.GetProvider(cfg.LLMProvider, cfg.LLMConfig)
	if err != nil {
		service.readyState = fmt.Sprintf("Initialization failed: %v", err)
		return service, nil
	}

	service.provider = provider
	service.providerName = cfg.LLMProvider
	service.activeDefaultModel = extractDefaultModel(cfg.LLMConfig)
	service.isReady = true
	service.readyState = "Ready"

	return service, nil
}

// NewEmptyLLMService creates a standby service with no provider.
func NewEmptyLLMService() *LLMService {
	service := createBaseLLMService()
	service.providerName = "empty"
	service.readyState = "Standby mode, configure an API key in settings"
	return service
}

func createBaseLLMService() *LLMService {
	return &LLMService{
		provider:     nil,
		providerName: "",
		isReady:      false,
		readyState:   "Uninitialized",
		cache: &LLMCache{
			cache:      make(map[string]*CacheEntry),
			expiration: 30 * time.Minute,
		},
	}
}

// IsReady reports whether the service can serve completions.
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()

	if s.provider != nil && s.isReady {
		return true
	}

	// The provider may be initializable from the current config even
	// when this instance has not picked it up yet.
	cfg := config.GetCurrentConfig()
	if cfg == nil || cfg.LLMProvider == "" {
		return false
	}
	if cfg.LLMConfig == nil || cfg.LLMConfig["api_key"] == "" {
		return false
	}
	return true
}

// GetReadyState returns a human-readable status description.
func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()

	cfg := config.GetCurrentConfig()
	if cfg == nil {
		return "Cannot get configuration"
	}
	if cfg.LLMProvider == "" {
		return "LLM provider not configured"
	}
	if cfg.LLMConfig == nil || cfg.LLMConfig["api_key"] == "" {
		return "API key not configured"
	}
	if s.provider != nil && s.isReady {
		return "Ready"
	}
	return "Waiting for initialization"
}

// GetProviderStatus returns readiness plus a description in one call.
func (s *LLMService) GetProviderStatus() (bool, string) {
	if s == nil {
		return false, "LLM service not initialized"
	}
	if s.IsReady() {
		return true, "Ready"
	}
	return false, s.GetReadyState()
}

// GetProviderName returns the active provider's registry name.
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// ActiveModel returns the model the next call would use.
func (s *LLMService) ActiveModel() string {
	return s.resolveModel("")
}

// UpdateProvider swaps the active provider. The completion cache is
// dropped because cached responses belong to the previous provider.
func (s *LLMService) UpdateProvider(providerName string, providerConfig map[string]string) error {
	provider, err := llm.GetProvider(providerName, providerConfig)
	if err != nil {
		s.providerMutex.Lock()
		s.isReady = false
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		s.providerMutex.Unlock()
		return err
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = providerName
	s.activeDefaultModel = extractDefaultModel(providerConfig)
	s.isReady = true
	s.readyState = "Ready"

	s.cache = &LLMCache{
		cache:      make(map[string]*CacheEntry),
		expiration: 30 * time.Minute,
	}

	return nil
}

// TestProviderConnection initializes a throwaway provider from the
// given config and runs a minimal completion against it.
func (s *LLMService) TestProviderConnection(ctx context.Context, providerName string, providerConfig map[string]string) error {
	provider, err := llm.GetProvider(providerName, providerConfig)
	if err != nil {
		return apperrors.NewLLMError("provider initialization failed", err)
	}

	_, err = provider.CompleteText(ctx, llm.CompletionRequest{
		Prompt:    "Reply with the single word: ok",
		MaxTokens: 8,
	})
	if err != nil {
		return apperrors.NewLLMError("provider test call failed", err)
	}
	return nil
}

// CreateCompletion runs a plain text completion through the active
// provider, with caching.
func (s *LLMService) CreateCompletion(ctx context.Context, prompt, systemPrompt string) (*llm.CompletionResponse, error) {
	provider, err := s.activeProvider()
	if err != nil {
		return nil, err
	}

	model := s.resolveModel("")
	cacheKey := s.generateCacheKey(prompt, systemPrompt, model)

	if cached, found := s.cache.getFromCache(cacheKey); found {
		var resp llm.CompletionResponse
		if err := json.Unmarshal(cached, &resp); err == nil {
			utils.GetLogger().Debug("LLM completion cache hit", map[string]interface{}{"cache_key_prefix": cacheKey[:8]})
			return &resp, nil
		}
	}

	resp, err := provider.CompleteText(ctx, llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		Temperature:  0.7,
		Model:        model,
	})
	if err != nil {
		return nil, apperrors.NewLLMError("completion failed", err)
	}

	if data, err := json.Marshal(resp); err == nil {
		s.cache.saveToCache(cacheKey, data)
	}
	return resp, nil
}

// CreateStructuredCompletion asks the model for JSON and parses the
// cleaned response into outputSchema. The returned response carries the
// raw text and token usage; usage is zero on a cache hit.
func (s *LLMService) CreateStructuredCompletion(ctx context.Context, prompt, systemPrompt string, outputSchema interface{}) (*llm.CompletionResponse, error) {
	provider, err := s.activeProvider()
	if err != nil {
		return nil, err
	}

	model := s.resolveModel("")
	cacheKey := s.generateCacheKey(prompt, systemPrompt, model)

	if cached, found := s.cache.getFromCache(cacheKey); found {
		if err := json.Unmarshal(cached, outputSchema); err == nil {
			utils.GetLogger().Debug("LLM structured cache hit", map[string]interface{}{"cache_key_prefix": cacheKey[:8]})
			return &llm.CompletionResponse{Text: string(cached), ModelName: model}, nil
		}
	}

	structuredSystemPrompt := systemPrompt
	if structuredSystemPrompt != "" {
		structuredSystemPrompt += "\n\n"
	}
	structuredSystemPrompt += "Return your response in valid JSON format, following the provided output schema, without adding explanations or preambles."

	resp, err := provider.CompleteText(ctx, llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: structuredSystemPrompt,
		Temperature:  0.3,
		Model:        model,
	})
	if err != nil {
		return nil, apperrors.NewLLMError("completion failed", err)
	}

	text := cleanJSONString(resp.Text)
	if err := json.Unmarshal([]byte(text), outputSchema); err != nil {
		return resp, apperrors.NewValidationError(
			fmt.Sprintf("model response is not valid JSON: %v", err), nil)
	}

	s.cache.saveToCache(cacheKey, []byte(text))
	return resp, nil
}

// activeProvider returns the provider or a typed not-ready failure.
func (s *LLMService) activeProvider() (llm.Provider, error) {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()

	if !s.isReady || s.provider == nil {
		return nil, apperrors.NewLLMError(fmt.Sprintf("LLM service not ready: %s", s.readyState), ErrLLMNotReady)
	}
	return s.provider, nil
}

func (s *LLMService) generateCacheKey(prompt, systemPrompt, model string) string {
	s.providerMutex.RLock()
	providerName := s.providerName
	s.providerMutex.RUnlock()

	hashInput := fmt.Sprintf("%s:::%s:::%s:::%s", prompt, systemPrompt, model, providerName)
	h := md5.New()
	h.Write([]byte(hashInput))
	return fmt.Sprintf("%x", h.Sum(nil))
}

func (c *LLMCache) getFromCache(key string) ([]byte, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.cache[key]
	if !exists {
		return nil, false
	}
	if time.Since(entry.CreatedAt) > c.expiration {
		return nil, false
	}
	return entry.Response, true
}

func (c *LLMCache) saveToCache(key string, response []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.cache[key] = &CacheEntry{
		Response:  response,
		CreatedAt: time.Now(),
	}

	if len(c.cache) > 1000 {
		c.cleanupOldest(100)
	}
}

func (c *LLMCache) cleanupOldest(count int) {
	type keyAge struct {
		key string
		age time.Time
	}

	entries := make([]keyAge, 0, len(c.cache))
	for k, v := range c.cache {
		entries = append(entries, keyAge{k, v.CreatedAt})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].age.Before(entries[j].age)
	})

	maxToDelete := min(count, len(entries))
	for i := 0; i < maxToDelete; i++ {
		delete(c.cache, entries[i].key)
	}
}

func (s *LLMService) resolveModel(requestedModel string) string {
	if trimmed := strings.TrimSpace(requestedModel); trimmed != "" {
		return trimmed
	}

	s.providerMutex.RLock()
	provider := s.provider
	providerName := s.providerName
	activeDefault := s.activeDefaultModel
	s.providerMutex.RUnlock()

	if activeDefault != "" {
		return activeDefault
	}

	if provider != nil {
		if models := provider.GetSupportedModels(); len(models) > 0 {
			if model := strings.TrimSpace(models[0]); model != "" {
				return model
			}
		}
	}

	if cfg := config.GetCurrentConfig(); cfg != nil && cfg.LLMProvider == providerName {
		if cfg.LLMConfig != nil {
			if model := strings.TrimSpace(cfg.LLMConfig["default_model"]); model != "" {
				return model
			}
		}
	}

	if model, exists := providerDefaultModels[providerName]; exists {
		return model
	}

	return "claude-3.7-sonnet"
}

func extractDefaultModel(cfg map[string]string) string {
	if cfg == nil {
		return ""
	}
	if model := strings.TrimSpace(cfg["default_model"]); model != "" {
		return model
	}
	if model := strings.TrimSpace(cfg["model"]); model != "" {
		return model
	}
	return ""
}

// Models return noisy JSON: markdown fences, BOMs, full-width
// punctuation, prose before the first brace. The cleaning pass below
// strips the noise and extracts the first balanced JSON value.

var jsonNoiseReplacer = strings.NewReplacer(
	"```json", "",
	"```", "",
	"﻿", "",
	" ", " ",
	" ", "\n",
	" ", "\n",
)

var structuralPunctuationMap = map[rune]rune{
	'：': ':',
	'﹕': ':',
	'，': ',',
	'﹐': ',',
	'；': ';',
	'﹔': ';',
	'【': '[',
	'】': ']',
	'［': '[',
	'］': ']',
	'｛': '{',
	'｝': '}',
	'（': '(',
	'）': ')',
}

var quotePairs = map[rune]rune{
	'"': '"',
	'“': '”',
	'”': '”',
	'„': '”',
	'‟': '”',
	'「': '」',
	'」': '」',
	'『': '』',
	'﹁': '﹂',
	'﹂': '﹂',
}

func normalizeJSONStructure(s string) string {
	if s == "" {
		return s
	}

	var builder strings.Builder
	builder.Grow(len(s))
	inString := false
	escaped := false
	currentClosing := '"'

	for _, r := range s {
		if inString {
			if !escaped && r == '\\' {
				escaped = true
				builder.WriteRune(r)
				continue
			}
			if escaped {
				escaped = false
				builder.WriteRune(r)
				continue
			}
			if r == currentClosing || r == '"' {
				inString = false
				currentClosing = '"'
				builder.WriteRune('"')
				continue
			}
			builder.WriteRune(r)
			continue
		}

		if replacement, ok := structuralPunctuationMap[r]; ok {
			r = replacement
		} else if closing, ok := quotePairs[r]; ok {
			inString = true
			currentClosing = closing
			builder.WriteRune('"')
			continue
		} else if r == '"' {
			inString = true
			currentClosing = '"'
			builder.WriteRune(r)
			continue
		} else if r > unicode.MaxASCII && !unicode.IsSpace(r) {
			// Stray non-ASCII outside strings is model noise.
			continue
		}

		builder.WriteRune(r)
	}

	return builder.String()
}

func cleanJSONString(s string) string {
	if s == "" {
		return s
	}

	s = jsonNoiseReplacer.Replace(s)
	s = strings.TrimSpace(s)

	// Zero-width characters and control characters break json.Unmarshal.
	s = strings.Map(func(r rune) rune {
		switch r {
		case '​', '‌', '‍', '⁠', '﻿':
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	start := strings.IndexAny(s, "[{")
	if start == -1 {
		return s
	}

	s = strings.TrimSpace(s[start:])
	if s == "" {
		return s
	}

	s = normalizeJSONStructure(s)

	isArray := len(s) > 0 && s[0] == '['

	balance := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		char := s[i]

		if escaped {
			escaped = false
			continue
		}
		if char == '\\' {
			escaped = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			if isArray {
				if char == '[' {
					balance++
				} else if char == ']' {
					balance--
				}
			} else {
				if char == '{' {
					balance++
				} else if char == '}' {
					balance--
				}
			}

			if balance == 0 {
				return strings.TrimSpace(s[:i+1])
			}
		}
	}

	// No balanced close found, fall back to the last closer.
	end := -1
	if isArray {
		end = strings.LastIndex(s, "]")
	} else {
		end = strings.LastIndex(s, "}")
	}
	if end != -1 {
		return strings.TrimSpace(s[:end+1])
	}

	return strings.TrimSpace(s)
}

// CleanLLMJSONResponse exposes the JSON cleaning pass for callers that
// handle raw completions themselves.
func CleanLLMJSONResponse(raw string) string {
	return cleanJSONString(raw)
}
