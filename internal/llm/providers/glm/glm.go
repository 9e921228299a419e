// internal/llm/providers/glm/glm.go
package glm

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Corphon/StoryLoomMCP/internal/llm"
)

func init() {
	llm.Register("glm", func() llm.Provider {
		return &Provider{
			recommendedModels: []string{
				"glm-4",
				"glm-4-plus",
				"glm-4.5-air",
				"glm-4.5",
				"glm-4.6",
			},
			baseURL: "https://open.bigmodel.cn/api/paas/v4",
		}
	})
}

// Provider calls the Zhipu GLM chat API. Requests carry both a Bearer
// token and an HMAC-SHA256 signature over the key and timestamp.
type Provider struct {
	apiKey            string
	apiSecret         string
	baseURL           string
	client            *http.Client
	defaultModel      string
	recommendedModels []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey, exists := config["api_key"]
	if !exists || apiKey == "" {
		return errors.New("glm: api_key is required")
	}

	// Zhipu issues a key/secret pair; the secret signs each request.
	apiSecret, exists := config["api_secret"]
	if !exists || apiSecret == "" {
		return errors.New("glm: api_secret is required")
	}

	p.apiKey = apiKey
	p.apiSecret = apiSecret
	p.client = &http.Client{}

	if model, exists := config["default_model"]; exists && model != "" {
		p.defaultModel = model
	} else {
		p.defaultModel = "glm-4.5-air"
	}

	if baseURL, exists := config["base_url"]; exists && baseURL != "" {
		p.baseURL = baseURL
	}

	return nil
}

func (p *Provider) GetName() string {
	return "Zhipu GLM"
}

func (p *Provider) GetSupportedModels() []string {
	return p.recommendedModels
}

// createSignature signs "<api_key>\n<timestamp>" with the API secret.
func (p *Provider) createSignature(timestamp int64) string {
	signStr := fmt.Sprintf("%s\n%d", p.apiKey, timestamp)

	h := hmac.New(sha256.New, []byte(p.apiSecret))
	h.Write([]byte(signStr))

	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := []map[string]string{
		{"role": "user", "content": req.Prompt},
	}
	if req.SystemPrompt != "" {
		messages = append([]map[string]string{
			{"role": "system", "content": req.SystemPrompt},
		}, messages...)
	}

	requestBody := map[string]interface{}{
		"model":       model,
		"messages":    messages,
		"stream":      false,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		requestBody["max_tokens"] = req.MaxTokens
	}
	if req.TopP > 0 {
		requestBody["top_p"] = req.TopP
	}
	for k, v := range req.ExtraParams {
		requestBody[k] = v
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		"POST",
		p.baseURL+"/chat/completions",
		bytes.NewBuffer(jsonData),
	)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Unix()
	signature := p.createSignature(timestamp)

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("X-ZhipuAI-Timestamp", fmt.Sprintf("%d", timestamp))
	httpReq.Header.Set("X-ZhipuAI-Signature", signature)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("glm: API error (%d): %s", httpResp.StatusCode, string(body))
	}

	var response struct {
		ID      string `json:"id"`
		Created int64  `json:"created"`
		Model   string `json:"model"`
		Choices []struct {
			Index   int `json:"index"`
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}

	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, err
	}
	if len(response.Choices) == 0 {
		return nil, errors.New("glm: response contained no choices")
	}

	return &llm.CompletionResponse{
		Text:         response.Choices[0].Message.Content,
		FinishReason: response.Choices[0].FinishReason,
		TokensUsed:   response.Usage.TotalTokens,
		PromptTokens: response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
		ModelName:    response.Model,
		ProviderName: p.GetName(),
	}, nil
}
