// internal/llm/providers/githubmodels/github.go
package githubmodels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Corphon/StoryLoomMCP/internal/llm"
)

func init() {
	llm.Register("githubmodels", func() llm.Provider {
		return &Provider{
			recommendedModels: []string{
				"gpt-4o",
				"o1",
				"o3-mini",
				"Phi-4",
				"Phi-4-multimodal-instruct",
			},
			baseURL: "https://models.inference.ai.azure.com",
		}
	})
}

// Provider calls the GitHub Models catalog served through the Azure
// inference endpoint. Auth uses a GitHub token in the api-key header.
type Provider struct {
	apiKey            string
	baseURL           string
	client            *http.Client
	defaultModel      string
	recommendedModels []string
	deploymentID      string
	apiVersion        string
	region            string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey, exists := config["api_key"]
	if !exists || apiKey == "" {
		return errors.New("githubmodels: api_key is required")
	}

	p.apiKey = apiKey
	p.client = &http.Client{}

	if model, exists := config["default_model"]; exists && model != "" {
		p.defaultModel = model
	} else {
		p.defaultModel = "o3-mini"
	}

	if baseURL, exists := config["base_url"]; exists && baseURL != "" {
		p.baseURL = baseURL
	}

	if deploymentID, exists := config["deployment_id"]; exists {
		p.deploymentID = deploymentID
	}

	if apiVersion, exists := config["api_version"]; exists {
		p.apiVersion = apiVersion
	} else {
		p.apiVersion = "2023-08-01"
	}

	if region, exists := config["region"]; exists {
		p.region = region
	}

	return nil
}

func (p *Provider) GetName() string {
	return "GitHub Models"
}

func (p *Provider) GetSupportedModels() []string {
	return p.recommendedModels
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	// A pinned deployment overrides the per-model route.
	var endpoint string
	if p.deploymentID != "" {
		endpoint = fmt.Sprintf("/deployments/%s/chat/completions", p.deploymentID)
	} else {
		endpoint = "/chat/completions"
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

	url := p.baseURL + endpoint
	if strings.Contains(url, "?") {
		url += "&api-version=" + p.apiVersion
	} else {
		url += "?api-version=" + p.apiVersion
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", p.apiKey)
	if p.region != "" {
		httpReq.Header.Set("azureml-model-deployment", p.region)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("githubmodels: API error (%d): %s", httpResp.StatusCode, string(body))
	}

	var response struct {
		ID      string `json:"id"`
		Created int64  `json:"created"`
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
		return nil, errors.New("githubmodels: response contained no choices")
	}

	return &llm.CompletionResponse{
		Text:         response.Choices[0].Message.Content,
		FinishReason: response.Choices[0].FinishReason,
		TokensUsed:   response.Usage.TotalTokens,
		PromptTokens: response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
		ModelName:    model,
		ProviderName: p.GetName(),
	}, nil
}
