package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIConfig configures an OpenAI-compatible embedding provider
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dimensions requests reduced output dimensions on models that support
	// it (text-embedding-3-*). Zero uses the model default.
	Dimensions int
	Timeout    time.Duration
}

// OpenAIProvider implements Provider against the OpenAI embeddings API.
// Any endpoint speaking the same wire format (Azure OpenAI, local inference
// servers) works through BaseURL.
type OpenAIProvider struct {
	config     OpenAIConfig
	httpClient *http.Client
}

// NewOpenAIProvider creates a new OpenAI embedding provider
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("embedding: API key is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("embedding: model is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultOpenAIBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &OpenAIProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

type openAIRequest struct {
	Input          string `json:"input"`
	Model          string `json:"model"`
	EncodingFormat string `json:"encoding_format,omitempty"`
	Dimensions     *int   `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// GenerateEmbedding generates an embedding via the OpenAI API
func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	reqBody := openAIRequest{
		Input: text,
		Model: p.config.Model,
	}
	if p.config.Dimensions > 0 {
		dims := p.config.Dimensions
		reqBody.Dimensions = &dims
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal request: %v", ErrEmbeddingFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrEmbeddingFailed, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrEmbeddingFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: API error (status %d): %s", ErrEmbeddingFailed, resp.StatusCode, string(body))
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(body, &openAIResp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrEmbeddingFailed, err)
	}

	if len(openAIResp.Data) == 0 {
		return nil, fmt.Errorf("%w: no embedding data in response", ErrEmbeddingFailed)
	}

	vector := openAIResp.Data[0].Embedding
	if p.config.Dimensions > 0 && len(vector) != p.config.Dimensions {
		return nil, fmt.Errorf("%w: expected %d dimensions, got %d", ErrEmbeddingFailed, p.config.Dimensions, len(vector))
	}

	return vector, nil
}

// Model returns the configured model identifier
func (p *OpenAIProvider) Model() string {
	return p.config.Model
}

// Dimensions returns the configured vector length
func (p *OpenAIProvider) Dimensions() int {
	return p.config.Dimensions
}
