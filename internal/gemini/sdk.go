package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// SDKClient generates text through the official Google GenAI SDK.
type SDKClient struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewSDKClient builds a Gemini API backend client. cfg.BaseURL, when set,
// overrides the SDK's endpoint root; the API version is taken from its last
// path segment if it names one.
func NewSDKClient(ctx context.Context, cfg Config, logger *zap.Logger) (*SDKClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		root, version := splitAPIVersion(base)
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: root + "/", APIVersion: version}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &SDKClient{client: client, model: model, logger: logger}, nil
}

func (c *SDKClient) Generate(ctx context.Context, prompt string) (string, error) {
	result, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		nil,
	)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && apiErr.Code != 0 {
			return "", &StatusError{Code: apiErr.Code, Body: apiErr.Message}
		}
		return "", fmt.Errorf("generate content: %w", err)
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", nil
	}
	parts := result.Candidates[0].Content.Parts
	if len(parts) == 0 || parts[0] == nil {
		return "", nil
	}
	return parts[0].Text, nil
}

func splitAPIVersion(base string) (root, version string) {
	idx := strings.LastIndex(base, "/")
	if idx < 0 {
		return base, ""
	}
	last := base[idx+1:]
	if len(last) > 1 && last[0] == 'v' && last[1] >= '0' && last[1] <= '9' {
		return base[:idx], last
	}
	return base, ""
}
