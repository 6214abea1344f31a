package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ximass/lumnia/internal/config"
)

// OllamaChatProvider Ollama 对话提供方
// /api/generate 只接受单个 prompt，消息列表在发送前拍平
type OllamaChatProvider struct {
	cfg    config.LLMProviderConfig
	client *http.Client
}

// NewOllamaChatProvider 创建 Ollama 对话提供方
func NewOllamaChatProvider(cfg config.LLMProviderConfig) *OllamaChatProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama2"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	return &OllamaChatProvider{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Model 当前模型标识
func (p *OllamaChatProvider) Model() string { return p.cfg.Model }

// flattenMessages 把消息列表拍平成单个 prompt
// system 消息放最前，user/assistant 按角色标注
func flattenMessages(messages []Message) string {
	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			b.WriteString(msg.Content)
			b.WriteString("\n\n")
		case "assistant":
			b.WriteString("Assistant: ")
			b.WriteString(msg.Content)
			b.WriteString("\n")
		default:
			b.WriteString("User: ")
			b.WriteString(msg.Content)
			b.WriteString("\n")
		}
	}
	b.WriteString("Assistant: ")
	return b.String()
}

func (p *OllamaChatProvider) buildRequest(messages []Message, stream bool, opts GenerateOptions) ollamaGenerateRequest {
	req := ollamaGenerateRequest{
		Model:  p.cfg.Model,
		Prompt: flattenMessages(messages),
		Stream: stream,
	}
	switch {
	case opts.Temperature != nil:
		req.Options = map[string]any{"temperature": *opts.Temperature}
	case p.cfg.Temperature > 0:
		req.Options = map[string]any{"temperature": p.cfg.Temperature}
	}
	return req
}

// Generate 非流式生成
func (p *OllamaChatProvider) Generate(ctx context.Context, messages []Message, opts ...GenerateOption) (string, error) {
	jsonData, err := json.Marshal(p.buildRequest(messages, false, ApplyOptions(opts)))
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var genResp ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	return genResp.Response, nil
}

// GenerateStream 流式生成，逐行解析 NDJSON，坏行跳过
func (p *OllamaChatProvider) GenerateStream(ctx context.Context, messages []Message, opts ...GenerateOption) (<-chan string, <-chan error, error) {
	jsonData, err := json.Marshal(p.buildRequest(messages, true, ApplyOptions(opts)))
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("calling ollama: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	contentCh := make(chan string, 10)
	errCh := make(chan error, 1)

	go func() {
		defer close(contentCh)
		defer close(errCh)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}

			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var chunk ollamaGenerateResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue
			}

			if chunk.Response != "" {
				contentCh <- chunk.Response
			}
			if chunk.Done {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errCh <- err
		}
	}()

	return contentCh, errCh, nil
}
