package llm

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"time"

	"cnb.cool/zhiqiangwang/pkg/logx"
	openai "github.com/sashabaranov/go-openai"

	"github.com/ximass/lumnia/internal/config"
)

// OpenAIChatProvider OpenAI 兼容的对话提供方
// 同时覆盖本地推理服务（LM Studio 等）和云端 API
type OpenAIChatProvider struct {
	cfg    config.LLMProviderConfig
	client *openai.Client
}

// NewOpenAIChatProvider 创建 OpenAI 兼容提供方
func NewOpenAIChatProvider(cfg config.LLMProviderConfig) *OpenAIChatProvider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)

	// 直接使用配置的 BaseURL,不自动添加 /v1
	// 不同的 API 提供商路径格式不同
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
		logx.Debug("OpenAI client BaseURL: %s", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	// 禁用 HTTP/2,强制使用 HTTP/1.1 以避免 INTERNAL_ERROR
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSNextProto:        make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
	}

	clientConfig.HTTPClient = &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}

	logx.Info("OpenAI chat client initialized, model %s", cfg.Model)

	return &OpenAIChatProvider{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientConfig),
	}
}

// Model 当前模型标识
func (p *OpenAIChatProvider) Model() string { return p.cfg.Model }

// Generate 非流式生成
func (p *OpenAIChatProvider) Generate(ctx context.Context, messages []Message, opts ...GenerateOption) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(messages, false, ApplyOptions(opts)))
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no response choices")
	}

	return resp.Choices[0].Message.Content, nil
}

// GenerateStream 流式生成
func (p *OpenAIChatProvider) GenerateStream(ctx context.Context, messages []Message, opts ...GenerateOption) (<-chan string, <-chan error, error) {
	contentCh := make(chan string, 10)
	errCh := make(chan error, 1)

	go func() {
		defer close(contentCh)
		defer close(errCh)

		logx.Debug("Creating chat completion stream")
		stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(messages, true, ApplyOptions(opts)))
		if err != nil {
			logx.Error("Failed to create chat completion stream %v", err)
			errCh <- err
			return
		}
		defer func() { _ = stream.Close() }()

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				logx.Debug("Stream completed successfully")
				break
			}
			if err != nil {
				logx.Error("Stream error %v", err)
				errCh <- err
				return
			}

			if len(response.Choices) > 0 {
				delta := response.Choices[0].Delta.Content
				if delta != "" {
					select {
					case contentCh <- delta:
					case <-ctx.Done():
						errCh <- ctx.Err()
						return
					}
				}
			}
		}
	}()

	return contentCh, errCh, nil
}

func (p *OpenAIChatProvider) buildRequest(messages []Message, stream bool, opts GenerateOptions) openai.ChatCompletionRequest {
	openaiMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		openaiMessages = append(openaiMessages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	temperature := p.cfg.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}

	return openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		Messages:    openaiMessages,
		Temperature: float32(temperature),
		MaxTokens:   p.cfg.MaxTokens,
		Stream:      stream,
	}
}
