package rag

import (
	"context"
	"fmt"

	"cnb.cool/zhiqiangwang/pkg/logx"

	"github.com/ximass/lumnia/internal/config"
	"github.com/ximass/lumnia/internal/llm"
	"github.com/ximass/lumnia/internal/model"
	"github.com/ximass/lumnia/internal/search"
	"github.com/ximass/lumnia/internal/service"
)

// apologyMessage 生成失败时落库并返回给用户的兜底回答
const apologyMessage = "Desculpe, ocorreu um erro ao processar sua solicitação. Tente novamente."

// StreamEvent 流式生成事件
type StreamEvent struct {
	Type      string                    `json:"type"` // start / chunk / complete / error
	MessageID uint                      `json:"message_id,omitempty"`
	Content   string                    `json:"content,omitempty"`
	Answer    string                    `json:"answer,omitempty"`
	Sources   []model.InformationSource `json:"sources,omitempty"`
	Error     string                    `json:"error,omitempty"`
}

// Answer 非流式生成结果
type Answer struct {
	MessageID uint                      `json:"message_id"`
	Text      string                    `json:"answer"`
	Sources   []model.InformationSource `json:"sources"`
}

// Dispatcher 生成调度器，串起检索、人格、上下文与模型调用
type Dispatcher struct {
	chats     *service.ChatService
	sources   *service.SourceService
	retriever *search.HybridRetriever
	provider  llm.ChatProvider
	cfg       config.ChatConfig
}

// NewDispatcher 创建生成调度器
func NewDispatcher(chats *service.ChatService, sources *service.SourceService,
	retriever *search.HybridRetriever, provider llm.ChatProvider, cfg config.ChatConfig) *Dispatcher {
	return &Dispatcher{
		chats:     chats,
		sources:   sources,
		retriever: retriever,
		provider:  provider,
		cfg:       cfg,
	}
}

// prepared 一次生成所需的全部输入
type prepared struct {
	message  *model.Message
	messages []llm.Message
	sources  []model.InformationSource
	opts     []llm.GenerateOption
}

// prepare 落库提问、检索知识块、解析人格并组装模型输入
func (d *Dispatcher) prepare(ctx context.Context, chat *model.Chat, question string) (*prepared, error) {
	message, err := d.chats.CreateMessage(chat.ID, chat.Username, question)
	if err != nil {
		return nil, fmt.Errorf("failed to persist question: %w", err)
	}

	// 检索失败不终止生成，退化为无上下文回答
	var chunks []search.ScoredChunk
	if chat.KBID != "" {
		chunks, err = d.retriever.RetrieveRelevantChunks(ctx, chat.KBID, question)
		if err != nil {
			logx.Warn("Retrieval failed for chat %d, answering without context: %v", chat.ID, err)
			chunks = nil
		}
	}

	sourceIDs := make([]string, 0, len(chunks))
	for _, sc := range chunks {
		sourceIDs = append(sourceIDs, sc.Chunk.SourceID)
	}
	sourceNames, err := d.sources.SourceNames(sourceIDs)
	if err != nil {
		logx.Warn("Failed to load source names: %v", err)
		sourceNames = map[string]string{}
	}

	persona, err := d.chats.ResolvePersona(chat)
	if err != nil {
		logx.Warn("Failed to resolve persona for chat %d: %v", chat.ID, err)
		persona = nil
	}

	// 人格的 creativity 就是本次生成的温度
	var opts []llm.GenerateOption
	if persona != nil {
		opts = append(opts, llm.WithTemperature(persona.Creativity))
	}

	messages := []llm.Message{
		{Role: "system", Content: buildSystemPrompt(persona, chunks, sourceNames)},
	}

	if d.cfg.Context.Enabled {
		history, err := d.chats.RecentMessages(chat.ID, d.cfg.Context.Limit)
		if err != nil {
			logx.Warn("Failed to load chat history for chat %d: %v", chat.ID, err)
		} else {
			for _, m := range selectContextMessages(history, d.cfg.Context.MaxTokens) {
				messages = append(messages,
					llm.Message{Role: "user", Content: m.Text},
					llm.Message{Role: "assistant", Content: m.Answer},
				)
			}
		}
	}

	messages = append(messages, llm.Message{Role: "user", Content: question})

	infoSources := make([]model.InformationSource, 0, len(chunks))
	for _, sc := range chunks {
		infoSources = append(infoSources, model.InformationSource{
			ChunkID: sc.Chunk.ID,
			Content: sc.Chunk.Text,
		})
	}

	return &prepared{
		message:  message,
		messages: messages,
		sources:  infoSources,
		opts:     opts,
	}, nil
}

// ContextInfo 会话上下文预览: 下一次提问会携带哪些历史消息
type ContextInfo struct {
	Enabled         bool            `json:"enabled"`
	Limit           int             `json:"limit"`
	MaxTokens       int             `json:"max_tokens"`
	EstimatedTokens int             `json:"estimated_tokens"`
	Messages        []model.Message `json:"messages"`
}

// PreviewContext 返回当前上下文配置和预算内会被携带的历史消息
func (d *Dispatcher) PreviewContext(chat *model.Chat) (*ContextInfo, error) {
	info := &ContextInfo{
		Enabled:   d.cfg.Context.Enabled,
		Limit:     d.cfg.Context.Limit,
		MaxTokens: d.cfg.Context.MaxTokens,
		Messages:  []model.Message{},
	}
	if !info.Enabled {
		return info, nil
	}

	history, err := d.chats.RecentMessages(chat.ID, d.cfg.Context.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	info.Messages = selectContextMessages(history, d.cfg.Context.MaxTokens)
	for _, m := range info.Messages {
		info.EstimatedTokens += estimateMessageTokens(m)
	}
	return info, nil
}

// GenerateAnswer 非流式生成
// 模型失败时把兜底回答落库返回，不让用户请求失败
func (d *Dispatcher) GenerateAnswer(ctx context.Context, chat *model.Chat, question string) (*Answer, error) {
	prep, err := d.prepare(ctx, chat, question)
	if err != nil {
		return nil, err
	}

	answer, err := d.provider.Generate(ctx, prep.messages, prep.opts...)
	if err != nil {
		logx.Error("Generation failed for chat %d: %v", chat.ID, err)
		answer = apologyMessage
		prep.sources = nil
	}

	if saveErr := d.chats.SetMessageAnswer(prep.message.ID, answer, prep.sources); saveErr != nil {
		logx.Error("Failed to persist answer for message %d: %v", prep.message.ID, saveErr)
	}

	return &Answer{
		MessageID: prep.message.ID,
		Text:      answer,
		Sources:   prep.sources,
	}, nil
}

// GenerateAnswerStream 流式生成
// 事件序列: start -> chunk* -> complete，失败时以 error 事件收尾
// 完整回答在 complete 前落库
func (d *Dispatcher) GenerateAnswerStream(ctx context.Context, chat *model.Chat, question string) (<-chan StreamEvent, error) {
	prep, err := d.prepare(ctx, chat, question)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent, 10)

	go func() {
		defer close(events)

		events <- StreamEvent{Type: "start", MessageID: prep.message.ID}

		contentCh, errCh, err := d.provider.GenerateStream(ctx, prep.messages, prep.opts...)
		if err != nil {
			d.failStream(events, prep.message.ID, err)
			return
		}

		var answer string
		for chunk := range contentCh {
			answer += chunk
			events <- StreamEvent{Type: "chunk", MessageID: prep.message.ID, Content: chunk}
		}

		if streamErr := <-errCh; streamErr != nil {
			d.failStream(events, prep.message.ID, streamErr)
			return
		}

		if saveErr := d.chats.SetMessageAnswer(prep.message.ID, answer, prep.sources); saveErr != nil {
			logx.Error("Failed to persist answer for message %d: %v", prep.message.ID, saveErr)
		}

		events <- StreamEvent{
			Type:      "complete",
			MessageID: prep.message.ID,
			Answer:    answer,
			Sources:   prep.sources,
		}
	}()

	return events, nil
}

// failStream 流式失败收尾: 兜底回答落库，发 error 事件
func (d *Dispatcher) failStream(events chan<- StreamEvent, messageID uint, cause error) {
	logx.Error("Stream generation failed for message %d: %v", messageID, cause)

	if saveErr := d.chats.SetMessageAnswer(messageID, apologyMessage, nil); saveErr != nil {
		logx.Error("Failed to persist fallback answer for message %d: %v", messageID, saveErr)
	}

	events <- StreamEvent{
		Type:      "error",
		MessageID: messageID,
		Answer:    apologyMessage,
		Error:     cause.Error(),
	}
}
