package config

import "time"

// Config 全局配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Search    SearchConfig    `mapstructure:"search"`
	Chat      ChatConfig      `mapstructure:"chat"`
}

// ChunkingConfig 文本切分配置
type ChunkingConfig struct {
	MaxTokens     int `mapstructure:"max_tokens"`
	OverlapTokens int `mapstructure:"overlap_tokens"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	HTTP HTTPConfig `mapstructure:"http"`
}

// HTTPConfig HTTP 监听配置
type HTTPConfig struct {
	Port  int  `mapstructure:"port"`
	Debug bool `mapstructure:"debug"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig Redis 配置(任务队列与 embedding 缓存共用)
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

// QueueConfig 摄取任务队列配置
type QueueConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// StorageConfig 文件存储配置
type StorageConfig struct {
	SourcesDir string `mapstructure:"sources_dir"`
}

// EmbeddingConfig Embedding 服务配置
// Provider 取值: openai(本地 OpenAI 兼容端点) / cloud(云端，需 API Key) / ollama
type EmbeddingConfig struct {
	Provider string                  `mapstructure:"provider"`
	OpenAI   EmbeddingProviderConfig `mapstructure:"openai"`
	Cloud    EmbeddingProviderConfig `mapstructure:"cloud"`
	Ollama   EmbeddingProviderConfig `mapstructure:"ollama"`
}

// EmbeddingProviderConfig 单个 embedding 提供商配置，客户端生命周期内不可变
type EmbeddingProviderConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	BatchSize  int           `mapstructure:"batch_size"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Active 返回当前选中的提供商配置
func (c *EmbeddingConfig) Active() EmbeddingProviderConfig {
	switch c.Provider {
	case "ollama":
		return c.Ollama
	case "cloud":
		return c.Cloud
	default:
		return c.OpenAI
	}
}

// LLMConfig 生成服务配置
// Provider 取值: openai(OpenAI 兼容 chat 端点) / ollama(generate 端点)
type LLMConfig struct {
	Provider string            `mapstructure:"provider"`
	OpenAI   LLMProviderConfig `mapstructure:"openai"`
	Ollama   LLMProviderConfig `mapstructure:"ollama"`
}

// LLMProviderConfig 单个 LLM 提供商配置
type LLMProviderConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Active 返回当前选中的提供商配置
func (c *LLMConfig) Active() LLMProviderConfig {
	if c.Provider == "ollama" {
		return c.Ollama
	}
	return c.OpenAI
}

// SearchConfig 混合检索与重排配置
type SearchConfig struct {
	SemanticWeight   float64 `mapstructure:"semantic_weight"`
	LexicalWeight    float64 `mapstructure:"lexical_weight"`
	MinSemanticScore float64 `mapstructure:"min_semantic_score"`
	MinLexicalScore  float64 `mapstructure:"min_lexical_score"`
	RAGThreshold     float64 `mapstructure:"rag_threshold"`
	MaxChunks        int     `mapstructure:"max_chunks"`
	RerankTopK       int     `mapstructure:"rerank_top_k"`
	EnableReranking  bool    `mapstructure:"enable_reranking"`
	RerankUseBatch   bool    `mapstructure:"rerank_use_batch"`
	RerankBatchSize  int     `mapstructure:"rerank_batch_size"`
}

// ChatConfig 对话配置
type ChatConfig struct {
	Context   ContextConfig   `mapstructure:"context"`
	Streaming StreamingConfig `mapstructure:"streaming"`
}

// ContextConfig 会话上下文配置
type ContextConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	Limit     int  `mapstructure:"limit"`      // 最多携带的历史轮数
	MaxTokens int  `mapstructure:"max_tokens"` // 上下文 token 预算
}

// StreamingConfig 流式输出配置
type StreamingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
