package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoadConfig 加载配置文件
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	// 设置配置文件
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		// 默认配置文件搜索路径
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.lumnia")
		v.AddConfigPath("/etc/lumnia")
	}

	// 支持环境变量
	v.SetEnvPrefix("LUMNIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// 如果是找不到配置文件，则使用默认配置
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// 解析配置
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 替换环境变量
	expandEnvVars(&config)

	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// Server 默认配置
	v.SetDefault("server.http.port", 8080)
	v.SetDefault("server.http.debug", false)

	// 存储默认配置
	v.SetDefault("database.path", "./data/lumnia.db")
	v.SetDefault("storage.sources_dir", "./data/sources")

	// Redis 与队列默认配置
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("queue.concurrency", 5)

	// Embedding 默认配置
	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.openai.base_url", "http://127.0.0.1:1234/v1")
	v.SetDefault("embedding.openai.model", "text-embedding-nomic-embed-text-v1.5")
	v.SetDefault("embedding.openai.batch_size", 10)
	v.SetDefault("embedding.openai.max_retries", 3)
	v.SetDefault("embedding.openai.retry_delay", time.Second)
	v.SetDefault("embedding.openai.timeout", 120*time.Second)
	v.SetDefault("embedding.ollama.base_url", "http://localhost:11434")
	v.SetDefault("embedding.ollama.model", "nomic-embed-text")
	v.SetDefault("embedding.ollama.batch_size", 10)
	v.SetDefault("embedding.ollama.max_retries", 3)
	v.SetDefault("embedding.ollama.retry_delay", time.Second)
	v.SetDefault("embedding.ollama.timeout", 100*time.Second)
	v.SetDefault("embedding.cloud.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.cloud.model", "text-embedding-ada-002")
	v.SetDefault("embedding.cloud.batch_size", 100)
	v.SetDefault("embedding.cloud.max_retries", 3)
	v.SetDefault("embedding.cloud.retry_delay", 2*time.Second)
	v.SetDefault("embedding.cloud.timeout", 60*time.Second)

	// LLM 默认配置
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.openai.base_url", "http://127.0.0.1:1234/v1")
	v.SetDefault("llm.openai.model", "gemma-3-1b-it-qat")
	v.SetDefault("llm.openai.temperature", 0.7)
	v.SetDefault("llm.openai.max_tokens", 1000)
	v.SetDefault("llm.openai.timeout", 120*time.Second)
	v.SetDefault("llm.ollama.base_url", "http://localhost:11434")
	v.SetDefault("llm.ollama.model", "llama2")
	v.SetDefault("llm.ollama.temperature", 0.7)
	v.SetDefault("llm.ollama.timeout", 100*time.Second)

	// 检索默认配置
	v.SetDefault("chunking.max_tokens", 700)
	v.SetDefault("chunking.overlap_tokens", 150)

	v.SetDefault("search.semantic_weight", 0.6)
	v.SetDefault("search.lexical_weight", 0.4)
	v.SetDefault("search.min_semantic_score", 0.05)
	v.SetDefault("search.min_lexical_score", 0.001)
	v.SetDefault("search.rag_threshold", 0.15)
	v.SetDefault("search.max_chunks", 100)
	v.SetDefault("search.rerank_top_k", 10)
	v.SetDefault("search.enable_reranking", false)
	v.SetDefault("search.rerank_use_batch", true)
	v.SetDefault("search.rerank_batch_size", 5)

	// 对话默认配置
	v.SetDefault("chat.context.enabled", true)
	v.SetDefault("chat.context.limit", 10)
	v.SetDefault("chat.context.max_tokens", 4000)
	v.SetDefault("chat.streaming.enabled", true)
}

// expandEnvVars 展开配置中的环境变量
func expandEnvVars(config *Config) {
	config.Embedding.Cloud.APIKey = os.ExpandEnv(config.Embedding.Cloud.APIKey)
	config.Embedding.OpenAI.APIKey = os.ExpandEnv(config.Embedding.OpenAI.APIKey)
	config.LLM.OpenAI.APIKey = os.ExpandEnv(config.LLM.OpenAI.APIKey)
	config.Redis.Password = os.ExpandEnv(config.Redis.Password)
}
