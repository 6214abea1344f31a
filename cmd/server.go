package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cnb.cool/zhiqiangwang/pkg/logx"
	"github.com/spf13/cobra"

	"github.com/ximass/lumnia/internal/cache"
	"github.com/ximass/lumnia/internal/chunker"
	"github.com/ximass/lumnia/internal/database"
	"github.com/ximass/lumnia/internal/embedding"
	"github.com/ximass/lumnia/internal/ingest"
	"github.com/ximass/lumnia/internal/llm"
	"github.com/ximass/lumnia/internal/rag"
	"github.com/ximass/lumnia/internal/search"
	"github.com/ximass/lumnia/internal/server"
	"github.com/ximass/lumnia/internal/service"
)

// embeddingCacheTTL embedding 缓存过期时间
const embeddingCacheTTL = 7 * 24 * time.Hour

// serverCmd 启动 API 服务与摄取工作进程
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 HTTP 服务和摄取队列",
	Long:  `启动 HTTP API 服务器和文档摄取工作进程，两者共享同一个进程。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := database.Init(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}

		kbs := service.NewKnowledgeBaseService(db)
		sources := service.NewSourceService(db)
		chats := service.NewChatService(db)
		personas := service.NewPersonaService(db)

		// embedding 缓存不可用时降级为无缓存运行
		var embCache *cache.EmbeddingCache
		if cfg.Redis.Enabled {
			embCache, err = cache.NewEmbeddingCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, embeddingCacheTTL)
			if err != nil {
				logx.Warn("Embedding cache unavailable, continuing without it: %v", err)
				embCache = nil
			}
		}

		embProvider, err := embedding.NewProvider(&cfg.Embedding)
		if err != nil {
			return fmt.Errorf("failed to create embedding provider: %w", err)
		}
		embClient := embedding.NewClient(embProvider, embCache)

		chatProvider, err := llm.NewChatProvider(&cfg.LLM)
		if err != nil {
			return fmt.Errorf("failed to create llm provider: %w", err)
		}

		var reranker *search.Reranker
		if cfg.Search.EnableReranking {
			reranker = search.NewReranker(chatProvider, cfg.Search.RerankBatchSize, cfg.Search.RerankUseBatch)
		}
		retriever := search.NewHybridRetriever(db, embClient, reranker, cfg.Search)
		dispatcher := rag.NewDispatcher(chats, sources, retriever, chatProvider, cfg.Chat)

		redisOpt := ingest.RedisOpt(cfg.Redis)
		queue := ingest.NewQueue(redisOpt)
		defer queue.Close()

		pipeline := ingest.NewPipeline(db, sources, chunker.New(), embClient, queue, cfg.Storage, cfg.Chunking)
		worker, mux := ingest.NewServer(redisOpt, pipeline, sources, cfg.Queue.Concurrency)

		if err := worker.Start(mux); err != nil {
			return fmt.Errorf("failed to start ingest worker: %w", err)
		}

		httpServer := server.NewHTTPGinServer(cfg, kbs, sources, chats, personas, retriever, dispatcher, queue)

		errCh := make(chan error, 1)
		go func() {
			if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			worker.Shutdown()
			return fmt.Errorf("http server error: %w", err)
		case sig := <-quit:
			logx.Info("Received signal %s, shutting down", sig)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Stop(ctx); err != nil {
			logx.Error("HTTP server shutdown error: %v", err)
		}
		worker.Shutdown()

		logx.Info("Shutdown complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
