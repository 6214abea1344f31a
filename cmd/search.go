package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"cnb.cool/zhiqiangwang/pkg/logx"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/ximass/lumnia/internal/embedding"
	"github.com/ximass/lumnia/internal/llm"
	"github.com/ximass/lumnia/internal/search"
)

var searchOutputType string

// searchCmd 在知识库中执行混合检索
var searchCmd = &cobra.Command{
	Use:   "search <kb-id> <query>",
	Short: "检索知识库",
	Long:  `对知识库执行语义与词法混合检索，输出相关块及评分。`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kbID, query := args[0], args[1]

		cfg, db, err := openServices()
		if err != nil {
			return err
		}

		embProvider, err := embedding.NewProvider(&cfg.Embedding)
		if err != nil {
			return fmt.Errorf("failed to create embedding provider: %w", err)
		}
		embClient := embedding.NewClient(embProvider, nil)

		var reranker *search.Reranker
		if cfg.Search.EnableReranking {
			chatProvider, err := llm.NewChatProvider(&cfg.LLM)
			if err != nil {
				return fmt.Errorf("failed to create llm provider: %w", err)
			}
			reranker = search.NewReranker(chatProvider, cfg.Search.RerankBatchSize, cfg.Search.RerankUseBatch)
		}

		retriever := search.NewHybridRetriever(db, embClient, reranker, cfg.Search)

		chunks, err := retriever.RetrieveRelevantChunks(context.Background(), kbID, query)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}

		if searchOutputType == "json" {
			data, _ := json.MarshalIndent(chunks, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		rows := [][]string{}
		for _, sc := range chunks {
			text := sc.Chunk.Text
			if len(text) > 80 {
				text = text[:80] + "..."
			}
			rows = append(rows, []string{
				sc.Chunk.ID[:12],
				fmt.Sprintf("%.3f", sc.SemanticScore),
				fmt.Sprintf("%.3f", sc.LexicalScore),
				fmt.Sprintf("%.3f", sc.CombinedScore),
				text,
			})
		}

		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
			Headers("Chunk", "Semantic", "Lexical", "Combined", "Text").
			Rows(rows...)

		fmt.Println(t)
		fmt.Println()
		logx.Info("Search completed, query %q, hits %d", query, len(chunks))
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVarP(&searchOutputType, "output", "o", "table", "输出格式 (table/json)")
	rootCmd.AddCommand(searchCmd)
}
