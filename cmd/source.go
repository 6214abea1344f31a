package cmd

import (
	"encoding/json"
	"fmt"

	"cnb.cool/zhiqiangwang/pkg/logx"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/ximass/lumnia/internal/config"
	"github.com/ximass/lumnia/internal/database"
	"github.com/ximass/lumnia/internal/ingest"
	"github.com/ximass/lumnia/internal/model"
	"github.com/ximass/lumnia/internal/service"
)

var sourceOutputType string

// openServices 加载配置并打开本地数据库
func openServices() (*config.Config, *gorm.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	db, err := database.Init(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return cfg, db, nil
}

// kbCmd 知识库命令组
var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "管理知识库",
	Long:  `查看本地知识库列表和详情。`,
}

// kbListCmd 列出知识库
var kbListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出知识库",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openServices()
		if err != nil {
			return err
		}

		kbs, err := service.NewKnowledgeBaseService(db).ListKnowledgeBases()
		if err != nil {
			return fmt.Errorf("failed to list knowledge bases: %w", err)
		}

		if sourceOutputType == "json" {
			data, _ := json.MarshalIndent(kbs, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		rows := [][]string{}
		for _, kb := range kbs {
			rows = append(rows, []string{kb.ID, kb.Name, kb.Description, kb.CreatedAt.Format("2006-01-02 15:04")})
		}

		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
			Headers("ID", "Name", "Description", "Created At").
			Rows(rows...)

		fmt.Println(t)
		fmt.Println()
		logx.Info("Query completed, count %d", len(kbs))
		return nil
	},
}

// sourceCmd 数据源命令组
var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "管理知识库数据源",
	Long:  `查看数据源列表、状态和处理统计。`,
}

// sourceListCmd 列出知识库下的数据源
var sourceListCmd = &cobra.Command{
	Use:   "list <kb-id>",
	Short: "列出数据源",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openServices()
		if err != nil {
			return err
		}

		sources, err := service.NewSourceService(db).ListSources(args[0])
		if err != nil {
			return fmt.Errorf("failed to list sources: %w", err)
		}

		if sourceOutputType == "json" {
			data, _ := json.MarshalIndent(sources, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		rows := [][]string{}
		for _, src := range sources {
			rows = append(rows, []string{
				src.ID, src.SourceIdentifier, src.SourceType, src.Status,
				src.UpdatedAt.Format("2006-01-02 15:04"),
			})
		}

		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
			Headers("ID", "File", "Type", "Status", "Updated At").
			Rows(rows...)

		fmt.Println(t)
		fmt.Println()
		logx.Info("Query completed, count %d, kb %s", len(sources), args[0])
		return nil
	},
}

// sourceStatusCmd 查看数据源状态详情
var sourceStatusCmd = &cobra.Command{
	Use:   "status <source-id>",
	Short: "查看数据源状态",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openServices()
		if err != nil {
			return err
		}

		svc := service.NewSourceService(db)
		source, err := svc.GetSource(args[0])
		if err != nil {
			return fmt.Errorf("failed to get source: %w", err)
		}

		count, err := svc.CountChunks(args[0])
		if err != nil {
			return fmt.Errorf("failed to count chunks: %w", err)
		}

		out := map[string]any{
			"source":      source,
			"chunk_count": count,
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return nil
	},
}

// sourceProcessCmd 把数据源投入摄取队列
var sourceProcessCmd = &cobra.Command{
	Use:   "process <source-id>",
	Short: "摄取数据源",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := openServices()
		if err != nil {
			return err
		}

		svc := service.NewSourceService(db)
		source, err := svc.GetSource(args[0])
		if err != nil {
			return fmt.Errorf("failed to get source: %w", err)
		}
		if source.IsProcessing() {
			return fmt.Errorf("source %s is already being processed", source.ID)
		}

		if err := svc.UpdateStatus(source.ID, model.SourceStatusQueued); err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}

		queue := ingest.NewQueue(ingest.RedisOpt(cfg.Redis))
		defer queue.Close()

		if err := queue.EnqueueParse(source.ID); err != nil {
			return fmt.Errorf("failed to enqueue parse task: %w", err)
		}

		logx.Info("Source %s queued for processing", source.ID)
		return nil
	},
}

// sourceRetryCmd 重新摄取失败的数据源
var sourceRetryCmd = &cobra.Command{
	Use:   "retry <source-id>",
	Short: "重试失败的数据源",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := openServices()
		if err != nil {
			return err
		}

		source, err := service.NewSourceService(db).RetrySource(args[0])
		if err != nil {
			return fmt.Errorf("failed to retry source: %w", err)
		}

		queue := ingest.NewQueue(ingest.RedisOpt(cfg.Redis))
		defer queue.Close()

		if err := queue.EnqueueParse(source.ID); err != nil {
			return fmt.Errorf("failed to enqueue parse task: %w", err)
		}

		logx.Info("Source %s queued for reprocessing", source.ID)
		return nil
	},
}

func init() {
	kbCmd.AddCommand(kbListCmd)
	sourceCmd.AddCommand(sourceListCmd)
	sourceCmd.AddCommand(sourceStatusCmd)
	sourceCmd.AddCommand(sourceProcessCmd)
	sourceCmd.AddCommand(sourceRetryCmd)

	kbCmd.PersistentFlags().StringVarP(&sourceOutputType, "output", "o", "table", "输出格式 (table/json)")
	sourceCmd.PersistentFlags().StringVarP(&sourceOutputType, "output", "o", "table", "输出格式 (table/json)")

	rootCmd.AddCommand(kbCmd)
	rootCmd.AddCommand(sourceCmd)
}
