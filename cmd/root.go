package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ximass/lumnia/internal/config"
)

var cfgFile string

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "lumnia",
	Short: "知识库问答助手",
	Long:  `Lumnia 是一个基于知识库的问答助手: 摄取文档、混合检索并结合大模型生成带引用的回答。`,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径 (默认搜索 ./config.yaml)")
}

// loadConfig 加载配置，供各子命令使用
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
