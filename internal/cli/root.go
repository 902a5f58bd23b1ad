// Package cli fundctl 运维命令
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/blues/fundledger/internal/app"
	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/logger"
	"github.com/spf13/cobra"
)

// RootOptions 全局参数
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"

	config   *config.Config
	open     func(ctx context.Context, cfg *config.Config) (*app.App, error)
	closeApp func(a *app.App)
}

// ValidFormats 支持的输出格式
var ValidFormats = []string{"text", "json"}

// NewRootCommand 创建 fundctl 根命令
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{open: app.Open, closeApp: (*app.App).Close})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fundctl",
		Short:         "fundctl - funding ledger operations",
		Long:          "Operational commands for the funding ledger: migrations, pledge expiry, chain registration and audits.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.config != nil {
				return nil
			}
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.Log); err != nil {
				return err
			}
			opts.config = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewExpireCommand(opts))
	cmd.AddCommand(NewRegisterCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

// withApp 打开应用组件执行 fn, 结束后释放连接
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(a *app.App) error) error {
	a, err := opts.open(cmd.Context(), opts.config)
	if err != nil {
		return err
	}
	if opts.closeApp != nil {
		defer opts.closeApp(a)
	}
	return fn(a)
}

// output 按格式输出, text 模式打印 text
func output(w io.Writer, opts *RootOptions, v interface{}, text string) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
