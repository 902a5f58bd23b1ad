package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/blues/fundledger/internal/app"
	"github.com/blues/fundledger/internal/middleware"
	"github.com/blues/fundledger/internal/model"
	"github.com/blues/fundledger/internal/task"
	"github.com/spf13/cobra"
)

const registerBatchSize = 1000

// NewMigrateCommand 执行数据库迁移
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// 打开连接时完成迁移
			return withApp(cmd, opts, func(a *app.App) error {
				return output(cmd.OutOrStdout(), opts, map[string]bool{"migrated": true}, "database migrated")
			})
		},
	}
}

// NewExpireCommand 立即释放过期认捐
func NewExpireCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Release pending pledges past their expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app.App) error {
				n, err := a.FundingLogic.ExpirePending(cmd.Context())
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), opts, map[string]int{"released": n},
					fmt.Sprintf("released %d expired pledge(s)", n))
			})
		},
	}
}

// NewRegisterCommand 为链下项目补做链上注册
func NewRegisterCommand(opts *RootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "register [project-id]",
		Short: "Register off-chain projects with the funding contract",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("specify either a project id or --all")
			}
			return withApp(cmd, opts, func(a *app.App) error {
				if all {
					n, err := a.ProjectLogic.RetryRegistration(cmd.Context(), registerBatchSize)
					if err != nil {
						return err
					}
					return output(cmd.OutOrStdout(), opts, map[string]int{"registered": n},
						fmt.Sprintf("registered %d project(s)", n))
				}
				project, err := a.ProjectLogic.RegisterProject(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), opts, project,
					fmt.Sprintf("project %s registered as chain project %d", project.Id, *project.ChainProjectId))
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "register every project that is not yet on chain")
	return cmd
}

// NewAuditCommand 对账
func NewAuditCommand(opts *RootOptions) *cobra.Command {
	var all bool
	var workers int
	cmd := &cobra.Command{
		Use:   "audit [project-id]",
		Short: "Compare on-chain escrow with the settled ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("specify either a project id or --all")
			}
			return withApp(cmd, opts, func(a *app.App) error {
				if all {
					taskCfg := a.Config.Task
					if workers > 0 {
						taskCfg.AuditWorkers = workers
					}
					summary, err := task.NewChainAuditJob(a.FundingLogic, taskCfg).Run(cmd.Context())
					if err != nil {
						return err
					}
					return output(cmd.OutOrStdout(), opts, summary,
						fmt.Sprintf("balanced=%d drifted=%d failed=%d", summary.Balanced, summary.Drifted, summary.Failed))
				}
				record, err := a.FundingLogic.Audit(cmd.Context(), nil, args[0])
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), opts, record,
					fmt.Sprintf("project %s balanced=%v chain_raised=%s ledger_settled=%d drift_wei=%s",
						record.ProjectId, record.Balanced, record.ChainRaised, record.LedgerSettled, record.DriftWei))
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "audit every on-chain project")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent audits (defaults to task.audit_workers)")
	return cmd
}

// NewTokenCommand 签发访问令牌, 用于联调
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var p model.Principal
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a principal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := middleware.NewAuth(opts.config.Auth).Issue(p, ttl)
			if err != nil {
				return err
			}
			return output(cmd.OutOrStdout(), opts, map[string]string{"token": token}, token)
		},
	}
	cmd.Flags().StringVar(&p.Id, "id", "", "principal id (token subject)")
	cmd.Flags().StringVar(&p.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&p.WalletAddress, "wallet", "", "wallet address")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
