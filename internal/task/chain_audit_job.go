package task

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/logic"
	"github.com/go-co-op/gocron/v2"
	"github.com/panjf2000/ants/v2"
)

// AuditSummary 一轮对账结果
type AuditSummary struct {
	Balanced int64
	Drifted  int64
	Failed   int64
}

// ChainAuditJob 对比链上托管金额与链下已结算金额
type ChainAuditJob struct {
	funding *logic.FundingLogic
	config  config.TaskConfig
}

func NewChainAuditJob(funding *logic.FundingLogic, cfg config.TaskConfig) *ChainAuditJob {
	return &ChainAuditJob{funding: funding, config: cfg}
}

// GetName 获取任务名称
func (j *ChainAuditJob) GetName() string {
	return "chain_audit"
}

// GetSchedule 获取调度配置
func (j *ChainAuditJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(seconds(j.config.AuditInterval, 3600))
}

// Execute 执行任务
func (j *ChainAuditJob) Execute(ctx context.Context) {
	start := time.Now()
	summary, err := j.Run(ctx)
	if err == nil {
		logger.Info("Chain audit completed: balanced=%d drifted=%d failed=%d",
			summary.Balanced, summary.Drifted, summary.Failed)
	}
	recordRun(j.GetName(), start, err)
}

// Run 使用协程池并发对账所有已上链项目
func (j *ChainAuditJob) Run(ctx context.Context) (*AuditSummary, error) {
	projects, err := j.funding.AuditTargets(ctx)
	if err != nil {
		return nil, err
	}
	summary := &AuditSummary{}
	if len(projects) == 0 {
		return summary, nil
	}

	workers := j.config.AuditWorkers
	if workers <= 0 {
		workers = 4
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := range projects {
		if ctx.Err() != nil {
			break
		}
		projectId := projects[i].Id
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			record, err := j.funding.Audit(ctx, nil, projectId)
			switch {
			case err != nil:
				logger.Warn("Audit of project %s failed: %v", projectId, err)
				atomic.AddInt64(&summary.Failed, 1)
			case record.Balanced:
				atomic.AddInt64(&summary.Balanced, 1)
			default:
				atomic.AddInt64(&summary.Drifted, 1)
			}
		})
		if err != nil {
			wg.Done()
			logger.Error("Failed to submit audit of project %s: %v", projectId, err)
			atomic.AddInt64(&summary.Failed, 1)
		}
	}
	wg.Wait()
	return summary, ctx.Err()
}
