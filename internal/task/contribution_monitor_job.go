package task

import (
	"context"
	"sync"
	"time"

	"github.com/blues/fundledger/internal/chain"
	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/logic"
	"github.com/blues/fundledger/internal/repository"
	"github.com/go-co-op/gocron/v2"
)

const monitorBatchSize = uint64(500)

// ContributionMonitorJob 扫描链上 ContributionMade 事件, 确认捐款人未主动确认的认捐
type ContributionMonitorJob struct {
	funding     *logic.FundingLogic
	gateway     chain.Gateway
	ledger      *repository.LedgerRepository
	chainConfig config.ChainConfig
	config      config.TaskConfig

	mu      sync.Mutex
	started bool
	next    uint64 // 下一个待扫描区块

	// 连续失败后退避
	failures   int
	retryAfter time.Time
	now        func() time.Time
}

func NewContributionMonitorJob(funding *logic.FundingLogic, gateway chain.Gateway, ledger *repository.LedgerRepository, chainCfg config.ChainConfig, cfg config.TaskConfig) *ContributionMonitorJob {
	return &ContributionMonitorJob{
		funding:     funding,
		gateway:     gateway,
		ledger:      ledger,
		chainConfig: chainCfg,
		config:      cfg,
		now:         time.Now,
	}
}

// GetName 获取任务名称
func (j *ContributionMonitorJob) GetName() string {
	return "contribution_monitor"
}

// GetSchedule 获取调度配置
func (j *ContributionMonitorJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(seconds(j.config.MonitorInterval, 60))
}

// Execute 执行任务
func (j *ContributionMonitorJob) Execute(ctx context.Context) {
	start := j.now()
	if start.Before(j.retryAfter) {
		logger.Debug("Contribution monitor backing off until %s", j.retryAfter.Format(time.RFC3339))
		return
	}
	_, err := j.Scan(ctx)
	j.handleResult(start, err)
	recordRun(j.GetName(), start, err)
}

// handleResult 指数退避, 最长 5 分钟
func (j *ContributionMonitorJob) handleResult(now time.Time, err error) {
	if err == nil {
		j.failures = 0
		j.retryAfter = time.Time{}
		return
	}
	j.failures++
	backoff := time.Duration(j.failures) * 10 * time.Second
	if j.failures > 5 {
		backoff = 5 * time.Minute
	}
	j.retryAfter = now.Add(backoff)
	logger.Error("Contribution monitor failed (retry %d, next attempt in %s): %v", j.failures, backoff, err)
}

// startBlock 已处理事件的最高区块重新扫描一次, 重复事件由唯一索引去重
func (j *ContributionMonitorJob) startBlock(ctx context.Context) (uint64, error) {
	last, err := j.ledger.LastEventBlock(ctx)
	if err != nil {
		return 0, err
	}
	// 合约部署之前的区块不会有捐款事件
	start := j.chainConfig.StartBlock
	if contract, ok := j.chainConfig.Contract(chain.FundingContractName); ok && contract.BlockNum > start {
		start = contract.BlockNum
	}
	if last > start {
		start = last
	}
	if start < 0 {
		start = 0
	}
	return uint64(start), nil
}

// Scan 分批扫描到最新的已确认区块, 返回处理的事件数
func (j *ContributionMonitorJob) Scan(ctx context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.started {
		start, err := j.startBlock(ctx)
		if err != nil {
			return 0, err
		}
		j.next = start
		j.started = true
	}

	latest, err := j.gateway.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}
	confirmations := uint64(0)
	if j.chainConfig.Confirmations > 0 {
		confirmations = uint64(j.chainConfig.Confirmations)
	}
	if latest < confirmations {
		return 0, nil
	}
	safe := latest - confirmations

	processed := 0
	for from := j.next; from <= safe; from += monitorBatchSize {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		to := from + monitorBatchSize - 1
		if to > safe {
			to = safe
		}

		events, err := j.gateway.ScanContributions(ctx, from, to)
		if err != nil {
			return processed, err
		}
		for _, ev := range events {
			// 出错时不推进游标, 下次从本批次重新扫描
			if err := j.funding.SettleFromChain(ctx, ev); err != nil {
				logger.Error("Failed to settle chain event %s#%d: %v", ev.TxHash, ev.LogIndex, err)
				return processed, err
			}
			processed++
		}
		if len(events) > 0 {
			logger.Info("Processed %d contribution events in blocks %d-%d", len(events), from, to)
		}
		j.next = to + 1
	}
	return processed, nil
}
