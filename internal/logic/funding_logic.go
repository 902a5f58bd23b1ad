package logic

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/blues/fundledger/internal/apperr"
	"github.com/blues/fundledger/internal/chain"
	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/metrics"
	"github.com/blues/fundledger/internal/model"
	"github.com/blues/fundledger/internal/money"
	"github.com/blues/fundledger/internal/repository"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

const expireBatchSize = 100

// DonationIntent 第一阶段结果: 已登记的 pending 捐款和待签名交易
type DonationIntent struct {
	Contribution *model.ContributionModel
	Amount       decimal.Decimal
	PlatformFees decimal.Decimal
	TotalAmount  decimal.Decimal
	// Transaction 链下项目为 nil
	Transaction *chain.UnsignedTx
}

// ConfirmRequest 第二阶段确认参数
type ConfirmRequest struct {
	ContributionId  int64 // 可选, 为 0 时按金额匹配最早的 pending 捐款
	Amount          decimal.Decimal
	PlatformFees    decimal.Decimal // 可选, 非零时校验
	TotalAmount     decimal.Decimal // 可选, 非零时校验
	TransactionHash string
}

// FundingLogic 捐款对账服务, 串联项目仓储, 捐款登记和链上网关
type FundingLogic struct {
	projects *repository.ProjectRepository
	ledger   *repository.LedgerRepository
	recorder *ContributeRecordLogic
	gateway  chain.Gateway // 未启用链上结算时为 nil
	cfg      config.FundingConfig
	now      func() time.Time
}

// NewFundingLogic 创建捐款对账服务
func NewFundingLogic(projects *repository.ProjectRepository, ledger *repository.LedgerRepository, recorder *ContributeRecordLogic, gateway chain.Gateway, cfg config.FundingConfig) *FundingLogic {
	return &FundingLogic{
		projects: projects,
		ledger:   ledger,
		recorder: recorder,
		gateway:  gateway,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (f *FundingLogic) feeWei(amountWei *big.Int) *big.Int {
	if f.gateway != nil {
		return f.gateway.ComputeFee(amountWei)
	}
	return money.FeeWei(amountWei, f.cfg.FeeRateBps)
}

// Donate 第一阶段: 校验, 计算平台费, 为链上项目准备交易, 最后占用额度登记 pending 捐款
func (f *FundingLogic) Donate(ctx context.Context, donor *model.Principal, projectId string, amount decimal.Decimal) (intent *DonationIntent, err error) {
	defer func() { metrics.RecordDonation(string(apperr.CodeOf(err))) }()

	if donor == nil || donor.Id == "" {
		return nil, apperr.Unauthorized("请先登录")
	}
	minor, err := money.Parse(amount)
	if err != nil {
		return nil, amountError(err)
	}
	project, err := f.projects.Get(ctx, projectId)
	if err != nil {
		return nil, projectError("get project", err)
	}

	requireWallet := f.cfg.RequireWallet || project.OnChain()
	// 链上调用前先校验, 失败时不产生任何状态变化
	if err := f.recorder.Validate(project, donor, minor, requireWallet); err != nil {
		return nil, err
	}
	if donor.HasWallet() && !common.IsHexAddress(donor.WalletAddress) {
		return nil, apperr.Validation(apperr.CodeWalletRequired, "钱包地址格式不正确")
	}

	amountWei := money.ToWei(minor)
	fee := f.feeWei(amountWei)
	total := new(big.Int).Add(amountWei, fee)
	intent = &DonationIntent{
		Amount:       money.ToDecimal(minor),
		PlatformFees: money.FromWei(fee),
		TotalAmount:  money.FromWei(total),
	}

	if project.OnChain() {
		if f.gateway == nil {
			return nil, errChainDisabled
		}
		utx, err := f.gateway.PrepareContribution(ctx, *project.ChainProjectId, total, common.HexToAddress(donor.WalletAddress))
		if err != nil {
			return nil, chainError("prepare contribution", err)
		}
		intent.Transaction = utx
	}

	contribution, err := f.recorder.Record(ctx, RecordRequest{
		ProjectId:     projectId,
		Contributor:   donor,
		Amount:        minor,
		RequireWallet: requireWallet,
		Address:       donor.WalletAddress,
	})
	if err != nil {
		return nil, err
	}
	intent.Contribution = contribution
	return intent, nil
}

// normalizeTxHash 校验 0x 开头的 32 字节哈希并转为小写
func normalizeTxHash(s string) (string, error) {
	b, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil || len(b) != common.HashLength {
		return "", apperr.Validation(apperr.CodeInvalidInput, "交易哈希格式不正确")
	}
	return common.BytesToHash(b).Hex(), nil
}

// Confirm 第二阶段: 链上交易确认后将 pending 捐款标记为 completed, 相同哈希重复确认结果不变
func (f *FundingLogic) Confirm(ctx context.Context, donor *model.Principal, projectId string, req ConfirmRequest) (c *model.ContributionModel, err error) {
	defer func() { metrics.RecordConfirmation("api", string(apperr.CodeOf(err))) }()

	if donor == nil || donor.Id == "" {
		return nil, apperr.Unauthorized("请先登录")
	}
	hash, err := normalizeTxHash(req.TransactionHash)
	if err != nil {
		return nil, err
	}
	minor, err := money.Parse(req.Amount)
	if err != nil {
		return nil, amountError(err)
	}
	amountWei := money.ToWei(minor)
	fee := f.feeWei(amountWei)
	total := new(big.Int).Add(amountWei, fee)
	if !req.PlatformFees.IsZero() && !req.PlatformFees.Equal(money.FromWei(fee)) {
		return nil, errFeeMismatch
	}
	if !req.TotalAmount.IsZero() && !req.TotalAmount.Equal(money.FromWei(total)) {
		return nil, errFeeMismatch
	}

	// 同一哈希已确认
	if existing, err := f.ledger.GetByTxHash(ctx, hash); err == nil {
		if existing.ProjectId != projectId || existing.ContributorId != donor.Id {
			return nil, errTxHashInUse
		}
		return existing, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		logger.Error("Lookup tx %s failed: %v", hash, err)
		return nil, apperr.Unexpected(err)
	}

	pledge, err := f.findPledge(ctx, donor, projectId, minor, req.ContributionId)
	if err != nil {
		return nil, err
	}
	if pledge.Status != model.ContributionStatusPending {
		logger.Warn("Confirm for released pledge %d (status=%s, tx=%s) by %s", pledge.Id, pledge.Status, hash, donor.Id)
		return nil, errNotPending
	}

	project, err := f.projects.Get(ctx, projectId)
	if err != nil {
		return nil, projectError("get project", err)
	}
	// 未上链的项目没有可核对的链上记录, 捐款保持 pending, 由过期或取消释放
	if !project.OnChain() {
		logger.Warn("Confirm for pledge %d on off-chain project %s refused (tx=%s)", pledge.Id, projectId, hash)
		return nil, errNotOnChain
	}
	if f.gateway == nil {
		return nil, errChainDisabled
	}
	if f.cfg.VerifyReceipts {
		// 失败时捐款保持 pending, 由过期任务或链上监控恢复
		if _, err := f.gateway.VerifyContribution(ctx, hash, *project.ChainProjectId, common.HexToAddress(pledge.ContributorAddress), total); err != nil {
			return nil, chainError("verify contribution", err)
		}
	}

	return f.complete(ctx, pledge, hash)
}

func (f *FundingLogic) findPledge(ctx context.Context, donor *model.Principal, projectId string, minor int64, id int64) (*model.ContributionModel, error) {
	if id == 0 {
		pledge, err := f.ledger.FindPending(ctx, projectId, donor.Id, minor)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errPledgeNotFound
		}
		if err != nil {
			logger.Error("Find pending pledge on %s failed: %v", projectId, err)
			return nil, apperr.Unexpected(err)
		}
		return pledge, nil
	}

	pledge, err := f.ledger.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errPledgeNotFound
	}
	if err != nil {
		logger.Error("Get pledge %d failed: %v", id, err)
		return nil, apperr.Unexpected(err)
	}
	if pledge.ProjectId != projectId {
		return nil, errPledgeNotFound
	}
	if pledge.ContributorId != donor.Id {
		return nil, errNotContributor
	}
	if pledge.Amount != minor {
		return nil, apperr.Validation(apperr.CodeInvalidAmount, "确认金额与认捐金额不一致")
	}
	return pledge, nil
}

func (f *FundingLogic) complete(ctx context.Context, pledge *model.ContributionModel, hash string) (*model.ContributionModel, error) {
	c, err := f.ledger.Confirm(ctx, pledge.Id, hash, f.now())
	switch {
	case err == nil:
		logger.Info("Pledge %d completed with tx %s", c.Id, hash)
		return c, nil
	case errors.Is(err, repository.ErrTxHashInUse):
		if c != nil && c.Id == pledge.Id {
			return c, nil
		}
		return nil, errTxHashInUse
	case errors.Is(err, repository.ErrNotPending):
		if c != nil && c.Hash() == hash {
			return c, nil
		}
		logger.Warn("Pledge %d no longer pending when confirming tx %s", pledge.Id, hash)
		return nil, errNotPending
	}
	logger.Error("Confirm pledge %d failed: %v", pledge.Id, err)
	return nil, apperr.Unexpected(err)
}

// Cancel 捐款人取消未确认的捐款, 释放额度
func (f *FundingLogic) Cancel(ctx context.Context, donor *model.Principal, contributionId int64) (*model.ContributionModel, error) {
	if donor == nil || donor.Id == "" {
		return nil, apperr.Unauthorized("请先登录")
	}
	pledge, err := f.ledger.Get(ctx, contributionId)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errPledgeNotFound
	}
	if err != nil {
		logger.Error("Get pledge %d failed: %v", contributionId, err)
		return nil, apperr.Unexpected(err)
	}
	if pledge.ContributorId != donor.Id {
		return nil, errNotContributor
	}

	c, err := f.ledger.Release(ctx, contributionId, model.ContributionStatusCancelled, f.now())
	if errors.Is(err, repository.ErrNotPending) {
		return nil, errNotPending
	}
	if err != nil {
		logger.Error("Cancel pledge %d failed: %v", contributionId, err)
		return nil, apperr.Unexpected(err)
	}
	metrics.RecordRelease(string(model.ContributionStatusCancelled))
	logger.Info("Pledge %d cancelled by %s, released %d on project %s", c.Id, donor.Id, c.Amount, c.ProjectId)
	return c, nil
}

// ExpirePending 释放超时未确认的捐款, 返回释放数量
func (f *FundingLogic) ExpirePending(ctx context.Context) (int, error) {
	released := 0
	for {
		expired, err := f.ledger.ListExpired(ctx, f.now(), expireBatchSize)
		if err != nil {
			return released, err
		}
		progressed := 0
		for _, c := range expired {
			if ctx.Err() != nil {
				return released, ctx.Err()
			}
			_, err := f.ledger.Release(ctx, c.Id, model.ContributionStatusExpired, f.now())
			if errors.Is(err, repository.ErrNotPending) {
				// 已被确认或取消
				progressed++
				continue
			}
			if err != nil {
				logger.Error("Expire pledge %d failed: %v", c.Id, err)
				continue
			}
			progressed++
			released++
			metrics.RecordRelease(string(model.ContributionStatusExpired))
			logger.Info("Pledge %d expired, released %d on project %s", c.Id, c.Amount, c.ProjectId)
		}
		if len(expired) < expireBatchSize || progressed == 0 {
			return released, nil
		}
	}
}

// SettleFromChain 处理链上 ContributionMade 事件, 匹配最早的同地址同金额 pending 捐款并确认
func (f *FundingLogic) SettleFromChain(ctx context.Context, ev chain.ContributionEvent) (err error) {
	defer func() { metrics.RecordConfirmation("monitor", string(apperr.CodeOf(err))) }()

	hash := common.HexToHash(ev.TxHash).Hex()
	record := &model.ChainEventModel{
		ContractAddress: ev.Address.Hex(),
		EventType:       chain.EventContributionMade,
		TxHash:          hash,
		LogIndex:        int64(ev.LogIndex),
		BlockNum:        int64(ev.BlockNumber),
		ChainProjectId:  ev.ChainProjectId,
		Contributor:     ev.Contributor.Hex(),
	}
	if ev.AmountWei != nil {
		record.AmountWei = ev.AmountWei.String()
	}

	matched, err := f.matchEvent(ctx, ev, hash)
	if err != nil {
		return err
	}
	if matched != nil {
		record.ContributionId = &matched.Id
	}
	if _, err := f.ledger.SaveEvent(ctx, record); err != nil {
		logger.Error("Save chain event %s#%d failed: %v", hash, ev.LogIndex, err)
		return apperr.Unexpected(err)
	}
	return nil
}

func (f *FundingLogic) matchEvent(ctx context.Context, ev chain.ContributionEvent, hash string) (*model.ContributionModel, error) {
	if existing, err := f.ledger.GetByTxHash(ctx, hash); err == nil {
		return existing, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Unexpected(err)
	}

	project, err := f.projects.GetByChainId(ctx, ev.ChainProjectId)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn("Chain event %s for unknown chain project %d", hash, ev.ChainProjectId)
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Unexpected(err)
	}

	minor, ok := money.AmountFromTotalWei(ev.AmountWei, f.cfg.FeeRateBps)
	if !ok {
		logger.Warn("Chain event %s value %v does not match fee schedule", hash, ev.AmountWei)
		return nil, nil
	}
	pledge, err := f.ledger.FindPendingByAddress(ctx, project.Id, ev.Contributor.Hex(), minor)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn("No pending pledge for chain event %s (project=%s, from=%s, amount=%d)", hash, project.Id, ev.Contributor.Hex(), minor)
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Unexpected(err)
	}
	c, err := f.complete(ctx, pledge, hash)
	if err != nil && apperr.From(err).Kind != apperr.KindUnexpected {
		// 业务冲突不阻塞后续事件, 事件按未匹配记录
		logger.Warn("Chain event %s not applied to pledge %d: %v", hash, pledge.Id, err)
		return nil, nil
	}
	return c, err
}

// Audit 对比链上托管金额与链下已结算金额并保存快照, 平台费不计入
// requester 为 nil 表示定时任务或运维命令发起, 否则只允许项目创建者
func (f *FundingLogic) Audit(ctx context.Context, requester *model.Principal, projectId string) (*model.AuditRecordModel, error) {
	project, err := f.projects.Get(ctx, projectId)
	if err != nil {
		return nil, projectError("get project", err)
	}
	if requester != nil && requester.Id != project.CreatedBy {
		return nil, errNotOwner
	}
	if !project.OnChain() {
		return nil, errNotOnChain
	}
	if f.gateway == nil {
		return nil, errChainDisabled
	}

	details, err := f.gateway.GetProjectDetails(ctx, *project.ChainProjectId)
	if err != nil {
		return nil, chainError("get project details", err)
	}
	totals, err := f.ledger.Totals(ctx, projectId)
	if err != nil {
		logger.Error("Totals of %s failed: %v", projectId, err)
		return nil, apperr.Unexpected(err)
	}

	raised := details.Raised
	if raised == nil {
		raised = new(big.Int)
	}
	drift := new(big.Int).Sub(raised, money.ToWei(totals.Settled))
	record := &model.AuditRecordModel{
		ProjectId:      projectId,
		ChainProjectId: *project.ChainProjectId,
		ChainRaised:    raised.String(),
		ChainFunded:    details.Funded,
		ChainExists:    details.Exists,
		ChainDeadline:  details.Deadline,
		LedgerPledged:  totals.Pledged,
		LedgerSettled:  totals.Settled,
		DriftWei:       drift.String(),
		Balanced:       details.Exists && drift.Sign() == 0,
	}
	if details.Goal != nil {
		record.ChainGoal = details.Goal.String()
	}
	if err := f.ledger.SaveAudit(ctx, record); err != nil {
		logger.Error("Save audit of %s failed: %v", projectId, err)
		return nil, apperr.Unexpected(err)
	}

	driftFloat, _ := new(big.Float).SetInt(drift).Float64()
	metrics.SetAuditDrift(projectId, driftFloat)
	if !record.Balanced {
		logger.Warn("Project %s out of balance: chain_raised=%s ledger_settled=%d drift_wei=%s exists=%v",
			projectId, record.ChainRaised, totals.Settled, record.DriftWei, details.Exists)
	}
	return record, nil
}

// AuditTargets 需要对账的已上链项目
func (f *FundingLogic) AuditTargets(ctx context.Context) ([]model.ProjectModel, error) {
	projects, err := f.projects.ListRegistered(ctx)
	if err != nil {
		return nil, apperr.Unexpected(err)
	}
	return projects, nil
}
