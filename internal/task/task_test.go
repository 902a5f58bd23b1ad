package task

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/blues/fundledger/internal/chain"
	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/logic"
	"github.com/blues/fundledger/internal/model"
	"github.com/blues/fundledger/internal/money"
	"github.com/blues/fundledger/internal/repository"
	"github.com/blues/fundledger/internal/testutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGateway 固定区块高度和事件的链上网关
type stubGateway struct {
	mu      sync.Mutex
	nextId  int64
	latest  uint64
	calls   int
	failing error
	events  []chain.ContributionEvent
	raised  map[int64]*big.Int
	scanned [][2]uint64
}

func (g *stubGateway) RegisterProject(ctx context.Context, name, description string, goalWei *big.Int, durationSeconds int64) (*chain.Registration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextId++
	return &chain.Registration{ChainProjectId: g.nextId, TxHash: fmt.Sprintf("0x%064x", g.nextId)}, nil
}

func (g *stubGateway) PrepareContribution(ctx context.Context, chainProjectId int64, valueWei *big.Int, from common.Address) (*chain.UnsignedTx, error) {
	return &chain.UnsignedTx{From: from}, nil
}

func (g *stubGateway) ComputeFee(amountWei *big.Int) *big.Int {
	return money.FeeWei(amountWei, 50)
}

func (g *stubGateway) GetProjectDetails(ctx context.Context, chainProjectId int64) (*chain.ProjectDetails, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	raised := g.raised[chainProjectId]
	if raised == nil {
		raised = new(big.Int)
	}
	return &chain.ProjectDetails{Raised: raised, Goal: big.NewInt(1), Exists: true}, nil
}

func (g *stubGateway) VerifyContribution(ctx context.Context, txHash string, chainProjectId int64, from common.Address, valueWei *big.Int) (*chain.Settlement, error) {
	return &chain.Settlement{TxHash: txHash}, nil
}

func (g *stubGateway) ScanContributions(ctx context.Context, fromBlock, toBlock uint64) ([]chain.ContributionEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scanned = append(g.scanned, [2]uint64{fromBlock, toBlock})
	var out []chain.ContributionEvent
	for _, ev := range g.events {
		if ev.BlockNumber >= fromBlock && ev.BlockNumber <= toBlock {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (g *stubGateway) LatestBlock(ctx context.Context) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.failing != nil {
		return 0, g.failing
	}
	return g.latest, nil
}

type fixture struct {
	cfg      *config.Config
	gateway  *stubGateway
	ledger   *repository.LedgerRepository
	projects *logic.ProjectLogic
	funding  *logic.FundingLogic
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		Chain: config.ChainConfig{Confirmations: 2, StartBlock: 1},
		Funding: config.FundingConfig{
			RequireWallet:       true,
			FeeRateBps:          50,
			PledgeTTL:           1800,
			MaxRetries:          3,
			ProjectDurationDays: 30,
		},
		Task: config.TaskConfig{Interval: 60, AuditInterval: 3600, AuditWorkers: 2, MonitorInterval: 30},
	}
	db := testutil.NewDB(t)
	projectRepo := repository.NewProjectRepository(db)
	ledger := repository.NewLedgerRepository(db)
	gw := &stubGateway{raised: map[int64]*big.Int{}}
	recorder := logic.NewContributeRecordLogic(projectRepo, ledger, cfg.Funding)
	return &fixture{
		cfg:      cfg,
		gateway:  gw,
		ledger:   ledger,
		projects: logic.NewProjectLogic(projectRepo, ledger, gw, cfg.Funding),
		funding:  logic.NewFundingLogic(projectRepo, ledger, recorder, gw, cfg.Funding),
	}
}

var (
	owner = &model.Principal{Id: "owner", WalletAddress: "0x00000000000000000000000000000000000000aa"}
	alice = &model.Principal{Id: "alice", DisplayName: "Alice", WalletAddress: "0x00000000000000000000000000000000000000a1"}
)

func (f *fixture) project(t *testing.T) *model.ProjectModel {
	t.Helper()
	detail, err := f.projects.CreateProject(context.Background(), owner, logic.CreateProjectRequest{
		Title:      "Soil carbon",
		GoalAmount: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	return detail.Project
}

func TestContributionMonitorSettlesPledge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t)

	intent, err := f.funding.Donate(ctx, alice, p.Id, decimal.NewFromInt(4))
	require.NoError(t, err)

	f.gateway.latest = 1200
	f.gateway.events = []chain.ContributionEvent{{
		ChainProjectId: *p.ChainProjectId,
		Contributor:    common.HexToAddress(alice.WalletAddress),
		AmountWei:      money.TotalWei(money.ToWei(4_000_000), 50),
		TxHash:         fmt.Sprintf("0x%064x", 99),
		BlockNumber:    700,
	}}

	job := NewContributionMonitorJob(f.funding, f.gateway, f.ledger, f.cfg.Chain, f.cfg.Task)
	n, err := job.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// 按 500 区块分批, 扫描到 latest - confirmations
	assert.Equal(t, [][2]uint64{{1, 500}, {501, 1000}, {1001, 1198}}, f.gateway.scanned)

	c, err := f.ledger.Get(ctx, intent.Contribution.Id)
	require.NoError(t, err)
	assert.Equal(t, model.ContributionStatusCompleted, c.Status)

	// 游标已推进
	n, err = job.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.gateway.scanned, 3)

	// 新任务从已处理的最高区块恢复
	restarted := NewContributionMonitorJob(f.funding, f.gateway, f.ledger, f.cfg.Chain, f.cfg.Task)
	_, err = restarted.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, [2]uint64{700, 1198}, f.gateway.scanned[3])
}

func TestContributionMonitorStartsAtContractDeployment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t)
	_, err := f.funding.Donate(ctx, alice, p.Id, decimal.NewFromInt(2))
	require.NoError(t, err)

	// viper 解析出的合约名为小写
	f.cfg.Chain.Contracts = map[string]config.ContractConfig{
		"fundingcontract": {Address: "0x00000000000000000000000000000000000000cc", Enabled: true, BlockNum: 600},
	}
	f.gateway.latest = 1200
	f.gateway.events = []chain.ContributionEvent{{
		ChainProjectId: *p.ChainProjectId,
		Contributor:    common.HexToAddress(alice.WalletAddress),
		AmountWei:      money.TotalWei(money.ToWei(2_000_000), 50),
		TxHash:         fmt.Sprintf("0x%064x", 98),
		BlockNumber:    900,
	}}

	job := NewContributionMonitorJob(f.funding, f.gateway, f.ledger, f.cfg.Chain, f.cfg.Task)
	n, err := job.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, [][2]uint64{{600, 1099}, {1100, 1198}}, f.gateway.scanned)

	// 已处理事件的区块高于部署区块时以前者为准
	restarted := NewContributionMonitorJob(f.funding, f.gateway, f.ledger, f.cfg.Chain, f.cfg.Task)
	_, err = restarted.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, [2]uint64{900, 1198}, f.gateway.scanned[2])
}

func TestContributionMonitorBackoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gateway.failing = errors.New("dial tcp: connection refused")

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	job := NewContributionMonitorJob(f.funding, f.gateway, f.ledger, f.cfg.Chain, f.cfg.Task)
	job.now = func() time.Time { return now }

	job.Execute(ctx)
	assert.Equal(t, 1, f.gateway.calls)

	// 退避期内跳过
	now = now.Add(5 * time.Second)
	job.Execute(ctx)
	assert.Equal(t, 1, f.gateway.calls)

	// 第二次失败后退避 20 秒
	now = now.Add(10 * time.Second)
	job.Execute(ctx)
	assert.Equal(t, 2, f.gateway.calls)
	assert.Equal(t, now.Add(20*time.Second), job.retryAfter)

	// 恢复后清零
	f.gateway.failing = nil
	f.gateway.latest = 10
	now = now.Add(time.Minute)
	job.Execute(ctx)
	assert.Equal(t, 3, f.gateway.calls)
	assert.Zero(t, job.failures)
}

func TestChainAuditJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	balanced := f.project(t)
	drifted := f.project(t)

	f.gateway.raised[*drifted.ChainProjectId] = money.ToWei(1_000_000)

	job := NewChainAuditJob(f.funding, f.cfg.Task)
	summary, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Balanced)
	assert.Equal(t, int64(1), summary.Drifted)
	assert.Zero(t, summary.Failed)

	latest, err := f.ledger.LatestAudit(ctx, balanced.Id)
	require.NoError(t, err)
	assert.True(t, latest.Balanced)
}

func TestManagerJobs(t *testing.T) {
	f := newFixture(t)
	m, err := NewManager(Dependencies{
		Config:   f.cfg,
		Projects: f.projects,
		Funding:  f.funding,
		Ledger:   f.ledger,
		Gateway:  f.gateway,
	})
	require.NoError(t, err)

	var names []string
	for _, job := range m.Jobs() {
		names = append(names, job.GetName())
	}
	assert.Equal(t, []string{"pledge_expiry", "chain_registration", "chain_audit", "contribution_monitor"}, names)

	m.Start()
	m.Stop()

	offChain, err := NewManager(Dependencies{Config: f.cfg, Funding: f.funding})
	require.NoError(t, err)
	assert.Len(t, offChain.Jobs(), 1)
}

func TestPledgeExpiryJobRuns(t *testing.T) {
	f := newFixture(t)
	p := f.project(t)
	_, err := f.funding.Donate(context.Background(), alice, p.Id, decimal.NewFromInt(1))
	require.NoError(t, err)

	// 未过期的认捐不受影响
	NewPledgeExpiryJob(f.funding, f.cfg.Task).Execute(context.Background())
	totals, err := f.ledger.Totals(context.Background(), p.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals.PendingCount)
}
