package logic

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/blues/fundledger/internal/apperr"
	"github.com/blues/fundledger/internal/chain"
	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/model"
	"github.com/blues/fundledger/internal/money"
	"github.com/blues/fundledger/internal/repository"
	"github.com/blues/fundledger/internal/testutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	owner = &model.Principal{Id: "owner", DisplayName: "Owner", WalletAddress: "0x00000000000000000000000000000000000000aa"}
	alice = &model.Principal{Id: "alice", DisplayName: "Alice", WalletAddress: "0x00000000000000000000000000000000000000A1"}
	bob   = &model.Principal{Id: "bob", DisplayName: "Bob", WalletAddress: "0x00000000000000000000000000000000000000b2"}
)

// fakeGateway 内存链上网关
type fakeGateway struct {
	mu sync.Mutex

	nextId      int64
	registerErr error
	prepareErr  error
	verifyErr   error
	detailsErr  error
	details     *chain.ProjectDetails

	registered []string
	prepared   []*big.Int
	verified   []string
}

func (g *fakeGateway) RegisterProject(ctx context.Context, name, description string, goalWei *big.Int, durationSeconds int64) (*chain.Registration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.registerErr != nil {
		return nil, g.registerErr
	}
	g.nextId++
	g.registered = append(g.registered, name)
	return &chain.Registration{ChainProjectId: g.nextId, TxHash: fmt.Sprintf("0x%064x", g.nextId)}, nil
}

func (g *fakeGateway) PrepareContribution(ctx context.Context, chainProjectId int64, valueWei *big.Int, from common.Address) (*chain.UnsignedTx, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.prepareErr != nil {
		return nil, g.prepareErr
	}
	g.prepared = append(g.prepared, valueWei)
	return &chain.UnsignedTx{From: from}, nil
}

func (g *fakeGateway) ComputeFee(amountWei *big.Int) *big.Int {
	return money.FeeWei(amountWei, 50)
}

func (g *fakeGateway) GetProjectDetails(ctx context.Context, chainProjectId int64) (*chain.ProjectDetails, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.detailsErr != nil {
		return nil, g.detailsErr
	}
	return g.details, nil
}

func (g *fakeGateway) VerifyContribution(ctx context.Context, txHash string, chainProjectId int64, from common.Address, valueWei *big.Int) (*chain.Settlement, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	g.verified = append(g.verified, txHash)
	return &chain.Settlement{TxHash: txHash, ChainProjectId: chainProjectId, Contributor: from, ValueWei: valueWei}, nil
}

func (g *fakeGateway) ScanContributions(ctx context.Context, fromBlock, toBlock uint64) ([]chain.ContributionEvent, error) {
	return nil, nil
}

func (g *fakeGateway) LatestBlock(ctx context.Context) (uint64, error) {
	return 0, nil
}

type fixture struct {
	db       *gorm.DB
	projects *repository.ProjectRepository
	ledger   *repository.LedgerRepository
	recorder *ContributeRecordLogic
	project  *ProjectLogic
	funding  *FundingLogic
}

func testFundingConfig() config.FundingConfig {
	return config.FundingConfig{
		RequireWallet:       true,
		FeeRateBps:          50,
		PledgeTTL:           1800,
		MaxRetries:          3,
		ProjectDurationDays: 30,
		VerifyReceipts:      true,
	}
}

// newFixture gw 为 nil 时不启用链上结算
func newFixture(t *testing.T, gw *fakeGateway, mutate func(*config.FundingConfig)) *fixture {
	t.Helper()
	cfg := testFundingConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	var gateway chain.Gateway
	if gw != nil {
		gateway = gw
	}

	db := testutil.NewDB(t)
	f := &fixture{
		db:       db,
		projects: repository.NewProjectRepository(db),
		ledger:   repository.NewLedgerRepository(db),
	}
	f.recorder = NewContributeRecordLogic(f.projects, f.ledger, cfg)
	f.project = NewProjectLogic(f.projects, f.ledger, gateway, cfg)
	f.funding = NewFundingLogic(f.projects, f.ledger, f.recorder, gateway, cfg)
	return f
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func txHash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

func (f *fixture) createProject(t *testing.T, goal string) *model.ProjectModel {
	t.Helper()
	detail, err := f.project.CreateProject(context.Background(), owner, CreateProjectRequest{
		Title:      "Deep sea microbes",
		GoalAmount: amount(goal),
	})
	require.NoError(t, err)
	return detail.Project
}

func (f *fixture) reload(t *testing.T, id string) *model.ProjectModel {
	t.Helper()
	p, err := f.projects.Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

// assertBalanced funds_raised 等于 pending+completed 之和且不超过目标
func (f *fixture) assertBalanced(t *testing.T, id string) {
	t.Helper()
	p := f.reload(t, id)
	totals, err := f.ledger.Totals(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, totals.Pledged, p.FundsRaised)
	assert.LessOrEqual(t, p.FundsRaised, p.GoalAmount)
}

func assertCode(t *testing.T, err error, code apperr.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, apperr.CodeOf(err), err.Error())
}

func laterClock(d time.Duration) func() time.Time {
	return func() time.Time { return time.Now().UTC().Add(d) }
}

// failUpdates 让之后每次 UPDATE 都以序列化失败结束, 返回已拦截的次数
func (f *fixture) failUpdates(t *testing.T) *int {
	t.Helper()
	attempts := 0
	err := f.db.Callback().Update().Before("gorm:update").Register("test:serialization_failure", func(tx *gorm.DB) {
		attempts++
		_ = tx.AddError(&pgconn.PgError{Code: "40001", Message: "could not serialize access due to concurrent update"})
	})
	require.NoError(t, err)
	return &attempts
}
