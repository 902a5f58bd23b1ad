package logic

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/blues/fundledger/internal/apperr"
	"github.com/blues/fundledger/internal/chain"
	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/model"
	"github.com/blues/fundledger/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProject(t *testing.T) {
	gw := &fakeGateway{}
	f := newFixture(t, gw, nil)
	ctx := context.Background()

	detail, err := f.project.CreateProject(ctx, owner, CreateProjectRequest{
		Title:       "  Glacier sensors ",
		Description: "Long term melt measurements",
		GoalAmount:  amount("2500.5"),
		TeamMembers: []string{"bob", "bob", "owner", ""},
	})
	require.NoError(t, err)

	p := detail.Project
	assert.Equal(t, "Glacier sensors", p.Title)
	assert.Equal(t, int64(2_500_500_000), p.GoalAmount)
	assert.Zero(t, p.FundsRaised)
	assert.Equal(t, model.ProjectStatusActive, p.Status)
	assert.Equal(t, "Owner", p.CreatorName)
	require.True(t, p.OnChain())
	assert.Equal(t, int64(1), *p.ChainProjectId)
	assert.Len(t, detail.Team, 2)
	assert.Equal(t, []string{"Glacier sensors"}, gw.registered)
}

func TestCreateProjectValidation(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.project.CreateProject(ctx, owner, CreateProjectRequest{Title: " ", GoalAmount: amount("1")})
	assertCode(t, err, apperr.CodeInvalidInput)

	_, err = f.project.CreateProject(ctx, owner, CreateProjectRequest{Title: "x", GoalAmount: amount("0")})
	assertCode(t, err, apperr.CodeInvalidAmount)

	_, err = f.project.CreateProject(ctx, nil, CreateProjectRequest{Title: "x", GoalAmount: amount("1")})
	assertCode(t, err, apperr.CodeUnauthorized)
}

func TestCreateProjectRequiresRegistration(t *testing.T) {
	gw := &fakeGateway{registerErr: fmt.Errorf("%w: nonce too low", chain.ErrChainUnavailable)}
	f := newFixture(t, gw, func(cfg *config.FundingConfig) { cfg.RequireChainRegistration = true })
	ctx := context.Background()

	_, err := f.project.CreateProject(ctx, owner, CreateProjectRequest{Title: "x", GoalAmount: amount("1")})
	assertCode(t, err, apperr.CodeChainUnavailable)

	_, total, err := f.project.ListProjects(ctx, repository.ProjectQuery{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestCreateProjectOffChainThenRetry(t *testing.T) {
	gw := &fakeGateway{registerErr: fmt.Errorf("%w: connection refused", chain.ErrChainUnavailable)}
	f := newFixture(t, gw, nil)
	ctx := context.Background()

	p := f.createProject(t, "10")
	assert.False(t, p.OnChain())
	assert.Contains(t, p.RegistrationError, "connection refused")

	// 链下项目可以认捐, 不生成链上交易
	intent, err := f.funding.Donate(ctx, alice, p.Id, amount("1"))
	require.NoError(t, err)
	assert.Nil(t, intent.Transaction)

	n, err := f.project.RetryRegistration(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	gw.registerErr = nil
	n, err = f.project.RetryRegistration(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.reload(t, p.Id)
	require.True(t, got.OnChain())
	assert.Empty(t, got.RegistrationError)
	assert.Equal(t, int64(1_000_000), got.FundsRaised)

	again, err := f.project.RegisterProject(ctx, p.Id)
	require.NoError(t, err)
	assert.Equal(t, *got.ChainProjectId, *again.ChainProjectId)
	assert.Len(t, gw.registered, 1)
}

func TestRegisterProjectChainDisabled(t *testing.T) {
	f := newFixture(t, nil, nil)
	p := f.createProject(t, "10")

	_, err := f.project.RegisterProject(context.Background(), p.Id)
	assertCode(t, err, apperr.CodeChainUnavailable)

	n, err := f.project.RetryRegistration(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateProject(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	p := f.createProject(t, "10")

	_, err := f.funding.Donate(ctx, alice, p.Id, amount("6"))
	require.NoError(t, err)

	title := "Renamed"
	_, err = f.project.UpdateProject(ctx, alice, p.Id, UpdateProjectRequest{Title: &title})
	assertCode(t, err, apperr.CodeForbidden)

	low := amount("5")
	_, err = f.project.UpdateProject(ctx, owner, p.Id, UpdateProjectRequest{GoalAmount: &low})
	assertCode(t, err, apperr.CodeGoalBelowRaised)

	goal := amount("20")
	team := []string{"bob"}
	detail, err := f.project.UpdateProject(ctx, owner, p.Id, UpdateProjectRequest{
		Title:       &title,
		GoalAmount:  &goal,
		TeamMembers: &team,
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", detail.Project.Title)
	assert.Equal(t, int64(20_000_000), detail.Project.GoalAmount)
	assert.Equal(t, int64(6_000_000), detail.Project.FundsRaised)
	assert.Len(t, detail.Team, 2)
	f.assertBalanced(t, p.Id)

	// 目标提高后可以继续认捐
	_, err = f.funding.Donate(ctx, bob, p.Id, amount("14"))
	require.NoError(t, err)
}

func TestUpdateProjectGoalLockedOnChain(t *testing.T) {
	f := newFixture(t, &fakeGateway{}, nil)
	ctx := context.Background()
	p := f.createProject(t, "10")

	goal := amount("20")
	_, err := f.project.UpdateProject(ctx, owner, p.Id, UpdateProjectRequest{GoalAmount: &goal})
	assertCode(t, err, apperr.CodeInvalidInput)

	same := amount("10")
	desc := "updated"
	detail, err := f.project.UpdateProject(ctx, owner, p.Id, UpdateProjectRequest{GoalAmount: &same, Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "updated", detail.Project.Description)
}

func TestDeactivateProject(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	p := f.createProject(t, "10")

	_, err := f.project.DeactivateProject(ctx, alice, p.Id)
	assertCode(t, err, apperr.CodeForbidden)

	detail, err := f.project.DeactivateProject(ctx, owner, p.Id)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectStatusInactive, detail.Project.Status)
	assert.NotNil(t, detail.Project.DeactivatedAt)

	_, err = f.project.DeactivateProject(ctx, owner, "missing")
	assertCode(t, err, apperr.CodeProjectNotFound)
}

func TestListProjects(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.createProject(t, "10")
	f.createProject(t, "50")

	list, total, err := f.project.ListProjects(ctx, repository.ProjectQuery{SortBy: "goal"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(50_000_000), list[0].GoalAmount)

	_, _, err = f.project.ListProjects(ctx, repository.ProjectQuery{SortBy: "random"})
	assertCode(t, err, apperr.CodeInvalidInput)

	_, _, err = f.project.ListProjects(ctx, repository.ProjectQuery{Status: "deleted"})
	assertCode(t, err, apperr.CodeInvalidInput)
}

func TestGetProjectStats(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	p := f.createProject(t, "8")

	_, err := f.funding.Donate(ctx, alice, p.Id, amount("2"))
	require.NoError(t, err)

	stats, err := f.project.GetProjectStats(ctx, p.Id)
	require.NoError(t, err)
	assert.True(t, stats.FundsRaised.Equal(decimal.NewFromInt(2)))
	assert.True(t, stats.Remaining.Equal(decimal.NewFromInt(6)))
	assert.True(t, stats.Progress.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, int64(1), stats.Ledger.PendingCount)
	assert.Nil(t, stats.LastAudit)

	_, err = f.project.GetProjectStats(ctx, "missing")
	assert.True(t, errors.Is(err, errProjectNotFound))
}

func TestUpdateProjectConflictExhaustsRetries(t *testing.T) {
	f := newFixture(t, nil, func(cfg *config.FundingConfig) { cfg.MaxRetries = 2 })
	ctx := context.Background()
	p := f.createProject(t, "10")
	attempts := f.failUpdates(t)

	title := "Shallow sea microbes"
	_, err := f.project.UpdateProject(ctx, owner, p.Id, UpdateProjectRequest{Title: &title})
	assertCode(t, err, apperr.CodeStoreConflict)
	assert.Equal(t, 2, *attempts)

	got := f.reload(t, p.Id)
	assert.Equal(t, p.Title, got.Title)
	assert.Equal(t, p.Version, got.Version)
}
