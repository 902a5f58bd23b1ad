package chain

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/blues/fundledger/internal/config"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testContractAddr = common.HexToAddress("0x00000000000000000000000000000000000000F1")
	testContributor  = common.HexToAddress("0x00000000000000000000000000000000000000C1")
)

func newTestContract(t *testing.T) *Contract {
	t.Helper()
	c, err := NewContract(FundingContractName, config.ContractConfig{Address: testContractAddr.Hex(), Enabled: true}, config.ChainConfig{ChainId: 43113})
	require.NoError(t, err)
	return c
}

func contributionLog(t *testing.T, c *Contract, projectId int64, from common.Address, amount *big.Int) types.Log {
	t.Helper()
	event := c.GetABI().Events[EventContributionMade]
	data, err := event.Inputs.NonIndexed().Pack(amount)
	require.NoError(t, err)
	return types.Log{
		Address: c.GetAddress(),
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(big.NewInt(projectId)),
			common.BytesToHash(from.Bytes()),
		},
		Data:        data,
		TxHash:      common.HexToHash("0xaa"),
		BlockNumber: 10,
		Index:       2,
	}
}

func TestNewContractABISources(t *testing.T) {
	t.Run("embedded", func(t *testing.T) {
		c := newTestContract(t)
		assert.Contains(t, c.GetABI().Methods, "contribute")
		assert.Equal(t, int64(43113), c.GetChainId())
	})

	t.Run("compiled output file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "FundingContract.json")
		content := append([]byte(`{"contractName":"FundingContract","abi":`), fundingContractABI...)
		content = append(content, '}')
		require.NoError(t, os.WriteFile(path, content, 0o600))

		c, err := NewContract("f", config.ContractConfig{Address: testContractAddr.Hex(), ABIPath: path}, config.ChainConfig{})
		require.NoError(t, err)
		assert.Contains(t, c.GetABI().Events, EventProjectCreated)
	})

	t.Run("invalid address", func(t *testing.T) {
		_, err := NewContract("f", config.ContractConfig{Address: "not-an-address"}, config.ChainConfig{})
		require.Error(t, err)
	})
}

func TestParseContribution(t *testing.T) {
	c := newTestContract(t)
	amount := big.NewInt(1_005_000_000_000_000_000)

	event, err := c.ParseContribution(contributionLog(t, c, 7, testContributor, amount))
	require.NoError(t, err)
	assert.Equal(t, int64(7), event.ChainProjectId)
	assert.Equal(t, testContributor, event.Contributor)
	assert.Equal(t, 0, event.AmountWei.Cmp(amount))
	assert.Equal(t, uint(2), event.LogIndex)

	unknown := types.Log{Topics: []common.Hash{common.HexToHash("0x01")}}
	_, err = c.ParseContribution(unknown)
	require.Error(t, err)
}

func TestParseProjectCreated(t *testing.T) {
	c := newTestContract(t)
	event := c.GetABI().Events[EventProjectCreated]
	data, err := event.Inputs.NonIndexed().Pack("Coral", testContributor, big.NewInt(10), big.NewInt(1700000000))
	require.NoError(t, err)

	logs := []*types.Log{
		{Address: common.HexToAddress("0x02"), Topics: []common.Hash{event.ID, common.BigToHash(big.NewInt(99))}},
		{Address: c.GetAddress(), Topics: []common.Hash{event.ID, common.BigToHash(big.NewInt(12))}, Data: data},
	}
	id, err := c.ParseProjectCreated(logs)
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	_, err = c.ParseProjectCreated(logs[:1])
	require.Error(t, err)
}

func TestDecodeProject(t *testing.T) {
	out := []interface{}{"Coral", "reef study", testContributor, big.NewInt(100), big.NewInt(40), big.NewInt(1700000000), false, true}
	details, err := decodeProject(out)
	require.NoError(t, err)
	assert.Equal(t, "Coral", details.Name)
	assert.Equal(t, int64(40), details.Raised.Int64())
	assert.Equal(t, int64(1700000000), details.Deadline.Unix())
	assert.True(t, details.Exists)
	assert.False(t, details.Funded)

	_, err = decodeProject(out[:7])
	require.Error(t, err)

	bad := append([]interface{}{}, out...)
	bad[6] = "yes"
	_, err = decodeProject(bad)
	require.Error(t, err)
}
