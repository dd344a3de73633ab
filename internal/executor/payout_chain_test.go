package executor

import (
	"context"
	"math/big"
	"testing"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/agentbroker/internal/money"
)

type stubChainClient struct {
	sentTx *types.Transaction
}

func (s *stubChainClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 1, nil
}

func (s *stubChainClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (s *stubChainClient) EstimateGas(ctx context.Context, call goethereum.CallMsg) (uint64, error) {
	return 21000, nil
}

func (s *stubChainClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	s.sentTx = tx
	return nil
}

func newTestChainExecutor(t *testing.T) (*ChainExecutor, *stubChainClient) {
	t.Helper()
	client := &stubChainClient{}
	return &ChainExecutor{
		client:         client,
		privateKeyHex:  "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		address:        common.HexToAddress("0x0000000000000000000000000000000000000001"),
		chainID:        big.NewInt(1),
		stableContract: common.HexToAddress("0x0000000000000000000000000000000000000002"),
	}, client
}

func TestChainExecutorRejectsInvalidRecipient(t *testing.T) {
	exec, _ := newTestChainExecutor(t)
	_, err := exec.Execute(context.Background(), Request{
		Kind:      KindEscrowRelease,
		Recipient: "not-an-address",
		Amount:    "1",
		Token:     money.PrimaryNative,
	})
	require.Error(t, err)
}

func TestChainExecutorSendsNativeTransfer(t *testing.T) {
	exec, client := newTestChainExecutor(t)
	result, err := exec.Execute(context.Background(), Request{
		Kind:      KindTipSettlement,
		Recipient: "0x000000000000000000000000000000000000dEaD",
		Amount:    "1.5",
		Token:     money.PrimaryNative,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.TxHash)
	require.NotNil(t, client.sentTx)

	wantWei, _ := money.Parse("1.5", money.PrimaryNative)
	require.Equal(t, wantWei.String(), client.sentTx.Value().String())
}
