package executor

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mbd888/agentbroker/internal/money"
)

// erc20ABI is the minimal ABI needed to move the erc20-stable token.
const erc20ABI = `[
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

// ChainClient abstracts go-ethereum's client for testing, mirroring the
// subset a signed transfer needs.
type ChainClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// ChainExecutorConfig configures a ChainExecutor.
type ChainExecutorConfig struct {
	RPCURL        string
	PrivateKeyHex string // hex, no 0x prefix
	ChainID       int64
	StableContract string // ERC20 contract address for erc20-stable
}

// ChainExecutor is a PaymentExecutor that moves value on-chain: a direct
// native transfer for money.PrimaryNative, or an ERC20 transfer call for
// money.ERC20Stable.
type ChainExecutor struct {
	client         ChainClient
	privateKeyHex  string
	address        common.Address
	chainID        *big.Int
	stableContract common.Address
	stableABI      abi.ABI
}

// NewChainExecutor dials the configured RPC endpoint and derives the
// sending address from the configured private key.
func NewChainExecutor(ctx context.Context, cfg ChainExecutorConfig) (*ChainExecutor, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("executor: dial RPC: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("executor: invalid private key: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)

	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("executor: parse erc20 abi: %w", err)
	}

	return &ChainExecutor{
		client:         client,
		privateKeyHex:  cfg.PrivateKeyHex,
		address:        addr,
		chainID:        big.NewInt(cfg.ChainID),
		stableContract: common.HexToAddress(cfg.StableContract),
		stableABI:      parsedABI,
	}, nil
}

// Execute implements PaymentExecutor.
func (c *ChainExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	if !common.IsHexAddress(req.Recipient) {
		return Result{}, fmt.Errorf("executor: recipient %q is not a valid address", req.Recipient)
	}
	to := common.HexToAddress(req.Recipient)

	amount, ok := money.Parse(req.Amount, req.Token)
	if !ok {
		return Result{}, fmt.Errorf("executor: invalid amount %q for token %s", req.Amount, req.Token)
	}

	var (
		txTo   common.Address
		txData []byte
		txVal  = big.NewInt(0)
	)
	switch req.Token {
	case money.ERC20Stable:
		data, err := c.stableABI.Pack("transfer", to, amount)
		if err != nil {
			return Result{}, fmt.Errorf("executor: pack transfer: %w", err)
		}
		txTo, txData = c.stableContract, data
	case money.PrimaryNative:
		txTo, txVal = to, amount
	default:
		return Result{}, fmt.Errorf("executor: unsupported token %s", req.Token)
	}

	nonce, err := c.client.PendingNonceAt(ctx, c.address)
	if err != nil {
		return Result{}, fmt.Errorf("executor: nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("executor: gas price: %w", err)
	}
	gasLimit, err := c.client.EstimateGas(ctx, ethereum.CallMsg{From: c.address, To: &txTo, Value: txVal, Data: txData})
	if err != nil {
		gasLimit = 65000
	}

	tx := types.NewTransaction(nonce, txTo, txVal, gasLimit, gasPrice, txData)
	key, err := crypto.HexToECDSA(strings.TrimPrefix(c.privateKeyHex, "0x"))
	if err != nil {
		return Result{}, fmt.Errorf("executor: invalid private key: %w", err)
	}
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), key)
	if err != nil {
		return Result{}, fmt.Errorf("executor: sign: %w", err)
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return Result{}, fmt.Errorf("executor: send: %w", err)
	}

	return Result{TxHash: signed.Hash().Hex()}, nil
}

var _ PaymentExecutor = (*ChainExecutor)(nil)
