package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const harvestABIJSON = `[{"inputs":[],"name":"harvest","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

var harvestABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(harvestABIJSON))
	if err != nil {
		panic("failed to parse harvest ABI: " + err.Error())
	}
	harvestABI = parsed
}

// Options parameterise the RPC ledger client.
type Options struct {
	RPCURL          string
	ChainID         int64
	ContractAddress string
	GasLimit        uint64
	Timeout         time.Duration
}

// RPCClient talks to the ledger over Ethereum JSON-RPC.
type RPCClient struct {
	opts      Options
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewRPCClient builds a ledger client. The RPC connection is dialled lazily on
// first use.
func NewRPCClient(opts Options, logger zerolog.Logger) *RPCClient {
	return &RPCClient{opts: opts, logger: logger.With().Str("component", "ledger_client").Logger()}
}

// GetBalance returns the native-token balance of address in whole units.
func (c *RPCClient) GetBalance(ctx context.Context, address common.Address) (decimal.Decimal, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	wei, err := client.BalanceAt(ctx, address, nil)
	if err != nil {
		return decimal.Decimal{}, classify(err)
	}
	return decimal.NewFromBigInt(wei, -18), nil
}

// SequenceNumber returns the account's next usable sequence number. The
// pending view is used so a submission never reuses a sequence already queued
// by a concurrent actor on the same account.
func (c *RPCClient) SequenceNumber(ctx context.Context, address common.Address) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return 0, err
	}

	nonce, err := client.PendingNonceAt(ctx, address)
	if err != nil {
		return 0, classify(err)
	}
	return nonce, nil
}

// SubmitHarvest builds, signs, and submits the contract's harvest invocation
// at the given sequence number. The borrowed key is not retained. onSigned
// runs between signing and the send; once it fires, the returned TxResult
// carries the hash even when the send itself errors.
func (c *RPCClient) SubmitHarvest(ctx context.Context, key *ecdsa.PrivateKey, sequence uint64, onSigned func(txHash string)) (TxResult, error) {
	if c.opts.ContractAddress == "" {
		return TxResult{}, errors.New("ledger: contract address not configured")
	}
	if !common.IsHexAddress(c.opts.ContractAddress) {
		return TxResult{}, fmt.Errorf("ledger: invalid contract address %q", c.opts.ContractAddress)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return TxResult{}, err
	}

	payload, err := harvestABI.Pack("harvest")
	if err != nil {
		return TxResult{}, err
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return TxResult{}, classify(err)
	}

	gasLimit := c.opts.GasLimit
	if gasLimit == 0 {
		gasLimit = 300000
	}

	contract := common.HexToAddress(c.opts.ContractAddress)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    sequence,
		To:       &contract,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     payload,
	})

	signer := types.LatestSignerForChainID(big.NewInt(c.opts.ChainID))
	signed, err := types.SignTx(tx, signer, key)
	if err != nil {
		return TxResult{}, fmt.Errorf("ledger: sign transaction: %w", err)
	}

	result := TxResult{Hash: signed.Hash().Hex(), Sequence: sequence}
	if onSigned != nil {
		onSigned(result.Hash)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return result, classify(err)
	}

	c.logger.Info().Str("tx_hash", result.Hash).Uint64("sequence", sequence).Msg("harvest submitted")
	return result, nil
}

// ResolveTransaction looks up the outcome of a previously submitted hash.
// Used at startup to reconcile an attempt whose result was unknown at
// shutdown.
func (c *RPCClient) ResolveTransaction(ctx context.Context, hash string) (TxOutcome, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return TxUnknown, err
	}

	txHash := common.HexToHash(hash)
	receipt, err := client.TransactionReceipt(ctx, txHash)
	if err == nil {
		if receipt.Status == types.ReceiptStatusSuccessful {
			return TxSucceeded, nil
		}
		return TxFailed, nil
	}
	if !errors.Is(err, ethereum.NotFound) {
		return TxUnknown, classify(err)
	}

	_, pending, err := client.TransactionByHash(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return TxUnknown, nil
		}
		return TxUnknown, classify(err)
	}
	if pending {
		return TxPending, nil
	}
	return TxUnknown, nil
}

func (c *RPCClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *RPCClient) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	if c.opts.RPCURL == "" {
		return nil, errors.New("ledger: rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, classify(err)
	}
	c.client = client
	return client, nil
}

// classify maps raw RPC errors onto the submission taxonomy. Node error
// strings are the only signal available over JSON-RPC.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "nonce too high"),
		strings.Contains(msg, "replacement transaction underpriced"),
		strings.Contains(msg, "already known"):
		return fmt.Errorf("%w: %v", ErrSequenceConflict, err)
	case strings.Contains(msg, "insufficient funds"):
		return fmt.Errorf("%w: %v", ErrInsufficientGas, err)
	case strings.Contains(msg, "execution reverted"),
		strings.Contains(msg, "always failing transaction"):
		return fmt.Errorf("%w: %v", ErrRejected, err)
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

var _ Client = (*RPCClient)(nil)
