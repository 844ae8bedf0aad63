package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Submission failure taxonomy. Sequence conflicts and timeouts are transient;
// a rejection is a permanent contract-side refusal and must not be retried
// blindly.
var (
	ErrSequenceConflict = errors.New("ledger: sequence conflict")
	ErrRejected         = errors.New("ledger: submission rejected")
	ErrTimeout          = errors.New("ledger: network timeout")
	ErrInsufficientGas  = errors.New("ledger: insufficient funds for gas")
)

// TxResult reports a completed submission.
type TxResult struct {
	Hash     string
	Sequence uint64
}

// TxOutcome resolves a previously submitted transaction.
type TxOutcome int

const (
	TxUnknown TxOutcome = iota
	TxPending
	TxSucceeded
	TxFailed
)

// Client is the engine's view of the ledger: balance and sequence queries plus
// harvest submission against a named contract.
//
// SubmitHarvest invokes onSigned (when non-nil) with the transaction hash
// after signing and before the send, so the caller can record the hash ahead
// of the wire call. A crash mid-send is then resolvable by hash on restart.
type Client interface {
	GetBalance(ctx context.Context, address common.Address) (decimal.Decimal, error)
	SequenceNumber(ctx context.Context, address common.Address) (uint64, error)
	SubmitHarvest(ctx context.Context, key *ecdsa.PrivateKey, sequence uint64, onSigned func(txHash string)) (TxResult, error)
	ResolveTransaction(ctx context.Context, hash string) (TxOutcome, error)
}
