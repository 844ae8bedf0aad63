package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Failure classification for a fetch. Stale and malformed payloads are
// retryable on the next poll, never trigger-eligible.
var (
	ErrUnavailable       = errors.New("oracle: price feed unavailable")
	ErrStalePrice        = errors.New("oracle: sample outside staleness window")
	ErrMalformedResponse = errors.New("oracle: malformed response")
)

// PriceSample is a single observation of the configured asset pair.
// Immutable once produced; consumed within the current evaluation cycle.
type PriceSample struct {
	Pair       string
	Price      decimal.Decimal
	ObservedAt time.Time
	Source     string
}

// PriceFetcher retrieves the current price for the configured pair.
type PriceFetcher interface {
	FetchPrice(ctx context.Context) (PriceSample, error)
}
