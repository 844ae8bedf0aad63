package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceRecord is a persisted oracle observation.
type PriceRecord struct {
	ID         int64
	Pair       string
	Price      decimal.Decimal
	ObservedAt time.Time
	Source     string
	CreatedAt  time.Time
}

// AttemptRecord is a persisted harvest attempt row.
type AttemptRecord struct {
	AttemptID     string
	Pair          string
	Price         decimal.Decimal
	ObservedAt    time.Time
	SubmittedAt   time.Time
	Outcome       string
	TxHash        *string
	FailureReason *string
	CreatedAt     time.Time
}
