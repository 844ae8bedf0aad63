package engine

import (
	"strconv"
	"time"

	"smart-harvester/internal/oracle"
)

// Outcome is the lifecycle result of a harvest attempt.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Well-known failure reasons surfaced through status and persistence.
const (
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonSubmissionRejected  = "submission_rejected"
	ReasonDecryptionError     = "decryption_error"
	ReasonRetryCeiling        = "retry_ceiling_exceeded"
	ReasonIndeterminate       = "indeterminate_at_restart"
)

// HarvestAttempt records one submission lifecycle for a single trigger.
// Terminal once Outcome is success or failed; a retryable failure that gives
// up spawns a fresh attempt on the next qualifying trigger instead of
// mutating this one.
type HarvestAttempt struct {
	ID            string
	Sample        oracle.PriceSample
	SubmittedAt   time.Time
	Outcome       Outcome
	TxHash        string
	FailureReason string
}

func newAttempt(sample oracle.PriceSample, now time.Time) *HarvestAttempt {
	return &HarvestAttempt{
		ID:          strconv.FormatInt(now.UnixNano(), 36),
		Sample:      sample,
		SubmittedAt: now,
		Outcome:     OutcomePending,
	}
}

// Terminal reports whether the attempt reached a final outcome.
func (a *HarvestAttempt) Terminal() bool {
	return a != nil && a.Outcome != OutcomePending
}
