package engine

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"smart-harvester/internal/alerting"
	"smart-harvester/internal/keystore"
	"smart-harvester/internal/ledger"
	"smart-harvester/internal/oracle"
)

// ErrStopped is returned by Tick once the engine has shut itself down.
var ErrStopped = errors.New("engine: stopped")

// ErrAttemptInFlight rejects a manual trigger while an attempt is pending.
var ErrAttemptInFlight = errors.New("engine: harvest attempt already in flight")

// SigningKeys is the engine's view of the secret store. The decrypted key is
// borrowed for the duration of a single signing call.
type SigningKeys interface {
	Address() (common.Address, error)
	WithSigningKey(symmetricKey []byte, fn func(key *ecdsa.PrivateKey) error) error
}

// AttemptStore persists price samples and attempt records. Optional; the
// engine runs without persistence.
type AttemptStore interface {
	RecordPriceSample(ctx context.Context, sample oracle.PriceSample) error
	UpsertAttempt(ctx context.Context, attempt HarvestAttempt) error
	LatestPendingAttempt(ctx context.Context) (*HarvestAttempt, error)
}

// Settings is the per-cycle immutable slice of configuration the engine acts
// on. A new value can be swapped in between ticks via UpdateSettings.
type Settings struct {
	Pair         string
	Threshold    decimal.Decimal
	Mode         Mode
	MinBalance   decimal.Decimal
	RetryCeiling int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
}

func (s *Settings) normalise() {
	if s.RetryCeiling <= 0 {
		s.RetryCeiling = 5
	}
	if s.BackoffBase <= 0 {
		s.BackoffBase = 2 * time.Second
	}
	if s.BackoffCap < s.BackoffBase {
		s.BackoffCap = 60 * time.Second
	}
	if s.Mode == "" {
		s.Mode = ModeAtOrAbove
	}
}

// Options wire the engine's collaborators.
type Options struct {
	Oracle       oracle.PriceFetcher
	Ledger       ledger.Client
	Keys         SigningKeys
	SymmetricKey []byte
	Store        AttemptStore
	Notifier     alerting.Notifier
	Sink         *StatusSink
}

// Engine is the price-triggered harvest state machine. All transitions run
// under one mutex so a scheduler tick and a manual trigger can never
// interleave two attempts.
type Engine struct {
	mu sync.Mutex

	settings     Settings
	nextSettings *Settings
	settingsMu   sync.Mutex

	oracle       oracle.PriceFetcher
	ledger       ledger.Client
	keys         SigningKeys
	symmetricKey []byte
	store        AttemptStore
	notifier     alerting.Notifier
	sink         *StatusSink
	logger       zerolog.Logger

	state        State
	address      common.Address
	addressKnown bool
	pending      *HarvestAttempt
	resolveHash  string
	failures     int
	backoffUntil time.Time
	lowBalance   bool

	lastPrice   decimal.Decimal
	lastChecked time.Time
	lastAttempt *HarvestAttempt
	lastError   string
}

// New constructs an engine in the Idle state.
func New(settings Settings, opts Options, logger zerolog.Logger) *Engine {
	settings.normalise()
	sink := opts.Sink
	if sink == nil {
		sink = NewStatusSink()
	}
	return &Engine{
		settings:     settings,
		oracle:       opts.Oracle,
		ledger:       opts.Ledger,
		keys:         opts.Keys,
		symmetricKey: opts.SymmetricKey,
		store:        opts.Store,
		notifier:     opts.Notifier,
		sink:         sink,
		logger:       logger.With().Str("component", "engine").Logger(),
		state:        StateIdle,
	}
}

// Sink exposes the status snapshot for external readers.
func (e *Engine) Sink() *StatusSink {
	return e.sink
}

// UpdateSettings stages new settings; they take effect at the top of the next
// tick so no in-flight state is lost.
func (e *Engine) UpdateSettings(settings Settings) {
	settings.normalise()
	e.settingsMu.Lock()
	e.nextSettings = &settings
	e.settingsMu.Unlock()
}

func (e *Engine) applySettings() {
	e.settingsMu.Lock()
	defer e.settingsMu.Unlock()
	if e.nextSettings != nil {
		e.settings = *e.nextSettings
		e.nextSettings = nil
		e.logger.Info().Str("threshold", e.settings.Threshold.String()).
			Str("mode", string(e.settings.Mode)).Msg("settings reloaded")
	}
}

// Reconcile resolves an attempt left pending by a previous run before any new
// attempt is allowed. Called once before the tick loop starts.
func (e *Engine) Reconcile(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.publish()

	if e.store == nil {
		return nil
	}
	prior, err := e.store.LatestPendingAttempt(ctx)
	if err != nil {
		return fmt.Errorf("load pending attempt: %w", err)
	}
	if prior == nil {
		return nil
	}

	if prior.TxHash == "" {
		// Never made it to the wire; safe to close out.
		prior.Outcome = OutcomeFailed
		prior.FailureReason = ReasonIndeterminate
		e.finishAttempt(ctx, prior)
		return nil
	}

	e.logger.Warn().Str("attempt_id", prior.ID).Str("tx_hash", prior.TxHash).
		Msg("adopting unresolved attempt from previous run")
	e.pending = prior
	e.lastAttempt = prior
	e.resolveHash = prior.TxHash
	return nil
}

// Tick runs one full check-and-harvest cycle. Invoked by the scheduler on a
// fixed interval and serialised with manual triggers.
func (e *Engine) Tick(ctx context.Context, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.publish()

	if e.state == StateStopped {
		return ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.applySettings()
	ticksTotal.Inc()

	if e.resolveHash != "" {
		if !e.resolvePrior(ctx) {
			return nil
		}
	}

	if e.state == StateBackoff {
		if now.Before(e.backoffUntil) {
			return nil
		}
		return e.submit(ctx, now)
	}

	e.setState(StateChecking)

	sample, err := e.oracle.FetchPrice(ctx)
	if err != nil {
		e.failures++
		e.lastError = err.Error()
		oracleFailuresTotal.WithLabelValues(oracleFailureReason(err)).Inc()
		e.logger.Warn().Err(err).Int("consecutive_failures", e.failures).Msg("price fetch failed")
		e.setState(StateIdle)
		return err
	}

	e.lastPrice = sample.Price
	e.lastChecked = now
	e.lastError = ""
	lastPriceGauge.WithLabelValues(sample.Pair).Set(sample.Price.InexactFloat64())

	if e.store != nil {
		if err := e.store.RecordPriceSample(ctx, sample); err != nil {
			e.logger.Error().Err(err).Msg("failed to persist price sample")
		}
	}

	triggered := Evaluate(sample.Price, e.settings.Threshold, e.settings.Mode)
	e.logger.Info().Str("pair", sample.Pair).Str("price", sample.Price.String()).
		Str("threshold", e.settings.Threshold.String()).Bool("triggered", triggered).
		Msg("price checked")

	if !triggered || e.pending != nil {
		// A clean poll breaks the consecutive-failure chain when nothing is
		// in flight.
		if e.pending == nil {
			e.failures = 0
		}
		e.setState(StateIdle)
		return nil
	}

	return e.beginHarvest(ctx, sample, now)
}

// ManualHarvest bypasses the threshold check but honours the balance
// precondition and the single-pending-attempt invariant.
func (e *Engine) ManualHarvest(ctx context.Context) (HarvestAttempt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.publish()

	if e.state == StateStopped {
		return HarvestAttempt{}, ErrStopped
	}
	if e.pending != nil {
		return HarvestAttempt{}, ErrAttemptInFlight
	}

	e.setState(StateChecking)

	now := time.Now().UTC()
	sample, err := e.oracle.FetchPrice(ctx)
	if err != nil {
		e.lastError = err.Error()
		e.setState(StateIdle)
		return HarvestAttempt{}, fmt.Errorf("fetch price: %w", err)
	}

	err = e.beginHarvest(ctx, sample, now)
	if e.pending != nil {
		return *e.pending, err
	}
	if e.lastAttempt != nil {
		return *e.lastAttempt, err
	}
	return HarvestAttempt{}, err
}

func (e *Engine) beginHarvest(ctx context.Context, sample oracle.PriceSample, now time.Time) error {
	addr, err := e.signerAddress()
	if err != nil {
		e.lastError = err.Error()
		e.stop(ctx, err)
		return err
	}

	balance, err := e.ledger.GetBalance(ctx, addr)
	if err != nil {
		e.failures++
		e.lastError = err.Error()
		e.logger.Warn().Err(err).Msg("balance query failed")
		e.setState(StateIdle)
		return err
	}

	if balance.LessThan(e.settings.MinBalance) {
		if !e.lowBalance {
			attempt := newAttempt(sample, now)
			attempt.Outcome = OutcomeFailed
			attempt.FailureReason = ReasonInsufficientBalance
			e.finishAttempt(ctx, attempt)
			e.notify(ctx, alerting.Event{
				Kind:   alerting.KindLowBalance,
				Pair:   sample.Pair,
				Price:  sample.Price,
				Reason: fmt.Sprintf("balance %s below minimum %s", balance, e.settings.MinBalance),
				At:     now,
			})
			e.lowBalance = true
			e.logger.Warn().Str("balance", balance.String()).
				Str("min_balance", e.settings.MinBalance.String()).
				Msg("insufficient balance; harvest suspended until funded")
		}
		e.setState(StateIdle)
		return nil
	}
	e.lowBalance = false

	e.pending = newAttempt(sample, now)
	e.persistAttempt(ctx, e.pending)
	return e.submit(ctx, now)
}

func (e *Engine) submit(ctx context.Context, now time.Time) error {
	e.setState(StateHarvesting)
	attempt := e.pending

	addr, err := e.signerAddress()
	if err != nil {
		e.failAttempt(ctx, attempt, ReasonDecryptionError)
		e.stop(ctx, err)
		return err
	}

	// The signed hash goes onto the pending attempt before the wire call so
	// a crash mid-send leaves a row that Reconcile can resolve by hash.
	recordHash := func(hash string) {
		attempt.TxHash = hash
		e.persistAttempt(ctx, attempt)
	}

	var result ledger.TxResult
	err = e.keys.WithSigningKey(e.symmetricKey, func(key *ecdsa.PrivateKey) error {
		seq, seqErr := e.ledger.SequenceNumber(ctx, addr)
		if seqErr != nil {
			return seqErr
		}
		res, subErr := e.ledger.SubmitHarvest(ctx, key, seq, recordHash)
		if errors.Is(subErr, ledger.ErrSequenceConflict) {
			// Refresh the sequence and retry exactly once within this cycle.
			seq, seqErr = e.ledger.SequenceNumber(ctx, addr)
			if seqErr != nil {
				return seqErr
			}
			res, subErr = e.ledger.SubmitHarvest(ctx, key, seq, recordHash)
		}
		if subErr != nil {
			return subErr
		}
		result = res
		return nil
	})

	if err == nil {
		attempt.TxHash = result.Hash
		attempt.Outcome = OutcomeSuccess
		e.pending = nil
		e.failures = 0
		e.finishAttempt(ctx, attempt)
		e.setState(StateIdle)
		e.logger.Info().Str("attempt_id", attempt.ID).Str("tx_hash", attempt.TxHash).
			Msg("harvest succeeded")
		e.notify(ctx, alerting.Event{
			Kind:   alerting.KindHarvestSuccess,
			Pair:   attempt.Sample.Pair,
			Price:  attempt.Sample.Price,
			TxHash: attempt.TxHash,
			At:     now,
		})
		return nil
	}

	e.lastError = err.Error()

	switch {
	case errors.Is(err, keystore.ErrDecryption), errors.Is(err, keystore.ErrNotInitialised):
		e.failAttempt(ctx, attempt, ReasonDecryptionError)
		e.stop(ctx, err)

	case errors.Is(err, ledger.ErrRejected):
		e.failAttempt(ctx, attempt, ReasonSubmissionRejected)
		e.notifyFailure(ctx, attempt, now)
		e.setState(StateIdle)

	case errors.Is(err, ledger.ErrInsufficientGas):
		e.failAttempt(ctx, attempt, ReasonInsufficientBalance)
		e.lowBalance = true
		e.notifyFailure(ctx, attempt, now)
		e.setState(StateIdle)

	default:
		// Transient: persisting sequence conflict, network timeout, or an
		// unclassified RPC error.
		e.failures++
		if e.failures >= e.settings.RetryCeiling {
			e.failAttempt(ctx, attempt, ReasonRetryCeiling)
			e.failures = 0
			e.notifyFailure(ctx, attempt, now)
			e.setState(StateIdle)
			e.logger.Error().Err(err).Str("attempt_id", attempt.ID).
				Msg("retry ceiling reached; abandoning trigger")
		} else {
			delay := backoffDelay(e.settings.BackoffBase, e.settings.BackoffCap, e.failures)
			e.backoffUntil = now.Add(delay)
			e.setState(StateBackoff)
			e.logger.Warn().Err(err).Dur("backoff", delay).
				Int("consecutive_failures", e.failures).Msg("submission failed; backing off")
		}
	}

	return err
}

// resolvePrior checks the ledger for the outcome of an adopted attempt.
// Returns true once the attempt reached a terminal state.
func (e *Engine) resolvePrior(ctx context.Context) bool {
	outcome, err := e.ledger.ResolveTransaction(ctx, e.resolveHash)
	if err != nil {
		e.logger.Warn().Err(err).Str("tx_hash", e.resolveHash).
			Msg("could not resolve prior submission; retrying next tick")
		return false
	}

	attempt := e.pending
	switch outcome {
	case ledger.TxPending:
		e.logger.Info().Str("tx_hash", e.resolveHash).Msg("prior submission still pending")
		return false
	case ledger.TxSucceeded:
		attempt.Outcome = OutcomeSuccess
		e.failures = 0
	case ledger.TxFailed:
		attempt.Outcome = OutcomeFailed
		attempt.FailureReason = ReasonSubmissionRejected
	default:
		attempt.Outcome = OutcomeFailed
		attempt.FailureReason = ReasonIndeterminate
	}

	e.pending = nil
	e.resolveHash = ""
	e.finishAttempt(ctx, attempt)
	e.logger.Info().Str("attempt_id", attempt.ID).Str("outcome", string(attempt.Outcome)).
		Msg("prior submission reconciled")
	return true
}

func (e *Engine) stop(ctx context.Context, cause error) {
	e.setState(StateStopped)
	e.logger.Error().Err(cause).Msg("engine stopped: signing key unusable")
	e.notify(ctx, alerting.Event{
		Kind:   alerting.KindEngineStopped,
		Pair:   e.settings.Pair,
		Reason: cause.Error(),
		At:     time.Now().UTC(),
	})
}

func (e *Engine) failAttempt(ctx context.Context, attempt *HarvestAttempt, reason string) {
	if attempt == nil {
		return
	}
	attempt.Outcome = OutcomeFailed
	attempt.FailureReason = reason
	e.pending = nil
	e.finishAttempt(ctx, attempt)
}

func (e *Engine) finishAttempt(ctx context.Context, attempt *HarvestAttempt) {
	e.lastAttempt = attempt
	harvestAttemptsTotal.WithLabelValues(string(attempt.Outcome)).Inc()
	e.persistAttempt(ctx, attempt)
}

func (e *Engine) persistAttempt(ctx context.Context, attempt *HarvestAttempt) {
	if e.store == nil || attempt == nil {
		return
	}
	if err := e.store.UpsertAttempt(ctx, *attempt); err != nil {
		e.logger.Error().Err(err).Str("attempt_id", attempt.ID).
			Msg("failed to persist attempt")
	}
}

func (e *Engine) notifyFailure(ctx context.Context, attempt *HarvestAttempt, now time.Time) {
	e.notify(ctx, alerting.Event{
		Kind:   alerting.KindHarvestFailed,
		Pair:   attempt.Sample.Pair,
		Price:  attempt.Sample.Price,
		TxHash: attempt.TxHash,
		Reason: attempt.FailureReason,
		At:     now,
	})
}

func (e *Engine) notify(ctx context.Context, event alerting.Event) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event); err != nil {
		e.logger.Error().Err(err).Str("kind", string(event.Kind)).
			Msg("failed to dispatch notification")
	}
}

func (e *Engine) signerAddress() (common.Address, error) {
	if e.addressKnown {
		return e.address, nil
	}
	addr, err := e.keys.Address()
	if err != nil {
		return common.Address{}, err
	}
	e.address = addr
	e.addressKnown = true
	return addr, nil
}

func (e *Engine) setState(to State) {
	if !canTransition(e.state, to) {
		e.logger.Error().Str("from", string(e.state)).Str("to", string(to)).
			Msg("invalid state transition")
		return
	}
	e.state = to
}

func (e *Engine) publish() {
	consecutiveFailuresGauge.Set(float64(e.failures))
	e.sink.Record(Status{
		State:               e.state,
		Pair:                e.settings.Pair,
		LastPrice:           e.lastPrice,
		LastCheckedAt:       e.lastChecked,
		LastAttempt:         e.lastAttempt,
		ConsecutiveFailures: e.failures,
		LowBalance:          e.lowBalance,
		LastError:           e.lastError,
	})
}

func backoffDelay(base, maxDelay time.Duration, failures int) time.Duration {
	delay := base
	for i := 1; i < failures && delay < maxDelay; i++ {
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

func oracleFailureReason(err error) string {
	switch {
	case errors.Is(err, oracle.ErrStalePrice):
		return "stale"
	case errors.Is(err, oracle.ErrMalformedResponse):
		return "malformed"
	default:
		return "unavailable"
	}
}
