package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/legasicrypto/borrowing-protocol/internal/command"
	"github.com/legasicrypto/borrowing-protocol/internal/event"
	"github.com/legasicrypto/borrowing-protocol/internal/gate"
	"github.com/legasicrypto/borrowing-protocol/internal/observability"
	"github.com/legasicrypto/borrowing-protocol/internal/state"
)

// Engine is the single-threaded command processor. It owns all four
// ledgers; nothing else ever mutates them. Commands either fully apply
// (events emitted, hash chain advanced) or fully fail.
type Engine struct {
	sequence int64
	hasher   *StateHasher

	loans    *state.LoanBook
	liq      *state.LiquidationBook
	prices   *state.PriceAdapter
	policies *state.PolicyRegistry
	risk     *RiskEvaluator

	identity gate.IdentityGate
	valuer   gate.CollateralValuer
	quotes   *gate.RingQuoteFeed

	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	log         zerolog.Logger

	initialized     bool
	admin           string
	oraclePublisher string
	executor        string

	persistChan    chan<- Output
	projectionChan chan<- Output

	snapshotReq chan chan *EngineState
}

// Output is one committed audit log entry plus its decoded payload
type Output struct {
	Envelope *event.Envelope
	Event    event.Event
}

func NewEngine(
	startSequence int64,
	persistChan, projectionChan chan<- Output,
	dbChecker DBIdempotencyChecker,
	identity gate.IdentityGate,
	valuer gate.CollateralValuer,
	quotes *gate.RingQuoteFeed,
	metrics *observability.Metrics,
) *Engine {
	loans := state.NewLoanBook()
	liq := state.NewLiquidationBook(loans)
	prices := state.NewPriceAdapter(0)
	policies := state.NewPolicyRegistry()

	e := &Engine{
		sequence:       startSequence,
		hasher:         NewStateHasher(),
		loans:          loans,
		liq:            liq,
		prices:         prices,
		policies:       policies,
		identity:       identity,
		valuer:         valuer,
		quotes:         quotes,
		idempotency:    NewIdempotencyChecker(1_000_000, dbChecker),
		metrics:        metrics,
		log:            observability.NewLogger("engine"),
		persistChan:    persistChan,
		projectionChan: projectionChan,
		snapshotReq:    make(chan chan *EngineState),
	}
	e.risk = NewRiskEvaluator(loans, liq, prices, policies, valuer)

	return e
}

// Run drains the command channel until the context is cancelled.
// Rejections are logged and counted; they never stop the loop.
func (e *Engine) Run(ctx context.Context, commands <-chan command.Command) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			if err := e.ProcessCommand(cmd); err != nil {
				e.log.Warn().
					Str("command_type", cmd.CommandType().String()).
					Str("idempotency_key", cmd.IdempotencyKey()).
					Err(err).
					Msg("command rejected")
			}
		case reply := <-e.snapshotReq:
			reply <- e.ExportState()
		}
	}
}

// ProcessCommand is the main processing pipeline
func (e *Engine) ProcessCommand(cmd command.Command) error {
	start := time.Now()
	cmdType := cmd.CommandType().String()
	idempotencyKey := cmd.IdempotencyKey()

	// Step 1: Idempotency (two-tier)
	if e.idempotency.IsDuplicate(cmdType, idempotencyKey) {
		if e.metrics != nil {
			e.metrics.CommandsRejected.WithLabelValues(cmdType, "duplicate").Inc()
		}
		return nil
	}

	// Step 2: Initialization gate
	if !e.initialized && cmd.CommandType() != command.CommandTypeInitialize {
		err := fmt.Errorf("%w: %s before Initialize", state.ErrNotInitialized, cmdType)
		e.reject(cmdType, err)
		return err
	}

	// Step 3: Dispatch. Handlers validate everything before mutating, so
	// an error here means no state was touched.
	events, err := e.dispatchCommand(cmd)
	if err != nil {
		e.reject(cmdType, err)
		return err
	}

	// Step 4: Envelope each event into the hash chain
	outputs := make([]Output, 0, len(events))
	for _, evt := range events {
		payload, marshalErr := json.Marshal(evt)
		if marshalErr != nil {
			panic(fmt.Sprintf("FATAL: cannot marshal %T: %v", evt, marshalErr))
		}

		digest := e.stateDigest(evt)
		prevHash := e.hasher.GetPrevHash()
		stateHash := e.hasher.ComputeHash(e.sequence, digest)

		envelope := &event.Envelope{
			Sequence:       e.sequence,
			EventID:        uuid.New().String(),
			IdempotencyKey: idempotencyKey,
			EventType:      evt.EventType(),
			Asset:          e.eventAsset(evt),
			OccurredAt:     cmd.OccurredAt(),
			Payload:        payload,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		}

		outputs = append(outputs, Output{Envelope: envelope, Event: evt})
		e.sequence++
	}

	// Step 5: Emit. Persist channel is a blocking send, backpressure is
	// intentional; projection sends drop on full and rebuild later.
	for _, output := range outputs {
		select {
		case e.persistChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- output
		}

		select {
		case e.projectionChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.WithLabelValues("readmodel").Inc()
			}
		}
	}

	// Step 6: Mark processed and record metrics
	e.idempotency.MarkProcessed(cmdType, idempotencyKey)
	e.recordDomainMetrics(events)

	if e.metrics != nil {
		e.metrics.CommandsApplied.WithLabelValues(cmdType).Inc()
		e.metrics.CommandDuration.WithLabelValues(cmdType).Observe(time.Since(start).Seconds())
		e.metrics.EngineSequence.Set(float64(e.sequence))
	}

	return nil
}

func (e *Engine) dispatchCommand(cmd command.Command) ([]event.Event, error) {
	switch c := cmd.(type) {
	case *command.Initialize:
		return e.handleInitialize(c)
	case *command.OpenPosition:
		return e.handleOpenPosition(c)
	case *command.Draw:
		return e.handleDraw(c)
	case *command.Repay:
		return e.handleRepay(c)
	case *command.AccrueInterest:
		return e.handleAccrueInterest(c)
	case *command.ClosePosition:
		return e.handleClosePosition(c)
	case *command.RestateCollateral:
		return e.handleRestateCollateral(c)
	case *command.EmitIntent:
		return e.handleEmitIntent(c)
	case *command.ComposeIntent:
		return e.handleComposeIntent(c)
	case *command.AcceptReceipt:
		return e.handleAcceptReceipt(c)
	case *command.CancelIntent:
		return e.handleCancelIntent(c)
	case *command.UpdatePrice:
		return e.handleUpdatePrice(c)
	case *command.SetPolicy:
		return e.handleSetPolicy(c)
	case *command.ToggleCircuitBreaker:
		return e.handleToggleCircuitBreaker(c)
	case *command.AddVenue:
		return e.handleAddVenue(c)
	case *command.RemoveVenue:
		return e.handleRemoveVenue(c)
	default:
		return nil, fmt.Errorf("unknown command type %T", cmd)
	}
}

// --- Handlers ---

func (e *Engine) handleInitialize(c *command.Initialize) ([]event.Event, error) {
	if e.initialized {
		return nil, fmt.Errorf("%w: trust chain already set", state.ErrAlreadyInitialized)
	}
	if c.Admin == "" || c.OraclePublisher == "" {
		return nil, fmt.Errorf("%w: admin and oracle publisher are required", state.ErrInvalidAmount)
	}
	if c.MaxJumpBps <= 0 {
		return nil, fmt.Errorf("%w: max_jump_bps must be positive, got %d", state.ErrInvalidAmount, c.MaxJumpBps)
	}

	e.initialized = true
	e.admin = c.Admin
	e.oraclePublisher = c.OraclePublisher
	e.executor = c.Executor
	e.prices = state.NewPriceAdapter(c.MaxJumpBps)
	e.risk = NewRiskEvaluator(e.loans, e.liq, e.prices, e.policies, e.valuer)

	return []event.Event{&event.EngineInitialized{
		Admin:           c.Admin,
		OraclePublisher: c.OraclePublisher,
		Executor:        c.Executor,
		MaxJumpBps:      c.MaxJumpBps,
		Timestamp:       c.At,
	}}, nil
}

func (e *Engine) handleOpenPosition(c *command.OpenPosition) ([]event.Event, error) {
	if e.identity != nil && !e.identity.Allowed(c.From) {
		return nil, fmt.Errorf("%w: %s failed the identity check", state.ErrUnauthorized, c.From)
	}

	pos, err := e.loans.Open(c.PositionID, c.From, c.CollateralRef, c.Asset, c.At)
	if err != nil {
		return nil, err
	}

	return []event.Event{&event.PositionOpened{
		PositionID:    pos.ID,
		Owner:         pos.Owner,
		Asset:         pos.Asset,
		CollateralRef: pos.CollateralRef,
		Timestamp:     c.At,
	}}, nil
}

func (e *Engine) handleDraw(c *command.Draw) ([]event.Event, error) {
	if err := e.requireOwner(c.PositionID, c.From); err != nil {
		return nil, err
	}
	if e.identity != nil && !e.identity.Allowed(c.From) {
		return nil, fmt.Errorf("%w: %s failed the identity check", state.ErrUnauthorized, c.From)
	}
	if err := e.requireBorrowingAllowed(c.PositionID); err != nil {
		return nil, err
	}

	pos, err := e.loans.Draw(c.PositionID, c.Amount, c.OracleRound, c.NewLTVBps)
	if err != nil {
		return nil, err
	}

	return []event.Event{&event.DrewDown{
		PositionID:  pos.ID,
		Amount:      c.Amount,
		Principal:   pos.Principal,
		OracleRound: pos.OracleRound,
		LTVBps:      pos.LTVBps,
		Timestamp:   c.At,
	}}, nil
}

func (e *Engine) handleRepay(c *command.Repay) ([]event.Event, error) {
	// Any payer may reduce debt; the command's signature is the payer
	// authorization.
	interestPaid, principalPaid, pos, err := e.loans.Repay(c.PositionID, c.Amount)
	if err != nil {
		return nil, err
	}

	return []event.Event{&event.Repaid{
		PositionID:    pos.ID,
		Payer:         c.From,
		Amount:        c.Amount,
		InterestPaid:  interestPaid,
		PrincipalPaid: principalPaid,
		Principal:     pos.Principal,
		Interest:      pos.AccruedInterest,
		Status:        pos.Status.String(),
		Timestamp:     c.At,
	}}, nil
}

func (e *Engine) handleAccrueInterest(c *command.AccrueInterest) ([]event.Event, error) {
	if err := e.requireAdmin(c.From); err != nil {
		return nil, err
	}

	pos, err := e.loans.AccrueInterest(c.PositionID, c.Delta)
	if err != nil {
		return nil, err
	}

	return []event.Event{&event.InterestAccrued{
		PositionID: pos.ID,
		Delta:      c.Delta,
		Interest:   pos.AccruedInterest,
		Timestamp:  c.At,
	}}, nil
}

func (e *Engine) handleClosePosition(c *command.ClosePosition) ([]event.Event, error) {
	if err := e.requireOwner(c.PositionID, c.From); err != nil {
		return nil, err
	}

	pos, err := e.loans.Close(c.PositionID)
	if err != nil {
		return nil, err
	}

	return []event.Event{&event.PositionClosed{
		PositionID: pos.ID,
		Timestamp:  c.At,
	}}, nil
}

func (e *Engine) handleRestateCollateral(c *command.RestateCollateral) ([]event.Event, error) {
	if err := e.requireAdmin(c.From); err != nil {
		return nil, err
	}

	pos, err := e.loans.RestateCollateral(c.PositionID, c.CollateralRef, c.NewLTVBps)
	if err != nil {
		return nil, err
	}

	return []event.Event{&event.CollateralRestated{
		PositionID:    pos.ID,
		CollateralRef: pos.CollateralRef,
		LTVBps:        pos.LTVBps,
		Timestamp:     c.At,
	}}, nil
}

func (e *Engine) handleEmitIntent(c *command.EmitIntent) ([]event.Event, error) {
	if err := e.requireAdmin(c.From); err != nil {
		return nil, err
	}

	intent := &state.LiquidationIntent{
		ID:            c.IntentID,
		PositionID:    c.PositionID,
		Notional:      c.Notional,
		MinOut:        c.MinOut,
		SlippageBps:   c.SlippageBps,
		Deadline:      c.Deadline,
		Nonce:         c.Nonce,
		PolicyVersion: c.PolicyVersion,
		OracleRound:   c.OracleRound,
		VenueHash:     c.VenueHash,
		CreatedAt:     c.At,
	}
	if err := e.liq.EmitIntent(intent); err != nil {
		return nil, err
	}

	return []event.Event{intentEmittedEvent(intent, c.At)}, nil
}

func (e *Engine) handleComposeIntent(c *command.ComposeIntent) ([]event.Event, error) {
	if err := e.requireAdmin(c.From); err != nil {
		return nil, err
	}

	intent, err := e.risk.ComposeIntent(c.PositionID, c.VenueHash, c.At)
	if err != nil {
		return nil, err
	}
	intent.ID = uuid.New().String()
	if err := e.liq.EmitIntent(intent); err != nil {
		return nil, err
	}

	return []event.Event{intentEmittedEvent(intent, c.At)}, nil
}

func (e *Engine) handleAcceptReceipt(c *command.AcceptReceipt) ([]event.Event, error) {
	if c.From != e.admin && (e.executor == "" || c.From != e.executor) {
		return nil, fmt.Errorf("%w: %s may not accept receipts", state.ErrUnauthorized, c.From)
	}

	intent, pos, err := e.liq.AcceptReceipt(c.IntentID, c.Proceeds, c.ExecutedOracleRound, c.At)
	if err != nil {
		return nil, err
	}

	events := []event.Event{
		&event.ReceiptAccepted{
			IntentID:            intent.ID,
			PositionID:          intent.PositionID,
			Proceeds:            c.Proceeds,
			ExecutedOracleRound: c.ExecutedOracleRound,
			Timestamp:           c.At,
		},
		&event.LiquidationApplied{
			PositionID:   pos.ID,
			Proceeds:     c.Proceeds,
			Principal:    pos.Principal,
			Interest:     pos.AccruedInterest,
			OracleRound:  pos.OracleRound,
			ReceiptNonce: intent.Nonce,
			Status:       pos.Status.String(),
			Timestamp:    c.At,
		},
		&event.CooldownStarted{
			PositionID: pos.ID,
			StartedAt:  c.At,
		},
	}
	if pos.Status == state.PositionStatusClosed {
		events = append(events, &event.PositionClosed{
			PositionID: pos.ID,
			Timestamp:  c.At,
		})
	}

	return events, nil
}

func (e *Engine) handleCancelIntent(c *command.CancelIntent) ([]event.Event, error) {
	if err := e.requireAdmin(c.From); err != nil {
		return nil, err
	}

	intent, err := e.liq.CancelIntent(c.IntentID)
	if err != nil {
		return nil, err
	}

	return []event.Event{&event.IntentCancelled{
		IntentID:   intent.ID,
		PositionID: intent.PositionID,
		Timestamp:  c.At,
	}}, nil
}

func (e *Engine) handleUpdatePrice(c *command.UpdatePrice) ([]event.Event, error) {
	if c.From != e.oraclePublisher {
		return nil, fmt.Errorf("%w: %s is not the oracle publisher", state.ErrUnauthorized, c.From)
	}

	round, err := e.prices.UpdatePrice(c.Asset, c.Price, c.Round, c.Source, c.At)
	if err != nil {
		if e.metrics != nil {
			e.metrics.PriceUpdatesRejected.WithLabelValues(c.Asset, rejectReason(err)).Inc()
		}
		return nil, err
	}

	// The legacy quote surface sees every accepted round.
	if e.quotes != nil {
		e.quotes.Record(gate.Quote{Asset: round.Asset, Price: round.Price, Timestamp: round.UpdatedAt})
	}

	return []event.Event{&event.PriceUpdated{
		Asset:     round.Asset,
		Price:     round.Price,
		Round:     round.Round,
		Source:    round.Source,
		Timestamp: c.At,
	}}, nil
}

func (e *Engine) handleSetPolicy(c *command.SetPolicy) ([]event.Event, error) {
	if err := e.requireAdmin(c.From); err != nil {
		return nil, err
	}

	version, err := e.policies.SetPolicy(&state.Policy{
		Asset:               c.Asset,
		MaxLTVBps:           c.MaxLTVBps,
		LiquidationBandsBps: c.LiquidationBandsBps,
		SliceBps:            c.SliceBps,
		CooldownSecs:        c.CooldownSecs,
		MaxSlippageBps:      c.MaxSlippageBps,
		StalenessSecs:       c.StalenessSecs,
		BaseRateBps:         c.BaseRateBps,
		SpreadBps:           c.SpreadBps,
		Allowed:             c.Allowed,
		CircuitBreaker:      c.CircuitBreaker,
	})
	if err != nil {
		return nil, err
	}

	return []event.Event{&event.PolicyUpdated{
		Asset:               c.Asset,
		MaxLTVBps:           c.MaxLTVBps,
		LiquidationBandsBps: c.LiquidationBandsBps,
		SliceBps:            c.SliceBps,
		CooldownSecs:        c.CooldownSecs,
		MaxSlippageBps:      c.MaxSlippageBps,
		StalenessSecs:       c.StalenessSecs,
		BaseRateBps:         c.BaseRateBps,
		SpreadBps:           c.SpreadBps,
		Allowed:             c.Allowed,
		CircuitBreaker:      c.CircuitBreaker,
		Version:             version,
		Timestamp:           c.At,
	}}, nil
}

func (e *Engine) handleToggleCircuitBreaker(c *command.ToggleCircuitBreaker) ([]event.Event, error) {
	if err := e.requireAdmin(c.From); err != nil {
		return nil, err
	}

	policy, err := e.policies.ToggleCircuitBreaker(c.Asset, c.Enabled)
	if err != nil {
		return nil, err
	}

	return []event.Event{&event.CircuitBreakerToggled{
		Asset:     policy.Asset,
		Enabled:   policy.CircuitBreaker,
		Timestamp: c.At,
	}}, nil
}

func (e *Engine) handleAddVenue(c *command.AddVenue) ([]event.Event, error) {
	if err := e.requireAdmin(c.From); err != nil {
		return nil, err
	}
	if err := e.policies.AddVenue(c.VenueHash); err != nil {
		return nil, err
	}

	return []event.Event{&event.VenueAdded{
		VenueHash: c.VenueHash,
		Timestamp: c.At,
	}}, nil
}

func (e *Engine) handleRemoveVenue(c *command.RemoveVenue) ([]event.Event, error) {
	if err := e.requireAdmin(c.From); err != nil {
		return nil, err
	}
	e.policies.RemoveVenue(c.VenueHash)

	return []event.Event{&event.VenueRemoved{
		VenueHash: c.VenueHash,
		Timestamp: c.At,
	}}, nil
}

// --- Authorization ---

func (e *Engine) requireAdmin(caller string) error {
	if caller != e.admin {
		return fmt.Errorf("%w: %s is not the administrator", state.ErrUnauthorized, caller)
	}
	return nil
}

func (e *Engine) requireOwner(positionID, caller string) error {
	owner, err := e.loans.Owner(positionID)
	if err != nil {
		return err
	}
	if caller != owner {
		return fmt.Errorf("%w: %s does not own position %s", state.ErrUnauthorized, caller, positionID)
	}
	return nil
}

// requireBorrowingAllowed gates new debt on the asset's policy flags
func (e *Engine) requireBorrowingAllowed(positionID string) error {
	pos, err := e.loans.Get(positionID)
	if err != nil {
		return err
	}
	policy, err := e.policies.GetPolicy(pos.Asset)
	if err != nil {
		return err
	}
	if policy.CircuitBreaker {
		return fmt.Errorf("%w: circuit breaker engaged for %s", state.ErrInvalidState, pos.Asset)
	}
	if !policy.Allowed {
		return fmt.Errorf("%w: borrowing disabled for %s", state.ErrInvalidState, pos.Asset)
	}
	return nil
}

// --- Digest and bookkeeping ---

// stateDigest produces canonical bytes of the entity the event touched.
// The hash chain binds each log entry to the post-state it produced.
func (e *Engine) stateDigest(evt event.Event) []byte {
	digest := []byte{byte(evt.EventType())}

	switch ev := evt.(type) {
	case *event.EngineInitialized:
		digest = append(digest, []byte(ev.Admin)...)
		digest = append(digest, []byte(ev.OraclePublisher)...)
	case *event.IntentEmitted, *event.ReceiptAccepted, *event.IntentCancelled:
		if intent, err := e.liq.GetIntent(evt.EntityID()); err == nil {
			digest = append(digest, intent.CanonicalBytes()...)
		}
	case *event.CooldownStarted:
		digest = append(digest, []byte(ev.PositionID)...)
		digest = appendInt64LE(digest, ev.StartedAt)
	case *event.PriceUpdated:
		if round, err := e.prices.GetPrice(ev.Asset); err == nil {
			digest = append(digest, round.CanonicalBytes()...)
		}
	case *event.PolicyUpdated, *event.CircuitBreakerToggled:
		if policy, err := e.policies.GetPolicy(evt.EntityID()); err == nil {
			digest = append(digest, policy.CanonicalBytes()...)
		}
		digest = appendInt64LE(digest, e.policies.Version())
	case *event.VenueAdded, *event.VenueRemoved:
		digest = append(digest, []byte(evt.EntityID())...)
		if e.policies.IsVenueAllowed(evt.EntityID()) {
			digest = append(digest, 1)
		} else {
			digest = append(digest, 0)
		}
	default:
		// Position-scoped events
		if pos, err := e.loans.Get(evt.EntityID()); err == nil {
			digest = append(digest, pos.CanonicalBytes()...)
		}
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// eventAsset resolves the asset context for the envelope, nil for
// global events.
func (e *Engine) eventAsset(evt event.Event) *string {
	switch ev := evt.(type) {
	case *event.PriceUpdated:
		return &ev.Asset
	case *event.PolicyUpdated:
		return &ev.Asset
	case *event.CircuitBreakerToggled:
		return &ev.Asset
	case *event.PositionOpened:
		return &ev.Asset
	case *event.EngineInitialized, *event.VenueAdded, *event.VenueRemoved:
		return nil
	default:
		if pos, err := e.loans.Get(evt.EntityID()); err == nil {
			asset := pos.Asset
			return &asset
		}
		return nil
	}
}

func (e *Engine) recordDomainMetrics(events []event.Event) {
	if e.metrics == nil {
		return
	}
	for _, evt := range events {
		switch ev := evt.(type) {
		case *event.IntentEmitted:
			e.metrics.IntentsEmitted.WithLabelValues(e.assetOfPosition(ev.PositionID)).Inc()
		case *event.ReceiptAccepted:
			e.metrics.ReceiptsAccepted.WithLabelValues(e.assetOfPosition(ev.PositionID)).Inc()
		case *event.IntentCancelled:
			e.metrics.IntentsCancelled.Inc()
		case *event.PolicyUpdated:
			e.metrics.PolicyVersion.Set(float64(ev.Version))
		}
	}
}

func (e *Engine) assetOfPosition(positionID string) string {
	if pos, err := e.loans.Get(positionID); err == nil {
		return pos.Asset
	}
	return "unknown"
}

func (e *Engine) reject(cmdType string, err error) {
	if e.metrics != nil {
		e.metrics.CommandsRejected.WithLabelValues(cmdType, rejectReason(err)).Inc()
	}
}

// rejectReason maps a typed error to a bounded metric label
func rejectReason(err error) string {
	switch {
	case errors.Is(err, state.ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, state.ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, state.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, state.ErrNotFound):
		return "not_found"
	case errors.Is(err, state.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, state.ErrExpired):
		return "expired"
	case errors.Is(err, state.ErrBelowMinimum):
		return "below_minimum"
	case errors.Is(err, state.ErrPriceJumpExceeded):
		return "price_jump"
	case errors.Is(err, state.ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "internal"
	}
}

func intentEmittedEvent(intent *state.LiquidationIntent, at int64) *event.IntentEmitted {
	return &event.IntentEmitted{
		IntentID:      intent.ID,
		PositionID:    intent.PositionID,
		Notional:      intent.Notional,
		MinOut:        intent.MinOut,
		SlippageBps:   intent.SlippageBps,
		Deadline:      intent.Deadline,
		Nonce:         intent.Nonce,
		PolicyVersion: intent.PolicyVersion,
		OracleRound:   intent.OracleRound,
		VenueHash:     intent.VenueHash,
		Timestamp:     at,
	}
}

// Sequence returns the next event sequence
func (e *Engine) Sequence() int64 {
	return e.sequence
}

// WarmIdempotency preloads recent composite keys on restart
func (e *Engine) WarmIdempotency(keys []string) {
	e.idempotency.Warm(keys)
}
