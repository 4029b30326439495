package campaign

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/mart1n-xyz/gobetme/core/events"
	"github.com/mart1n-xyz/gobetme/core/types"
)

var (
	errNilState  = errors.New("campaign engine: state not configured")
	errNilLedger = errors.New("campaign engine: ledger mover not configured")

	// ErrNotFound is returned when the campaign identifier is unknown.
	ErrNotFound = errors.New("campaign engine: campaign not found")
	// ErrCampaignExists is returned when a creation collides with a stored ID.
	ErrCampaignExists = errors.New("campaign engine: campaign already exists")
	// ErrInvalidAmount rejects zero or negative contributions.
	ErrInvalidAmount = errors.New("campaign engine: amount must be positive")
	// ErrCampaignEnded rejects deadline-bounded actions after the deadline.
	ErrCampaignEnded = errors.New("campaign engine: campaign has ended")
	// ErrCampaignNotEnded rejects settlement-regime actions before the deadline.
	ErrCampaignNotEnded = errors.New("campaign engine: campaign has not ended")
	// ErrBettingFrozen rejects bets after the betting freeze engaged.
	ErrBettingFrozen = errors.New("campaign engine: betting stopped")
	// ErrAlreadySettled rejects an explicit re-settlement.
	ErrAlreadySettled = errors.New("campaign engine: already settled")
	// ErrTransferFailed propagates a ledger mover failure; the enclosing
	// action has been rolled back.
	ErrTransferFailed = errors.New("campaign engine: transfer failed")
	// ErrUnauthorized rejects owner-only actions from other callers.
	ErrUnauthorized = errors.New("campaign engine: unauthorized")
	// ErrNoFundsAvailable rejects a withdrawal with zero custody balance.
	ErrNoFundsAvailable = errors.New("campaign engine: no funds available")
	// ErrReentrantCall rejects a mutating action entered while another action
	// on the same campaign is still in progress.
	ErrReentrantCall = errors.New("campaign engine: action already in progress")
)

type engineState interface {
	CampaignGet(id [32]byte) (*Campaign, bool, error)
	CampaignPut(c *Campaign) error
	CampaignList() ([][32]byte, error)
	PositionGet(id [32]byte, participant [20]byte) (*Position, bool, error)
	PositionPut(p *Position) error
}

// LedgerMover is the asset-movement port consumed by the engine: it pulls
// funds from a participant into campaign custody and pays funds back out.
// Every call can fail and aborts the enclosing action when it does.
type LedgerMover interface {
	DepositFrom(participant [20]byte, campaignID [32]byte, amount *big.Int) error
	PayTo(recipient [20]byte, campaignID [32]byte, amount *big.Int) error
	BalanceOf(campaignID [32]byte) (*big.Int, error)
}

// Engine wires the campaign settlement business logic with external state,
// the ledger movement port and event emission.
type Engine struct {
	state   engineState
	ledger  LedgerMover
	emitter events.Emitter
	nowFn   func() int64

	mu       sync.Mutex
	inFlight map[[32]byte]struct{}
}

// NewEngine constructs a campaign engine with a no-op emitter and a unix
// seconds clock. Callers override dependencies via the setters.
func NewEngine() *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
		inFlight: make(map[[32]byte]struct{}),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the ledger movement port used by the engine.
func (e *Engine) SetLedger(ledger LedgerMover) { e.ledger = ledger }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the deadline clock. Primarily intended for tests to
// provide a deterministic counter.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(WrapEvent(evt))
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// begin acquires the per-campaign action-in-progress marker. The returned
// release function must run on every exit path.
func (e *Engine) begin(id [32]byte) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight == nil {
		e.inFlight = make(map[[32]byte]struct{})
	}
	if _, busy := e.inFlight[id]; busy {
		return nil, ErrReentrantCall
	}
	e.inFlight[id] = struct{}{}
	return func() {
		e.mu.Lock()
		delete(e.inFlight, id)
		e.mu.Unlock()
	}, nil
}

func (e *Engine) loadCampaign(id [32]byte) (*Campaign, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	c, ok, err := e.state.CampaignGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}

func (e *Engine) loadPosition(id [32]byte, participant [20]byte) (*Position, error) {
	pos, ok, err := e.state.PositionGet(id, participant)
	if err != nil {
		return nil, err
	}
	if !ok || pos == nil {
		pos = &Position{
			Campaign:    id,
			Participant: participant,
			Donated:     big.NewInt(0),
			YesBet:      big.NewInt(0),
			NoBet:       big.NewInt(0),
		}
	}
	return pos, nil
}

// CampaignID derives the deterministic identifier for a campaign created by
// the owner with the given cause and nonce.
func CampaignID(owner [20]byte, cause string, nonce uint64) [32]byte {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	return ethcrypto.Keccak256Hash(owner[:], []byte(cause), nonceBytes[:])
}

// CreateCampaign registers a new campaign with parameters fixed for its
// entire lifetime and emits the creation event.
func (e *Engine) CreateCampaign(owner [20]byte, token, cause string, target *big.Int, deadline int64, nonce uint64) (*Campaign, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	now := e.now()
	if deadline <= now {
		return nil, fmt.Errorf("campaign engine: deadline must be after %d", now)
	}
	c := &Campaign{
		Owner:        owner,
		Token:        token,
		Cause:        cause,
		Target:       cloneBigInt(target),
		Deadline:     deadline,
		CreatedAt:    now,
		TotalDonated: big.NewInt(0),
		TotalYesBets: big.NewInt(0),
		TotalNoBets:  big.NewInt(0),
	}
	sanitized, err := SanitizeCampaign(c)
	if err != nil {
		return nil, err
	}
	sanitized.ID = CampaignID(owner, sanitized.Cause, nonce)
	if existing, ok, err := e.state.CampaignGet(sanitized.ID); err != nil {
		return nil, err
	} else if ok && existing != nil {
		return nil, ErrCampaignExists
	}
	if err := e.state.CampaignPut(sanitized); err != nil {
		return nil, err
	}
	e.emit(CreatedEvent(sanitized))
	return sanitized.Clone(), nil
}

// Donate records a donation: the deposit is pulled from the participant
// first, then the position and aggregates are updated in the same action and
// the target check runs as the final step.
func (e *Engine) Donate(id [32]byte, participant [20]byte, amount *big.Int) (*Campaign, error) {
	release, err := e.begin(id)
	if err != nil {
		return nil, err
	}
	defer release()
	if e.ledger == nil {
		return nil, errNilLedger
	}
	c, err := e.loadCampaign(id)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if e.now() > c.Deadline {
		return nil, ErrCampaignEnded
	}
	if err := e.ledger.DepositFrom(participant, id, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	pos, err := e.loadPosition(id, participant)
	if err != nil {
		return nil, err
	}
	prev := pos.Clone()
	pos.Donated = new(big.Int).Add(pos.Donated, amount)
	c.TotalDonated = new(big.Int).Add(c.TotalDonated, amount)
	if err := e.state.PositionPut(pos); err != nil {
		return nil, e.refundDeposit(id, participant, amount, err)
	}
	if err := e.state.CampaignPut(c); err != nil {
		if restoreErr := e.state.PositionPut(prev); restoreErr != nil {
			err = fmt.Errorf("%v (position restore failed: %v)", err, restoreErr)
		}
		return nil, e.refundDeposit(id, participant, amount, err)
	}
	e.emit(DonationReceivedEvent(id, participant, amount.String(), c.TotalDonated.String()))
	if err := e.runTargetCheck(c); err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// PlaceBet records a yes or no bet. Bets are rejected once the freeze has
// engaged; the target check runs as the final step so a gap-closing bet
// freezes betting within the same action.
func (e *Engine) PlaceBet(id [32]byte, participant [20]byte, side BetSide, amount *big.Int) (*Campaign, error) {
	release, err := e.begin(id)
	if err != nil {
		return nil, err
	}
	defer release()
	if e.ledger == nil {
		return nil, errNilLedger
	}
	if !side.Valid() {
		return nil, fmt.Errorf("campaign engine: invalid bet side %d", side)
	}
	c, err := e.loadCampaign(id)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if e.now() > c.Deadline {
		return nil, ErrCampaignEnded
	}
	if c.BettingStopped {
		return nil, ErrBettingFrozen
	}
	if err := e.ledger.DepositFrom(participant, id, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	pos, err := e.loadPosition(id, participant)
	if err != nil {
		return nil, err
	}
	prev := pos.Clone()
	switch side {
	case BetYes:
		pos.YesBet = new(big.Int).Add(pos.YesBet, amount)
		c.TotalYesBets = new(big.Int).Add(c.TotalYesBets, amount)
	case BetNo:
		pos.NoBet = new(big.Int).Add(pos.NoBet, amount)
		c.TotalNoBets = new(big.Int).Add(c.TotalNoBets, amount)
	}
	if err := e.state.PositionPut(pos); err != nil {
		return nil, e.refundDeposit(id, participant, amount, err)
	}
	if err := e.state.CampaignPut(c); err != nil {
		if restoreErr := e.state.PositionPut(prev); restoreErr != nil {
			err = fmt.Errorf("%v (position restore failed: %v)", err, restoreErr)
		}
		return nil, e.refundDeposit(id, participant, amount, err)
	}
	e.emit(BetPlacedEvent(id, participant, side, amount.String()))
	if err := e.runTargetCheck(c); err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// refundDeposit returns a committed deposit to the participant when the state
// write recording it fails, so custody never holds funds without a matching
// position. The write error is reported; a refund failure is appended to it.
func (e *Engine) refundDeposit(id [32]byte, participant [20]byte, amount *big.Int, cause error) error {
	if err := e.ledger.PayTo(participant, id, amount); err != nil {
		return fmt.Errorf("%v (refund failed: %v)", cause, err)
	}
	return cause
}

// runTargetCheck applies the target-check transition to an already frozen or
// still open campaign and persists the result when the freeze engages. The
// caller guarantees the deadline precondition.
func (e *Engine) runTargetCheck(c *Campaign) error {
	if c.BettingStopped {
		return nil
	}
	if c.TotalDonated.Cmp(c.Target) >= 0 {
		c.BettingStopped = true
		if err := e.state.CampaignPut(c); err != nil {
			return err
		}
		e.emit(BettingStoppedEvent(c.ID, "0"))
		e.emit(TargetReachedEvent(c.ID, c.TotalDonated.String()))
		return nil
	}
	combined := new(big.Int).Add(c.TotalDonated, c.BetPool())
	if combined.Cmp(c.Target) < 0 {
		return nil
	}
	donated, yes, no, converted := convertToTarget(c.TotalDonated, c.TotalYesBets, c.TotalNoBets, c.Target)
	c.TotalDonated = donated
	c.TotalYesBets = yes
	c.TotalNoBets = no
	c.BettingStopped = true
	if err := e.state.CampaignPut(c); err != nil {
		return err
	}
	e.emit(BettingStoppedEvent(c.ID, converted.String()))
	e.emit(BetsSettledEvent(c))
	e.emit(TargetReachedEvent(c.ID, c.TotalDonated.String()))
	return nil
}

// CheckTotals runs the target-check state machine standalone. Once the
// freeze has engaged the call is a no-op; before that it requires the
// campaign to still be open.
func (e *Engine) CheckTotals(id [32]byte) (*Campaign, error) {
	release, err := e.begin(id)
	if err != nil {
		return nil, err
	}
	defer release()
	c, err := e.loadCampaign(id)
	if err != nil {
		return nil, err
	}
	if c.BettingStopped {
		return c.Clone(), nil
	}
	if e.now() > c.Deadline {
		return nil, ErrCampaignEnded
	}
	if err := e.runTargetCheck(c); err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// settleLocked performs the one-time terminal settlement decision. Settled is
// set nowhere else.
func (e *Engine) settleLocked(c *Campaign) error {
	if !c.BettingStopped {
		c.BettingStopped = true
		remaining := new(big.Int).Sub(c.Target, c.TotalDonated)
		if remaining.Sign() < 0 {
			remaining.SetInt64(0)
		}
		e.emit(BettingStoppedEvent(c.ID, remaining.String()))
	}
	switch {
	case c.TotalDonated.Cmp(c.Target) >= 0:
		c.TargetReached = true
		c.YesWon = true
		e.emit(TargetReachedEvent(c.ID, c.TotalDonated.String()))
	case new(big.Int).Add(c.TotalDonated, c.BetPool()).Cmp(c.Target) >= 0:
		donated, yes, no, _ := convertToTarget(c.TotalDonated, c.TotalYesBets, c.TotalNoBets, c.Target)
		c.TotalDonated = donated
		c.TotalYesBets = yes
		c.TotalNoBets = no
		c.TargetReached = true
		c.YesWon = true
		e.emit(BetsSettledEvent(c))
		e.emit(TargetReachedEvent(c.ID, c.TotalDonated.String()))
	default:
		c.TargetReached = false
		c.YesWon = false
		e.emit(TargetMissedEvent(c.ID, c.TotalDonated.String(), c.Target.String()))
	}
	c.Settled = true
	if err := e.state.CampaignPut(c); err != nil {
		return err
	}
	e.emit(SettledEvent(c))
	return nil
}

// ensureSettled settles the campaign if it has not been settled yet. Unlike
// the explicit Settle call, an already settled campaign is a no-op success.
func (e *Engine) ensureSettled(c *Campaign) error {
	if c.Settled {
		return nil
	}
	if e.now() <= c.Deadline {
		return ErrCampaignNotEnded
	}
	return e.settleLocked(c)
}

// Settle performs the explicit post-deadline settlement. A repeated explicit
// call fails with ErrAlreadySettled.
func (e *Engine) Settle(id [32]byte) (*Campaign, error) {
	release, err := e.begin(id)
	if err != nil {
		return nil, err
	}
	defer release()
	c, err := e.loadCampaign(id)
	if err != nil {
		return nil, err
	}
	if c.Settled {
		return nil, ErrAlreadySettled
	}
	if e.now() <= c.Deadline {
		return nil, ErrCampaignNotEnded
	}
	if err := e.settleLocked(c); err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// Claim pays out the participant's proportional share of the winning pool.
// A zero stake on the winning side returns a zero amount without error. The
// winning-side balance is zeroed before the outbound payment and restored if
// the payment fails.
func (e *Engine) Claim(id [32]byte, participant [20]byte) (*big.Int, error) {
	release, err := e.begin(id)
	if err != nil {
		return nil, err
	}
	defer release()
	if e.ledger == nil {
		return nil, errNilLedger
	}
	c, err := e.loadCampaign(id)
	if err != nil {
		return nil, err
	}
	if err := e.ensureSettled(c); err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(id, participant)
	if err != nil {
		return nil, err
	}
	userBet := pos.NoBet
	totalWinning := c.TotalNoBets
	if c.YesWon {
		userBet = pos.YesBet
		totalWinning = c.TotalYesBets
	}
	if userBet.Sign() == 0 || totalWinning.Sign() == 0 {
		return big.NewInt(0), nil
	}
	amount := payoutShare(userBet, totalWinning, c.BetPool())
	claimed := cloneBigInt(userBet)
	zeroed := pos.Clone()
	if c.YesWon {
		zeroed.YesBet = big.NewInt(0)
	} else {
		zeroed.NoBet = big.NewInt(0)
	}
	if err := e.state.PositionPut(zeroed); err != nil {
		return nil, err
	}
	if err := e.ledger.PayTo(participant, id, amount); err != nil {
		restored := zeroed.Clone()
		if c.YesWon {
			restored.YesBet = claimed
		} else {
			restored.NoBet = claimed
		}
		if putErr := e.state.PositionPut(restored); putErr != nil {
			return nil, fmt.Errorf("%w: %v (rollback failed: %v)", ErrTransferFailed, err, putErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	e.emit(WinningsClaimedEvent(id, participant, amount.String()))
	return amount, nil
}

// WithdrawFunds sweeps the campaign's remaining custody balance to the
// owner. A missed target is a designed outcome here, distinguished only by
// the reached flag on the emitted event.
func (e *Engine) WithdrawFunds(id [32]byte, caller [20]byte) (*big.Int, error) {
	release, err := e.begin(id)
	if err != nil {
		return nil, err
	}
	defer release()
	if e.ledger == nil {
		return nil, errNilLedger
	}
	c, err := e.loadCampaign(id)
	if err != nil {
		return nil, err
	}
	if caller != c.Owner {
		return nil, ErrUnauthorized
	}
	if err := e.ensureSettled(c); err != nil {
		return nil, err
	}
	balance, err := e.ledger.BalanceOf(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if balance == nil || balance.Sign() == 0 {
		return nil, ErrNoFundsAvailable
	}
	if err := e.ledger.PayTo(c.Owner, id, balance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	e.emit(FundsWithdrawnEvent(id, c.Owner, balance.String(), c.TargetReached))
	return cloneBigInt(balance), nil
}

// Get returns the stored campaign without mutating state.
func (e *Engine) Get(id [32]byte) (*Campaign, error) {
	c, err := e.loadCampaign(id)
	if err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// List returns the identifiers of all stored campaigns.
func (e *Engine) List() ([][32]byte, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.CampaignList()
}

// PositionOf returns the participant's raw pre-conversion position; unknown
// participants read as all-zero.
func (e *Engine) PositionOf(id [32]byte, participant [20]byte) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadCampaign(id); err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(id, participant)
	if err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

// Progress reports donated progress toward the target in basis points.
func (e *Engine) Progress(id [32]byte) (*big.Int, error) {
	c, err := e.loadCampaign(id)
	if err != nil {
		return nil, err
	}
	return progressBps(c.TotalDonated, c.Target), nil
}

// TimeRemaining reports the deadline distance, floored at zero.
func (e *Engine) TimeRemaining(id [32]byte) (int64, error) {
	c, err := e.loadCampaign(id)
	if err != nil {
		return 0, err
	}
	remaining := c.Deadline - e.now()
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// TargetMet reports whether donations alone meet the target, independent of
// outstanding bets or settlement.
func (e *Engine) TargetMet(id [32]byte) (bool, error) {
	c, err := e.loadCampaign(id)
	if err != nil {
		return false, err
	}
	return c.TotalDonated.Cmp(c.Target) >= 0, nil
}
