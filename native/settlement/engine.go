package settlement

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"telemart/core/events"
	"telemart/core/types"
	"telemart/native/commission"
	"telemart/observability"
)

var (
	errNilState  = errors.New("settlement engine: state not configured")
	errNilPolicy = errors.New("settlement engine: commission policy not configured")
)

// DefaultReserve is the minimum balance the contract keeps for rent and
// message fees; admin withdrawals may not drain below it.
var DefaultReserve = big.NewInt(10_000_000)

// Entry paths recorded in metrics.
const (
	pathTradeExternal = "trade_external"
	pathTradeInternal = "trade_internal"
	pathPayment       = "payment"
)

type engineState interface {
	StateGet() (*ContractState, error)
	StatePut(*ContractState) error
	PendingPut(*PendingTransfer) error
	PendingGet(queryID uint64) (*PendingTransfer, bool, error)
	PendingDelete(queryID uint64) error
}

type settlementEvent struct {
	evt *types.Event
}

func (e settlementEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e settlementEvent) Event() *types.Event { return e.evt }

// Engine executes the per-message settlement state machine. Messages are
// processed one at a time, run to completion: the engine serializes its
// mutating entry points so concurrent deliveries cannot interleave the
// read-check-write of the contract state. Each handler either rejects
// without touching state or commits the full mutation in a single state
// write. Emitted transfers stay recorded as pending until the ledger
// confirms delivery or bounces them back.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	policy  commission.Policy
	emitter events.Emitter
	nowFn   func() int64
	reserve *big.Int
}

// NewEngine constructs an engine bound to the supplied commission policy.
func NewEngine(policy commission.Policy) *Engine {
	return &Engine{
		policy:  policy,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		reserve: new(big.Int).Set(DefaultReserve),
	}
}

// SetState configures the state backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetReserve overrides the minimum operating reserve.
func (e *Engine) SetReserve(reserve *big.Int) {
	if reserve == nil || reserve.Sign() < 0 {
		e.reserve = new(big.Int).Set(DefaultReserve)
		return
	}
	e.reserve = new(big.Int).Set(reserve)
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(settlementEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.policy == nil {
		return errNilPolicy
	}
	return nil
}

// fail records the rejection in metrics before propagating it. Internal
// errors (storage faults) pass through unrecorded.
func (e *Engine) fail(err error) error {
	var rej *RejectError
	if errors.As(err, &rej) {
		observability.Settlement().RecordRejection(uint16(rej.Code))
		return err
	}
	var dec *DecodeError
	if errors.As(err, &dec) {
		observability.Settlement().RecordRejection(uint16(dec.Code))
	}
	return err
}

// HandleExternal processes an unsigned external trade request delivered to
// the contract's external inbox.
func (e *Engine) HandleExternal(body []byte) (*OutgoingTransfer, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	req, err := DecodeTradeExternal(body)
	if err != nil {
		return nil, e.fail(err)
	}
	return e.settleTrade(req, pathTradeExternal, nil)
}

// HandleInternal dispatches a signed internal message by its leading opcode.
// Adding an opcode means adding a decode branch here plus its handler; there
// is no dispatch anywhere else.
func (e *Engine) HandleInternal(env *types.Envelope) (*OutgoingTransfer, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if env == nil {
		return nil, e.fail(decodeErr(CodeTruncated, "nil envelope"))
	}
	op, err := PeekOpcode(env.Body)
	if err != nil {
		return nil, e.fail(err)
	}
	switch op {
	case OpTrade:
		req, err := DecodeTrade(env.Body)
		if err != nil {
			return nil, e.fail(err)
		}
		return e.settleTrade(req, pathTradeInternal, env.Value)
	case OpPayment:
		req, err := DecodePayment(env.Body)
		if err != nil {
			return nil, e.fail(err)
		}
		return e.forwardPayment(env, req)
	case OpAdminWithdraw:
		req, err := DecodeWithdraw(env.Body)
		if err != nil {
			return nil, e.fail(err)
		}
		return e.adminWithdraw(env, req)
	case OpSetCommissionRate:
		req, err := DecodeSetRate(env.Body)
		if err != nil {
			return nil, e.fail(err)
		}
		return nil, e.setCommissionRate(env, req)
	case OpSetAdminAddress:
		req, err := DecodeSetAdmin(env.Body)
		if err != nil {
			return nil, e.fail(err)
		}
		return nil, e.setAdminAddress(env, req)
	case OpBounce:
		notice, err := DecodeBounce(env.Body)
		if err != nil {
			return nil, e.fail(err)
		}
		return nil, e.onBounce(notice, env.Value)
	default:
		return nil, e.fail(decodeErr(CodeUnknownOpcode, "opcode 0x%08x", op))
	}
}

// PayoutQueryID derives the correlation id for a trade payout. It is a pure
// function of the request so replays and bounces resolve deterministically.
func PayoutQueryID(req *TradeRequest) uint64 {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[:4], req.SeqNo)
	binary.BigEndian.PutUint64(buf[4:], req.Amount)
	digest := ethcrypto.Keccak256(buf[:], req.Seller[:], req.Buyer[:])
	return binary.BigEndian.Uint64(digest[:8])
}

// settleTrade runs the full validate-split-emit pipeline for a trade request.
// A non-nil credit is the value attached to the inbound internal message.
func (e *Engine) settleTrade(req *TradeRequest, path string, credit *big.Int) (*OutgoingTransfer, error) {
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if err := Admit(req, state, e.now()); err != nil {
		return nil, e.fail(err)
	}

	amount := new(big.Int).SetUint64(req.Amount)
	fee, err := e.policy.Deduction(amount, state.CommissionBps)
	if err != nil {
		return nil, fmt.Errorf("settlement: commission policy: %w", err)
	}
	sellerAmount := new(big.Int).Sub(amount, fee)
	if sellerAmount.Sign() < 0 {
		return nil, e.fail(reject(CodeCommissionExceedsAmount, "commission %s exceeds amount %s", fee, amount))
	}

	if credit != nil && credit.Sign() > 0 {
		state.Balance.Add(state.Balance, credit)
	}
	// The payout must be covered by the contract balance (including the value
	// attached to this message); rejecting here keeps the store untouched.
	if sellerAmount.Cmp(state.Balance) > 0 {
		return nil, e.fail(reject(CodeInsufficientFunds, "payout %s exceeds contract balance %s", sellerAmount, state.Balance))
	}
	state.LastSeqNo = uint64(req.SeqNo)
	state.AccumulatedCommission.Add(state.AccumulatedCommission, fee)
	state.Balance.Sub(state.Balance, sellerAmount)

	queryID := PayoutQueryID(req)
	pending := &PendingTransfer{
		QueryID:     queryID,
		Destination: req.Seller,
		Value:       sellerAmount,
		Opcode:      OpPayment,
		CreatedAt:   e.now(),
	}
	if err := e.commit(state, pending); err != nil {
		return nil, err
	}

	e.emit(events.TradeSettled{
		SeqNo:      req.SeqNo,
		Buyer:      req.Buyer,
		Seller:     req.Seller,
		Amount:     amount,
		Commission: fee,
		QueryID:    queryID,
	}.Event())
	observability.Settlement().RecordSettled(path)

	return &OutgoingTransfer{
		Destination: req.Seller,
		Value:       sellerAmount,
		Opcode:      OpPayment,
		QueryID:     queryID,
	}, nil
}

// forwardPayment deducts commission from the attached value and forwards the
// net to the seller named in the body. Payments carry no sequence number;
// they rely on the ledger's message uniqueness like admin operations.
func (e *Engine) forwardPayment(env *types.Envelope, req *PaymentRequest) (*OutgoingTransfer, error) {
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if env.Value == nil || env.Value.Sign() <= 0 {
		return nil, e.fail(reject(CodeInvalidAmount, "payment value must be positive"))
	}

	gross := new(big.Int).Set(env.Value)
	fee, err := e.policy.Deduction(gross, state.CommissionBps)
	if err != nil {
		return nil, fmt.Errorf("settlement: commission policy: %w", err)
	}
	net := new(big.Int).Sub(gross, fee)
	if net.Sign() < 0 {
		return nil, e.fail(reject(CodeCommissionExceedsAmount, "commission %s exceeds payment %s", fee, gross))
	}

	state.Balance.Add(state.Balance, gross)
	state.AccumulatedCommission.Add(state.AccumulatedCommission, fee)
	state.Balance.Sub(state.Balance, net)

	pending := &PendingTransfer{
		QueryID:     req.QueryID,
		Destination: req.Seller,
		Value:       net,
		Opcode:      OpPayment,
		CreatedAt:   e.now(),
	}
	if err := e.commit(state, pending); err != nil {
		return nil, err
	}

	e.emit(events.PaymentForwarded{
		Seller:     req.Seller,
		Gross:      gross,
		Net:        net,
		Commission: fee,
		QueryID:    req.QueryID,
	}.Event())
	observability.Settlement().RecordSettled(pathPayment)

	return &OutgoingTransfer{
		Destination: req.Seller,
		Value:       net,
		Opcode:      OpPayment,
		QueryID:     req.QueryID,
	}, nil
}

func (e *Engine) adminWithdraw(env *types.Envelope, req *WithdrawRequest) (*OutgoingTransfer, error) {
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	sender, err := e.authorizeAdmin(env, state)
	if err != nil {
		return nil, e.fail(err)
	}
	if req.Sender != sender {
		return nil, e.fail(reject(CodeNotAuthorized, "body sender does not match envelope signer"))
	}

	amount := new(big.Int).SetUint64(req.Amount)
	if amount.Sign() <= 0 {
		return nil, e.fail(reject(CodeInvalidAmount, "withdraw amount must be positive"))
	}
	available := new(big.Int).Sub(state.Balance, e.reserve)
	if amount.Cmp(available) > 0 {
		return nil, e.fail(reject(CodeInsufficientFunds, "withdraw %s exceeds available balance %s", amount, available))
	}

	state.Balance.Sub(state.Balance, amount)
	// Withdrawals drain the commission ledger first; anything beyond it came
	// from rent top-ups and stays untracked.
	if state.AccumulatedCommission.Cmp(amount) >= 0 {
		state.AccumulatedCommission.Sub(state.AccumulatedCommission, amount)
	} else {
		state.AccumulatedCommission.SetInt64(0)
	}

	pending := &PendingTransfer{
		QueryID:     req.QueryID,
		Destination: sender,
		Value:       amount,
		Opcode:      OpAdminWithdraw,
		CreatedAt:   e.now(),
	}
	if err := e.commit(state, pending); err != nil {
		return nil, err
	}

	e.emit(events.CommissionWithdrawn{
		Admin:   sender,
		Amount:  amount,
		QueryID: req.QueryID,
	}.Event())
	observability.Settlement().RecordWithdrawal()

	return &OutgoingTransfer{
		Destination: sender,
		Value:       amount,
		Opcode:      OpAdminWithdraw,
		QueryID:     req.QueryID,
	}, nil
}

func (e *Engine) setCommissionRate(env *types.Envelope, req *SetRateRequest) error {
	state, err := e.loadState()
	if err != nil {
		return err
	}
	if _, err := e.authorizeAdmin(env, state); err != nil {
		return e.fail(err)
	}
	if req.Bps > commission.MaxBps {
		return e.fail(reject(CodeInvalidRate, "rate %d bps outside [0, %d]", req.Bps, commission.MaxBps))
	}

	old := state.CommissionBps
	state.CommissionBps = req.Bps
	if err := e.state.StatePut(state); err != nil {
		return err
	}

	e.emit(events.CommissionRateSet{OldBps: old, NewBps: req.Bps}.Event())
	return nil
}

func (e *Engine) setAdminAddress(env *types.Envelope, req *SetAdminRequest) error {
	state, err := e.loadState()
	if err != nil {
		return err
	}
	if _, err := e.authorizeAdmin(env, state); err != nil {
		return e.fail(err)
	}
	if req.NewAdmin == ([20]byte{}) {
		return e.fail(reject(CodeInvalidAddress, "new admin address must not be zero"))
	}

	old := state.AdminAddress
	state.AdminAddress = req.NewAdmin
	if err := e.state.StatePut(state); err != nil {
		return err
	}

	e.emit(events.AdminRotated{Old: old, New: req.NewAdmin}.Event())
	return nil
}

// OnBounce reconciles state after an outgoing transfer failed to reach its
// destination. The returned value is credited back to the contract balance
// and the pending record cleared. LastSeqNo stays advanced: a bounced trade
// is settled-but-refunded, never replayable.
func (e *Engine) OnBounce(notice *BounceNotice, returned *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.onBounce(notice, returned)
}

func (e *Engine) onBounce(notice *BounceNotice, returned *big.Int) error {
	if notice == nil {
		return fmt.Errorf("settlement: nil bounce notice")
	}
	pending, ok, err := e.state.PendingGet(notice.QueryID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("settlement: no pending transfer for query id %d", notice.QueryID)
	}
	if pending.Opcode != notice.OriginalOp {
		return fmt.Errorf("settlement: bounce opcode 0x%08x does not match pending 0x%08x", notice.OriginalOp, pending.Opcode)
	}

	state, err := e.loadState()
	if err != nil {
		return err
	}
	if returned != nil && returned.Sign() > 0 {
		state.Balance.Add(state.Balance, returned)
	}
	if err := e.state.PendingDelete(notice.QueryID); err != nil {
		return err
	}
	if err := e.state.StatePut(state); err != nil {
		if putErr := e.state.PendingPut(pending); putErr != nil {
			return fmt.Errorf("%w (pending rollback failed: %v)", err, putErr)
		}
		return err
	}

	e.emit(events.TransferBounced{
		QueryID:  notice.QueryID,
		Opcode:   notice.OriginalOp,
		Returned: returned,
	}.Event())
	observability.Settlement().RecordBounce()
	return nil
}

// ConfirmDelivery clears the pending record once the ledger confirms the
// transfer reached its destination.
func (e *Engine) ConfirmDelivery(queryID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok, err := e.state.PendingGet(queryID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("settlement: no pending transfer for query id %d", queryID)
	}
	return e.state.PendingDelete(queryID)
}

func (e *Engine) authorizeAdmin(env *types.Envelope, state *ContractState) ([20]byte, error) {
	var sender [20]byte
	if env == nil {
		return sender, reject(CodeNotAuthorized, "missing envelope")
	}
	from, err := env.From()
	if err != nil {
		return sender, reject(CodeNotAuthorized, "sender not recoverable: %v", err)
	}
	copy(sender[:], from)
	if sender != state.AdminAddress {
		return sender, reject(CodeNotAuthorized, "sender is not the stored admin")
	}
	return sender, nil
}

// commit persists the post-state and the pending payout together. The state
// write is the commit point; a pending record written ahead of a failed state
// write is rolled back so no partial update is ever observable.
func (e *Engine) commit(state *ContractState, pending *PendingTransfer) error {
	if err := e.state.PendingPut(pending); err != nil {
		return err
	}
	if err := e.state.StatePut(state); err != nil {
		if delErr := e.state.PendingDelete(pending.QueryID); delErr != nil {
			return fmt.Errorf("%w (pending rollback failed: %v)", err, delErr)
		}
		return err
	}
	return nil
}

func (e *Engine) loadState() (*ContractState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	state, err := e.state.StateGet()
	if err != nil {
		return nil, err
	}
	return SanitizeState(state)
}

// --- Read-only queries ---

// AdminAddress returns the stored admin address.
func (e *Engine) AdminAddress() ([20]byte, error) {
	state, err := e.loadState()
	if err != nil {
		return [20]byte{}, err
	}
	return state.AdminAddress, nil
}

// CommissionBps returns the stored base commission rate.
func (e *Engine) CommissionBps() (uint16, error) {
	state, err := e.loadState()
	if err != nil {
		return 0, err
	}
	return state.CommissionBps, nil
}

// Balance returns the ledger-visible contract balance.
func (e *Engine) Balance() (*big.Int, error) {
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	return state.Balance, nil
}

// LastSeqNo returns the highest accepted sequence number.
func (e *Engine) LastSeqNo() (uint64, error) {
	state, err := e.loadState()
	if err != nil {
		return 0, err
	}
	return state.LastSeqNo, nil
}

// AccumulatedCommission returns the commission balance held by the contract.
func (e *Engine) AccumulatedCommission() (*big.Int, error) {
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	return state.AccumulatedCommission, nil
}

// CommissionDeduction previews the commission owed on the supplied value
// under the current policy and stored rate.
func (e *Engine) CommissionDeduction(value *big.Int) (*big.Int, error) {
	if e == nil || e.policy == nil {
		return nil, errNilPolicy
	}
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	return e.policy.Deduction(value, state.CommissionBps)
}

// PendingTransferByID exposes a pending transfer for RPC inspection.
func (e *Engine) PendingTransferByID(queryID uint64) (*PendingTransfer, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	return e.state.PendingGet(queryID)
}
