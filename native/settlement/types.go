package settlement

import (
	"fmt"
	"math/big"

	"telemart/native/commission"
)

// ContractState is the single persistent record owned by the settlement
// contract. It is mutated at most once per accepted message and never
// partially: handlers compute every new value before the state is written
// back.
type ContractState struct {
	AdminAddress          [20]byte
	LastSeqNo             uint64
	CommissionBps         uint16
	AccumulatedCommission *big.Int
	Balance               *big.Int
}

// Clone returns a deep copy so callers can safely mutate the copy without
// affecting the stored instance.
func (s *ContractState) Clone() *ContractState {
	if s == nil {
		return nil
	}
	clone := *s
	if s.AccumulatedCommission != nil {
		clone.AccumulatedCommission = new(big.Int).Set(s.AccumulatedCommission)
	} else {
		clone.AccumulatedCommission = big.NewInt(0)
	}
	if s.Balance != nil {
		clone.Balance = new(big.Int).Set(s.Balance)
	} else {
		clone.Balance = big.NewInt(0)
	}
	return &clone
}

// SanitizeState validates and normalises a stored contract state, returning a
// cloned instance with non-nil balances. The original value is not mutated.
func SanitizeState(s *ContractState) (*ContractState, error) {
	if s == nil {
		return nil, fmt.Errorf("settlement: nil contract state")
	}
	clone := s.Clone()
	if err := commission.ValidateBps(clone.CommissionBps); err != nil {
		return nil, err
	}
	if clone.AccumulatedCommission.Sign() < 0 {
		return nil, fmt.Errorf("settlement: negative accumulated commission")
	}
	if clone.Balance.Sign() < 0 {
		return nil, fmt.Errorf("settlement: negative balance")
	}
	return clone, nil
}

// TradeRequest is the decoded form of an inbound trade message.
type TradeRequest struct {
	SeqNo    uint32
	ExpireAt uint32
	Amount   uint64
	Seller   [20]byte
	Buyer    [20]byte
}

// PaymentRequest forwards an attached payment value to a seller after
// commission deduction. The gross amount is the value delivered with the
// envelope, not a body field.
type PaymentRequest struct {
	QueryID uint64
	Seller  [20]byte
}

// WithdrawRequest is the admin commission-withdrawal operation.
type WithdrawRequest struct {
	QueryID uint64
	Sender  [20]byte
	Amount  uint64
}

// SetRateRequest changes the stored commission rate.
type SetRateRequest struct {
	QueryID uint64
	Bps     uint16
}

// SetAdminRequest replaces the stored admin address.
type SetAdminRequest struct {
	QueryID  uint64
	NewAdmin [20]byte
}

// BounceNotice is the ledger notification delivered when an outgoing transfer
// could not reach its destination. The refunded value arrives as the
// envelope's attached value.
type BounceNotice struct {
	OriginalOp uint32
	QueryID    uint64
}

// OutgoingTransfer is a value transfer the engine asks the ledger to deliver.
type OutgoingTransfer struct {
	Destination [20]byte
	Value       *big.Int
	Opcode      uint32
	QueryID     uint64
}

// PendingTransfer persists an emitted transfer until the ledger confirms
// delivery or bounces it back. Its presence is the AwaitingBounce state of
// the per-message machine.
type PendingTransfer struct {
	QueryID     uint64
	Destination [20]byte
	Value       *big.Int
	Opcode      uint32
	CreatedAt   int64
}

// Clone returns a deep copy of the pending transfer.
func (p *PendingTransfer) Clone() *PendingTransfer {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Value != nil {
		clone.Value = new(big.Int).Set(p.Value)
	} else {
		clone.Value = big.NewInt(0)
	}
	return &clone
}
