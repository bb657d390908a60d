package events

import (
	"fmt"
	"math/big"
	"strconv"

	"telemart/core/types"
	"telemart/crypto"
)

const (
	TypeTradeSettled     = "settlement.trade_settled"
	TypePaymentForwarded = "settlement.payment_forwarded"
	TypeTransferBounced  = "settlement.transfer_bounced"

	TypeCommissionWithdrawn = "admin.commission_withdrawn"
	TypeCommissionRateSet   = "admin.commission_rate_set"
	TypeAdminRotated        = "admin.rotated"
)

// TradeSettled is emitted once a trade request has passed validation and the
// seller payout has been enqueued.
type TradeSettled struct {
	SeqNo      uint32
	Buyer      [20]byte
	Seller     [20]byte
	Amount     *big.Int
	Commission *big.Int
	QueryID    uint64
}

func (TradeSettled) EventType() string { return TypeTradeSettled }

func (e TradeSettled) Event() *types.Event {
	return &types.Event{
		Type: TypeTradeSettled,
		Attributes: map[string]string{
			"seqNo":      strconv.FormatUint(uint64(e.SeqNo), 10),
			"buyer":      crypto.NewAddress(crypto.TMTPrefix, e.Buyer[:]).String(),
			"seller":     crypto.NewAddress(crypto.TMTPrefix, e.Seller[:]).String(),
			"amount":     formatAmount(e.Amount),
			"commission": formatAmount(e.Commission),
			"queryId":    strconv.FormatUint(e.QueryID, 10),
		},
	}
}

// PaymentForwarded records an internal payment whose net value was forwarded to
// the seller after commission deduction.
type PaymentForwarded struct {
	Seller     [20]byte
	Gross      *big.Int
	Net        *big.Int
	Commission *big.Int
	QueryID    uint64
}

func (PaymentForwarded) EventType() string { return TypePaymentForwarded }

func (e PaymentForwarded) Event() *types.Event {
	return &types.Event{
		Type: TypePaymentForwarded,
		Attributes: map[string]string{
			"seller":     crypto.NewAddress(crypto.TMTPrefix, e.Seller[:]).String(),
			"gross":      formatAmount(e.Gross),
			"net":        formatAmount(e.Net),
			"commission": formatAmount(e.Commission),
			"queryId":    strconv.FormatUint(e.QueryID, 10),
		},
	}
}

// TransferBounced is emitted when an outgoing payout failed to reach its
// destination and the returned value was credited back to the contract.
type TransferBounced struct {
	QueryID  uint64
	Opcode   uint32
	Returned *big.Int
}

func (TransferBounced) EventType() string { return TypeTransferBounced }

func (e TransferBounced) Event() *types.Event {
	return &types.Event{
		Type: TypeTransferBounced,
		Attributes: map[string]string{
			"queryId":  strconv.FormatUint(e.QueryID, 10),
			"opcode":   fmt.Sprintf("0x%08x", e.Opcode),
			"returned": formatAmount(e.Returned),
		},
	}
}

// CommissionWithdrawn records an admin withdrawal of accumulated commission.
type CommissionWithdrawn struct {
	Admin   [20]byte
	Amount  *big.Int
	QueryID uint64
}

func (CommissionWithdrawn) EventType() string { return TypeCommissionWithdrawn }

func (e CommissionWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeCommissionWithdrawn,
		Attributes: map[string]string{
			"admin":   crypto.NewAddress(crypto.TMTPrefix, e.Admin[:]).String(),
			"amount":  formatAmount(e.Amount),
			"queryId": strconv.FormatUint(e.QueryID, 10),
		},
	}
}

// CommissionRateSet records an admin change of the commission rate.
type CommissionRateSet struct {
	OldBps uint16
	NewBps uint16
}

func (CommissionRateSet) EventType() string { return TypeCommissionRateSet }

func (e CommissionRateSet) Event() *types.Event {
	return &types.Event{
		Type: TypeCommissionRateSet,
		Attributes: map[string]string{
			"oldBps": strconv.FormatUint(uint64(e.OldBps), 10),
			"newBps": strconv.FormatUint(uint64(e.NewBps), 10),
		},
	}
}

// AdminRotated records a change of the stored admin address.
type AdminRotated struct {
	Old [20]byte
	New [20]byte
}

func (AdminRotated) EventType() string { return TypeAdminRotated }

func (e AdminRotated) Event() *types.Event {
	return &types.Event{
		Type: TypeAdminRotated,
		Attributes: map[string]string{
			"old": crypto.NewAddress(crypto.TMTPrefix, e.Old[:]).String(),
			"new": crypto.NewAddress(crypto.TMTPrefix, e.New[:]).String(),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
