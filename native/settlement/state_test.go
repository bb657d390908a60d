package settlement

import (
	"errors"
	"math/big"
	"testing"

	"telemart/native/commission"
	"telemart/storage"
)

func newStoreBackedEngine(t *testing.T, store *Store) *Engine {
	t.Helper()
	engine := NewEngine(commission.NewFlatPolicy())
	engine.SetState(store)
	engine.SetNowFunc(func() int64 { return 1000 })
	return engine
}

func TestStoreStateRoundTrip(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	if _, err := store.StateGet(); !errors.Is(err, ErrStateNotInitialized) {
		t.Fatalf("expected uninitialized error, got %v", err)
	}

	state := &ContractState{
		AdminAddress:          newTestAddress(0xAD),
		LastSeqNo:             17,
		CommissionBps:         450,
		AccumulatedCommission: big.NewInt(12345),
		Balance:               big.NewInt(999_999),
	}
	if err := store.StatePut(state); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, err := store.StateGet()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.AdminAddress != state.AdminAddress || loaded.LastSeqNo != 17 || loaded.CommissionBps != 450 {
		t.Fatalf("loaded state mismatch: %+v", loaded)
	}
	if loaded.AccumulatedCommission.Cmp(state.AccumulatedCommission) != 0 {
		t.Fatalf("commission %s, want %s", loaded.AccumulatedCommission, state.AccumulatedCommission)
	}
	if loaded.Balance.Cmp(state.Balance) != 0 {
		t.Fatalf("balance %s, want %s", loaded.Balance, state.Balance)
	}
}

func TestStoreInitializeOnce(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	genesis := &ContractState{
		AdminAddress:          newTestAddress(0x01),
		CommissionBps:         500,
		AccumulatedCommission: big.NewInt(0),
		Balance:               big.NewInt(0),
	}
	if err := store.Initialize(genesis); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	loaded, err := store.StateGet()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	loaded.LastSeqNo = 40
	if err := store.StatePut(loaded); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Re-running deployment must not reset live state.
	if err := store.Initialize(genesis); err != nil {
		t.Fatalf("re-initialize: %v", err)
	}
	loaded, err = store.StateGet()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.LastSeqNo != 40 {
		t.Fatalf("initialize overwrote state, lastSeqNo %d", loaded.LastSeqNo)
	}
}

func TestStoreRejectsInvalidState(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	bad := &ContractState{
		CommissionBps:         10_001,
		AccumulatedCommission: big.NewInt(0),
		Balance:               big.NewInt(0),
	}
	if err := store.StatePut(bad); err == nil {
		t.Fatalf("expected rate validation error")
	}
}

func TestStorePendingLifecycle(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	pending := &PendingTransfer{
		QueryID:     77,
		Destination: newTestAddress(0x07),
		Value:       big.NewInt(4_242),
		Opcode:      OpPayment,
		CreatedAt:   1_700_000_000,
	}
	if err := store.PendingPut(pending); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, ok, err := store.PendingGet(77)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if loaded.Destination != pending.Destination || loaded.Value.Cmp(pending.Value) != 0 ||
		loaded.Opcode != OpPayment || loaded.CreatedAt != pending.CreatedAt {
		t.Fatalf("loaded pending mismatch: %+v", loaded)
	}

	if _, ok, err := store.PendingGet(78); err != nil || ok {
		t.Fatalf("missing pending: ok=%v err=%v", ok, err)
	}
	if err := store.PendingDelete(77); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.PendingGet(77); ok {
		t.Fatalf("pending survived delete")
	}
}

func TestStoreBacksEngine(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	if err := store.Initialize(&ContractState{
		AdminAddress:          newTestAddress(0xAD),
		CommissionBps:         300,
		AccumulatedCommission: big.NewInt(0),
		Balance:               big.NewInt(1_000_000_000_000),
	}); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	engine := newStoreBackedEngine(t, store)
	req := &TradeRequest{SeqNo: 1, ExpireAt: 2000, Amount: 10_000, Seller: newTestAddress(0x01), Buyer: newTestAddress(0x02)}
	transfer, err := engine.HandleExternal(EncodeTradeExternal(req))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	// A fresh engine over the same store sees the committed sequence number.
	restarted := newStoreBackedEngine(t, store)
	last, err := restarted.LastSeqNo()
	if err != nil {
		t.Fatalf("last seqno: %v", err)
	}
	if last != 1 {
		t.Fatalf("lastSeqNo %d after restart, want 1", last)
	}
	if _, ok, _ := restarted.PendingTransferByID(transfer.QueryID); !ok {
		t.Fatalf("pending transfer lost across restart")
	}
}
