package settlement

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"telemart/storage"
)

// ErrStateNotInitialized is returned when the contract state record has not
// been written yet (the contract was never deployed into this store).
var ErrStateNotInitialized = errors.New("settlement: contract state not initialized")

var (
	stateKey      = []byte("settlement:state")
	pendingPrefix = []byte("settlement:pending:")
)

// storedState is the RLP wire form of ContractState. RLP has no signed
// integer support, so every field is kept unsigned.
type storedState struct {
	AdminAddress          [20]byte
	LastSeqNo             uint64
	CommissionBps         uint16
	AccumulatedCommission *big.Int
	Balance               *big.Int
}

type storedPending struct {
	QueryID     uint64
	Destination [20]byte
	Value       *big.Int
	Opcode      uint32
	CreatedAt   uint64
}

// Store persists the contract state and pending transfers in a key-value
// database. It is the engine's only state backend in production; tests swap
// in a mock via the engine's state interface.
type Store struct {
	db storage.Database
}

// NewStore wraps the supplied database.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// Initialize writes the genesis contract state unless a state record already
// exists. Deployment happens exactly once per store.
func (s *Store) Initialize(genesis *ContractState) error {
	ok, err := s.db.Has(stateKey)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	sanitized, err := SanitizeState(genesis)
	if err != nil {
		return err
	}
	return s.StatePut(sanitized)
}

// StateGet loads the contract state.
func (s *Store) StateGet() (*ContractState, error) {
	raw, err := s.db.Get(stateKey)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, ErrStateNotInitialized
		}
		return nil, err
	}
	var stored storedState
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, err
	}
	return &ContractState{
		AdminAddress:          stored.AdminAddress,
		LastSeqNo:             stored.LastSeqNo,
		CommissionBps:         stored.CommissionBps,
		AccumulatedCommission: stored.AccumulatedCommission,
		Balance:               stored.Balance,
	}, nil
}

// StatePut writes the contract state.
func (s *Store) StatePut(state *ContractState) error {
	sanitized, err := SanitizeState(state)
	if err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(&storedState{
		AdminAddress:          sanitized.AdminAddress,
		LastSeqNo:             sanitized.LastSeqNo,
		CommissionBps:         sanitized.CommissionBps,
		AccumulatedCommission: sanitized.AccumulatedCommission,
		Balance:               sanitized.Balance,
	})
	if err != nil {
		return err
	}
	return s.db.Put(stateKey, raw)
}

func pendingKey(queryID uint64) []byte {
	key := make([]byte, 0, len(pendingPrefix)+8)
	key = append(key, pendingPrefix...)
	return binary.BigEndian.AppendUint64(key, queryID)
}

// PendingPut records an emitted transfer awaiting confirmation or bounce.
func (s *Store) PendingPut(p *PendingTransfer) error {
	clone := p.Clone()
	raw, err := rlp.EncodeToBytes(&storedPending{
		QueryID:     clone.QueryID,
		Destination: clone.Destination,
		Value:       clone.Value,
		Opcode:      clone.Opcode,
		CreatedAt:   uint64(clone.CreatedAt),
	})
	if err != nil {
		return err
	}
	return s.db.Put(pendingKey(clone.QueryID), raw)
}

// PendingGet looks up a pending transfer by correlation id.
func (s *Store) PendingGet(queryID uint64) (*PendingTransfer, bool, error) {
	raw, err := s.db.Get(pendingKey(queryID))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var stored storedPending
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, err
	}
	return &PendingTransfer{
		QueryID:     stored.QueryID,
		Destination: stored.Destination,
		Value:       stored.Value,
		Opcode:      stored.Opcode,
		CreatedAt:   int64(stored.CreatedAt),
	}, true, nil
}

// PendingDelete clears a pending transfer record.
func (s *Store) PendingDelete(queryID uint64) error {
	return s.db.Delete(pendingKey(queryID))
}
