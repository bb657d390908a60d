package types

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// Envelope is the ledger-level wrapper around an inbound message body. The
// attached Value is the amount of coins delivered alongside the message.
// Internal messages carry the sender's secp256k1 signature; external trade
// requests arrive unsigned, mirroring how the ledger itself delivers them.
type Envelope struct {
	Value *big.Int `json:"value"`
	Body  []byte   `json:"body"`

	// Sender signature (internal messages only).
	R *big.Int `json:"r,omitempty"`
	S *big.Int `json:"s,omitempty"`
	V *big.Int `json:"v,omitempty"`

	from []byte
}

// ErrUnsigned is returned when a sender is requested from an unsigned envelope.
var ErrUnsigned = errors.New("envelope is not signed")

// Hash returns the digest internal senders sign over. Value and body fully
// determine the message; the signature fields are excluded.
func (m *Envelope) Hash() ([]byte, error) {
	payload := struct {
		Value *big.Int
		Body  []byte
	}{m.Value, m.Body}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

// Sign attaches the sender's signature to the envelope.
func (m *Envelope) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := m.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	m.R = new(big.Int).SetBytes(sig[:32])
	m.S = new(big.Int).SetBytes(sig[32:64])
	m.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	return nil
}

// Signed reports whether the envelope carries a sender signature.
func (m *Envelope) Signed() bool {
	return m.R != nil && m.S != nil && m.V != nil
}

// From recovers the 20-byte sender address from the envelope signature.
func (m *Envelope) From() ([]byte, error) {
	if m.from != nil {
		return m.from, nil
	}
	if !m.Signed() {
		return nil, ErrUnsigned
	}
	hash, err := m.Hash()
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 65)
	copy(sig[32-len(m.R.Bytes()):32], m.R.Bytes())
	copy(sig[64-len(m.S.Bytes()):64], m.S.Bytes())
	sig[64] = byte(m.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return nil, err
	}
	m.from = crypto.PubkeyToAddress(*pubKey).Bytes()
	return m.from, nil
}
