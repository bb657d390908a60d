package types

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestEnvelopeSignAndRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	env := &Envelope{Value: big.NewInt(1234), Body: []byte{0x01, 0x02, 0x03}}
	if env.Signed() {
		t.Fatalf("fresh envelope reports signed")
	}
	if _, err := env.From(); !errors.Is(err, ErrUnsigned) {
		t.Fatalf("expected ErrUnsigned, got %v", err)
	}

	if err := env.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !env.Signed() {
		t.Fatalf("signed envelope reports unsigned")
	}
	from, err := env.From()
	if err != nil {
		t.Fatalf("from: %v", err)
	}
	want := crypto.PubkeyToAddress(key.PublicKey).Bytes()
	if !bytes.Equal(from, want) {
		t.Fatalf("recovered sender %x, want %x", from, want)
	}
}

func TestEnvelopeHashCoversValueAndBody(t *testing.T) {
	base := &Envelope{Value: big.NewInt(10), Body: []byte{0x01}}
	h1, err := base.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	otherValue := &Envelope{Value: big.NewInt(11), Body: []byte{0x01}}
	h2, _ := otherValue.Hash()
	if bytes.Equal(h1, h2) {
		t.Fatalf("value change not reflected in hash")
	}
	otherBody := &Envelope{Value: big.NewInt(10), Body: []byte{0x02}}
	h3, _ := otherBody.Hash()
	if bytes.Equal(h1, h3) {
		t.Fatalf("body change not reflected in hash")
	}
}

func TestEnvelopeTamperDetection(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	env := &Envelope{Value: big.NewInt(50), Body: []byte{0xAB}}
	if err := env.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	signer, _ := env.From()

	// Mutating the body after signing recovers a different sender.
	env.Body = []byte{0xCD}
	tampered, err := env.From()
	if err == nil && bytes.Equal(tampered, signer) {
		t.Fatalf("tampered envelope still recovers original signer")
	}
}
