package settlement

import (
	"encoding/binary"

	"telemart/native/commission"
)

// Message opcodes. Payment and admin withdraw keep the values the deployed
// contract used; bounce notifications carry the ledger's 0xffffffff marker
// followed by the opcode of the transfer that failed.
const (
	OpTrade             uint32 = 0x3f5476ca
	OpPayment           uint32 = 0x01b40800
	OpAdminWithdraw     uint32 = 0x4cdd6f51
	OpSetCommissionRate uint32 = 0x5c31a9c3
	OpSetAdminAddress   uint32 = 0x2c76b1a4
	OpBounce            uint32 = 0xffffffff
)

// Fixed wire widths. An external trade request is the bare trade body; the
// internal variant prefixes the opcode.
const (
	tradeBodyLen    = 4 + 4 + 8 + 20 + 20
	paymentLen      = 4 + 8 + 20
	withdrawLen     = 4 + 8 + 20 + 8
	setRateLen      = 4 + 8 + 2
	setAdminLen     = 4 + 8 + 20
	bounceLen       = 4 + 4 + 8
	tradeInternLen  = 4 + tradeBodyLen
	opcodeWidth     = 4
)

// PeekOpcode reads the leading opcode of an internal message body without
// decoding the rest.
func PeekOpcode(body []byte) (uint32, error) {
	if len(body) < opcodeWidth {
		return 0, decodeErr(CodeTruncated, "message shorter than opcode: %d bytes", len(body))
	}
	return binary.BigEndian.Uint32(body[:opcodeWidth]), nil
}

type wireReader struct {
	buf []byte
	off int
	err error
}

func (r *wireReader) u16() uint16 {
	if r.err != nil {
		return 0
	}
	if r.off+2 > len(r.buf) {
		r.err = decodeErr(CodeTruncated, "truncated at offset %d", r.off)
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *wireReader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	if r.off+4 > len(r.buf) {
		r.err = decodeErr(CodeTruncated, "truncated at offset %d", r.off)
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *wireReader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	if r.off+8 > len(r.buf) {
		r.err = decodeErr(CodeTruncated, "truncated at offset %d", r.off)
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *wireReader) addr() (out [20]byte) {
	if r.err != nil {
		return
	}
	if r.off+20 > len(r.buf) {
		r.err = decodeErr(CodeTruncated, "truncated at offset %d", r.off)
		return
	}
	copy(out[:], r.buf[r.off:r.off+20])
	r.off += 20
	return
}

func (r *wireReader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return decodeErr(CodeFieldOutOfRange, "%d trailing bytes after message", len(r.buf)-r.off)
	}
	return nil
}

func expectOpcode(r *wireReader, want uint32) {
	got := r.u32()
	if r.err == nil && got != want {
		r.err = decodeErr(CodeUnknownOpcode, "opcode 0x%08x, want 0x%08x", got, want)
	}
}

// EncodeTradeExternal serialises a trade request as the bare external body:
// [seqNo u32][expireAt u32][amount u64][seller 20][buyer 20].
func EncodeTradeExternal(req *TradeRequest) []byte {
	buf := make([]byte, 0, tradeBodyLen)
	buf = binary.BigEndian.AppendUint32(buf, req.SeqNo)
	buf = binary.BigEndian.AppendUint32(buf, req.ExpireAt)
	buf = binary.BigEndian.AppendUint64(buf, req.Amount)
	buf = append(buf, req.Seller[:]...)
	buf = append(buf, req.Buyer[:]...)
	return buf
}

// DecodeTradeExternal is the exact inverse of EncodeTradeExternal. The codec
// performs no business validation.
func DecodeTradeExternal(body []byte) (*TradeRequest, error) {
	r := &wireReader{buf: body}
	req := &TradeRequest{
		SeqNo:    r.u32(),
		ExpireAt: r.u32(),
		Amount:   r.u64(),
		Seller:   r.addr(),
		Buyer:    r.addr(),
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return req, nil
}

// EncodeTrade serialises the opcode-prefixed internal trade layout.
func EncodeTrade(req *TradeRequest) []byte {
	buf := make([]byte, 0, tradeInternLen)
	buf = binary.BigEndian.AppendUint32(buf, OpTrade)
	return append(buf, EncodeTradeExternal(req)...)
}

// DecodeTrade decodes the opcode-prefixed internal trade layout.
func DecodeTrade(body []byte) (*TradeRequest, error) {
	r := &wireReader{buf: body}
	expectOpcode(r, OpTrade)
	req := &TradeRequest{
		SeqNo:    r.u32(),
		ExpireAt: r.u32(),
		Amount:   r.u64(),
		Seller:   r.addr(),
		Buyer:    r.addr(),
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return req, nil
}

// EncodePayment serialises [op][queryId u64][seller 20].
func EncodePayment(req *PaymentRequest) []byte {
	buf := make([]byte, 0, paymentLen)
	buf = binary.BigEndian.AppendUint32(buf, OpPayment)
	buf = binary.BigEndian.AppendUint64(buf, req.QueryID)
	return append(buf, req.Seller[:]...)
}

func DecodePayment(body []byte) (*PaymentRequest, error) {
	r := &wireReader{buf: body}
	expectOpcode(r, OpPayment)
	req := &PaymentRequest{
		QueryID: r.u64(),
		Seller:  r.addr(),
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return req, nil
}

// EncodeWithdraw serialises [op][queryId u64][sender 20][amount u64].
func EncodeWithdraw(req *WithdrawRequest) []byte {
	buf := make([]byte, 0, withdrawLen)
	buf = binary.BigEndian.AppendUint32(buf, OpAdminWithdraw)
	buf = binary.BigEndian.AppendUint64(buf, req.QueryID)
	buf = append(buf, req.Sender[:]...)
	return binary.BigEndian.AppendUint64(buf, req.Amount)
}

func DecodeWithdraw(body []byte) (*WithdrawRequest, error) {
	r := &wireReader{buf: body}
	expectOpcode(r, OpAdminWithdraw)
	req := &WithdrawRequest{
		QueryID: r.u64(),
		Sender:  r.addr(),
		Amount:  r.u64(),
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return req, nil
}

// EncodeSetRate serialises [op][queryId u64][bps u16]. The rate travels as
// canonical basis points; legacy percent and 11-bit encodings are converted
// before they reach the codec.
func EncodeSetRate(req *SetRateRequest) []byte {
	buf := make([]byte, 0, setRateLen)
	buf = binary.BigEndian.AppendUint32(buf, OpSetCommissionRate)
	buf = binary.BigEndian.AppendUint64(buf, req.QueryID)
	return binary.BigEndian.AppendUint16(buf, req.Bps)
}

func DecodeSetRate(body []byte) (*SetRateRequest, error) {
	r := &wireReader{buf: body}
	expectOpcode(r, OpSetCommissionRate)
	req := &SetRateRequest{
		QueryID: r.u64(),
		Bps:     r.u16(),
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	if req.Bps > commission.MaxBps {
		return nil, decodeErr(CodeFieldOutOfRange, "rate %d bps exceeds %d", req.Bps, commission.MaxBps)
	}
	return req, nil
}

// EncodeSetAdmin serialises [op][queryId u64][newAdmin 20].
func EncodeSetAdmin(req *SetAdminRequest) []byte {
	buf := make([]byte, 0, setAdminLen)
	buf = binary.BigEndian.AppendUint32(buf, OpSetAdminAddress)
	buf = binary.BigEndian.AppendUint64(buf, req.QueryID)
	return append(buf, req.NewAdmin[:]...)
}

func DecodeSetAdmin(body []byte) (*SetAdminRequest, error) {
	r := &wireReader{buf: body}
	expectOpcode(r, OpSetAdminAddress)
	req := &SetAdminRequest{
		QueryID:  r.u64(),
		NewAdmin: r.addr(),
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return req, nil
}

// EncodeBounce serialises [0xffffffff][originalOp u32][queryId u64].
func EncodeBounce(notice *BounceNotice) []byte {
	buf := make([]byte, 0, bounceLen)
	buf = binary.BigEndian.AppendUint32(buf, OpBounce)
	buf = binary.BigEndian.AppendUint32(buf, notice.OriginalOp)
	return binary.BigEndian.AppendUint64(buf, notice.QueryID)
}

func DecodeBounce(body []byte) (*BounceNotice, error) {
	r := &wireReader{buf: body}
	expectOpcode(r, OpBounce)
	notice := &BounceNotice{
		OriginalOp: r.u32(),
		QueryID:    r.u64(),
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return notice, nil
}
