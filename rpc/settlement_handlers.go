package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"telemart/core/types"
	"telemart/crypto"
	"telemart/native/settlement"
)

type tradeParams struct {
	SeqNo    uint32 `json:"seqNo"`
	ExpireAt uint32 `json:"expireAt"`
	Amount   uint64 `json:"amount"`
	Seller   string `json:"seller"`
	Buyer    string `json:"buyer"`
}

type sendMessageParams struct {
	Value string `json:"value,omitempty"`
	Body  string `json:"body"`
	R     string `json:"r,omitempty"`
	S     string `json:"s,omitempty"`
	V     string `json:"v,omitempty"`
}

type queryIDParams struct {
	QueryID uint64 `json:"queryId"`
}

type valueParams struct {
	Value string `json:"value"`
}

type transferResult struct {
	Destination string `json:"destination"`
	Value       string `json:"value"`
	Opcode      uint32 `json:"opcode"`
	QueryID     uint64 `json:"queryId"`
}

type pendingTransferResult struct {
	transferResult
	CreatedAt int64 `json:"createdAt"`
}

func transferJSON(t *settlement.OutgoingTransfer) *transferResult {
	if t == nil {
		return nil
	}
	return &transferResult{
		Destination: crypto.NewAddress(crypto.TMTPrefix, t.Destination[:]).String(),
		Value:       t.Value.String(),
		Opcode:      t.Opcode,
		QueryID:     t.QueryID,
	}
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errors.New("expected exactly one params object")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseWireAddress(s string) ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(strings.TrimSpace(s))
	if err != nil {
		return out, err
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

// writeEngineError maps engine failures onto JSON-RPC errors carrying the
// stable rejection code so callers can branch on cause.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	var rej *settlement.RejectError
	if errors.As(err, &rej) {
		writeError(w, http.StatusOK, id, codeRejected, rej.Reason, map[string]interface{}{"code": uint16(rej.Code)})
		return
	}
	var dec *settlement.DecodeError
	if errors.As(err, &dec) {
		writeError(w, http.StatusOK, id, codeRejected, dec.Reason, map[string]interface{}{"code": uint16(dec.Code)})
		return
	}
	writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
}

func (s *Server) handleGetAdminAddress(w http.ResponseWriter, req *RPCRequest) {
	admin, err := s.engine.AdminAddress()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, crypto.NewAddress(crypto.TMTPrefix, admin[:]).String())
}

func (s *Server) handleGetCommissionPercent(w http.ResponseWriter, req *RPCRequest) {
	bps, err := s.engine.CommissionBps()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, bps)
}

func (s *Server) handleGetCommissionDeduction(w http.ResponseWriter, req *RPCRequest) {
	var params valueParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	value, ok := new(big.Int).SetString(strings.TrimSpace(params.Value), 10)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "value must be a decimal string", nil)
		return
	}
	fee, err := s.engine.CommissionDeduction(value)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, fee.String())
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) {
	balance, err := s.engine.Balance()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balance.String())
}

func (s *Server) handleGetLastSeqNo(w http.ResponseWriter, req *RPCRequest) {
	seqNo, err := s.engine.LastSeqNo()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, seqNo)
}

func (s *Server) handleGetAccumulatedCommission(w http.ResponseWriter, req *RPCRequest) {
	acc, err := s.engine.AccumulatedCommission()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, acc.String())
}

func (s *Server) handleGetPendingTransfer(w http.ResponseWriter, req *RPCRequest) {
	var params queryIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	pending, ok, err := s.engine.PendingTransferByID(params.QueryID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	if !ok {
		writeResult(w, req.ID, nil)
		return
	}
	writeResult(w, req.ID, &pendingTransferResult{
		transferResult: transferResult{
			Destination: crypto.NewAddress(crypto.TMTPrefix, pending.Destination[:]).String(),
			Value:       pending.Value.String(),
			Opcode:      pending.Opcode,
			QueryID:     pending.QueryID,
		},
		CreatedAt: pending.CreatedAt,
	})
}

// handleSendTrade accepts trade fields, encodes the external wire layout and
// feeds it to the engine, mirroring how off-chain tooling submits external
// trade messages.
func (s *Server) handleSendTrade(w http.ResponseWriter, req *RPCRequest) {
	var params tradeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	seller, err := parseWireAddress(params.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid seller address", err.Error())
		return
	}
	buyer, err := parseWireAddress(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid buyer address", err.Error())
		return
	}
	body := settlement.EncodeTradeExternal(&settlement.TradeRequest{
		SeqNo:    params.SeqNo,
		ExpireAt: params.ExpireAt,
		Amount:   params.Amount,
		Seller:   seller,
		Buyer:    buyer,
	})
	transfer, err := s.engine.HandleExternal(body)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, transferJSON(transfer))
}

// handleSendMessage accepts a raw internal message envelope: hex body plus
// the sender signature produced off-process.
func (s *Server) handleSendMessage(w http.ResponseWriter, req *RPCRequest) {
	var params sendMessageParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	body, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(params.Body), "0x"))
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "body must be hex", err.Error())
		return
	}
	env := &types.Envelope{Body: body, Value: big.NewInt(0)}
	if strings.TrimSpace(params.Value) != "" {
		value, ok := new(big.Int).SetString(strings.TrimSpace(params.Value), 10)
		if !ok || value.Sign() < 0 {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "value must be a non-negative decimal string", nil)
			return
		}
		env.Value = value
	}
	if params.R != "" || params.S != "" || params.V != "" {
		r, okR := new(big.Int).SetString(strings.TrimSpace(params.R), 16)
		sv, okS := new(big.Int).SetString(strings.TrimSpace(params.S), 16)
		v, okV := new(big.Int).SetString(strings.TrimSpace(params.V), 16)
		if !okR || !okS || !okV {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "signature components must be hex", nil)
			return
		}
		env.R, env.S, env.V = r, sv, v
	}
	transfer, err := s.engine.HandleInternal(env)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	if transfer == nil {
		writeResult(w, req.ID, map[string]bool{"ok": true})
		return
	}
	writeResult(w, req.ID, transferJSON(transfer))
}

func (s *Server) handleConfirmDelivery(w http.ResponseWriter, req *RPCRequest) {
	var params queryIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	if params.QueryID == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "queryId is required", nil)
		return
	}
	if err := s.engine.ConfirmDelivery(params.QueryID); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}
