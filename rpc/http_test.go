package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"telemart/core/events"
	"telemart/crypto"
	"telemart/native/commission"
	"telemart/native/settlement"
	"telemart/storage"
)

func newTestServer(t *testing.T, bps uint16) (*Server, *settlement.Engine, [20]byte) {
	t.Helper()
	adminKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate admin key: %v", err)
	}
	var admin [20]byte
	copy(admin[:], adminKey.PubKey().Address().Bytes())

	store := settlement.NewStore(storage.NewMemDB())
	if err := store.Initialize(&settlement.ContractState{
		AdminAddress:          admin,
		CommissionBps:         bps,
		AccumulatedCommission: big.NewInt(0),
		Balance:               big.NewInt(1_000_000_000_000),
	}); err != nil {
		t.Fatalf("initialize store: %v", err)
	}

	engine := settlement.NewEngine(commission.NewFlatPolicy())
	engine.SetState(store)
	engine.SetNowFunc(func() int64 { return 1000 })
	return NewServer(engine, NewHub(), nil), engine, admin
}

func rpcCall(t *testing.T, srv *Server, token, method string, params interface{}) *RPCResponse {
	t.Helper()
	reqParams := []interface{}{}
	if params != nil {
		reqParams = append(reqParams, params)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  reqParams,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httpReq)

	resp := &RPCResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestGetAdminAddress(t *testing.T) {
	srv, _, admin := newTestServer(t, 300)
	resp := rpcCall(t, srv, "", "telemart_getAdminAddress", nil)
	if resp.Error != nil {
		t.Fatalf("rpc error: %+v", resp.Error)
	}
	want := crypto.NewAddress(crypto.TMTPrefix, admin[:]).String()
	if resp.Result != want {
		t.Fatalf("admin %v, want %s", resp.Result, want)
	}
}

func TestGetCommissionPercent(t *testing.T) {
	srv, _, _ := newTestServer(t, 450)
	resp := rpcCall(t, srv, "", "telemart_getCommissionPercent", nil)
	if resp.Error != nil {
		t.Fatalf("rpc error: %+v", resp.Error)
	}
	if fmt.Sprintf("%v", resp.Result) != "450" {
		t.Fatalf("rate %v, want 450", resp.Result)
	}
}

func TestGetCommissionDeduction(t *testing.T) {
	srv, _, _ := newTestServer(t, 300)
	resp := rpcCall(t, srv, "", "telemart_getCommissionDeduction", map[string]string{"value": "50000000000"})
	if resp.Error != nil {
		t.Fatalf("rpc error: %+v", resp.Error)
	}
	if resp.Result != "1500000000" {
		t.Fatalf("deduction %v, want 1500000000", resp.Result)
	}
}

func TestSendTradeSettles(t *testing.T) {
	srv, engine, _ := newTestServer(t, 300)
	sellerKey, _ := crypto.GeneratePrivateKey()
	buyerKey, _ := crypto.GeneratePrivateKey()
	params := map[string]interface{}{
		"seqNo":    1,
		"expireAt": 2000,
		"amount":   50_000_000_000,
		"seller":   sellerKey.PubKey().Address().String(),
		"buyer":    buyerKey.PubKey().Address().String(),
	}
	resp := rpcCall(t, srv, "", "telemart_sendTrade", params)
	if resp.Error != nil {
		t.Fatalf("rpc error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result shape: %v", resp.Result)
	}
	if result["value"] != "48500000000" {
		t.Fatalf("payout %v, want 48500000000", result["value"])
	}
	last, err := engine.LastSeqNo()
	if err != nil || last != 1 {
		t.Fatalf("lastSeqNo %d err %v, want 1", last, err)
	}
}

func TestSendTradeReplayReturnsCode(t *testing.T) {
	srv, _, _ := newTestServer(t, 300)
	sellerKey, _ := crypto.GeneratePrivateKey()
	buyerKey, _ := crypto.GeneratePrivateKey()
	params := map[string]interface{}{
		"seqNo":    1,
		"expireAt": 2000,
		"amount":   1000,
		"seller":   sellerKey.PubKey().Address().String(),
		"buyer":    buyerKey.PubKey().Address().String(),
	}
	if resp := rpcCall(t, srv, "", "telemart_sendTrade", params); resp.Error != nil {
		t.Fatalf("first trade: %+v", resp.Error)
	}
	resp := rpcCall(t, srv, "", "telemart_sendTrade", params)
	if resp.Error == nil {
		t.Fatalf("replay accepted")
	}
	if resp.Error.Code != codeRejected {
		t.Fatalf("error code %d, want %d", resp.Error.Code, codeRejected)
	}
	data, ok := resp.Error.Data.(map[string]interface{})
	if !ok || fmt.Sprintf("%v", data["code"]) != "102" {
		t.Fatalf("rejection data %v, want code 102", resp.Error.Data)
	}
}

func TestMutatingMethodsRequireToken(t *testing.T) {
	t.Setenv("TELEMART_RPC_TOKEN", "secret")
	srv, _, _ := newTestServer(t, 300)

	resp := rpcCall(t, srv, "", "telemart_sendTrade", map[string]interface{}{})
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", resp.Error)
	}
	resp = rpcCall(t, srv, "wrong", "telemart_confirmDelivery", map[string]interface{}{"queryId": 1})
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized for bad token, got %+v", resp.Error)
	}
	// Reads stay open.
	resp = rpcCall(t, srv, "", "telemart_getBalance", nil)
	if resp.Error != nil {
		t.Fatalf("read blocked: %+v", resp.Error)
	}
}

func TestMethodNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, 300)
	resp := rpcCall(t, srv, "", "telemart_unknown", nil)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", resp.Error)
	}
}

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Emit(events.TradeSettled{
		SeqNo:      1,
		Amount:     big.NewInt(1000),
		Commission: big.NewInt(30),
		QueryID:    7,
	})
	select {
	case evt := <-ch:
		if evt.Type != events.TypeTradeSettled {
			t.Fatalf("event type %q", evt.Type)
		}
		if evt.Attributes["seqNo"] != "1" {
			t.Fatalf("seqNo attribute %q", evt.Attributes["seqNo"])
		}
	default:
		t.Fatalf("no event delivered")
	}
}

func TestHubDropsWhenSubscriberFull(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Emit(events.TradeSettled{SeqNo: uint32(i), QueryID: uint64(i)})
	}
	if len(ch) != subscriberBuffer {
		t.Fatalf("buffered %d events, want %d", len(ch), subscriberBuffer)
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	cancel()
	if _, open := <-ch; open {
		t.Fatalf("channel still open after cancel")
	}
	// Emitting after cancel must not panic.
	hub.Emit(events.TradeSettled{SeqNo: 1})
}
