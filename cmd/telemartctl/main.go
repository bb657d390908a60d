package main

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"telemart/core/types"
	"telemart/crypto"
	"telemart/native/settlement"
)

var rpcEndpoint = defaultRPCEndpoint()
var rpcAuthToken = os.Getenv("TELEMART_RPC_TOKEN")

func main() {
	args := os.Args[1:]
	var err error
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "generate-key":
		generateKey(args[1:])
	case "admin-address":
		query("telemart_getAdminAddress", nil)
	case "commission":
		query("telemart_getCommissionPercent", nil)
	case "balance":
		query("telemart_getBalance", nil)
	case "seqno":
		query("telemart_getLastSeqNo", nil)
	case "trade":
		if len(args) < 5 {
			fmt.Println("Error: trade requires <seqno> <amount> <seller> <buyer>.")
			printUsage()
			return
		}
		sendTrade(args[1], args[2], args[3], args[4])
	case "payment":
		if len(args) < 4 {
			fmt.Println("Error: payment requires <value> <seller> <keystore>.")
			printUsage()
			return
		}
		payment(args[1], args[2], args[3])
	case "withdraw":
		if len(args) < 3 {
			fmt.Println("Error: withdraw requires <amount> <keystore>.")
			printUsage()
			return
		}
		withdraw(args[1], args[2])
	case "set-rate":
		if len(args) < 3 {
			fmt.Println("Error: set-rate requires <bps> <keystore>.")
			printUsage()
			return
		}
		setRate(args[1], args[2])
	case "set-admin":
		if len(args) < 3 {
			fmt.Println("Error: set-admin requires <address> <keystore>.")
			printUsage()
			return
		}
		setAdmin(args[1], args[2])
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func printUsage() {
	fmt.Println(`Usage: telemartctl [--rpc URL] <command>

Commands:
  generate-key [file]                  Generate an admin key (Ethereum v3 keystore)
  admin-address                        Show the stored admin address
  commission                           Show the commission rate in basis points
  balance                              Show the contract balance
  seqno                                Show the last accepted sequence number
  trade <seqno> <amount> <seller> <buyer>
                                       Submit an external trade request
  payment <value> <seller> <keystore>  Forward an attached payment to a seller
  withdraw <amount> <keystore>         Withdraw commission as the admin
  set-rate <bps> <keystore>            Change the commission rate
  set-admin <address> <keystore>       Rotate the stored admin address`)
}

func defaultRPCEndpoint() string {
	if url := strings.TrimSpace(os.Getenv("TELEMART_RPC_URL")); url != "" {
		return url
	}
	return "http://127.0.0.1:8646"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := args[:0]
	for i := 0; i < len(args); i++ {
		if args[i] == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--rpc requires a URL argument")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		out = append(out, args[i])
	}
	return out, nil
}

func generateKey(args []string) {
	path := "admin.keystore"
	if len(args) > 0 {
		path = args[0]
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating key: %v\n", err)
		os.Exit(1)
	}
	pass := os.Getenv("TELEMART_KEYSTORE_PASS")
	if err := crypto.SaveToKeystore(path, key, pass); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving keystore: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("New key saved to %s\nAddress: %s\n", path, key.PubKey().Address().String())
}

func loadKey(path string) *crypto.PrivateKey {
	pass := os.Getenv("TELEMART_KEYSTORE_PASS")
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading keystore %s: %v\n", path, err)
		os.Exit(1)
	}
	return key
}

// freshQueryID derives a request-response correlation id for admin messages.
func freshQueryID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}

func parseUint(raw, what string, bits int) uint64 {
	v, err := strconv.ParseUint(raw, 10, bits)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid %s %q\n", what, raw)
		os.Exit(1)
	}
	return v
}

func parseAddr(raw, what string) [20]byte {
	var out [20]byte
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid %s address %q: %v\n", what, raw, err)
		os.Exit(1)
	}
	copy(out[:], addr.Bytes())
	return out
}

func sendTrade(seqnoRaw, amountRaw, sellerRaw, buyerRaw string) {
	params := map[string]interface{}{
		"seqNo":    uint32(parseUint(seqnoRaw, "seqno", 32)),
		"expireAt": uint32(time.Now().Add(time.Minute).Unix()),
		"amount":   parseUint(amountRaw, "amount", 64),
		"seller":   sellerRaw,
		"buyer":    buyerRaw,
	}
	// Addresses validated locally for a friendlier error than the RPC's.
	parseAddr(sellerRaw, "seller")
	parseAddr(buyerRaw, "buyer")
	call("telemart_sendTrade", params)
}

func payment(valueRaw, sellerRaw, keystorePath string) {
	key := loadKey(keystorePath)
	value, ok := new(big.Int).SetString(strings.TrimSpace(valueRaw), 10)
	if !ok || value.Sign() <= 0 {
		fmt.Fprintf(os.Stderr, "Error: invalid value %q\n", valueRaw)
		os.Exit(1)
	}
	body := settlement.EncodePayment(&settlement.PaymentRequest{
		QueryID: freshQueryID(),
		Seller:  parseAddr(sellerRaw, "seller"),
	})
	env := &types.Envelope{Body: body, Value: value}
	if err := env.Sign(key.PrivateKey); err != nil {
		fmt.Fprintf(os.Stderr, "Error signing message: %v\n", err)
		os.Exit(1)
	}
	call("telemart_sendMessage", map[string]interface{}{
		"value": value.String(),
		"body":  hex.EncodeToString(body),
		"r":     env.R.Text(16),
		"s":     env.S.Text(16),
		"v":     env.V.Text(16),
	})
}

func withdraw(amountRaw, keystorePath string) {
	key := loadKey(keystorePath)
	var sender [20]byte
	copy(sender[:], key.PubKey().Address().Bytes())
	body := settlement.EncodeWithdraw(&settlement.WithdrawRequest{
		QueryID: freshQueryID(),
		Sender:  sender,
		Amount:  parseUint(amountRaw, "amount", 64),
	})
	sendSigned(body, key)
}

func setRate(bpsRaw, keystorePath string) {
	key := loadKey(keystorePath)
	body := settlement.EncodeSetRate(&settlement.SetRateRequest{
		QueryID: freshQueryID(),
		Bps:     uint16(parseUint(bpsRaw, "bps", 16)),
	})
	sendSigned(body, key)
}

func setAdmin(addrRaw, keystorePath string) {
	key := loadKey(keystorePath)
	body := settlement.EncodeSetAdmin(&settlement.SetAdminRequest{
		QueryID:  freshQueryID(),
		NewAdmin: parseAddr(addrRaw, "admin"),
	})
	sendSigned(body, key)
}

func sendSigned(body []byte, key *crypto.PrivateKey) {
	// The server treats an omitted value as zero; sign over the same envelope.
	env := &types.Envelope{Body: body, Value: big.NewInt(0)}
	if err := env.Sign(key.PrivateKey); err != nil {
		fmt.Fprintf(os.Stderr, "Error signing message: %v\n", err)
		os.Exit(1)
	}
	call("telemart_sendMessage", map[string]interface{}{
		"body": hex.EncodeToString(body),
		"r":    env.R.Text(16),
		"s":    env.S.Text(16),
		"v":    env.V.Text(16),
	})
}

func query(method string, params interface{}) {
	call(method, params)
}

func call(method string, params interface{}) {
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
		fmt.Fprintf(os.Stderr, "Error building request: %v\n", err)
		os.Exit(1)
	}

	httpReq, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(payload))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building request: %v\n", err)
		os.Exit(1)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if rpcAuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+rpcAuthToken)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error calling %s: %v\n", method, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int             `json:"code"`
			Message string          `json:"message"`
			Data    json.RawMessage `json:"data,omitempty"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding response: %v\n", err)
		os.Exit(1)
	}
	if rpcResp.Error != nil {
		fmt.Fprintf(os.Stderr, "RPC error %d: %s %s\n", rpcResp.Error.Code, rpcResp.Error.Message, string(rpcResp.Error.Data))
		os.Exit(1)
	}
	fmt.Println(string(rpcResp.Result))
}
