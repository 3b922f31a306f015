package ethereum

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"gasless-agent/internal/web3"
	"gasless-agent/internal/web3/rpctest"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

func newTestClient(t *testing.T, handlers map[string]rpctest.Handler) (*Client, *rpctest.Server) {
	t.Helper()
	srv := rpctest.NewServer(handlers)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := NewClient(ctx, Config{Name: "linea-test", RPCURL: srv.URL, Notes: "test node"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)
	return client, srv
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatal("expected error when rpc url is missing")
	}
}

func TestFetchChainSnapshotCachesChainID(t *testing.T) {
	client, srv := newTestClient(t, map[string]rpctest.Handler{
		"eth_chainId":     rpctest.Static("0xe708"),
		"eth_blockNumber": rpctest.Static("0x1f"),
	})

	ctx := context.Background()
	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snapshot.ChainID != "0xe708" || snapshot.BlockNumber != "0x1f" || snapshot.Notes != "test node" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}

	id, err := client.ChainID(ctx)
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}
	if id.Int64() != 59144 {
		t.Fatalf("unexpected chain id %s", id)
	}
	if calls := srv.Calls("eth_chainId"); calls != 1 {
		t.Fatalf("expected chain id to be cached, got %d calls", calls)
	}
}

func TestCallContractAndCode(t *testing.T) {
	target := common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	client, _ := newTestClient(t, map[string]rpctest.Handler{
		"eth_call": func(params []json.RawMessage) (any, error) {
			var call map[string]any
			if err := json.Unmarshal(params[0], &call); err != nil {
				return nil, err
			}
			if call["to"] != "0x5ff137d4b0fdcd49dca30c7cf57e578a026d2789" {
				t.Errorf("unexpected call target %v", call["to"])
			}
			return "0x000000000000000000000000000000000000000000000000000000000000002a", nil
		},
		"eth_getCode": rpctest.Static("0x6001"),
	})

	ctx := context.Background()
	out, err := client.CallContract(ctx, gethcore.CallMsg{To: &target, Data: []byte{0x35, 0x56, 0x7e, 0x1a}})
	if err != nil {
		t.Fatalf("call contract: %v", err)
	}
	if len(out) != 32 || out[31] != 0x2a {
		t.Fatalf("unexpected call output %x", out)
	}

	if _, err := client.CallContract(ctx, gethcore.CallMsg{}); err == nil {
		t.Fatal("expected error when call target is missing")
	}

	code, err := client.CodeAt(ctx, target)
	if err != nil {
		t.Fatalf("code at: %v", err)
	}
	if len(code) != 2 {
		t.Fatalf("unexpected code %x", code)
	}
}

func TestSuggestFees(t *testing.T) {
	client, _ := newTestClient(t, map[string]rpctest.Handler{
		"eth_maxPriorityFeePerGas": rpctest.Static("0x3b9aca00"),
		"eth_gasPrice":             rpctest.Static("0x77359400"),
	})

	fees, err := client.SuggestFees(context.Background())
	if err != nil {
		t.Fatalf("suggest fees: %v", err)
	}
	if fees.MaxPriorityFeePerGas.Int64() != 1_000_000_000 {
		t.Fatalf("unexpected tip %s", fees.MaxPriorityFeePerGas)
	}
	if fees.MaxFeePerGas.Int64() != 3_000_000_000 {
		t.Fatalf("unexpected fee cap %s", fees.MaxFeePerGas)
	}
}

func TestClosedClientRejectsCalls(t *testing.T) {
	client, _ := newTestClient(t, nil)
	client.Close()
	if _, err := client.ChainID(context.Background()); err == nil {
		t.Fatal("expected error from closed client")
	}
}

var _ web3.Client = (*Client)(nil)
