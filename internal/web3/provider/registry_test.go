package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gasless-agent/internal/config"
)

const networksYAML = `networks:
  linea-mainnet:
    rpc_url: http://127.0.0.1:8545
    bundler_url: http://127.0.0.1:4337
    entry_point: "0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"
    account_factory: "0x9406Cc6185a346906296840746125a0E44976454"
    router: "0x1111111254EEB25477B68fb85Ed929f73A960582"
    tokens:
      USDC: {address: "0x176211869cA2b568f2A7D4EE941E073a821EE1ff", decimals: 6}
      WETH: {address: "0xe5D7C2a44FfDDf6b295A15c148167daaAf5Cf34f", decimals: 18}
  linea-sepolia:
    rpc_url: http://127.0.0.1:8546
`

func writeNetworks(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "networks.yaml")
	if err := os.WriteFile(path, []byte(networksYAML), 0o644); err != nil {
		t.Fatalf("write networks: %v", err)
	}
	return path
}

func TestRegistrySelectsConfiguredDefault(t *testing.T) {
	reg, err := NewRegistry(context.Background(), config.Web3Config{
		NetworkConfig:  writeNetworks(t),
		DefaultNetwork: "linea-mainnet",
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer reg.Close()

	name, network, client, err := reg.Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if name != "linea-mainnet" || client == nil {
		t.Fatalf("unexpected default %s", name)
	}
	if tok, ok := network.Token("usdc"); !ok || tok.Decimals != 6 {
		t.Fatalf("expected USDC token lookup to ignore case, got %+v", tok)
	}
	if err := network.ValidateAccountAbstraction(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := reg.Networks(); len(got) != 2 || got[0] != "linea-mainnet" {
		t.Fatalf("unexpected networks %v", got)
	}
}

func TestRegistryRejectsUnknownDefault(t *testing.T) {
	if _, err := NewRegistry(context.Background(), config.Web3Config{
		NetworkConfig:  writeNetworks(t),
		DefaultNetwork: "base-mainnet",
	}); err == nil {
		t.Fatal("expected error for unknown default network")
	}
}

func TestRegistryFallsBackToInlineRPC(t *testing.T) {
	reg, err := NewRegistry(context.Background(), config.Web3Config{RPCURL: "http://127.0.0.1:8545"})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer reg.Close()
	name, network, _, err := reg.Default()
	if err != nil || name != "default" {
		t.Fatalf("unexpected default %q: %v", name, err)
	}
	if err := network.ValidateAccountAbstraction(); err == nil {
		t.Fatal("inline network has no entry point and must fail validation")
	}
}

func TestRegistryRequiresEndpoint(t *testing.T) {
	if _, err := NewRegistry(context.Background(), config.Web3Config{}); err == nil {
		t.Fatal("expected error without any endpoint")
	}
}
