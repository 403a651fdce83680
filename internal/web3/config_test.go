package web3

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
)

func TestLoadNetwork(t *testing.T) {
	path := filepath.Join(t.TempDir(), "network.yaml")
	content := `network:
  name: amoy
  chain_id: 80002
  rpc_url: https://rpc-amoy.polygon.technology
  relay_rpc_url: https://relay.example.org/amoy
  contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write network file: %v", err)
	}

	def, err := LoadNetwork(path)
	if err != nil {
		t.Fatalf("load network: %v", err)
	}
	if def.Name != "amoy" || def.ChainID != 80002 {
		t.Fatalf("unexpected definition %+v", def)
	}
	if def.RelayRPCURL != "https://relay.example.org/amoy" {
		t.Fatalf("unexpected relay url %q", def.RelayRPCURL)
	}
}

func TestLoadNetworkRejectsBadAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "network.yaml")
	if err := os.WriteFile(path, []byte("network:\n  contract_address: not-an-address\n"), 0o644); err != nil {
		t.Fatalf("write network file: %v", err)
	}
	if _, err := LoadNetwork(path); err == nil || !strings.Contains(err.Error(), "not-an-address") {
		t.Fatalf("expected address validation error, got %v", err)
	}
}

func TestLoadNetworkEmptyPath(t *testing.T) {
	def, err := LoadNetwork("  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def != (NetworkDefinition{}) {
		t.Fatalf("expected empty definition, got %+v", def)
	}
}

func TestSessionSignerRequiresOptsAndBackend(t *testing.T) {
	session := Session{
		Standard: &Signer{Kind: SignerStandard, Opts: &bind.TransactOpts{}},
	}
	if session.Signer(SignerStandard) != nil {
		t.Fatal("signer without backend must be treated as absent")
	}
	if session.Signer(SignerGasless) != nil {
		t.Fatal("missing gasless signer must be absent")
	}
	if session.Connected() {
		t.Fatal("session without connection must not report connected")
	}
}
