package pythonbridge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"gasless-agent/internal/feed"
	"gasless-agent/internal/oracle"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not available on windows")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "decide.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestDecideParsesScriptOutput(t *testing.T) {
	script := writeScript(t, "cat >/dev/null\necho '{\"decision\":\"no_act\",\"reason\":\"wait\"}'\n")
	client, err := NewClient("sh", script, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	signal := feed.Signal{Asset: "ethereum", Value: 2500}
	proposal := oracle.Params{Amount: 100, From: "USDC", To: "WETH"}
	decision, err := client.Decide(context.Background(), signal, oracle.NewContext(signal, proposal, 1))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision.Action != oracle.ActionNoAct || decision.Reason != "wait" {
		t.Fatalf("unexpected decision %+v", decision)
	}
}

func TestDecideScriptTimeout(t *testing.T) {
	script := writeScript(t, "exec sleep 5\n")
	client, err := NewClient("sh", script, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	signal := feed.Signal{Asset: "ethereum", Value: 2500}
	if _, err := client.Decide(ctx, signal, oracle.Context{}); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestResolveScriptPath(t *testing.T) {
	if got := ResolveScriptPath("/opt/agent", "decide.py"); got != filepath.Join("/opt/agent", "decide.py") {
		t.Fatalf("unexpected path %s", got)
	}
	if got := ResolveScriptPath("/opt/agent", "/abs/decide.py"); got != "/abs/decide.py" {
		t.Fatalf("unexpected path %s", got)
	}
	if _, err := NewClient("", "", ""); err == nil {
		t.Fatal("expected error without script")
	}
}
