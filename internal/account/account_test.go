package account

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	xerrors "gasless-agent/internal/errors"
	"gasless-agent/internal/web3/ethereum"
	"gasless-agent/internal/web3/rpctest"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const testOwnerKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

var (
	testFactory = common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")
	testAccount = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func TestParseMethod(t *testing.T) {
	cases := map[string]Method{
		"google":  MethodGoogle,
		" Apple ": MethodApple,
		"X":       MethodX,
	}
	for raw, want := range cases {
		got, err := ParseMethod(raw)
		if err != nil {
			t.Fatalf("ParseMethod(%q) 返回错误: %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseMethod(%q) = %q，期望 %q", raw, got, want)
		}
	}

	for _, raw := range []string{"github", "", "email"} {
		_, err := ParseMethod(raw)
		if err == nil {
			t.Fatalf("ParseMethod(%q) 应当失败", raw)
		}
		if xerrors.CodeOf(err) != xerrors.CodeStartupFailure {
			t.Fatalf("ParseMethod(%q) 错误码 %s", raw, xerrors.CodeOf(err))
		}
	}
}

func TestParsePrivateKey(t *testing.T) {
	key, err := ParsePrivateKey("0x" + testOwnerKey)
	if err != nil {
		t.Fatalf("解析私钥失败: %v", err)
	}
	if key == nil {
		t.Fatalf("私钥为空")
	}
	if _, err := ParsePrivateKey("not-hex"); xerrors.CodeOf(err) != xerrors.CodeStartupFailure {
		t.Fatalf("期望启动失败，得到 %v", err)
	}
	if _, err := ParsePrivateKey(" "); xerrors.CodeOf(err) != xerrors.CodeStartupFailure {
		t.Fatalf("期望启动失败，得到 %v", err)
	}
}

func TestHandleSignHashRecoversOwner(t *testing.T) {
	key, _ := ParsePrivateKey(testOwnerKey)
	handle, err := NewHandle(testAccount, MethodGoogle, nil, key)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	if !handle.Valid() || !handle.Deployed() {
		t.Fatalf("句柄状态异常: %+v", handle)
	}

	hash := crypto.Keccak256Hash([]byte("user-op"))
	sig, err := handle.SignHash(hash)
	if err != nil {
		t.Fatalf("签名失败: %v", err)
	}
	if len(sig) != 65 || (sig[64] != 27 && sig[64] != 28) {
		t.Fatalf("签名格式错误: %x", sig)
	}

	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(hash.Bytes()), raw)
	if err != nil {
		t.Fatalf("恢复公钥失败: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != handle.Owner {
		t.Fatalf("签名者不匹配")
	}
	if strings.Contains(handle.String(), testOwnerKey) {
		t.Fatalf("String 泄露了私钥")
	}
}

func TestHandleValid(t *testing.T) {
	var zero Handle
	if zero.Valid() {
		t.Fatalf("零值句柄不应有效")
	}
	if _, err := NewHandle(testAccount, MethodX, nil, nil); err == nil {
		t.Fatalf("缺少签名密钥应当失败")
	}
}

func newChain(t *testing.T, code string) (*rpctest.Server, *ethereum.Client) {
	t.Helper()
	srv := rpctest.NewServer(map[string]rpctest.Handler{
		"eth_call": func(params []json.RawMessage) (any, error) {
			var msg map[string]any
			if err := json.Unmarshal(params[0], &msg); err != nil {
				return nil, err
			}
			if to, _ := msg["to"].(string); !strings.EqualFold(to, testFactory.Hex()) {
				return nil, fmt.Errorf("unexpected target %s", msg["to"])
			}
			return hexutil.Encode(common.LeftPadBytes(testAccount.Bytes(), 32)), nil
		},
		"eth_getCode": rpctest.Static(code),
	})
	t.Cleanup(srv.Close)

	client, err := ethereum.NewClient(context.Background(), ethereum.Config{Name: "test", RPCURL: srv.URL})
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}
	t.Cleanup(client.Close)
	return srv, client
}

func TestProvisionerLinkUndeployedAccount(t *testing.T) {
	_, client := newChain(t, "0x")
	key, _ := ParsePrivateKey(testOwnerKey)

	p, err := NewProvisioner(client, testFactory.Hex(), 7, key)
	if err != nil {
		t.Fatalf("NewProvisioner: %v", err)
	}
	handle, err := p.Link(context.Background(), MethodApple)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if handle.Address != testAccount {
		t.Fatalf("账户地址 %s", handle.Address.Hex())
	}
	if handle.Method != MethodApple {
		t.Fatalf("登录方式 %s", handle.Method)
	}
	if handle.Deployed() {
		t.Fatalf("未部署账户应带 initCode")
	}
	if common.BytesToAddress(handle.InitCode[:20]) != testFactory {
		t.Fatalf("initCode 应以工厂地址开头: %x", handle.InitCode[:20])
	}
	selector := parsedFactoryABI.Methods["createAccount"].ID
	if string(handle.InitCode[20:24]) != string(selector) {
		t.Fatalf("initCode 选择器错误: %x", handle.InitCode[20:24])
	}
}

func TestProvisionerLinkDeployedAccount(t *testing.T) {
	srv, client := newChain(t, "0x6080604052")
	key, _ := ParsePrivateKey(testOwnerKey)

	p, err := NewProvisioner(client, testFactory.Hex(), 0, key)
	if err != nil {
		t.Fatalf("NewProvisioner: %v", err)
	}
	handle, err := p.Link(context.Background(), MethodGoogle)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if !handle.Deployed() {
		t.Fatalf("已部署账户不应带 initCode")
	}
	if srv.Calls("eth_call") != 1 || srv.Calls("eth_getCode") != 1 {
		t.Fatalf("调用次数异常: call=%d code=%d", srv.Calls("eth_call"), srv.Calls("eth_getCode"))
	}
}

func TestProvisionerRejectsUnknownMethodBeforeDialing(t *testing.T) {
	srv, client := newChain(t, "0x")
	key, _ := ParsePrivateKey(testOwnerKey)
	p, _ := NewProvisioner(client, testFactory.Hex(), 0, key)

	_, err := p.Link(context.Background(), Method("github"))
	if xerrors.CodeOf(err) != xerrors.CodeStartupFailure {
		t.Fatalf("期望启动失败，得到 %v", err)
	}
	if srv.Calls("eth_call") != 0 {
		t.Fatalf("未知登录方式不应访问链")
	}
}

func TestNewProvisionerValidation(t *testing.T) {
	_, client := newChain(t, "0x")
	key, _ := ParsePrivateKey(testOwnerKey)
	if _, err := NewProvisioner(nil, testFactory.Hex(), 0, key); err == nil {
		t.Fatalf("缺少客户端应失败")
	}
	if _, err := NewProvisioner(client, "factory", 0, key); err == nil {
		t.Fatalf("非法工厂地址应失败")
	}
	if _, err := NewProvisioner(client, testFactory.Hex(), 0, nil); err == nil {
		t.Fatalf("缺少私钥应失败")
	}
}
