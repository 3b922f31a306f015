package account

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	xerrors "gasless-agent/internal/errors"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Method 是嵌入式钱包支持的登录方式。
type Method string

const (
	MethodGoogle Method = "google"
	MethodApple  Method = "apple"
	MethodX      Method = "x"
)

var supportedMethods = []Method{MethodGoogle, MethodApple, MethodX}

// Methods 返回支持的登录方式。
func Methods() []Method {
	return append([]Method(nil), supportedMethods...)
}

// ParseMethod 解析操作员选择的登录方式，未知方式属于启动失败。
func ParseMethod(raw string) (Method, error) {
	normalized := Method(strings.ToLower(strings.TrimSpace(raw)))
	for _, m := range supportedMethods {
		if normalized == m {
			return m, nil
		}
	}
	names := make([]string, 0, len(supportedMethods))
	for _, m := range supportedMethods {
		names = append(names, string(m))
	}
	return "", xerrors.New(xerrors.CodeStartupFailure,
		fmt.Sprintf("无效的登录方式 %q，可选: %s", raw, strings.Join(names, "/")))
}

// Handle 代表进程生命周期内唯一的智能账户。创建后不再修改。
type Handle struct {
	Address  common.Address
	Owner    common.Address
	Method   Method
	InitCode []byte

	signer *ecdsa.PrivateKey
}

// NewHandle 组装账户句柄。
func NewHandle(address common.Address, method Method, initCode []byte, signer *ecdsa.PrivateKey) (Handle, error) {
	if signer == nil {
		return Handle{}, errors.New("账户缺少签名密钥")
	}
	if address == (common.Address{}) {
		return Handle{}, errors.New("智能账户地址为空")
	}
	return Handle{
		Address:  address,
		Owner:    crypto.PubkeyToAddress(signer.PublicKey),
		Method:   method,
		InitCode: append([]byte(nil), initCode...),
		signer:   signer,
	}, nil
}

// Valid 判断句柄是否可用于提交。
func (h Handle) Valid() bool {
	return h.Address != (common.Address{}) && h.signer != nil
}

// Deployed 表示智能账户是否已经在链上部署。
func (h Handle) Deployed() bool {
	return len(h.InitCode) == 0
}

// SignHash 用所有者密钥对哈希做 EIP-191 personal_sign 签名，返回 v 为 27/28 的 65 字节签名。
func (h Handle) SignHash(hash common.Hash) ([]byte, error) {
	if h.signer == nil {
		return nil, errors.New("账户缺少签名密钥")
	}
	sig, err := crypto.Sign(accounts.TextHash(hash.Bytes()), h.signer)
	if err != nil {
		return nil, fmt.Errorf("签名失败: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// String 只输出公开信息，不包含密钥。
func (h Handle) String() string {
	return fmt.Sprintf("%s(owner=%s, via=%s)", h.Address.Hex(), h.Owner.Hex(), h.Method)
}

// ParsePrivateKey 解析十六进制私钥，允许 0x 前缀。
func ParsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return nil, xerrors.New(xerrors.CodeStartupFailure, "缺少账户所有者私钥")
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStartupFailure, err, "账户所有者私钥格式错误")
	}
	return key, nil
}
