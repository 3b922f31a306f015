package account

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	xerrors "gasless-agent/internal/errors"
	"gasless-agent/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// factoryABI 对应 SimpleAccountFactory 的两个方法。
const factoryABI = `[
	{"type":"function","name":"getAddress","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"createAccount","stateMutability":"nonpayable",
	 "inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],
	 "outputs":[{"name":"ret","type":"address"}]}
]`

var parsedFactoryABI = mustParseABI(factoryABI)

// Provisioner 在登录后派生并返回智能账户句柄。
type Provisioner struct {
	client  web3.Client
	factory common.Address
	salt    *big.Int
	owner   *ecdsa.PrivateKey
}

// NewProvisioner 创建账户派生器。
func NewProvisioner(client web3.Client, factory string, salt uint64, ownerKey *ecdsa.PrivateKey) (*Provisioner, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeStartupFailure, "未配置链客户端")
	}
	if !common.IsHexAddress(factory) {
		return nil, xerrors.New(xerrors.CodeStartupFailure, fmt.Sprintf("账户工厂地址不合法: %q", factory))
	}
	if ownerKey == nil {
		return nil, xerrors.New(xerrors.CodeStartupFailure, "缺少账户所有者私钥")
	}
	return &Provisioner{
		client:  client,
		factory: common.HexToAddress(factory),
		salt:    new(big.Int).SetUint64(salt),
		owner:   ownerKey,
	}, nil
}

// Link 完成登录方式校验并计算反事实智能账户地址。账户未部署时附带 initCode，
// 由第一笔 user operation 顺带部署。
func (p *Provisioner) Link(ctx context.Context, method Method) (Handle, error) {
	if _, err := ParseMethod(string(method)); err != nil {
		return Handle{}, err
	}
	owner := crypto.PubkeyToAddress(p.owner.PublicKey)

	data, err := parsedFactoryABI.Pack("getAddress", owner, p.salt)
	if err != nil {
		return Handle{}, xerrors.Wrap(xerrors.CodeStartupFailure, err, "编码 getAddress 调用失败")
	}
	out, err := p.client.CallContract(ctx, gethcore.CallMsg{To: &p.factory, Data: data})
	if err != nil {
		return Handle{}, xerrors.Wrap(xerrors.CodeStartupFailure, err, "查询智能账户地址失败")
	}
	values, err := parsedFactoryABI.Unpack("getAddress", out)
	if err != nil || len(values) != 1 {
		return Handle{}, xerrors.Wrap(xerrors.CodeStartupFailure, err, "解析智能账户地址失败")
	}
	address, ok := values[0].(common.Address)
	if !ok || address == (common.Address{}) {
		return Handle{}, xerrors.New(xerrors.CodeStartupFailure, "账户工厂返回了空地址")
	}

	code, err := p.client.CodeAt(ctx, address)
	if err != nil {
		return Handle{}, xerrors.Wrap(xerrors.CodeStartupFailure, err, "查询智能账户部署状态失败")
	}

	var initCode []byte
	if len(code) == 0 {
		create, err := parsedFactoryABI.Pack("createAccount", owner, p.salt)
		if err != nil {
			return Handle{}, xerrors.Wrap(xerrors.CodeStartupFailure, err, "编码 createAccount 调用失败")
		}
		initCode = append(p.factory.Bytes(), create...)
	}

	return NewHandle(address, method, initCode, p.owner)
}

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}
