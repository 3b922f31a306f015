package web3

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// NetworkDefinitions models the structure of configs/networks.yaml.
type NetworkDefinitions struct {
	Networks map[string]Network `yaml:"networks"`
}

// Network describes one EVM network together with the account-abstraction
// infrastructure deployed on it.
type Network struct {
	Type           string           `yaml:"type"`
	RPCURL         string           `yaml:"rpc_url"`
	BundlerURL     string           `yaml:"bundler_url"`
	PaymasterURL   string           `yaml:"paymaster_url"`
	EntryPoint     string           `yaml:"entry_point"`
	AccountFactory string           `yaml:"account_factory"`
	Router         string           `yaml:"router"`
	Tokens         map[string]Token `yaml:"tokens"`
	Description    string           `yaml:"description"`
}

// Token is an ERC-20 known to the network definition.
type Token struct {
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

// LoadNetworks parses the YAML file containing network metadata. An empty
// path yields an empty definition set.
func LoadNetworks(path string) (NetworkDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return NetworkDefinitions{Networks: map[string]Network{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return NetworkDefinitions{}, fmt.Errorf("读取网络配置失败: %w", err)
	}

	var defs NetworkDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return NetworkDefinitions{}, fmt.Errorf("解析网络配置失败: %w", err)
	}
	if defs.Networks == nil {
		defs.Networks = map[string]Network{}
	}
	return defs, nil
}

// Token looks a token up by symbol, ignoring case.
func (n Network) Token(symbol string) (Token, bool) {
	symbol = strings.TrimSpace(symbol)
	if tok, ok := n.Tokens[symbol]; ok {
		return tok, true
	}
	for name, tok := range n.Tokens {
		if strings.EqualFold(name, symbol) {
			return tok, true
		}
	}
	return Token{}, false
}

// ValidateAccountAbstraction checks the fields a sponsored submission needs.
func (n Network) ValidateAccountAbstraction() error {
	required := map[string]string{
		"bundler_url":     n.BundlerURL,
		"entry_point":     n.EntryPoint,
		"account_factory": n.AccountFactory,
		"router":          n.Router,
	}
	for _, key := range []string{"bundler_url", "entry_point", "account_factory", "router"} {
		if strings.TrimSpace(required[key]) == "" {
			return fmt.Errorf("网络缺少 %s 配置", key)
		}
	}
	for _, key := range []string{"entry_point", "account_factory", "router"} {
		if !common.IsHexAddress(required[key]) {
			return fmt.Errorf("%s 不是合法地址: %s", key, required[key])
		}
		if common.HexToAddress(required[key]) == (common.Address{}) {
			return fmt.Errorf("%s 仍是零地址占位符", key)
		}
	}
	for name, tok := range n.Tokens {
		if !common.IsHexAddress(tok.Address) {
			return fmt.Errorf("代币 %s 地址不合法: %s", name, tok.Address)
		}
	}
	return nil
}
