package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gasless-agent/internal/config"
	"gasless-agent/internal/web3"
	"gasless-agent/internal/web3/ethereum"
)

// Registry manages a set of chain clients keyed by network name.
type Registry struct {
	defaultNetwork string
	networks       map[string]web3.Network
	clients        map[string]web3.Client
}

// NewRegistry loads network definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadNetworks(cfg.NetworkConfig)
	if err != nil {
		return nil, err
	}

	if len(defs.Networks) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		defs.Networks["default"] = web3.Network{Type: "evm", RPCURL: cfg.RPCURL}
		if cfg.DefaultNetwork == "" {
			cfg.DefaultNetwork = "default"
		}
	}

	reg := &Registry{
		networks: make(map[string]web3.Network, len(defs.Networks)),
		clients:  make(map[string]web3.Client, len(defs.Networks)),
	}
	for name, network := range defs.Networks {
		networkType := strings.ToLower(strings.TrimSpace(network.Type))
		if networkType == "" {
			networkType = "evm"
		}
		if networkType != "evm" {
			reg.Close()
			return nil, fmt.Errorf("网络 %s 使用了不支持的类型 %s", name, network.Type)
		}
		rpcURL := network.RPCURL
		if strings.TrimSpace(rpcURL) == "" {
			rpcURL = cfg.RPCURL
			network.RPCURL = rpcURL
		}
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			Name:   name,
			RPCURL: rpcURL,
			Notes:  network.Description,
		})
		if err != nil {
			reg.Close()
			return nil, fmt.Errorf("初始化网络 %s 失败: %w", name, err)
		}
		reg.networks[name] = network
		reg.clients[name] = client
	}

	if len(reg.clients) == 0 {
		return nil, errors.New("未配置任何网络的 RPC 端点")
	}

	defaultNetwork := cfg.DefaultNetwork
	if defaultNetwork == "" {
		defaultNetwork = reg.Networks()[0]
	}
	if _, ok := reg.clients[defaultNetwork]; !ok {
		reg.Close()
		return nil, fmt.Errorf("默认网络 %s 未在配置中找到", defaultNetwork)
	}
	reg.defaultNetwork = defaultNetwork
	return reg, nil
}

// Default returns the definition and client of the default network.
func (r *Registry) Default() (string, web3.Network, web3.Client, error) {
	if r == nil {
		return "", web3.Network{}, nil, errors.New("未初始化的网络注册表")
	}
	client, ok := r.clients[r.defaultNetwork]
	if !ok {
		return "", web3.Network{}, nil, fmt.Errorf("默认网络 %s 未在注册表中", r.defaultNetwork)
	}
	return r.defaultNetwork, r.networks[r.defaultNetwork], client, nil
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Networks returns the sorted list of registered network names.
func (r *Registry) Networks() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
