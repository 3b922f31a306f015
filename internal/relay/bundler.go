package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gasless-agent/internal/account"
	xerrors "gasless-agent/internal/errors"
	"gasless-agent/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

const (
	entryPointABI = `[{"type":"function","name":"getNonce","stateMutability":"view",
		"inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],
		"outputs":[{"name":"nonce","type":"uint256"}]}]`
	smartAccountABI = `[{"type":"function","name":"execute","stateMutability":"nonpayable",
		"inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],
		"outputs":[]}]`
	routerABI = `[{"type":"function","name":"swap","stateMutability":"nonpayable",
		"inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"}],
		"outputs":[{"name":"amountOut","type":"uint256"}]}]`

	defaultPolicy = "sponsored"
)

var (
	parsedEntryPointABI   = mustParseABI(entryPointABI)
	parsedSmartAccountABI = mustParseABI(smartAccountABI)
	parsedRouterABI       = mustParseABI(routerABI)

	// dummySignature has the shape of a 65-byte ECDSA signature so paymasters
	// can simulate validation before the real signature exists.
	dummySignature = hexutil.MustDecode("0x" + strings.Repeat("f", 31) + strings.Repeat("0", 32) + "7" +
		strings.Repeat("a", 64) + "1c")
)

// Option customises the bundler dispatcher.
type Option func(*Bundler)

// WithAPIKey attaches the relay API key to bundler and paymaster requests.
func WithAPIKey(key string) Option {
	return func(b *Bundler) {
		b.apiKey = strings.TrimSpace(key)
	}
}

// WithSponsorshipPolicy selects the paymaster sponsorship policy.
func WithSponsorshipPolicy(policy string) Option {
	return func(b *Bundler) {
		if strings.TrimSpace(policy) != "" {
			b.policy = strings.TrimSpace(policy)
		}
	}
}

// WithNow overrides the receipt timestamp source.
func WithNow(now func() time.Time) Option {
	return func(b *Bundler) {
		if now != nil {
			b.now = now
		}
	}
}

// Bundler submits swaps as paymaster-sponsored user operations.
type Bundler struct {
	chain      web3.Client
	network    web3.Network
	entryPoint common.Address
	router     common.Address
	apiKey     string
	policy     string
	now        func() time.Time

	bundler   *gethrpc.Client
	paymaster *gethrpc.Client
}

// NewBundler prepares a dispatcher for the given network. The chain client is
// used for read-only lookups; nothing is written through it.
func NewBundler(ctx context.Context, chain web3.Client, network web3.Network, opts ...Option) (*Bundler, error) {
	if chain == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "bundler requires a chain client")
	}
	if err := network.ValidateAccountAbstraction(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "network is not configured for sponsored execution")
	}

	b := &Bundler{
		chain:      chain,
		network:    network,
		entryPoint: common.HexToAddress(network.EntryPoint),
		router:     common.HexToAddress(network.Router),
		policy:     defaultPolicy,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	bundlerURL, err := withAPIKey(network.BundlerURL, b.apiKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "invalid bundler url")
	}
	paymasterURL := network.PaymasterURL
	if strings.TrimSpace(paymasterURL) == "" {
		paymasterURL = network.BundlerURL
	}
	paymasterURL, err = withAPIKey(paymasterURL, b.apiKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "invalid paymaster url")
	}

	if b.bundler, err = gethrpc.DialContext(ctx, bundlerURL); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "dial bundler")
	}
	if b.paymaster, err = gethrpc.DialContext(ctx, paymasterURL); err != nil {
		b.bundler.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "dial paymaster")
	}
	return b, nil
}

// Close releases the relay connections.
func (b *Bundler) Close() {
	if b == nil {
		return
	}
	if b.bundler != nil {
		b.bundler.Close()
	}
	if b.paymaster != nil {
		b.paymaster.Close()
	}
}

// Submit builds, sponsors, signs and sends one user operation. Every step
// before eth_sendUserOperation is local or read-only, so a failure there
// means nothing reached the relay. eth_sendUserOperation is issued once.
func (b *Bundler) Submit(ctx context.Context, req ActionRequest) (Receipt, error) {
	if err := req.Validate(); err != nil {
		return Receipt{}, err
	}

	op, err := b.build(ctx, req)
	if err != nil {
		return Receipt{}, err
	}
	if err := b.sponsor(ctx, &op); err != nil {
		return Receipt{}, err
	}

	chainID, err := b.chain.ChainID(ctx)
	if err != nil {
		return Receipt{}, dispatchError(err, "resolve chain id")
	}
	hash, err := op.Hash(b.entryPoint, chainID)
	if err != nil {
		return Receipt{}, dispatchError(err, "hash user operation")
	}
	if op.Signature, err = req.Account.SignHash(hash); err != nil {
		return Receipt{}, dispatchError(err, "sign user operation")
	}

	var opHash string
	if err := b.bundler.CallContext(ctx, &opHash, "eth_sendUserOperation", op.wire(), b.entryPoint); err != nil {
		return Receipt{}, xerrors.Wrap(xerrors.CodeDispatchFailure, err, "eth_sendUserOperation",
			xerrors.WithMetadata("request_id", req.ID.String()))
	}
	if opHash == "" {
		opHash = hash.Hex()
	}
	return Receipt{ID: opHash, RequestID: req.ID, SubmittedAt: b.now()}, nil
}

func (b *Bundler) build(ctx context.Context, req ActionRequest) (UserOperation, error) {
	tokenIn, ok := b.network.Token(req.From)
	if !ok {
		return UserOperation{}, xerrors.New(xerrors.CodeDispatchFailure, fmt.Sprintf("unknown token %q", req.From))
	}
	tokenOut, ok := b.network.Token(req.To)
	if !ok {
		return UserOperation{}, xerrors.New(xerrors.CodeDispatchFailure, fmt.Sprintf("unknown token %q", req.To))
	}
	amountIn, err := ScaleAmount(req.Amount, tokenIn.Decimals)
	if err != nil {
		return UserOperation{}, dispatchError(err, "scale swap amount")
	}

	swap, err := parsedRouterABI.Pack("swap",
		common.HexToAddress(tokenIn.Address), common.HexToAddress(tokenOut.Address), amountIn)
	if err != nil {
		return UserOperation{}, dispatchError(err, "encode swap")
	}
	callData, err := parsedSmartAccountABI.Pack("execute", b.router, new(big.Int), swap)
	if err != nil {
		return UserOperation{}, dispatchError(err, "encode execute")
	}

	sender := req.Account.Address
	nonce, err := b.nonce(ctx, sender)
	if err != nil {
		return UserOperation{}, err
	}
	fees, err := b.chain.SuggestFees(ctx)
	if err != nil {
		return UserOperation{}, dispatchError(err, "suggest fees")
	}
	initCode, err := b.initCode(ctx, req.Account)
	if err != nil {
		return UserOperation{}, err
	}

	return UserOperation{
		Sender:               sender,
		Nonce:                nonce,
		InitCode:             initCode,
		CallData:             callData,
		CallGasLimit:         new(big.Int),
		VerificationGasLimit: new(big.Int),
		PreVerificationGas:   new(big.Int),
		MaxFeePerGas:         fees.MaxFeePerGas,
		MaxPriorityFeePerGas: fees.MaxPriorityFeePerGas,
		Signature:            append([]byte(nil), dummySignature...),
	}, nil
}

// initCode returns the handle's init code only while the account has no
// code on chain. The first sponsored operation deploys it.
func (b *Bundler) initCode(ctx context.Context, handle account.Handle) ([]byte, error) {
	if len(handle.InitCode) == 0 {
		return nil, nil
	}
	code, err := b.chain.CodeAt(ctx, handle.Address)
	if err != nil {
		return nil, dispatchError(err, "query account code")
	}
	if len(code) > 0 {
		return nil, nil
	}
	return handle.InitCode, nil
}

func (b *Bundler) nonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	data, err := parsedEntryPointABI.Pack("getNonce", sender, new(big.Int))
	if err != nil {
		return nil, dispatchError(err, "encode getNonce")
	}
	out, err := b.chain.CallContract(ctx, gethcore.CallMsg{To: &b.entryPoint, Data: data})
	if err != nil {
		return nil, dispatchError(err, "query entry point nonce")
	}
	values, err := parsedEntryPointABI.Unpack("getNonce", out)
	if err != nil {
		return nil, dispatchError(err, "decode entry point nonce")
	}
	if len(values) != 1 {
		return nil, dispatchError(errors.New("unexpected getNonce output"), "decode entry point nonce")
	}
	nonce, ok := values[0].(*big.Int)
	if !ok {
		return nil, dispatchError(fmt.Errorf("unexpected nonce type %T", values[0]), "decode entry point nonce")
	}
	return nonce, nil
}

type sponsorResult struct {
	PaymasterAndData     hexutil.Bytes `json:"paymasterAndData"`
	PreVerificationGas   *hexutil.Big  `json:"preVerificationGas"`
	VerificationGasLimit *hexutil.Big  `json:"verificationGasLimit"`
	CallGasLimit         *hexutil.Big  `json:"callGasLimit"`
}

func (b *Bundler) sponsor(ctx context.Context, op *UserOperation) error {
	var res sponsorResult
	policy := map[string]string{"type": b.policy}
	if err := b.paymaster.CallContext(ctx, &res, "pm_sponsorUserOperation", op.wire(), b.entryPoint, policy); err != nil {
		return dispatchError(err, "pm_sponsorUserOperation")
	}
	if len(res.PaymasterAndData) == 0 {
		return xerrors.New(xerrors.CodeDispatchFailure, "paymaster declined to sponsor the operation")
	}
	op.PaymasterAndData = res.PaymasterAndData
	if res.PreVerificationGas != nil {
		op.PreVerificationGas = res.PreVerificationGas.ToInt()
	}
	if res.VerificationGasLimit != nil {
		op.VerificationGasLimit = res.VerificationGasLimit.ToInt()
	}
	if res.CallGasLimit != nil {
		op.CallGasLimit = res.CallGasLimit.ToInt()
	}
	return nil
}

// ScaleAmount converts a human amount into token base units, truncating
// digits beyond the token's precision.
func ScaleAmount(amount float64, decimals uint8) (*big.Int, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %v", amount)
	}
	text := strconv.FormatFloat(amount, 'f', -1, 64)
	whole, frac, _ := strings.Cut(text, ".")
	if len(frac) > int(decimals) {
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))

	units, ok := new(big.Int).SetString(strings.TrimLeft(whole+frac, "0"), 10)
	if !ok || units.Sign() == 0 {
		return nil, fmt.Errorf("amount %v is below the token precision", amount)
	}
	return units, nil
}

func withAPIKey(raw, key string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if key == "" {
		return u.String(), nil
	}
	q := u.Query()
	if q.Get("apikey") == "" {
		q.Set("apikey", key)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func dispatchError(err error, message string) error {
	return xerrors.Wrap(xerrors.CodeDispatchFailure, err, message)
}

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}
