package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "gasless-agent/internal/errors"

	"golang.org/x/time/rate"
)

const (
	defaultCoinGeckoURL      = "https://api.coingecko.com/api/v3"
	defaultFetchTimeout      = 10 * time.Second
	defaultRequestsPerMinute = 30
)

// CoinGeckoConfig 描述 CoinGecko 简单价格接口的访问参数。
type CoinGeckoConfig struct {
	BaseURL           string
	Asset             string
	Quote             string
	APIKey            string
	Timeout           time.Duration
	RequestsPerMinute int
}

// CoinGecko 通过 /simple/price 接口取价。
type CoinGecko struct {
	baseURL    string
	asset      string
	quote      string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewCoinGecko 根据配置创建价格源。
func NewCoinGecko(cfg CoinGeckoConfig) (*CoinGecko, error) {
	asset := strings.ToLower(strings.TrimSpace(cfg.Asset))
	quote := strings.ToLower(strings.TrimSpace(cfg.Quote))
	if asset == "" || quote == "" {
		return nil, errors.New("CoinGecko 需要 asset 与 quote")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultCoinGeckoURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}

	return &CoinGecko{
		baseURL:    baseURL,
		asset:      asset,
		quote:      quote,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		now:        time.Now,
	}, nil
}

// Fetch 取回最新价格。任何失败都以 SIGNAL_FAILURE 返回。
func (c *CoinGecko) Fetch(ctx context.Context) (Signal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Signal{}, xerrors.Wrap(xerrors.CodeSignalFailure, err, "等待取价配额失败")
	}

	query := url.Values{}
	query.Set("ids", c.asset)
	query.Set("vs_currencies", c.quote)
	endpoint := c.baseURL + "/simple/price?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Signal{}, xerrors.Wrap(xerrors.CodeSignalFailure, err, "构建取价请求失败")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Signal{}, xerrors.Wrap(xerrors.CodeSignalFailure, err, "请求 CoinGecko 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Signal{}, xerrors.New(xerrors.CodeSignalFailure,
			fmt.Sprintf("CoinGecko 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Signal{}, xerrors.Wrap(xerrors.CodeSignalFailure, err, "解析 CoinGecko 响应失败")
	}
	value, ok := decoded[c.asset][c.quote]
	if !ok {
		return Signal{}, xerrors.New(xerrors.CodeSignalFailure,
			fmt.Sprintf("CoinGecko 响应缺少 %s/%s 报价", c.asset, c.quote))
	}

	signal := Signal{Asset: c.asset, Quote: c.quote, Value: value, ObservedAt: c.now()}
	if err := signal.Validate(); err != nil {
		return Signal{}, err
	}
	return signal, nil
}

var _ Source = (*CoinGecko)(nil)
