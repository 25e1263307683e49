// Package jupiter is a client for the Jupiter v6 swap aggregator API.
package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
)

// Options tunes quoting.
type Options struct {
	SlippageBps        int  // used when AutoSlippage is off
	AutoSlippage       bool // let the aggregator pick slippage
	MaxAutoSlippageUSD int  // collision value for auto slippage
	RequestsPerSecond  float64
	Timeout            time.Duration
}

// Client calls the quote and swap endpoints.
type Client struct {
	baseURL    string
	opts       Options
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewClient creates a client for baseURL, e.g. "https://quote-api.jup.ag/v6".
func NewClient(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 40 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 1
	}
	if opts.MaxAutoSlippageUSD <= 0 {
		opts.MaxAutoSlippageUSD = 1000
	}
	return &Client{
		baseURL:    baseURL,
		opts:       opts,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		httpClient: &http.Client{Timeout: opts.Timeout},
	}
}

// Quote is a priced route. Raw is sent back verbatim when building the swap.
type Quote struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	SlippageBps    int    `json:"slippageBps"`
	PriceImpactPct string `json:"priceImpactPct"`
	Error          string `json:"error"`

	Raw json.RawMessage `json:"-"`
}

// GetQuote prices a swap of amount raw input units.
func (c *Client) GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64) (Quote, error) {
	params := url.Values{}
	params.Set("inputMint", inputMint)
	params.Set("outputMint", outputMint)
	params.Set("amount", strconv.FormatUint(amount, 10))
	if c.opts.AutoSlippage {
		params.Set("autoSlippage", "true")
		params.Set("autoSlippageCollisionUsdValue", strconv.Itoa(c.opts.MaxAutoSlippageUSD))
	} else {
		params.Set("slippageBps", strconv.Itoa(c.opts.SlippageBps))
	}

	body, err := c.do(ctx, http.MethodGet, "/quote?"+params.Encode(), nil)
	if err != nil {
		return Quote{}, fmt.Errorf("jupiter: quote: %w", err)
	}

	var q Quote
	if err := json.Unmarshal(body, &q); err != nil {
		return Quote{}, fmt.Errorf("jupiter: decode quote: %w", err)
	}
	if q.Error != "" {
		return Quote{}, fmt.Errorf("jupiter: quote: %w: %s", domain.ErrSwapRoute, q.Error)
	}
	q.Raw = body
	return q, nil
}

type swapRequest struct {
	QuoteResponse                 json.RawMessage `json:"quoteResponse"`
	UserPublicKey                 string          `json:"userPublicKey"`
	WrapAndUnwrapSol              bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit       bool            `json:"dynamicComputeUnitLimit"`
	ComputeUnitPriceMicroLamports uint64          `json:"computeUnitPriceMicroLamports,omitempty"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	Error                string `json:"error"`
}

// BuildSwap returns the serialized, unsigned swap transaction for q.
func (c *Client) BuildSwap(ctx context.Context, q Quote, user string, priorityFee uint64) ([]byte, error) {
	payload, err := json.Marshal(swapRequest{
		QuoteResponse:                 q.Raw,
		UserPublicKey:                 user,
		WrapAndUnwrapSol:              true,
		DynamicComputeUnitLimit:       true,
		ComputeUnitPriceMicroLamports: priorityFee,
	})
	if err != nil {
		return nil, fmt.Errorf("jupiter: encode swap: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/swap", payload)
	if err != nil {
		return nil, fmt.Errorf("jupiter: swap: %w", err)
	}

	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("jupiter: decode swap: %w", err)
	}
	if resp.Error != "" || resp.SwapTransaction == "" {
		return nil, fmt.Errorf("jupiter: swap: %w: %s", domain.ErrSwapRoute, resp.Error)
	}
	wire, err := base64.StdEncoding.DecodeString(resp.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("jupiter: decode swap transaction: %w", err)
	}
	return wire, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case http.StatusBadRequest:
		// Unroutable pairs and amounts come back as 400 with an error body.
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("%w: %s", domain.ErrSwapRoute, e.Error)
		}
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
