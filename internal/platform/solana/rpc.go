package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
	"github.com/alanyoungcy/lendliquidator/internal/metrics"
)

// maxMultipleAccounts is the node limit for getMultipleAccounts.
const maxMultipleAccounts = 100

// ClientOptions configures the JSON-RPC client.
type ClientOptions struct {
	Commitment        string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// Client is a rate-limited JSON-RPC 2.0 client for a Solana node.
type Client struct {
	rpc        *gethrpc.Client
	limiter    *rate.Limiter
	commitment string
}

// Dial connects to the HTTP JSON-RPC endpoint.
func Dial(ctx context.Context, endpoint string, opts ClientOptions) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rc, err := gethrpc.DialOptions(ctx, endpoint,
		gethrpc.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("solana/rpc: dial: %w", err)
	}
	return newClient(rc, opts), nil
}

func newClient(rc *gethrpc.Client, opts ClientOptions) *Client {
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	commitment := opts.Commitment
	if commitment == "" {
		commitment = "confirmed"
	}
	return &Client{
		rpc:        rc,
		limiter:    rate.NewLimiter(limit, burst),
		commitment: commitment,
	}
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// Commitment returns the default commitment level.
func (c *Client) Commitment() string {
	return c.commitment
}

func (c *Client) call(ctx context.Context, result any, method string, params ...any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("solana/rpc: %s: rate limiter: %w", method, err)
	}
	err := c.rpc.CallContext(ctx, result, method, params...)
	metrics.RecordRPCCall(method, err)
	if err != nil {
		var httpErr gethrpc.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("solana/rpc: %s: %w", method, domain.ErrRateLimited)
		}
		return fmt.Errorf("solana/rpc: %s: %w", method, err)
	}
	return nil
}

// IsNodeRejection reports whether err is the node refusing a request: a
// JSON-RPC error response or an HTTP 4xx other than 429. Transport failures
// and 5xx responses are not rejections.
func IsNodeRejection(err error) bool {
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return true
	}
	var httpErr gethrpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 &&
			httpErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}

// AccountInfo is the decoded content of an account.
type AccountInfo struct {
	Lamports   uint64
	Owner      PublicKey
	Data       []byte
	Executable bool
}

// KeyedAccount pairs an account with its address.
type KeyedAccount struct {
	PublicKey PublicKey
	Account   AccountInfo
}

type rpcAccount struct {
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Data       []string `json:"data"`
	Executable bool     `json:"executable"`
}

func (a rpcAccount) decode() (AccountInfo, error) {
	owner, err := PublicKeyFromBase58(a.Owner)
	if err != nil {
		return AccountInfo{}, err
	}
	if len(a.Data) == 0 {
		return AccountInfo{}, fmt.Errorf("account data missing")
	}
	data, err := base64.StdEncoding.DecodeString(a.Data[0])
	if err != nil {
		return AccountInfo{}, fmt.Errorf("decode account data: %w", err)
	}
	return AccountInfo{
		Lamports:   a.Lamports,
		Owner:      owner,
		Data:       data,
		Executable: a.Executable,
	}, nil
}

type contextSlot struct {
	Slot uint64 `json:"slot"`
}

// Ping reports an error unless the node answers getHealth with "ok".
func (c *Client) Ping(ctx context.Context) error {
	var health string
	if err := c.call(ctx, &health, "getHealth"); err != nil {
		return err
	}
	if health != "ok" {
		return fmt.Errorf("solana/rpc: getHealth: node reports %q", health)
	}
	return nil
}

// GetSlot returns the node's current slot.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	err := c.call(ctx, &slot, "getSlot", map[string]any{"commitment": c.commitment})
	return slot, err
}

// GetAccountInfo returns nil without error when the account does not exist.
func (c *Client) GetAccountInfo(ctx context.Context, pk PublicKey) (*AccountInfo, error) {
	var resp struct {
		Context contextSlot `json:"context"`
		Value   *rpcAccount `json:"value"`
	}
	err := c.call(ctx, &resp, "getAccountInfo", pk.String(), map[string]any{
		"encoding":   "base64",
		"commitment": c.commitment,
	})
	if err != nil {
		return nil, err
	}
	if resp.Value == nil {
		return nil, nil
	}
	info, err := resp.Value.decode()
	if err != nil {
		return nil, fmt.Errorf("solana/rpc: getAccountInfo %s: %w", pk, err)
	}
	return &info, nil
}

// GetMultipleAccounts fetches accounts in node-sized batches. Missing
// accounts are nil in the result. The returned slot is the lowest context
// slot seen across batches.
func (c *Client) GetMultipleAccounts(ctx context.Context, pks []PublicKey) ([]*AccountInfo, uint64, error) {
	out := make([]*AccountInfo, 0, len(pks))
	var minSlot uint64
	for start := 0; start < len(pks); start += maxMultipleAccounts {
		end := min(start+maxMultipleAccounts, len(pks))
		keys := make([]string, 0, end-start)
		for _, pk := range pks[start:end] {
			keys = append(keys, pk.String())
		}
		var resp struct {
			Context contextSlot   `json:"context"`
			Value   []*rpcAccount `json:"value"`
		}
		err := c.call(ctx, &resp, "getMultipleAccounts", keys, map[string]any{
			"encoding":   "base64",
			"commitment": c.commitment,
		})
		if err != nil {
			return nil, 0, err
		}
		if minSlot == 0 || resp.Context.Slot < minSlot {
			minSlot = resp.Context.Slot
		}
		for i, v := range resp.Value {
			if v == nil {
				out = append(out, nil)
				continue
			}
			info, err := v.decode()
			if err != nil {
				return nil, 0, fmt.Errorf("solana/rpc: getMultipleAccounts %s: %w", keys[i], err)
			}
			out = append(out, &info)
		}
	}
	return out, minSlot, nil
}

// Memcmp matches Bytes (base58) at Offset in account data.
type Memcmp struct {
	Offset uint64 `json:"offset"`
	Bytes  string `json:"bytes"`
}

// Filter narrows getProgramAccounts results.
type Filter struct {
	Memcmp   *Memcmp `json:"memcmp,omitempty"`
	DataSize uint64  `json:"dataSize,omitempty"`
}

// GetProgramAccounts lists every account owned by program matching filters.
func (c *Client) GetProgramAccounts(ctx context.Context, program PublicKey, filters ...Filter) ([]KeyedAccount, error) {
	var resp []struct {
		Pubkey  string     `json:"pubkey"`
		Account rpcAccount `json:"account"`
	}
	err := c.call(ctx, &resp, "getProgramAccounts", program.String(), map[string]any{
		"encoding":   "base64",
		"commitment": c.commitment,
		"filters":    filters,
	})
	if err != nil {
		return nil, err
	}
	out := make([]KeyedAccount, 0, len(resp))
	for _, r := range resp {
		pk, err := PublicKeyFromBase58(r.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("solana/rpc: getProgramAccounts: %w", err)
		}
		info, err := r.Account.decode()
		if err != nil {
			return nil, fmt.Errorf("solana/rpc: getProgramAccounts %s: %w", r.Pubkey, err)
		}
		out = append(out, KeyedAccount{PublicKey: pk, Account: info})
	}
	return out, nil
}

// GetLatestBlockhash returns a blockhash and the last block height at which
// transactions using it are valid.
func (c *Client) GetLatestBlockhash(ctx context.Context) (Hash, uint64, error) {
	var resp struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := c.call(ctx, &resp, "getLatestBlockhash", map[string]any{"commitment": c.commitment}); err != nil {
		return Hash{}, 0, err
	}
	h, err := HashFromBase58(resp.Value.Blockhash)
	if err != nil {
		return Hash{}, 0, fmt.Errorf("solana/rpc: getLatestBlockhash: %w", err)
	}
	return h, resp.Value.LastValidBlockHeight, nil
}

// SimulationResult is the outcome of a dry run.
type SimulationResult struct {
	Err           json.RawMessage `json:"err"`
	Logs          []string        `json:"logs"`
	UnitsConsumed uint64          `json:"unitsConsumed"`
}

// Failed reports whether the dry run returned a program error.
func (r SimulationResult) Failed() bool {
	return isRPCErrorSet(r.Err)
}

// SimulateTransaction dry-runs a signed transaction without verifying
// signatures.
func (c *Client) SimulateTransaction(ctx context.Context, wire []byte) (SimulationResult, error) {
	var resp struct {
		Value SimulationResult `json:"value"`
	}
	err := c.call(ctx, &resp, "simulateTransaction", base64.StdEncoding.EncodeToString(wire), map[string]any{
		"encoding":   "base64",
		"sigVerify":  false,
		"commitment": c.commitment,
	})
	return resp.Value, err
}

// SendOptions tunes sendTransaction.
type SendOptions struct {
	SkipPreflight bool
	MaxRetries    *uint
}

// SendTransaction submits a signed transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, wire []byte, opts SendOptions) (Signature, error) {
	cfg := map[string]any{
		"encoding":            "base64",
		"skipPreflight":       opts.SkipPreflight,
		"preflightCommitment": c.commitment,
	}
	if opts.MaxRetries != nil {
		cfg["maxRetries"] = *opts.MaxRetries
	}
	var sig string
	if err := c.call(ctx, &sig, "sendTransaction", base64.StdEncoding.EncodeToString(wire), cfg); err != nil {
		return Signature{}, err
	}
	return SignatureFromBase58(sig)
}

// SignatureStatus is the node's view of a submitted transaction.
type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

// Failed reports whether the transaction landed with an error.
func (s SignatureStatus) Failed() bool {
	return isRPCErrorSet(s.Err)
}

// GetSignatureStatuses returns one entry per signature; unknown signatures
// are nil.
func (c *Client) GetSignatureStatuses(ctx context.Context, sigs ...Signature) ([]*SignatureStatus, error) {
	keys := make([]string, len(sigs))
	for i, s := range sigs {
		keys[i] = s.String()
	}
	var resp struct {
		Value []*SignatureStatus `json:"value"`
	}
	if err := c.call(ctx, &resp, "getSignatureStatuses", keys); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// UITokenAmount is a token balance as reported in transaction metadata.
type UITokenAmount struct {
	Amount         string `json:"amount"`
	Decimals       int32  `json:"decimals"`
	UIAmountString string `json:"uiAmountString"`
}

// TokenBalance is a pre or post token balance entry.
type TokenBalance struct {
	AccountIndex  int           `json:"accountIndex"`
	Mint          string        `json:"mint"`
	Owner         string        `json:"owner"`
	UITokenAmount UITokenAmount `json:"uiTokenAmount"`
}

// TransactionMeta is execution metadata for a landed transaction.
type TransactionMeta struct {
	Err               json.RawMessage `json:"err"`
	Fee               uint64          `json:"fee"`
	LogMessages       []string        `json:"logMessages"`
	PreTokenBalances  []TokenBalance  `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance  `json:"postTokenBalances"`
}

// Failed reports whether the transaction failed on chain.
func (m TransactionMeta) Failed() bool {
	return isRPCErrorSet(m.Err)
}

// TransactionDetail is a landed transaction.
type TransactionDetail struct {
	Slot        uint64           `json:"slot"`
	BlockTime   *int64           `json:"blockTime"`
	Meta        *TransactionMeta `json:"meta"`
	Transaction struct {
		Signatures []string `json:"signatures"`
		Message    struct {
			AccountKeys []string `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

// GetTransaction returns nil without error when the node does not know the
// signature yet.
func (c *Client) GetTransaction(ctx context.Context, sig Signature) (*TransactionDetail, error) {
	var resp *TransactionDetail
	commitment := c.commitment
	if commitment == "processed" {
		commitment = "confirmed"
	}
	err := c.call(ctx, &resp, "getTransaction", sig.String(), map[string]any{
		"encoding":                       "json",
		"commitment":                     commitment,
		"maxSupportedTransactionVersion": 0,
	})
	return resp, err
}

// PrioritizationFee is the minimum fee paid in one recent slot.
type PrioritizationFee struct {
	Slot              uint64 `json:"slot"`
	PrioritizationFee uint64 `json:"prioritizationFee"`
}

// GetRecentPrioritizationFees returns recent per-slot priority fees in
// micro-lamports for transactions locking accounts.
func (c *Client) GetRecentPrioritizationFees(ctx context.Context, accounts []PublicKey) ([]PrioritizationFee, error) {
	keys := make([]string, len(accounts))
	for i, a := range accounts {
		keys[i] = a.String()
	}
	var resp []PrioritizationFee
	err := c.call(ctx, &resp, "getRecentPrioritizationFees", keys)
	return resp, err
}

func isRPCErrorSet(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
