// Package marketcfg loads lending market and reserve metadata from the
// market configuration service or a local JSON file of the same shape.
package marketcfg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
)

// APIMarket is one market as published by the configuration service.
type APIMarket struct {
	Name             string       `json:"name"`
	Address          string       `json:"address"`
	AuthorityAddress string       `json:"authorityAddress"`
	IsPrimary        bool         `json:"isPrimary"`
	Reserves         []APIReserve `json:"reserves"`
}

// APIReserve is one reserve of an APIMarket.
type APIReserve struct {
	LiquidityToken struct {
		Symbol   string `json:"symbol"`
		Name     string `json:"name"`
		Mint     string `json:"mint"`
		Decimals int32  `json:"decimals"`
	} `json:"liquidityToken"`
	PythOracle                  string `json:"pythOracle"`
	SwitchboardOracle           string `json:"switchboardOracle"`
	Address                     string `json:"address"`
	CollateralMintAddress       string `json:"collateralMintAddress"`
	CollateralSupplyAddress     string `json:"collateralSupplyAddress"`
	LiquidityAddress            string `json:"liquidityAddress"`
	LiquidityFeeReceiverAddress string `json:"liquidityFeeReceiverAddress"`
}

// ToDomainMarket converts the API shape into the domain model.
func (m APIMarket) ToDomainMarket() domain.MarketConfig {
	out := domain.MarketConfig{
		Name:      m.Name,
		Address:   m.Address,
		Authority: m.AuthorityAddress,
		IsPrimary: m.IsPrimary,
		Reserves:  make([]domain.ReserveConfig, 0, len(m.Reserves)),
	}
	for _, r := range m.Reserves {
		out.Reserves = append(out.Reserves, domain.ReserveConfig{
			Address:           r.Address,
			Symbol:            r.LiquidityToken.Symbol,
			Name:              r.LiquidityToken.Name,
			Mint:              r.LiquidityToken.Mint,
			Decimals:          r.LiquidityToken.Decimals,
			CollateralMint:    r.CollateralMintAddress,
			CollateralSupply:  r.CollateralSupplyAddress,
			LiquiditySupply:   r.LiquidityAddress,
			FeeReceiver:       r.LiquidityFeeReceiverAddress,
			PythOracle:        r.PythOracle,
			SwitchboardOracle: r.SwitchboardOracle,
		})
	}
	return out
}

// Loader fetches market configuration.
type Loader struct {
	source     string
	httpClient *http.Client
}

// NewLoader creates a Loader. source is an http(s) URL or a file path.
func NewLoader(source string) *Loader {
	return &Loader{
		source:     source,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Load returns the configured markets. When only is non-empty, markets whose
// address is not listed are dropped and every listed address must be found.
func (l *Loader) Load(ctx context.Context, only []string) ([]domain.MarketConfig, error) {
	body, err := l.read(ctx)
	if err != nil {
		return nil, fmt.Errorf("marketcfg: load %s: %w", l.source, err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, fmt.Errorf("marketcfg: decode markets: %w", err)
	}

	want := make(map[string]bool, len(only))
	for _, a := range only {
		want[a] = false
	}

	markets := make([]domain.MarketConfig, 0, len(apiMarkets))
	for _, m := range apiMarkets {
		if len(want) > 0 {
			if _, ok := want[m.Address]; !ok {
				continue
			}
			want[m.Address] = true
		}
		markets = append(markets, m.ToDomainMarket())
	}
	for addr, found := range want {
		if !found {
			return nil, fmt.Errorf("marketcfg: market %s: %w", addr, domain.ErrNotFound)
		}
	}
	return markets, nil
}

func (l *Loader) read(ctx context.Context) ([]byte, error) {
	if !strings.HasPrefix(l.source, "http://") && !strings.HasPrefix(l.source, "https://") {
		return os.ReadFile(l.source)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.source, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
