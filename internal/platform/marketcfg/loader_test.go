package marketcfg

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
)

const configBody = `[
  {
    "name": "main",
    "address": "4UpD2fh7xH3VP9QQaXtsS1YY3bxzWhtfpks7FatyKvdY",
    "authorityAddress": "DdZR6zRFiUt4S5mg7AV1uKB2z1f1WzcNYCaTEEWPAuby",
    "isPrimary": true,
    "reserves": [
      {
        "liquidityToken": {"symbol": "SOL", "name": "Wrapped SOL", "mint": "So11111111111111111111111111111111111111112", "decimals": 9},
        "pythOracle": "H6ARHf6YXhGYeQfUzQNGk6rDNnLBQKrenN712K4AQJEG",
        "switchboardOracle": "GvDMxPzN1sCj7L26YDK2HnMRXEQmQ2aemov8YBtPS7vR",
        "address": "8PbodeaosQP19SjYFx855UMqWxH2HynZLdBXmsrbac36",
        "collateralMintAddress": "5h6ssFpeDeRbzsEHDbTQNH7nVGgsKrZydxdSTnLm6QdV",
        "collateralSupplyAddress": "B1ATuYXNkacjjJS78MAmqu8Lu8PvEPt51u4oBasH1m1g",
        "liquidityAddress": "8UviNr47S8eL6J3WfDxMRa3hvLta1VDJwNWqsDgtN3Cv",
        "liquidityFeeReceiverAddress": "5wyXqYKbrMVT2F4TBpJd1rYhGiyXKxLp5Prk4rJ7JCrG"
      }
    ]
  },
  {
    "name": "turbo",
    "address": "7RCz8wb6WXxUhAigok9ttgrVgDFFFbibcirECzWSBauM",
    "authorityAddress": "",
    "isPrimary": false,
    "reserves": []
  }
]`

func TestLoadFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, configBody)
	}))
	defer srv.Close()

	markets, err := NewLoader(srv.URL).Load(t.Context(), nil)
	require.NoError(t, err)
	require.Len(t, markets, 2)

	main := markets[0]
	assert.Equal(t, "main", main.Name)
	assert.True(t, main.IsPrimary)
	require.Len(t, main.Reserves, 1)
	sol := main.Reserves[0]
	assert.Equal(t, "SOL", sol.Symbol)
	assert.Equal(t, int32(9), sol.Decimals)
	assert.Equal(t, "H6ARHf6YXhGYeQfUzQNGk6rDNnLBQKrenN712K4AQJEG", sol.PythOracle)
	assert.Equal(t, "5h6ssFpeDeRbzsEHDbTQNH7nVGgsKrZydxdSTnLm6QdV", sol.CollateralMint)
	assert.Equal(t, "5wyXqYKbrMVT2F4TBpJd1rYhGiyXKxLp5Prk4rJ7JCrG", sol.FeeReceiver)
}

func TestLoadFiltersByAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markets.json")
	require.NoError(t, os.WriteFile(path, []byte(configBody), 0o600))

	markets, err := NewLoader(path).Load(t.Context(), []string{"7RCz8wb6WXxUhAigok9ttgrVgDFFFbibcirECzWSBauM"})
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "turbo", markets[0].Name)
}

func TestLoadUnknownMarket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markets.json")
	require.NoError(t, os.WriteFile(path, []byte(configBody), 0o600))

	_, err := NewLoader(path).Load(t.Context(), []string{"11111111111111111111111111111111"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLoadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewLoader(srv.URL).Load(t.Context(), nil)
	assert.ErrorContains(t, err, "HTTP 502")
}
