package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/curvewatch/curvewatch/internal/dashboard"
	"github.com/curvewatch/curvewatch/internal/feed"
)

// CSV snapshot export of the visible dashboard state.

var tokenHeader = []string{
	"mint", "name", "symbol", "price", "createdAt", "creator",
	"marketCapSol", "initialBuy", "initialBuySol", "initialBuyPercent",
	"totalSupply", "volumeSol", "holders", "liquiditySol",
}

var tradeHeader = []string{
	"mint", "traderPublicKey", "txType", "tokenAmount",
	"vSolInBondingCurve", "vTokensInBondingCurve", "timestamp", "marketCapSol",
}

// WriteTokens writes the token table as CSV, one row per visible token.
func WriteTokens(w io.Writer, tokens []dashboard.Token) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tokenHeader); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for _, tok := range tokens {
		row := []string{
			tok.Mint,
			tok.Name,
			tok.Symbol,
			formatSol(tok.Price),
			tok.CreatedAt.UTC().Format(time.RFC3339),
			tok.Creator,
			formatSol(tok.MarketCapSol),
			formatSol(tok.InitialBuy),
			formatSol(tok.InitialBuySol),
			formatSol(tok.InitialBuyPercent),
			formatSol(tok.TotalSupply),
			formatSol(tok.VolumeSol),
			strconv.Itoa(tok.Holders),
			formatSol(tok.LiquiditySol),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export: write token row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTrades writes trade history as CSV in feed wire terms.
func WriteTrades(w io.Writer, trades []feed.TradeEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for _, t := range trades {
		row := []string{
			t.Mint,
			t.TraderPublicKey,
			string(t.TxType),
			formatSol(t.TokenAmount),
			formatSol(t.VSolInBondingCurve),
			formatSol(t.VTokensInBondingCurve),
			strconv.FormatInt(t.Timestamp, 10),
			formatSol(t.MarketCapSol),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export: write trade row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// formatSol renders a SOL amount in plain decimal notation. strconv would
// fall into scientific notation for the tiny bonding-curve prices.
func formatSol(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	return decimal.NewFromFloat(v).String()
}
