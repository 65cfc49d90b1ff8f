package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Trading balance symbols. Live trades settle in USD, demo trades in
// DEMO_USD so they never touch live funds.
const (
	SymbolUSD     = "USD"
	SymbolDemoUSD = "DEMO_USD"
)

const (
	FiatScale   int32 = 2
	CryptoScale int32 = 8
)

var fiatSymbols = map[string]struct{}{
	SymbolUSD:     {},
	SymbolDemoUSD: {},
	"EUR":         {},
	"GBP":         {},
}

type Account struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type Balance struct {
	AccountID string          `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NormalizeSymbol upper-cases and trims an asset symbol.
func NormalizeSymbol(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// Scale is the number of decimal places balances of symbol are kept at.
func Scale(symbol string) int32 {
	if _, ok := fiatSymbols[NormalizeSymbol(symbol)]; ok {
		return FiatScale
	}
	return CryptoScale
}

// Quantize rounds amount to the fixed precision of symbol.
func Quantize(symbol string, amount decimal.Decimal) decimal.Decimal {
	return amount.Round(Scale(symbol))
}

// TradingSymbol returns the balance symbol used for the given trading mode.
func TradingSymbol(mode TradingMode) string {
	if mode == TradingDemo {
		return SymbolDemoUSD
	}
	return SymbolUSD
}
