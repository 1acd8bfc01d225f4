package coins

import "strings"

// NativeCoin describes the gas asset of a network.
type NativeCoin struct {
	ID       string
	Symbol   string
	Decimals int
}

var nativeCoins = map[string]NativeCoin{
	"ETH_MAINNET":   {ID: "ethereum", Symbol: "ETH", Decimals: 18},
	"ETH_SEPOLIA":   {ID: "ethereum", Symbol: "ETH", Decimals: 18},
	"ETH_HOLESKY":   {ID: "ethereum", Symbol: "ETH", Decimals: 18},
	"ARB_MAINNET":   {ID: "ethereum", Symbol: "ETH", Decimals: 18},
	"OPT_MAINNET":   {ID: "ethereum", Symbol: "ETH", Decimals: 18},
	"BASE_MAINNET":  {ID: "ethereum", Symbol: "ETH", Decimals: 18},
	"MATIC_MAINNET": {ID: "matic-network", Symbol: "MATIC", Decimals: 18},
	"BNB_MAINNET":   {ID: "binancecoin", Symbol: "BNB", Decimals: 18},
	"AVAX_MAINNET":  {ID: "avalanche-2", Symbol: "AVAX", Decimals: 18},
}

// Native returns the native coin of network. Lookup is case-insensitive.
func Native(network string) (NativeCoin, bool) {
	c, ok := nativeCoins[strings.ToUpper(strings.TrimSpace(network))]
	return c, ok
}
