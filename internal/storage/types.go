package storage

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// CoinRecord is the locally provisioned market-data stub of a coin.
type CoinRecord struct {
	ID       string
	Network  string
	Contract string // empty for native coins
	Symbol   string
	Name     string
	Decimals *int

	ProvisionedAt time.Time
}
