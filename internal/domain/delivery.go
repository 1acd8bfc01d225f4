package domain

import (
	"strings"
	"time"
)

type Category string

const (
	CategoryNative     Category = "native"
	CategoryToken      Category = "token"
	CategoryMultiToken Category = "multi_token"
	CategoryInternal   Category = "internal"
)

// ParseCategory maps a provider activity category onto a Category.
func ParseCategory(s string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "external", "native":
		return CategoryNative, true
	case "internal":
		return CategoryInternal, true
	case "token", "erc20", "erc721", "specialnft":
		return CategoryToken, true
	case "erc1155", "multi_token":
		return CategoryMultiToken, true
	}
	return "", false
}

// TokenAmount is one (id, value) pair of a multi-token movement.
type TokenAmount struct {
	TokenID string `json:"tokenId" msgpack:"tokenId"`
	Value   string `json:"value" msgpack:"value"`
}

// ActivityEntry is one movement inside a provider delivery.
type ActivityEntry struct {
	Category   Category
	Hash       string
	From       string
	To         string
	Value      string
	Asset      string
	Contract   string // empty for native / internal
	TokenID    string // erc721
	MultiToken []TokenAmount
}

// RawDelivery is one webhook call from the data provider.
type RawDelivery struct {
	SubscriptionID string
	Network        string
	DeliveryID     string
	CreatedAt      time.Time
	Entries        []ActivityEntry
}

// Transaction groups every entry of a flush that shares one hash.
type Transaction struct {
	Hash            string
	Network         string
	SubscriptionIDs []string
	CreatedAt       time.Time
	Entries         []ActivityEntry
}
