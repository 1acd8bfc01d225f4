package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/pvzzle/walletfeed/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

var ErrMalformed = errors.New("malformed webhook payload")

// Payload is the address-activity webhook body sent by the data provider.
type Payload struct {
	WebhookID string `json:"webhookId"`
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
	Type      string `json:"type"`
	Event     *Event `json:"event"`
}

type Event struct {
	Network  string     `json:"network"`
	Activity []Activity `json:"activity"`
}

type Activity struct {
	FromAddress     string            `json:"fromAddress"`
	ToAddress       string            `json:"toAddress"`
	BlockNum        string            `json:"blockNum"`
	Hash            string            `json:"hash"`
	Value           json.Number       `json:"value"`
	Asset           string            `json:"asset"`
	Category        string            `json:"category"`
	RawContract     RawContract       `json:"rawContract"`
	ERC721TokenID   string            `json:"erc721TokenId"`
	ERC1155Metadata []ERC1155Metadata `json:"erc1155Metadata"`
}

type RawContract struct {
	RawValue string          `json:"rawValue"`
	Address  string          `json:"address"`
	Decimals json.RawMessage `json:"decimals"`
}

type ERC1155Metadata struct {
	TokenID string `json:"tokenId"`
	Value   string `json:"value"`
}

// Skipped describes an activity left out of the delivery.
type Skipped struct {
	Index  int
	Hash   string
	Reason string
}

// Parse decodes body into a RawDelivery. Individual activities that cannot be
// mapped are reported in the second return value; the delivery itself is
// only rejected when the envelope is unusable.
func Parse(body []byte, receivedAt time.Time) (domain.RawDelivery, []Skipped, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.RawDelivery{}, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.WebhookID == "" {
		return domain.RawDelivery{}, nil, fmt.Errorf("%w: missing webhookId", ErrMalformed)
	}
	if p.Event == nil {
		return domain.RawDelivery{}, nil, fmt.Errorf("%w: missing event", ErrMalformed)
	}

	createdAt := receivedAt.UTC()
	if p.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, p.CreatedAt); err == nil {
			createdAt = ts.UTC()
		}
	}

	d := domain.RawDelivery{
		SubscriptionID: p.WebhookID,
		Network:        strings.ToUpper(strings.TrimSpace(p.Event.Network)),
		DeliveryID:     p.ID,
		CreatedAt:      createdAt,
		Entries:        make([]domain.ActivityEntry, 0, len(p.Event.Activity)),
	}

	var skipped []Skipped
	for i, a := range p.Event.Activity {
		e, err := toEntry(a)
		if err != nil {
			skipped = append(skipped, Skipped{Index: i, Hash: a.Hash, Reason: err.Error()})
			continue
		}
		d.Entries = append(d.Entries, e)
	}
	return d, skipped, nil
}

func toEntry(a Activity) (domain.ActivityEntry, error) {
	cat, ok := domain.ParseCategory(a.Category)
	if !ok {
		return domain.ActivityEntry{}, fmt.Errorf("unsupported category %q", a.Category)
	}
	for _, addr := range []string{a.FromAddress, a.ToAddress} {
		if addr != "" && !common.IsHexAddress(addr) {
			return domain.ActivityEntry{}, fmt.Errorf("invalid address %q", addr)
		}
	}

	e := domain.ActivityEntry{
		Category: cat,
		Hash:     a.Hash,
		From:     a.FromAddress,
		To:       a.ToAddress,
		Asset:    a.Asset,
		TokenID:  a.ERC721TokenID,
	}
	if cat == domain.CategoryToken || cat == domain.CategoryMultiToken {
		e.Contract = a.RawContract.Address
	}

	if cat == domain.CategoryMultiToken && len(a.ERC1155Metadata) > 0 {
		e.MultiToken = make([]domain.TokenAmount, 0, len(a.ERC1155Metadata))
		for _, m := range a.ERC1155Metadata {
			e.MultiToken = append(e.MultiToken, domain.TokenAmount{TokenID: m.TokenID, Value: m.Value})
		}
		return e, nil
	}

	e.Value = deriveValue(a, cat)
	return e, nil
}

// deriveValue prefers the provider's decimal value and falls back to the raw
// on-chain integer scaled by the contract decimals.
func deriveValue(a Activity, cat domain.Category) string {
	if v := a.Value.String(); v != "" {
		return v
	}

	raw, ok := parseBigInt(a.RawContract.RawValue)
	if ok {
		if dec, ok := parseDecimals(a.RawContract.Decimals); ok {
			return domain.FormatUnits(raw, dec)
		}
		if cat == domain.CategoryNative || cat == domain.CategoryInternal {
			return domain.FormatUnits(raw, 18)
		}
	}

	// a single NFT moves exactly one unit
	if a.ERC721TokenID != "" {
		return "1"
	}
	if ok {
		return raw.String()
	}
	return ""
}

func parseBigInt(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if len(s) == 2 {
			return new(big.Int), true
		}
		return new(big.Int).SetString(s[2:], 16)
	}
	return new(big.Int).SetString(s, 10)
}

// parseDecimals accepts a JSON number or a decimal/hex string.
func parseDecimals(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}

	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, n >= 0
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, err := strconv.ParseInt(s, base, 32)
	if err != nil || v < 0 {
		return 0, false
	}
	return int(v), true
}
