package domain

import (
	"time"

	"github.com/google/uuid"
)

// notificationNamespace seeds the name-based notification ids.
var notificationNamespace = uuid.MustParse("8d3c6f1e-2b4a-5c7d-9e0f-a1b2c3d4e5f6")

// NotificationID derives a stable id from the transaction hash and the
// subscription, so provider retries yield duplicate-filterable notifications.
func NotificationID(hash, subscriptionID string) string {
	return uuid.NewSHA1(notificationNamespace, []byte(NormalizeAddress(hash)+":"+subscriptionID)).String()
}

// Activity is one classified asset movement.
type Activity struct {
	Category Category `json:"category" msgpack:"category"`
	From     string   `json:"from" msgpack:"from"`
	To       string   `json:"to" msgpack:"to"`
	Value    string   `json:"value" msgpack:"value"`
	Asset    string   `json:"asset,omitempty" msgpack:"asset,omitempty"`
	CoinID   string   `json:"coinId,omitempty" msgpack:"coinId,omitempty"`
	Contract string   `json:"contract,omitempty" msgpack:"contract,omitempty"`
	TokenID  string   `json:"tokenId,omitempty" msgpack:"tokenId,omitempty"`
}

// Notification is the classified, user-facing view of one transaction.
type Notification struct {
	ID             string     `json:"id" msgpack:"id"`
	UserID         string     `json:"userId" msgpack:"userId"`
	SubscriptionID string     `json:"subscriptionId" msgpack:"subscriptionId"`
	Network        string     `json:"network" msgpack:"network"`
	Hash           string     `json:"transactionHash" msgpack:"transactionHash"`
	CreatedAt      time.Time  `json:"createdAt" msgpack:"createdAt"`
	Transferred    []Activity `json:"transferred" msgpack:"transferred"`
	Sent           []Activity `json:"sent" msgpack:"sent"`
	Received       []Activity `json:"received" msgpack:"received"`
}

// Empty reports whether no bucket holds any activity.
func (n Notification) Empty() bool {
	return len(n.Transferred) == 0 && len(n.Sent) == 0 && len(n.Received) == 0
}
