package tg

import (
	"fmt"
	"strings"
	"time"

	"github.com/pvzzle/walletfeed/internal/bus"
	"github.com/pvzzle/walletfeed/internal/domain"
	"github.com/pvzzle/walletfeed/internal/session"
)

const pendingPreview = 10

func FormatStatus(st session.Stats, uptime time.Duration) string {
	return fmt.Sprintf(
		"📊 walletfeed status\n\nLive users: %d\nSessions: %d\nUptime: %s",
		st.Users, st.Sessions, uptime.Round(time.Second),
	)
}

func FormatAlert(a bus.Alert) string {
	icon := "⚠️"
	if a.Severity == bus.SeverityCritical {
		icon = "🚨"
	}
	return fmt.Sprintf("%s [%s] %s\n%s", icon, a.Component, a.At.UTC().Format(time.RFC3339), a.Text)
}

func FormatPending(userID string, items []domain.Notification) string {
	if len(items) == 0 {
		return fmt.Sprintf("Очередь %s пуста.", userID)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🕘 В очереди у %s: %d\n\n", userID, len(items)))

	for i, n := range items {
		if i == pendingPreview {
			sb.WriteString(fmt.Sprintf("… и ещё %d\n", len(items)-pendingPreview))
			break
		}
		sb.WriteString(fmt.Sprintf(
			"• %s %s\n  %s\n",
			shortenHash(n.Hash), n.Network, summarize(n),
		))
	}
	return sb.String()
}

func FormatSubscription(sub domain.Subscription) string {
	state := "active"
	if !sub.Active {
		state = "paused"
	}
	var addrs []string
	if sub.TrackedAddresses != nil {
		addrs = sub.TrackedAddresses.ToSlice()
	}
	return fmt.Sprintf(
		"📌 %s (%s)\nUser: %s\nNetwork: %s\nAddresses: %d",
		sub.ID, state, sub.UserID, sub.Network, len(addrs),
	)
}

func summarize(n domain.Notification) string {
	var parts []string
	add := func(label string, acts []domain.Activity) {
		for _, a := range acts {
			asset := a.Asset
			if asset == "" {
				asset = a.CoinID
			}
			parts = append(parts, fmt.Sprintf("%s %s %s", label, a.Value, asset))
		}
	}
	add("⇄", n.Transferred)
	add("↑", n.Sent)
	add("↓", n.Received)
	return strings.Join(parts, ", ")
}

func shortenHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:10] + "…" + h[len(h)-4:]
}
