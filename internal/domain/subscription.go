package domain

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// NormalizeAddress lower-cases and trims an address so that comparisons are
// case-insensitive.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

type AddressSet = mapset.Set[string]

// NewAddressSet builds a normalized address set.
func NewAddressSet(addrs ...string) AddressSet {
	s := mapset.NewThreadUnsafeSetWithSize[string](len(addrs))
	for _, a := range addrs {
		if a = NormalizeAddress(a); a != "" {
			s.Add(a)
		}
	}
	return s
}

// Subscription is a provider webhook registration owned by one user.
type Subscription struct {
	ID               string
	UserID           string
	Network          string
	TrackedAddresses AddressSet
	Active           bool
}

// Tracks reports whether addr belongs to the tracked set.
func (s Subscription) Tracks(addr string) bool {
	if s.TrackedAddresses == nil {
		return false
	}
	return s.TrackedAddresses.Contains(NormalizeAddress(addr))
}

// Clone returns a deep copy that shares no mutable state with s.
func (s Subscription) Clone() Subscription {
	out := s
	if s.TrackedAddresses != nil {
		out.TrackedAddresses = NewAddressSet(s.TrackedAddresses.ToSlice()...)
	}
	return out
}
