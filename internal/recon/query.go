package recon

import (
	"bytes"
	"sort"
	"strings"

	"github.com/momo-shadow/shadow-engine/internal/models"
	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

// SortKey orders access point listings
type SortKey string

const (
	SortBySignal   SortKey = "signal"
	SortBySSID     SortKey = "ssid"
	SortByClients  SortKey = "clients"
	SortByLastSeen SortKey = "last_seen"
)

// ParseSortKey accepts the listing sort names; empty means signal
func ParseSortKey(s string) (SortKey, bool) {
	switch k := SortKey(s); k {
	case SortBySignal, SortBySSID, SortByClients, SortByLastSeen:
		return k, true
	case "":
		return SortBySignal, true
	}
	return "", false
}

// APQuery filters and sorts access point listings
type APQuery struct {
	SortBy    SortKey
	SSID      string // case-insensitive substring
	Security  dot11.Security
	MinSignal *int
	Limit     int
}

// Apply filters aps in place and returns them sorted
func (q APQuery) Apply(aps []models.AccessPoint) []models.AccessPoint {
	needle := strings.ToLower(q.SSID)
	out := aps[:0]
	for _, ap := range aps {
		if needle != "" && !strings.Contains(strings.ToLower(ap.SSID), needle) {
			continue
		}
		if q.Security != "" && ap.Security != q.Security {
			continue
		}
		if q.MinSignal != nil && ap.Signal < *q.MinSignal {
			continue
		}
		out = append(out, ap)
	}

	SortAccessPoints(out, q.SortBy)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// SortAccessPoints sorts by key; ties fall back to BSSID so listings are stable
func SortAccessPoints(aps []models.AccessPoint, key SortKey) {
	sort.SliceStable(aps, func(i, j int) bool {
		a, b := aps[i], aps[j]
		switch key {
		case SortBySSID:
			if a.SSID != b.SSID {
				return strings.ToLower(a.SSID) < strings.ToLower(b.SSID)
			}
		case SortByClients:
			if len(a.Clients) != len(b.Clients) {
				return len(a.Clients) > len(b.Clients)
			}
		case SortByLastSeen:
			if !a.LastSeen.Equal(b.LastSeen) {
				return a.LastSeen.After(b.LastSeen)
			}
		default:
			if a.Signal != b.Signal {
				return a.Signal > b.Signal
			}
		}
		return bytes.Compare(a.BSSID[:], b.BSSID[:]) < 0
	})
}

// SortClients orders clients strongest first
func SortClients(clients []models.Client) {
	sort.SliceStable(clients, func(i, j int) bool {
		if clients[i].Signal != clients[j].Signal {
			return clients[i].Signal > clients[j].Signal
		}
		return bytes.Compare(clients[i].MAC[:], clients[j].MAC[:]) < 0
	})
}

// TargetPolicy decides which networks may be attacked
type TargetPolicy interface {
	ShouldTarget(ssid string, bssid dot11.MAC) bool
	Ignored(ssid string, bssid dot11.MAC) bool
}

// BestTarget picks the strongest protected network that policy allows and that has not been captured yet
func BestTarget(snap *models.Snapshot, policy TargetPolicy) (models.AccessPoint, bool) {
	var (
		best  models.AccessPoint
		found bool
	)
	for _, ap := range snap.AccessPoints {
		if ap.Hidden || ap.Security == dot11.SecurityOpen || ap.Security == "" {
			continue
		}
		if policy != nil && !policy.ShouldTarget(ap.SSID, ap.BSSID) {
			continue
		}
		if snap.Captured(ap.BSSID) {
			continue
		}
		if !found || ap.Signal > best.Signal {
			best, found = ap, true
		}
	}
	return best, found
}
