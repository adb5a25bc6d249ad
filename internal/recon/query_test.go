package recon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momo-shadow/shadow-engine/internal/models"
	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

func listing() []models.AccessPoint {
	now := time.Now()
	return []models.AccessPoint{
		{BSSID: dot11.MustParseMAC("00:00:00:00:00:01"), SSID: "bravo", Signal: -70, Security: dot11.SecurityWPA2, LastSeen: now},
		{BSSID: dot11.MustParseMAC("00:00:00:00:00:02"), SSID: "Alpha", Signal: -40, Security: dot11.SecurityOpen, LastSeen: now.Add(-time.Minute),
			Clients: []dot11.MAC{clientMAC, clientMAC2}},
		{BSSID: dot11.MustParseMAC("00:00:00:00:00:03"), SSID: "charlie-corp", Signal: -55, Security: dot11.SecurityWPA3, LastSeen: now.Add(time.Minute),
			Clients: []dot11.MAC{clientMAC}},
	}
}

func ssids(aps []models.AccessPoint) []string {
	out := make([]string, len(aps))
	for i, ap := range aps {
		out[i] = ap.SSID
	}
	return out
}

func TestAPQuery_Sorting(t *testing.T) {
	tests := map[SortKey][]string{
		SortBySignal:   {"Alpha", "charlie-corp", "bravo"},
		SortBySSID:     {"Alpha", "bravo", "charlie-corp"},
		SortByClients:  {"Alpha", "charlie-corp", "bravo"},
		SortByLastSeen: {"charlie-corp", "bravo", "Alpha"},
	}

	for key, want := range tests {
		t.Run(string(key), func(t *testing.T) {
			assert.Equal(t, want, ssids(APQuery{SortBy: key}.Apply(listing())))
		})
	}
}

func TestAPQuery_Filters(t *testing.T) {
	minSignal := -60
	got := APQuery{MinSignal: &minSignal}.Apply(listing())
	assert.Equal(t, []string{"Alpha", "charlie-corp"}, ssids(got))

	got = APQuery{SSID: "CORP"}.Apply(listing())
	assert.Equal(t, []string{"charlie-corp"}, ssids(got))

	got = APQuery{Security: dot11.SecurityWPA2}.Apply(listing())
	assert.Equal(t, []string{"bravo"}, ssids(got))

	got = APQuery{Limit: 1}.Apply(listing())
	assert.Equal(t, []string{"Alpha"}, ssids(got))
}

func TestParseSortKey(t *testing.T) {
	k, ok := ParseSortKey("")
	require.True(t, ok)
	assert.Equal(t, SortBySignal, k)

	k, ok = ParseSortKey("clients")
	require.True(t, ok)
	assert.Equal(t, SortByClients, k)

	_, ok = ParseSortKey("vendor")
	assert.False(t, ok)
}

type denyPolicy struct {
	denied dot11.MAC
}

func (p denyPolicy) ShouldTarget(_ string, bssid dot11.MAC) bool { return bssid != p.denied }
func (p denyPolicy) Ignored(_ string, bssid dot11.MAC) bool      { return bssid == p.denied }

func TestBestTarget(t *testing.T) {
	aps := listing()
	snap := &models.Snapshot{AccessPoints: aps}

	best, ok := BestTarget(snap, nil)
	require.True(t, ok)
	assert.Equal(t, "charlie-corp", best.SSID, "open networks are skipped")

	best, ok = BestTarget(snap, denyPolicy{denied: aps[2].BSSID})
	require.True(t, ok)
	assert.Equal(t, "bravo", best.SSID)

	snap.Captures = []models.HandshakeSession{{BSSID: aps[0].BSSID}, {BSSID: aps[2].BSSID}}
	_, ok = BestTarget(snap, nil)
	assert.False(t, ok)
}
