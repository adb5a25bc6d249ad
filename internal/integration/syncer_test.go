package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momo-shadow/shadow-engine/internal/models"
	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

type staticSource struct {
	snap *models.Snapshot
}

func (s *staticSource) Snapshot() *models.Snapshot { return s.snap }

func TestSyncer_Sync(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Now().UTC()

	bssid := apMAC
	src := &staticSource{snap: &models.Snapshot{
		AccessPoints: []models.AccessPoint{
			{BSSID: apMAC, SSID: "Corp", Channel: 6, Security: dot11.SecurityWPA2, FirstSeen: now, LastSeen: now},
		},
		Clients: []models.Client{
			{MAC: clientMAC, AssociatedBSSID: &bssid, FirstSeen: now, LastSeen: now},
		},
	}}
	s := NewSyncer(store, src, time.Hour)

	n, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ap, err := store.GetAccessPoint(ctx, apMAC)
	require.NoError(t, err)
	assert.Equal(t, "Corp", ap.SSID)
	assert.Equal(t, []dot11.MAC{clientMAC}, ap.Clients)

	// nothing newer, nothing written
	n, err = s.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	src.snap.AccessPoints[0].LastSeen = now.Add(time.Second)
	src.snap.AccessPoints[0].Channel = 11
	n, err = s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ap, err = store.GetAccessPoint(ctx, apMAC)
	require.NoError(t, err)
	assert.Equal(t, 11, ap.Channel)
}

func TestSyncer_NilSnapshot(t *testing.T) {
	s := NewSyncer(newStore(t), &staticSource{}, time.Hour)
	n, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSyncer_RunFlushesOnShutdown(t *testing.T) {
	store := newStore(t)
	now := time.Now().UTC()
	src := &staticSource{snap: &models.Snapshot{
		AccessPoints: []models.AccessPoint{{BSSID: apMAC, FirstSeen: now, LastSeen: now}},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewSyncer(store, src, time.Hour).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = store.GetAccessPoint(context.Background(), apMAC)
	assert.NoError(t, err)
}
