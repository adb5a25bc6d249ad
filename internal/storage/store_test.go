package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momo-shadow/shadow-engine/internal/config"
	"github.com/momo-shadow/shadow-engine/internal/models"
	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

var (
	apMAC     = dot11.MustParseMAC("aa:bb:cc:dd:ee:01")
	apMAC2    = dot11.MustParseMAC("aa:bb:cc:dd:ee:02")
	clientMAC = dot11.MustParseMAC("11:22:33:44:55:66")
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), config.DatabaseConfig{Driver: DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{driver: DriverPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", pg.rebind("SELECT a FROM t WHERE b = ? AND c = ?"))

	lite := &SQLStore{driver: DriverSQLite}
	assert.Equal(t, "SELECT ?", lite.rebind("SELECT ?"))
}

func TestNewSQLStore_UnknownDriver(t *testing.T) {
	_, err := NewSQLStore("mysql", "")
	assert.Error(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestAccessPoints(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	ap := &models.AccessPoint{
		BSSID: apMAC, SSID: "Corp", Channel: 6, Signal: -50, Security: dot11.SecurityWPA2,
		Beacons: 3, FirstSeen: now, LastSeen: now,
	}
	require.NoError(t, s.UpsertAccessPoint(ctx, ap))
	require.NoError(t, s.UpsertAccessPoint(ctx, &models.AccessPoint{
		BSSID: apMAC2, Hidden: true, Signal: -80, FirstSeen: now, LastSeen: now,
	}))

	// an empty SSID keeps the stored name
	update := *ap
	update.SSID = ""
	update.Signal = -40
	update.LastSeen = now.Add(time.Minute)
	require.NoError(t, s.UpsertAccessPoint(ctx, &update))

	bssid := apMAC
	require.NoError(t, s.UpsertClient(ctx, &models.Client{
		MAC: clientMAC, AssociatedBSSID: &bssid, FirstSeen: now, LastSeen: now,
	}))

	got, err := s.GetAccessPoint(ctx, apMAC)
	require.NoError(t, err)
	assert.Equal(t, "Corp", got.SSID)
	assert.Equal(t, -40, got.Signal)
	assert.Equal(t, dot11.SecurityWPA2, got.Security)
	assert.True(t, got.LastSeen.Equal(now.Add(time.Minute)))
	assert.True(t, got.FirstSeen.Equal(now))
	assert.Equal(t, []dot11.MAC{clientMAC}, got.Clients)

	aps, total, err := s.ListAccessPoints(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, aps, 2)
	assert.Equal(t, apMAC, aps[0].BSSID)
	assert.True(t, aps[1].Hidden)

	_, err = s.GetAccessPoint(ctx, dot11.MustParseMAC("00:11:22:33:44:55"))
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.UpsertAccessPoint(ctx, &models.AccessPoint{BSSID: dot11.BroadcastMAC}), ErrInvalidData)
}

func TestClients(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	c := &models.Client{MAC: clientMAC, ProbedSSIDs: []string{"Home", "Cafe"}, Signal: -60, Frames: 4, FirstSeen: now, LastSeen: now}
	require.NoError(t, s.UpsertClient(ctx, c))

	got, err := s.GetClient(ctx, clientMAC)
	require.NoError(t, err)
	assert.Nil(t, got.AssociatedBSSID)
	assert.Equal(t, []string{"Home", "Cafe"}, got.ProbedSSIDs)
	assert.Equal(t, 4, got.Frames)

	// association is kept when a later sighting does not carry it
	bssid := apMAC
	c.AssociatedBSSID = &bssid
	require.NoError(t, s.UpsertClient(ctx, c))
	c.AssociatedBSSID = nil
	c.Frames = 9
	require.NoError(t, s.UpsertClient(ctx, c))

	got, err = s.GetClient(ctx, clientMAC)
	require.NoError(t, err)
	require.NotNil(t, got.AssociatedBSSID)
	assert.Equal(t, apMAC, *got.AssociatedBSSID)
	assert.Equal(t, 9, got.Frames)

	list, total, err := s.ListClients(ctx, &bssid, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, list, 1)

	other := apMAC2
	list, total, err = s.ListClients(ctx, &other, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)
}

func TestProbes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	for i, ssid := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateProbe(ctx, &models.ProbeSighting{
			ClientMAC: clientMAC, SSID: ssid, Signal: -70, Timestamp: now.Add(time.Duration(i) * time.Second),
		}))
	}
	assert.ErrorIs(t, s.CreateProbe(ctx, &models.ProbeSighting{ClientMAC: clientMAC}), ErrInvalidData)

	probes, err := s.ListProbes(ctx, nil, 2)
	require.NoError(t, err)
	require.Len(t, probes, 2)
	assert.Equal(t, "c", probes[0].SSID)
	assert.Equal(t, "b", probes[1].SSID)

	mac := clientMAC
	probes, err = s.ListProbes(ctx, &mac, 0)
	require.NoError(t, err)
	assert.Len(t, probes, 3)
}

func TestHandshakes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	h := &models.HandshakeSession{
		BSSID: apMAC, ClientMAC: clientMAC, SSID: "Corp", Messages: []uint8{1, 2, 3},
		Complete: true, CaptureKind: models.CaptureHandshake,
		StartedAt: now, LastActivity: now, CompletedAt: &now,
	}
	require.NoError(t, s.SaveHandshake(ctx, h))

	// the same pair captured again is one row
	again := *h
	again.Messages = []uint8{2, 4}
	again.ID = uuid.Nil
	require.NoError(t, s.SaveHandshake(ctx, &again))

	assert.ErrorIs(t, s.SaveHandshake(ctx, &models.HandshakeSession{BSSID: apMAC}), ErrInvalidData)

	list, total, err := s.ListHandshakes(ctx, nil, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, list, 1)
	assert.Equal(t, h.ID, list[0].ID)
	assert.Equal(t, []uint8{2, 4}, list[0].Messages)
	assert.Equal(t, models.CaptureHandshake, list[0].CaptureKind)
	assert.True(t, list[0].Complete)
	require.NotNil(t, list[0].CompletedAt)

	other := apMAC2
	list, _, err = s.ListHandshakes(ctx, &other, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEventLogs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	bssid := apMAC
	require.NoError(t, s.CreateEventLog(ctx, &models.EventLog{
		BSSID:       &bssid,
		Type:        models.EventTypeHandshake,
		Level:       models.EventLevelInfo,
		Code:        "handshake_captured",
		Description: "captured",
		Details:     models.Variables{"kind": "handshake"},
	}))
	require.NoError(t, s.CreateEventLog(ctx, &models.EventLog{
		Type:  models.EventTypeWarning,
		Level: models.EventLevelWarning,
		Code:  "warning",
	}))

	all, total, err := s.ListEventLogs(ctx, EventLogFilters{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, all, 2)

	kind := models.EventTypeHandshake
	events, total, err := s.ListEventLogs(ctx, EventLogFilters{Type: &kind, BSSID: &bssid}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, events, 1)
	assert.Equal(t, "handshake", events[0].Details["kind"])
	require.NotNil(t, events[0].BSSID)
	assert.Equal(t, apMAC, *events[0].BSSID)
	assert.Nil(t, events[0].ClientMAC)
}

func TestTransaction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertAccessPoint(ctx, &models.AccessPoint{BSSID: apMAC, FirstSeen: now, LastSeen: now}))
	require.NoError(t, tx.Rollback())

	_, err = s.GetAccessPoint(ctx, apMAC)
	assert.ErrorIs(t, err, ErrNotFound)

	tx, err = s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertAccessPoint(ctx, &models.AccessPoint{BSSID: apMAC, FirstSeen: now, LastSeen: now}))
	require.NoError(t, tx.Commit())

	_, err = s.GetAccessPoint(ctx, apMAC)
	assert.NoError(t, err)
}
