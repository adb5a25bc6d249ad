package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momo-shadow/shadow-engine/internal/config"
	"github.com/momo-shadow/shadow-engine/internal/models"
	"github.com/momo-shadow/shadow-engine/internal/storage"
	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

var (
	apMAC     = dot11.MustParseMAC("aa:bb:cc:dd:ee:01")
	clientMAC = dot11.MustParseMAC("11:22:33:44:55:66")
)

func newStore(t *testing.T) *storage.SQLStore {
	t.Helper()
	s, err := storage.Open(context.Background(), config.DatabaseConfig{Driver: storage.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func handshakeNote(kind models.CaptureKind) models.Notification {
	bssid, client := apMAC, clientMAC
	return models.Notification{
		ID:          uuid.New(),
		Kind:        models.NotifyHandshake,
		Time:        time.Now().UTC(),
		BSSID:       &bssid,
		ClientMAC:   &client,
		SSID:        "Corp",
		CaptureKind: kind,
		Complete:    true,
		Messages:    []uint8{1, 2},
		Targeted:    true,
	}
}

type webhookRequest struct {
	header http.Header
	body   []byte
}

func webhookServer(t *testing.T) (*httptest.Server, <-chan webhookRequest) {
	t.Helper()
	got := make(chan webhookRequest, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- webhookRequest{header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestForwarder_Webhook(t *testing.T) {
	srv, got := webhookServer(t)

	cfg := config.Default()
	cfg.Device.Name = "unit"
	cfg.Webhook.Enabled = true
	cfg.Webhook.URL = srv.URL
	cfg.Webhook.Headers = map[string]string{"Authorization": "Bearer x"}
	cfg.Webhook.Kinds = []string{string(models.NotifyHandshake)}

	f := NewForwarder(cfg, nil, nil)
	f.Handle(context.Background(), models.Notification{Kind: models.NotifyWarning, Message: "filtered"})
	f.Handle(context.Background(), handshakeNote(models.CapturePMKID))
	f.Wait()

	require.Len(t, got, 1)
	req := <-got
	assert.Equal(t, "application/json", req.header.Get("Content-Type"))
	assert.Equal(t, "Bearer x", req.header.Get("Authorization"))
	assert.Equal(t, string(models.NotifyHandshake), req.header.Get("X-Shadow-Event"))

	var env Envelope
	require.NoError(t, json.Unmarshal(req.body, &env))
	assert.Equal(t, "unit", env.Device)
	assert.Equal(t, models.CapturePMKID, env.CaptureKind)
	require.NotNil(t, env.BSSID)
	assert.Equal(t, apMAC, *env.BSSID)
}

func TestForwarder_RunPersists(t *testing.T) {
	store := newStore(t)
	f := NewForwarder(config.Default(), nil, store)

	notes := make(chan models.Notification, 4)
	notes <- handshakeNote(models.CaptureHandshake)
	notes <- models.Notification{ID: uuid.New(), Kind: models.NotifyStateChanged, Time: time.Now(), PrevState: models.StateScanning, State: models.StateError, Reason: "radio closed"}
	close(notes)

	require.NoError(t, f.Run(context.Background(), notes))

	handshakes, total, err := store.ListHandshakes(context.Background(), nil, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "Corp", handshakes[0].SSID)

	events, total, err := store.ListEventLogs(context.Background(), storage.EventLogFilters{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	kinds := map[models.EventType]models.EventLevel{}
	for _, e := range events {
		kinds[e.Type] = e.Level
	}
	assert.Equal(t, models.EventLevelInfo, kinds[models.EventTypeHandshake])
	assert.Equal(t, models.EventLevelError, kinds[models.EventTypeError])
}

func TestPersist(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	client := clientMAC
	require.NoError(t, Persist(ctx, store, models.Notification{
		Kind: models.NotifyProbe, ClientMAC: &client, SSID: "Home", Signal: -61, Time: time.Now(),
	}))
	probes, err := store.ListProbes(ctx, nil, 0)
	require.NoError(t, err)
	require.Len(t, probes, 1)
	assert.Equal(t, -61, probes[0].Signal)

	// probes are not event-logged
	_, total, err := store.ListEventLogs(ctx, storage.EventLogFilters{}, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, total)

	assert.ErrorIs(t, Persist(ctx, store, models.Notification{Kind: models.NotifyHandshake}), storage.ErrInvalidData)
	assert.ErrorIs(t, Persist(ctx, store, models.Notification{Kind: models.NotifyProbe}), storage.ErrInvalidData)
}

func TestEventFromNotification(t *testing.T) {
	pmkid := EventFromNotification(handshakeNote(models.CapturePMKID))
	require.NotNil(t, pmkid)
	assert.Equal(t, models.EventTypePMKID, pmkid.Type)
	assert.Equal(t, true, pmkid.Details["targeted"])

	state := EventFromNotification(models.Notification{Kind: models.NotifyStateChanged, PrevState: models.StateIdle, State: models.StateScanning})
	require.NotNil(t, state)
	assert.Equal(t, models.EventTypeStateChange, state.Type)
	assert.Equal(t, "idle -> scanning", state.Description)
	assert.NotContains(t, state.Details, "reason")

	warning := EventFromNotification(models.Notification{Kind: models.NotifyWarning, Message: "send failed"})
	require.NotNil(t, warning)
	assert.Equal(t, models.EventLevelWarning, warning.Level)
	assert.Equal(t, "send failed", warning.Description)

	assert.Nil(t, EventFromNotification(models.Notification{Kind: models.NotifyProbe}))
}

func TestTopic(t *testing.T) {
	cfg := config.Default()
	cfg.Device.Name = "pi"
	cfg.MQTT.TopicPattern = "shadow/{device}/{kind}/{bssid}"
	f := NewForwarder(cfg, nil, nil)

	assert.Equal(t, "shadow/pi/handshake_captured/aabbccddee01", f.Topic(handshakeNote(models.CaptureHandshake)))
	assert.Equal(t, "shadow/pi/warning/-", f.Topic(models.Notification{Kind: models.NotifyWarning}))
}
