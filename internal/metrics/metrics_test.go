package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momo-shadow/shadow-engine/internal/models"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.FrameReceived("beacon")
	r.FrameReceived("beacon")
	r.FrameReceived("eapol")
	assert.Equal(t, 2.0, testutil.ToFloat64(r.frames.WithLabelValues("beacon")))

	r.StateChanged(models.StateIdle, models.StateScanning)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.state.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.state.WithLabelValues("scanning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("idle", "scanning")))

	r.ChannelChanged(11)
	assert.Equal(t, 11.0, testutil.ToFloat64(r.channel))

	r.DeauthSent(4)
	r.TransmitFailed("send_frame")
	r.HandshakeCaptured(models.CapturePMKID, true)
	r.SessionsAbandoned(2)
	r.Entities(3, 5, 7, 1)

	assert.Equal(t, 4.0, testutil.ToFloat64(r.deauthFrames))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.captures.WithLabelValues("pmkid", "true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.abandoned))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.entities.WithLabelValues("clients")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNew_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
