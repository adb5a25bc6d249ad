package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/momo-shadow/shadow-engine/internal/models"
)

const namespace = "shadow"

var states = []models.State{
	models.StateIdle,
	models.StateScanning,
	models.StateCapturing,
	models.StateStopped,
	models.StateError,
}

// Recorder exports engine events as Prometheus metrics
type Recorder struct {
	frames       *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	state        *prometheus.GaugeVec
	channel      prometheus.Gauge
	hops         prometheus.Counter
	deauthFrames prometheus.Counter
	txFailures   *prometheus.CounterVec
	captures     *prometheus.CounterVec
	abandoned    prometheus.Counter
	entities     *prometheus.GaugeVec

	// HTTP metrics for the control API
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames received from the radio by classification.",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Controller state transitions.",
		}, []string{"from", "to"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controller_state",
			Help:      "1 for the current controller state.",
		}, []string{"state"}),
		channel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "radio_channel",
			Help:      "Channel the radio is tuned to.",
		}),
		hops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_changes_total",
			Help:      "Successful channel changes.",
		}),
		deauthFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deauth_frames_total",
			Help:      "Deauthentication frames injected.",
		}),
		txFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "radio_failures_total",
			Help:      "Radio operations that failed after retries.",
		}, []string{"op"}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_total",
			Help:      "Completed handshake and PMKID captures.",
		}, []string{"kind", "targeted"}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_abandoned_total",
			Help:      "Incomplete handshake sessions dropped.",
		}),
		entities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entities",
			Help:      "Entities held by the engine.",
		}, []string{"type"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	reg.MustRegister(
		r.frames, r.transitions, r.state, r.channel, r.hops, r.deauthFrames,
		r.txFailures, r.captures, r.abandoned, r.entities, r.Requests, r.Duration,
	)

	for _, s := range states {
		r.state.WithLabelValues(string(s)).Set(0)
	}
	r.state.WithLabelValues(string(models.StateIdle)).Set(1)
	return r
}

func (r *Recorder) FrameReceived(kind string) {
	r.frames.WithLabelValues(kind).Inc()
}

func (r *Recorder) StateChanged(from, to models.State) {
	r.transitions.WithLabelValues(string(from), string(to)).Inc()
	r.state.WithLabelValues(string(from)).Set(0)
	r.state.WithLabelValues(string(to)).Set(1)
}

func (r *Recorder) ChannelChanged(channel int) {
	r.channel.Set(float64(channel))
	r.hops.Inc()
}

func (r *Recorder) DeauthSent(frames int) {
	r.deauthFrames.Add(float64(frames))
}

func (r *Recorder) TransmitFailed(op string) {
	r.txFailures.WithLabelValues(op).Inc()
}

func (r *Recorder) HandshakeCaptured(kind models.CaptureKind, targeted bool) {
	t := "false"
	if targeted {
		t = "true"
	}
	r.captures.WithLabelValues(string(kind), t).Inc()
}

func (r *Recorder) SessionsAbandoned(n int) {
	r.abandoned.Add(float64(n))
}

func (r *Recorder) Entities(aps, clients, probes, sessions int) {
	r.entities.WithLabelValues("access_points").Set(float64(aps))
	r.entities.WithLabelValues("clients").Set(float64(clients))
	r.entities.WithLabelValues("probes").Set(float64(probes))
	r.entities.WithLabelValues("sessions").Set(float64(sessions))
}
