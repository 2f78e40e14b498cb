package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EventsEmitted   prometheus.Counter
	EventsBlocked   prometheus.Counter
	PushFailures    prometheus.Counter
	SocketErrors    prometheus.Counter
	JoinFailures    prometheus.Counter
	ConnectFailures prometheus.Counter
	Transitions     *prometheus.CounterVec

	// Gauges
	AdminViewers   prometheus.Gauge
	RecordingGauge prometheus.Gauge // 1=recording,0=idle
	PageHidden     prometheus.Gauge

	// Histograms (seconds)
	ConnectDuration prometheus.Observer
)

// Init registers metrics with the default registry. It is idempotent.
func Init() {
	once.Do(func() {
		EventsEmitted = promauto.NewCounter(prometheus.CounterOpts{Name: "storytime_events_emitted_total", Help: "Replay events pushed to the channel"})
		EventsBlocked = promauto.NewCounter(prometheus.CounterOpts{Name: "storytime_events_blocked_total", Help: "Replay events dropped by the path blocklist"})
		PushFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "storytime_push_failures_total", Help: "Channel pushes that failed"})
		SocketErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "storytime_socket_errors_total", Help: "Realtime socket errors"})
		JoinFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "storytime_join_failures_total", Help: "Channel joins that failed"})
		ConnectFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "storytime_connect_failures_total", Help: "Connect sequences aborted by an error"})
		Transitions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "storytime_channel_transitions_total", Help: "Channel state transitions by target state"}, []string{"to"})
		AdminViewers = promauto.NewGauge(prometheus.GaugeOpts{Name: "storytime_admin_viewers", Help: "Admin viewers present on the session channel"})
		RecordingGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "storytime_recording", Help: "Recorder running=1 stopped=0"})
		PageHidden = promauto.NewGauge(prometheus.GaugeOpts{Name: "storytime_page_hidden", Help: "Page hidden=1 visible=0"})
		ConnectDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "storytime_connect_duration_seconds", Help: "Time from connect to join reply", Buckets: prometheus.DefBuckets})
	})
}

// Inc increments c if metrics are initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// SetBool sets g to 1 or 0 if metrics are initialized.
func SetBool(g prometheus.Gauge, v bool) {
	if g == nil {
		return
	}
	if v {
		g.Set(1)
	} else {
		g.Set(0)
	}
}

// SetViewers records the number of admin viewers.
func SetViewers(n int) {
	if AdminViewers != nil {
		AdminViewers.Set(float64(n))
	}
}

// RecordTransition counts a transition into state to.
func RecordTransition(to string) {
	if Transitions != nil {
		Transitions.WithLabelValues(to).Inc()
	}
}

// ObserveSeconds records secs on o if metrics are initialized.
func ObserveSeconds(o prometheus.Observer, secs float64) {
	if o != nil {
		o.Observe(secs)
	}
}
