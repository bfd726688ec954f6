package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TrackingMetrics contains Prometheus metrics for match tracking sessions.
// Every series is labelled by match so parallel sessions stay separable.
type TrackingMetrics struct {
	framesTotal           *prometheus.CounterVec
	framesDroppedTotal    *prometheus.CounterVec
	eventsTotal           *prometheus.CounterVec
	calibrationRejections *prometheus.CounterVec
	calibrationResidual   *prometheus.GaugeVec
	outliersTotal         *prometheus.CounterVec
	illConditionedTotal   *prometheus.CounterVec
	liveTracks            *prometheus.GaugeVec
	frameDuration         *prometheus.HistogramVec
}

// NewTrackingMetrics creates and registers tracking metrics on registry.
func NewTrackingMetrics(registry prometheus.Registerer) (*TrackingMetrics, error) {
	m := &TrackingMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *TrackingMetrics) initMetrics() {
	m.framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_frames_total",
			Help: "Total number of frames processed",
		},
		[]string{"match"},
	)
	m.framesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_frames_dropped_total",
			Help: "Frames dropped by the ordered queue (stale or duplicate index)",
		},
		[]string{"match", "reason"},
	)
	m.eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_events_total",
			Help: "Events emitted by the trajectory validator",
		},
		[]string{"match", "type"},
	)
	m.calibrationRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_calibration_rejections_total",
			Help: "Calibration attempts rejected and replaced by the previous transform",
		},
		[]string{"match"},
	)
	m.calibrationResidual = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tracking_calibration_residual_meters",
			Help: "RMS reprojection error of the active calibration",
		},
		[]string{"match"},
	)
	m.outliersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_outlier_samples_total",
			Help: "Trajectory samples rejected as physically implausible",
		},
		[]string{"match"},
	)
	m.illConditionedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_ill_conditioned_updates_total",
			Help: "Estimator updates skipped because the innovation covariance was ill-conditioned",
		},
		[]string{"match"},
	)
	m.liveTracks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tracking_live_tracks",
			Help: "Tracks currently tentative, confirmed or lost",
		},
		[]string{"match", "class"},
	)
	m.frameDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracking_frame_duration_seconds",
			Help:    "Wall time spent processing one frame",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12), // 50µs to ~100ms
		},
		[]string{"match"},
	)
}

// Describe implements prometheus.Collector.
func (m *TrackingMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.framesTotal.Describe(ch)
	m.framesDroppedTotal.Describe(ch)
	m.eventsTotal.Describe(ch)
	m.calibrationRejections.Describe(ch)
	m.calibrationResidual.Describe(ch)
	m.outliersTotal.Describe(ch)
	m.illConditionedTotal.Describe(ch)
	m.liveTracks.Describe(ch)
	m.frameDuration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *TrackingMetrics) Collect(ch chan<- prometheus.Metric) {
	m.framesTotal.Collect(ch)
	m.framesDroppedTotal.Collect(ch)
	m.eventsTotal.Collect(ch)
	m.calibrationRejections.Collect(ch)
	m.calibrationResidual.Collect(ch)
	m.outliersTotal.Collect(ch)
	m.illConditionedTotal.Collect(ch)
	m.liveTracks.Collect(ch)
	m.frameDuration.Collect(ch)
}

// RecordFrame records one processed frame and its processing time.
func (m *TrackingMetrics) RecordFrame(match string, seconds float64) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(match).Inc()
	m.frameDuration.WithLabelValues(match).Observe(seconds)
}

// RecordDrop records a frame dropped by the queue.
func (m *TrackingMetrics) RecordDrop(match, reason string) {
	if m == nil {
		return
	}
	m.framesDroppedTotal.WithLabelValues(match, reason).Inc()
}

// RecordEvent records an emitted event of the given type.
func (m *TrackingMetrics) RecordEvent(match, eventType string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(match, eventType).Inc()
}

// RecordCalibration records the outcome of a calibration attempt.
func (m *TrackingMetrics) RecordCalibration(match string, rejected bool, residual float64, valid bool) {
	if m == nil {
		return
	}
	if rejected {
		m.calibrationRejections.WithLabelValues(match).Inc()
	}
	if valid {
		m.calibrationResidual.WithLabelValues(match).Set(residual)
	}
}

// AddOutliers adds n rejected trajectory samples.
func (m *TrackingMetrics) AddOutliers(match string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.outliersTotal.WithLabelValues(match).Add(float64(n))
}

// AddIllConditioned adds n skipped estimator updates.
func (m *TrackingMetrics) AddIllConditioned(match string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.illConditionedTotal.WithLabelValues(match).Add(float64(n))
}

// SetLiveTracks sets the live track gauge for a class.
func (m *TrackingMetrics) SetLiveTracks(match, class string, n int) {
	if m == nil {
		return
	}
	m.liveTracks.WithLabelValues(match, class).Set(float64(n))
}

// Forget removes every series belonging to match, used when a session ends.
func (m *TrackingMetrics) Forget(match string) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"match": match}
	m.framesTotal.DeletePartialMatch(labels)
	m.framesDroppedTotal.DeletePartialMatch(labels)
	m.eventsTotal.DeletePartialMatch(labels)
	m.calibrationRejections.DeletePartialMatch(labels)
	m.calibrationResidual.DeletePartialMatch(labels)
	m.outliersTotal.DeletePartialMatch(labels)
	m.illConditionedTotal.DeletePartialMatch(labels)
	m.liveTracks.DeletePartialMatch(labels)
	m.frameDuration.DeletePartialMatch(labels)
}
