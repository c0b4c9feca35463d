package backup

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Failure stages reported on autobackup_snapshot_failures_total
const (
	StageCollect  = "collect"
	StageCompress = "compress"
	StageEncrypt  = "encrypt"
	StageWrite    = "write"
	StageVerify   = "verify"
	StageManifest = "manifest"
)

// Metrics holds the Prometheus collectors of the snapshot engine. All
// methods are safe on a nil *Metrics.
type Metrics struct {
	// snapshotsCreated counts successfully committed snapshots.
	snapshotsCreated prometheus.Counter

	// snapshotFailures counts failed snapshot attempts by stage.
	snapshotFailures *prometheus.CounterVec

	// snapshotsPruned counts snapshots removed by retention or delete.
	snapshotsPruned prometheus.Counter

	// verifications counts Verify calls by outcome.
	verifications *prometheus.CounterVec

	// restores counts Restore calls by outcome.
	restores *prometheus.CounterVec

	// schedulerCycles counts scheduler cycles by outcome.
	schedulerCycles *prometheus.CounterVec

	// createDuration measures CreateSnapshot latency.
	createDuration prometheus.Histogram

	// lastArtifactBytes is the size of the newest artifact.
	lastArtifactBytes prometheus.Gauge

	// retainedSnapshots is the number of snapshots in the manifest.
	retainedSnapshots prometheus.Gauge

	// lastSuccess is the unix time of the last committed snapshot.
	lastSuccess prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered, which is what tests usually want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		snapshotsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "autobackup_snapshots_created_total",
			Help: "Total number of snapshots committed to the manifest",
		}),
		snapshotFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autobackup_snapshot_failures_total",
			Help: "Total number of failed snapshot attempts by stage",
		}, []string{"stage"}),
		snapshotsPruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "autobackup_snapshots_pruned_total",
			Help: "Total number of snapshots removed by retention or explicit delete",
		}),
		verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autobackup_verifications_total",
			Help: "Total number of snapshot integrity verifications by result",
		}, []string{"result"}),
		restores: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autobackup_restores_total",
			Help: "Total number of snapshot restores by result",
		}, []string{"result"}),
		schedulerCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autobackup_scheduler_cycles_total",
			Help: "Total number of scheduler cycles by result",
		}, []string{"result"}),
		createDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "autobackup_snapshot_duration_seconds",
			Help:    "Snapshot creation latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		lastArtifactBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "autobackup_last_artifact_bytes",
			Help: "Size in bytes of the most recently created artifact",
		}),
		retainedSnapshots: factory.NewGauge(prometheus.GaugeOpts{
			Name: "autobackup_retained_snapshots",
			Help: "Number of snapshots currently tracked by the manifest",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "autobackup_last_success_timestamp_seconds",
			Help: "Unix time of the last committed snapshot",
		}),
	}
}

// RecordSnapshot records a committed snapshot
func (m *Metrics) RecordSnapshot(meta *SnapshotMetadata, duration time.Duration) {
	if m == nil || meta == nil {
		return
	}
	m.snapshotsCreated.Inc()
	m.createDuration.Observe(duration.Seconds())
	m.lastArtifactBytes.Set(float64(meta.CiphertextSize))
	m.lastSuccess.Set(float64(meta.CreatedAt.Unix()))
}

// RecordFailure records a failed snapshot attempt at stage
func (m *Metrics) RecordFailure(stage string) {
	if m == nil {
		return
	}
	m.snapshotFailures.WithLabelValues(stage).Inc()
}

// RecordPruned records removed snapshots
func (m *Metrics) RecordPruned(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.snapshotsPruned.Add(float64(count))
}

// RecordVerify records a verification outcome
func (m *Metrics) RecordVerify(ok bool) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(resultLabel(ok)).Inc()
}

// RecordRestore records a restore outcome
func (m *Metrics) RecordRestore(ok bool) {
	if m == nil {
		return
	}
	m.restores.WithLabelValues(resultLabel(ok)).Inc()
}

// RecordCycle records a scheduler cycle outcome
func (m *Metrics) RecordCycle(ok bool) {
	if m == nil {
		return
	}
	m.schedulerCycles.WithLabelValues(resultLabel(ok)).Inc()
}

// SetRetained sets the number of snapshots in the manifest
func (m *Metrics) SetRetained(count int) {
	if m == nil {
		return
	}
	m.retainedSnapshots.Set(float64(count))
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
