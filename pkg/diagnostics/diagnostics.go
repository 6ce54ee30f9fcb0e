// Package diagnostics is the status & diagnostics component (C9):
// structured logging, progress reports, and packet-loss counters, exported
// as Prometheus metrics the way the teacher's pkg/exporter exports kernel
// tcp_info as a custom collector — here, light-show timing and transfer
// health instead of socket internals.
package diagnostics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/lumenshow/pkg/showstore"
)

// Diagnostics bundles every Prometheus series this system exports plus the
// shared logger every other component logs through. Constructed once per
// process and threaded into component constructors — never a package
// global, matching spec.md §9's redesign note against static mutable
// globals.
type Diagnostics struct {
	Log logrus.FieldLogger

	ClockOffsetMS        prometheus.Gauge
	ClockResyncFailures  prometheus.Counter
	QueueDepth           prometheus.Gauge
	QueueLateDrops       prometheus.Counter
	QueueOverflowDropped prometheus.Counter
	FetchAttempts        prometheus.Counter
	FetchFailures        prometheus.Counter
	OTAChunksWritten     prometheus.Counter
	OTAChunksDiscarded   *prometheus.CounterVec
	ShowUploads          prometheus.Counter
	ShowStarts           prometheus.Counter
	InstructionQueries   prometheus.Counter
}

// New constructs a Diagnostics bundle and registers its collectors with
// reg. Pass prometheus.NewRegistry() in tests to avoid polluting the
// default registry.
func New(log logrus.FieldLogger, reg prometheus.Registerer) *Diagnostics {
	if log == nil {
		log = logrus.StandardLogger()
	}
	d := &Diagnostics{
		Log: log,
		ClockOffsetMS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lumenshow_clock_offset_ms",
			Help: "Node's current estimate of server wall clock offset, in milliseconds.",
		}),
		ClockResyncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumenshow_clock_resync_failures_total",
			Help: "Count of failed clock resync attempts.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lumenshow_queue_depth",
			Help: "Number of instructions currently pending in the execution queue.",
		}),
		QueueLateDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumenshow_queue_late_drops_total",
			Help: "Count of instructions dropped for arriving more than the execution window in the past.",
		}),
		QueueOverflowDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumenshow_queue_overflow_dropped_total",
			Help: "Count of instructions discarded due to bounded queue capacity.",
		}),
		FetchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumenshow_fetch_attempts_total",
			Help: "Count of instruction fetch attempts, including retries.",
		}),
		FetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumenshow_fetch_failures_total",
			Help: "Count of failed instruction fetch attempts, including retries.",
		}),
		OTAChunksWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumenshow_ota_chunks_written_total",
			Help: "Count of firmware chunks written to the inactive partition.",
		}),
		OTAChunksDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumenshow_ota_chunks_discarded_total",
			Help: "Count of firmware chunks discarded, labeled by reason.",
		}, []string{"reason"}),
		ShowUploads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumenshow_show_uploads_total",
			Help: "Count of show uploads accepted by the server.",
		}),
		ShowStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumenshow_show_starts_total",
			Help: "Count of show_start calls accepted by the server.",
		}),
		InstructionQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumenshow_instruction_queries_total",
			Help: "Count of per-device instruction queries served.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			d.ClockOffsetMS, d.ClockResyncFailures,
			d.QueueDepth, d.QueueLateDrops, d.QueueOverflowDropped,
			d.FetchAttempts, d.FetchFailures,
			d.OTAChunksWritten, d.OTAChunksDiscarded,
			d.ShowUploads, d.ShowStarts, d.InstructionQueries,
		)
	}
	return d
}

// RunProgressLogger logs show status every 5s until ctx is cancelled. It
// acquires only the show store's read side (spec.md §5: "A single
// background task logs progress every 5s; it acquires only the read
// side").
func (d *Diagnostics) RunProgressLogger(ctx context.Context, store *showstore.Store) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := store.Status()
			d.Log.WithFields(logrus.Fields{
				"show":        st.Name,
				"frames":      st.FrameCount,
				"is_playing":  st.IsPlaying,
				"elapsed_ms":  st.ElapsedMS,
				"start_wall":  st.StartWallMS,
			}).Info("show progress")
		}
	}
}
