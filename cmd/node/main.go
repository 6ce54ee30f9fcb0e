// Command node runs one light-show node (C1-C4, C8): it syncs its clock
// against the show server, polls for its device's instructions, executes
// them against a strip, and accepts firmware updates over OTA.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/lumenshow/internal/config"
	"github.com/simeonmiteff/lumenshow/pkg/clocksync"
	"github.com/simeonmiteff/lumenshow/pkg/diagnostics"
	"github.com/simeonmiteff/lumenshow/pkg/fetcher"
	"github.com/simeonmiteff/lumenshow/pkg/instrqueue"
	"github.com/simeonmiteff/lumenshow/pkg/ledexec"
	"github.com/simeonmiteff/lumenshow/pkg/nodestate"
	"github.com/simeonmiteff/lumenshow/pkg/otaclient"
	"github.com/simeonmiteff/lumenshow/pkg/otareceiver"
	"github.com/simeonmiteff/lumenshow/pkg/otareceiver/partition"
	"github.com/simeonmiteff/lumenshow/pkg/show"
)

// loggingStrip is the StripWriter used when no physical LED driver is
// attached — it logs the color it would have written. The real driver
// (SPI/I2S to the strip) is an external collaborator out of scope here
// (spec.md §1).
type loggingStrip struct {
	log logrus.FieldLogger
}

func (w loggingStrip) WriteFrame(_ context.Context, c show.RGB) error {
	w.log.WithFields(logrus.Fields{"r": c.R, "g": c.G, "b": c.B}).Debug("strip frame")
	return nil
}

// queueSink adapts the fetcher's delivery callback onto the instruction
// queue: new batches are enqueued, and a rewind to show_start_wall_ms==0
// (spec.md §4.4, a show re-upload) flushes every instruction still pending
// so the strip never executes stale show timing against a new show.
type queueSink struct {
	queue *instrqueue.Queue
	log   logrus.FieldLogger

	mu        sync.Mutex
	lastStart int64
}

func (s *queueSink) OnInstructions(batch []show.Instruction, showStartWallMS int64) {
	s.mu.Lock()
	rewound := s.lastStart != 0 && showStartWallMS == 0
	s.lastStart = showStartWallMS
	s.mu.Unlock()

	if rewound {
		s.log.Info("show restarted, flushing pending instructions")
		s.queue.Flush()
	}
	s.queue.Enqueue(batch)
}

// brightnessFromEnv reads LUMENSHOW_BRIGHTNESS (0..1), defaulting to full
// brightness when unset or unparsable.
func brightnessFromEnv() float64 {
	v := os.Getenv("LUMENSHOW_BRIGHTNESS")
	if v == "" {
		return 1.0
	}
	b, err := strconv.ParseFloat(v, 64)
	if err != nil || b < 0 || b > 1 {
		return 1.0
	}
	return b
}

// runFetcher drives the instruction fetcher task (spec.md §5): it polls the
// show server for this device's instructions and hands every batch to sink.
func runFetcher(ctx context.Context, serverURL, deviceID string, log logrus.FieldLogger, onAttempt func(bool), sink fetcher.Sink) {
	f := fetcher.New(serverURL, deviceID, log, onAttempt)
	f.Run(ctx, sink)
}

// runExecutor drives the executor task (spec.md §5): on each tick it asks
// the queue for its next decision against the synced wall clock, expressed
// as milliseconds since the show start the fetcher last delivered, and
// applies it to the strip, sleeping for the duration the queue recommends
// between polls. While the clock is unsynced or no show start is known it
// idles without consulting the queue.
func runExecutor(ctx context.Context, syncer *clocksync.Syncer, queue *instrqueue.Queue, sink *queueSink, exec *ledexec.Executor, diag *diagnostics.Diagnostics, log logrus.FieldLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		nowWallMS, synced := syncer.NowWallMS()
		sink.mu.Lock()
		startWallMS := sink.lastStart
		sink.mu.Unlock()
		d := instrqueue.Decision{Kind: instrqueue.DecisionSleep, Sleep: 10 * time.Millisecond}
		if synced && startWallMS != 0 {
			d = queue.TakeNext(nowWallMS - startWallMS)
		}

		if d.Kind == instrqueue.DecisionDropLate {
			diag.QueueLateDrops.Inc()
		}
		if err := exec.Apply(ctx, synced, d); err != nil {
			log.WithError(err).Error("executor apply failed")
		}

		sleep := d.Sleep
		if sleep <= 0 {
			sleep = time.Millisecond
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// reportQueueDepth mirrors the queue's depth and overflow counters into
// diagnostics on a fixed cadence, the same read-only pattern
// diagnostics.RunProgressLogger uses for show status (spec.md §5).
func reportQueueDepth(ctx context.Context, queue *instrqueue.Queue, diag *diagnostics.Diagnostics) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var lastOverflow uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			diag.QueueDepth.Set(float64(queue.Len()))
			if overflow := queue.OverflowCount(); overflow > lastOverflow {
				diag.QueueOverflowDropped.Add(float64(overflow - lastOverflow))
				lastOverflow = overflow
			}
		}
	}
}

func main() {
	log := logrus.StandardLogger()

	serverURL := os.Getenv("LUMENSHOW_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	deviceID := os.Getenv("LUMENSHOW_DEVICE_ID")
	if deviceID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		deviceID = fmt.Sprintf("esp32-light-%s", hostname)
	}
	metricsAddr := os.Getenv("LUMENSHOW_METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9090"
	}
	statePath := os.Getenv("LUMENSHOW_STATE_PATH")
	if statePath == "" {
		statePath = "/var/lib/lumenshow/node-state.json"
	}
	partitionDir := os.Getenv("LUMENSHOW_PARTITION_DIR")
	if partitionDir == "" {
		partitionDir = "/var/lib/lumenshow/firmware"
	}
	firmwareAsset := os.Getenv("LUMENSHOW_FIRMWARE_ASSET")
	if firmwareAsset == "" {
		firmwareAsset = "node-firmware.bin"
	}
	firmwareVersion := os.Getenv("LUMENSHOW_FIRMWARE_VERSION")
	if firmwareVersion == "" {
		firmwareVersion = "0.0.0"
	}

	nodeCfg := config.LoadNodeConfig()
	if err := nodeCfg.Validate(); err != nil {
		log.WithError(err).Warn("node configuration incomplete, network join will be skipped")
	}

	state, err := nodestate.Open(statePath)
	if err != nil {
		log.WithError(err).Fatal("failed to open node state store")
	}
	if ch, ok := state.Get(nodestate.LastGoodChannelKey); ok {
		log.WithField("channel", ch).Info("recalled last known good network channel")
	}

	diag := diagnostics.New(log, prometheus.DefaultRegisterer)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	syncer := clocksync.New(clocksync.NewHTTPDateTimeSource(serverURL), log)
	syncer.OnResult(func(ok bool, offsetMS int64) {
		if ok {
			diag.ClockOffsetMS.Set(float64(offsetMS))
			return
		}
		diag.ClockResyncFailures.Inc()
	})
	go syncer.Run(ctx, time.Second)

	queue := instrqueue.New(log)
	sink := &queueSink{queue: queue, log: log}

	onAttempt := func(ok bool) {
		diag.FetchAttempts.Inc()
		if !ok {
			diag.FetchFailures.Inc()
		}
	}

	executor := ledexec.New(loggingStrip{log: log}, brightnessFromEnv(), log)

	slots, err := partition.New(partitionDir)
	if err != nil {
		log.WithError(err).Fatal("failed to open firmware partitions")
	}
	receiver := otareceiver.New(slots, log)
	receiver.OnChunkWritten(func() { diag.OTAChunksWritten.Inc() })
	receiver.OnChunkDiscarded(func(reason string) { diag.OTAChunksDiscarded.WithLabelValues(reason).Inc() })
	otaClient := otaclient.New(serverURL, firmwareAsset, firmwareVersion, log)

	go runFetcher(ctx, serverURL, deviceID, log, onAttempt, sink)
	go runExecutor(ctx, syncer, queue, sink, executor, diag, log)
	go reportQueueDepth(ctx, queue, diag)
	go otaClient.Run(ctx, receiver)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	httpServer := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.WithFields(logrus.Fields{
		"device_id":  deviceID,
		"server":     serverURL,
		"metrics":    metricsAddr,
	}).Info("node starting")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("node metrics server exited")
	}
}
