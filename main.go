package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ericogr/luxmeter/pkg/config"
	"github.com/ericogr/luxmeter/pkg/conversion"
	"github.com/ericogr/luxmeter/pkg/display"
	"github.com/ericogr/luxmeter/pkg/ingest"
	"github.com/ericogr/luxmeter/pkg/logger"
	"github.com/ericogr/luxmeter/pkg/metrics"
	"github.com/ericogr/luxmeter/pkg/output"
	"github.com/ericogr/luxmeter/pkg/output/clickhouse"
	"github.com/ericogr/luxmeter/pkg/output/console"
	"github.com/ericogr/luxmeter/pkg/output/mqtt"
	"github.com/ericogr/luxmeter/pkg/output/sqlite"
	"github.com/ericogr/luxmeter/pkg/pipeline"
	"github.com/ericogr/luxmeter/pkg/sensor"
	"github.com/ericogr/luxmeter/pkg/series"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var history = flag.String("history", "", "print persisted records (raw|derived) and exit")

func main() {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, log)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) int {
	start := time.Now()
	sink, err := initOutputs(ctx, cfg, log)
	if err != nil {
		log.Error("init outputs", "error", err)
		return 1
	}
	defer sink.Close()

	if *history != "" {
		if err := dumpHistory(ctx, sink, *history, os.Stdout); err != nil {
			log.Error("history", "error", err)
			return 1
		}
		return 0
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr, reg, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Channel Creation
	samples := make(chan series.Sample, cfg.Pipeline.ChannelSize)
	status := make(chan ingest.StatusChanged, cfg.Pipeline.EventChannelSize)

	dispatcher := newDispatcher(cfg.Pipeline, sink, log, m)
	store := conversion.NewStore(cfg.Calibration)
	conv := conversion.NewConverter(conversion.DeviceScale(cfg.Device.FullScaleVolts, cfg.Device.FullScaleCounts), log)
	coord := pipeline.NewCoordinator(samples, store, conv, dispatcher, pipeline.Options{
		Capacity:    cfg.Buffer.Capacity,
		EventBuffer: cfg.Pipeline.EventChannelSize,
		Log:         log,
		Metrics:     m,
	})
	disp := display.New(os.Stdout, status, coord.Events(), coord.Raw(), coord.Derived())

	src := cfg.Source
	src.IntervalMs = computeSensorInterval(src)
	worker := ingest.NewWorker(func() (sensor.Port, error) { return sensor.Open(src, cfg.Device) }, samples, status, ingest.Options{
		Address:      sensor.Describe(src),
		BaudRate:     src.BaudRate,
		Start:        start,
		PollInterval: time.Duration(src.PollIntervalMs) * time.Millisecond,
		Log:          log,
		Metrics:      m,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		final := worker.Run(ctx)
		log.Info("ingestion stopped", "state", final.String())
	}()

	controls := make(chan func(), 8)
	go watchSignals(ctx, controls, cfg.Path, store, coord, log)

	log.Info("luxmeter started",
		"source", src.Type,
		"address", sensor.Describe(src),
		"outputs", len(cfg.Outputs),
		"dispatch", cfg.Pipeline.Dispatch)

	coord.Run(ctx, time.Duration(cfg.Pipeline.RefreshIntervalMs)*time.Millisecond, func(int) {
		applyControls(controls)
		disp.Refresh()
	})

	wg.Wait()
	// samples already queued are persisted before exit
	coord.Tick()
	dispatcher.Wait()
	log.Info("luxmeter stopped")
	return 0
}

// initOutputs builds every configured sink behind a single Multi.
func initOutputs(ctx context.Context, cfg config.Config, log *slog.Logger) (*output.Multi, error) {
	sinks := make([]output.Sink, 0, len(cfg.Outputs))
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}
	for _, oc := range cfg.Outputs {
		var (
			s   output.Sink
			err error
		)
		switch oc.Type {
		case config.OutputConsole:
			s = console.NewConsole()
		case config.OutputSQLite:
			s, err = sqlite.NewSQLite(oc.SQLite.Path)
		case config.OutputClickHouse:
			s, err = clickhouse.NewClickHouse(ctx, *oc.ClickHouse, log)
		case config.OutputMQTT:
			s, err = mqtt.NewMQTT(*oc.MQTT, log)
		default:
			err = fmt.Errorf("unknown output type %q", oc.Type)
		}
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("output %s: %w", oc.Type, err)
		}
		sinks = append(sinks, s)
	}
	return output.NewMulti(sinks...), nil
}

func newDispatcher(pc config.PipelineConfig, sink output.Sink, log *slog.Logger, m *metrics.Metrics) output.Dispatcher {
	if pc.Dispatch == config.DispatchQueued {
		b := output.DefaultBackoff()
		b.MaxAttempts = pc.MaxAttempts
		if pc.RetryDelayMs > 0 {
			b.InitialDelay = time.Duration(pc.RetryDelayMs) * time.Millisecond
		}
		return output.NewQueued(sink, output.QueueOptions{Size: pc.QueueSize, Workers: pc.Workers, Retry: b}, log, m)
	}
	return output.NewDetached(sink, log, m)
}

// computeSensorInterval returns the line interval in ms for src. An ADS1115
// cannot produce lines faster than one single-shot conversion.
func computeSensorInterval(src config.SourceConfig) int {
	interval := src.IntervalMs
	if src.Type == config.SourceADS1115 {
		interval = max(interval, int(sensor.ConversionDelay(src.SampleRate)/time.Millisecond))
	}
	return interval
}

func dumpHistory(ctx context.Context, sink output.Sink, kind string, w io.Writer) error {
	var (
		recs []output.Record
		err  error
	)
	switch output.Kind(kind) {
	case output.KindRaw:
		recs, err = sink.QueryAllRaw(ctx)
	case output.KindDerived:
		recs, err = sink.QueryAllDerived(ctx)
	default:
		return fmt.Errorf("unknown history kind %q (want raw or derived)", kind)
	}
	if errors.Is(err, output.ErrQueryUnsupported) {
		return fmt.Errorf("no configured output can be queried: %w", err)
	}
	if err != nil {
		return err
	}
	for _, r := range recs {
		iterations := 0
		if len(r.Trace) > 0 {
			iterations = len(r.Trace) - 1
		}
		fmt.Fprintf(w, "%s kind=%s value=%.6f iterations=%d\n", r.Timestamp.UTC().Format(time.RFC3339), r.Kind, r.Value, iterations)
	}
	return nil
}

func startMetricsServer(addr string, reg *prometheus.Registry, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", "error", err)
		}
	}()
	log.Info("metrics listening", "addr", addr)
	return srv
}

// watchSignals turns SIGHUP (reload calibration and capacity) and SIGUSR1
// (clear buffers) into controls run on the tick goroutine.
func watchSignals(ctx context.Context, controls chan<- func(), path string, store *conversion.Store, coord *pipeline.Coordinator, log *slog.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigs)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			var fn func()
			switch sig {
			case syscall.SIGHUP:
				fn = func() { reloadConfig(path, store, coord, log) }
			case syscall.SIGUSR1:
				fn = coord.ClearAll
			}
			select {
			case controls <- fn:
			default:
				log.Warn("control dropped, tick loop busy", "signal", sig.String())
			}
		}
	}
}

func applyControls(controls <-chan func()) {
	for {
		select {
		case fn := <-controls:
			fn()
		default:
			return
		}
	}
}

func reloadConfig(path string, store *conversion.Store, coord *pipeline.Coordinator, log *slog.Logger) {
	cfg, err := config.Reload(path)
	if err != nil {
		log.Error("reload config", "path", path, "error", err)
		return
	}
	store.Set(cfg.Calibration)
	coord.SetCapacity(cfg.Buffer.Capacity)
	log.Info("config reloaded",
		"model_a", cfg.Calibration.ModelA,
		"model_b", cfg.Calibration.ModelB,
		"capacity", cfg.Buffer.Capacity)
}
