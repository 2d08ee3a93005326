package ecs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TickSummary captures execution metadata for one completed tick, handed to
// every registered ScheduleObserver after the executor drains.
type TickSummary struct {
	Tick            uint64
	Duration        time.Duration
	SystemsTotal    int
	SystemsExecuted int
	SystemsSkipped  int
	Error           error
	Reads           []TypedAccess
	Writes          []TypedAccess
}

// ScheduleObserver receives a summary after each tick completes.
type ScheduleObserver interface {
	TickCompleted(summary TickSummary)
}

// PrometheusCollector handles tick summaries for Prometheus-style metrics.
type PrometheusCollector interface {
	ObserveTick(summary TickSummary)
}

// PrometheusCollectorOptions configures a PrometheusTickCollector.
type PrometheusCollectorOptions struct {
	Writer          io.Writer
	DurationBuckets []time.Duration
}

// SigNozExporter handles tick summaries for SigNoz-style span export.
type SigNozExporter interface {
	ExportTick(summary TickSummary)
}

// SigNozOptions configures a SigNozSpanExporter.
type SigNozOptions struct {
	Writer      io.Writer
	ServiceName string
}

// ObservationLogFormat controls structured logging encoding.
type ObservationLogFormat uint8

const (
	ObservationLogFormatJSON ObservationLogFormat = iota
	ObservationLogFormatKeyValue
)

// ObservationSettings toggles built-in observer integrations for a Schedule.
type ObservationSettings struct {
	EnableStructuredLogging bool
	LoggingFormat           ObservationLogFormat
	StructuredLogger        Logger
	EnablePrometheus        bool
	PrometheusCollector     PrometheusCollector
	PrometheusOptions       *PrometheusCollectorOptions
	EnableSigNoz            bool
	SigNozExporter          SigNozExporter
	SigNozOptions           *SigNozOptions
}

// InstrumentationConfig bundles a caller-supplied observer with the
// built-in integrations buildObserverChain can wire up.
type InstrumentationConfig struct {
	Observer    ScheduleObserver
	Observation ObservationSettings
}

type noopObserver struct{}

func (noopObserver) TickCompleted(TickSummary) {}

type compositeObserver struct {
	observers []ScheduleObserver
}

func (c compositeObserver) TickCompleted(summary TickSummary) {
	for _, observer := range c.observers {
		observer.TickCompleted(summary)
	}
}

type loggingObserver struct {
	logger Logger
	format ObservationLogFormat
}

func newLoggingObserver(logger Logger, format ObservationLogFormat) ScheduleObserver {
	if logger == nil {
		return noopObserver{}
	}
	if format != ObservationLogFormatKeyValue {
		format = ObservationLogFormatJSON
	}
	return loggingObserver{logger: logger, format: format}
}

func (o loggingObserver) TickCompleted(summary TickSummary) {
	switch o.format {
	case ObservationLogFormatKeyValue:
		o.logKeyValue(summary)
	default:
		o.logJSON(summary)
	}
}

func (o loggingObserver) logJSON(summary TickSummary) {
	payload := map[string]any{
		"tick":             summary.Tick,
		"duration_ms":      float64(summary.Duration) / float64(time.Millisecond),
		"systems_total":    summary.SystemsTotal,
		"systems_executed": summary.SystemsExecuted,
		"systems_skipped":  summary.SystemsSkipped,
		"reads":            summary.Reads,
		"writes":           summary.Writes,
	}
	if summary.Error != nil {
		payload["error"] = summary.Error.Error()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.With("tick", summary.Tick).Error("tick summary marshal error", "err", err)
		return
	}
	o.logger.Info(string(data))
}

func (o loggingObserver) logKeyValue(summary TickSummary) {
	builder := o.logger.With("tick", summary.Tick)
	args := []any{
		"duration", summary.Duration,
		"systems_total", summary.SystemsTotal,
		"systems_executed", summary.SystemsExecuted,
		"systems_skipped", summary.SystemsSkipped,
	}
	if summary.Error != nil {
		args = append(args, "error", summary.Error.Error())
	}
	builder.Info("tick summary", args...)
}

type prometheusObserver struct {
	collector PrometheusCollector
}

func newPrometheusObserver(collector PrometheusCollector) ScheduleObserver {
	if collector == nil {
		return noopObserver{}
	}
	return prometheusObserver{collector: collector}
}

func (o prometheusObserver) TickCompleted(summary TickSummary) {
	o.collector.ObserveTick(summary)
}

type sigNozObserver struct {
	exporter SigNozExporter
}

func newSigNozObserver(exporter SigNozExporter) ScheduleObserver {
	if exporter == nil {
		return noopObserver{}
	}
	return sigNozObserver{exporter: exporter}
}

func (o sigNozObserver) TickCompleted(summary TickSummary) {
	o.exporter.ExportTick(summary)
}

func buildObserverChain(logger Logger, cfg InstrumentationConfig) ScheduleObserver {
	var observers []ScheduleObserver

	if cfg.Observer != nil {
		observers = append(observers, cfg.Observer)
	}

	obs := cfg.Observation

	if obs.EnableStructuredLogging {
		structuredLogger := obs.StructuredLogger
		if structuredLogger == nil {
			structuredLogger = logger
		}
		observers = append(observers, newLoggingObserver(structuredLogger, obs.LoggingFormat))
	}

	if obs.EnablePrometheus {
		collector := obs.PrometheusCollector
		if collector == nil {
			collector = NewPrometheusTickCollector(obs.PrometheusOptions)
		}
		if collector != nil {
			observers = append(observers, newPrometheusObserver(collector))
		}
	}

	if obs.EnableSigNoz {
		exporter := obs.SigNozExporter
		if exporter == nil {
			exporter = NewSigNozSpanExporter(obs.SigNozOptions)
		}
		if exporter != nil {
			observers = append(observers, newSigNozObserver(exporter))
		}
	}

	if len(observers) == 0 {
		return noopObserver{}
	}
	if len(observers) == 1 {
		return observers[0]
	}
	return compositeObserver{observers: observers}
}

// PrometheusTickCollector accumulates tick summaries into a single running
// sample set and renders them in Prometheus text exposition format.
type PrometheusTickCollector struct {
	options *PrometheusCollectorOptions
	mu      sync.Mutex
	sample  prometheusSample
}

type prometheusSample struct {
	durationSum   float64
	durationCount float64
	buckets       []float64
	executed      float64
	skipped       float64
	errors        float64
}

// NewPrometheusTickCollector constructs a collector; a nil opts uses
// defaults (no histogram buckets, no streaming writer).
func NewPrometheusTickCollector(opts *PrometheusCollectorOptions) PrometheusCollector {
	if opts == nil {
		opts = &PrometheusCollectorOptions{}
	}
	c := &PrometheusTickCollector{options: opts}
	if n := len(opts.DurationBuckets); n > 0 {
		c.sample.buckets = make([]float64, n)
	}
	return c
}

func (c *PrometheusTickCollector) ObserveTick(summary TickSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	durSeconds := summary.Duration.Seconds()
	c.sample.durationSum += durSeconds
	c.sample.durationCount++
	for i := range c.sample.buckets {
		if durSeconds <= c.options.DurationBuckets[i].Seconds() {
			c.sample.buckets[i]++
		}
	}
	c.sample.executed += float64(summary.SystemsExecuted)
	c.sample.skipped += float64(summary.SystemsSkipped)
	if summary.Error != nil {
		c.sample.errors++
	}

	if writer := c.options.Writer; writer != nil {
		_ = c.writeMetricsLocked(writer)
	}
}

// WriteMetrics renders the accumulated samples in Prometheus text format.
func (c *PrometheusTickCollector) WriteMetrics(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeMetricsLocked(w)
}

func (c *PrometheusTickCollector) writeMetricsLocked(w io.Writer) error {
	if w == nil {
		return nil
	}
	var buf bytes.Buffer
	buf.WriteString("# HELP ecs_tick_duration_seconds Schedule tick execution duration.\n")
	buf.WriteString("# TYPE ecs_tick_duration_seconds summary\n")
	buf.WriteString(fmt.Sprintf("ecs_tick_duration_seconds_sum %f\n", c.sample.durationSum))
	buf.WriteString(fmt.Sprintf("ecs_tick_duration_seconds_count %f\n", c.sample.durationCount))
	for i, bucket := range c.sample.buckets {
		le := c.options.DurationBuckets[i].Seconds()
		buf.WriteString(fmt.Sprintf("ecs_tick_duration_seconds_bucket{le=\"%.6f\"} %f\n", le, bucket))
	}

	buf.WriteString("# HELP ecs_tick_systems_executed_total Systems executed across all ticks.\n")
	buf.WriteString("# TYPE ecs_tick_systems_executed_total counter\n")
	buf.WriteString(fmt.Sprintf("ecs_tick_systems_executed_total %f\n", c.sample.executed))

	buf.WriteString("# HELP ecs_tick_systems_skipped_total Systems skipped by a run condition across all ticks.\n")
	buf.WriteString("# TYPE ecs_tick_systems_skipped_total counter\n")
	buf.WriteString(fmt.Sprintf("ecs_tick_systems_skipped_total %f\n", c.sample.skipped))

	buf.WriteString("# HELP ecs_tick_errors_total Ticks that returned an error.\n")
	buf.WriteString("# TYPE ecs_tick_errors_total counter\n")
	buf.WriteString(fmt.Sprintf("ecs_tick_errors_total %f\n", c.sample.errors))

	_, err := w.Write(buf.Bytes())
	return err
}

// SigNozSpanExporter serializes each tick as a single JSON span line,
// suitable for shipping to a SigNoz collector via a log-based pipeline.
type SigNozSpanExporter struct {
	opts *SigNozOptions
	mu   sync.Mutex
}

// NewSigNozSpanExporter constructs an exporter and defaults an empty service
// name; a nil opts leaves the exporter with no Writer, so ExportTick writes
// nothing.
func NewSigNozSpanExporter(opts *SigNozOptions) SigNozExporter {
	if opts == nil {
		opts = &SigNozOptions{}
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "ecs-scheduler"
	}
	return &SigNozSpanExporter{opts: opts}
}

func (e *SigNozSpanExporter) ExportTick(summary TickSummary) {
	if e.opts.Writer == nil {
		return
	}
	span := map[string]any{
		"service_name": e.opts.ServiceName,
		"name":         fmt.Sprintf("tick:%d", summary.Tick),
		"duration_ms":  float64(summary.Duration) / float64(time.Millisecond),
		"attributes": map[string]any{
			"tick":             summary.Tick,
			"systems_total":    summary.SystemsTotal,
			"systems_executed": summary.SystemsExecuted,
			"systems_skipped":  summary.SystemsSkipped,
		},
	}
	if summary.Error != nil {
		span["error"] = summary.Error.Error()
	}
	payload, err := json.Marshal(span)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = e.opts.Writer.Write(append(payload, '\n'))
}

// noopLogger is the Logger used when a caller doesn't supply one.
type noopLogger struct{}

func (noopLogger) With(key string, value any) Logger { return noopLogger{} }
func (noopLogger) Info(msg string, args ...any)       {}
func (noopLogger) Error(msg string, args ...any)      {}

// ZapLogger adapts a zap.SugaredLogger to the scheduler's Logger
// interface, so build diagnostics and tick summaries route through the
// same structured-logging pipeline the rest of a zap-instrumented service
// uses.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps an existing zap logger.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: l.Sugar()}
}

func (z *ZapLogger) With(key string, value any) Logger {
	return &ZapLogger{sugar: z.sugar.With(key, value)}
}

func (z *ZapLogger) Info(msg string, args ...any) {
	z.sugar.Infow(msg, args...)
}

func (z *ZapLogger) Error(msg string, args ...any) {
	z.sugar.Errorw(msg, args...)
}
