// Package metrics provides Prometheus metrics for procctl sessions.
//
// A Collector observes the command runner, the poller and the teardown
// scope, and keeps enough local state to print an exit summary.
package metrics

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/influxdata/tdigest"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector manages all Prometheus metrics for a session.
type Collector struct {
	info             *prometheus.GaugeVec
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	startsTotal      *prometheus.CounterVec
	exitsTotal       *prometheus.CounterVec
	outputBytesTotal *prometheus.CounterVec
	teardownPasses   prometheus.Counter
	interruptsTotal  prometheus.Counter
	elapsedSeconds   prometheus.GaugeFunc

	// Timing
	startTime time.Time

	// For summary generation
	mu              sync.Mutex
	commands        int64
	failedCommands  int64
	started         int64
	exitCodes       map[string]int
	outputBytes     map[string]int64
	passes          int64
	interrupts      int64
	durationsDigest *tdigest.TDigest
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version string
	RunID   string
}

// NewCollector creates a collector registered with the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		startTime:       time.Now(),
		exitCodes:       make(map[string]int),
		outputBytes:     make(map[string]int64),
		durationsDigest: tdigest.NewWithCompression(100),

		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "procctl_info",
				Help: "Information about the session (value always 1)",
			},
			[]string{"version", "run_id"},
		),
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procctl_commands_total",
				Help: "Foreground commands finished, by mode and result",
			},
			[]string{"mode", "result"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "procctl_command_duration_seconds",
				Help:    "Wall time of foreground commands",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"mode"},
		),
		startsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procctl_process_starts_total",
				Help: "Background processes started",
			},
			[]string{"mode"},
		),
		exitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procctl_process_exits_total",
				Help: "Background process exits by category (success, error, signal)",
			},
			[]string{"category"},
		),
		outputBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procctl_output_bytes_total",
				Help: "Bytes drained from each named process",
			},
			[]string{"name"},
		),
		teardownPasses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "procctl_teardown_passes_total",
				Help: "Signal-and-close passes run during teardown",
			},
		),
		interruptsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "procctl_interrupts_total",
				Help: "Operator interrupts received",
			},
		),
	}

	c.elapsedSeconds = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "procctl_session_elapsed_seconds",
			Help: "Seconds since the session started",
		},
		func() float64 { return time.Since(c.startTime).Seconds() },
	)

	registry.MustRegister(
		c.info,
		c.commandsTotal,
		c.commandDuration,
		c.startsTotal,
		c.exitsTotal,
		c.outputBytesTotal,
		c.teardownPasses,
		c.interruptsTotal,
		c.elapsedSeconds,
	)

	c.info.WithLabelValues(cfg.Version, cfg.RunID).Set(1)

	return c
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// CommandFinished records a foreground command.
func (c *Collector) CommandFinished(mode string, code int, elapsed time.Duration) {
	result := "success"
	if code != 0 {
		result = "failure"
	}
	c.commandsTotal.WithLabelValues(mode, result).Inc()
	c.commandDuration.WithLabelValues(mode).Observe(elapsed.Seconds())

	c.mu.Lock()
	c.commands++
	if code != 0 {
		c.failedCommands++
	}
	c.durationsDigest.Add(elapsed.Seconds(), 1)
	c.mu.Unlock()
}

// ProcessStarted records a background process start.
func (c *Collector) ProcessStarted(mode string) {
	c.startsTotal.WithLabelValues(mode).Inc()

	c.mu.Lock()
	c.started++
	c.mu.Unlock()
}

// OutputBytes records bytes drained from a named process.
func (c *Collector) OutputBytes(name string, n int) {
	c.outputBytesTotal.WithLabelValues(name).Add(float64(n))

	c.mu.Lock()
	c.outputBytes[name] += int64(n)
	c.mu.Unlock()
}

// ProcessExited records a named process exit.
func (c *Collector) ProcessExited(name string, code int) {
	c.exitsTotal.WithLabelValues(exitCategory(code)).Inc()

	c.mu.Lock()
	c.exitCodes[name] = code
	c.mu.Unlock()
}

// TeardownPass records one teardown pass.
func (c *Collector) TeardownPass(pass, handles int) {
	c.teardownPasses.Inc()

	c.mu.Lock()
	c.passes++
	c.mu.Unlock()
}

// Interrupted records an operator interrupt.
func (c *Collector) Interrupted() {
	c.interruptsTotal.Inc()

	c.mu.Lock()
	c.interrupts++
	c.mu.Unlock()
}

func exitCategory(code int) string {
	switch {
	case code == 0:
		return "success"
	case code > 128:
		return "signal"
	default:
		return "error"
	}
}

// =============================================================================
// Summary Generation
// =============================================================================

// ProcessExit is one named process's final exit code.
type ProcessExit struct {
	Name        string
	Code        int
	OutputBytes int64
}

// Summary holds the data for generating an exit summary.
type Summary struct {
	Duration         time.Duration
	Commands         int64
	FailedCommands   int64
	ProcessesStarted int64
	Exits            []ProcessExit
	TeardownPasses   int64
	Interrupts       int64
	CommandP50       time.Duration
	CommandP95       time.Duration
	CommandP99       time.Duration
}

// GenerateSummary creates a summary of the session.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:         time.Since(c.startTime),
		Commands:         c.commands,
		FailedCommands:   c.failedCommands,
		ProcessesStarted: c.started,
		TeardownPasses:   c.passes,
		Interrupts:       c.interrupts,
	}

	names := make(map[string]bool)
	for name := range c.exitCodes {
		names[name] = true
	}
	for name := range c.outputBytes {
		names[name] = true
	}
	for name := range names {
		code, ok := c.exitCodes[name]
		if !ok {
			code = -1
		}
		s.Exits = append(s.Exits, ProcessExit{Name: name, Code: code, OutputBytes: c.outputBytes[name]})
	}
	sort.Slice(s.Exits, func(i, j int) bool { return s.Exits[i].Name < s.Exits[j].Name })

	if c.commands > 0 {
		s.CommandP50 = seconds(c.durationsDigest.Quantile(0.50))
		s.CommandP95 = seconds(c.durationsDigest.Quantile(0.95))
		s.CommandP99 = seconds(c.durationsDigest.Quantile(0.99))
	}

	return s
}

// ExitLabel renders an exit code for display; -1 means never observed.
func ExitLabel(code int) string {
	if code < 0 {
		return "running"
	}
	return strconv.Itoa(code)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
