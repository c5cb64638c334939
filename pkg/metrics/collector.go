package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tablestakes/game-session/pkg/balance"
	"github.com/tablestakes/game-session/pkg/interfaces"
)

var allStates = []interfaces.ConnectionState{
	interfaces.StateDisconnected,
	interfaces.StateConnecting,
	interfaces.StateConnected,
	interfaces.StateFailed,
}

// Collector implements the MetricsCollector interface
type Collector struct {
	mu sync.RWMutex

	// Resolved bets, oldest first
	bets    []interfaces.BetOutcome
	maxBets int

	lastQueue interfaces.QueueStats

	prometheusMetrics *PrometheusMetrics

	config *CollectorConfig
}

// CollectorConfig contains configuration for the metrics collector
type CollectorConfig struct {
	Namespace   string
	MaxBets     int
	WindowSizes []int
}

// DefaultCollectorConfig returns the collector defaults
func DefaultCollectorConfig() *CollectorConfig {
	return &CollectorConfig{
		Namespace:   "game_session",
		MaxBets:     1000,
		WindowSizes: []int{10, 50, 100},
	}
}

// PrometheusMetrics contains all Prometheus metric collectors
type PrometheusMetrics struct {
	// Connection metrics
	connectionState     *prometheus.GaugeVec
	reconnectAttempt    prometheus.Gauge
	reconnectsScheduled prometheus.Counter
	reconnectDelay      prometheus.Histogram
	sendFailures        prometheus.Counter
	framesDropped       prometheus.Counter

	// Queue metrics
	queueSize    prometheus.Gauge
	queueEvicted prometheus.Gauge
	queueExpired prometheus.Gauge

	// Balance metrics
	balance        prometheus.Gauge
	balanceSeq     prometheus.Gauge
	balanceUpdates *prometheus.CounterVec

	// Bet metrics
	betValidations *prometheus.CounterVec
	betsResolved   *prometheus.CounterVec
	winRate        *prometheus.GaugeVec
}

// NewCollector creates a collector registered with the default registry
func NewCollector(config *CollectorConfig) *Collector {
	return NewCollectorWithRegistry(config, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a new metrics collector with a custom Prometheus registry
func NewCollectorWithRegistry(config *CollectorConfig, registry prometheus.Registerer) *Collector {
	if config == nil {
		config = DefaultCollectorConfig()
	}
	if config.MaxBets <= 0 {
		config.MaxBets = DefaultCollectorConfig().MaxBets
	}

	collector := &Collector{
		bets:    make([]interfaces.BetOutcome, 0, config.MaxBets),
		maxBets: config.MaxBets,
		config:  config,
	}
	collector.initPrometheusMetrics(promauto.With(registry))
	return collector
}

func (c *Collector) initPrometheusMetrics(factory promauto.Factory) {
	ns := c.config.Namespace

	c.prometheusMetrics = &PrometheusMetrics{
		connectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "connection_state",
			Help:      "Current connection state (1 for the active state)",
		}, []string{"state"}),
		reconnectAttempt: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "reconnect_attempt",
			Help:      "Automatic reconnect attempts since the last successful open",
		}),
		reconnectsScheduled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "reconnects_scheduled_total",
			Help:      "Total number of automatic reconnects scheduled",
		}),
		reconnectDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "reconnect_delay_seconds",
			Help:      "Backoff delay before each automatic reconnect",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 30, 60},
		}),
		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "send_failures_total",
			Help:      "Total number of frames that failed to write",
		}),
		framesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "frames_dropped_total",
			Help:      "Total number of inbound frames that failed envelope validation",
		}),
		queueSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "queue_size",
			Help:      "Current outbound queue size",
		}),
		queueEvicted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "queue_evicted",
			Help:      "Outbound frames evicted because the queue was full",
		}),
		queueExpired: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "queue_expired",
			Help:      "Outbound frames discarded because they outlived the TTL",
		}),
		balance: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "balance",
			Help:      "Last applied account balance",
		}),
		balanceSeq: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "balance_seq",
			Help:      "Sequence number of the last applied balance",
		}),
		balanceUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "balance_updates_total",
			Help:      "Balance updates received by outcome",
		}, []string{"result"}),
		betValidations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "bet_validations_total",
			Help:      "Bet validation attempts by outcome",
		}, []string{"outcome"}),
		betsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "bets_resolved_total",
			Help:      "Resolved bets by outcome",
		}, []string{"outcome"}),
		winRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "win_rate",
			Help:      "Win rate over the most recent resolved bets by window size",
		}, []string{"window_size"}),
	}
}

// ObserveConnectionState records the current state and retry counter
func (c *Collector) ObserveConnectionState(state interfaces.ConnectionState, attempt int) {
	for _, s := range allStates {
		value := 0.0
		if s == state {
			value = 1
		}
		c.prometheusMetrics.connectionState.WithLabelValues(s.String()).Set(value)
	}
	c.prometheusMetrics.reconnectAttempt.Set(float64(attempt))
}

// ObserveReconnectScheduled records an automatic retry
func (c *Collector) ObserveReconnectScheduled(delay time.Duration) {
	c.prometheusMetrics.reconnectsScheduled.Inc()
	c.prometheusMetrics.reconnectDelay.Observe(delay.Seconds())
}

func (c *Collector) ObserveSendFailure() {
	c.prometheusMetrics.sendFailures.Inc()
}

func (c *Collector) ObserveFrameDropped() {
	c.prometheusMetrics.framesDropped.Inc()
}

// ObserveBalanceUpdate counts a balance push by what the synchronizer did with it
func (c *Collector) ObserveBalanceUpdate(result balance.Result) {
	c.prometheusMetrics.balanceUpdates.WithLabelValues(result.String()).Inc()
}

// ObserveBetValidation counts a lock attempt
func (c *Collector) ObserveBetValidation(err error) {
	outcome := "accepted"
	switch {
	case err == nil:
	case errors.Is(err, balance.ErrBetLocked):
		outcome = "locked"
	case errors.Is(err, balance.ErrInsufficientBalance):
		outcome = "insufficient_balance"
	default:
		outcome = "error"
	}
	c.prometheusMetrics.betValidations.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordBalance(value, seq uint64) {
	c.prometheusMetrics.balance.Set(float64(value))
	c.prometheusMetrics.balanceSeq.Set(float64(seq))
}

// RecordQueueStats mirrors outbound queue statistics
func (c *Collector) RecordQueueStats(stats interfaces.QueueStats) {
	c.mu.Lock()
	c.lastQueue = stats
	c.mu.Unlock()

	c.prometheusMetrics.queueSize.Set(float64(stats.CurrentSize))
	c.prometheusMetrics.queueEvicted.Set(float64(stats.EvictedCount))
	c.prometheusMetrics.queueExpired.Set(float64(stats.ExpiredCount))
}

// RecordBetOutcome records a resolved bet
func (c *Collector) RecordBetOutcome(outcome interfaces.BetOutcome) {
	c.mu.Lock()
	c.bets = append(c.bets, outcome)
	if len(c.bets) > c.maxBets {
		c.bets = c.bets[1:]
	}
	c.mu.Unlock()

	label := "lost"
	switch {
	case outcome.Rejected:
		label = "rejected"
	case outcome.Won:
		label = "won"
	}
	c.prometheusMetrics.betsResolved.WithLabelValues(label).Inc()

	c.updateRollingMetrics()
}

// GetBetStats summarizes the last windowSize resolved bets
func (c *Collector) GetBetStats(windowSize int) (*interfaces.BetStats, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := &interfaces.BetStats{
		WindowSize:  windowSize,
		LastUpdated: time.Now(),
	}

	start := len(c.bets) - windowSize
	if start < 0 {
		start = 0
	}

	settled := 0
	for _, bet := range c.bets[start:] {
		stats.TotalBets++
		if bet.Rejected {
			stats.Rejected++
			continue
		}
		settled++
		stats.TotalStaked += bet.Amount
		stats.TotalPayout += bet.Payout
		if bet.Won {
			stats.Won++
		} else {
			stats.Lost++
		}
	}

	if settled > 0 {
		stats.WinRate = float64(stats.Won) / float64(settled)
	}
	return stats, nil
}

// LastQueueStats returns the most recently recorded queue statistics
func (c *Collector) LastQueueStats() interfaces.QueueStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastQueue
}

// GetRecentBets returns up to n of the most recent resolved bets, newest last
func (c *Collector) GetRecentBets(n int) []interfaces.BetOutcome {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start := len(c.bets) - n
	if start < 0 {
		start = 0
	}
	out := make([]interfaces.BetOutcome, len(c.bets)-start)
	copy(out, c.bets[start:])
	return out
}

func (c *Collector) updateRollingMetrics() {
	for _, window := range c.config.WindowSizes {
		stats, err := c.GetBetStats(window)
		if err != nil {
			continue
		}
		c.prometheusMetrics.winRate.WithLabelValues(strconv.Itoa(window)).Set(stats.WinRate)
	}
}
