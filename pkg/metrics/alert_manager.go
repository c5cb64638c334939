package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tablestakes/game-session/pkg/interfaces"
)

var ErrAlertNotFound = errors.New("alert not found")

// Rule ids used by DefaultAlertRules
const (
	RuleConnectionFailed = "connection_failed"
	RuleReconnectStorm   = "reconnect_storm"
	RuleLowWinRate       = "low_win_rate"
	RuleQueuePressure    = "queue_pressure"
)

// AlertManager evaluates rules against the session and the collector and
// keeps at most one active alert per rule. An alert resolves itself once its
// condition clears.
type AlertManager struct {
	mu sync.RWMutex

	alerts map[string]*interfaces.Alert
	// rule id -> id of its unresolved alert
	active     map[string]string
	alertRules map[string]*interfaces.AlertRule

	config    *AlertManagerConfig
	status    interfaces.SessionStatusSource
	collector *Collector
	client    *http.Client
	logger    *zap.Logger

	alertChan chan *interfaces.Alert
	stopChan  chan struct{}
	running   bool

	now func() time.Time
}

// AlertManagerConfig contains configuration for the alert manager
type AlertManagerConfig struct {
	MaxAlerts      int
	AlertRetention time.Duration

	// Alerts are POSTed as JSON when set
	WebhookURL     string
	WebhookTimeout time.Duration

	CheckInterval   time.Duration
	CleanupInterval time.Duration
}

// AlertThresholds parameterises DefaultAlertRules
type AlertThresholds struct {
	ReconnectAttempts int
	MinWinRate        float64
	WinRateWindow     int
	QueueFill         float64
}

// DefaultAlertManagerConfig returns the alert manager defaults
func DefaultAlertManagerConfig() *AlertManagerConfig {
	return &AlertManagerConfig{
		MaxAlerts:       1000,
		AlertRetention:  24 * time.Hour,
		WebhookTimeout:  5 * time.Second,
		CheckInterval:   10 * time.Second,
		CleanupInterval: time.Hour,
	}
}

// NewAlertManager creates a new alert manager
func NewAlertManager(config *AlertManagerConfig, status interfaces.SessionStatusSource, collector *Collector, logger *zap.Logger) *AlertManager {
	if config == nil {
		config = DefaultAlertManagerConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AlertManager{
		alerts:     make(map[string]*interfaces.Alert),
		active:     make(map[string]string),
		alertRules: make(map[string]*interfaces.AlertRule),
		config:     config,
		status:     status,
		collector:  collector,
		client:     &http.Client{Timeout: config.WebhookTimeout},
		logger:     logger.With(zap.String("component", "alerts")),
		alertChan:  make(chan *interfaces.Alert, 100),
		stopChan:   make(chan struct{}),
		now:        time.Now,
	}
}

// DefaultAlertRules builds the standard rule set. Zero thresholds disable the
// matching rule.
func DefaultAlertRules(t AlertThresholds) []*interfaces.AlertRule {
	rules := []*interfaces.AlertRule{{
		ID:      RuleConnectionFailed,
		Name:    "Connection failed",
		Type:    interfaces.AlertTypeConnection,
		Enabled: true,
	}}
	if t.ReconnectAttempts > 0 {
		rules = append(rules, &interfaces.AlertRule{
			ID:        RuleReconnectStorm,
			Name:      "Repeated reconnects",
			Type:      interfaces.AlertTypeReconnect,
			Threshold: float64(t.ReconnectAttempts),
			Enabled:   true,
		})
	}
	if t.MinWinRate > 0 && t.WinRateWindow > 0 {
		rules = append(rules, &interfaces.AlertRule{
			ID:         RuleLowWinRate,
			Name:       "Low win rate",
			Type:       interfaces.AlertTypeWinRate,
			Threshold:  t.MinWinRate,
			WindowSize: t.WinRateWindow,
			Enabled:    true,
		})
	}
	if t.QueueFill > 0 {
		rules = append(rules, &interfaces.AlertRule{
			ID:        RuleQueuePressure,
			Name:      "Outbound queue filling up",
			Type:      interfaces.AlertTypeQueue,
			Threshold: t.QueueFill,
			Enabled:   true,
		})
	}
	return rules
}

// Start starts the alert manager background processes
func (am *AlertManager) Start(ctx context.Context) error {
	am.mu.Lock()
	if am.running {
		am.mu.Unlock()
		return fmt.Errorf("alert manager is already running")
	}
	am.running = true
	am.mu.Unlock()

	go am.processAlerts(ctx)
	go am.checkRules(ctx)
	go am.cleanup(ctx)

	return nil
}

// Stop stops the alert manager
func (am *AlertManager) Stop() error {
	am.mu.Lock()
	defer am.mu.Unlock()

	if !am.running {
		return fmt.Errorf("alert manager is not running")
	}

	close(am.stopChan)
	am.running = false

	return nil
}

// RegisterAlertRule adds or replaces a rule
func (am *AlertManager) RegisterAlertRule(rule *interfaces.AlertRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("alert rule requires an id")
	}

	am.mu.Lock()
	defer am.mu.Unlock()
	am.alertRules[rule.ID] = rule
	return nil
}

// SendAlert stores an alert and hands it to delivery
func (am *AlertManager) SendAlert(ctx context.Context, alert *interfaces.Alert) error {
	if alert == nil {
		return fmt.Errorf("alert cannot be nil")
	}

	am.mu.Lock()
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = am.now()
	}
	if am.config.MaxAlerts > 0 && len(am.alerts) >= am.config.MaxAlerts {
		am.evictOldestAlert()
	}
	am.alerts[alert.ID] = alert
	if alert.RuleID != "" {
		am.active[alert.RuleID] = alert.ID
	}
	am.mu.Unlock()

	select {
	case am.alertChan <- alert:
	case <-ctx.Done():
		return ctx.Err()
	default:
		am.logger.Warn("alert delivery backlog full", zap.String("alert_id", alert.ID))
	}
	return nil
}

// GetActiveAlerts returns unresolved alerts, oldest first
func (am *AlertManager) GetActiveAlerts() []interfaces.Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	active := make([]interfaces.Alert, 0, len(am.alerts))
	for _, alert := range am.alerts {
		if alert.ResolvedAt == nil {
			active = append(active, *alert)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active
}

// AcknowledgeAlert acknowledges an alert
func (am *AlertManager) AcknowledgeAlert(alertID string) error {
	am.mu.Lock()
	defer am.mu.Unlock()

	alert, exists := am.alerts[alertID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
	}

	now := am.now()
	alert.AcknowledgedAt = &now
	return nil
}

// ResolveAlert resolves an alert
func (am *AlertManager) ResolveAlert(alertID string) error {
	am.mu.Lock()
	defer am.mu.Unlock()

	alert, exists := am.alerts[alertID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
	}
	am.resolveLocked(alert)
	return nil
}

func (am *AlertManager) resolveLocked(alert *interfaces.Alert) {
	if alert.ResolvedAt != nil {
		return
	}
	now := am.now()
	alert.ResolvedAt = &now
	if am.active[alert.RuleID] == alert.ID {
		delete(am.active, alert.RuleID)
	}
}

// Evaluate runs every enabled rule once
func (am *AlertManager) Evaluate(ctx context.Context) {
	am.mu.RLock()
	rules := make([]*interfaces.AlertRule, 0, len(am.alertRules))
	for _, rule := range am.alertRules {
		if rule.Enabled {
			rules = append(rules, rule)
		}
	}
	am.mu.RUnlock()

	for _, rule := range rules {
		alert, firing := am.evaluateRule(rule)
		if firing {
			am.raise(ctx, rule, alert)
		} else {
			am.clear(rule)
		}
	}
}

func (am *AlertManager) raise(ctx context.Context, rule *interfaces.AlertRule, alert *interfaces.Alert) {
	am.mu.RLock()
	_, already := am.active[rule.ID]
	am.mu.RUnlock()
	if already {
		return
	}

	alert.RuleID = rule.ID
	alert.Type = rule.Type
	if err := am.SendAlert(ctx, alert); err != nil {
		am.logger.Debug("alert not sent", zap.String("rule_id", rule.ID), zap.Error(err))
	}
}

func (am *AlertManager) clear(rule *interfaces.AlertRule) {
	am.mu.Lock()
	defer am.mu.Unlock()

	id, ok := am.active[rule.ID]
	if !ok {
		return
	}
	am.resolveLocked(am.alerts[id])
	am.logger.Info("alert resolved", zap.String("rule_id", rule.ID), zap.String("alert_id", id))
}

// evaluateRule reports whether rule currently fires, with the alert to raise
func (am *AlertManager) evaluateRule(rule *interfaces.AlertRule) (*interfaces.Alert, bool) {
	switch rule.Type {
	case interfaces.AlertTypeConnection:
		return am.evaluateConnectionRule()
	case interfaces.AlertTypeReconnect:
		return am.evaluateReconnectRule(rule)
	case interfaces.AlertTypeWinRate:
		return am.evaluateWinRateRule(rule)
	case interfaces.AlertTypeQueue:
		return am.evaluateQueueRule(rule)
	}
	return nil, false
}

func (am *AlertManager) evaluateConnectionRule() (*interfaces.Alert, bool) {
	if am.status == nil || am.status.ConnectionState() != interfaces.StateFailed {
		return nil, false
	}
	return &interfaces.Alert{
		Severity: interfaces.AlertSeverityCritical,
		Message:  "Connection failed; manual reconnect required",
	}, true
}

func (am *AlertManager) evaluateReconnectRule(rule *interfaces.AlertRule) (*interfaces.Alert, bool) {
	if am.status == nil {
		return nil, false
	}
	attempt := float64(am.status.ReconnectAttempt())
	if attempt < rule.Threshold {
		return nil, false
	}
	return &interfaces.Alert{
		Severity: am.getSeverityForThreshold(attempt, rule.Threshold),
		Message:  fmt.Sprintf("Reconnect attempt %.0f reached threshold %.0f", attempt, rule.Threshold),
		Details: map[string]interface{}{
			"attempt":   attempt,
			"threshold": rule.Threshold,
		},
	}, true
}

// evaluateWinRateRule only fires once the window is full of settled bets
func (am *AlertManager) evaluateWinRateRule(rule *interfaces.AlertRule) (*interfaces.Alert, bool) {
	if am.collector == nil {
		return nil, false
	}
	stats, err := am.collector.GetBetStats(rule.WindowSize)
	if err != nil {
		return nil, false
	}
	settled := stats.Won + stats.Lost
	if settled < rule.WindowSize || stats.WinRate >= rule.Threshold {
		return nil, false
	}
	return &interfaces.Alert{
		Severity: interfaces.AlertSeverityWarning,
		Message: fmt.Sprintf("Win rate %.2f%% below threshold %.2f%% over %d bets",
			stats.WinRate*100, rule.Threshold*100, rule.WindowSize),
		Details: map[string]interface{}{
			"win_rate":     stats.WinRate,
			"threshold":    rule.Threshold,
			"window_size":  rule.WindowSize,
			"total_staked": stats.TotalStaked,
			"total_payout": stats.TotalPayout,
		},
	}, true
}

func (am *AlertManager) evaluateQueueRule(rule *interfaces.AlertRule) (*interfaces.Alert, bool) {
	if am.collector == nil {
		return nil, false
	}
	stats := am.collector.LastQueueStats()
	if stats.MaxSize <= 0 {
		return nil, false
	}
	fill := float64(stats.CurrentSize) / float64(stats.MaxSize)
	if fill < rule.Threshold {
		return nil, false
	}
	return &interfaces.Alert{
		Severity: am.getSeverityForThreshold(fill, rule.Threshold),
		Message:  fmt.Sprintf("Outbound queue %d/%d full", stats.CurrentSize, stats.MaxSize),
		Details: map[string]interface{}{
			"size":    stats.CurrentSize,
			"max":     stats.MaxSize,
			"evicted": stats.EvictedCount,
		},
	}, true
}

// getSeverityForThreshold grades how far currentValue overshoots threshold
func (am *AlertManager) getSeverityForThreshold(currentValue, threshold float64) interfaces.AlertSeverity {
	if threshold <= 0 {
		return interfaces.AlertSeverityWarning
	}
	ratio := currentValue / threshold

	if ratio >= 2.0 {
		return interfaces.AlertSeverityCritical
	} else if ratio >= 1.5 {
		return interfaces.AlertSeverityError
	}
	return interfaces.AlertSeverityWarning
}

// processAlerts delivers raised alerts
func (am *AlertManager) processAlerts(ctx context.Context) {
	for {
		select {
		case alert := <-am.alertChan:
			am.handleAlert(ctx, alert)
		case <-am.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (am *AlertManager) handleAlert(ctx context.Context, alert *interfaces.Alert) {
	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("rule_id", alert.RuleID),
		zap.String("severity", string(alert.Severity)),
		zap.Any("details", alert.Details),
	}
	switch alert.Severity {
	case interfaces.AlertSeverityCritical, interfaces.AlertSeverityError:
		am.logger.Error(alert.Message, fields...)
	default:
		am.logger.Warn(alert.Message, fields...)
	}

	if am.config.WebhookURL != "" {
		if err := am.sendWebhook(ctx, alert); err != nil {
			am.logger.Warn("alert webhook failed", zap.String("alert_id", alert.ID), zap.Error(err))
		}
	}
}

func (am *AlertManager) sendWebhook(ctx context.Context, alert *interfaces.Alert) error {
	am.mu.RLock()
	body, err := json.Marshal(alert)
	am.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, am.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := am.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// checkRules periodically checks alert rules
func (am *AlertManager) checkRules(ctx context.Context) {
	ticker := time.NewTicker(am.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			am.Evaluate(ctx)
		case <-am.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// cleanup periodically drops resolved alerts past retention
func (am *AlertManager) cleanup(ctx context.Context) {
	ticker := time.NewTicker(am.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			am.cleanupOldAlerts()
		case <-am.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (am *AlertManager) cleanupOldAlerts() {
	am.mu.Lock()
	defer am.mu.Unlock()

	cutoff := am.now().Add(-am.config.AlertRetention)
	for id, alert := range am.alerts {
		if alert.ResolvedAt != nil && alert.CreatedAt.Before(cutoff) {
			delete(am.alerts, id)
		}
	}
}

// evictOldestAlert removes the oldest alert to maintain size limit
func (am *AlertManager) evictOldestAlert() {
	var oldestID string
	var oldestTime time.Time

	for id, alert := range am.alerts {
		if oldestID == "" || alert.CreatedAt.Before(oldestTime) {
			oldestID = id
			oldestTime = alert.CreatedAt
		}
	}

	if oldestID != "" {
		if alert := am.alerts[oldestID]; am.active[alert.RuleID] == oldestID {
			delete(am.active, alert.RuleID)
		}
		delete(am.alerts, oldestID)
	}
}
