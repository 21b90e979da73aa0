// Package usage counts requests per credential against a daily limit and
// raises at most one alert per threshold per day.
package usage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"harvest/internal/coord"
	"harvest/internal/metrics"
	"harvest/internal/notification"
)

type Level string

const (
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

type Threshold struct {
	Ratio float64
	Level Level
}

func DefaultThresholds() []Threshold {
	return []Threshold{
		{Ratio: 0.80, Level: LevelWarning},
		{Ratio: 0.95, Level: LevelCritical},
	}
}

type Alert struct {
	CredentialIndex int
	CredentialID    string
	Level           Level
	Threshold       float64
	RequestsToday   int64
	DailyLimit      int64
	Utilization     float64
	At              time.Time
}

type AlertSink interface {
	SendAlert(ctx context.Context, a Alert) error
}

// NotifierSink forwards alerts to the operator notification channels.
type NotifierSink struct {
	Notifier notification.Notifier
}

func (s NotifierSink) SendAlert(ctx context.Context, a Alert) error {
	if s.Notifier == nil {
		return nil
	}
	return s.Notifier.Notify(ctx, notification.Event{
		Name:  "usage_threshold",
		Level: string(a.Level),
		Message: fmt.Sprintf("credential %s at %.1f%% of daily limit (%d/%d)",
			a.CredentialID, a.Utilization*100, a.RequestsToday, a.DailyLimit),
		Fields: map[string]any{
			"credential_index": a.CredentialIndex,
			"threshold":        a.Threshold,
		},
	})
}

type Snapshot struct {
	CredentialIndex int       `json:"credential_index"`
	CredentialID    string    `json:"credential_id"`
	RequestsToday   int64     `json:"requests_today"`
	DailyLimit      int64     `json:"daily_limit"`
	Utilization     float64   `json:"utilization"`
	LastReset       time.Time `json:"last_reset"`
	AlertsSent      []Level   `json:"alerts_sent"`
}

type counter struct {
	id            string
	requestsToday int64
	dailyLimit    int64
	lastReset     time.Time
	alertsSent    map[Level]struct{}
}

func (c *counter) utilization() float64 {
	if c.dailyLimit <= 0 {
		return 0
	}
	return float64(c.requestsToday) / float64(c.dailyLimit)
}

type Monitor struct {
	mu         sync.Mutex
	counters   []*counter
	thresholds []Threshold

	sink AlertSink
	// delivering tracks alert batches sent off the request path.
	delivering sync.WaitGroup
	store      coord.Store
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Monitor)

func WithThresholds(ts []Threshold) Option {
	return func(m *Monitor) {
		if len(ts) > 0 {
			m.thresholds = append([]Threshold(nil), ts...)
		}
	}
}

func WithSink(s AlertSink) Option { return func(m *Monitor) { m.sink = s } }

// WithStore mirrors every request into api_usage:{credential_id}:{date} so
// the daily total is visible across worker processes.
func WithStore(s coord.Store) Option { return func(m *Monitor) { m.store = s } }

func WithLogger(l *zap.Logger) Option { return func(m *Monitor) { m.logger = l } }

func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

// WithCredentialIDs names the slots; the default id is the slot index.
func WithCredentialIDs(ids []string) Option {
	return func(m *Monitor) {
		for i, id := range ids {
			if i < len(m.counters) && id != "" {
				m.counters[i].id = id
			}
		}
	}
}

// NewMonitor creates one counter per entry of dailyLimits.
func NewMonitor(dailyLimits []int64, opts ...Option) *Monitor {
	m := &Monitor{
		thresholds: DefaultThresholds(),
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	m.counters = make([]*counter, len(dailyLimits))
	for i, lim := range dailyLimits {
		m.counters[i] = &counter{id: strconv.Itoa(i), dailyLimit: lim, alertsSent: map[Level]struct{}{}}
	}
	for _, opt := range opts {
		opt(m)
	}
	sort.Slice(m.thresholds, func(i, j int) bool { return m.thresholds[i].Ratio < m.thresholds[j].Ratio })
	now := m.now()
	for _, c := range m.counters {
		c.lastReset = now
	}
	return m
}

func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters)
}

// RecordRequest counts one dispatched request. An unknown index is logged and ignored.
func (m *Monitor) RecordRequest(ctx context.Context, index int) {
	m.mu.Lock()
	if index < 0 || index >= len(m.counters) {
		m.mu.Unlock()
		m.logger.Warn("usage record for unknown credential", zap.Int("credential_index", index))
		return
	}
	c := m.counters[index]
	c.requestsToday++
	id := c.id
	util := c.utilization()
	m.mu.Unlock()
	metrics.SetCredentialUtilization(id, util)

	if m.store != nil {
		now := m.now()
		if _, err := m.store.Increment(ctx, coord.UsageKey(id, now), 1, coord.UntilEndOfUTCDay(now)); err != nil {
			m.logger.Warn("usage mirror failed", zap.String("credential_id", id), zap.Error(err))
		}
	}
	m.CheckThresholds(ctx, index)
}

// CheckThresholds fires every crossed threshold that has not fired since the
// last reset and returns what it fired.
func (m *Monitor) CheckThresholds(ctx context.Context, index int) []Alert {
	m.mu.Lock()
	if index < 0 || index >= len(m.counters) {
		m.mu.Unlock()
		return nil
	}
	c := m.counters[index]
	util := c.utilization()
	var fired []Alert
	for _, th := range m.thresholds {
		if c.dailyLimit <= 0 || util < th.Ratio {
			continue
		}
		if _, sent := c.alertsSent[th.Level]; sent {
			continue
		}
		c.alertsSent[th.Level] = struct{}{}
		fired = append(fired, Alert{
			CredentialIndex: index,
			CredentialID:    c.id,
			Level:           th.Level,
			Threshold:       th.Ratio,
			RequestsToday:   c.requestsToday,
			DailyLimit:      c.dailyLimit,
			Utilization:     util,
			At:              m.now(),
		})
	}
	m.mu.Unlock()

	for _, a := range fired {
		m.logger.Warn("credential usage threshold crossed",
			zap.Int("credential_index", a.CredentialIndex),
			zap.String("level", string(a.Level)),
			zap.Int64("requests_today", a.RequestsToday),
			zap.Int64("daily_limit", a.DailyLimit),
		)
	}
	if m.sink != nil && len(fired) > 0 {
		// Sinks make network calls; the caller may be the trade consumer.
		m.delivering.Add(1)
		go m.deliver(context.WithoutCancel(ctx), fired)
	}
	return fired
}

func (m *Monitor) deliver(ctx context.Context, alerts []Alert) {
	defer m.delivering.Done()
	for _, a := range alerts {
		if err := m.sink.SendAlert(ctx, a); err != nil {
			m.logger.Warn("usage alert delivery failed", zap.Int("credential_index", a.CredentialIndex), zap.Error(err))
		}
	}
}

// Flush waits for alerts already handed to the sink.
func (m *Monitor) Flush() { m.delivering.Wait() }

// ResetDailyCounters zeroes every counter and clears fired alerts.
func (m *Monitor) ResetDailyCounters() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, c := range m.counters {
		c.requestsToday = 0
		c.lastReset = now
		c.alertsSent = map[Level]struct{}{}
		metrics.SetCredentialUtilization(c.id, 0)
	}
	m.logger.Info("usage counters reset", zap.Int("credentials", len(m.counters)))
}

func (m *Monitor) Usage(index int) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.counters) {
		return Snapshot{}, false
	}
	return m.snapshot(index), true
}

func (m *Monitor) AllUsage() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, len(m.counters))
	for i := range m.counters {
		out[i] = m.snapshot(i)
	}
	return out
}

func (m *Monitor) snapshot(i int) Snapshot {
	c := m.counters[i]
	sent := make([]Level, 0, len(c.alertsSent))
	for _, th := range m.thresholds {
		if _, ok := c.alertsSent[th.Level]; ok {
			sent = append(sent, th.Level)
		}
	}
	return Snapshot{
		CredentialIndex: i,
		CredentialID:    c.id,
		RequestsToday:   c.requestsToday,
		DailyLimit:      c.dailyLimit,
		Utilization:     c.utilization(),
		LastReset:       c.lastReset,
		AlertsSent:      sent,
	}
}
