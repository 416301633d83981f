package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"quotestream.com/pkg/metrics"
)

type Rule struct {
	// probes allowed through in Half-Open; 0 means 1
	MaxRequests uint32

	// Closed-state counting window
	Interval time.Duration

	// >0 enables a rolling window with buckets of this size
	BucketPeriod time.Duration

	// how long Open lasts before Half-Open
	Timeout time.Duration

	// trip on either condition
	TripConsecutiveFailures uint32
	TripFailureRate         float64 // 0~1
	TripMinRequests         uint32
}

// Manager hands out one breaker per named dependency call, created lazily.
type Manager struct {
	// Service labels the breaker metrics; set it before the first Get.
	Service string

	mu sync.RWMutex
	m  map[string]*gobreaker.CircuitBreaker[any]

	defaultRule Rule
	rules       map[string]Rule

	// errors for which expected reports true do not count as failures
	expected func(error) bool
}

func NewManager(defaultRule Rule, perName map[string]Rule, expected func(error) bool) *Manager {
	if defaultRule.MaxRequests == 0 {
		defaultRule.MaxRequests = 5
	}
	if defaultRule.Timeout <= 0 {
		defaultRule.Timeout = 3 * time.Second
	}
	if defaultRule.Interval <= 0 {
		defaultRule.Interval = 10 * time.Second
	}
	if defaultRule.TripConsecutiveFailures == 0 && defaultRule.TripFailureRate == 0 {
		defaultRule.TripConsecutiveFailures = 10
	}
	if defaultRule.TripMinRequests == 0 {
		defaultRule.TripMinRequests = 20
	}
	if expected == nil {
		expected = func(error) bool { return false }
	}

	return &Manager{
		Service:     "app",
		m:           make(map[string]*gobreaker.CircuitBreaker[any], 16),
		defaultRule: defaultRule,
		rules:       perName,
		expected:    expected,
	}
}

func (m *Manager) Get(name string) *gobreaker.CircuitBreaker[any] {
	m.mu.RLock()
	cb := m.m[name]
	m.mu.RUnlock()
	if cb != nil {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb = m.m[name]; cb != nil {
		return cb
	}

	rule, ok := m.rules[name]
	if !ok {
		rule = m.defaultRule
	}
	st := gobreaker.Settings{
		Name:         name,
		MaxRequests:  rule.MaxRequests,
		Interval:     rule.Interval,
		BucketPeriod: rule.BucketPeriod,
		Timeout:      rule.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if rule.TripConsecutiveFailures > 0 && c.ConsecutiveFailures >= rule.TripConsecutiveFailures {
				return true
			}
			if rule.TripFailureRate > 0 && c.Requests >= rule.TripMinRequests {
				return float64(c.TotalFailures)/float64(c.Requests) >= rule.TripFailureRate
			}
			return false
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || m.expected(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerState(m.Service, name, to.String())
		},
	}

	cb = gobreaker.NewCircuitBreaker[any](st)
	m.m[name] = cb
	metrics.SetBreakerState(m.Service, name, cb.State().String())
	return cb
}

// Do runs fn through the breaker for name. An open breaker returns
// gobreaker.ErrOpenState / ErrTooManyRequests without calling fn.
func Do[T any](m *Manager, name string, fn func() (T, error)) (T, error) {
	v, err := m.Get(name).Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if IsOpen(err) {
			metrics.CBRejectTotal.WithLabelValues(m.Service, name, err.Error()).Inc()
		}
		var zero T
		if v != nil {
			if t, ok := v.(T); ok {
				return t, err
			}
		}
		return zero, err
	}
	return v.(T), nil
}

// IsOpen reports whether err came from a breaker refusing the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
