// Package stats tracks per-request-type time histograms and mirrors them
// to Prometheus.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"sync"

	"github.com/NVIDIA/swarm/cmn/debug"
	"github.com/NVIDIA/swarm/cmn/mono"
	"github.com/prometheus/client_golang/prometheus"
)

type (
	// the key itself survives Clear: "never seen" vs "zero since last clear"
	value struct {
		count       int64
		totalMicros int64
	}

	// Requests aggregates request durations keyed by request-type
	// identifier. Durations are measured in microseconds from the
	// monotonic clock.
	Requests struct {
		mu sync.Mutex
		m  map[string]*value

		durations *prometheus.HistogramVec
		finished  *prometheus.CounterVec
	}
)

func New(reg prometheus.Registerer) *Requests {
	s := &Requests{m: make(map[string]*value, 16)}
	s.durations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "swarm",
		Name:      "request_duration_seconds",
		Help:      "request duration by request type",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"request_type"})
	s.finished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swarm",
		Name:      "requests_finished_total",
		Help:      "finished requests by request type",
	}, []string{"request_type"})
	if reg != nil {
		reg.MustRegister(s.durations, s.finished)
	}
	return s
}

// RequestFinished records one duration sample; start must not be in the
// future (programming error).
func (s *Requests) RequestFinished(typ string, startMicros int64) {
	now := mono.NanoTime() / 1000
	debug.Assert(startMicros <= now, "start ", startMicros, " > now ", now)
	d := now - startMicros
	if d < 0 {
		d = 0
	}

	s.mu.Lock()
	v, ok := s.m[typ]
	if !ok {
		v = &value{}
		s.m[typ] = v
	}
	v.count++
	v.totalMicros += d
	s.mu.Unlock()

	s.durations.WithLabelValues(typ).Observe(float64(d) / 1e6)
	s.finished.WithLabelValues(typ).Inc()
}

func (s *Requests) Count(typ string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.m[typ]; ok {
		return v.count
	}
	return 0
}

func (s *Requests) TotalTimeMicros(typ string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.m[typ]; ok {
		return v.totalMicros
	}
	return 0
}

func (s *Requests) MeanTimeMicros(typ string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.m[typ]; ok && v.count > 0 {
		return v.totalMicros / v.count
	}
	return 0
}

// RequestHasOccurred distinguishes "never seen" from "zero since Clear".
func (s *Requests) RequestHasOccurred(typ string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[typ]
	return ok
}

// Clear zeroes the counters but preserves the keys.
func (s *Requests) Clear() {
	s.mu.Lock()
	for _, v := range s.m {
		v.count, v.totalMicros = 0, 0
	}
	s.mu.Unlock()
}
